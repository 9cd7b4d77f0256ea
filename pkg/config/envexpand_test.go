package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "braced substitution",
			input: "dsn: ${DB_HOST}:${DB_PORT}",
			env:   map[string]string{"DB_HOST": "localhost", "DB_PORT": "5432"},
			want:  "dsn: localhost:5432",
		},
		{
			name:  "bare dollar substitution",
			input: "token: $SLACK_TOKEN",
			env:   map[string]string{"SLACK_TOKEN": "xoxb-1"},
			want:  "token: xoxb-1",
		},
		{
			name:  "missing variable expands to empty",
			input: "key: ${MISSING}",
			env:   map[string]string{},
			want:  "key: ",
		},
		{
			name:  "no variables is a no-op",
			input: "static: value",
			env:   map[string]string{},
			want:  "static: value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}
