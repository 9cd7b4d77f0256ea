// Package store holds shared test scaffolding for integration tests
// against a real Postgres instance.
package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/e2eforge/forge/pkg/store"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestClient creates a test store.Client.
// In CI (when CI_DATABASE_URL is set): connects to an external
// PostgreSQL service container. In local dev: spins up a
// testcontainer with PostgreSQL. Cleaned up automatically at test end.
func NewTestClient(t *testing.T) *store.Client {
	ctx := context.Background()

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn == "" {
		t.Log("using testcontainers for postgres")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("using external postgres from CI_DATABASE_URL")
	}

	client, err := store.NewClient(ctx, store.Config{DSN: dsn, MaxConns: 5, MigrationsTable: "schema_migrations"})
	require.NoError(t, err)

	t.Cleanup(client.Close)
	return client
}
