package notify_test

import (
	"context"
	"testing"

	"github.com/e2eforge/forge/pkg/notify"
	"github.com/stretchr/testify/assert"
)

func TestNewReturnsNilWhenTokenEmpty(t *testing.T) {
	svc := notify.New(notify.Config{Token: "", Channel: "C123"})
	assert.Nil(t, svc)
}

func TestNewReturnsNilWhenChannelEmpty(t *testing.T) {
	svc := notify.New(notify.Config{Token: "xoxb-test", Channel: ""})
	assert.Nil(t, svc)
}

func TestNewReturnsServiceWhenConfigured(t *testing.T) {
	svc := notify.New(notify.Config{Token: "xoxb-test", Channel: "C123", DashboardURL: "https://example.com"})
	assert.NotNil(t, svc)
}

func TestNilServiceMethodsAreNoOps(t *testing.T) {
	var svc *notify.Service

	assert.NotPanics(t, func() {
		svc.NotifyHITLEscalated(context.Background(), notify.HITLEscalatedInput{TaskID: "t-1"})
	})
	assert.NotPanics(t, func() {
		svc.NotifyBudgetExceeded(context.Background(), notify.BudgetExceededInput{Window: "daily"})
	})
}
