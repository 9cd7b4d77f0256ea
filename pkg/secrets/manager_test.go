package secrets_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e2eforge/forge/pkg/secrets"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	primary, secondary string
}

func (f fakeSource) Lookup(_ context.Context, _ string) (string, string, error) {
	return f.primary, f.secondary, nil
}

func TestCallUsesPrimaryWhenItSucceeds(t *testing.T) {
	mgr := secrets.New(fakeSource{primary: "p1", secondary: "s1"}, time.Hour)
	require.NoError(t, mgr.Refresh(context.Background(), "anthropic"))

	var used string
	err := mgr.Call(context.Background(), "anthropic", func(_ context.Context, credential string) error {
		used = credential
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "p1", used)
}

func TestCallFallsBackToSecondaryOnce(t *testing.T) {
	mgr := secrets.New(fakeSource{primary: "p1", secondary: "s1"}, time.Hour)
	require.NoError(t, mgr.Refresh(context.Background(), "anthropic"))

	var calls []string
	err := mgr.Call(context.Background(), "anthropic", func(_ context.Context, credential string) error {
		calls = append(calls, credential)
		if credential == "p1" {
			return errors.New("auth failed")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "s1"}, calls)
}

func TestCallFailsWhenBothPrimaryAndSecondaryFail(t *testing.T) {
	mgr := secrets.New(fakeSource{primary: "p1", secondary: "s1"}, time.Hour)
	require.NoError(t, mgr.Refresh(context.Background(), "anthropic"))

	err := mgr.Call(context.Background(), "anthropic", func(_ context.Context, _ string) error {
		return errors.New("auth failed")
	})
	require.Error(t, err)
}

func TestCallDoesNotFallBackPastRotationDeadline(t *testing.T) {
	mgr := secrets.New(fakeSource{primary: "p1", secondary: "s1"}, -time.Second)
	require.NoError(t, mgr.Refresh(context.Background(), "anthropic"))

	var calls int
	err := mgr.Call(context.Background(), "anthropic", func(_ context.Context, _ string) error {
		calls++
		return errors.New("auth failed")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestCallWithoutSecondaryReturnsPrimaryError(t *testing.T) {
	mgr := secrets.New(fakeSource{primary: "p1"}, time.Hour)
	require.NoError(t, mgr.Refresh(context.Background(), "anthropic"))

	err := mgr.Call(context.Background(), "anthropic", func(_ context.Context, _ string) error {
		return errors.New("boom")
	})
	require.ErrorContains(t, err, "boom")
}
