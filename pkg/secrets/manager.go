// Package secrets manages per-name credential slots with primary and
// optional secondary values during a rotation overlap window, per
// spec §3 Secret Slot / §4 substrate / §7 propagation policy ("primary
// key failure causes a single-attempt retry on secondary").
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e2eforge/forge/pkg/model"
)

// Source resolves a named secret's current primary/secondary values,
// e.g. from environment variables or a vault. Grounded on the
// teacher's envexpand.go convention of resolving credentials from the
// process environment rather than embedding a secret-store client.
type Source interface {
	// Lookup returns the current primary value and, if one is active
	// during rotation overlap, the secondary value.
	Lookup(ctx context.Context, name string) (primary, secondary string, err error)
}

// EnvSource resolves secrets from environment variables named
// "<NAME>_PRIMARY" and "<NAME>_SECONDARY".
type EnvSource struct {
	Lookupenv func(key string) (string, bool)
}

func (s EnvSource) Lookup(_ context.Context, name string) (string, string, error) {
	lookup := s.Lookupenv
	if lookup == nil {
		return "", "", fmt.Errorf("secrets: no lookup function configured")
	}
	primary, ok := lookup(name + "_PRIMARY")
	if !ok || primary == "" {
		return "", "", fmt.Errorf("secrets: %s_PRIMARY not set", name)
	}
	secondary, _ := lookup(name + "_SECONDARY")
	return primary, secondary, nil
}

// Manager tracks the active SecretSlot for each named credential and
// implements the primary/secondary fallback + rotation-overlap rules.
type Manager struct {
	source          Source
	rotationOverlap time.Duration

	mu    sync.RWMutex
	slots map[string]*model.SecretSlot
}

// New constructs a Manager. rotationOverlap is how long, once a
// secondary is observed alongside a primary, both are accepted before
// the secondary is expected to have fully replaced the primary.
func New(source Source, rotationOverlap time.Duration) *Manager {
	if rotationOverlap == 0 {
		rotationOverlap = 24 * time.Hour
	}
	return &Manager{
		source:          source,
		rotationOverlap: rotationOverlap,
		slots:           make(map[string]*model.SecretSlot),
	}
}

// Refresh re-reads a named secret's primary/secondary values from the
// source and updates its rotation deadline. Call periodically (or on
// a schedule matching the credential provider's rotation cadence).
func (m *Manager) Refresh(ctx context.Context, name string) error {
	primary, secondary, err := m.source.Lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("refresh secret %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, had := m.slots[name]
	deadline := time.Time{}
	if secondary != "" {
		if had && existing.Secondary == secondary && !existing.RotationDeadline.IsZero() {
			deadline = existing.RotationDeadline
		} else {
			deadline = time.Now().Add(m.rotationOverlap)
		}
	}

	m.slots[name] = &model.SecretSlot{
		Name:             name,
		Primary:          primary,
		Secondary:        secondary,
		RotationDeadline: deadline,
	}
	return nil
}

// Call invokes fn with the current primary value for name. If fn
// fails and a secondary value is active (within the rotation
// overlap), Call retries exactly once with the secondary, per spec
// §7's single-attempt fallback policy.
func (m *Manager) Call(ctx context.Context, name string, fn func(ctx context.Context, credential string) error) error {
	m.mu.RLock()
	slot, ok := m.slots[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("secrets: slot %q not loaded, call Refresh first", name)
	}

	primaryErr := fn(ctx, slot.Primary)
	if primaryErr == nil {
		return nil
	}

	if slot.Secondary == "" || (!slot.RotationDeadline.IsZero() && time.Now().After(slot.RotationDeadline)) {
		return primaryErr
	}

	slog.Warn("secret primary failed, retrying once with secondary", "name", name, "error", primaryErr)
	if err := fn(ctx, slot.Secondary); err != nil {
		return fmt.Errorf("primary and secondary both failed for %q: primary=%v secondary=%w", name, primaryErr, err)
	}
	return nil
}

// Slot returns a copy of the current slot state for name, for
// diagnostics; returns false if the secret has not been loaded.
func (m *Manager) Slot(name string) (model.SecretSlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[name]
	if !ok {
		return model.SecretSlot{}, false
	}
	return *slot, true
}
