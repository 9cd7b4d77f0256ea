// Package hitl is the reviewer-facing surface over the human-in-the-loop
// queue (spec §3 HITL Item, §6 HITL queue item schema). pkg/router writes
// escalated items directly through its own narrowed store interface;
// this package is what a reviewer UI or API handler calls to list,
// score, and resolve them, grounded on the teacher's pkg/runbook
// Service — a thin orchestration layer over a single repository.
package hitl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/model"
)

// Store is the persistence surface this package needs. *store.HITLRepository
// satisfies it; tests substitute a fake.
type Store interface {
	Create(ctx context.Context, item model.HITLItem) error
	ListPending(ctx context.Context) ([]model.HITLItem, error)
	Resolve(ctx context.Context, taskID string, resolution model.HITLResolution) error
}

// Service lists and resolves escalated tasks for a human reviewer.
type Service struct {
	store Store
}

// NewService builds a Service over store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Queue returns pending items ordered highest priority first, breaking
// ties by attempt count (a task that has burned more retries surfaces
// first among equal-priority items).
func (s *Service) Queue(ctx context.Context) ([]model.HITLItem, error) {
	items, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending hitl items: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].Attempts > items[j].Attempts
	})
	return items, nil
}

// Resolve validates and persists a reviewer's disposition of an
// escalated task. RootCause and FixStrategy are required: a resolution
// without them tells a future reader nothing about what happened.
func (s *Service) Resolve(ctx context.Context, taskID string, resolution model.HITLResolution) error {
	if strings.TrimSpace(taskID) == "" {
		return apperr.New(apperr.KindInput, "task id is required", nil)
	}
	if strings.TrimSpace(resolution.RootCause) == "" {
		return apperr.New(apperr.KindInput, "resolution requires a root_cause", nil)
	}
	if strings.TrimSpace(resolution.FixStrategy) == "" {
		return apperr.New(apperr.KindInput, "resolution requires a fix_strategy", nil)
	}
	if err := s.store.Resolve(ctx, taskID, resolution); err != nil {
		return fmt.Errorf("resolve hitl item %s: %w", taskID, err)
	}
	return nil
}

// Severity buckets used by Score; mirrors the "priority=high" language
// scenario S4 uses informally, mapped onto the schema's [0,1] float.
const (
	priorityLow    = 0.25
	priorityMedium = 0.5
	priorityHigh   = 0.85
)

// Score computes the [0,1] priority an escalation should carry, given
// how many attempts were burned before escalation, whether the intent
// requested high_priority handling, and the reason the router gave up.
// A Hippocratic-oath violation (a repair that introduced a new
// regression) always escalates at high priority regardless of attempt
// count, since it signals the fix itself made things worse.
func Score(attempts int, highPriority bool, reason string) float64 {
	if strings.Contains(strings.ToLower(reason), "hippocratic") || strings.Contains(strings.ToLower(reason), "regression") {
		return priorityHigh
	}
	if highPriority {
		return priorityHigh
	}
	switch {
	case attempts >= 3:
		return priorityHigh
	case attempts >= 1:
		return priorityMedium
	default:
		return priorityLow
	}
}
