package hitl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2eforge/forge/pkg/hitl"
	"github.com/e2eforge/forge/pkg/model"
)

type fakeStore struct {
	items    []model.HITLItem
	resolved map[string]model.HITLResolution
}

func (f *fakeStore) Create(_ context.Context, item model.HITLItem) error {
	f.items = append(f.items, item)
	return nil
}

func (f *fakeStore) ListPending(_ context.Context) ([]model.HITLItem, error) {
	return f.items, nil
}

func (f *fakeStore) Resolve(_ context.Context, taskID string, resolution model.HITLResolution) error {
	if f.resolved == nil {
		f.resolved = map[string]model.HITLResolution{}
	}
	f.resolved[taskID] = resolution
	return nil
}

func TestQueueOrdersByPriorityThenAttempts(t *testing.T) {
	store := &fakeStore{items: []model.HITLItem{
		{TaskID: "low", Priority: 0.25, Attempts: 5},
		{TaskID: "high", Priority: 0.85, Attempts: 1},
		{TaskID: "tie-a", Priority: 0.5, Attempts: 1},
		{TaskID: "tie-b", Priority: 0.5, Attempts: 3},
	}}
	svc := hitl.NewService(store)

	queue, err := svc.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 4)
	assert.Equal(t, "high", queue[0].TaskID)
	assert.Equal(t, "tie-b", queue[1].TaskID)
	assert.Equal(t, "tie-a", queue[2].TaskID)
	assert.Equal(t, "low", queue[3].TaskID)
}

func TestResolveRejectsMissingRootCause(t *testing.T) {
	store := &fakeStore{}
	svc := hitl.NewService(store)

	err := svc.Resolve(context.Background(), "t1", model.HITLResolution{FixStrategy: "patched selector"})
	assert.Error(t, err)
}

func TestResolveRejectsMissingFixStrategy(t *testing.T) {
	store := &fakeStore{}
	svc := hitl.NewService(store)

	err := svc.Resolve(context.Background(), "t1", model.HITLResolution{RootCause: "stale selector"})
	assert.Error(t, err)
}

func TestResolveRejectsEmptyTaskID(t *testing.T) {
	store := &fakeStore{}
	svc := hitl.NewService(store)

	err := svc.Resolve(context.Background(), "", model.HITLResolution{RootCause: "x", FixStrategy: "y"})
	assert.Error(t, err)
}

func TestResolvePersistsWellFormedResolution(t *testing.T) {
	store := &fakeStore{}
	svc := hitl.NewService(store)

	res := model.HITLResolution{RootCause: "stale selector", FixStrategy: "switch to data-testid", Severity: "medium", HumanNotes: "confirmed in staging"}
	err := svc.Resolve(context.Background(), "t1", res)
	require.NoError(t, err)
	assert.Equal(t, res, store.resolved["t1"])
}

func TestScoreEscalatesHippocraticViolationToHigh(t *testing.T) {
	assert.Equal(t, 0.85, hitl.Score(1, false, "hippocratic oath violated: new failures introduced"))
}

func TestScoreHonorsHighPrioritySlot(t *testing.T) {
	assert.Equal(t, 0.85, hitl.Score(0, true, "repair bound exhausted"))
}

func TestScoreEscalatesByAttemptCount(t *testing.T) {
	assert.Equal(t, 0.25, hitl.Score(0, false, "generator exhausted retries"))
	assert.Equal(t, 0.5, hitl.Score(1, false, "repair bound exhausted"))
	assert.Equal(t, 0.85, hitl.Score(3, false, "repair bound exhausted"))
}
