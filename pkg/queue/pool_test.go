package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/config"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/e2eforge/forge/pkg/queue"
)

type fakeStore struct {
	mu         sync.Mutex
	pending    []*model.Task
	claimed    []string
	failed     map[string]string
	heartbeats int32
}

func newFakeStore(tasks ...*model.Task) *fakeStore {
	return &fakeStore{pending: tasks, failed: map[string]string{}}
}

func (f *fakeStore) ClaimNext(_ context.Context, podID string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, apperr.ErrNotFound
	}
	t := f.pending[0]
	f.pending = f.pending[1:]
	t.OwnerPod = podID
	f.claimed = append(f.claimed, t.ID)
	return t, nil
}

func (f *fakeStore) Heartbeat(_ context.Context, _ string) error {
	atomic.AddInt32(&f.heartbeats, 1)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, taskID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[taskID] = reason
	return nil
}

func (f *fakeStore) ListOrphans(_ context.Context, _ time.Time) ([]*model.Task, error) {
	return nil, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	err      error
	delay    time.Duration
	block    chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, taskID string) error {
	f.mu.Lock()
	f.executed = append(f.executed, taskID)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func fastCfg() config.PipelineConfig {
	return config.PipelineConfig{
		WorkerCount:             1,
		MaxConcurrentTasks:      2,
		PollInterval:            5 * time.Millisecond,
		HeartbeatInterval:       5 * time.Millisecond,
		TaskTimeout:             time.Second,
		OrphanDetectionInterval: time.Hour,
	}
}

func TestPoolClaimsAndExecutesTasks(t *testing.T) {
	store := newFakeStore(&model.Task{ID: "t1"}, &model.Task{ID: "t2"})
	exec := &fakeExecutor{}
	pool := queue.NewPool("pod-a", store, exec, fastCfg())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.executed) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoolMarksTaskFailedOnExecutorError(t *testing.T) {
	store := newFakeStore(&model.Task{ID: "t1"})
	exec := &fakeExecutor{err: errors.New("browser engine crashed")}
	pool := queue.NewPool("pod-a", store, exec, fastCfg())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.failed["t1"]
		return ok
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	assert.Contains(t, store.failed["t1"], "browser engine crashed")
	store.mu.Unlock()
}

func TestPoolCancelTaskStopsExecution(t *testing.T) {
	store := newFakeStore(&model.Task{ID: "t1"})
	exec := &fakeExecutor{block: make(chan struct{})}
	pool := queue.NewPool("pod-a", store, exec, fastCfg())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.executed) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return pool.CancelTask("t1")
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.failed["t1"]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestPoolHealthReportsWorkerCounts(t *testing.T) {
	store := newFakeStore()
	exec := &fakeExecutor{}
	pool := queue.NewPool("pod-a", store, exec, fastCfg())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop(context.Background()) }()

	health := pool.Health()
	assert.Equal(t, 1, health.TotalWorkers)
	assert.Equal(t, "pod-a", health.PodID)
}

func TestPoolRespectsConcurrencyCap(t *testing.T) {
	store := newFakeStore(&model.Task{ID: "t1"}, &model.Task{ID: "t2"}, &model.Task{ID: "t3"})
	exec := &fakeExecutor{delay: 200 * time.Millisecond}
	cfg := fastCfg()
	cfg.WorkerCount = 3
	cfg.MaxConcurrentTasks = 1
	pool := queue.NewPool("pod-a", store, exec, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	exec.mu.Lock()
	executedSoFar := len(exec.executed)
	exec.mu.Unlock()
	assert.LessOrEqual(t, executedSoFar, 1)
}
