package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2eforge/forge/pkg/api"
	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/hitl"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/e2eforge/forge/pkg/queue"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*model.Task{}}
}

func (f *fakeTaskStore) Create(_ context.Context, t *model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskStore) Get(_ context.Context, id string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskStore) SetStatus(_ context.Context, id string, status model.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return apperr.ErrNotFound
	}
	t.Status = status
	return nil
}

func (f *fakeTaskStore) ListRecent(_ context.Context, limit int) ([]*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeHITLStore struct {
	mu    sync.Mutex
	items []model.HITLItem
}

func (f *fakeHITLStore) Create(_ context.Context, item model.HITLItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeHITLStore) ListPending(_ context.Context) ([]model.HITLItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.HITLItem
	for _, it := range f.items {
		if it.Status == model.HITLPending {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeHITLStore) Resolve(_ context.Context, taskID string, resolution model.HITLResolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].TaskID == taskID {
			f.items[i].Status = model.HITLResolved
			f.items[i].Resolution = &resolution
			return nil
		}
	}
	return apperr.ErrNotFound
}

type fakePool struct {
	cancelled map[string]bool
}

func (f *fakePool) Health() *queue.PoolHealth { return &queue.PoolHealth{IsHealthy: true} }
func (f *fakePool) CancelTask(taskID string) bool {
	if f.cancelled == nil {
		f.cancelled = map[string]bool{}
	}
	f.cancelled[taskID] = true
	return true
}

type fakeLifecycle struct {
	accepting bool
}

func (f *fakeLifecycle) AcceptingTasks() bool { return f.accepting }

func newTestServer(tasks *fakeTaskStore, hitlStore *fakeHITLStore, pool *fakePool) *api.Server {
	return api.NewServer(nil, tasks, hitl.NewService(hitlStore), pool, nil, nil, nil)
}

func newTestServerWithLifecycle(tasks *fakeTaskStore, hitlStore *fakeHITLStore, pool *fakePool, lc api.Lifecycle) *api.Server {
	return api.NewServer(nil, tasks, hitl.NewService(hitlStore), pool, nil, nil, lc)
}

func TestSubmitIntentCreatesTodoTask(t *testing.T) {
	tasks := newFakeTaskStore()
	srv := newTestServer(tasks, &fakeHITLStore{}, &fakePool{})

	body, _ := json.Marshal(map[string]any{
		"raw_command": "add a login test",
		"type":        "create_test",
		"slots":       map[string]any{"feature": "login"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.TaskStatusTodo, resp.Status)
	assert.NotEmpty(t, resp.ID)
}

func TestSubmitIntentReturnsClarificationWithoutCreatingTask(t *testing.T) {
	tasks := newFakeTaskStore()
	srv := newTestServer(tasks, &fakeHITLStore{}, &fakePool{})

	body, _ := json.Marshal(map[string]any{
		"raw_command":          "fix the thing",
		"needs_clarification":  true,
		"clarification_prompt": "which test should I fix?",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.ClarificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.NeedsClarification)
	assert.Equal(t, "which test should I fix?", resp.ClarificationPrompt)

	recent, _ := tasks.ListRecent(context.Background(), 10)
	assert.Empty(t, recent)
}

func TestSubmitIntentRejectedWhileShuttingDown(t *testing.T) {
	srv := newTestServerWithLifecycle(newFakeTaskStore(), &fakeHITLStore{}, &fakePool{}, &fakeLifecycle{accepting: false})

	body, _ := json.Marshal(map[string]any{
		"raw_command": "add a login test",
		"type":        "create_test",
		"slots":       map[string]any{"feature": "login"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitIntentRejectsMissingRequiredSlot(t *testing.T) {
	srv := newTestServer(newFakeTaskStore(), &fakeHITLStore{}, &fakePool{})

	body, _ := json.Marshal(map[string]any{
		"raw_command": "add a login test",
		"type":        "create_test",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskReturnsNotFoundForUnknownID(t *testing.T) {
	srv := newTestServer(newFakeTaskStore(), &fakeHITLStore{}, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTaskSetsStatusAndSignalsPool(t *testing.T) {
	tasks := newFakeTaskStore()
	_ = tasks.Create(context.Background(), &model.Task{ID: "t1", Status: model.TaskStatusRunning, CreatedAt: time.Now()})
	pool := &fakePool{}
	srv := newTestServer(tasks, &fakeHITLStore{}, pool)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/cancel", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	stored, _ := tasks.Get(context.Background(), "t1")
	assert.Equal(t, model.TaskStatusCancelled, stored.Status)
	assert.True(t, pool.cancelled["t1"])
}

func TestHITLQueueAndResolve(t *testing.T) {
	store := &fakeHITLStore{items: []model.HITLItem{
		{TaskID: "t1", Priority: 0.5, Status: model.HITLPending},
	}}
	srv := newTestServer(newFakeTaskStore(), store, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hitl", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.HITLQueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)

	body, _ := json.Marshal(map[string]string{
		"root_cause":   "selector drift",
		"fix_strategy": "update selector",
	})
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/hitl/t1/resolve", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusNoContent, rec2.Code)
}

func TestResolveHITLRejectsMissingRootCause(t *testing.T) {
	store := &fakeHITLStore{items: []model.HITLItem{{TaskID: "t1", Status: model.HITLPending}}}
	srv := newTestServer(newFakeTaskStore(), store, &fakePool{})

	body, _ := json.Marshal(map[string]string{"fix_strategy": "update selector"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hitl/t1/resolve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReflectsPoolHealth(t *testing.T) {
	srv := newTestServer(newFakeTaskStore(), &fakeHITLStore{}, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
