package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// taskRegistry is the subset of Pool a Worker needs for cancel-token
// registration.
type taskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// Worker polls for and processes Tasks one at a time, grounded on the
// teacher's pkg/queue/worker.go Worker — claim/heartbeat/terminal
// bookkeeping kept, the ReAct agent-execution body swapped for a
// single call into the injected TaskExecutor (pkg/router.Router in
// production).
type Worker struct {
	id       string
	podID    string
	tasks    TaskStore
	executor TaskExecutor
	cfg      config.PipelineConfig
	pool     taskRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time

	activeCount *int32
}

func newWorker(id, podID string, tasks TaskStore, executor TaskExecutor, cfg config.PipelineConfig, pool *Pool) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		tasks:        tasks,
		executor:     executor,
		cfg:          cfg,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
		activeCount:  &pool.activeCount,
	}
}

func (w *Worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// signalStop tells the worker to stop claiming new tasks; it does not
// wait for an in-flight task to finish (see wait).
func (w *Worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// wait blocks until the worker's run loop has returned, i.e. until any
// in-flight task finishes or its context is cancelled. Callers that
// need a bounded wait select on this alongside a deadline, since wait
// itself never times out.
func (w *Worker) wait() {
	w.wg.Wait()
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	active := int(atomic.LoadInt32(w.activeCount))
	if active >= w.cfg.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	task, err := w.tasks.ClaimNext(ctx, w.podID)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "worker_id", w.id)
	log.Info("task claimed")

	atomic.AddInt32(w.activeCount, 1)
	defer atomic.AddInt32(w.activeCount, -1)

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout())
	defer cancel()

	w.pool.RegisterTask(task.ID, cancel)
	defer w.pool.UnregisterTask(task.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, task.ID)

	err = w.executor.Execute(taskCtx, task.ID)
	cancelHeartbeat()

	if err != nil {
		reason := w.terminalReason(taskCtx, err)
		if markErr := w.tasks.MarkFailed(context.Background(), task.ID, reason); markErr != nil {
			log.Error("failed to mark task failed", "error", markErr)
			return markErr
		}
		log.Warn("task processing ended in failure", "reason", reason)
	} else {
		log.Info("task processing complete")
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	return nil
}

// terminalReason renders a human-readable failure reason, distinguishing
// a deadline/cancellation from the executor's own returned error.
func (w *Worker) terminalReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("task timed out after %v", w.taskTimeout())
	case errors.Is(ctx.Err(), context.Canceled):
		return "task cancelled"
	default:
		return err.Error()
	}
}

func (w *Worker) runHeartbeat(ctx context.Context, taskID string) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tasks.Heartbeat(ctx, taskID); err != nil {
				slog.Warn("heartbeat update failed", "task_id", taskID, "error", err)
			}
		}
	}
}

func (w *Worker) taskTimeout() time.Duration {
	if w.cfg.TaskTimeout > 0 {
		return w.cfg.TaskTimeout
	}
	return 10 * time.Minute
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	if base <= 0 {
		base = 2 * time.Second
	}
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
