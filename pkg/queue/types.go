// Package queue owns Task claiming, the worker pool that drives
// pkg/router.ProcessTask to completion, and orphan recovery for tasks
// whose owning pod died mid-pipeline.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrAtCapacity indicates the global concurrent task limit has been
// reached. A claim finding no todo Tasks surfaces apperr.ErrNotFound
// instead of a queue-local sentinel, since pkg/store.TaskRepository
// already returns that for an empty ClaimNext result.
var ErrAtCapacity = errors.New("at capacity")

// TaskExecutor is the interface for task processing. The executor owns
// the entire pipeline run internally (generate → critique → execute →
// repair-loop → validate); the worker only handles claiming,
// heartbeat, and terminal bookkeeping around the call.
type TaskExecutor interface {
	Execute(ctx context.Context, taskID string) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveTasks      int            `json:"active_tasks"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"` // "idle" or "working"
	CurrentTaskID    string    `json:"current_task_id,omitempty"`
	TasksProcessed   int       `json:"tasks_processed"`
	LastActivity     time.Time `json:"last_activity"`
}
