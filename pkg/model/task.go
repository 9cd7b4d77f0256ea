// Package model defines the core entities that flow through the
// generation pipeline: tasks, attempts, artifacts, intents, retrieval
// patterns, and the substrate bookkeeping rows (rate-limit buckets,
// secret slots, cost buckets, HITL items, events, lifecycle records).
package model

import "time"

// TaskStatus is the terminal/non-terminal lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusTodo           TaskStatus = "todo"
	TaskStatusRunning        TaskStatus = "running"
	TaskStatusRepairing      TaskStatus = "repairing"
	TaskStatusValidating     TaskStatus = "validating"
	TaskStatusDone           TaskStatus = "done"
	TaskStatusHITL           TaskStatus = "hitl"
	TaskStatusCancelled      TaskStatus = "cancelled"
	TaskStatusBudgetBlocked  TaskStatus = "budget_blocked"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusFailedGenerate TaskStatus = "failed_generate"
)

// Terminal reports whether a status is one a Task never leaves.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusHITL, TaskStatusCancelled, TaskStatusFailed, TaskStatusFailedGenerate:
		return true
	default:
		return false
	}
}

// IntentType is the closed enumeration of recognised user intents.
type IntentType string

const (
	IntentCreateTest   IntentType = "create_test"
	IntentRunTest      IntentType = "run_test"
	IntentFixFailure   IntentType = "fix_failure"
	IntentValidate     IntentType = "validate"
	IntentStatus       IntentType = "status"
	IntentBuildFeature IntentType = "build_feature"
	IntentUnknown      IntentType = "unknown"
)

// Task is one unit of work advancing through the pipeline state
// machine. It is the only mutable row in the data model; Attempts and
// Artifacts are appended by reference and never rewritten.
type Task struct {
	ID          string         `json:"id"`
	FeatureText string         `json:"feature_text"`
	IntentType  IntentType     `json:"intent_type"`
	Slots       map[string]any `json:"slots"`
	Status      TaskStatus     `json:"status"`
	Attempts    []Attempt      `json:"attempts"`
	CostSoFar   float64        `json:"cost_so_far"`
	CreatedAt   time.Time      `json:"created_at"`
	OwnerWorker string         `json:"owner_worker,omitempty"`

	// OwnerPod and LastHeartbeatAt mirror the teacher's multi-replica
	// coordination fields so the schema stays forward-compatible with a
	// future multi-instance deployment, even though this build is
	// single-writer (spec Non-goal).
	OwnerPod        string     `json:"owner_pod,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	RepairAttempts int `json:"repair_attempts"`
}

// ResultCode is the exit code a Task carries when it leaves the
// pipeline.
type ResultCode string

const (
	ResultDone          ResultCode = "done"
	ResultHITL          ResultCode = "hitl"
	ResultCancelled     ResultCode = "cancelled"
	ResultBudgetBlocked ResultCode = "budget_blocked"
	ResultFailed        ResultCode = "failed"
)
