package model

import "time"

// EventType is the closed enumeration of observability event types
// (spec §6, Testable Property 5).
type EventType string

const (
	EventTaskQueued         EventType = "task_queued"
	EventAgentStarted       EventType = "agent_started"
	EventAgentCompleted     EventType = "agent_completed"
	EventValidationComplete EventType = "validation_complete"
	EventHITLEscalated      EventType = "hitl_escalated"
	EventBudgetWarning      EventType = "budget_warning"
	EventBudgetExceeded     EventType = "budget_exceeded"
	EventProgressUpdate     EventType = "progress_update"
	EventOperationCancelled EventType = "operation_cancelled"
)

// Event is an append-only observability record, delivered
// simultaneously to the console logger, the rotated log file, and the
// WebSocket broadcast endpoint.
type Event struct {
	Type    EventType `json:"event_type"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// Payload shapes for each EventType; payload fields required by §6.

type TaskQueuedPayload struct {
	TaskID  string  `json:"task_id"`
	Feature string  `json:"feature"`
	EstCost float64 `json:"est_cost"`
	TS      time.Time `json:"ts"`
}

type AgentStartedPayload struct {
	Agent  WorkerName `json:"agent"`
	TaskID string     `json:"task_id"`
	Model  string     `json:"model"`
	Tools  []string   `json:"tools"`
}

type AgentCompletedPayload struct {
	Agent      WorkerName `json:"agent"`
	TaskID     string     `json:"task_id"`
	Status     Outcome    `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	CostUSD    float64    `json:"cost_usd"`
}

type ValidationCompletePayload struct {
	TaskID      string   `json:"task_id"`
	Result      any      `json:"result"`
	Cost        float64  `json:"cost"`
	DurationMS  int64    `json:"duration_ms"`
	Screenshots []string `json:"screenshots"`
}

type HITLEscalatedPayload struct {
	TaskID    string  `json:"task_id"`
	Attempts  int     `json:"attempts"`
	LastError string  `json:"last_error"`
	Priority  float64 `json:"priority"`
}

type BudgetWarningPayload struct {
	CurrentSpend float64 `json:"current_spend"`
	Limit        float64 `json:"limit"`
	Remaining    float64 `json:"remaining"`
}

type BudgetExceededPayload struct {
	CurrentSpend float64 `json:"current_spend"`
	Limit        float64 `json:"limit"`
	TasksBlocked int     `json:"tasks_blocked"`
}

type ProgressUpdatePayload struct {
	Operation string  `json:"operation"`
	Elapsed   float64 `json:"elapsed"`
	Expected  float64 `json:"expected"`
	Message   string  `json:"message"`
}

type OperationCancelledPayload struct {
	TaskID    string `json:"task_id"`
	Operation string `json:"operation"`
}
