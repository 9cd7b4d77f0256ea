package api

import "github.com/e2eforge/forge/pkg/model"

// TaskResponse is returned by POST /api/v1/intents and GET /api/v1/tasks/:id.
type TaskResponse struct {
	ID          string            `json:"id"`
	FeatureText string            `json:"feature_text"`
	IntentType  model.IntentType  `json:"intent_type"`
	Status      model.TaskStatus  `json:"status"`
	CostSoFar   float64           `json:"cost_so_far"`
	CreatedAt   string            `json:"created_at"`
	Attempts    []model.Attempt   `json:"attempts"`
}

func newTaskResponse(t *model.Task) *TaskResponse {
	return &TaskResponse{
		ID:          t.ID,
		FeatureText: t.FeatureText,
		IntentType:  t.IntentType,
		Status:      t.Status,
		CostSoFar:   t.CostSoFar,
		CreatedAt:   t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Attempts:    t.Attempts,
	}
}

// ClarificationResponse is returned by POST /api/v1/intents in place of
// a TaskResponse when the intent is ambiguous (spec §4.1 intake
// contract: "If needs_clarification, return a clarification string to
// the ingress surface and do not advance").
type ClarificationResponse struct {
	NeedsClarification  bool   `json:"needs_clarification"`
	ClarificationPrompt string `json:"clarification_prompt"`
}

// CancelResponse is returned by POST /api/v1/tasks/:id/cancel.
type CancelResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HITLQueueResponse is returned by GET /api/v1/hitl.
type HITLQueueResponse struct {
	Items []model.HITLItem `json:"items"`
}

// StatusResponse is returned for a "status" intent (spec §6 session
// aggregates): total_tasks, successful_tasks, session_cost, budget_status.
type StatusResponse struct {
	TotalTasks      int     `json:"total_tasks"`
	SuccessfulTasks int     `json:"successful_tasks"`
	SessionCost     float64 `json:"session_cost"`
	BudgetStatus    string  `json:"budget_status"`
}
