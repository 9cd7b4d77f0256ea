package queue

import "context"

// RouterExecutor adapts pkg/router.Router to the TaskExecutor
// interface so the worker pool can dispatch claimed Tasks into the
// pipeline state machine without depending on the router package's
// concrete type.
type RouterExecutor struct {
	Router interface {
		ProcessTask(ctx context.Context, taskID string) error
	}
}

// Execute delegates to Router.ProcessTask.
func (r RouterExecutor) Execute(ctx context.Context, taskID string) error {
	return r.Router.ProcessTask(ctx, taskID)
}
