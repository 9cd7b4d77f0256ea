package hotstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/e2eforge/forge/pkg/model"
)

// activeTasksKey is the single hash backing the active-task registry,
// field-keyed by task_id per the hot-store layout.
const activeTasksKey = "forge:active_tasks"

// RegisterTask adds a task to the active-task registry when a worker
// begins processing it.
func (c *Client) RegisterTask(ctx context.Context, rec model.LifecycleTaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lifecycle task record: %w", err)
	}
	if err := c.rdb.HSet(ctx, activeTasksKey, rec.TaskID, data).Err(); err != nil {
		return fmt.Errorf("register active task: %w", err)
	}
	return nil
}

// UnregisterTask removes a task from the registry when its worker
// ends, regardless of outcome.
func (c *Client) UnregisterTask(ctx context.Context, taskID string) error {
	if err := c.rdb.HDel(ctx, activeTasksKey, taskID).Err(); err != nil {
		return fmt.Errorf("unregister active task: %w", err)
	}
	return nil
}

// ActiveTasks returns every task currently registered, for the
// lifecycle manager's shutdown drain check.
func (c *Client) ActiveTasks(ctx context.Context) ([]model.LifecycleTaskRecord, error) {
	raw, err := c.rdb.HGetAll(ctx, activeTasksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	out := make([]model.LifecycleTaskRecord, 0, len(raw))
	for _, v := range raw {
		var rec model.LifecycleTaskRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal active task record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ActiveTaskCount is a cheap existence check used by the lifecycle
// drain loop without deserializing every record.
func (c *Client) ActiveTaskCount(ctx context.Context) (int64, error) {
	n, err := c.rdb.HLen(ctx, activeTasksKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return n, nil
}
