package hotstore

import (
	"context"
	"fmt"

	"github.com/e2eforge/forge/pkg/model"
)

func costKey(window model.CostWindow) string {
	return fmt.Sprintf("forge:cost:%s", window)
}

func costField(agent, modelName, feature string) string {
	return fmt.Sprintf("%s|%s|%s", agent, modelName, feature)
}

// IncrCost atomically adds costUSD to the {window, agent, model,
// feature} counter, used by workers at the end of each attempt.
func (c *Client) IncrCost(ctx context.Context, window model.CostWindow, agent, modelName, feature string, costUSD float64) (float64, error) {
	total, err := c.rdb.HIncrByFloat(ctx, costKey(window), costField(agent, modelName, feature), costUSD).Result()
	if err != nil {
		return 0, fmt.Errorf("incr cost counter: %w", err)
	}
	return total, nil
}

// WindowTotal sums every bucket currently accumulated in a window,
// used by the budget-cap and 80%-warning checks.
func (c *Client) WindowTotal(ctx context.Context, window model.CostWindow) (float64, error) {
	raw, err := c.rdb.HGetAll(ctx, costKey(window)).Result()
	if err != nil {
		return 0, fmt.Errorf("read cost window: %w", err)
	}
	var total float64
	for _, v := range raw {
		var amount float64
		if _, err := fmt.Sscanf(v, "%g", &amount); err != nil {
			return 0, fmt.Errorf("parse cost bucket %q: %w", v, err)
		}
		total += amount
	}
	return total, nil
}

// ResetWindow clears all buckets in a window, used when a window
// rolls over (e.g. a new hour begins).
func (c *Client) ResetWindow(ctx context.Context, window model.CostWindow) error {
	if err := c.rdb.Del(ctx, costKey(window)).Err(); err != nil {
		return fmt.Errorf("reset cost window: %w", err)
	}
	return nil
}
