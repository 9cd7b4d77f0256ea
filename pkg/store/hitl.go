package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HITLRepository persists escalated Tasks awaiting human review.
type HITLRepository struct {
	pool *pgxpool.Pool
}

// Create writes a new HITL item in pending status.
func (r *HITLRepository) Create(ctx context.Context, item model.HITLItem) error {
	bundle, err := json.Marshal(item.ContextBundle)
	if err != nil {
		return fmt.Errorf("marshal context bundle: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO hitl_items (task_id, priority, attempts, last_error, context_bundle, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			context_bundle = EXCLUDED.context_bundle,
			status = EXCLUDED.status`,
		item.TaskID, item.Priority, item.Attempts, item.LastError, bundle, model.HITLPending)
	if err != nil {
		return fmt.Errorf("insert hitl item: %w", err)
	}
	return nil
}

// ListPending returns pending items ordered highest priority first.
func (r *HITLRepository) ListPending(ctx context.Context) ([]model.HITLItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, priority, attempts, last_error, context_bundle, status
		FROM hitl_items WHERE status = $1 ORDER BY priority DESC`, model.HITLPending)
	if err != nil {
		return nil, fmt.Errorf("list pending hitl items: %w", err)
	}
	defer rows.Close()

	var out []model.HITLItem
	for rows.Next() {
		item, err := scanHITL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// Resolve seals an item with the reviewer's resolution.
func (r *HITLRepository) Resolve(ctx context.Context, taskID string, resolution model.HITLResolution) error {
	data, err := json.Marshal(resolution)
	if err != nil {
		return fmt.Errorf("marshal resolution: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE hitl_items SET status = $1, resolution = $2 WHERE task_id = $3`,
		model.HITLResolved, data, taskID)
	if err != nil {
		return fmt.Errorf("resolve hitl item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func scanHITL(row pgx.Row) (*model.HITLItem, error) {
	var item model.HITLItem
	var bundle []byte
	if err := row.Scan(&item.TaskID, &item.Priority, &item.Attempts, &item.LastError, &bundle, &item.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("scan hitl item: %w", err)
	}
	if len(bundle) > 0 {
		if err := json.Unmarshal(bundle, &item.ContextBundle); err != nil {
			return nil, fmt.Errorf("unmarshal context bundle: %w", err)
		}
	}
	return &item, nil
}
