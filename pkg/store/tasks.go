package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskRepository persists Task rows and their append-only Attempts.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new Task in todo status.
func (r *TaskRepository) Create(ctx context.Context, t *model.Task) error {
	slots, err := json.Marshal(t.Slots)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO tasks (id, feature_text, intent_type, slots, status, cost_so_far, created_at, owner_worker)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.FeatureText, t.IntentType, slots, t.Status, t.CostSoFar, t.CreatedAt, t.OwnerWorker)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads a Task along with its attempts, ordered by insertion.
func (r *TaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, feature_text, intent_type, slots, status, cost_so_far, created_at,
		       owner_worker, owner_pod, last_heartbeat_at, repair_attempts
		FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	attempts, err := r.listAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Attempts = attempts
	return t, nil
}

// ListRecent returns the most recently created Tasks, newest first,
// for the session-status aggregate (spec §6: a "status" intent returns
// total_tasks, successful_tasks, session_cost).
func (r *TaskRepository) ListRecent(ctx context.Context, limit int) ([]*model.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, feature_text, intent_type, slots, status, cost_so_far, created_at,
		       owner_worker, owner_pod, last_heartbeat_at, repair_attempts
		FROM tasks
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var slots []byte
	if err := row.Scan(&t.ID, &t.FeatureText, &t.IntentType, &slots, &t.Status, &t.CostSoFar,
		&t.CreatedAt, &t.OwnerWorker, &t.OwnerPod, &t.LastHeartbeatAt, &t.RepairAttempts); err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &t.Slots); err != nil {
			return nil, fmt.Errorf("unmarshal slots: %w", err)
		}
	}
	return &t, nil
}

func (r *TaskRepository) listAttempts(ctx context.Context, taskID string) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT worker, input_digest, outcome, duration_ms, cost, diagnosis
		FROM attempts WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.Worker, &a.InputDigest, &a.Outcome, &a.DurationMS, &a.Cost, &a.Diagnosis); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// AppendAttempt records a worker invocation and accumulates its cost
// onto the parent Task atomically.
func (r *TaskRepository) AppendAttempt(ctx context.Context, taskID string, a model.Attempt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO attempts (task_id, worker, input_digest, outcome, duration_ms, cost, diagnosis)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		taskID, a.Worker, a.InputDigest, a.Outcome, a.DurationMS, a.Cost, a.Diagnosis)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE tasks SET cost_so_far = cost_so_far + $1 WHERE id = $2`, a.Cost, taskID); err != nil {
		return fmt.Errorf("accumulate cost: %w", err)
	}

	if a.Worker == model.WorkerRepair {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET repair_attempts = repair_attempts + 1 WHERE id = $1`, taskID); err != nil {
			return fmt.Errorf("increment repair attempts: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SetStatus transitions a Task to a new status.
func (r *TaskRepository) SetStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, status, taskID)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest todo Task using
// SELECT ... FOR UPDATE SKIP LOCKED, mirroring the teacher's
// claimNextSession pattern but expressed over a plain transaction
// instead of an Ent query builder.
func (r *TaskRepository) ClaimNext(ctx context.Context, ownerPod string) (*model.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, feature_text, intent_type, slots, status, cost_so_far, created_at,
		       owner_worker, owner_pod, last_heartbeat_at, repair_attempts
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, model.TaskStatusTodo)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("claim query: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, owner_pod = $2, last_heartbeat_at = $3 WHERE id = $4`,
		model.TaskStatusRunning, ownerPod, now, t.ID); err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	t.Status = model.TaskStatusRunning
	t.OwnerPod = ownerPod
	t.LastHeartbeatAt = &now
	return t, nil
}

// Heartbeat refreshes last_heartbeat_at for orphan detection.
func (r *TaskRepository) Heartbeat(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE tasks SET last_heartbeat_at = $1 WHERE id = $2`, time.Now(), taskID)
	return err
}

// ListOrphans returns Tasks stuck in a non-terminal status whose last
// heartbeat predates threshold.
func (r *TaskRepository) ListOrphans(ctx context.Context, threshold time.Time) ([]*model.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, feature_text, intent_type, slots, status, cost_so_far, created_at,
		       owner_worker, owner_pod, last_heartbeat_at, repair_attempts
		FROM tasks
		WHERE status IN ($1, $2, $3)
		  AND last_heartbeat_at IS NOT NULL
		  AND last_heartbeat_at < $4`,
		model.TaskStatusRunning, model.TaskStatusRepairing, model.TaskStatusValidating, threshold)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkFailed transitions a Task to failed with an error attempt
// recorded, used both for orphan recovery and terminal failure paths.
func (r *TaskRepository) MarkFailed(ctx context.Context, taskID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark-failed tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, model.TaskStatusFailed, taskID); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO attempts (task_id, worker, input_digest, outcome, duration_ms, cost, diagnosis)
		VALUES ($1, '', '', $2, 0, 0, $3)`, taskID, model.OutcomeFailed, reason); err != nil {
		return fmt.Errorf("record failure attempt: %w", err)
	}
	return tx.Commit(ctx)
}
