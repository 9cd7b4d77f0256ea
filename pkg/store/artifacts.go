package store

import (
	"context"
	"fmt"

	"github.com/e2eforge/forge/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtifactRepository persists immutable Artifact rows referenced by
// Task and Attempt.
type ArtifactRepository struct {
	pool *pgxpool.Pool
}

// Create writes a new artifact. Artifacts are never updated once
// written; callers that need to supersede one write a new row.
func (r *ArtifactRepository) Create(ctx context.Context, taskID string, a model.Artifact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO artifacts (id, task_id, kind, path, digest)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, taskID, a.Kind, a.Path, a.Digest)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListByTask returns every artifact attached to a Task, in write order.
func (r *ArtifactRepository) ListByTask(ctx context.Context, taskID string) ([]model.Artifact, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, path, digest FROM artifacts WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.Kind, &a.Path, &a.Digest); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
