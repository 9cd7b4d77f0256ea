package store

import (
	"context"
	"fmt"

	"github.com/e2eforge/forge/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PatternRepository persists validated retrieval patterns. Writes are
// rare (only on a successful validator outcome) and idempotent on ID;
// ranking by similarity happens in pkg/vectorindex, not here — no pack
// repository carries a pgvector client or ANN library (see DESIGN.md),
// so this repository's job is storage only.
type PatternRepository struct {
	pool *pgxpool.Pool
}

// Upsert inserts a pattern, or replaces the row for the same ID
// (superseding, never mutating in place).
func (r *PatternRepository) Upsert(ctx context.Context, p model.Pattern) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patterns (id, code, feature, complexity, validated, validator_phase2, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			feature = EXCLUDED.feature,
			complexity = EXCLUDED.complexity,
			validated = EXCLUDED.validated,
			validator_phase2 = EXCLUDED.validator_phase2,
			embedding = EXCLUDED.embedding`,
		p.ID, p.Code, p.Metadata.Feature, p.Metadata.Complexity, p.Metadata.Validated,
		p.Metadata.ValidatorPhase2, float64Slice(p.Embedding))
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// All returns every stored pattern. Called by pkg/vectorindex, which
// performs the similarity ranking in process — acceptable at this
// cache's scale per spec §9 ("cache, not source of truth").
func (r *PatternRepository) All(ctx context.Context) ([]model.Pattern, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, feature, complexity, validated, validator_phase2, embedding FROM patterns`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []model.Pattern
	for rows.Next() {
		var p model.Pattern
		var embedding []float64
		if err := rows.Scan(&p.ID, &p.Code, &p.Metadata.Feature, &p.Metadata.Complexity,
			&p.Metadata.Validated, &p.Metadata.ValidatorPhase2, &embedding); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Embedding = toFloat32Slice(embedding)
		out = append(out, p)
	}
	return out, rows.Err()
}

func float64Slice(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32Slice(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
