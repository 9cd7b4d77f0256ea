// Package vectorindex ranks stored Patterns by cosine similarity to a
// query embedding, per spec §3 Retrieval Pattern and §9's "Vector
// index as cache, not source of truth" design note: its absence must
// never change correctness, only prompt quality. No pack repository
// carries a vector/ANN library (pgvector client, faiss binding, or
// similar — see DESIGN.md), so ranking is a hand-rolled, in-process
// linear scan over pkg/store's pattern table, acceptable at this
// cache's scale.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/e2eforge/forge/pkg/model"
)

// PatternStore is the subset of pkg/store.PatternRepository the index
// depends on.
type PatternStore interface {
	Upsert(ctx context.Context, p model.Pattern) error
	All(ctx context.Context) ([]model.Pattern, error)
}

// Index is the in-process similarity cache over a PatternStore.
type Index struct {
	store PatternStore
}

// New constructs an Index over store.
func New(store PatternStore) *Index {
	return &Index{store: store}
}

// Ingest stores a newly validated pattern. Called on any green
// phase-1 validator outcome (SPEC_FULL.md §9 decision 2); callers set
// Metadata.ValidatorPhase2 when the run also cleared phase 2.
func (idx *Index) Ingest(ctx context.Context, p model.Pattern) error {
	if err := idx.store.Upsert(ctx, p); err != nil {
		return fmt.Errorf("ingest pattern: %w", err)
	}
	return nil
}

// Match is a ranked retrieval result.
type Match struct {
	Pattern    model.Pattern
	Similarity float64
}

// Query returns up to maxPatterns stored patterns whose cosine
// similarity to embedding is at least threshold, highest similarity
// first. If the store is empty or unreachable, Query returns a nil
// slice and a nil error — the generator's retrieval-augmented prompt
// build must degrade to "no retrieval" rather than fail (spec §4.2
// edge case).
func (idx *Index) Query(ctx context.Context, embedding []float32, maxPatterns int, threshold float64) ([]Match, error) {
	if len(embedding) == 0 || maxPatterns <= 0 {
		return nil, nil
	}

	patterns, err := idx.store.All(ctx)
	if err != nil {
		return nil, nil //nolint:nilerr // vector index is a cache; unreachable store degrades to no-retrieval, not failure.
	}

	matches := make([]Match, 0, len(patterns))
	for _, p := range patterns {
		sim := cosineSimilarity(embedding, p.Embedding)
		if sim >= threshold {
			matches = append(matches, Match{Pattern: p, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > maxPatterns {
		matches = matches[:maxPatterns]
	}
	return matches, nil
}

// cosineSimilarity returns 0 for mismatched dimensions or zero vectors
// rather than erroring, so a malformed embedding simply fails to match
// instead of aborting the whole query.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
