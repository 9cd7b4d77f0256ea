// Package store is the Postgres-backed persistence layer for Task,
// Attempt, Artifact, Pattern, HITLItem, and Event rows. It replaces
// the teacher's Ent-generated client with hand-written pgx/v5
// repositories — Ent requires a `go generate` codegen step this build
// cannot run (see DESIGN.md).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string
	MaxConns        int32
	MigrationsTable string
}

// Client wraps a pgx connection pool and exposes per-entity
// repositories over it.
type Client struct {
	pool *pgxpool.Pool

	Tasks     *TaskRepository
	Artifacts *ArtifactRepository
	Patterns  *PatternRepository
	HITL      *HITLRepository
	Events    *EventRepository
}

// Pool returns the underlying connection pool for health checks and
// ad-hoc queries.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Close releases the connection pool.
func (c *Client) Close() { c.pool.Close() }

// NewClient opens a connection pool, runs pending migrations, and
// wires the per-entity repositories on top of it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(cfg.DSN, cfg.MigrationsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{
		pool:      pool,
		Tasks:     &TaskRepository{pool: pool},
		Artifacts: &ArtifactRepository{pool: pool},
		Patterns:  &PatternRepository{pool: pool},
		HITL:      &HITLRepository{pool: pool},
		Events:    &EventRepository{pool: pool},
	}, nil
}
