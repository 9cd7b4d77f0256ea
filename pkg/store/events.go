package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/e2eforge/forge/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventChannel is the Postgres NOTIFY channel carrying a lightweight
// "something new landed" ping; subscribers re-query ListSince for the
// actual payload, mirroring the teacher's LISTEN/NOTIFY catchup design
// in pkg/events/manager.go.
const EventChannel = "forge_events"

// EventRepository appends observability Events and serves the
// catchup query used by reconnecting WebSocket subscribers.
type EventRepository struct {
	pool *pgxpool.Pool
}

// Append writes an Event and notifies listeners on EventChannel.
func (r *EventRepository) Append(ctx context.Context, taskID string, ev model.Event) (int64, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO events (task_id, event_type, ts, payload)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		taskID, ev.Type, ev.TS, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, EventChannel, taskID); err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit event append: %w", err)
	}
	return id, nil
}

// ListSince returns events with id > afterID, for reconnect catchup.
func (r *EventRepository) ListSince(ctx context.Context, taskID string, afterID int64, limit int) ([]model.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_type, ts, payload FROM events
		WHERE ($1 = '' OR task_id = $1) AND id > $2
		ORDER BY id ASC LIMIT $3`, taskID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var ts time.Time
		var payload []byte
		if err := rows.Scan(&ev.Type, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS = ts
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		ev.Payload = decoded
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events past the retention window; used by
// pkg/eventlog's compress/delete schedule for the durable copy, kept
// here for the hot broadcast-catchup table.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return tag.RowsAffected(), nil
}
