package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/e2eforge/forge/pkg/store"
)

// Listener maintains a dedicated Postgres connection LISTENing on
// store.EventChannel and pushes newly appended Events through the
// ConnectionManager to subscribed WebSocket clients. Simplified from
// the teacher's per-channel NotifyListener: there is exactly one fixed
// channel here, so no dynamic LISTEN/UNLISTEN command queue is needed —
// only the reconnect-with-backoff receive loop survives from the
// original.
type Listener struct {
	connString string
	manager    *ConnectionManager
	querier    CatchupQuerier

	connMu  sync.Mutex
	conn    *pgx.Conn
	running atomic.Bool

	lastMu sync.Mutex
	lastID map[string]int64

	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewListener constructs a Listener.
func NewListener(connString string, manager *ConnectionManager, querier CatchupQuerier) *Listener {
	return &Listener{
		connString: connString,
		manager:    manager,
		querier:    querier,
		lastID:     make(map[string]int64),
	}
}

// Start opens the dedicated LISTEN connection and begins the receive
// loop in the background.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+store.EventChannel); err != nil {
		_ = conn.Close(ctx)
		return err
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("events: listener started", "channel", store.EventChannel)
	return nil
}

// Stop signals the receive loop to exit and closes the connection.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancel != nil {
		l.cancel()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			slog.Error("events: notification receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.deliver(ctx, notification.Payload)
	}
}

// deliver fetches every event newer than the last one this process has
// seen for taskID and broadcasts each, since the NOTIFY payload itself
// only carries the task_id (pkg/store.EventRepository.Append), not the
// event body.
func (l *Listener) deliver(ctx context.Context, taskID string) {
	l.lastMu.Lock()
	after := l.lastID[taskID]
	l.lastMu.Unlock()

	evs, err := l.querier.ListSince(ctx, taskID, after, 50)
	if err != nil {
		slog.Error("events: fetch for delivery failed", "task_id", taskID, "error", err)
		return
	}
	if len(evs) == 0 {
		return
	}

	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		l.manager.Broadcast(taskID, data)
	}

	l.lastMu.Lock()
	l.lastID[taskID] += int64(len(evs))
	l.lastMu.Unlock()
}

func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
	l.connMu.Unlock()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("events: reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+store.EventChannel); err != nil {
			slog.Error("events: re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			continue
		}

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()
		slog.Info("events: listener reconnected")
		return
	}
}
