package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/e2eforge/forge/pkg/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// catchupLimit bounds how many missed events a single catchup reply
// returns; beyond that, clients are told to overflow to a full reload.
const catchupLimit = 200

// CatchupQuerier serves the catchup query backing late subscribers.
// Implemented by pkg/store.EventRepository.
type CatchupQuerier interface {
	ListSince(ctx context.Context, taskID string, afterID int64, limit int) ([]model.Event, error)
}

// Connection is a single WebSocket client. subscriptions is touched
// only from the connection's own read-loop goroutine, so it needs no
// lock of its own — mirroring the teacher's Connection contract.
type Connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	writeMu       sync.Mutex
}

// ConnectionManager tracks WebSocket connections and per-task_id
// subscriptions, broadcasting NOTIFY-driven events and serving
// reconnect catchup.
type ConnectionManager struct {
	catchup      CatchupQuerier
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection

	subMu sync.RWMutex
	subs  map[string]map[string]bool // task_id -> set of connection ids
}

// NewConnectionManager constructs a ConnectionManager.
func NewConnectionManager(catchup CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &ConnectionManager{
		catchup:      catchup,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
		subs:         make(map[string]map[string]bool),
	}
}

// ActiveConnections returns the current connection count.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection owns a WebSocket connection's lifecycle; it blocks
// until the connection closes, and must be run in its own goroutine
// per connection by the HTTP upgrade handler in pkg/api.
func (m *ConnectionManager) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	c := &Connection{id: uuid.NewString(), conn: conn, subscriptions: make(map[string]bool)}

	m.mu.Lock()
	m.connections[c.id] = c
	m.mu.Unlock()
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": c.id})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("events: invalid client message", "connection_id", c.id, "error", err)
			continue
		}
		m.handleMessage(ctx, c, msg)
	}
}

func (m *ConnectionManager) handleMessage(ctx context.Context, c *Connection, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.TaskID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "task_id is required"})
			return
		}
		m.subscribe(c, msg.TaskID)
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "task_id": msg.TaskID})
		m.sendCatchup(ctx, c, msg.TaskID, 0)

	case "unsubscribe":
		if msg.TaskID != "" {
			m.unsubscribe(c, msg.TaskID)
		}

	case "catchup":
		if msg.TaskID != "" {
			m.sendCatchup(ctx, c, msg.TaskID, msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (m *ConnectionManager) subscribe(c *Connection, taskID string) {
	m.subMu.Lock()
	if m.subs[taskID] == nil {
		m.subs[taskID] = make(map[string]bool)
	}
	m.subs[taskID][c.id] = true
	m.subMu.Unlock()
	c.subscriptions[taskID] = true
}

func (m *ConnectionManager) unsubscribe(c *Connection, taskID string) {
	m.subMu.Lock()
	if ids, ok := m.subs[taskID]; ok {
		delete(ids, c.id)
		if len(ids) == 0 {
			delete(m.subs, taskID)
		}
	}
	m.subMu.Unlock()
	delete(c.subscriptions, taskID)
}

func (m *ConnectionManager) unregister(c *Connection) {
	for taskID := range c.subscriptions {
		m.unsubscribe(c, taskID)
	}
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast delivers a raw JSON payload to every connection subscribed
// to taskID. Called by Listener when a NOTIFY arrives.
func (m *ConnectionManager) Broadcast(taskID string, payload []byte) {
	m.subMu.RLock()
	ids := make([]string, 0, len(m.subs[taskID]))
	for id := range m.subs[taskID] {
		ids = append(ids, id)
	}
	m.subMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("events: broadcast send failed", "connection_id", c.id, "error", err)
		}
	}
}

// sendCatchup replies with every event for taskID after afterID,
// capped at catchupLimit, then an overflow notice if more remain.
func (m *ConnectionManager) sendCatchup(ctx context.Context, c *Connection, taskID string, afterID int64) {
	if m.catchup == nil {
		return
	}
	evs, err := m.catchup.ListSince(ctx, taskID, afterID, catchupLimit+1)
	if err != nil {
		slog.Error("events: catchup query failed", "task_id", taskID, "error", err)
		return
	}
	hasMore := len(evs) > catchupLimit
	if hasMore {
		evs = evs[:catchupLimit]
	}
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, data); err != nil {
			return
		}
	}
	if hasMore {
		m.sendJSON(c, map[string]any{"type": "catchup.overflow", "task_id": taskID})
	}
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("events: send failed", "connection_id", c.id, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
