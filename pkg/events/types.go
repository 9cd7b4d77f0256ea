// Package events delivers the observability Event stream to
// reconnecting WebSocket subscribers, with Postgres LISTEN/NOTIFY
// driving real-time delivery and a catchup query covering any gap.
// Grounded on the teacher's pkg/events/manager.go (ConnectionManager)
// and pkg/events/listener.go (NotifyListener), simplified from the
// teacher's per-channel dynamic LISTEN/UNLISTEN to a single fixed
// NOTIFY channel (pkg/store.EventChannel) carrying only a task_id
// ping — this system's subscribers always filter by task_id, not by
// an arbitrary per-session channel name, so there is exactly one
// channel to LISTEN on for the process's lifetime.
package events

// ClientMessage is a WebSocket client's inbound control message.
type ClientMessage struct {
	Action      string `json:"action"` // "subscribe" | "unsubscribe" | "catchup" | "ping"
	TaskID      string `json:"task_id"`
	LastEventID int64  `json:"last_event_id,omitempty"`
}
