// Package lifecycle is the shutdown singleton described in spec §5/§9:
// a signal trap, an active-task registry drain with a grace period, an
// ordered (LIFO) shutdown-callback list, and a connection registry
// closed last. Grounded on the teacher's queue.WorkerPool Stop/
// stopOnce/wg shape and cleanup.Service's ticker-loop idiom, raised
// from a queue-pool-local concern into a standalone component per
// spec §9's "Shutdown as a first-class component" design note.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/e2eforge/forge/pkg/hotstore"
)

// State is the lifecycle manager's own status, reported to the intake
// surface so new Tasks can be rejected once shutdown has begun.
type State string

const (
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// Callback is a shutdown hook; callbacks run in LIFO order relative to
// registration (last registered, first run), mirroring a defer stack.
type Callback func(ctx context.Context) error

// Closer is a registered connection; closers run last, after every
// Callback has returned.
type Closer func() error

// Manager is the process-wide shutdown singleton.
type Manager struct {
	hot         *hotstore.Client
	gracePeriod time.Duration

	mu        sync.Mutex
	state     State
	callbacks []Callback
	closers   []Closer
}

// New constructs a Manager. gracePeriod bounds how long Stop waits for
// the active-task registry to drain before proceeding to callbacks and
// closers regardless (default 30s per spec §5; the container-level
// grace period of 45s is enforced by the deployment environment, not
// this process).
func New(hot *hotstore.Client, gracePeriod time.Duration) *Manager {
	if gracePeriod <= 0 {
		gracePeriod = 30 * time.Second
	}
	return &Manager{hot: hot, gracePeriod: gracePeriod, state: StateRunning}
}

// State reports the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AcceptingTasks reports whether new Task intake should be admitted.
func (m *Manager) AcceptingTasks() bool {
	return m.State() == StateRunning
}

// RegisterCallback adds a shutdown hook, run in LIFO order during Stop.
func (m *Manager) RegisterCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// RegisterCloser adds a connection to be closed last, after every
// Callback has returned. Register the event stream connection last of
// all closers so it stays up while callbacks still emit events.
func (m *Manager) RegisterCloser(c Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

// Wait blocks until SIGTERM or SIGINT is received, then runs Stop.
func (m *Manager) Wait(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("lifecycle: received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}
	m.Stop(context.Background())
}

// Stop runs the full shutdown sequence: (1) flip to shutting_down and
// reject new intake; (2) wait up to gracePeriod for the active-task
// registry to drain; (3) run callbacks in LIFO order; (4) close
// registered connections; (5) flip to stopped.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateShuttingDown
	callbacks := append([]Callback(nil), m.callbacks...)
	closers := append([]Closer(nil), m.closers...)
	m.mu.Unlock()

	slog.Info("lifecycle: shutdown started", "grace_period", m.gracePeriod)
	m.drainActiveTasks(ctx)

	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := callbacks[i](ctx); err != nil {
			slog.Error("lifecycle: shutdown callback failed", "index", i, "error", err)
		}
	}

	for _, closer := range closers {
		if err := closer(); err != nil {
			slog.Error("lifecycle: closing connection failed", "error", err)
		}
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	slog.Info("lifecycle: shutdown complete")
}

// drainActiveTasks waits up to gracePeriod for the active-task
// registry to empty. Unfinished tasks past the deadline are not
// forcibly completed (spec §8 boundary behaviour); Stop proceeds to
// callbacks and closers regardless.
func (m *Manager) drainActiveTasks(ctx context.Context) {
	if m.hot == nil {
		return
	}

	deadline := time.Now().Add(m.gracePeriod)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		count, err := m.hot.ActiveTaskCount(ctx)
		if err != nil {
			slog.Warn("lifecycle: could not read active-task registry during drain", "error", err)
			return
		}
		if count == 0 {
			return
		}
		if time.Now().After(deadline) {
			slog.Warn("lifecycle: grace period elapsed with active tasks remaining", "count", count)
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
