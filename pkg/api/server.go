// Package api provides the gin HTTP/WebSocket surface over the
// pipeline: intent intake, task status, HITL review, and the
// real-time event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e2eforge/forge/pkg/config"
	"github.com/e2eforge/forge/pkg/cost"
	"github.com/e2eforge/forge/pkg/events"
	"github.com/e2eforge/forge/pkg/hitl"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/e2eforge/forge/pkg/queue"
)

// TaskStore is the subset of pkg/store.TaskRepository Server depends on.
type TaskStore interface {
	Create(ctx context.Context, t *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	SetStatus(ctx context.Context, taskID string, status model.TaskStatus) error
	ListRecent(ctx context.Context, limit int) ([]*model.Task, error)
}

// Pool is the subset of pkg/queue.Pool Server depends on.
type Pool interface {
	Health() *queue.PoolHealth
	CancelTask(taskID string) bool
}

// Lifecycle is the subset of pkg/lifecycle.Manager Server depends on:
// the shutting_down gate that stops new intake once a shutdown has
// begun (spec §5).
type Lifecycle interface {
	AcceptingTasks() bool
}

// Server is the HTTP API server.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	cfg         *config.Config
	tasks       TaskStore
	hitlSvc     *hitl.Service
	pool        Pool
	connManager *events.ConnectionManager
	budget      *cost.Tracker // nil disables budget reporting on the status intent
	lifecycle   Lifecycle     // nil means always accepting (used by tests)
}

// NewServer creates a new API server and registers all routes.
func NewServer(
	cfg *config.Config,
	tasks TaskStore,
	hitlSvc *hitl.Service,
	pool Pool,
	connManager *events.ConnectionManager,
	budget *cost.Tracker,
	lc Lifecycle,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), structuredLogger(), securityHeaders())

	s := &Server{
		engine:      e,
		cfg:         cfg,
		tasks:       tasks,
		hitlSvc:     hitlSvc,
		pool:        pool,
		connManager: connManager,
		budget:      budget,
		lifecycle:   lc,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/intents", s.submitIntentHandler)

	v1.GET("/tasks", s.listTasksHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.POST("/tasks/:id/cancel", s.cancelTaskHandler)

	v1.GET("/hitl", s.hitlQueueHandler)
	v1.POST("/hitl/:task_id/resolve", s.resolveHITLHandler)

	v1.GET("/status", s.statusHandler)

	// WebSocket endpoint for real-time event streaming. Auth is
	// deferred to the oauth2-proxy layer in front of the process,
	// consistent with the allowed-origins check in handler_ws.go.
	v1.GET("/ws", s.wsHandler)
}

// Handler returns the server's http.Handler, primarily so tests can
// drive requests through httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.engine }

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health. Only this process's own
// components are checked; external providers (LLM, browser engine)
// are excluded so the orchestrator never restarts the pod over a
// dependency outage it has no control over.
func (s *Server) healthHandler(c *gin.Context) {
	_, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := "healthy"

	if s.pool != nil {
		ph := s.pool.Health()
		if ph != nil && !ph.IsHealthy {
			status = "degraded"
			checks["worker_pool"] = HealthCheck{Status: "degraded"}
		} else {
			checks["worker_pool"] = HealthCheck{Status: "healthy"}
		}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}
