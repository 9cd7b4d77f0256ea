// Package notify posts Slack notifications on hitl_escalated and
// budget_exceeded events. Grounded on the teacher's pkg/slack
// (client/service split): Service is nil-safe (every method is a
// no-op on a nil receiver) and fail-open (delivery errors are logged,
// never returned to the caller), rewired onto slack-go/slack in place
// of the teacher's hand-rolled HTTP client.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
)

// Config holds the parameters needed to construct a Service.
type Config struct {
	Token        string
	Channel      string
	DashboardURL string
}

// HITLEscalatedInput contains the fields to render for a human
// escalation notification.
type HITLEscalatedInput struct {
	TaskID    string
	Feature   string
	Attempts  int
	LastError string
	Priority  float64
}

// BudgetExceededInput contains the fields to render for a budget
// notification.
type BudgetExceededInput struct {
	Window       string
	CurrentSpend float64
	Limit        float64
	TasksBlocked int
}

// Service delivers Slack notifications. Nil-safe: every method is a
// no-op when the receiver is nil, so callers can construct a Service
// unconditionally from config and skip the "is notify enabled" check
// everywhere else.
type Service struct {
	api          *slack.Client
	channel      string
	dashboardURL string
}

// New constructs a Service, or returns nil if Token or Channel is
// empty (notifications disabled).
func New(cfg Config) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		api:          slack.New(cfg.Token),
		channel:      cfg.Channel,
		dashboardURL: cfg.DashboardURL,
	}
}

// NotifyHITLEscalated posts when a task has exhausted retry/escalation
// bounds and requires operator attention.
func (s *Service) NotifyHITLEscalated(ctx context.Context, in HITLEscalatedInput) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":rotating_light: Task `%s` (%s) escalated to HITL after %d attempts — priority %.2f\n> %s",
		in.TaskID, in.Feature, in.Attempts, in.Priority, in.LastError)
	if s.dashboardURL != "" {
		text += fmt.Sprintf("\n<%s/tasks/%s|open in dashboard>", s.dashboardURL, in.TaskID)
	}
	s.post(ctx, text)
}

// NotifyBudgetExceeded posts when a cost window has crossed its cap
// and new tasks are being blocked.
func (s *Service) NotifyBudgetExceeded(ctx context.Context, in BudgetExceededInput) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":moneybag: Budget exceeded for window `%s`: $%.2f / $%.2f — %d task(s) blocked",
		in.Window, in.CurrentSpend, in.Limit, in.TasksBlocked)
	s.post(ctx, text)
}

func (s *Service) post(ctx context.Context, text string) {
	postCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, _, err := s.api.PostMessageContext(postCtx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Error("notify: slack post failed", "error", err)
	}
}
