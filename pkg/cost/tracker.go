// Package cost implements the atomic cost tracker: per {window, agent,
// model, feature} spend accumulation across hourly/daily/weekly/monthly
// windows, budget-cap enforcement, and the 80%-warning threshold (spec
// §3 Cost Bucket, §4 substrate). Counters are mirrored into
// prometheus/client_golang gauges, grounded on cuemby-warren's
// pkg/metrics package/registration style.
package cost

import (
	"context"
	"fmt"

	"github.com/e2eforge/forge/pkg/hotstore"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

var allWindows = []model.CostWindow{
	model.CostWindowHourly,
	model.CostWindowDaily,
	model.CostWindowWeekly,
	model.CostWindowMonthly,
}

var (
	spendTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_cost_spend_usd",
			Help: "Accumulated spend in USD by accumulation window",
		},
		[]string{"window"},
	)

	attemptCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_attempt_cost_usd_total",
			Help: "Total USD charged across attempts by agent and model",
		},
		[]string{"agent", "model"},
	)

	budgetBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_budget_blocked_tasks_total",
			Help: "Total number of tasks refused dispatch due to budget exhaustion",
		},
	)
)

func init() {
	prometheus.MustRegister(spendTotal, attemptCostTotal, budgetBlockedTotal)
}

// BudgetStatus is the closed enumeration a "status" intent reports.
type BudgetStatus string

const (
	BudgetOK       BudgetStatus = "ok"
	BudgetWarning  BudgetStatus = "warning"
	BudgetExceeded BudgetStatus = "exceeded"
)

// Tracker accumulates spend across windows and enforces a session-wide
// budget cap.
type Tracker struct {
	hot             *hotstore.Client
	sessionCapUSD   float64
	warningFraction float64
}

// New constructs a Tracker. warningFraction is the fraction of
// sessionCapUSD (default 0.8 per spec) at which a budget_warning event
// should fire.
func New(hot *hotstore.Client, sessionCapUSD, warningFraction float64) *Tracker {
	if warningFraction <= 0 {
		warningFraction = 0.8
	}
	return &Tracker{hot: hot, sessionCapUSD: sessionCapUSD, warningFraction: warningFraction}
}

// Record charges costUSD against every accumulation window for
// {agent, model, feature}, called by workers at the end of each
// attempt.
func (t *Tracker) Record(ctx context.Context, agent, modelName, feature string, costUSD float64) error {
	for _, window := range allWindows {
		total, err := t.hot.IncrCost(ctx, window, agent, modelName, feature, costUSD)
		if err != nil {
			return fmt.Errorf("record cost for window %s: %w", window, err)
		}
		windowTotal, err := t.hot.WindowTotal(ctx, window)
		if err != nil {
			return fmt.Errorf("read window total %s: %w", window, err)
		}
		spendTotal.WithLabelValues(string(window)).Set(windowTotal)
		_ = total
	}
	attemptCostTotal.WithLabelValues(agent, modelName).Add(costUSD)
	return nil
}

// SessionSpend returns total spend accumulated against the session
// cap; the session window is tracked as the daily bucket scoped to
// this process's lifetime, since a session never outlives a day in
// this system's single-instance deployment model.
func (t *Tracker) SessionSpend(ctx context.Context) (float64, error) {
	return t.hot.WindowTotal(ctx, model.CostWindowDaily)
}

// CheckBudget reports whether dispatching a task estimated to cost
// estimatedCost would exceed the session cap, and the resulting
// BudgetStatus. If sessionCapUSD is zero, budget enforcement is
// disabled and CheckBudget always allows dispatch.
func (t *Tracker) CheckBudget(ctx context.Context, estimatedCost float64) (allowed bool, status BudgetStatus, err error) {
	if t.sessionCapUSD <= 0 {
		return true, BudgetOK, nil
	}

	spent, err := t.SessionSpend(ctx)
	if err != nil {
		return false, BudgetOK, err
	}

	if spent+estimatedCost > t.sessionCapUSD {
		budgetBlockedTotal.Inc()
		return false, BudgetExceeded, nil
	}
	if spent+estimatedCost >= t.sessionCapUSD*t.warningFraction {
		return true, BudgetWarning, nil
	}
	return true, BudgetOK, nil
}

// Remaining returns how much of the session cap is still available.
func (t *Tracker) Remaining(ctx context.Context) (float64, error) {
	spent, err := t.SessionSpend(ctx)
	if err != nil {
		return 0, err
	}
	if t.sessionCapUSD <= 0 {
		return -1, nil
	}
	remaining := t.sessionCapUSD - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
