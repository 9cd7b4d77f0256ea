// Package critic implements the cheap, deterministic static review of
// a generated test (spec §4.3). It is also the rule engine Generator's
// self-validation pass (spec §4.2 step 4) runs against its own output,
// so the same closed issue enumeration backs both call sites.
package critic

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// Severity is the closed partition of issue severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// IssueType is the closed enumeration of rules this package checks
// (spec §4.3, normative rule set).
type IssueType string

const (
	IssueIndexSelector      IssueType = "index_selector"
	IssueHashedClassRef     IssueType = "hashed_class_ref"
	IssueIndefiniteWait     IssueType = "indefinite_wait"
	IssueHardcodedCreds     IssueType = "hardcoded_credentials"
	IssueHardcodedHost      IssueType = "hardcoded_host"
	IssueMissingAssertion   IssueType = "missing_assertion"
	IssueMissingTestID      IssueType = "missing_test_id_selector"
	IssueMissingScreenshot  IssueType = "missing_screenshot"
	IssueTooManySteps       IssueType = "too_many_steps"
	IssueDurationEstimate   IssueType = "duration_estimate_exceeded"
	IssueMalformedSource    IssueType = "malformed_source"
)

// Issue is one rule violation found in the test source.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Line     int       `json:"line,omitempty"`
	Reason   string    `json:"reason"`
	Fix      string    `json:"fix"`
}

// Counters summarises the scan independent of pass/fail.
type Counters struct {
	Critical        int `json:"critical"`
	Warnings        int `json:"warnings"`
	AssertionCount  int `json:"assertion_count"`
	StepCount       int `json:"step_count"`
	EstDurationMS   int `json:"est_duration_ms"`
}

// Status is the closed review verdict.
type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Result is Critic's full output (spec §4.3 contract).
type Result struct {
	Status             Status  `json:"status"`
	Issues             []Issue `json:"issues"`
	Counters           Counters `json:"counters"`
	EstimatedCost      float64 `json:"estimated_cost"`
	EstimatedDurationMS int    `json:"estimated_duration_ms"`
}

// Config parameterises the warning thresholds.
type Config struct {
	MaxSteps          int
	MaxDurationMS     int
	PerStepEstimateMS int
}

// DefaultConfig matches spec §4.3's defaults.
func DefaultConfig() Config {
	return Config{MaxSteps: 10, MaxDurationMS: 60_000, PerStepEstimateMS: 6_000}
}

var (
	indexSelectorRe  = regexp.MustCompile(`\.nth\(\s*\d+\s*\)|:nth-child\(\s*\d+\s*\)|\[\s*\d+\s*\]\s*\.(click|fill|type)`)
	hashedClassRe    = regexp.MustCompile(`class(Name)?\s*[:=]\s*["'][a-zA-Z0-9_-]*_[0-9a-f]{5,}["']|\.css-[0-9a-z]{5,}\b`)
	indefiniteWaitRe = regexp.MustCompile(`waitForTimeout\s*\(|sleep\s*\(|time\.Sleep\s*\(`)
	credentialsRe    = regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key)\s*[:=]\s*["'][^"'\n]{3,}["']`)
	hardcodedHostRe  = regexp.MustCompile(`(?i)https?://(localhost|127\.0\.0\.1|0\.0\.0\.0)(:[0-9]+)?`)
	assertionRe      = regexp.MustCompile(`\bexpect\s*\(|\bassert[A-Za-z]*\s*\(`)
	testIDSelectorRe = regexp.MustCompile(`data-testid|getByTestId|aria-label=`)
	screenshotRe     = regexp.MustCompile(`screenshot\s*\(`)
	stepRe           = regexp.MustCompile(`\bawait\s+page\.|\bawait\s+expect\s*\(`)
)

// Review scans source and produces a Result. source is a full test
// file's text content.
func Review(source string, cfg Config) Result {
	var issues []Issue
	lines := strings.Split(source, "\n")

	addLine := func(lineIdx int, t IssueType, sev Severity, reason, fix string) {
		issues = append(issues, Issue{Type: t, Severity: sev, Line: lineIdx + 1, Reason: reason, Fix: fix})
	}

	for i, line := range lines {
		if indexSelectorRe.MatchString(line) {
			addLine(i, IssueIndexSelector, SeverityCritical,
				"positional index selector is brittle across DOM reorders",
				"use a stable attribute selector (data-testid, role, or text) instead of an index")
		}
		if hashedClassRe.MatchString(line) {
			addLine(i, IssueHashedClassRef, SeverityCritical,
				"generated/hashed CSS class reference breaks on rebuild",
				"select by data-testid or semantic role instead of a build-generated class name")
		}
		if indefiniteWaitRe.MatchString(line) {
			addLine(i, IssueIndefiniteWait, SeverityCritical,
				"indefinite-timeout wait introduces flakiness",
				"wait on a selector or network/state condition instead of a fixed sleep")
		}
		if credentialsRe.MatchString(line) {
			addLine(i, IssueHardcodedCreds, SeverityCritical,
				"hardcoded credential literal in test source",
				"load credentials from environment variables or a secrets manager")
		}
		if hardcodedHostRe.MatchString(line) {
			addLine(i, IssueHardcodedHost, SeverityCritical,
				"hardcoded localhost/loopback base host",
				"read the base URL from a BASE_URL environment variable")
		}
	}

	assertionCount := len(assertionRe.FindAllString(source, -1))
	if assertionCount == 0 {
		issues = append(issues, Issue{
			Type: IssueMissingAssertion, Severity: SeverityCritical,
			Reason: "test makes no assertions", Fix: "add at least one expect()/assert() call",
		})
	}

	if !testIDSelectorRe.MatchString(source) {
		issues = append(issues, Issue{
			Type: IssueMissingTestID, Severity: SeverityCritical,
			Reason: "no stable test-id-style selector found", Fix: "select elements via data-testid or getByTestId",
		})
	}

	if !screenshotRe.MatchString(source) {
		issues = append(issues, Issue{
			Type: IssueMissingScreenshot, Severity: SeverityCritical,
			Reason: "no screenshot capture at step boundaries", Fix: "call screenshot() after each meaningful step",
		})
	}

	stepCount := countSteps(source)
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.PerStepEstimateMS <= 0 {
		cfg.PerStepEstimateMS = 6_000
	}
	if cfg.MaxDurationMS <= 0 {
		cfg.MaxDurationMS = 60_000
	}
	estDuration := stepCount * cfg.PerStepEstimateMS

	if stepCount > cfg.MaxSteps {
		issues = append(issues, Issue{
			Type: IssueTooManySteps, Severity: SeverityWarning,
			Reason: fmt.Sprintf("step count %d exceeds max_steps %d", stepCount, cfg.MaxSteps),
			Fix:    "split into multiple focused tests",
		})
	}
	if estDuration > cfg.MaxDurationMS {
		issues = append(issues, Issue{
			Type: IssueDurationEstimate, Severity: SeverityWarning,
			Reason: fmt.Sprintf("estimated duration %dms exceeds max_duration_ms %d", estDuration, cfg.MaxDurationMS),
			Fix:    "reduce step count or split the test",
		})
	}

	var counters Counters
	counters.AssertionCount = assertionCount
	counters.StepCount = stepCount
	counters.EstDurationMS = estDuration
	for _, iss := range issues {
		if iss.Severity == SeverityCritical {
			counters.Critical++
		} else {
			counters.Warnings++
		}
	}

	status := StatusApproved
	if counters.Critical > 0 {
		status = StatusRejected
	}

	return Result{
		Status:              status,
		Issues:               issues,
		Counters:             counters,
		EstimatedDurationMS:  estDuration,
	}
}

func countSteps(source string) int {
	scanner := bufio.NewScanner(strings.NewReader(source))
	count := 0
	for scanner.Scan() {
		if stepRe.MatchString(scanner.Text()) {
			count++
		}
	}
	return count
}

// FeedbackBlock renders a structured, composable description of issues
// for the Generator's retry prompt, kept separate from the stable
// retrieval block per spec §9 design note.
func FeedbackBlock(issues []Issue) string {
	if len(issues) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The previous attempt violated the following rules:\n")
	for _, iss := range issues {
		fmt.Fprintf(&b, "- [%s] %s: %s (fix: %s)\n", iss.Severity, iss.Type, iss.Reason, iss.Fix)
	}
	return b.String()
}
