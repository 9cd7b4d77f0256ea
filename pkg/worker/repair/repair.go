// Package repair implements the Hippocratic "do-no-harm" worker
// (spec §4.5): diagnose a failing test, apply the smallest fix, and
// accept it only if a fixed regression scope shows zero new failures
// versus a pre-patch baseline. Grounded on pkg/worker/executor for
// running the regression scope and pkg/difftext for the reported
// patch.
package repair

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/llm"
	"github.com/e2eforge/forge/pkg/worker/executor"
)

// Runner is the subset of pkg/worker/executor.Executor Repair depends
// on, narrowed for test substitution.
type Runner interface {
	Run(ctx context.Context, req executor.Request) (executor.Outcome, error)
}

// Completer is the subset of pkg/llm.Client Repair depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)
}

// Config mirrors pkg/config.RepairConfig.
type Config struct {
	RegressionScope []string
	DiagnosisModel  string
}

// Attempt summarises one prior repair attempt, fed into the diagnosis
// prompt so a retried repair does not repeat a failed approach.
type Attempt struct {
	ErrorMessage string
	DiffApplied  string
	Succeeded    bool
}

// Request is one repair invocation.
type Request struct {
	TestPath        string
	TestSource      string
	ErrorMessage    string
	PriorAttempts   []Attempt
}

// RegressionCounts is a baseline-vs-post-fix comparison.
type RegressionCounts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Report is the JSON comparison report persisted alongside the diff
// (spec §4.5 reporting).
type Report struct {
	Baseline               RegressionCounts `json:"baseline"`
	PostFix                RegressionCounts `json:"post_fix"`
	NewFailures            []string         `json:"new_failures"`
	Diagnosis              string           `json:"diagnosis"`
	HippocraticOathHonored bool             `json:"hippocratic_oath_honored"`
}

// Result is Repair's full output.
type Result struct {
	Success   bool
	Diff      string
	Report    Report
	Escalate  bool
	EscalateReason string
}

// Repair applies the Hippocratic fix algorithm.
type Repair struct {
	runner  Runner
	llmClient Completer
	cfg     Config
	diff    DiffFunc
}

// DiffFunc generates a unified diff, overridable in tests.
type DiffFunc func(pathA, pathB, before, after string, contextLines int) string

// New constructs a Repair worker. diffFn is typically
// pkg/difftext.Unified; it is accepted as a parameter so callers don't
// need an adapter type.
func New(runner Runner, llmClient Completer, cfg Config, diffFn DiffFunc) *Repair {
	return &Repair{runner: runner, llmClient: llmClient, cfg: cfg, diff: diffFn}
}

// Run executes the full capture-baseline/diagnose/patch/re-run/verify
// algorithm (spec §4.5 steps 1-5).
func (r *Repair) Run(ctx context.Context, req Request) (Result, error) {
	baseline, baselineFails, err := r.runRegressionScope(ctx)
	if err != nil {
		return Result{}, err
	}

	diagnosis, patched, err := r.diagnose(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if err := os.WriteFile(req.TestPath, []byte(patched), 0o644); err != nil {
		return Result{}, apperr.New(apperr.KindRuntime, "failed to write patched test source", err)
	}

	diffText := r.diff("a/"+req.TestPath, "b/"+req.TestPath, req.TestSource, patched, 3)

	postFix, postFixFails, err := r.runRegressionScope(ctx)
	if err != nil {
		// Roll back even on infrastructure failure to re-run regression.
		_ = os.WriteFile(req.TestPath, []byte(req.TestSource), 0o644)
		return Result{}, err
	}

	newFailures := setDiff(postFixFails, baselineFails)

	report := Report{
		Baseline:               baseline,
		PostFix:                postFix,
		NewFailures:            newFailures,
		Diagnosis:              diagnosis,
		HippocraticOathHonored: len(newFailures) == 0,
	}

	if len(newFailures) > 0 {
		if err := os.WriteFile(req.TestPath, []byte(req.TestSource), 0o644); err != nil {
			return Result{}, apperr.New(apperr.KindRuntime, "failed to roll back test source after hippocratic violation", err)
		}
		return Result{
			Success:        false,
			Diff:           diffText,
			Report:         report,
			Escalate:       true,
			EscalateReason: "hippocratic violation: regression scope acquired new failures",
		}, nil
	}

	return Result{Success: true, Diff: diffText, Report: report}, nil
}

func (r *Repair) runRegressionScope(ctx context.Context) (RegressionCounts, []string, error) {
	var counts RegressionCounts
	var failing []string
	for _, testPath := range r.cfg.RegressionScope {
		outcome, err := r.runner.Run(ctx, executor.Request{TestPath: testPath})
		if err != nil {
			failing = append(failing, testPath)
			counts.Failed++
			counts.Total++
			continue
		}
		counts.Total++
		if outcome.TestPassed {
			counts.Passed++
		} else {
			counts.Failed++
			failing = append(failing, testPath)
		}
	}
	return counts, failing, nil
}

func setDiff(post, baseline []string) []string {
	baseSet := make(map[string]bool, len(baseline))
	for _, b := range baseline {
		baseSet[b] = true
	}
	var out []string
	for _, p := range post {
		if !baseSet[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Repair) diagnose(ctx context.Context, req Request) (diagnosis, patched string, err error) {
	prompt := buildDiagnosisPrompt(req)
	resp, err := r.llmClient.Complete(ctx, llm.CompletionRequest{
		Model:  r.cfg.DiagnosisModel,
		System: diagnosisSystemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Text: prompt}},
	})
	if err != nil {
		return "", "", err
	}

	diagnosis, patched = splitDiagnosisResponse(resp.Text)
	if patched == "" {
		patched = req.TestSource
	}
	return diagnosis, patched, nil
}

const diagnosisSystemPrompt = `You repair a single failing browser test. Prefer the smallest possible ` +
	`change: update a selector or a wait condition before rewriting test logic. Respond in two parts ` +
	`separated by a line containing only "---PATCH---": first a one-paragraph diagnosis, then the full ` +
	`corrected test source.`

func buildDiagnosisPrompt(req Request) string {
	prompt := fmt.Sprintf("Test path: %s\nError: %s\n\nCurrent source:\n%s\n", req.TestPath, req.ErrorMessage, req.TestSource)
	for i, a := range req.PriorAttempts {
		prompt += fmt.Sprintf("\nPrior attempt %d (succeeded=%v): %s\n%s\n", i+1, a.Succeeded, a.ErrorMessage, a.DiffApplied)
	}
	return prompt
}

func splitDiagnosisResponse(text string) (diagnosis, patched string) {
	const marker = "---PATCH---"
	idx := strings.Index(text, marker)
	if idx == -1 {
		return text, ""
	}
	return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+len(marker):])
}
