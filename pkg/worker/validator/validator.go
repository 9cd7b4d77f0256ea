// Package validator implements the two-phase Validator worker
// (spec §4.6): phase 1 always re-runs the browser engine with a
// stricter rubric; phase 2, flag-gated per task, optionally sends the
// collected screenshots to a vision model for a UI-correctness
// judgement, bounded to MaxImagesPerRequest and skipped (never
// failed) on any phase-2 error.
package validator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/e2eforge/forge/pkg/llm"
	"github.com/e2eforge/forge/pkg/worker/executor"
)

// Runner is the subset of pkg/worker/executor.Executor Validator
// depends on.
type Runner interface {
	Run(ctx context.Context, req executor.Request) (executor.Outcome, error)
}

// Completer is the subset of pkg/llm.Client Validator depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)
}

// ScreenshotLoader reads a screenshot file's bytes for the phase-2
// vision request. Abstracted so tests don't touch real files.
type ScreenshotLoader func(path string) (data []byte, mediaType string, err error)

// Config mirrors pkg/config.ValidatorConfig.
type Config struct {
	MaxImagesPerRequest int
	VisionModel         string
}

// Request is a single validation run.
type Request struct {
	TestPath   string
	Phase2     bool
	Timeout    time.Duration
}

// RubricResult is the hard pass/fail judgement (spec §4.6 rubric).
type RubricResult struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// AIAnalysis is phase 2's optional output.
type AIAnalysis struct {
	UICorrectness      bool     `json:"ui_correctness"`
	ConfidenceScore    float64  `json:"confidence_score"`
	Findings           string   `json:"findings"`
	ScreenshotsAnalyzed int     `json:"screenshots_analyzed"`
	Cost               float64 `json:"cost"`
}

// Result is Validator's full output.
type Result struct {
	ValidationResult executor.Outcome `json:"validation_result"`
	RubricValidation RubricResult     `json:"rubric_validation"`
	AIAnalysis       *AIAnalysis      `json:"ai_analysis,omitempty"`
}

// Validator runs the two-phase validation design.
type Validator struct {
	runner    Runner
	llmClient Completer
	loadImage ScreenshotLoader
	cfg       Config
}

// New constructs a Validator. loadImage may be nil if Phase 2 is never
// requested.
func New(runner Runner, llmClient Completer, loadImage ScreenshotLoader, cfg Config) *Validator {
	if cfg.MaxImagesPerRequest <= 0 {
		cfg.MaxImagesPerRequest = 3
	}
	return &Validator{runner: runner, llmClient: llmClient, loadImage: loadImage, cfg: cfg}
}

// Validate runs phase 1 always, and phase 2 when req.Phase2 is set and
// phase 1 produced evidence to analyze.
func (v *Validator) Validate(ctx context.Context, req Request) (Result, error) {
	outcome, err := v.runner.Run(ctx, executor.Request{TestPath: req.TestPath, Timeout: req.Timeout})
	if err != nil {
		return Result{}, err
	}

	timeoutCap := req.Timeout
	if timeoutCap <= 0 {
		timeoutCap = 45 * time.Second
	}
	rubric := evaluateRubric(outcome, timeoutCap)

	result := Result{ValidationResult: outcome, RubricValidation: rubric}

	if !req.Phase2 || len(outcome.Screenshots) == 0 || v.llmClient == nil || v.loadImage == nil {
		return result, nil
	}

	analysis, ok := v.runPhase2(ctx, outcome.Screenshots)
	if ok {
		result.AIAnalysis = &analysis
	}
	return result, nil
}

func evaluateRubric(o executor.Outcome, timeoutCap time.Duration) RubricResult {
	var r RubricResult
	if !o.BrowserLaunched {
		r.Errors = append(r.Errors, "browser failed to launch")
	}
	if !o.TestExecuted {
		r.Errors = append(r.Errors, "test did not execute")
	}
	if !o.TestPassed {
		r.Errors = append(r.Errors, "test did not pass")
	}
	if len(o.Screenshots) == 0 {
		r.Errors = append(r.Errors, "no screenshots captured")
	}
	if o.ExecutionTimeMS > timeoutCap.Milliseconds() {
		r.Errors = append(r.Errors, "execution time exceeded cap")
	}
	r.Warnings = append(r.Warnings, o.ConsoleErrors...)
	r.Warnings = append(r.Warnings, o.NetworkFailures...)
	r.Passed = len(r.Errors) == 0
	return r
}

// runPhase2 is best-effort: any failure — load error, LLM error, or a
// malformed response — skips phase 2 without failing phase 1 (spec
// §4.6).
func (v *Validator) runPhase2(ctx context.Context, screenshots []string) (AIAnalysis, bool) {
	bounded := screenshots
	if len(bounded) > v.cfg.MaxImagesPerRequest {
		bounded = bounded[:v.cfg.MaxImagesPerRequest]
	}

	var images []llm.Image
	for _, path := range bounded {
		data, mediaType, err := v.loadImage(path)
		if err != nil {
			continue
		}
		images = append(images, llm.Image{MediaType: mediaType, Base64: base64.StdEncoding.EncodeToString(data)})
	}
	if len(images) == 0 {
		return AIAnalysis{}, false
	}

	resp, err := v.llmClient.Complete(ctx, llm.CompletionRequest{
		Model:  v.cfg.VisionModel,
		System: visionSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Text: "Judge whether the UI shown in these screenshots is correct.", Images: images},
		},
	})
	if err != nil {
		return AIAnalysis{}, false
	}

	var parsed visionResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return AIAnalysis{}, false
	}

	return AIAnalysis{
		UICorrectness:       parsed.UICorrectness,
		ConfidenceScore:     parsed.ConfidenceScore,
		Findings:            parsed.Findings,
		ScreenshotsAnalyzed: len(images),
	}, true
}

const visionSystemPrompt = `Judge UI correctness from the attached screenshots. Respond with a single ` +
	`JSON object: {"ui_correctness": bool, "confidence_score": number 0-1, "findings": string}.`

type visionResponse struct {
	UICorrectness   bool    `json:"ui_correctness"`
	ConfidenceScore float64 `json:"confidence_score"`
	Findings        string  `json:"findings"`
}
