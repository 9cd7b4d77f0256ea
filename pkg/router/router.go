// Package router implements the pipeline's deterministic state
// machine (spec §4.1): it converts an Intent into the ordered
// generate → critique → execute → repair-loop → validate sequence of
// worker invocations, persisting Task/Attempt state, emitting events,
// enforcing the session budget, bounding repair attempts, and
// producing HITL escalations. The dispatch shape — a bounded registry
// of independently callable steps advancing one Task at a time — is
// grounded on the teacher's pkg/agent/orchestrator.SubAgentRunner
// (reservation-based concurrency limiting generalised here to one
// worker-interface-per-pipeline-step rather than named sub-agents) and
// pkg/queue/executor.go's executeStage single-task-advances-at-a-time
// idiom.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/e2eforge/forge/pkg/cost"
	"github.com/e2eforge/forge/pkg/hitl"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/e2eforge/forge/pkg/notify"
	"github.com/e2eforge/forge/pkg/worker/critic"
	"github.com/e2eforge/forge/pkg/worker/executor"
	"github.com/e2eforge/forge/pkg/worker/generator"
	"github.com/e2eforge/forge/pkg/worker/repair"
	"github.com/e2eforge/forge/pkg/worker/validator"
)

// CriticPolicy is the configurable rejection-handling mode (spec
// §4.1 step 2).
type CriticPolicy string

const (
	CriticPolicyLogAndContinue CriticPolicy = "log_and_continue"
	CriticPolicyBlock          CriticPolicy = "block"
)

// Config mirrors pkg/config.PipelineConfig plus the worker sub-configs
// the router composes at each step.
type Config struct {
	MaxFixAttempts int
	CriticPolicy   CriticPolicy
	WorkerTimeout  time.Duration
	CriticConfig   critic.Config
	TestFileDir    string // where generated test source is materialized for the browser engine
}

// GeneratorWorker is the subset of generator.Generator Router depends on.
type GeneratorWorker interface {
	Generate(ctx context.Context, req generator.Request) (generator.Result, error)
}

// ExecutorWorker is the subset of executor.Executor Router depends on.
type ExecutorWorker interface {
	Run(ctx context.Context, req executor.Request) (executor.Outcome, error)
}

// RepairWorker is the subset of repair.Repair Router depends on.
type RepairWorker interface {
	Run(ctx context.Context, req repair.Request) (repair.Result, error)
}

// ValidatorWorker is the subset of validator.Validator Router depends on.
type ValidatorWorker interface {
	Validate(ctx context.Context, req validator.Request) (validator.Result, error)
}

// PatternIngester is the subset of vectorindex.Index Router depends on.
type PatternIngester interface {
	Ingest(ctx context.Context, p model.Pattern) error
}

// TaskStore is the subset of pkg/store.TaskRepository Router depends on.
type TaskStore interface {
	Get(ctx context.Context, id string) (*model.Task, error)
	AppendAttempt(ctx context.Context, taskID string, a model.Attempt) error
	SetStatus(ctx context.Context, taskID string, status model.TaskStatus) error
}

// ArtifactStore is the subset of pkg/store.ArtifactRepository Router depends on.
type ArtifactStore interface {
	Create(ctx context.Context, taskID string, a model.Artifact) error
}

// HITLStore is the subset of pkg/store.HITLRepository Router depends on.
type HITLStore interface {
	Create(ctx context.Context, item model.HITLItem) error
}

// EventStore is the subset of pkg/store.EventRepository Router depends on.
type EventStore interface {
	Append(ctx context.Context, taskID string, ev model.Event) (int64, error)
}

// BudgetChecker is the subset of pkg/cost.Tracker Router depends on.
type BudgetChecker interface {
	CheckBudget(ctx context.Context, estimatedCost float64) (allowed bool, status cost.BudgetStatus, err error)
}

// Notifier is the subset of pkg/notify.Service Router depends on. A nil
// Notifier (or a nil *notify.Service behind this interface) disables
// notifications; callers never need to branch on "is notify enabled".
type Notifier interface {
	NotifyHITLEscalated(ctx context.Context, in notify.HITLEscalatedInput)
	NotifyBudgetExceeded(ctx context.Context, in notify.BudgetExceededInput)
}

// Deps bundles every collaborator Router needs. All fields are required
// except Patterns, which may be nil to disable pattern ingestion on
// green, and Notify, which may be nil to disable Slack notifications.
type Deps struct {
	Tasks     TaskStore
	Artifacts ArtifactStore
	HITL      HITLStore
	Events    EventStore
	Budget    BudgetChecker
	Patterns  PatternIngester
	Notify    Notifier

	Generator GeneratorWorker
	Executor  ExecutorWorker
	Repair    RepairWorker
	Validator ValidatorWorker
}

// Router drives one Task at a time through the pipeline state machine.
type Router struct {
	deps Deps
	cfg  Config
}

// New constructs a Router.
func New(deps Deps, cfg Config) *Router {
	if cfg.MaxFixAttempts <= 0 {
		cfg.MaxFixAttempts = 3
	}
	if cfg.CriticPolicy == "" {
		cfg.CriticPolicy = CriticPolicyLogAndContinue
	}
	if cfg.TestFileDir == "" {
		cfg.TestFileDir = os.TempDir()
	}
	return &Router{deps: deps, cfg: cfg}
}

// estimatedStepCost is a conservative flat estimate used for budget
// pre-checks before a worker call; actual spend is recorded by the
// caller's cost.Tracker.Record once a real LLM response is in hand.
const estimatedStepCost = 0.05

// ProcessTask advances taskID through the full pipeline from its
// current state to a terminal state, or until a budget block or
// cancellation returns it to the queue. The caller (pkg/queue) is
// responsible for claiming the Task beforehand and for requeuing it if
// ProcessTask returns with a non-terminal status.
func (rt *Router) ProcessTask(ctx context.Context, taskID string) error {
	task, err := rt.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	if allowed, status, err := rt.checkBudget(ctx, taskID); err != nil {
		return err
	} else if !allowed {
		_ = rt.deps.Tasks.SetStatus(ctx, taskID, model.TaskStatusBudgetBlocked)
		rt.emit(ctx, taskID, model.EventBudgetExceeded, map[string]any{"task_id": taskID, "status": status})
		if rt.deps.Notify != nil {
			rt.deps.Notify.NotifyBudgetExceeded(ctx, notify.BudgetExceededInput{TasksBlocked: 1})
		}
		return nil
	} else if status == cost.BudgetWarning {
		rt.emit(ctx, taskID, model.EventBudgetWarning, map[string]any{"task_id": taskID})
	}

	_ = rt.deps.Tasks.SetStatus(ctx, taskID, model.TaskStatusRunning)

	genResult, err := rt.runGenerate(ctx, task)
	if err != nil {
		return err
	}
	if !genResult.Success {
		_ = rt.deps.Tasks.SetStatus(ctx, taskID, model.TaskStatusFailedGenerate)
		return nil
	}

	testPath := rt.materializeTestFile(task.ID, genResult.TestSource)

	criticResult := rt.runCritique(ctx, task, genResult.TestSource)
	if criticResult.Status == critic.StatusRejected && rt.cfg.CriticPolicy == CriticPolicyBlock {
		genResult, criticResult, err = rt.runCriticFeedbackLoop(ctx, task, genResult, criticResult)
		if err != nil {
			return err
		}
		if criticResult.Status == critic.StatusRejected {
			rt.escalate(ctx, task, "critic rejected in block mode", genResult.TestSource, testPath, nil)
			return nil
		}
		testPath = rt.materializeTestFile(task.ID, genResult.TestSource)
	}

	outcome, err := rt.runExecute(ctx, task, testPath)
	if err != nil {
		return err
	}

	currentSource := genResult.TestSource
	if !executor.PassesRubric(outcome, rt.cfg.WorkerTimeout) {
		fixed, finalOutcome, escalated, err := rt.runRepairLoop(ctx, task, testPath, currentSource, outcome)
		if err != nil {
			return err
		}
		if escalated {
			return nil
		}
		currentSource = fixed
		outcome = finalOutcome
	}

	valResult, err := rt.runValidate(ctx, task, testPath)
	if err != nil {
		return err
	}

	if valResult.RubricValidation.Passed {
		rt.ingestPattern(ctx, task, currentSource)
		_ = rt.deps.Tasks.SetStatus(ctx, taskID, model.TaskStatusDone)
		rt.emit(ctx, taskID, model.EventValidationComplete, model.ValidationCompletePayload{
			TaskID: taskID, Result: valResult, Screenshots: valResult.ValidationResult.Screenshots,
		})
		return nil
	}

	rt.escalate(ctx, task, "validator rejected after repair bound", currentSource, testPath, valResult.RubricValidation.Errors)
	return nil
}

func (rt *Router) checkBudget(ctx context.Context, taskID string) (bool, cost.BudgetStatus, error) {
	if rt.deps.Budget == nil {
		return true, cost.BudgetOK, nil
	}
	return rt.deps.Budget.CheckBudget(ctx, estimatedStepCost)
}

func (rt *Router) runGenerate(ctx context.Context, task *model.Task) (generator.Result, error) {
	started := time.Now()
	rt.emit(ctx, task.ID, model.EventAgentStarted, model.AgentStartedPayload{Agent: model.WorkerGenerator, TaskID: task.ID})

	complexity := generator.ComplexityEasy
	if len(task.FeatureText) > 200 {
		complexity = generator.ComplexityHard
	}

	result, err := rt.deps.Generator.Generate(ctx, generator.Request{
		FeatureText: task.FeatureText,
		IntentType:  string(task.IntentType),
		Complexity:  complexity,
	})
	if err != nil {
		rt.recordAttempt(ctx, task.ID, model.WorkerGenerator, task.FeatureText, model.OutcomeFailed, started, 0, err.Error())
		return generator.Result{}, nil //nolint:nilerr // a worker failure is recorded as an Attempt, not surfaced as a process error
	}

	outcome := model.OutcomeSuccess
	if !result.Success {
		outcome = model.OutcomeFailed
	}
	rt.recordAttempt(ctx, task.ID, model.WorkerGenerator, task.FeatureText, outcome, started, 0, result.FailureReason)
	rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerGenerator, TaskID: task.ID, Status: outcome, DurationMS: time.Since(started).Milliseconds()})

	if result.Success {
		_ = rt.deps.Artifacts.Create(ctx, task.ID, model.Artifact{
			ID: digest(result.TestSource), Kind: model.ArtifactTestSource, Path: "", Digest: digest(result.TestSource),
		})
	}
	return result, nil
}

// runCriticFeedbackLoop re-invokes Generator with the Critic's issues
// folded into the prompt, up to MaxFixAttempts times, re-critiquing
// each draft (spec §4.1 step 2, block-mode policy: rejections halt
// forward progress until the draft clears the Critic rather than
// escalating on the first rejection).
func (rt *Router) runCriticFeedbackLoop(ctx context.Context, task *model.Task, genResult generator.Result, criticResult critic.Result) (generator.Result, critic.Result, error) {
	complexity := generator.ComplexityEasy
	if len(task.FeatureText) > 200 {
		complexity = generator.ComplexityHard
	}

	for attempt := 0; attempt < rt.cfg.MaxFixAttempts && criticResult.Status == critic.StatusRejected; attempt++ {
		started := time.Now()
		rt.emit(ctx, task.ID, model.EventAgentStarted, model.AgentStartedPayload{Agent: model.WorkerGenerator, TaskID: task.ID})

		result, err := rt.deps.Generator.Generate(ctx, generator.Request{
			FeatureText:      task.FeatureText,
			IntentType:       string(task.IntentType),
			Complexity:       complexity,
			ExternalFeedback: critic.FeedbackBlock(criticResult.Issues),
		})
		if err != nil {
			rt.recordAttempt(ctx, task.ID, model.WorkerGenerator, task.FeatureText, model.OutcomeFailed, started, 0, err.Error())
			return genResult, criticResult, nil //nolint:nilerr // worker failure recorded as an Attempt, not a process error
		}

		outcome := model.OutcomeSuccess
		if !result.Success {
			outcome = model.OutcomeFailed
		}
		rt.recordAttempt(ctx, task.ID, model.WorkerGenerator, task.FeatureText, outcome, started, 0, result.FailureReason)
		rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerGenerator, TaskID: task.ID, Status: outcome, DurationMS: time.Since(started).Milliseconds()})

		if !result.Success {
			return genResult, criticResult, nil
		}
		genResult = result
		_ = rt.deps.Artifacts.Create(ctx, task.ID, model.Artifact{
			ID: digest(result.TestSource), Kind: model.ArtifactTestSource, Path: "", Digest: digest(result.TestSource),
		})

		criticResult = rt.runCritique(ctx, task, result.TestSource)
	}

	return genResult, criticResult, nil
}

func (rt *Router) runCritique(ctx context.Context, task *model.Task, source string) critic.Result {
	started := time.Now()
	rt.emit(ctx, task.ID, model.EventAgentStarted, model.AgentStartedPayload{Agent: model.WorkerCritic, TaskID: task.ID})

	result := critic.Review(source, rt.cfg.CriticConfig)

	outcome := model.OutcomeSuccess
	if result.Status == critic.StatusRejected {
		outcome = model.OutcomeRejected
	}
	rt.recordAttempt(ctx, task.ID, model.WorkerCritic, source, outcome, started, 0, "")
	rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerCritic, TaskID: task.ID, Status: outcome, DurationMS: time.Since(started).Milliseconds()})
	return result
}

func (rt *Router) runExecute(ctx context.Context, task *model.Task, testPath string) (executor.Outcome, error) {
	started := time.Now()
	rt.emit(ctx, task.ID, model.EventAgentStarted, model.AgentStartedPayload{Agent: model.WorkerExecutor, TaskID: task.ID})

	outcome, err := rt.deps.Executor.Run(ctx, executor.Request{TestPath: testPath, Timeout: rt.cfg.WorkerTimeout})
	if err != nil {
		rt.recordAttempt(ctx, task.ID, model.WorkerExecutor, testPath, model.OutcomeFailed, started, 0, err.Error())
		return executor.Outcome{}, err
	}

	result := model.OutcomeSuccess
	if !outcome.TestPassed {
		result = model.OutcomeFailed
	}
	rt.recordAttempt(ctx, task.ID, model.WorkerExecutor, testPath, result, started, 0, "")
	rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerExecutor, TaskID: task.ID, Status: result, DurationMS: time.Since(started).Milliseconds()})
	return outcome, nil
}

// runRepairLoop runs Repair up to MaxFixAttempts times, re-running
// Executor on the feature test after each repair (spec §4.1 step 4).
// Repair attempts caused by a persisted original error and by a new
// regression are counted identically (spec §4.1 retry bounds).
func (rt *Router) runRepairLoop(ctx context.Context, task *model.Task, testPath, source string, lastOutcome executor.Outcome) (string, executor.Outcome, bool, error) {
	currentSource := source
	currentOutcome := lastOutcome
	lastErr := firstNonEmpty(currentOutcome.ConsoleErrors, currentOutcome.NetworkFailures, "test failed")

	for attempt := 0; attempt < rt.cfg.MaxFixAttempts; attempt++ {
		started := time.Now()
		rt.emit(ctx, task.ID, model.EventAgentStarted, model.AgentStartedPayload{Agent: model.WorkerRepair, TaskID: task.ID})

		result, err := rt.deps.Repair.Run(ctx, repair.Request{TestPath: testPath, TestSource: currentSource, ErrorMessage: lastErr})
		if err != nil {
			rt.recordAttempt(ctx, task.ID, model.WorkerRepair, currentSource, model.OutcomeFailed, started, 0, err.Error())
			return currentSource, currentOutcome, true, rt.escalateAndReturn(ctx, task, "repair worker error: "+err.Error(), currentSource, testPath, nil)
		}

		if !result.Success {
			rt.recordAttempt(ctx, task.ID, model.WorkerRepair, currentSource, model.OutcomeFailed, started, 0, result.Report.Diagnosis)
			rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerRepair, TaskID: task.ID, Status: model.OutcomeFailed, DurationMS: time.Since(started).Milliseconds()})
			rt.recordRepairArtifacts(ctx, task.ID, result)
			return currentSource, currentOutcome, true, rt.escalateAndReturn(ctx, task, result.EscalateReason, currentSource, testPath, result.Report.NewFailures)
		}

		rt.recordAttempt(ctx, task.ID, model.WorkerRepair, currentSource, model.OutcomeSuccess, started, 0, result.Report.Diagnosis)
		rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerRepair, TaskID: task.ID, Status: model.OutcomeSuccess, DurationMS: time.Since(started).Milliseconds()})
		rt.recordRepairArtifacts(ctx, task.ID, result)

		patched, err := os.ReadFile(testPath)
		if err == nil {
			currentSource = string(patched)
		}

		outcome, err := rt.runExecute(ctx, task, testPath)
		if err != nil {
			return currentSource, currentOutcome, true, rt.escalateAndReturn(ctx, task, "executor error after repair: "+err.Error(), currentSource, testPath, nil)
		}
		currentOutcome = outcome
		if executor.PassesRubric(outcome, rt.cfg.WorkerTimeout) {
			return currentSource, currentOutcome, false, nil
		}
		lastErr = firstNonEmpty(outcome.ConsoleErrors, outcome.NetworkFailures, "test still failing after repair")
	}

	return currentSource, currentOutcome, true, rt.escalateAndReturn(ctx, task, "repair attempts exceeded max_fix_attempts", currentSource, testPath, nil)
}

// recordRepairArtifacts persists a successful repair's fix.diff and
// regression_report.json (spec §8 scenario S3) alongside the Attempt
// already recorded by the caller.
func (rt *Router) recordRepairArtifacts(ctx context.Context, taskID string, result repair.Result) {
	if result.Diff != "" {
		_ = rt.deps.Artifacts.Create(ctx, taskID, model.Artifact{
			ID: digest(result.Diff), Kind: model.ArtifactDiff, Path: "fix.diff", Digest: digest(result.Diff),
		})
	}
	reportJSON, err := json.Marshal(result.Report)
	if err == nil {
		_ = rt.deps.Artifacts.Create(ctx, taskID, model.Artifact{
			ID: digest(string(reportJSON)), Kind: model.ArtifactRegressionReport, Path: "regression_report.json", Digest: digest(string(reportJSON)),
		})
	}
}

func (rt *Router) escalateAndReturn(ctx context.Context, task *model.Task, reason, source, testPath string, newFailures []string) error {
	rt.escalate(ctx, task, reason, source, testPath, newFailures)
	return nil
}

func (rt *Router) runValidate(ctx context.Context, task *model.Task, testPath string) (validator.Result, error) {
	started := time.Now()
	rt.emit(ctx, task.ID, model.EventAgentStarted, model.AgentStartedPayload{Agent: model.WorkerValidator, TaskID: task.ID})

	phase2, _ := task.Slots["phase2"].(bool)
	result, err := rt.deps.Validator.Validate(ctx, validator.Request{TestPath: testPath, Phase2: phase2, Timeout: rt.cfg.WorkerTimeout})
	if err != nil {
		rt.recordAttempt(ctx, task.ID, model.WorkerValidator, testPath, model.OutcomeFailed, started, 0, err.Error())
		return validator.Result{}, err
	}

	outcome := model.OutcomeSuccess
	if !result.RubricValidation.Passed {
		outcome = model.OutcomeFailed
	}
	var aiCost float64
	if result.AIAnalysis != nil {
		aiCost = result.AIAnalysis.Cost
	}
	rt.recordAttempt(ctx, task.ID, model.WorkerValidator, testPath, outcome, started, aiCost, "")
	rt.emit(ctx, task.ID, model.EventAgentCompleted, model.AgentCompletedPayload{Agent: model.WorkerValidator, TaskID: task.ID, Status: outcome, DurationMS: time.Since(started).Milliseconds(), CostUSD: aiCost})
	return result, nil
}

func (rt *Router) ingestPattern(ctx context.Context, task *model.Task, source string) {
	if rt.deps.Patterns == nil {
		return
	}
	phase2, _ := task.Slots["phase2"].(bool)
	_ = rt.deps.Patterns.Ingest(ctx, model.Pattern{
		ID:   digest(source),
		Code: source,
		Metadata: model.PatternMetadata{
			Feature:         task.FeatureText,
			Validated:       true,
			ValidatorPhase2: phase2,
		},
	})
}

func (rt *Router) escalate(ctx context.Context, task *model.Task, reason, source, testPath string, newFailures []string) {
	highPriority, _ := task.Slots["high_priority"].(bool)
	item := model.HITLItem{
		TaskID:    task.ID,
		Priority:  hitl.Score(len(task.Attempts), highPriority, reason),
		Attempts:  len(task.Attempts) + 1,
		LastError: reason,
		Status:    model.HITLPending,
		ContextBundle: model.HITLContextBundle{
			TestPath:       testPath,
			ErrorMessage:   reason,
			CodeChanges:    source,
			AttemptHistory: task.Attempts,
		},
	}
	_ = rt.deps.HITL.Create(ctx, item)
	_ = rt.deps.Tasks.SetStatus(ctx, task.ID, model.TaskStatusHITL)
	rt.emit(ctx, task.ID, model.EventHITLEscalated, map[string]any{"task_id": task.ID, "reason": reason, "new_failures": newFailures})
	if rt.deps.Notify != nil {
		rt.deps.Notify.NotifyHITLEscalated(ctx, notify.HITLEscalatedInput{
			TaskID:    task.ID,
			Feature:   task.FeatureText,
			Attempts:  item.Attempts,
			LastError: reason,
			Priority:  item.Priority,
		})
	}
}

func (rt *Router) recordAttempt(ctx context.Context, taskID string, worker model.WorkerName, input string, outcome model.Outcome, started time.Time, cost float64, diagnosis string) {
	_ = rt.deps.Tasks.AppendAttempt(ctx, taskID, model.Attempt{
		Worker:      worker,
		InputDigest: digest(input),
		Outcome:     outcome,
		DurationMS:  time.Since(started).Milliseconds(),
		Cost:        cost,
		Diagnosis:   diagnosis,
	})
}

func (rt *Router) emit(ctx context.Context, taskID string, eventType model.EventType, payload any) {
	_, _ = rt.deps.Events.Append(ctx, taskID, model.Event{Type: eventType, TS: time.Now(), Payload: payload})
}

func (rt *Router) materializeTestFile(taskID, source string) string {
	path := filepath.Join(rt.cfg.TestFileDir, taskID+".spec.ts")
	_ = os.MkdirAll(rt.cfg.TestFileDir, 0o755)
	_ = os.WriteFile(path, []byte(source), 0o644)
	return path
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(a, b []string, fallback string) string {
	if len(a) > 0 {
		return a[0]
	}
	if len(b) > 0 {
		return b[0]
	}
	return fallback
}
