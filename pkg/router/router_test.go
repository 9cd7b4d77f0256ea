package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2eforge/forge/pkg/cost"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/e2eforge/forge/pkg/router"
	"github.com/e2eforge/forge/pkg/worker/critic"
	"github.com/e2eforge/forge/pkg/worker/executor"
	"github.com/e2eforge/forge/pkg/worker/generator"
	"github.com/e2eforge/forge/pkg/worker/repair"
	"github.com/e2eforge/forge/pkg/worker/validator"
)

type fakeTasks struct {
	task     *model.Task
	attempts []model.Attempt
	status   model.TaskStatus
}

func (f *fakeTasks) Get(_ context.Context, _ string) (*model.Task, error) { return f.task, nil }
func (f *fakeTasks) AppendAttempt(_ context.Context, _ string, a model.Attempt) error {
	f.attempts = append(f.attempts, a)
	return nil
}
func (f *fakeTasks) SetStatus(_ context.Context, _ string, status model.TaskStatus) error {
	f.status = status
	return nil
}

type fakeArtifacts struct{ created []model.Artifact }

func (f *fakeArtifacts) Create(_ context.Context, _ string, a model.Artifact) error {
	f.created = append(f.created, a)
	return nil
}

type fakeHITL struct{ items []model.HITLItem }

func (f *fakeHITL) Create(_ context.Context, item model.HITLItem) error {
	f.items = append(f.items, item)
	return nil
}

type fakeEvents struct{ events []model.Event }

func (f *fakeEvents) Append(_ context.Context, _ string, ev model.Event) (int64, error) {
	f.events = append(f.events, ev)
	return int64(len(f.events)), nil
}

type fakeBudget struct {
	allowed bool
	status  cost.BudgetStatus
}

func (f *fakeBudget) CheckBudget(_ context.Context, _ float64) (bool, cost.BudgetStatus, error) {
	return f.allowed, f.status, nil
}

type fakeGenerator struct {
	result  generator.Result
	results []generator.Result
	idx     int
}

func (f *fakeGenerator) Generate(_ context.Context, _ generator.Request) (generator.Result, error) {
	if len(f.results) == 0 {
		return f.result, nil
	}
	r := f.results[f.idx]
	if f.idx < len(f.results)-1 {
		f.idx++
	}
	return r, nil
}

type fakeExecutor struct {
	outcomes []executor.Outcome
	idx      int
}

func (f *fakeExecutor) Run(_ context.Context, _ executor.Request) (executor.Outcome, error) {
	o := f.outcomes[f.idx]
	if f.idx < len(f.outcomes)-1 {
		f.idx++
	}
	return o, nil
}

type fakeRepair struct{ result repair.Result }

func (f *fakeRepair) Run(_ context.Context, _ repair.Request) (repair.Result, error) {
	return f.result, nil
}

type fakeValidator struct{ result validator.Result }

func (f *fakeValidator) Validate(_ context.Context, _ validator.Request) (validator.Result, error) {
	return f.result, nil
}

type fakePatterns struct{ ingested []model.Pattern }

func (f *fakePatterns) Ingest(_ context.Context, p model.Pattern) error {
	f.ingested = append(f.ingested, p)
	return nil
}

const cleanSource = `test('x', async () => {
  await page.click('[data-testid="go"]');
  await expect(page).toHaveURL('/done');
  await page.screenshot();
});
`

func baseDeps(t *testing.T) (*fakeTasks, *fakeArtifacts, *fakeHITL, *fakeEvents, router.Deps) {
	t.Helper()
	tasks := &fakeTasks{task: &model.Task{ID: "t1", FeatureText: "user logs in", IntentType: model.IntentCreateTest}}
	artifacts := &fakeArtifacts{}
	hitl := &fakeHITL{}
	events := &fakeEvents{}
	deps := router.Deps{
		Tasks:     tasks,
		Artifacts: artifacts,
		HITL:      hitl,
		Events:    events,
		Budget:    &fakeBudget{allowed: true, status: cost.BudgetOK},
	}
	return tasks, artifacts, hitl, events, deps
}

func TestProcessTaskHappyPath(t *testing.T) {
	tasks, artifacts, _, events, deps := baseDeps(t)
	deps.Generator = &fakeGenerator{result: generator.Result{Success: true, TestSource: cleanSource}}
	deps.Executor = &fakeExecutor{outcomes: []executor.Outcome{{BrowserLaunched: true, TestExecuted: true, TestPassed: true, Screenshots: []string{"s.png"}}}}
	deps.Validator = &fakeValidator{result: validator.Result{RubricValidation: validator.RubricResult{Passed: true}}}
	patterns := &fakePatterns{}
	deps.Patterns = patterns

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), CriticConfig: critic.DefaultConfig()})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, model.TaskStatusDone, tasks.status)
	assert.Len(t, patterns.ingested, 1)
	assert.NotEmpty(t, artifacts.created)
	foundDone := false
	for _, ev := range events.events {
		if ev.Type == model.EventValidationComplete {
			foundDone = true
		}
	}
	assert.True(t, foundDone)
}

func TestProcessTaskBlockedByBudget(t *testing.T) {
	tasks, _, _, events, deps := baseDeps(t)
	deps.Budget = &fakeBudget{allowed: false, status: cost.BudgetExceeded}
	deps.Generator = &fakeGenerator{} // should never be called

	r := router.New(deps, router.Config{TestFileDir: t.TempDir()})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusBudgetBlocked, tasks.status)

	foundExceeded := false
	for _, ev := range events.events {
		if ev.Type == model.EventBudgetExceeded {
			foundExceeded = true
		}
	}
	assert.True(t, foundExceeded)
}

func TestProcessTaskFailsGenerateWhenGeneratorGivesUp(t *testing.T) {
	tasks, _, _, _, deps := baseDeps(t)
	deps.Generator = &fakeGenerator{result: generator.Result{Success: false, FailureReason: "exceeded retries"}}

	r := router.New(deps, router.Config{TestFileDir: t.TempDir()})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailedGenerate, tasks.status)
}

func TestProcessTaskRepairsThenPasses(t *testing.T) {
	tasks, artifacts, _, _, deps := baseDeps(t)
	deps.Generator = &fakeGenerator{result: generator.Result{Success: true, TestSource: cleanSource}}
	deps.Executor = &fakeExecutor{outcomes: []executor.Outcome{
		{BrowserLaunched: true, TestExecuted: true, TestPassed: false},                                 // first execute: red
		{BrowserLaunched: true, TestExecuted: true, TestPassed: true, Screenshots: []string{"s.png"}},   // re-run after repair: green
	}}
	deps.Repair = &fakeRepair{result: repair.Result{Success: true, Diff: "--- a\n+++ b\n", Report: repair.Report{HippocraticOathHonored: true}}}
	deps.Validator = &fakeValidator{result: validator.Result{RubricValidation: validator.RubricResult{Passed: true}}}

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), MaxFixAttempts: 3})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, tasks.status)

	var sawDiff, sawReport bool
	for _, a := range artifacts.created {
		switch a.Kind {
		case model.ArtifactDiff:
			sawDiff = true
			assert.Equal(t, "fix.diff", a.Path)
		case model.ArtifactRegressionReport:
			sawReport = true
			assert.Equal(t, "regression_report.json", a.Path)
		}
	}
	assert.True(t, sawDiff, "expected a fix.diff artifact")
	assert.True(t, sawReport, "expected a regression_report.json artifact")
}

func TestProcessTaskEscalatesOnHippocraticViolation(t *testing.T) {
	tasks, artifacts, hitl, events, deps := baseDeps(t)
	deps.Generator = &fakeGenerator{result: generator.Result{Success: true, TestSource: cleanSource}}
	deps.Executor = &fakeExecutor{outcomes: []executor.Outcome{{BrowserLaunched: true, TestExecuted: true, TestPassed: false}}}
	deps.Repair = &fakeRepair{result: repair.Result{Success: false, Diff: "--- a\n+++ b\n", Escalate: true, EscalateReason: "hippocratic violation", Report: repair.Report{NewFailures: []string{"auth.spec.ts"}}}}

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), MaxFixAttempts: 3})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusHITL, tasks.status)
	require.Len(t, hitl.items, 1)
	assert.Equal(t, "t1", hitl.items[0].TaskID)
	assert.Equal(t, 1, hitl.items[0].Attempts)

	var sawDiff bool
	for _, a := range artifacts.created {
		if a.Kind == model.ArtifactDiff {
			sawDiff = true
		}
	}
	assert.True(t, sawDiff, "expected a fix.diff artifact even on a rolled-back repair")

	foundEscalated := false
	for _, ev := range events.events {
		if ev.Type == model.EventHITLEscalated {
			foundEscalated = true
		}
	}
	assert.True(t, foundEscalated)
}

func TestProcessTaskEscalatesAfterRepairBoundExhausted(t *testing.T) {
	tasks, _, hitl, _, deps := baseDeps(t)
	deps.Generator = &fakeGenerator{result: generator.Result{Success: true, TestSource: cleanSource}}
	deps.Executor = &fakeExecutor{outcomes: []executor.Outcome{{BrowserLaunched: true, TestExecuted: true, TestPassed: false}}}
	deps.Repair = &fakeRepair{result: repair.Result{Success: true, Report: repair.Report{HippocraticOathHonored: true}}}

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), MaxFixAttempts: 2})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusHITL, tasks.status)
	require.Len(t, hitl.items, 1)
}

func TestProcessTaskEscalatesOnValidatorRejectionPostRepair(t *testing.T) {
	tasks, _, hitl, _, deps := baseDeps(t)
	deps.Generator = &fakeGenerator{result: generator.Result{Success: true, TestSource: cleanSource}}
	deps.Executor = &fakeExecutor{outcomes: []executor.Outcome{
		{BrowserLaunched: true, TestExecuted: true, TestPassed: true, Screenshots: []string{"s.png"}},
	}}
	deps.Validator = &fakeValidator{result: validator.Result{RubricValidation: validator.RubricResult{Passed: false, Errors: []string{"execution time exceeded cap"}}}}

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), WorkerTimeout: time.Millisecond})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusHITL, tasks.status)
	require.Len(t, hitl.items, 1)
}

func TestProcessTaskCriticBlockModeRetriesWithFeedbackThenPasses(t *testing.T) {
	tasks, _, hitl, _, deps := baseDeps(t)
	dirty := `test('x', async () => { await page.locator('div').nth(1).click(); });`
	deps.Generator = &fakeGenerator{results: []generator.Result{
		{Success: true, TestSource: dirty},     // attempt 1: critic rejects
		{Success: true, TestSource: cleanSource}, // attempt 2, with feedback: critic approves
	}}
	deps.Executor = &fakeExecutor{outcomes: []executor.Outcome{{BrowserLaunched: true, TestExecuted: true, TestPassed: true, Screenshots: []string{"s.png"}}}}
	deps.Validator = &fakeValidator{result: validator.Result{RubricValidation: validator.RubricResult{Passed: true}}}

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), CriticPolicy: router.CriticPolicyBlock, CriticConfig: critic.DefaultConfig(), MaxFixAttempts: 3})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, tasks.status)
	assert.Empty(t, hitl.items)
}

func TestProcessTaskCriticBlockModeEscalatesAfterFeedbackBoundExhausted(t *testing.T) {
	tasks, _, hitl, _, deps := baseDeps(t)
	dirty := `test('x', async () => { await page.locator('div').nth(1).click(); });`
	deps.Generator = &fakeGenerator{result: generator.Result{Success: true, TestSource: dirty}} // every attempt still rejected

	r := router.New(deps, router.Config{TestFileDir: t.TempDir(), CriticPolicy: router.CriticPolicyBlock, CriticConfig: critic.DefaultConfig(), MaxFixAttempts: 2})
	err := r.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusHITL, tasks.status)
	require.Len(t, hitl.items, 1)
}
