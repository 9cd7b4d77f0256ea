package validator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2eforge/forge/pkg/llm"
	"github.com/e2eforge/forge/pkg/worker/executor"
	"github.com/e2eforge/forge/pkg/worker/validator"
)

type fakeRunner struct {
	outcome executor.Outcome
	err     error
}

func (f *fakeRunner) Run(_ context.Context, _ executor.Request) (executor.Outcome, error) {
	return f.outcome, f.err
}

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Text: f.text}, f.err
}

func fakeLoader(path string) ([]byte, string, error) {
	return []byte("fake-image-bytes"), "image/png", nil
}

func TestValidatePhase1Only(t *testing.T) {
	runner := &fakeRunner{outcome: executor.Outcome{
		BrowserLaunched: true, TestExecuted: true, TestPassed: true,
		Screenshots: []string{"s1.png"}, ExecutionTimeMS: 500,
	}}
	v := validator.New(runner, nil, nil, validator.Config{})

	result, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts", Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, result.RubricValidation.Passed)
	assert.Nil(t, result.AIAnalysis)
}

func TestValidateRubricFailsOnNoScreenshots(t *testing.T) {
	runner := &fakeRunner{outcome: executor.Outcome{BrowserLaunched: true, TestExecuted: true, TestPassed: true}}
	v := validator.New(runner, nil, nil, validator.Config{})

	result, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts", Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, result.RubricValidation.Passed)
	assert.Contains(t, result.RubricValidation.Errors, "no screenshots captured")
}

func TestValidatePhase2RunsWhenFlagged(t *testing.T) {
	runner := &fakeRunner{outcome: executor.Outcome{
		BrowserLaunched: true, TestExecuted: true, TestPassed: true,
		Screenshots: []string{"s1.png", "s2.png"},
	}}
	visionBody, _ := json.Marshal(map[string]any{"ui_correctness": true, "confidence_score": 0.9, "findings": "looks correct"})
	completer := &fakeCompleter{text: string(visionBody)}
	v := validator.New(runner, completer, fakeLoader, validator.Config{MaxImagesPerRequest: 3, VisionModel: "claude-vision"})

	result, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts", Phase2: true})
	require.NoError(t, err)
	require.NotNil(t, result.AIAnalysis)
	assert.True(t, result.AIAnalysis.UICorrectness)
	assert.Equal(t, 2, result.AIAnalysis.ScreenshotsAnalyzed)
}

func TestValidatePhase2BoundsImageCount(t *testing.T) {
	runner := &fakeRunner{outcome: executor.Outcome{
		BrowserLaunched: true, TestExecuted: true, TestPassed: true,
		Screenshots: []string{"s1.png", "s2.png", "s3.png", "s4.png", "s5.png"},
	}}
	visionBody, _ := json.Marshal(map[string]any{"ui_correctness": true, "confidence_score": 0.5, "findings": "ok"})
	completer := &fakeCompleter{text: string(visionBody)}
	v := validator.New(runner, completer, fakeLoader, validator.Config{MaxImagesPerRequest: 2})

	result, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts", Phase2: true})
	require.NoError(t, err)
	require.NotNil(t, result.AIAnalysis)
	assert.Equal(t, 2, result.AIAnalysis.ScreenshotsAnalyzed)
}

func TestValidatePhase2SkippedOnLLMError(t *testing.T) {
	runner := &fakeRunner{outcome: executor.Outcome{
		BrowserLaunched: true, TestExecuted: true, TestPassed: true,
		Screenshots: []string{"s1.png"},
	}}
	completer := &fakeCompleter{err: assertAnError{}}
	v := validator.New(runner, completer, fakeLoader, validator.Config{})

	result, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts", Phase2: true})
	require.NoError(t, err)
	assert.True(t, result.RubricValidation.Passed, "phase 1 must still pass")
	assert.Nil(t, result.AIAnalysis)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "vision provider unavailable" }

func TestValidatePhase2SkippedWithoutScreenshots(t *testing.T) {
	runner := &fakeRunner{outcome: executor.Outcome{BrowserLaunched: true, TestExecuted: true, TestPassed: true}}
	completer := &fakeCompleter{text: "{}"}
	v := validator.New(runner, completer, fakeLoader, validator.Config{})

	result, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts", Phase2: true})
	require.NoError(t, err)
	assert.Nil(t, result.AIAnalysis)
}

func TestValidatePropagatesExecutorError(t *testing.T) {
	runner := &fakeRunner{err: assertAnError{}}
	v := validator.New(runner, nil, nil, validator.Config{})

	_, err := v.Validate(context.Background(), validator.Request{TestPath: "x.spec.ts"})
	assert.Error(t, err)
}
