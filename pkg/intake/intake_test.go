package intake_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e2eforge/forge/pkg/intake"
	"github.com/e2eforge/forge/pkg/model"
)

func TestValidateAcceptsWellFormedCreateTestIntent(t *testing.T) {
	in := model.Intent{
		Type:       model.IntentCreateTest,
		Slots:      map[string]any{"feature": "user logs in"},
		RawCommand: "create a test for login",
		Confidence: 0.9,
	}
	assert.NoError(t, intake.Validate(in))
}

func TestValidateRejectsUnknownType(t *testing.T) {
	in := model.Intent{Type: "bogus", RawCommand: "x", Confidence: 0.5}
	assert.Error(t, intake.Validate(in))
}

func TestValidateRejectsConfidenceOutOfRange(t *testing.T) {
	in := model.Intent{Type: model.IntentStatus, RawCommand: "x", Confidence: 1.5}
	assert.Error(t, intake.Validate(in))
}

func TestValidateRejectsEmptyRawCommand(t *testing.T) {
	in := model.Intent{Type: model.IntentStatus, Confidence: 0.5}
	assert.Error(t, intake.Validate(in))
}

func TestValidateRequiresClarificationPromptWhenFlagged(t *testing.T) {
	in := model.Intent{
		Type: model.IntentCreateTest, RawCommand: "x", Confidence: 0.2,
		NeedsClarification: true,
	}
	assert.Error(t, intake.Validate(in))
}

func TestValidateAcceptsClarificationWithPrompt(t *testing.T) {
	in := model.Intent{
		Type: model.IntentCreateTest, RawCommand: "x", Confidence: 0.2,
		NeedsClarification: true, ClarificationPrompt: "Which feature?",
		Slots: map[string]any{"feature": "placeholder"},
	}
	assert.NoError(t, intake.Validate(in))
}

func TestValidateRejectsCreateTestMissingFeatureSlot(t *testing.T) {
	in := model.Intent{Type: model.IntentCreateTest, RawCommand: "x", Confidence: 0.5}
	assert.Error(t, intake.Validate(in))
}

func TestValidateRejectsRunTestMissingTestPathSlot(t *testing.T) {
	in := model.Intent{Type: model.IntentRunTest, RawCommand: "x", Confidence: 0.5}
	assert.Error(t, intake.Validate(in))
}

func TestValidateStatusIntentHasNoRequiredSlots(t *testing.T) {
	in := model.Intent{Type: model.IntentStatus, RawCommand: "status", Confidence: 0.9}
	assert.NoError(t, intake.Validate(in))
}
