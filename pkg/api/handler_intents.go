package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/intake"
	"github.com/e2eforge/forge/pkg/model"
)

// submitIntentHandler handles POST /api/v1/intents. It validates the
// inbound Intent (spec §6 intake schema); if the intent needs
// clarification it returns the clarification prompt without creating a
// Task (spec §4.1 intake contract). Otherwise, for every type except
// "status" (handled by statusHandler), it creates a Task in todo status
// for the worker pool to claim.
func (s *Server) submitIntentHandler(c *gin.Context) {
	var req SubmitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intentType := model.IntentType(req.Type)
	if intentType == "" {
		intentType = model.IntentUnknown
	}

	in := model.Intent{
		Type:                intentType,
		RawCommand:          req.RawCommand,
		Slots:               req.Slots,
		Confidence:          req.Confidence,
		NeedsClarification:  req.NeedsClarification,
		ClarificationPrompt: req.ClarificationPrompt,
	}
	if err := intake.Validate(in); err != nil {
		respondError(c, err)
		return
	}

	if in.NeedsClarification {
		c.JSON(http.StatusOK, &ClarificationResponse{
			NeedsClarification:  true,
			ClarificationPrompt: in.ClarificationPrompt,
		})
		return
	}

	if s.lifecycle != nil && !s.lifecycle.AcceptingTasks() {
		respondError(c, apperr.New(apperr.KindLifecycle, "forge is shutting down, not accepting new tasks", nil))
		return
	}

	requester := extractRequester(c)
	if in.Slots == nil {
		in.Slots = map[string]any{}
	}
	in.Slots["requester"] = requester

	task := &model.Task{
		ID:          uuid.NewString(),
		FeatureText: req.RawCommand,
		IntentType:  in.Type,
		Slots:       in.Slots,
		Status:      model.TaskStatusTodo,
		CreatedAt:   time.Now(),
	}
	if err := s.tasks.Create(c.Request.Context(), task); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, newTaskResponse(task))
}
