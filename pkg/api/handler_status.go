package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e2eforge/forge/pkg/cost"
	"github.com/e2eforge/forge/pkg/model"
)

// statusHandler handles GET /api/v1/status, the response for a
// "status" intent: session aggregates (spec §6) rather than a Task.
func (s *Server) statusHandler(c *gin.Context) {
	tasks, err := s.tasks.ListRecent(c.Request.Context(), 500)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := StatusResponse{BudgetStatus: string(cost.BudgetOK)}
	var sessionCost float64
	for _, t := range tasks {
		resp.TotalTasks++
		if t.Status == model.TaskStatusDone {
			resp.SuccessfulTasks++
		}
		sessionCost += t.CostSoFar
	}
	resp.SessionCost = sessionCost

	if s.budget != nil {
		if _, status, err := s.budget.CheckBudget(c.Request.Context(), 0); err == nil {
			resp.BudgetStatus = string(status)
		}
	}

	c.JSON(http.StatusOK, resp)
}
