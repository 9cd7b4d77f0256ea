package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e2eforge/forge/pkg/model"
)

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

// listTasksHandler handles GET /api/v1/tasks, returning the most
// recently created tasks (dashboard list view).
func (s *Server) listTasksHandler(c *gin.Context) {
	tasks, err := s.tasks.ListRecent(c.Request.Context(), 50)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]*TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskResponse(t))
	}
	c.JSON(http.StatusOK, out)
}

// cancelTaskHandler handles POST /api/v1/tasks/:id/cancel. It sets the
// Task's persisted status to cancelled and, if the task is currently
// claimed by this pod's worker pool, interrupts the in-flight run.
func (s *Server) cancelTaskHandler(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.tasks.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	if err := s.tasks.SetStatus(c.Request.Context(), id, model.TaskStatusCancelled); err != nil {
		respondError(c, err)
		return
	}

	if s.pool != nil {
		s.pool.CancelTask(id)
	}

	c.JSON(http.StatusOK, &CancelResponse{TaskID: id, Message: "cancellation requested"})
}
