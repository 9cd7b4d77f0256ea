package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e2eforge/forge/pkg/model"
)

// hitlQueueHandler handles GET /api/v1/hitl, returning the reviewer
// queue ordered by priority (highest first).
func (s *Server) hitlQueueHandler(c *gin.Context) {
	items, err := s.hitlSvc.Queue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, &HITLQueueResponse{Items: items})
}

// resolveHITLHandler handles POST /api/v1/hitl/:task_id/resolve.
func (s *Server) resolveHITLHandler(c *gin.Context) {
	var req ResolveHITLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolution := model.HITLResolution{
		RootCause:   req.RootCause,
		FixStrategy: req.FixStrategy,
		Severity:    req.Severity,
		HumanNotes:  req.HumanNotes,
		Patch:       req.Patch,
	}
	if err := s.hitlSvc.Resolve(c.Request.Context(), c.Param("task_id"), resolution); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
