package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e2eforge/forge/pkg/apperr"
)

// respondError maps a pipeline error to an HTTP status and a
// user-safe message (spec §7 "User-visible behaviour": no stack
// traces, no raw provider text) and writes it to the response.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if errors.Is(err, apperr.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
		return
	}
	if errors.Is(err, apperr.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update conflict"})
		return
	}
	if errors.Is(err, apperr.ErrBudgetExceeded) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "budget exceeded"})
		return
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindInput:
			c.JSON(http.StatusBadRequest, gin.H{"error": appErr.UserMessage})
		case apperr.KindLifecycle:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": appErr.UserMessage})
		default:
			slog.Error("api: request failed", "kind", appErr.Kind, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": appErr.UserMessage})
		}
		return
	}

	slog.Error("api: unexpected error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
