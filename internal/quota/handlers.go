package quota

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the evaluator
type Handler struct {
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewHandler creates a new evaluator handler
func NewHandler(evaluator *Evaluator, logger *slog.Logger) *Handler {
	return &Handler{evaluator: evaluator, logger: logger}
}

// RegisterRoutes sets up evaluator routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/evaluate", h.Evaluate)
	r.POST("/commit", h.Commit)
	r.POST("/decide", h.EvaluateAndCommit)
}

// Evaluate handles POST /evaluate. Read-only and advisory.
func (h *Handler) Evaluate(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	decision, err := h.evaluator.Evaluate(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Commit handles POST /commit. Performs the atomic state transition for a
// completed action.
func (h *Handler) Commit(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	decision, err := h.evaluator.Commit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// EvaluateAndCommit handles POST /decide, the single-call path.
func (h *Handler) EvaluateAndCommit(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	decision, err := h.evaluator.EvaluateAndCommit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *Handler) bindRequest(c *gin.Context) (*Request, bool) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return nil, false
	}
	return &req, true
}

// writeError maps engine errors to transport responses without leaking
// internal detail. An indeterminate result reads as a denial with retry.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": err.Error(),
		})
	case errors.Is(err, ErrIndeterminate):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Decision could not be made, retry shortly",
		})
	default:
		h.logger.Error("evaluator error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Decision failed",
		})
	}
}
