package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/quotaguard/internal/validation"
)

// Handler provides HTTP endpoints for querying the audit trail
type Handler struct {
	recorder *Recorder
	logger   *slog.Logger
}

// NewHandler creates a new audit handler
func NewHandler(recorder *Recorder, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

// RegisterRoutes sets up audit routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.List)
}

// List handles GET /admin/audit?identity=&kind=&from=&to=&limit=
func (h *Handler) List(c *gin.Context) {
	var q Query

	if identity := c.Query("identity"); identity != "" {
		q.Identity = validation.NormalizeIdentity(identity)
		if q.Identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_identity",
				"message": "identity must be a normalized email or user id",
			})
			return
		}
	}
	q.Kind = Kind(c.Query("kind"))

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		if s := c.Query(p.name); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_timestamp",
					"message": "Use RFC3339 format",
				})
				return
			}
			*p.dst = t
		}
	}

	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 1000",
			})
			return
		}
		q.Limit = n
	}

	events, err := h.recorder.List(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_error",
			"message": "Failed to query audit trail",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
