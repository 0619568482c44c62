package limits

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/quotaguard/internal/audit"
	"github.com/quotaguard/quotaguard/internal/validation"
)

// Handler provides HTTP endpoints for config administration
type Handler struct {
	store    Store
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewHandler creates a new config handler
func NewHandler(store Store, recorder *audit.Recorder, logger *slog.Logger) *Handler {
	return &Handler{store: store, recorder: recorder, logger: logger}
}

// RegisterRoutes sets up admin config routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ratelimits", h.GetRateLimit)
	r.PUT("/ratelimits", h.PutRateLimit)
	r.GET("/budgets", h.GetBudget)
	r.PUT("/budgets", h.PutBudget)
}

// GetRateLimit handles GET /admin/ratelimits?endpoint=&environment=
// Without an endpoint it lists all configs for the environment.
func (h *Handler) GetRateLimit(c *gin.Context) {
	env, ok := h.environmentQuery(c)
	if !ok {
		return
	}

	endpoint := c.Query("endpoint")
	if endpoint == "" {
		configs, err := h.store.ListRateLimits(c.Request.Context(), env)
		if err != nil {
			h.writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"configs": configs})
		return
	}

	if !validation.IsValidEndpoint(endpoint) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_endpoint",
			"message": "endpoint must be a valid endpoint name",
		})
		return
	}

	cfg, err := h.store.GetRateLimit(c.Request.Context(), endpoint, env)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// PutRateLimit handles PUT /admin/ratelimits
func (h *Handler) PutRateLimit(c *gin.Context) {
	var cfg RateLimitConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("endpoint", cfg.Endpoint),
		validation.ValidEndpoint("endpoint", cfg.Endpoint),
		validation.MaxLength("endpoint", cfg.Endpoint, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_config",
			"message": err.Error(),
		})
		return
	}

	if err := h.store.PutRateLimit(c.Request.Context(), &cfg); err != nil {
		h.writeStoreError(c, err)
		return
	}

	if !h.recordChange(c, "rate_limit", map[string]string{
		"endpoint":       cfg.Endpoint,
		"environment":    string(cfg.Environment),
		"max_per_minute": strconv.FormatUint(uint64(cfg.MaxPerMinute), 10),
		"max_per_hour":   strconv.FormatUint(uint64(cfg.MaxPerHour), 10),
		"max_per_day":    strconv.FormatUint(uint64(cfg.MaxPerDay), 10),
	}) {
		return
	}
	c.JSON(http.StatusOK, &cfg)
}

// GetBudget handles GET /admin/budgets?identity=&environment=
func (h *Handler) GetBudget(c *gin.Context) {
	env, ok := h.environmentQuery(c)
	if !ok {
		return
	}
	identity := validation.NormalizeIdentity(c.Query("identity"))
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_identity",
			"message": "identity must be a normalized email or user id",
		})
		return
	}

	cfg, err := h.store.GetBudget(c.Request.Context(), identity, env)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// PutBudget handles PUT /admin/budgets
func (h *Handler) PutBudget(c *gin.Context) {
	var cfg BudgetConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("identity", cfg.Identity),
		validation.ValidIdentity("identity", cfg.Identity),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	cfg.Identity = validation.NormalizeIdentity(cfg.Identity)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_config",
			"message": err.Error(),
		})
		return
	}

	if err := h.store.PutBudget(c.Request.Context(), &cfg); err != nil {
		h.writeStoreError(c, err)
		return
	}

	if !h.recordChange(c, "budget", map[string]string{
		"identity":      cfg.Identity,
		"environment":   string(cfg.Environment),
		"monthly_limit": strconv.FormatFloat(cfg.MonthlyLimit, 'f', -1, 64),
		"daily_limit":   strconv.FormatFloat(cfg.DailyLimit, 'f', -1, 64),
	}) {
		return
	}
	c.JSON(http.StatusOK, &cfg)
}

// recordChange audits a config mutation. Config changes are
// security-relevant, so an unrecorded change is surfaced as an error.
func (h *Handler) recordChange(c *gin.Context, what string, meta map[string]string) bool {
	meta["config"] = what
	identity := meta["identity"]
	if identity == "" {
		identity = "admin"
	}
	if err := h.recorder.Record(c.Request.Context(), &audit.Event{
		Identity: identity,
		Kind:     audit.KindConfigChanged,
		Metadata: meta,
	}); err != nil {
		h.logger.Error("config change audit failed", "config", what, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "audit_unavailable",
			"message": "Config change could not be recorded, retry",
		})
		return false
	}
	return true
}

func (h *Handler) environmentQuery(c *gin.Context) (Environment, bool) {
	env, err := ParseEnvironment(c.DefaultQuery("environment", string(EnvProduction)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_environment",
			"message": "environment must be sandbox or production",
		})
		return "", false
	}
	return env, true
}

func (h *Handler) writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, ErrConfigMissing) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "config_not_found",
			"message": "No config for that key",
		})
		return
	}
	h.logger.Error("config store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "config_error",
		"message": "Config operation failed",
	})
}
