package device

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/quotaguard/internal/audit"
	"github.com/quotaguard/quotaguard/internal/validation"
)

// Handler provides HTTP endpoints for device management
type Handler struct {
	registry *Registry
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewHandler creates a new device handler
func NewHandler(registry *Registry, recorder *audit.Recorder, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, recorder: recorder, logger: logger}
}

// RegisterRoutes sets up device routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/identities/:identity/devices", validation.IdentityParamMiddleware())
	g.GET("", h.List)
	g.POST("/:fingerprint/trust", h.SetTrust)
	g.DELETE("/:fingerprint", h.Revoke)
	g.POST("/revoke-others", h.RevokeAllExcept)
}

// List handles GET /identities/:identity/devices
func (h *Handler) List(c *gin.Context) {
	identity := validation.NormalizeIdentity(c.Param("identity"))

	devices, err := h.registry.List(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("device list failed", "identity", identity, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "device_error",
			"message": "Failed to list devices",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// TrustRequest sets the trust flag on a device
type TrustRequest struct {
	Trusted bool `json:"trusted"`
}

// SetTrust handles POST /identities/:identity/devices/:fingerprint/trust
func (h *Handler) SetTrust(c *gin.Context) {
	identity := validation.NormalizeIdentity(c.Param("identity"))
	fingerprint, ok := h.fingerprintParam(c)
	if !ok {
		return
	}

	var req TrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	if err := h.registry.SetTrust(c.Request.Context(), identity, fingerprint, req.Trusted); err != nil {
		h.writeError(c, identity, err)
		return
	}

	h.record(c.Request.Context(), identity, audit.KindDeviceTrust, map[string]string{
		"fingerprint": fingerprint,
		"trusted":     strconv.FormatBool(req.Trusted),
	})
	c.JSON(http.StatusOK, gin.H{"trusted": req.Trusted})
}

// Revoke handles DELETE /identities/:identity/devices/:fingerprint
func (h *Handler) Revoke(c *gin.Context) {
	identity := validation.NormalizeIdentity(c.Param("identity"))
	fingerprint, ok := h.fingerprintParam(c)
	if !ok {
		return
	}

	if err := h.registry.Revoke(c.Request.Context(), identity, fingerprint); err != nil {
		h.writeError(c, identity, err)
		return
	}

	// Revocation is security-relevant: an unrecorded revoke is surfaced as
	// an error so the caller retries (the revoke itself is idempotent).
	if err := h.recorder.Record(c.Request.Context(), &audit.Event{
		Identity: identity,
		Kind:     audit.KindDeviceRevoked,
		Metadata: map[string]string{"fingerprint": fingerprint},
	}); err != nil {
		h.logger.Error("device revoke audit failed", "identity", identity, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "audit_unavailable",
			"message": "Revocation could not be recorded, retry",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// RevokeOthersRequest names the fingerprint to keep
type RevokeOthersRequest struct {
	KeepFingerprint string `json:"keepFingerprint" binding:"required"`
}

// RevokeAllExcept handles POST /identities/:identity/devices/revoke-others
func (h *Handler) RevokeAllExcept(c *gin.Context) {
	identity := validation.NormalizeIdentity(c.Param("identity"))

	var req RevokeOthersRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validation.IsValidFingerprint(req.KeepFingerprint) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_fingerprint",
			"message": "keepFingerprint must be a valid device fingerprint",
		})
		return
	}

	revoked, err := h.registry.RevokeAllExcept(c.Request.Context(), identity, req.KeepFingerprint, time.Now())
	if err != nil {
		h.writeError(c, identity, err)
		return
	}

	if err := h.recorder.Record(c.Request.Context(), &audit.Event{
		Identity: identity,
		Kind:     audit.KindDeviceRevoked,
		Metadata: map[string]string{
			"kept_fingerprint": req.KeepFingerprint,
			"revoked_count":    strconv.FormatInt(revoked, 10),
		},
	}); err != nil {
		h.logger.Error("device revoke audit failed", "identity", identity, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "audit_unavailable",
			"message": "Revocation could not be recorded, retry",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// record writes an informational device event, logging on failure.
func (h *Handler) record(ctx context.Context, identity string, kind audit.Kind, meta map[string]string) {
	if err := h.recorder.Record(ctx, &audit.Event{Identity: identity, Kind: kind, Metadata: meta}); err != nil {
		h.logger.Warn("device audit failed", "identity", identity, "kind", string(kind), "error", err)
	}
}

func (h *Handler) fingerprintParam(c *gin.Context) (string, bool) {
	fp := c.Param("fingerprint")
	if !validation.IsValidFingerprint(fp) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_fingerprint",
			"message": "fingerprint must be 8-128 url-safe characters",
		})
		return "", false
	}
	return fp, true
}

func (h *Handler) writeError(c *gin.Context, identity string, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "device_not_found",
			"message": "No such device for this identity",
		})
		return
	}
	h.logger.Error("device operation failed", "identity", identity, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "device_error",
		"message": "Device operation failed",
	})
}
