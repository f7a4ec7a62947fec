package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/dialer"
	"telecom-dialer/internal/outcome"
	"telecom-dialer/internal/permission"
	"telecom-dialer/internal/rbac"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the dialer engine, return JSON.
type Handlers struct {
	Auth   *auth.Manager
	Dialer *dialer.Engine

	// Prompter receives the client's microphone answer; Gate is revoked
	// when the client reports the grant was withdrawn.
	Prompter *permission.ReportedPrompter
	Gate     *permission.Gate

	// Audit is optional.
	Audit *audit.Service
}

// ClientIP attaches the caller's address to the request context for the
// audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// record appends one operator action to the audit trail. Failures are
// logged and never surface to the caller.
func (h Handlers) record(c *gin.Context, typ audit.EventType, action string, result error) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	if err := h.Audit.LogAction(ctx, typ, action, uid, role, audit.ClientIPFromContext(ctx), result); err != nil {
		logger.FromGin(c).Warn("audit append failed", "action", action, "err", err)
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.UserID == "" || req.Role == "" {
		badRequest(c, "user_id, role required")
		return
	}
	if !rbac.Known(req.Role) {
		badRequest(c, "unknown role")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Device ---

type audioPermissionRequest struct {
	Granted bool `json:"granted"`
}

// AudioPermission takes the operator's answer to the browser microphone
// prompt and runs the permission gate with it.
func (h Handlers) AudioPermission(c *gin.Context) {
	var req audioPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if h.Prompter != nil {
		h.Prompter.Report(req.Granted)
	}
	if !req.Granted && h.Gate != nil {
		h.Gate.Revoke()
	}
	err := h.Dialer.RequestAudioPermission(c.Request.Context())
	h.record(c, audit.EventTypeDevice, "device.audio_permission", err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio_permitted": true})
}

// InitializeDevice registers the operator's device, forwarding the bearer
// token to credential issuance. It returns once the device is ready or
// bring-up failed.
func (h Handlers) InitializeDevice(c *gin.Context) {
	ctx := c.Request.Context()
	tok, _ := auth.Token(ctx)
	err := h.Dialer.InitializeDevice(ctx, tok)
	h.record(c, audit.EventTypeDevice, "device.initialize", err)
	if err != nil {
		writeError(c, err)
		return
	}
	h.DeviceStatus(c)
}

func (h Handlers) DestroyDevice(c *gin.Context) {
	err := h.Dialer.DestroyDevice(c.Request.Context())
	h.record(c, audit.EventTypeDevice, "device.destroy", err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) DeviceStatus(c *gin.Context) {
	st, err := h.Dialer.DeviceStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Calls ---

type placeCallRequest struct {
	Phone string `json:"phone"`
}

func (h Handlers) PlaceCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.Phone == "" {
		badRequest(c, "phone required")
		return
	}
	s, err := h.Dialer.PlaceCall(c.Request.Context(), req.Phone)
	h.record(c, audit.EventTypeCall, "call.place", err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) Hangup(c *gin.Context) {
	h.callControl(c, "call.hangup", h.Dialer.Hangup(c.Request.Context()))
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

// Mute requests a mute change. The call's Muted flag follows the gateway's
// acknowledgement, not this request.
func (h Handlers) Mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	h.callControl(c, "call.mute", h.Dialer.Mute(c.Request.Context(), req.Muted))
}

func (h Handlers) Answer(c *gin.Context) {
	h.callControl(c, "call.answer", h.Dialer.Answer(c.Request.Context()))
}

func (h Handlers) Reject(c *gin.Context) {
	h.callControl(c, "call.reject", h.Dialer.Reject(c.Request.Context()))
}

// callControl answers 202: the effect lands when the gateway confirms it.
func (h Handlers) callControl(c *gin.Context, action string, err error) {
	h.record(c, audit.EventTypeCall, action, err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

func (h Handlers) ActiveCall(c *gin.Context) {
	s, ok, err := h.Dialer.ActiveCall(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"active": ok}
	if s.ID != "" {
		resp["call"] = s
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) PendingOutcome(c *gin.Context) {
	rec, err := h.Dialer.PendingOutcome(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type saveOutcomeRequest struct {
	Disposition outcome.Disposition `json:"disposition"`
	Notes       string              `json:"notes"`
}

// SaveOutcome persists the last manual call's record. An empty disposition
// keeps the one derived from how the call ended.
func (h Handlers) SaveOutcome(c *gin.Context) {
	var req saveOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	rec, err := h.Dialer.SaveOutcome(c.Request.Context(), req.Disposition, req.Notes)
	h.record(c, audit.EventTypeOutcome, "outcome.save", err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// --- Audit ---

func (h Handlers) RecentAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "audit not configured"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	evs, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
