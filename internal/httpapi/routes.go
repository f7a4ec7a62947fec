package httpapi

import (
	"net/http"

	"telecom-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires the control surface onto r. authMW verifies the bearer
// token; role checks are applied per group.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(ClientIP())
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(authMW, rbac.RequireIdentity())

	protected.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})

	// DEVICE routes
	dev := protected.Group("")
	dev.Use(rbac.RequireAnyRole(rbac.Operators...))
	{
		dev.POST("/audio/permission", h.AudioPermission)
		dev.POST("/device/initialize", h.InitializeDevice)
		dev.DELETE("/device", h.DestroyDevice)
		dev.GET("/device", h.DeviceStatus)
	}

	// CALLS routes
	calls := protected.Group("/calls")
	calls.Use(rbac.RequireAnyRole(rbac.Operators...))
	{
		calls.POST("", h.PlaceCall)
		calls.POST("/hangup", h.Hangup)
		calls.POST("/mute", h.Mute)
		calls.POST("/answer", h.Answer)
		calls.POST("/reject", h.Reject)
		calls.GET("/active", h.ActiveCall)
		calls.GET("/outcome", h.PendingOutcome)
		calls.POST("/outcome", h.SaveOutcome)
	}

	// CAMPAIGN routes
	// Operators drive the running campaign; starting and stopping one is a
	// manager decision.
	camp := protected.Group("/campaign")
	camp.Use(rbac.RequireAnyRole(rbac.Operators...))
	{
		camp.GET("", h.CampaignSnapshot)
		camp.POST("/pause", h.PauseCampaign)
		camp.POST("/resume", h.ResumeCampaign)
		camp.POST("/skip", h.SkipTarget)
		camp.POST("/disposition", h.SetDisposition)
		camp.POST("/notes", h.SetNotes)
	}
	mgr := protected.Group("/campaign")
	mgr.Use(rbac.RequireAnyRole(rbac.Managers...))
	{
		mgr.POST("", h.StartCampaign)
		mgr.POST("/stop", h.StopCampaign)
	}

	// AUDIT routes (hidden auditor role is allowed explicitly)
	aud := protected.Group("/audit")
	aud.Use(rbac.RequireAnyRole(append([]string{rbac.RoleAuditor}, rbac.Managers...)...))
	{
		aud.GET("", h.RecentAudit)
	}
}
