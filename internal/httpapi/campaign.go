package httpapi

import (
	"context"
	"net/http"
	"time"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/outcome"

	"github.com/gin-gonic/gin"
)

type startCampaignRequest struct {
	ID                 string              `json:"id"`
	DefaultDisposition outcome.Disposition `json:"default_disposition"`
	StartPaused        bool                `json:"start_paused"`
	Targets            []campaign.Target   `json:"targets"`
}

func (h Handlers) StartCampaign(c *gin.Context) {
	var req startCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	snap, err := h.Dialer.StartCampaign(c.Request.Context(), req.Targets, campaign.Options{
		ID:                 req.ID,
		DefaultDisposition: req.DefaultDisposition,
		StartPaused:        req.StartPaused,
	})
	h.record(c, audit.EventTypeCampaign, "campaign.start", err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h Handlers) CampaignSnapshot(c *gin.Context) {
	snap, err := h.Dialer.CampaignSnapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) PauseCampaign(c *gin.Context) {
	h.campaignControl(c, "campaign.pause", h.Dialer.PauseCampaign)
}

func (h Handlers) ResumeCampaign(c *gin.Context) {
	h.campaignControl(c, "campaign.resume", h.Dialer.ResumeCampaign)
}

func (h Handlers) SkipTarget(c *gin.Context) {
	h.campaignControl(c, "campaign.skip", h.Dialer.SkipTarget)
}

type dispositionRequest struct {
	Disposition outcome.Disposition `json:"disposition"`
	Notes       string              `json:"notes"`
}

// SetDisposition ends the current campaign call with the operator's
// disposition. The campaign advances once the hangup is confirmed.
func (h Handlers) SetDisposition(c *gin.Context) {
	var req dispositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	h.campaignControl(c, "campaign.disposition", func(ctx context.Context) error {
		return h.Dialer.SetDisposition(ctx, req.Disposition, req.Notes)
	})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h Handlers) SetNotes(c *gin.Context) {
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	h.campaignControl(c, "campaign.notes", func(ctx context.Context) error {
		return h.Dialer.SetNotes(ctx, req.Notes)
	})
}

// StopCampaign returns once no campaign call is live. The wait is bounded
// so a gateway that never confirms the hangup cannot hold the request.
func (h Handlers) StopCampaign(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	snap, err := h.Dialer.StopCampaign(ctx)
	h.record(c, audit.EventTypeCampaign, "campaign.stop", err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) campaignControl(c *gin.Context, action string, fn func(ctx context.Context) error) {
	ctx := c.Request.Context()
	err := fn(ctx)
	h.record(c, audit.EventTypeCampaign, action, err)
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := h.Dialer.CampaignSnapshot(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
