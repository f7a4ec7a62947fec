package httpapi

import (
	"context"
	"errors"
	"net/http"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/device"
	"telecom-dialer/internal/dialer"
	"telecom-dialer/internal/eventloop"
	"telecom-dialer/internal/outcome"
	"telecom-dialer/internal/permission"
	"telecom-dialer/internal/telephony"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps a domain error to an HTTP status and a stable error code.
// Order matters: bring-up wraps the gate's denial in ErrPermissionRequired.
func statusFor(err error) (int, string) {
	var ge *telephony.GatewayError
	switch {
	case errors.Is(err, permission.ErrPermissionRequired):
		return http.StatusForbidden, "permission_required"
	case errors.Is(err, permission.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, calls.ErrDeviceNotReady):
		return http.StatusConflict, "device_not_ready"
	case errors.Is(err, calls.ErrCallAlreadyActive):
		return http.StatusConflict, "call_already_active"
	case errors.Is(err, calls.ErrNoActiveCall):
		return http.StatusConflict, "no_active_call"
	case errors.Is(err, calls.ErrInvalidCallState):
		return http.StatusConflict, "invalid_call_state"
	case errors.Is(err, device.ErrLeaseUnavailable):
		return http.StatusConflict, "device_leased"
	case errors.Is(err, device.ErrRegistrationTimeout):
		return http.StatusGatewayTimeout, "registration_timeout"
	case errors.Is(err, telephony.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case errors.As(err, &ge):
		return http.StatusBadGateway, "gateway_error"
	case errors.Is(err, telephony.ErrInvalidPhone),
		errors.Is(err, campaign.ErrInvalidDisposition),
		errors.Is(err, campaign.ErrNoTargets),
		errors.Is(err, campaign.ErrInvalidTarget),
		errors.Is(err, campaign.ErrInvalidFile),
		errors.Is(err, outcome.ErrInvalidRecord):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, campaign.ErrInvalidState):
		return http.StatusConflict, "invalid_campaign_state"
	case errors.Is(err, dialer.ErrCampaignActive):
		return http.StatusConflict, "campaign_active"
	case errors.Is(err, dialer.ErrNoCampaign):
		return http.StatusNotFound, "no_campaign"
	case errors.Is(err, dialer.ErrNoPendingOutcome):
		return http.StatusNotFound, "no_pending_outcome"
	case errors.Is(err, outcome.ErrOutcomeSinkFailure):
		return http.StatusServiceUnavailable, "outcome_sink_failure"
	case errors.Is(err, eventloop.ErrStopped):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "code", code, "err", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_request"})
}
