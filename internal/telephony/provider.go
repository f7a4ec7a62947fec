package telephony

import (
	"context"
	"errors"
	"fmt"

	"telecom-dialer/internal/credential"
)

// Gateway is the provider-agnostic telephony client used by the device
// session.
//
// Rules:
// - No provider protocol calls outside telephony adapters.
// - Adapters never mutate dialer state; they only report Events through the
//   Handler given to their Factory.
// - Register is non-blocking. Registration completes when the adapter emits
//   EventRegistered (or EventError).
type Gateway interface {
	Register(ctx context.Context, cred credential.Credential) error
	Connect(ctx context.Context, p ConnectParams) (Call, error)
	Close() error
}

// Call is the handle for one call placed through, or offered by, a Gateway.
// Every method is a request; the outcome arrives later as an Event.
type Call interface {
	// ID is the gateway-assigned call identifier.
	ID() string
	Disconnect() error
	Mute(muted bool) error
	Accept() error
	Reject() error
}

// Handler receives gateway events. Adapters may call it from any goroutine.
type Handler func(Event)

// Factory builds a Gateway bound to h. The device session calls it once per
// registration attempt.
type Factory func(h Handler) (Gateway, error)

type ConnectParams struct {
	// To is E.164.
	To       string            `json:"to"`
	CallerID string            `json:"caller_id,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
}

type EventType string

const (
	EventRegistered EventType = "registered"
	EventError      EventType = "error"
	EventIncoming   EventType = "incoming"
	EventAccept     EventType = "accept"
	EventDisconnect EventType = "disconnect"
	EventCancel     EventType = "cancel"
	EventReject     EventType = "reject"
	EventMute       EventType = "mute"
)

// Event is one gateway notification. Call is nil for device-level events
// (registered, device error).
type Event struct {
	Type  EventType
	Call  Call
	Muted bool
	Cause Cause
	Err   error
	// From is the caller for EventIncoming.
	From string
}

// Cause classifies why the far end or the network ended a call.
type Cause string

const (
	CauseNormal     Cause = "normal_clearing"
	CauseBusy       Cause = "busy"
	CauseNoAnswer   Cause = "no_answer"
	CauseRejected   Cause = "rejected"
	CauseCanceled   Cause = "canceled"
	CauseCongestion Cause = "congestion"
	CauseUnknown    Cause = "unknown"
)

// GatewayError carries a provider failure detail.
type GatewayError struct {
	Detail string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway error: %s: %v", e.Detail, e.Err)
	}
	return "gateway error: " + e.Detail
}

func (e *GatewayError) Unwrap() error { return e.Err }

// AsGatewayError returns err unchanged when it already is a *GatewayError,
// and wraps it otherwise.
func AsGatewayError(detail string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Detail: detail, Err: err}
}

var ErrUnsupported = errors.New("telephony: operation not supported by gateway")
