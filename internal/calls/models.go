package calls

import (
	"math"
	"time"

	"telecom-dialer/internal/telephony"
)

// Session is one call attempt under the device session.
//
// Invariants:
// - State only moves forward: idle -> connecting -> connected -> ended, or
//   connecting -> ended.
// - Every field change is driven by a gateway event, except HangupRequested
//   which records a local request.
// - Timestamps keep the clock's monotonic reading so Duration is immune to
//   wall-clock jumps.
type Session struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Direction Direction `json:"direction"`
	State     State     `json:"state"`

	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is filled on snapshots; zero until connected.
	DurationSeconds int `json:"duration_seconds"`

	Muted           bool            `json:"muted"`
	HangupRequested bool            `json:"hangup_requested,omitempty"`
	EndReason       EndReason       `json:"end_reason,omitempty"`
	Cause           telephony.Cause `json:"cause,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	Err             error           `json:"-"`

	handle telephony.Call
}

// Duration is the connected time up to now, or up to EndedAt once ended.
func (s Session) Duration(now time.Time) time.Duration {
	if s.ConnectedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(*s.ConnectedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (s Session) Active() bool {
	return s.State == StateConnecting || s.State == StateConnected
}

func (s Session) withDuration(now time.Time) Session {
	s.DurationSeconds = Seconds(s.Duration(now))
	return s
}

// Seconds rounds d to whole seconds.
func Seconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// EndReason is the coarse outcome: did the call ever connect.
type EndReason string

const (
	EndReasonConnected EndReason = "connected"
	EndReasonFailed    EndReason = "failed"
)
