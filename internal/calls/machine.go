package calls

import (
	"context"
	"errors"
	"log/slog"

	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/telephony"
)

var (
	ErrCallAlreadyActive = errors.New("calls: a call is already active")
	ErrDeviceNotReady    = errors.New("calls: device not ready")
	ErrNoActiveCall      = errors.New("calls: no active call")
	ErrInvalidCallState  = errors.New("calls: operation not valid in current call state")
)

// Dialer is the slice of the device session the machine needs.
type Dialer interface {
	Ready() bool
	Connect(ctx context.Context, p telephony.ConnectParams) (telephony.Call, error)
}

// Listener observes call sessions. It receives a snapshot after every
// change; the final one has State == StateEnded.
type Listener func(s Session)

// Machine owns the zero-or-one active call. It is not safe for concurrent
// use; the dialer engine drives it from its event loop.
type Machine struct {
	clk clock.Clock
	log *slog.Logger

	active *Session
	last   *Session

	listeners []Listener
	enders    []Listener
}

func NewMachine(clk clock.Clock, log *slog.Logger) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{clk: clk, log: log.With("component", "calls")}
}

// Subscribe registers l for every transition.
func (m *Machine) Subscribe(l Listener) { m.listeners = append(m.listeners, l) }

// OnEnded registers l for terminal transitions only.
func (m *Machine) OnEnded(l Listener) { m.enders = append(m.enders, l) }

// Active returns a snapshot of the active call.
func (m *Machine) Active() (Session, bool) {
	if m.active == nil {
		return Session{}, false
	}
	return m.active.withDuration(m.clk.Now()), true
}

// Last returns the most recently ended call.
func (m *Machine) Last() (Session, bool) {
	if m.last == nil {
		return Session{}, false
	}
	return m.last.withDuration(m.clk.Now()), true
}

// Place dials p.To. The returned session is Connecting; it connects or ends
// only when the gateway says so.
func (m *Machine) Place(ctx context.Context, d Dialer, p telephony.ConnectParams) (Session, error) {
	if m.active != nil {
		return Session{}, ErrCallAlreadyActive
	}
	if d == nil || !d.Ready() {
		return Session{}, ErrDeviceNotReady
	}

	h, err := d.Connect(ctx, p)
	if err != nil {
		return Session{}, telephony.AsGatewayError("connect", err)
	}

	s := &Session{
		ID:        h.ID(),
		Target:    p.To,
		Direction: DirectionOutbound,
		State:     StateConnecting,
		StartedAt: m.clk.Now(),
		handle:    h,
	}
	m.active = s
	m.log.Info("call placed", "call_id", s.ID, "target", s.Target)
	m.notify(*s)
	return *s, nil
}

// Incoming offers an inbound call. A call arriving while another is active
// is rejected at the gateway.
func (m *Machine) Incoming(h telephony.Call, from string) (Session, error) {
	if m.active != nil {
		if err := h.Reject(); err != nil {
			m.log.Warn("reject of concurrent inbound call failed", "call_id", h.ID(), "error", err)
		}
		return Session{}, ErrCallAlreadyActive
	}
	s := &Session{
		ID:        h.ID(),
		Target:    from,
		Direction: DirectionInbound,
		State:     StateConnecting,
		StartedAt: m.clk.Now(),
		handle:    h,
	}
	m.active = s
	m.log.Info("inbound call offered", "call_id", s.ID, "from", from)
	m.notify(*s)
	return *s, nil
}

// Handle applies a call-scoped gateway event. Events for any call other
// than the active one, and events after the end, are ignored.
func (m *Machine) Handle(ev telephony.Event) {
	if ev.Call == nil {
		return
	}
	s := m.active
	if s == nil || ev.Call.ID() != s.ID {
		m.log.Debug("ignoring event for inactive call", "event", ev.Type, "call_id", ev.Call.ID())
		return
	}

	switch s.State {
	case StateConnecting:
		switch ev.Type {
		case telephony.EventAccept:
			now := m.clk.Now()
			s.State = StateConnected
			s.ConnectedAt = &now
			m.log.Info("call connected", "call_id", s.ID)
			m.notify(*s)
		case telephony.EventCancel:
			m.end(EndReasonFailed, causeOr(ev.Cause, telephony.CauseCanceled), nil)
		case telephony.EventReject:
			m.end(EndReasonFailed, causeOr(ev.Cause, telephony.CauseRejected), nil)
		case telephony.EventError:
			m.end(EndReasonFailed, telephony.CauseUnknown, ev.Err)
		case telephony.EventDisconnect:
			cause := causeOr(ev.Cause, telephony.CauseUnknown)
			if s.HangupRequested {
				cause = telephony.CauseCanceled
			}
			m.end(EndReasonFailed, cause, nil)
		}

	case StateConnected:
		switch ev.Type {
		case telephony.EventDisconnect, telephony.EventCancel, telephony.EventReject:
			m.end(EndReasonConnected, causeOr(ev.Cause, telephony.CauseNormal), nil)
		case telephony.EventError:
			m.end(EndReasonFailed, telephony.CauseUnknown, ev.Err)
		case telephony.EventMute:
			if s.Muted != ev.Muted {
				s.Muted = ev.Muted
				m.notify(*s)
			}
		}
	}
}

// Hangup asks the gateway to end the active call. The session ends when the
// gateway confirms. A hangup request the gateway refuses ends the call as
// failed.
func (m *Machine) Hangup() error {
	s := m.active
	if s == nil {
		return ErrNoActiveCall
	}
	if s.HangupRequested {
		return nil
	}
	s.HangupRequested = true
	if err := s.handle.Disconnect(); err != nil {
		gerr := telephony.AsGatewayError("disconnect", err)
		m.end(EndReasonFailed, telephony.CauseUnknown, gerr)
		return gerr
	}
	m.notify(*s)
	return nil
}

// Mute requests a mute change. Outside Connected it is a no-op. Muted only
// changes on the gateway's acknowledgement.
func (m *Machine) Mute(muted bool) error {
	s := m.active
	if s == nil || s.State != StateConnected {
		return nil
	}
	if err := s.handle.Mute(muted); err != nil {
		return telephony.AsGatewayError("mute", err)
	}
	return nil
}

// Answer accepts the offered inbound call.
func (m *Machine) Answer() error {
	s, err := m.offered()
	if err != nil {
		return err
	}
	if err := s.handle.Accept(); err != nil {
		return telephony.AsGatewayError("accept", err)
	}
	return nil
}

// Reject declines the offered inbound call.
func (m *Machine) Reject() error {
	s, err := m.offered()
	if err != nil {
		return err
	}
	s.HangupRequested = true
	if err := s.handle.Reject(); err != nil {
		gerr := telephony.AsGatewayError("reject", err)
		m.end(EndReasonFailed, telephony.CauseUnknown, gerr)
		return gerr
	}
	return nil
}

func (m *Machine) offered() (*Session, error) {
	s := m.active
	if s == nil {
		return nil, ErrNoActiveCall
	}
	if s.Direction != DirectionInbound || s.State != StateConnecting {
		return nil, ErrInvalidCallState
	}
	return s, nil
}

// Fail force-ends the active call after a device-level failure. A
// best-effort disconnect is still sent.
func (m *Machine) Fail(err error) {
	s := m.active
	if s == nil {
		return
	}
	if derr := s.handle.Disconnect(); derr != nil {
		m.log.Warn("disconnect during failure teardown", "call_id", s.ID, "error", derr)
	}
	m.end(EndReasonFailed, telephony.CauseUnknown, err)
}

func (m *Machine) end(reason EndReason, cause telephony.Cause, err error) {
	s := m.active
	now := m.clk.Now()
	s.State = StateEnded
	s.EndedAt = &now
	s.EndReason = reason
	s.Cause = cause
	if err != nil {
		s.Err = err
		s.LastError = err.Error()
	}
	done := s.withDuration(now)
	m.active = nil
	m.last = &done

	m.log.Info("call ended",
		"call_id", s.ID,
		"end_reason", reason,
		"cause", cause,
		"duration_seconds", done.DurationSeconds,
	)
	m.notify(done)
	for _, l := range m.enders {
		l(done)
	}
}

func (m *Machine) notify(s Session) {
	snap := s.withDuration(m.clk.Now())
	for _, l := range m.listeners {
		l(snap)
	}
}

func causeOr(c, fallback telephony.Cause) telephony.Cause {
	if c == "" {
		return fallback
	}
	return c
}
