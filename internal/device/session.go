// Package device owns the single registered endpoint this process keeps
// with the telephony gateway.
//
// Session is loop-owned: every method must run on the dialer event loop.
// Slow work (permission prompt, lease, credential fetch, gateway dial) runs
// on helper goroutines whose results are posted back to the loop and
// discarded if a newer attempt or a Destroy happened in the meantime.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/credential"
	"telecom-dialer/internal/eventloop"
	"telecom-dialer/internal/permission"
	"telecom-dialer/internal/telephony"
)

type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistering  State = "registering"
	StateReady        State = "ready"
	StateFailed       State = "failed"
)

var (
	ErrRegistrationTimeout = errors.New("device: registration timed out")
	ErrDestroyed           = errors.New("device: session destroyed")
	ErrLeaseUnavailable    = errors.New("device: another session holds the device lease")
)

const DefaultRegistrationTimeout = 10 * time.Second

// Lease guards against two processes registering the same operator
// endpoint at once.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Deps struct {
	Loop     eventloop.Poster
	Clock    clock.Clock
	Gate     *permission.Gate
	Issuer   credential.Issuer
	Gateways telephony.Factory
	// Lease is optional.
	Lease Lease
	Log   *slog.Logger
}

// StateListener is told about every state change. err is the failure that
// caused a move to Failed (or Unregistered after a permission failure).
// On the way down listeners run before the gateway is closed, so calls can
// still be hung up through it.
type StateListener func(prev, next State, err error)

type Session struct {
	loop     eventloop.Poster
	clk      clock.Clock
	gate     *permission.Gate
	issuer   credential.Issuer
	gateways telephony.Factory
	lease    Lease
	log      *slog.Logger

	registrationTimeout time.Duration

	state   State
	lastErr error

	// attempt identifies the current bring-up. Callbacks carrying an older
	// value are stale and dropped.
	attempt   uint64
	gw        telephony.Gateway
	timer     clock.Timer
	leaseHeld bool
	waiters   []func(error)

	stateListeners []StateListener
	callEvents     func(telephony.Event)
}

func New(deps Deps, registrationTimeout time.Duration) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if registrationTimeout <= 0 {
		registrationTimeout = DefaultRegistrationTimeout
	}
	return &Session{
		loop:                deps.Loop,
		clk:                 deps.Clock,
		gate:                deps.Gate,
		issuer:              deps.Issuer,
		gateways:            deps.Gateways,
		lease:               deps.Lease,
		log:                 deps.Log.With("component", "device"),
		registrationTimeout: registrationTimeout,
		state:               StateUnregistered,
	}
}

func (s *Session) State() State     { return s.state }
func (s *Session) LastError() error { return s.lastErr }
func (s *Session) Ready() bool      { return s.state == StateReady && s.gw != nil }

// OnStateChange registers l.
func (s *Session) OnStateChange(l StateListener) {
	s.stateListeners = append(s.stateListeners, l)
}

// OnCallEvent sets the receiver for call-scoped and incoming gateway events.
func (s *Session) OnCallEvent(fn func(telephony.Event)) { s.callEvents = fn }

// Initialize brings the device to Ready and calls done with the result.
// While Ready, done(nil) runs at once; while Registering, done joins the
// in-flight attempt.
func (s *Session) Initialize(authToken string, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	switch s.state {
	case StateReady:
		done(nil)
		return
	case StateRegistering:
		s.waiters = append(s.waiters, done)
		return
	}

	s.attempt++
	att := s.attempt
	s.lastErr = nil
	s.waiters = append(s.waiters, done)
	s.setState(StateRegistering, nil)
	s.log.Info("device registration started", "attempt", att)

	go s.bringUp(att, authToken)
}

type bringUpResult struct {
	cred   credential.Credential
	leased bool
	err    error
	// permission failures return to Unregistered instead of Failed.
	permission bool
}

func (s *Session) bringUp(att uint64, authToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.registrationTimeout)
	defer cancel()

	var res bringUpResult
	defer func() {
		if !s.loop.Post(func() { s.onBringUp(att, res) }) && res.leased {
			s.releaseLease()
		}
	}()

	if s.gate == nil {
		res.err, res.permission = permission.ErrPermissionRequired, true
		return
	}
	if err := s.gate.Acquire(ctx); err != nil {
		res.err = fmt.Errorf("%w: %w", permission.ErrPermissionRequired, err)
		res.permission = true
		return
	}

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			res.err = telephony.AsGatewayError("device lease", err)
			return
		}
		if !ok {
			res.err = ErrLeaseUnavailable
			return
		}
		res.leased = true
	}

	if s.issuer == nil {
		res.err = &telephony.GatewayError{Detail: "no credential issuer configured"}
		return
	}
	cred, err := s.issuer.FetchSessionCredential(ctx, authToken)
	if err != nil {
		res.err = telephony.AsGatewayError("fetch credential", err)
		return
	}
	res.cred = cred
}

func (s *Session) onBringUp(att uint64, res bringUpResult) {
	if att != s.attempt || s.state != StateRegistering {
		if res.leased {
			s.releaseLease()
		}
		return
	}
	s.leaseHeld = s.leaseHeld || res.leased

	if res.err != nil {
		if res.permission {
			s.fail(StateUnregistered, res.err)
			return
		}
		s.fail(StateFailed, res.err)
		return
	}

	gw, err := s.gateways(s.handlerFor(att))
	if err != nil {
		s.fail(StateFailed, telephony.AsGatewayError("create gateway", err))
		return
	}
	s.gw = gw
	s.timer = s.clk.AfterFunc(s.registrationTimeout, func() {
		s.loop.Post(func() { s.onTimeout(att) })
	})

	cred := res.cred
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.registrationTimeout)
		defer cancel()
		if err := gw.Register(ctx, cred); err != nil {
			s.loop.Post(func() { s.onRegisterError(att, err) })
		}
	}()
}

func (s *Session) handlerFor(att uint64) telephony.Handler {
	return func(ev telephony.Event) {
		s.loop.Post(func() { s.onGatewayEvent(att, ev) })
	}
}

func (s *Session) onRegisterError(att uint64, err error) {
	if att != s.attempt || s.state != StateRegistering {
		return
	}
	s.fail(StateFailed, telephony.AsGatewayError("register", err))
}

func (s *Session) onTimeout(att uint64) {
	if att != s.attempt || s.state != StateRegistering {
		return
	}
	s.log.Warn("device registration timed out", "attempt", att, "timeout", s.registrationTimeout)
	s.fail(StateFailed, ErrRegistrationTimeout)
}

func (s *Session) onGatewayEvent(att uint64, ev telephony.Event) {
	if att != s.attempt {
		s.log.Debug("dropping event from stale gateway", "event", ev.Type)
		return
	}

	if ev.Call != nil {
		if s.state == StateReady && s.callEvents != nil {
			s.callEvents(ev)
		}
		return
	}

	switch ev.Type {
	case telephony.EventRegistered:
		if s.state != StateRegistering {
			return
		}
		s.stopTimer()
		s.setState(StateReady, nil)
		s.log.Info("device ready", "attempt", att)
		s.resolve(nil)

	case telephony.EventError:
		if s.state != StateRegistering && s.state != StateReady {
			return
		}
		err := telephony.AsGatewayError("device", ev.Err)
		if err == nil {
			err = &telephony.GatewayError{Detail: "device error"}
		}
		s.fail(StateFailed, err)
	}
}

// Connect places a call through the registered gateway.
func (s *Session) Connect(ctx context.Context, p telephony.ConnectParams) (telephony.Call, error) {
	if !s.Ready() {
		return nil, calls.ErrDeviceNotReady
	}
	return s.gw.Connect(ctx, p)
}

// Destroy tears the session down to Unregistered. Pending Initialize
// callers receive ErrDestroyed.
func (s *Session) Destroy() {
	if s.state == StateUnregistered && s.gw == nil && len(s.waiters) == 0 {
		return
	}
	s.attempt++
	s.lastErr = nil
	s.setState(StateUnregistered, nil)
	s.teardown()
	s.resolve(ErrDestroyed)
	s.log.Info("device destroyed")
}

func (s *Session) fail(next State, err error) {
	s.attempt++
	s.lastErr = err
	s.log.Error("device failed", "state", next, "error", err)
	s.setState(next, err)
	s.teardown()
	s.resolve(err)
}

func (s *Session) teardown() {
	s.stopTimer()
	if s.gw != nil {
		if err := s.gw.Close(); err != nil {
			s.log.Warn("gateway close failed", "error", err)
		}
		s.gw = nil
	}
	if s.leaseHeld {
		s.leaseHeld = false
		s.releaseLease()
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) releaseLease() {
	if s.lease == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lease.Release(ctx); err != nil {
			s.log.Warn("device lease release failed", "error", err)
		}
	}()
}

func (s *Session) setState(next State, err error) {
	prev := s.state
	s.state = next
	if prev == next {
		return
	}
	for _, l := range s.stateListeners {
		l(prev, next, err)
	}
}

func (s *Session) resolve(err error) {
	waiters := s.waiters
	s.waiters = nil
	for _, w := range waiters {
		w(err)
	}
}
