// Package campaign drives an ordered list of targets through the call
// machine one at a time: dial, wait for the call to end, record exactly
// one outcome, settle, advance.
//
// A Campaign is loop-owned. Every exported method, and every callback it
// receives, must run on the dialer event loop.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/device"
	"telecom-dialer/internal/eventloop"
	"telecom-dialer/internal/outcome"
	"telecom-dialer/internal/telephony"
)

const (
	DefaultSettleDelay  = 1500 * time.Millisecond
	DefaultRetryBackoff = 2 * time.Second
)

// Line is the shared device/call surface the campaign dials through. Calls
// placed outside the campaign are visible through ActiveCall too.
type Line interface {
	ActiveCall() (calls.Session, bool)
	PlaceCall(ctx context.Context, phone string) (calls.Session, error)
	HangupCall() error
	DeviceState() device.State
	DeviceError() error
}

// Recorder accepts finished-target records. It must not block; failures
// are the recorder's to report.
type Recorder interface {
	Submit(rec outcome.Record)
}

type Options struct {
	ID string
	// DefaultDisposition applies to calls that connected and ended without
	// an operator choice. Defaults to connected.
	DefaultDisposition outcome.Disposition
	SettleDelay        time.Duration
	RetryBackoff       time.Duration
	StartPaused        bool
	DefaultCountryCode string
}

// Hooks are optional observers, called on the loop.
type Hooks struct {
	TargetFinished func(t Target, rec outcome.Record)
	Halted         func(err error)
	Finished       func(s Snapshot)
}

type Deps struct {
	Line     Line
	Recorder Recorder
	Loop     eventloop.Poster
	Clock    clock.Clock
	Log      *slog.Logger
	Hooks    Hooks
}

type pendingDisposition struct {
	disposition outcome.Disposition
	notes       string
}

type Campaign struct {
	id    string
	opts  Options
	line  Line
	rec   Recorder
	loop  eventloop.Poster
	clk   clock.Clock
	log   *slog.Logger
	hooks Hooks

	targets []Target
	cursor  int
	state   State
	paused  bool
	haltErr error

	// callID binds the active call to targets[cursor].
	callID        string
	pending       *pendingDisposition
	skipRequested bool
	stopRequested bool
	// advancePending is set when a halt caught the current target already
	// finished; Resume advances before dialing.
	advancePending bool

	timer    clock.Timer
	timerGen uint64

	stopWaiters []func()
}

// New validates targets and normalizes their phone numbers. Numbers that
// cannot be normalized are kept and fail at dial time without a call.
func New(targets []Target, opts Options, deps Deps) (*Campaign, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if opts.DefaultDisposition == "" {
		opts.DefaultDisposition = outcome.DispositionConnected
	}
	if !opts.DefaultDisposition.Valid() || opts.DefaultDisposition == outcome.DispositionSkipped {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDisposition, opts.DefaultDisposition)
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	own := make([]Target, len(targets))
	copy(own, targets)
	if err := CheckTargets(own); err != nil {
		return nil, err
	}
	for i, t := range own {
		t.Status = StatusWaiting
		t.CallID, t.Error = "", ""
		if phone, err := telephony.NormalizeE164(t.Phone, opts.DefaultCountryCode); err == nil {
			t.Phone = phone
		} else {
			t.invalid = true
		}
		own[i] = t
	}

	return &Campaign{
		id:      opts.ID,
		opts:    opts,
		line:    deps.Line,
		rec:     deps.Recorder,
		loop:    deps.Loop,
		clk:     deps.Clock,
		log:     deps.Log.With("component", "campaign", "campaign_id", opts.ID),
		hooks:   deps.Hooks,
		targets: own,
		state:   StateNotStarted,
	}, nil
}

// CheckTargets gives targets without an id their 1-based position and
// rejects targets with no phone or a repeated id. It edits targets in place.
func CheckTargets(targets []Target) error {
	seen := make(map[string]int, len(targets))
	for i := range targets {
		t := &targets[i]
		if t.ID == "" {
			t.ID = strconv.Itoa(i + 1)
		}
		if strings.TrimSpace(t.Phone) == "" {
			return fmt.Errorf("%w: target %q has no phone", ErrInvalidTarget, t.ID)
		}
		if prev, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate target id %q (entries %d and %d)", ErrInvalidTarget, t.ID, prev+1, i+1)
		}
		seen[t.ID] = i
	}
	return nil
}

func (c *Campaign) ID() string     { return c.id }
func (c *Campaign) State() State   { return c.state }
func (c *Campaign) Finished() bool { return c.state == StateFinished }

// CallID is the gateway id of the call bound to the current target.
func (c *Campaign) CallID() string { return c.callID }

func (c *Campaign) Snapshot() Snapshot {
	s := Snapshot{
		ID:            c.id,
		State:         c.state,
		Paused:        c.paused,
		Cursor:        c.cursor,
		Total:         len(c.targets),
		CurrentCallID: c.callID,
		Targets:       make([]Target, len(c.targets)),
	}
	copy(s.Targets, c.targets)
	if c.haltErr != nil {
		s.HaltError = c.haltErr.Error()
	}
	return s
}

// Start begins at target 0, or parks in Paused when StartPaused is set.
func (c *Campaign) Start() error {
	if c.state != StateNotStarted {
		return ErrInvalidState
	}
	c.cursor = 0
	c.log.Info("campaign started", "targets", len(c.targets))
	if c.opts.StartPaused {
		c.paused = true
		c.state = StatePaused
		return nil
	}
	c.dialCurrent()
	return nil
}

// Pause stops auto-advance. An active call is left alone.
func (c *Campaign) Pause() error {
	switch c.state {
	case StateFinished:
		return ErrInvalidState
	case StateDialing, StateAdvancing:
		c.cancelTimer()
		c.state = StatePaused
	}
	c.paused = true
	c.log.Info("campaign paused", "cursor", c.cursor)
	return nil
}

// Resume re-arms auto-advance from where the campaign stopped.
func (c *Campaign) Resume() error {
	if c.state == StateFinished {
		return ErrInvalidState
	}
	c.paused = false
	c.haltErr = nil
	c.log.Info("campaign resumed", "cursor", c.cursor)
	if c.state != StatePaused {
		return nil
	}
	if c.advancePending {
		c.advance()
		return nil
	}
	c.dialCurrent()
	return nil
}

// Skip marks the current target Skipped. With a call in progress the
// target is finalized only after the gateway confirms the hangup.
func (c *Campaign) Skip() error {
	switch c.state {
	case StateAwaiting:
		c.skipRequested = true
		if err := c.line.HangupCall(); err != nil && !errors.Is(err, calls.ErrNoActiveCall) {
			c.log.Warn("hangup for skip failed", "error", err)
		}
		return nil
	case StateDialing, StateAdvancing:
		c.cancelTimer()
	case StatePaused:
		if c.advancePending {
			return ErrInvalidState
		}
	default:
		return ErrInvalidState
	}
	c.log.Info("target skipped", "target_id", c.targets[c.cursor].ID)
	c.finalize(outcome.DispositionSkipped, "", nil)
	c.afterFinalize()
	return nil
}

// Disposition records the operator's outcome for the current call and
// hangs it up. The record is written once the call has ended.
func (c *Campaign) Disposition(d outcome.Disposition, notes string) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDisposition, d)
	}
	if c.state != StateAwaiting {
		return ErrInvalidState
	}
	c.pending = &pendingDisposition{disposition: d, notes: notes}
	if err := c.line.HangupCall(); err != nil && !errors.Is(err, calls.ErrNoActiveCall) {
		c.log.Warn("hangup for disposition failed", "error", err)
	}
	return nil
}

// SetNotes updates the current target's notes while it is being called.
func (c *Campaign) SetNotes(notes string) error {
	if c.state != StateAwaiting || c.targets[c.cursor].Status != StatusCalling {
		return ErrInvalidState
	}
	c.targets[c.cursor].Notes = notes
	return nil
}

// Stop ends the campaign. With a call in progress it hangs up and done runs
// only after the gateway confirms; otherwise done runs immediately.
func (c *Campaign) Stop(done func()) {
	if done == nil {
		done = func() {}
	}
	if c.state == StateFinished {
		done()
		return
	}
	c.stopRequested = true
	c.cancelTimer()
	if c.callID != "" {
		c.stopWaiters = append(c.stopWaiters, done)
		if err := c.line.HangupCall(); err != nil && !errors.Is(err, calls.ErrNoActiveCall) {
			c.log.Warn("hangup for stop failed", "error", err)
		}
		return
	}
	c.stopWaiters = append(c.stopWaiters, done)
	c.finish()
}

// OnCallEnded consumes the terminal event of the call bound to the current
// target. Other calls are ignored.
func (c *Campaign) OnCallEnded(s calls.Session) {
	if c.callID == "" || s.ID != c.callID {
		return
	}
	c.callID = ""

	disposition, notes := c.decide(s)
	c.finalize(disposition, notes, &s)
	c.afterFinalize()
}

// OnDeviceFailed halts auto-advance. The current target keeps its place.
func (c *Campaign) OnDeviceFailed(err error) {
	switch c.state {
	case StateNotStarted, StateFinished:
		return
	case StateAwaiting:
		// The call teardown reaches OnCallEnded first and halts there.
		return
	}
	if c.haltErr != nil {
		return
	}
	c.halt(err)
}

func (c *Campaign) decide(s calls.Session) (outcome.Disposition, string) {
	switch {
	case c.skipRequested:
		return outcome.DispositionSkipped, ""
	case c.pending != nil:
		return c.pending.disposition, c.pending.notes
	}
	return DispositionFor(s, c.opts.DefaultDisposition), ""
}

// DispositionFor derives the outcome of a call that ended without an
// operator choice. connected applies to calls that were answered.
func DispositionFor(s calls.Session, connected outcome.Disposition) outcome.Disposition {
	if s.EndReason == calls.EndReasonConnected {
		if connected == "" {
			return outcome.DispositionConnected
		}
		return connected
	}
	switch s.Cause {
	case telephony.CauseBusy:
		return outcome.DispositionBusy
	case telephony.CauseNoAnswer:
		return outcome.DispositionNoAnswer
	default:
		return outcome.DispositionFailed
	}
}

func (c *Campaign) dialCurrent() {
	c.cancelTimer()
	if c.cursor >= len(c.targets) {
		c.finish()
		return
	}
	if c.paused {
		c.state = StatePaused
		return
	}
	c.state = StateDialing

	t := &c.targets[c.cursor]
	if t.Status.Terminal() {
		c.advance()
		return
	}
	if t.invalid {
		t.Error = telephony.ErrInvalidPhone.Error()
		c.log.Warn("target has an invalid phone number", "target_id", t.ID)
		c.finalize(outcome.DispositionFailed, "", nil)
		c.afterFinalize()
		return
	}

	switch c.line.DeviceState() {
	case device.StateFailed:
		c.halt(c.deviceError())
		return
	case device.StateReady:
	default:
		c.retryLater("device not ready")
		return
	}
	if _, active := c.line.ActiveCall(); active {
		c.retryLater("another call is active")
		return
	}

	s, err := c.line.PlaceCall(context.Background(), t.Phone)
	switch {
	case errors.Is(err, calls.ErrCallAlreadyActive), errors.Is(err, calls.ErrDeviceNotReady):
		c.retryLater(err.Error())
		return
	case err != nil:
		t.Error = err.Error()
		c.log.Warn("dial failed", "target_id", t.ID, "error", err)
		c.finalize(outcome.DispositionFailed, "", nil)
		c.afterFinalize()
		return
	}

	t.Status = StatusCalling
	t.CallID = s.ID
	c.callID = s.ID
	c.state = StateAwaiting
	c.log.Info("dialing target", "target_id", t.ID, "call_id", s.ID, "cursor", c.cursor)
}

func (c *Campaign) retryLater(reason string) {
	c.log.Debug("dial deferred", "reason", reason, "backoff", c.opts.RetryBackoff)
	c.schedule(c.opts.RetryBackoff, c.dialCurrent)
}

// finalize gives targets[cursor] its terminal status and submits its one
// outcome record. It reports false if the target was already terminal.
func (c *Campaign) finalize(d outcome.Disposition, notes string, s *calls.Session) bool {
	t := &c.targets[c.cursor]
	if t.Status.Terminal() {
		return false
	}
	t.Status = statusFor(d)
	if notes != "" {
		t.Notes = notes
	}

	rec := outcome.Record{
		CampaignID:  c.id,
		TargetID:    t.ID,
		Phone:       t.Phone,
		CallID:      t.CallID,
		Disposition: d,
		Notes:       t.Notes,
		Error:       t.Error,
	}
	if s != nil {
		started := s.StartedAt
		rec.StartedAt = &started
		rec.EndedAt = s.EndedAt
		rec.DurationSeconds = s.DurationSeconds
		rec.Direction = string(s.Direction)
		if s.LastError != "" && rec.Error == "" {
			t.Error = s.LastError
			rec.Error = s.LastError
		}
	}

	c.log.Info("target finished",
		"target_id", t.ID,
		"status", t.Status,
		"disposition", d,
		"duration_seconds", rec.DurationSeconds,
	)
	if c.rec != nil {
		c.rec.Submit(rec)
	}
	if c.hooks.TargetFinished != nil {
		c.hooks.TargetFinished(*t, rec)
	}
	return true
}

func (c *Campaign) afterFinalize() {
	c.skipRequested = false
	c.pending = nil

	if c.stopRequested {
		c.finish()
		return
	}
	if c.line.DeviceState() == device.StateFailed {
		c.advancePending = true
		c.halt(c.deviceError())
		return
	}
	c.advance()
}

func (c *Campaign) advance() {
	c.cancelTimer()
	c.advancePending = false
	c.cursor++
	if c.cursor >= len(c.targets) {
		c.finish()
		return
	}
	if c.paused {
		c.state = StatePaused
		return
	}
	c.state = StateAdvancing
	c.schedule(c.opts.SettleDelay, c.dialCurrent)
}

func (c *Campaign) halt(err error) {
	c.cancelTimer()
	c.paused = true
	c.state = StatePaused
	c.haltErr = err
	c.log.Error("campaign halted", "cursor", c.cursor, "error", err)
	if c.hooks.Halted != nil {
		c.hooks.Halted(err)
	}
}

func (c *Campaign) finish() {
	c.cancelTimer()
	if c.state == StateFinished {
		return
	}
	c.state = StateFinished
	c.log.Info("campaign finished", "cursor", c.cursor, "total", len(c.targets))
	if c.hooks.Finished != nil {
		c.hooks.Finished(c.Snapshot())
	}
	waiters := c.stopWaiters
	c.stopWaiters = nil
	for _, w := range waiters {
		w()
	}
}

func (c *Campaign) deviceError() error {
	if err := c.line.DeviceError(); err != nil {
		return err
	}
	return errors.New("device failed")
}

// schedule runs fn on the loop after d unless cancelTimer or another
// schedule call happens first.
func (c *Campaign) schedule(d time.Duration, fn func()) {
	c.cancelTimer()
	gen := c.timerGen
	c.timer = c.clk.AfterFunc(d, func() {
		c.loop.Post(func() {
			if gen != c.timerGen {
				return
			}
			c.timer = nil
			fn()
		})
	})
}

func (c *Campaign) cancelTimer() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
