// Package dialer is the state container for one operator seat: the device
// session, the call machine and at most one campaign, all owned by a single
// event loop.
//
// Callers outside the loop use the exported methods, which post work onto
// the loop and wait for the reply. Gateway events, timers and background
// I/O completions are posted the same way, so no state is ever touched from
// two goroutines.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/credential"
	"telecom-dialer/internal/device"
	"telecom-dialer/internal/eventloop"
	"telecom-dialer/internal/notify"
	"telecom-dialer/internal/outcome"
	"telecom-dialer/internal/permission"
	"telecom-dialer/internal/telephony"
)

var (
	ErrNoCampaign       = errors.New("dialer: no campaign")
	ErrCampaignActive   = errors.New("dialer: a campaign is already running")
	ErrNoPendingOutcome = errors.New("dialer: no finished call awaiting an outcome")
)

type Config struct {
	RegistrationTimeout time.Duration
	SettleDelay         time.Duration
	RetryBackoff        time.Duration
	DefaultDisposition  outcome.Disposition
	DefaultCountryCode  string
	CallerID            string
	// PersistTimeout bounds one outcome write.
	PersistTimeout time.Duration
}

type Deps struct {
	Clock    clock.Clock
	Gate     *permission.Gate
	Issuer   credential.Issuer
	Gateways telephony.Factory
	Lease    device.Lease
	Sink     outcome.Sink
	Notifier notify.Notifier
	Log      *slog.Logger
}

// DeviceStatus is a read-only view of the device session.
type DeviceStatus struct {
	State     device.State `json:"state"`
	LastError string       `json:"last_error,omitempty"`
	Permitted bool         `json:"audio_permitted"`
}

type Engine struct {
	cfg      Config
	loop     *eventloop.Loop
	clk      clock.Clock
	gate     *permission.Gate
	sink     outcome.Sink
	notifier notify.Notifier
	log      *slog.Logger

	device   *device.Session
	calls    *calls.Machine
	campaign *campaign.Campaign

	// pending is the candidate record of the last manual call, held until
	// the operator saves it or another manual call replaces it.
	pending *outcome.Record

	campaignWaiters []chan campaign.Snapshot

	persist inflight
}

// inflight counts outcome writes that have not returned. Unlike a
// WaitGroup it may be added to while someone is waiting.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

// wait returns once the count has dropped to zero.
func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func New(cfg Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = outcome.NewService(outcome.NewMemoryRepo())
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{Log: deps.Log}
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}

	e := &Engine{
		cfg:      cfg,
		loop:     eventloop.New(512, deps.Log),
		clk:      deps.Clock,
		gate:     deps.Gate,
		sink:     deps.Sink,
		notifier: deps.Notifier,
		log:      deps.Log.With("component", "dialer"),
	}
	e.calls = calls.NewMachine(deps.Clock, deps.Log)
	e.device = device.New(device.Deps{
		Loop:     e.loop,
		Clock:    deps.Clock,
		Gate:     deps.Gate,
		Issuer:   deps.Issuer,
		Gateways: deps.Gateways,
		Lease:    deps.Lease,
		Log:      deps.Log,
	}, cfg.RegistrationTimeout)

	e.device.OnCallEvent(e.onCallEvent)
	e.device.OnStateChange(e.onDeviceState)
	e.calls.OnEnded(e.onCallEnded)
	return e
}

// Run drives the event loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.loop.Run(ctx)
}

// Sync returns once everything posted to the loop before the call has run.
func (e *Engine) Sync(ctx context.Context) error {
	return e.loop.Sync(ctx)
}

// WaitPersisted blocks until every submitted outcome write has finished.
func (e *Engine) WaitPersisted(ctx context.Context) error {
	return e.persist.wait(ctx)
}

// Shutdown stops any campaign and waits for the gateway to confirm its call
// ended, then destroys the device session, which hangs up any manual call
// before the gateway closes, and waits for outstanding outcome writes.
//
// If ctx expires before the campaign call ends the device is destroyed
// anyway and ctx's error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	err := e.loop.Do(ctx, func() {
		if e.campaign == nil {
			close(stopped)
			return
		}
		e.campaign.Stop(func() { close(stopped) })
	})
	if errors.Is(err, eventloop.ErrStopped) {
		return e.WaitPersisted(ctx)
	}

	var waitErr error
	if err != nil {
		waitErr = err
	} else {
		select {
		case <-stopped:
		case <-ctx.Done():
			waitErr = ctx.Err()
			e.log.Warn("shutting down before the campaign call ended", "error", waitErr)
		}
	}

	destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()
	if err := e.loop.Do(destroyCtx, e.device.Destroy); err != nil && !errors.Is(err, eventloop.ErrStopped) {
		return errors.Join(waitErr, err)
	}
	if waitErr != nil {
		return waitErr
	}
	return e.WaitPersisted(ctx)
}

// destroyTimeout bounds the device teardown at shutdown, which may wait on
// the gateway to flush a queued hangup.
const destroyTimeout = 5 * time.Second

// do runs fn on the loop and returns its error.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	var out error
	if err := e.loop.Do(ctx, func() { out = fn() }); err != nil {
		return err
	}
	return out
}

func (e *Engine) notify(code notify.Code, level notify.Level, msg string, fields map[string]any) {
	n := notify.Notification{Code: code, Level: level, Message: msg, Fields: fields, At: e.clk.Now().UTC()}
	if err := e.notifier.Notify(context.Background(), n); err != nil {
		e.log.Warn("notification failed", "code", code, "error", err)
	}
}

// RequestAudioPermission runs the permission gate without registering.
func (e *Engine) RequestAudioPermission(ctx context.Context) error {
	if e.gate == nil {
		return permission.ErrPermissionDenied
	}
	return e.gate.Acquire(ctx)
}

// InitializeDevice brings the device to Ready with a fresh credential
// obtained with authToken. Concurrent callers share one attempt.
func (e *Engine) InitializeDevice(ctx context.Context, authToken string) error {
	res := make(chan error, 1)
	err := e.loop.Do(ctx, func() {
		e.device.Initialize(authToken, func(err error) { res <- err })
	})
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) DestroyDevice(ctx context.Context) error {
	return e.loop.Do(ctx, e.device.Destroy)
}

func (e *Engine) DeviceStatus(ctx context.Context) (DeviceStatus, error) {
	var st DeviceStatus
	err := e.loop.Do(ctx, func() {
		st.State = e.device.State()
		if err := e.device.LastError(); err != nil {
			st.LastError = err.Error()
		}
	})
	if e.gate != nil {
		st.Permitted = e.gate.Unlocked()
	}
	return st, err
}

func (e *Engine) onDeviceState(prev, next device.State, err error) {
	switch next {
	case device.StateReady:
		e.notify(notify.CodeDeviceReady, notify.LevelInfo, "device ready", nil)
		return
	case device.StateFailed:
		e.calls.Fail(err)
		if e.campaign != nil {
			e.campaign.OnDeviceFailed(err)
		}
		e.notify(notify.CodeDeviceFailed, notify.LevelError, "device failed", map[string]any{"error": errString(err)})
	case device.StateUnregistered:
		if errors.Is(err, permission.ErrPermissionRequired) {
			e.notify(notify.CodePermissionRequired, notify.LevelWarn, "audio permission required", nil)
		}
		if prev == device.StateReady {
			e.calls.Fail(device.ErrDestroyed)
		}
	}
}

func (e *Engine) onCallEvent(ev telephony.Event) {
	if ev.Type != telephony.EventIncoming {
		e.calls.Handle(ev)
		return
	}
	if _, err := e.calls.Incoming(ev.Call, ev.From); err != nil {
		e.notify(notify.CodeIncomingRejected, notify.LevelWarn, "inbound call rejected while busy",
			map[string]any{"call_id": ev.Call.ID(), "from": ev.From})
	}
}

// PlaceCall dials phone on the shared device. The returned session is
// Connecting.
func (e *Engine) PlaceCall(ctx context.Context, phone string) (calls.Session, error) {
	to, err := telephony.NormalizeE164(phone, e.cfg.DefaultCountryCode)
	if err != nil {
		return calls.Session{}, err
	}
	var s calls.Session
	err = e.do(ctx, func() error {
		var perr error
		s, perr = e.place(ctx, to)
		if perr == nil && e.pending != nil {
			e.log.Info("discarding unsaved outcome", "call_id", e.pending.CallID)
			e.pending = nil
		}
		return perr
	})
	return s, err
}

func (e *Engine) place(ctx context.Context, to string) (calls.Session, error) {
	return e.calls.Place(ctx, e.device, telephony.ConnectParams{To: to, CallerID: e.cfg.CallerID})
}

func (e *Engine) Hangup(ctx context.Context) error {
	return e.do(ctx, e.calls.Hangup)
}

func (e *Engine) Mute(ctx context.Context, muted bool) error {
	return e.do(ctx, func() error { return e.calls.Mute(muted) })
}

func (e *Engine) Answer(ctx context.Context) error {
	return e.do(ctx, e.calls.Answer)
}

func (e *Engine) Reject(ctx context.Context) error {
	return e.do(ctx, e.calls.Reject)
}

// ActiveCall returns the active call, or the most recently ended one with
// ok false.
func (e *Engine) ActiveCall(ctx context.Context) (s calls.Session, ok bool, err error) {
	err = e.loop.Do(ctx, func() {
		if s, ok = e.calls.Active(); !ok {
			s, _ = e.calls.Last()
		}
	})
	return s, ok, err
}

func (e *Engine) onCallEnded(s calls.Session) {
	if s.EndReason == calls.EndReasonFailed && !s.HangupRequested {
		e.notify(notify.CodeCallFailed, notify.LevelWarn, "call failed", map[string]any{
			"call_id": s.ID,
			"cause":   s.Cause,
			"error":   s.LastError,
		})
	}

	if e.campaign != nil && e.campaign.CallID() == s.ID {
		e.campaign.OnCallEnded(s)
		return
	}

	started := s.StartedAt
	rec := outcome.Record{
		Phone:           s.Target,
		CallID:          s.ID,
		Direction:       string(s.Direction),
		Disposition:     campaign.DispositionFor(s, e.cfg.DefaultDisposition),
		Error:           s.LastError,
		StartedAt:       &started,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
	}
	e.pending = &rec
	e.notify(notify.CodeCallFinished, notify.LevelInfo, "call finished", map[string]any{
		"call_id":          s.ID,
		"disposition":      rec.Disposition,
		"duration_seconds": rec.DurationSeconds,
	})
}

// PendingOutcome returns the unsaved record of the last manual call.
func (e *Engine) PendingOutcome(ctx context.Context) (outcome.Record, error) {
	var rec outcome.Record
	err := e.do(ctx, func() error {
		if e.pending == nil {
			return ErrNoPendingOutcome
		}
		rec = *e.pending
		return nil
	})
	return rec, err
}

// SaveOutcome persists the last manual call's record with the operator's
// disposition and notes. An empty disposition keeps the derived one. On a
// sink failure the record stays pending.
func (e *Engine) SaveOutcome(ctx context.Context, d outcome.Disposition, notes string) (outcome.Record, error) {
	if d != "" && !d.Valid() {
		return outcome.Record{}, fmt.Errorf("%w: %q", campaign.ErrInvalidDisposition, d)
	}
	var rec outcome.Record
	err := e.do(ctx, func() error {
		if e.pending == nil {
			return ErrNoPendingOutcome
		}
		rec = *e.pending
		e.pending = nil
		return nil
	})
	if err != nil {
		return outcome.Record{}, err
	}
	if d != "" {
		rec.Disposition = d
	}
	rec.Notes = notes
	rec.ID = uuid.NewString()
	rec.CreatedAt = e.clk.Now().UTC()

	if err := e.sink.RecordCallOutcome(ctx, rec); err != nil {
		restore := rec
		e.loop.Post(func() {
			if e.pending == nil {
				e.pending = &restore
			}
		})
		return outcome.Record{}, err
	}
	return rec, nil
}

// Submit persists a campaign record off the loop. A failed write is
// reported and does not stop the campaign.
func (e *Engine) Submit(rec outcome.Record) {
	e.persist.add()
	go func() {
		defer e.persist.done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
		defer cancel()
		if err := e.sink.RecordCallOutcome(ctx, rec); err != nil {
			e.log.Error("outcome persist failed",
				"campaign_id", rec.CampaignID,
				"target_id", rec.TargetID,
				"error", err,
			)
			e.loop.Post(func() {
				e.notify(notify.CodeOutcomePersistFailed, notify.LevelError, "outcome could not be saved", map[string]any{
					"campaign_id": rec.CampaignID,
					"target_id":   rec.TargetID,
					"error":       err.Error(),
				})
			})
		}
	}()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
