package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/telephony"
)

type stubDialer struct {
	ready bool
	gw    *telephony.FakeGateway
}

func (d *stubDialer) Ready() bool { return d.ready }

func (d *stubDialer) Connect(ctx context.Context, p telephony.ConnectParams) (telephony.Call, error) {
	return d.gw.Connect(ctx, p)
}

type harness struct {
	clk    *clock.FakeClock
	gw     *telephony.FakeGateway
	dialer *stubDialer
	m      *Machine
	seen   []Session
	ended  []Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk: clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		gw:  telephony.NewFakeGateway(),
	}
	h.dialer = &stubDialer{ready: true, gw: h.gw}
	h.m = NewMachine(h.clk, nil)
	h.m.Subscribe(func(s Session) { h.seen = append(h.seen, s) })
	h.m.OnEnded(func(s Session) { h.ended = append(h.ended, s) })
	if _, err := h.gw.Factory()(h.m.Handle); err != nil {
		t.Fatalf("factory: %v", err)
	}
	return h
}

func (h *harness) place(t *testing.T) *telephony.FakeCall {
	t.Helper()
	if _, err := h.m.Place(context.Background(), h.dialer, telephony.ConnectParams{To: "+15551230000"}); err != nil {
		t.Fatalf("place: %v", err)
	}
	return h.gw.LastCall()
}

func TestMachine_AcceptThenDisconnect(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)

	s, ok := h.m.Active()
	if !ok || s.State != StateConnecting || s.ID != c.ID() {
		t.Fatalf("expected connecting session for %s, got %+v", c.ID(), s)
	}

	h.gw.Accept(c)
	h.clk.Advance(5 * time.Second)
	s, _ = h.m.Active()
	if s.State != StateConnected || s.DurationSeconds != 5 {
		t.Fatalf("expected connected for 5s, got %+v", s)
	}

	h.gw.Disconnect(c, telephony.CauseNormal)
	if _, ok := h.m.Active(); ok {
		t.Fatalf("expected no active call after disconnect")
	}
	if len(h.ended) != 1 {
		t.Fatalf("expected one ended notification, got %d", len(h.ended))
	}
	end := h.ended[0]
	if end.EndReason != EndReasonConnected || end.DurationSeconds != 5 || end.Cause != telephony.CauseNormal {
		t.Fatalf("unexpected end: %+v", end)
	}
}

func TestMachine_PlaceWhileActiveFails(t *testing.T) {
	h := newHarness(t)
	h.place(t)

	_, err := h.m.Place(context.Background(), h.dialer, telephony.ConnectParams{To: "+15551239999"})
	if !errors.Is(err, ErrCallAlreadyActive) {
		t.Fatalf("expected ErrCallAlreadyActive, got %v", err)
	}
	if n := len(h.gw.Calls()); n != 1 {
		t.Fatalf("expected a single gateway call, got %d", n)
	}
}

func TestMachine_PlaceRequiresReadyDevice(t *testing.T) {
	h := newHarness(t)
	h.dialer.ready = false

	_, err := h.m.Place(context.Background(), h.dialer, telephony.ConnectParams{To: "+15551230000"})
	if !errors.Is(err, ErrDeviceNotReady) {
		t.Fatalf("expected ErrDeviceNotReady, got %v", err)
	}
	if _, err := h.m.Place(context.Background(), nil, telephony.ConnectParams{To: "+15551230000"}); !errors.Is(err, ErrDeviceNotReady) {
		t.Fatalf("expected ErrDeviceNotReady for nil dialer, got %v", err)
	}
}

func TestMachine_SyncConnectErrorCreatesNoSession(t *testing.T) {
	h := newHarness(t)
	h.gw.ConnectErr = errors.New("trunk down")

	_, err := h.m.Place(context.Background(), h.dialer, telephony.ConnectParams{To: "+15551230000"})
	var ge *telephony.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if _, ok := h.m.Active(); ok {
		t.Fatalf("expected no session after connect error")
	}
}

func TestMachine_FailuresWhileConnecting(t *testing.T) {
	cases := []struct {
		name  string
		fire  func(h *harness, c *telephony.FakeCall)
		cause telephony.Cause
		err   bool
	}{
		{"cancel", func(h *harness, c *telephony.FakeCall) { h.gw.Cancel(c) }, telephony.CauseCanceled, false},
		{"reject busy", func(h *harness, c *telephony.FakeCall) { h.gw.Reject(c, telephony.CauseBusy) }, telephony.CauseBusy, false},
		{"error", func(h *harness, c *telephony.FakeCall) { h.gw.CallError(c, "sip 503") }, telephony.CauseUnknown, true},
		{"disconnect no answer", func(h *harness, c *telephony.FakeCall) { h.gw.Disconnect(c, telephony.CauseNoAnswer) }, telephony.CauseNoAnswer, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			c := h.place(t)
			tc.fire(h, c)

			if len(h.ended) != 1 {
				t.Fatalf("expected ended, got %d notifications", len(h.ended))
			}
			end := h.ended[0]
			if end.EndReason != EndReasonFailed || end.Cause != tc.cause {
				t.Fatalf("unexpected end: %+v", end)
			}
			if tc.err && end.Err == nil {
				t.Fatalf("expected error attached")
			}
		})
	}
}

func TestMachine_ErrorWhileConnectedEndsFailed(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)
	h.gw.Accept(c)
	h.gw.CallError(c, "media timeout")

	if _, ok := h.m.Active(); ok {
		t.Fatalf("error must end the call")
	}
	last, _ := h.m.Last()
	if last.EndReason != EndReasonFailed || last.LastError == "" {
		t.Fatalf("unexpected last call: %+v", last)
	}
}

func TestMachine_TerminalIsAbsorbing(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)
	h.gw.Accept(c)
	h.gw.Disconnect(c, telephony.CauseNormal)

	// Duplicate and out-of-order events after the end are ignored.
	h.gw.Disconnect(c, telephony.CauseNormal)
	h.gw.Accept(c)
	h.gw.CallError(c, "late")
	h.gw.MuteAck(c, true)

	if len(h.ended) != 1 {
		t.Fatalf("expected exactly one end, got %d", len(h.ended))
	}
	if _, ok := h.m.Active(); ok {
		t.Fatalf("ended call must not become active again")
	}
	for _, s := range h.seen[len(h.seen)-1:] {
		if s.State != StateEnded {
			t.Fatalf("last notification must be the end, got %s", s.State)
		}
	}
}

func TestMachine_StaleEventsForOldCallIgnored(t *testing.T) {
	h := newHarness(t)
	first := h.place(t)
	h.gw.Cancel(first)
	second := h.place(t)

	h.gw.Disconnect(first, telephony.CauseNormal)
	s, ok := h.m.Active()
	if !ok || s.ID != second.ID() || s.State != StateConnecting {
		t.Fatalf("stale disconnect affected the new call: %+v", s)
	}
}

func TestMachine_HangupIsARequest(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)
	h.gw.Accept(c)

	if err := h.m.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if err := h.m.Hangup(); err != nil {
		t.Fatalf("second hangup: %v", err)
	}
	if c.Disconnects() != 1 {
		t.Fatalf("expected one disconnect request, got %d", c.Disconnects())
	}
	s, ok := h.m.Active()
	if !ok || s.State != StateConnected || !s.HangupRequested {
		t.Fatalf("call must stay connected until confirmed, got %+v", s)
	}

	h.gw.Disconnect(c, telephony.CauseNormal)
	if _, ok := h.m.Active(); ok {
		t.Fatalf("expected call ended after confirmation")
	}
}

func TestMachine_HangupWhileConnectingEndsCanceled(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)
	_ = h.m.Hangup()
	h.gw.Disconnect(c, telephony.CauseNormal)

	if h.ended[0].Cause != telephony.CauseCanceled || h.ended[0].EndReason != EndReasonFailed {
		t.Fatalf("unexpected end: %+v", h.ended[0])
	}
}

func TestMachine_HangupWithoutCall(t *testing.T) {
	h := newHarness(t)
	if err := h.m.Hangup(); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall, got %v", err)
	}
}

func TestMachine_MuteOnlyOnAck(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)

	if err := h.m.Mute(true); err != nil {
		t.Fatalf("mute while connecting: %v", err)
	}
	if len(c.MuteRequests()) != 0 {
		t.Fatalf("mute must be a no-op while connecting")
	}

	h.gw.Accept(c)
	if err := h.m.Mute(true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if s, _ := h.m.Active(); s.Muted {
		t.Fatalf("muted must not change before the gateway ack")
	}
	h.gw.MuteAck(c, true)
	if s, _ := h.m.Active(); !s.Muted {
		t.Fatalf("expected muted after ack")
	}
}

func TestMachine_InboundAnswerAndBusyReject(t *testing.T) {
	h := newHarness(t)
	in := h.gw.EmitIncoming("+442079460958")
	if _, err := h.m.Incoming(in, "+442079460958"); err != nil {
		t.Fatalf("incoming: %v", err)
	}

	second := h.gw.EmitIncoming("+442079460000")
	if _, err := h.m.Incoming(second, "+442079460000"); !errors.Is(err, ErrCallAlreadyActive) {
		t.Fatalf("expected ErrCallAlreadyActive, got %v", err)
	}
	if second.Rejects() != 1 {
		t.Fatalf("expected concurrent inbound call rejected at the gateway")
	}

	if err := h.m.Answer(); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if in.Accepts() != 1 {
		t.Fatalf("expected accept forwarded")
	}
	h.gw.Accept(in)
	s, _ := h.m.Active()
	if s.Direction != DirectionInbound || s.State != StateConnected {
		t.Fatalf("unexpected inbound session: %+v", s)
	}
	if err := h.m.Answer(); !errors.Is(err, ErrInvalidCallState) {
		t.Fatalf("expected ErrInvalidCallState answering a connected call, got %v", err)
	}
}

func TestMachine_FailForceEnds(t *testing.T) {
	h := newHarness(t)
	c := h.place(t)
	h.gw.Accept(c)

	h.m.Fail(errors.New("device lost"))
	if _, ok := h.m.Active(); ok {
		t.Fatalf("expected call force-ended")
	}
	if c.Disconnects() != 1 {
		t.Fatalf("expected best-effort disconnect")
	}
	if h.ended[0].EndReason != EndReasonFailed {
		t.Fatalf("unexpected end: %+v", h.ended[0])
	}
}
