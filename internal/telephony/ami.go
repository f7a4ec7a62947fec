package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/credential"
)

// AMIConfig configures the Asterisk Manager Interface adapter.
//
// Calls are originated as Async Originate actions with ChannelId set to a
// fresh uuid, so every later event for the call carries Uniqueid == ID().
type AMIConfig struct {
	Addr string
	// Username is used when the credential has no identity.
	Username string
	// ChannelTemplate is a fmt pattern receiving the E.164 target, e.g.
	// "PJSIP/%s@trunk".
	ChannelTemplate string
	Context         string
	Exten           string
	CallerID        string

	DialTimeout      time.Duration
	OriginateTimeout time.Duration
	// HangupGrace bounds how long Close waits for a hangup requested
	// before the PBX named the channel.
	HangupGrace time.Duration
}

// AMIGateway adapts AMI to Gateway. Inbound calls are not offered.
type AMIGateway struct {
	cfg     AMIConfig
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	client  *ami.Client
	calls   map[string]*amiCall
	closing bool
}

// NewAMIFactory returns a Factory building one AMIGateway per registration
// attempt.
func NewAMIFactory(cfg AMIConfig, log *slog.Logger) Factory {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.OriginateTimeout <= 0 {
		cfg.OriginateTimeout = 30 * time.Second
	}
	if cfg.HangupGrace <= 0 {
		cfg.HangupGrace = 2 * time.Second
	}
	return func(h Handler) (Gateway, error) {
		if cfg.Addr == "" {
			return nil, &GatewayError{Detail: "ami address not configured"}
		}
		return &AMIGateway{
			cfg:     cfg,
			handler: h,
			log:     log.With("component", "ami_gateway", "addr", cfg.Addr),
			calls:   make(map[string]*amiCall),
		}, nil
	}
}

// Register dials and sends Login. EventRegistered follows a successful
// login response.
func (g *AMIGateway) Register(ctx context.Context, cred credential.Credential) error {
	g.mu.Lock()
	if g.client != nil {
		g.mu.Unlock()
		return &GatewayError{Detail: "already registered"}
	}
	g.mu.Unlock()

	client, err := ami.Dial(ctx, g.cfg.Addr, g.cfg.DialTimeout, g.onEvent, g.onClose)
	if err != nil {
		return AsGatewayError("ami dial", err)
	}

	g.mu.Lock()
	g.client = client
	g.mu.Unlock()

	username := cred.Identity
	if username == "" {
		username = g.cfg.Username
	}
	login := ami.NewAction("Login").Set("Username", username).Set("Secret", cred.Token).Set("Events", "call")
	_, err = client.Send(login, func(resp ami.Event) {
		if !resp.Success() {
			g.handler(Event{Type: EventError, Err: &GatewayError{Detail: "ami login: " + resp.Get("Message")}})
			return
		}
		g.log.Info("ami login accepted")
		g.handler(Event{Type: EventRegistered})
	})
	if err != nil {
		_ = client.Close()
		return AsGatewayError("ami login", err)
	}
	return nil
}

func (g *AMIGateway) Connect(ctx context.Context, p ConnectParams) (Call, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return nil, &GatewayError{Detail: "ami not connected"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	callerID := p.CallerID
	if callerID == "" {
		callerID = g.cfg.CallerID
	}
	c := &amiCall{id: uuid.NewString(), gw: g, settled: make(chan struct{})}
	orig := ami.NewAction("Originate").
		Set("Channel", fmt.Sprintf(g.cfg.ChannelTemplate, p.To)).
		Set("Context", g.cfg.Context).
		Set("Exten", g.cfg.Exten).
		Set("Priority", "1").
		Set("CallerID", callerID).
		Set("Timeout", strconv.FormatInt(g.cfg.OriginateTimeout.Milliseconds(), 10)).
		Set("Async", "true").
		Set("ChannelId", c.id).
		Vars(p.Vars)

	g.mu.Lock()
	g.calls[c.id] = c
	g.mu.Unlock()

	_, err := client.Send(orig, func(resp ami.Event) {
		if resp.Success() {
			return
		}
		if g.forget(c.id) {
			g.handler(Event{Type: EventError, Call: c, Err: &GatewayError{Detail: "originate: " + resp.Get("Message")}})
		}
	})
	if err != nil {
		g.forget(c.id)
		return nil, AsGatewayError("ami originate", err)
	}
	return c, nil
}

// Close logs off. A hangup still waiting for its channel name is given
// HangupGrace to go out first.
func (g *AMIGateway) Close() error {
	g.mu.Lock()
	g.closing = true
	var unsent []*amiCall
	if g.client != nil {
		for _, c := range g.calls {
			if c.awaitingHangup() {
				unsent = append(unsent, c)
			}
		}
	}
	g.mu.Unlock()

	g.drainHangups(unsent)

	g.mu.Lock()
	client := g.client
	g.client = nil
	g.calls = make(map[string]*amiCall)
	g.mu.Unlock()
	if client == nil {
		return nil
	}
	_, _ = client.Send(ami.NewAction("Logoff"), nil)
	return client.Close()
}

func (g *AMIGateway) drainHangups(pending []*amiCall) {
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.HangupGrace)
	defer cancel()
	for _, c := range pending {
		select {
		case <-c.settled:
		case <-ctx.Done():
			g.log.Warn("closing before hangup was sent", "call_id", c.id)
		}
	}
}

func (g *AMIGateway) lookup(id string) *amiCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

// forget drops a call and reports whether it was still tracked.
func (g *AMIGateway) forget(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[id]
	if !ok {
		return false
	}
	delete(g.calls, id)
	c.settle()
	return true
}

func (g *AMIGateway) send(a *ami.Action, onResponse func(ami.Event)) error {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return &GatewayError{Detail: "ami not connected"}
	}
	_, err := client.Send(a, onResponse)
	return err
}

func (g *AMIGateway) onEvent(ev ami.Event) {
	switch ev.Type() {
	case "Newchannel":
		c := g.lookup(ev.Get("Uniqueid"))
		if c == nil {
			return
		}
		if c.setChannel(ev.Get("Channel")) {
			if err := c.Disconnect(); err != nil {
				g.log.Warn("deferred hangup failed", "call_id", c.id, "error", err)
			}
		}
		c.settle()

	case "OriginateResponse":
		c := g.lookup(ev.Get("Uniqueid"))
		if c == nil {
			return
		}
		if ev.Get("Response") == "Success" {
			g.handler(Event{Type: EventAccept, Call: c})
			return
		}
		if !g.forget(c.id) {
			return
		}
		g.handler(originateFailure(c, ev.GetInt("Reason")))

	case "Hangup":
		id := ev.Get("Uniqueid")
		c := g.lookup(id)
		if c == nil || !g.forget(id) {
			return
		}
		g.handler(Event{Type: EventDisconnect, Call: c, Cause: HangupCause(ev.GetInt("Cause"))})
	}
}

func (g *AMIGateway) onClose(err error) {
	g.mu.Lock()
	closing := g.closing
	g.client = nil
	g.mu.Unlock()
	if closing {
		return
	}
	g.log.Warn("ami connection lost", "error", err)
	g.handler(Event{Type: EventError, Err: AsGatewayError("ami connection lost", err)})
}

// originateFailure maps the OriginateResponse Reason code.
func originateFailure(c Call, reason int) Event {
	switch reason {
	case 1:
		return Event{Type: EventCancel, Call: c, Cause: CauseCanceled}
	case 3:
		return Event{Type: EventReject, Call: c, Cause: CauseNoAnswer}
	case 5:
		return Event{Type: EventReject, Call: c, Cause: CauseBusy}
	case 8:
		return Event{Type: EventReject, Call: c, Cause: CauseCongestion}
	default:
		return Event{Type: EventError, Call: c, Err: &GatewayError{Detail: fmt.Sprintf("originate failed (reason %d)", reason)}}
	}
}

// HangupCause maps a Q.850 cause code.
func HangupCause(code int) Cause {
	switch code {
	case 16:
		return CauseNormal
	case 17:
		return CauseBusy
	case 18, 19:
		return CauseNoAnswer
	case 21:
		return CauseRejected
	case 34, 38, 41, 42:
		return CauseCongestion
	default:
		return CauseUnknown
	}
}

type amiCall struct {
	id string
	gw *AMIGateway

	mu            sync.Mutex
	channel       string
	hangupPending bool

	// settled is closed once the channel is known or the call is gone.
	settled    chan struct{}
	settleOnce sync.Once
}

func (c *amiCall) ID() string { return c.id }

func (c *amiCall) settle() { c.settleOnce.Do(func() { close(c.settled) }) }

func (c *amiCall) awaitingHangup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel == "" && c.hangupPending
}

// setChannel records the channel name and reports whether a hangup was
// requested before it was known.
func (c *amiCall) setChannel(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != "" {
		return false
	}
	c.channel = name
	pending := c.hangupPending
	c.hangupPending = false
	return pending
}

func (c *amiCall) Disconnect() error {
	c.mu.Lock()
	channel := c.channel
	if channel == "" {
		c.hangupPending = true
	}
	c.mu.Unlock()
	if channel == "" {
		return nil
	}
	return c.gw.send(ami.NewAction("Hangup").Set("Channel", channel).Set("Cause", "16"), nil)
}

func (c *amiCall) Mute(muted bool) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == "" {
		return &GatewayError{Detail: "channel not up"}
	}
	state := "off"
	if muted {
		state = "on"
	}
	// The originated channel is the callee's leg; "out" is what they hear.
	a := ami.NewAction("MuteAudio").Set("Channel", channel).Set("Direction", "out").Set("State", state)
	return c.gw.send(a, func(resp ami.Event) {
		if !resp.Success() {
			c.gw.log.Warn("mute rejected", "call_id", c.id, "message", resp.Get("Message"))
			return
		}
		c.gw.handler(Event{Type: EventMute, Call: c, Muted: muted})
	})
}

func (c *amiCall) Accept() error { return ErrUnsupported }

func (c *amiCall) Reject() error { return ErrUnsupported }
