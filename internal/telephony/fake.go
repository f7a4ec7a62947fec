package telephony

import (
	"context"
	"fmt"
	"sync"

	"telecom-dialer/internal/credential"
)

// FakeGateway is an in-memory Gateway for tests. Tests drive it by calling
// the Emit*/call helpers, which deliver events to the handler registered by
// the last Factory invocation.
type FakeGateway struct {
	mu sync.Mutex

	handler Handler

	// Set by tests to make the corresponding call fail.
	FactoryErr  error
	RegisterErr error
	ConnectErr  error

	created   int
	registers int
	closes    int
	closed    bool
	cred      credential.Credential
	calls     []*FakeCall
	nextID    int
}

func NewFakeGateway() *FakeGateway { return &FakeGateway{} }

func (g *FakeGateway) Factory() Factory {
	return func(h Handler) (Gateway, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.FactoryErr != nil {
			return nil, g.FactoryErr
		}
		g.handler = h
		g.created++
		g.closed = false
		return g, nil
	}
}

func (g *FakeGateway) Register(ctx context.Context, cred credential.Credential) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registers++
	g.cred = cred
	return g.RegisterErr
}

func (g *FakeGateway) Connect(ctx context.Context, p ConnectParams) (Call, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ConnectErr != nil {
		return nil, g.ConnectErr
	}
	g.nextID++
	c := &FakeCall{id: fmt.Sprintf("CA%04d", g.nextID), Params: p, gw: g}
	g.calls = append(g.calls, c)
	return c, nil
}

// Close marks the gateway closed. Calls placed through it can no longer
// be hung up or muted until the factory builds it again.
func (g *FakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	g.closed = true
	return nil
}

func (g *FakeGateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Created is how many times the factory built a gateway.
func (g *FakeGateway) Created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

func (g *FakeGateway) Registers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registers
}

func (g *FakeGateway) Closes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes
}

func (g *FakeGateway) Credential() credential.Credential {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cred
}

// Calls returns every call placed so far, in order.
func (g *FakeGateway) Calls() []*FakeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*FakeCall, len(g.calls))
	copy(out, g.calls)
	return out
}

// LastCall returns the most recently placed or offered call, or nil.
func (g *FakeGateway) LastCall() *FakeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

func (g *FakeGateway) emit(ev Event) {
	g.mu.Lock()
	h := g.handler
	g.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (g *FakeGateway) EmitRegistered() { g.emit(Event{Type: EventRegistered}) }

// EmitError reports a device-level failure.
func (g *FakeGateway) EmitError(detail string) {
	g.emit(Event{Type: EventError, Err: &GatewayError{Detail: detail}})
}

// EmitIncoming offers an inbound call and returns its handle.
func (g *FakeGateway) EmitIncoming(from string) *FakeCall {
	g.mu.Lock()
	g.nextID++
	c := &FakeCall{id: fmt.Sprintf("CI%04d", g.nextID), inbound: true, gw: g}
	g.calls = append(g.calls, c)
	g.mu.Unlock()
	g.emit(Event{Type: EventIncoming, Call: c, From: from})
	return c
}

func (g *FakeGateway) Accept(c *FakeCall) { g.emit(Event{Type: EventAccept, Call: c}) }

func (g *FakeGateway) Disconnect(c *FakeCall, cause Cause) {
	g.emit(Event{Type: EventDisconnect, Call: c, Cause: cause})
}

func (g *FakeGateway) Cancel(c *FakeCall) {
	g.emit(Event{Type: EventCancel, Call: c, Cause: CauseCanceled})
}

func (g *FakeGateway) Reject(c *FakeCall, cause Cause) {
	g.emit(Event{Type: EventReject, Call: c, Cause: cause})
}

// CallError reports a failure scoped to one call.
func (g *FakeGateway) CallError(c *FakeCall, detail string) {
	g.emit(Event{Type: EventError, Call: c, Err: &GatewayError{Detail: detail}})
}

func (g *FakeGateway) MuteAck(c *FakeCall, muted bool) {
	g.emit(Event{Type: EventMute, Call: c, Muted: muted})
}

// FakeCall records the requests made against it.
type FakeCall struct {
	mu sync.Mutex

	id      string
	inbound bool
	Params  ConnectParams
	gw      *FakeGateway

	disconnects int
	mutes       []bool
	accepts     int
	rejects     int
}

func (c *FakeCall) ID() string { return c.id }

func (c *FakeCall) closed() bool { return c.gw != nil && c.gw.isClosed() }

func (c *FakeCall) Disconnect() error {
	if c.closed() {
		return &GatewayError{Detail: "gateway closed"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *FakeCall) Mute(muted bool) error {
	if c.closed() {
		return &GatewayError{Detail: "gateway closed"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutes = append(c.mutes, muted)
	return nil
}

func (c *FakeCall) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inbound {
		return ErrUnsupported
	}
	c.accepts++
	return nil
}

func (c *FakeCall) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inbound {
		return ErrUnsupported
	}
	c.rejects++
	return nil
}

func (c *FakeCall) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *FakeCall) MuteRequests() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(c.mutes))
	copy(out, c.mutes)
	return out
}

func (c *FakeCall) Accepts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepts
}

func (c *FakeCall) Rejects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejects
}
