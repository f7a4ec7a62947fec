package ami

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("ami: connection closed")

// Client is one AMI connection. Responses are matched to actions by
// ActionID; everything else goes to the event callback. Both callbacks run
// on the client's reader goroutine and must not block.
type Client struct {
	conn net.Conn

	onEvent func(Event)
	onClose func(error)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]func(Event)
	closed  bool
}

// Dial connects to addr (host:port).
func Dial(ctx context.Context, addr string, timeout time.Duration, onEvent func(Event), onClose func(error)) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ami: dial %s: %w", addr, err)
	}
	return NewClient(conn, onEvent, onClose), nil
}

// NewClient takes ownership of conn and starts reading from it.
func NewClient(conn net.Conn, onEvent func(Event), onClose func(error)) *Client {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	if onClose == nil {
		onClose = func(error) {}
	}
	c := &Client{
		conn:    conn,
		onEvent: onEvent,
		onClose: onClose,
		pending: make(map[string]func(Event)),
	}
	go c.readLoop()
	return c
}

// Send writes a and registers onResponse for its reply. It returns the
// ActionID used.
func (c *Client) Send(a *Action, onResponse func(Event)) (string, error) {
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if onResponse != nil {
		c.pending[id] = onResponse
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err := c.conn.Write(a.Encode(id))
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return "", fmt.Errorf("ami: write %s: %w", a.Name(), err)
	}
	return id, nil
}

// Close shuts the connection. onClose still fires from the reader.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	p := NewParser(c.conn)
	var err error
	for {
		var ev Event
		ev, err = p.Next()
		if err != nil {
			break
		}
		if ev.IsResponse() {
			c.mu.Lock()
			cb, ok := c.pending[ev.ActionID()]
			delete(c.pending, ev.ActionID())
			c.mu.Unlock()
			if ok {
				cb(ev)
			}
			continue
		}
		c.onEvent(ev)
	}

	c.mu.Lock()
	c.closed = true
	c.pending = make(map[string]func(Event))
	c.mu.Unlock()
	_ = c.conn.Close()
	c.onClose(err)
}
