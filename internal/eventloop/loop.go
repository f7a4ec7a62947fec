// Package eventloop serializes all dialer state transitions onto a single
// goroutine.
//
// Gateway callbacks, timer callbacks and async I/O completions never touch
// state directly; they Post a closure and the loop runs closures one at a
// time in arrival order.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
)

var ErrStopped = errors.New("eventloop: stopped")

// Poster accepts work to run on the loop goroutine.
type Poster interface {
	// Post enqueues fn. Returns false if the loop has stopped.
	Post(fn func()) bool
}

// Loop is a FIFO executor. Run must be called exactly once.
type Loop struct {
	queue chan func()
	done  chan struct{}
	log   *slog.Logger
}

// New returns a Loop with the given queue capacity.
func New(capacity int, log *slog.Logger) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		queue: make(chan func(), capacity),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes posted closures until ctx is cancelled. Work still queued
// at that point is dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("event loop task panicked", "panic", p)
		}
	}()
	fn()
}

func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. Never call Do from
// the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Sync returns once everything posted before the call has run.
func (l *Loop) Sync(ctx context.Context) error {
	return l.Do(ctx, func() {})
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Inline runs posted work immediately on the caller's goroutine. Unit tests
// use it to drive loop-owned components without a Loop.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}
