package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Async decouples callers from slow notifiers. Notify never blocks: when the
// buffer is full the notification is dropped and counted.
type Async struct {
	next    Notifier
	log     *slog.Logger
	timeout time.Duration

	queue chan Notification
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewAsync(next Notifier, buffer int, log *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 128
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		next:    next,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan Notification, buffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- n:
	default:
		a.dropped++
		a.log.Warn("notification dropped", "code", n.Code, "dropped_total", a.dropped)
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			a.log.Warn("notification delivery failed", "code", n.Code, "error", err)
		}
		cancel()
	}
}

// Close delivers what is queued and stops the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
