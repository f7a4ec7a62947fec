package permission

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrPermissionDenied means the operator refused (or never granted)
	// microphone access.
	ErrPermissionDenied = errors.New("permission: audio permission denied")
	// ErrPermissionRequired is returned by callers that need the gate
	// open and could not open it.
	ErrPermissionRequired = errors.New("permission: audio permission required")
)

// Prompter asks the operator for microphone access. Implementations may
// block until the operator answers.
type Prompter interface {
	RequestAudio(ctx context.Context) (granted bool, err error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context) (bool, error)

func (f PrompterFunc) RequestAudio(ctx context.Context) (bool, error) { return f(ctx) }

// Gate acquires and caches audio permission for the process lifetime.
//
// The gate never prompts on its own; Acquire must be driven by an explicit
// operator action.
type Gate struct {
	prompter Prompter

	mu       sync.Mutex
	unlocked bool

	inflight singleflight.Group
}

func NewGate(p Prompter) *Gate {
	return &Gate{prompter: p}
}

// Acquire returns nil once permission has been granted. Concurrent callers
// share a single prompt; each stops waiting when its own ctx is done. The
// prompt runs detached from any one caller's cancellation.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.Unlocked() {
		return nil
	}
	if g.prompter == nil {
		return ErrPermissionDenied
	}

	promptCtx := context.WithoutCancel(ctx)
	ch := g.inflight.DoChan("audio", func() (any, error) {
		if g.Unlocked() {
			return nil, nil
		}
		granted, err := g.prompter.RequestAudio(promptCtx)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, ErrPermissionDenied
		}
		g.mu.Lock()
		g.unlocked = true
		g.mu.Unlock()
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlocked reports whether permission has been granted in this process.
func (g *Gate) Unlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// Revoke forgets a previous grant, e.g. when the operator's client reports
// the microphone was taken away.
func (g *Gate) Revoke() {
	g.mu.Lock()
	g.unlocked = false
	g.mu.Unlock()
}
