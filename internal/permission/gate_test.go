package permission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGate_GrantIsCached(t *testing.T) {
	var prompts int32
	g := NewGate(PrompterFunc(func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&prompts, 1)
		return true, nil
	}))

	for i := 0; i < 3; i++ {
		if err := g.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if n := atomic.LoadInt32(&prompts); n != 1 {
		t.Fatalf("expected a single prompt, got %d", n)
	}
	if !g.Unlocked() {
		t.Fatalf("expected gate unlocked")
	}
}

func TestGate_DenialLeavesGateLocked(t *testing.T) {
	g := NewGate(PrompterFunc(func(ctx context.Context) (bool, error) { return false, nil }))

	err := g.Acquire(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if g.Unlocked() {
		t.Fatalf("gate must stay locked after denial")
	}
}

func TestGate_PrompterErrorPropagates(t *testing.T) {
	boom := errors.New("no audio device")
	g := NewGate(PrompterFunc(func(ctx context.Context) (bool, error) { return false, boom }))

	if err := g.Acquire(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected prompter error, got %v", err)
	}
}

func TestGate_ConcurrentAcquireSharesPrompt(t *testing.T) {
	release := make(chan struct{})
	var prompts int32
	g := NewGate(PrompterFunc(func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&prompts, 1)
		<-release
		return true, nil
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Acquire(context.Background())
		}()
	}
	// Let the first caller reach the prompter before releasing it.
	for atomic.LoadInt32(&prompts) == 0 {
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if !g.Unlocked() {
		t.Fatalf("expected gate unlocked")
	}
}

func TestGate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	var prompts int32
	g := NewGate(PrompterFunc(func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&prompts, 1)
		select {
		case <-release:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- g.Acquire(firstCtx) }()
	for atomic.LoadInt32(&prompts) == 0 {
	}

	second := make(chan error, 1)
	go func() { second <- g.Acquire(context.Background()) }()

	cancelFirst()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to stop waiting, got %v", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Fatalf("second caller failed with the first caller's cancellation: %v", err)
	}
	if n := atomic.LoadInt32(&prompts); n != 1 {
		t.Fatalf("expected a single prompt, got %d", n)
	}
	if !g.Unlocked() {
		t.Fatalf("expected gate unlocked")
	}
}

func TestReportedPrompter_DeniesUntilReported(t *testing.T) {
	p := NewReportedPrompter()
	g := NewGate(p)

	if err := g.Acquire(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial before any report, got %v", err)
	}
	p.Report(true)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("expected grant after report, got %v", err)
	}
}

func TestGate_NilPrompterDenies(t *testing.T) {
	g := NewGate(nil)
	if err := g.Acquire(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}
