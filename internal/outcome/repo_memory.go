package outcome

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory append-only repository for tests and for
// running without a database.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

// SetError makes subsequent Appends fail with err (nil restores).
func (r *MemoryRepo) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
