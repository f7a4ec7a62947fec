package outcome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sink receives finished-call records.
type Sink interface {
	RecordCallOutcome(ctx context.Context, rec Record) error
}

// Repository is the persistence contract for outcome records.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, rec Record) error
}

var (
	ErrInvalidRecord = errors.New("outcome: invalid record")
	// ErrOutcomeSinkFailure wraps any persistence failure.
	ErrOutcomeSinkFailure = errors.New("outcome: sink failure")
)

// Service validates and stamps records before persisting them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) RecordCallOutcome(ctx context.Context, rec Record) error {
	if s.repo == nil {
		return fmt.Errorf("%w: repository not configured", ErrOutcomeSinkFailure)
	}
	if strings.TrimSpace(rec.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidRecord)
	}
	if !rec.Disposition.Valid() {
		return fmt.Errorf("%w: unknown disposition %q", ErrInvalidRecord, rec.Disposition)
	}
	if rec.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidRecord)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrOutcomeSinkFailure, err)
	}
	return nil
}
