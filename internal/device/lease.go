package device

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"telecom-dialer/pkg/utils"
)

// RedisLease holds "dialer:device:<identity>" while the device session is
// registered, so a second process for the same operator fails fast instead
// of fighting over the gateway registration.
type RedisLease struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

func NewRedisLease(rdb *redis.Client, identity string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisLease{
		rdb:   rdb,
		key:   "dialer:device:" + identity,
		owner: uuid.NewString(),
		ttl:   ttl,
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireLease(ctx, l.rdb, l.key, l.owner, l.ttl)
}

func (l *RedisLease) Release(ctx context.Context) error {
	return utils.ReleaseLease(ctx, l.rdb, l.key, l.owner)
}

// MemoryLease is an in-process Lease for tests and single-node setups.
type MemoryLease struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (l *MemoryLease) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	l.acquires++
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
	return nil
}

// Take marks the lease as held by someone else.
func (l *MemoryLease) Take() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
}

func (l *MemoryLease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *MemoryLease) Counts() (acquires, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires, l.releases
}
