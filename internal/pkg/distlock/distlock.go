// Package distlock provides distributed locks used to serialize campaign
// launches across engine instances. Redis is preferred; when no Redis client
// is configured the lock falls back to PostgreSQL advisory locks, which are
// session-scoped and released automatically if the connection drops.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory creates locks against whichever backend is available.
// A nil *Factory hands out no-op locks, so callers can always lock
// unconditionally (single-instance deployments skip the infrastructure).
type Factory struct {
	redis *redis.Client
	db    *sql.DB
}

// NewFactory creates a lock factory. Either client may be nil.
func NewFactory(redisClient *redis.Client, db *sql.DB) *Factory {
	return &Factory{redis: redisClient, db: db}
}

// ForCampaign returns a lock scoping the given campaign's launch.
func (f *Factory) ForCampaign(campaignID string, ttl time.Duration) DistLock {
	if f == nil {
		return noopLock{}
	}
	return f.New("campaign:launch:"+campaignID, ttl)
}

// New creates a distributed lock using the best available backend.
func (f *Factory) New(key string, ttl time.Duration) DistLock {
	if f.redis != nil {
		return NewRedisLock(f.redis, key, ttl)
	}
	if f.db != nil {
		return NewPGAdvisoryLock(f.db, key)
	}
	return noopLock{}
}

type noopLock struct{}

func (noopLock) Acquire(ctx context.Context) (bool, error) { return true, nil }
func (noopLock) Release(ctx context.Context) error         { return nil }

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
