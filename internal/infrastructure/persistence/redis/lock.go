package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrLockNotAcquired is returned when another holder owns the lock.
	ErrLockNotAcquired = errors.New("lock: not acquired")

	// ErrLockNotHeld is returned when releasing or extending a lock this
	// holder no longer owns.
	ErrLockNotHeld = errors.New("lock: not held")
)

// Release and extend must only act on a lock the caller still owns:
// comparing the stored token and mutating in one script keeps an expired
// lock taken over by another worker safe from us.
const (
	lockReleaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`
	lockExtendScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0
	`
)

// Lock is a single-holder distributed lock with an owner token. The
// scheduler wraps multi-instance jobs in one so only one worker runs a
// backfill or snapshot pass at a time.
type Lock struct {
	cache    *Cache
	key      string
	token    string
	ttl      time.Duration
	acquired bool
}

// NewLock creates a lock for a named resource. A zero TTL uses
// TTLDistributedLock.
func NewLock(cache *Cache, resource string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	return &Lock{
		cache: cache,
		key:   LockKey(resource),
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// Acquire attempts to take the lock. Returns ErrLockNotAcquired when
// another holder owns it.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.cache.SetNX(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockNotAcquired
	}
	l.acquired = true
	return nil
}

// Release gives the lock up. Safe to call when the lock expired and was
// taken over: only our own token is deleted.
func (l *Lock) Release(ctx context.Context) error {
	if !l.acquired {
		return ErrLockNotHeld
	}
	l.acquired = false

	res, err := l.cache.Client().Eval(ctx, lockReleaseScript, []string{l.key}, l.token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend pushes the expiry out by the lock's TTL for long-running jobs.
func (l *Lock) Extend(ctx context.Context) error {
	if !l.acquired {
		return ErrLockNotHeld
	}

	res, err := l.cache.Client().Eval(ctx, lockExtendScript,
		[]string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if res == 0 {
		l.acquired = false
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding the named lock, releasing it after.
// Returns ErrLockNotAcquired without running fn when the lock is busy.
func WithLock(ctx context.Context, cache *Cache, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock := NewLock(cache, resource, ttl)
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	return fn(ctx)
}

// LockManager hands out distributed locks over one shared Cache.
type LockManager struct {
	cache *Cache
}

// NewLockManager creates a LockManager.
func NewLockManager(cache *Cache) *LockManager {
	return &LockManager{cache: cache}
}

// WithLock runs fn while holding the named lock.
func (m *LockManager) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	return WithLock(ctx, m.cache, resource, ttl, fn)
}
