// Package jobs contains the scheduled job implementations: submission
// sync, contest catalog refresh, problem-list sync, rating backfill,
// aggregate window recomputation and ranking snapshots. Every job takes
// a short-TTL distributed lock on its name before doing work, so
// overlapping scheduler instances degrade to no-ops instead of double
// work.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	redisrepo "github.com/maratonahub/cp-tracker/internal/infrastructure/persistence/redis"
)

// Locker serializes job runs across scheduler instances.
type Locker interface {
	WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// runLocked executes fn under a job lock. A busy lock means another
// instance is already on it; that is a skip, not a failure.
func runLocked(ctx context.Context, locks Locker, logger *slog.Logger, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	err := locks.WithLock(ctx, "job:"+name, ttl, fn)
	if errors.Is(err, redisrepo.ErrLockNotAcquired) {
		logger.Debug("job skipped, lock busy", slog.String("job", name))
		return nil
	}
	return err
}
