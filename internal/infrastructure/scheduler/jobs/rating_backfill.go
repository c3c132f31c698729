package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/application/rating"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATING BACKFILL JOB
// ══════════════════════════════════════════════════════════════════════════════

// RatingBackfillJob runs the healing passes over the rating cache, frees
// fetch requests whose worker died and re-enqueues retryable problems.
type RatingBackfillJob struct {
	ratings      *rating.Service
	locks        Locker
	lockTTL      time.Duration
	claimTimeout time.Duration
	logger       *slog.Logger
}

// NewRatingBackfillJob creates the job.
func NewRatingBackfillJob(svc *rating.Service, locks Locker, lockTTL, claimTimeout time.Duration, logger *slog.Logger) *RatingBackfillJob {
	if logger == nil {
		logger = slog.Default()
	}
	if claimTimeout <= 0 {
		claimTimeout = 10 * time.Minute
	}
	return &RatingBackfillJob{ratings: svc, locks: locks, lockTTL: lockTTL, claimTimeout: claimTimeout, logger: logger}
}

func (j *RatingBackfillJob) Name() string { return "rating_backfill" }

func (j *RatingBackfillJob) Description() string {
	return "Heal the rating cache and re-enqueue retryable fetches"
}

// Run executes the job.
func (j *RatingBackfillJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		released, err := j.ratings.ReleaseStuck(ctx, j.claimTimeout)
		if err != nil {
			return err
		}
		if released > 0 {
			j.logger.Warn("stuck fetch requests released", slog.Int("count", released))
		}

		_, err = j.ratings.RunBackfill(ctx)
		return err
	})
}
