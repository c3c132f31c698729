package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/application/rankings"
	"github.com/maratonahub/cp-tracker/internal/application/score"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE WINDOWS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeWindowsJob rebuilds the 7d/30d/season point sets from score
// events.
type RecomputeWindowsJob struct {
	engine  *score.Engine
	locks   Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewRecomputeWindowsJob creates the job.
func NewRecomputeWindowsJob(engine *score.Engine, locks Locker, lockTTL time.Duration, logger *slog.Logger) *RecomputeWindowsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecomputeWindowsJob{engine: engine, locks: locks, lockTTL: lockTTL, logger: logger}
}

func (j *RecomputeWindowsJob) Name() string { return "recompute_windows" }

func (j *RecomputeWindowsJob) Description() string {
	return "Recompute windowed point aggregates from score events"
}

// Run executes the job.
func (j *RecomputeWindowsJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		_, err := j.engine.RecomputeWindows(ctx)
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE TOTALS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileTotalsJob corrects aggregate drift against the event log.
type ReconcileTotalsJob struct {
	engine  *score.Engine
	locks   Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewReconcileTotalsJob creates the job.
func NewReconcileTotalsJob(engine *score.Engine, locks Locker, lockTTL time.Duration, logger *slog.Logger) *ReconcileTotalsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileTotalsJob{engine: engine, locks: locks, lockTTL: lockTTL, logger: logger}
}

func (j *ReconcileTotalsJob) Name() string { return "reconcile_totals" }

func (j *ReconcileTotalsJob) Description() string {
	return "Recompute all-time totals and correct aggregate drift"
}

// Run executes the job.
func (j *ReconcileTotalsJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		corrected, err := j.engine.ReconcileTotals(ctx)
		if err != nil {
			return err
		}
		if corrected > 0 {
			j.logger.Warn("aggregates corrected", slog.Int("count", corrected))
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT RANKINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRankingsJob rebuilds every ranking variant, persists snapshots
// and refreshes the hot cache.
type SnapshotRankingsJob struct {
	rankings *rankings.Service
	locks    Locker
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewSnapshotRankingsJob creates the job.
func NewSnapshotRankingsJob(svc *rankings.Service, locks Locker, lockTTL time.Duration, logger *slog.Logger) *SnapshotRankingsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotRankingsJob{rankings: svc, locks: locks, lockTTL: lockTTL, logger: logger}
}

func (j *SnapshotRankingsJob) Name() string { return "snapshot_rankings" }

func (j *SnapshotRankingsJob) Description() string {
	return "Snapshot all ranking variants and refresh the hot cache"
}

// Run executes the job.
func (j *SnapshotRankingsJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		return j.rankings.SnapshotAll(ctx)
	})
}
