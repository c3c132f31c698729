package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/application/ingest"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REFRESH JOB
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRefreshJob discovers contests: recent ones eagerly, history one
// rotating page per run.
type CatalogRefreshJob struct {
	ingest  *ingest.Service
	locks   Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewCatalogRefreshJob creates the job.
func NewCatalogRefreshJob(svc *ingest.Service, locks Locker, lockTTL time.Duration, logger *slog.Logger) *CatalogRefreshJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogRefreshJob{ingest: svc, locks: locks, lockTTL: lockTTL, logger: logger}
}

func (j *CatalogRefreshJob) Name() string { return "catalog_refresh" }

func (j *CatalogRefreshJob) Description() string {
	return "Discover contests from the judge catalogs"
}

// Run executes the job.
func (j *CatalogRefreshJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		upserted, err := j.ingest.RefreshCatalogs(ctx)
		if err != nil {
			return err
		}
		j.logger.Info("catalogs refreshed", slog.Int("contests_upserted", upserted))
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEM SYNC JOB
// ══════════════════════════════════════════════════════════════════════════════

// ProblemSyncJob syncs problem lists for contests that need it, bounded
// per platform.
type ProblemSyncJob struct {
	ingest         *ingest.Service
	locks          Locker
	lockTTL        time.Duration
	perPlatformCap int
	logger         *slog.Logger
}

// NewProblemSyncJob creates the job.
func NewProblemSyncJob(svc *ingest.Service, locks Locker, lockTTL time.Duration, perPlatformCap int, logger *slog.Logger) *ProblemSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProblemSyncJob{ingest: svc, locks: locks, lockTTL: lockTTL, perPlatformCap: perPlatformCap, logger: logger}
}

func (j *ProblemSyncJob) Name() string { return "problem_sync" }

func (j *ProblemSyncJob) Description() string {
	return "Sync problem lists for pending and stale contests"
}

// Run executes the job.
func (j *ProblemSyncJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		synced, err := j.ingest.SyncContestProblems(ctx, j.perPlatformCap)
		if err != nil {
			return err
		}
		j.logger.Info("contest problems synced", slog.Int("contests", synced))
		return nil
	})
}
