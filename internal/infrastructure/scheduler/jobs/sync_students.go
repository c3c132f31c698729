package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/application/ingest"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC STUDENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncStudentsJob pulls new submissions and live ratings for every
// tracked student.
type SyncStudentsJob struct {
	ingest  *ingest.Service
	locks   Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewSyncStudentsJob creates the job.
func NewSyncStudentsJob(svc *ingest.Service, locks Locker, lockTTL time.Duration, logger *slog.Logger) *SyncStudentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncStudentsJob{ingest: svc, locks: locks, lockTTL: lockTTL, logger: logger}
}

func (j *SyncStudentsJob) Name() string { return "sync_students" }

func (j *SyncStudentsJob) Description() string {
	return "Sync submissions and judge ratings for all tracked students"
}

// Run executes the job.
func (j *SyncStudentsJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		report, err := j.ingest.SyncAllStudents(ctx)
		if err != nil {
			return err
		}
		j.logger.Info("students synced",
			slog.Int("submissions_fetched", report.SubmissionsFetched),
			slog.Int("submissions_inserted", report.SubmissionsInserted),
			slog.Int("events_created", report.EventsCreated),
			slog.Int("ratings_refreshed", report.RatingsRefreshed))
		return nil
	})
}
