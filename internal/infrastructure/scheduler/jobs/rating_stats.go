package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
	"github.com/maratonahub/cp-tracker/internal/domain/stats"
	"github.com/maratonahub/cp-tracker/internal/domain/student"
	redisrepo "github.com/maratonahub/cp-tracker/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATING STATS JOB
// ══════════════════════════════════════════════════════════════════════════════

// statsTTL keeps persisted summaries alive across two refresh cycles.
const statsTTL = 48 * time.Hour

// StatsProvider computes distribution summaries and owns the memo the
// rankings read through.
type StatsProvider interface {
	Summary(ctx context.Context, platform problem.Platform) (stats.Summary, error)
	Invalidate()
}

// StatsStore persists the refreshed summaries.
type StatsStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Recalculator replays a platform's score events against the fresh
// distribution.
type Recalculator interface {
	RecalculatePlatform(ctx context.Context, platform problem.Platform) (int, error)
}

// StudentLister pages the active roster.
type StudentLister interface {
	ListActive(ctx context.Context, opts student.ListOptions) ([]*student.Student, error)
}

// ConversionLog appends conversion-model observations.
type ConversionLog interface {
	Record(ctx context.Context, snap *scoring.ConversionSnapshot) error
}

// platformStats is the persisted shape of one platform's summary.
type platformStats struct {
	Platform    string    `json:"platform"`
	Count       int       `json:"count"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Mean        float64   `json:"mean"`
	Median      float64   `json:"median"`
	P25         float64   `json:"p25"`
	P75         float64   `json:"p75"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// conversionStats records how many students currently hold ratings on
// both judges. The AC to CF conversion is a fixed formula; this count
// tracks the dual-rated sample it could be refit against.
type conversionStats struct {
	DualRated   int       `json:"dual_rated"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// RatingStatsJob refreshes the per-platform rating distributions:
// invalidates the percentile memo, persists fresh summaries, records the
// dual-rated population and triggers a full platform recalculation so
// percentile-derived points track the new distribution.
type RatingStatsJob struct {
	provider  StatsProvider
	engine    Recalculator
	students  StudentLister
	store     StatsStore
	snapshots ConversionLog
	locks     Locker
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewRatingStatsJob creates the job. store may be nil; summaries are
// then computed for the recalculation only.
func NewRatingStatsJob(
	provider StatsProvider,
	engine Recalculator,
	students StudentLister,
	store StatsStore,
	snapshots ConversionLog,
	locks Locker,
	lockTTL time.Duration,
	logger *slog.Logger,
) *RatingStatsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RatingStatsJob{
		provider:  provider,
		engine:    engine,
		students:  students,
		store:     store,
		snapshots: snapshots,
		locks:     locks,
		lockTTL:   lockTTL,
		logger:    logger,
	}
}

func (j *RatingStatsJob) Name() string { return "rating_stats" }

func (j *RatingStatsJob) Description() string {
	return "Refresh rating distributions and recalculate percentile points"
}

// Run executes the job.
func (j *RatingStatsJob) Run(ctx context.Context) error {
	return runLocked(ctx, j.locks, j.logger, j.Name(), j.lockTTL, func(ctx context.Context) error {
		j.provider.Invalidate()
		now := time.Now().UTC()

		for _, platform := range []problem.Platform{problem.PlatformCodeforces, problem.PlatformAtCoder} {
			summary, err := j.provider.Summary(ctx, platform)
			if err != nil {
				return err
			}
			j.persist(ctx, redisrepo.StatsKey(string(platform)), platformStats{
				Platform:    string(platform),
				Count:       summary.Count,
				Min:         summary.Min,
				Max:         summary.Max,
				Mean:        summary.Mean,
				Median:      summary.Median,
				P25:         summary.P25,
				P75:         summary.P75,
				RefreshedAt: now,
			})

			recomputed, err := j.engine.RecalculatePlatform(ctx, platform)
			if err != nil {
				return err
			}
			j.logger.Info("platform stats refreshed",
				slog.String("platform", string(platform)),
				slog.Int("sample", summary.Count),
				slog.Int("recomputed", recomputed))
		}

		dual, err := j.countDualRated(ctx)
		if err != nil {
			return err
		}
		j.persist(ctx, redisrepo.StatsKey("conversion"), conversionStats{DualRated: dual, RefreshedAt: now})

		if err := j.snapshots.Record(ctx, &scoring.ConversionSnapshot{
			Direction:   scoring.DirectionACToCF,
			SampleCount: dual,
			Slope:       scoring.ConversionSlope,
			Intercept:   scoring.ConversionIntercept,
			TakenAt:     now,
		}); err != nil {
			return err
		}
		return nil
	})
}

func (j *RatingStatsJob) persist(ctx context.Context, key string, value interface{}) {
	if j.store == nil {
		return
	}
	if err := j.store.Set(ctx, key, value, statsTTL); err != nil {
		j.logger.Warn("stats persist failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

func (j *RatingStatsJob) countDualRated(ctx context.Context) (int, error) {
	const pageSize = 500

	count := 0
	for offset := 0; ; offset += pageSize {
		page, err := j.students.ListActive(ctx, student.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return 0, err
		}
		for _, st := range page {
			if st.Codeforces != nil && st.Codeforces.Rating != nil &&
				st.AtCoder != nil && st.AtCoder.Rating != nil {
				count++
			}
		}
		if len(page) < pageSize {
			return count, nil
		}
	}
}
