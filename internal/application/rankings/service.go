// Package rankings builds, snapshots and serves the leaderboards. Reads
// go through the hot Redis cache; a miss rebuilds from the persisted
// aggregates and repopulates the cache. Snapshots feed rank deltas and
// the top-movers report.
package rankings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/ranking"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
	"github.com/maratonahub/cp-tracker/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// PercentileProvider locates ratings within a platform distribution.
type PercentileProvider interface {
	Percentile(ctx context.Context, platform problem.Platform, rating int, token string) (*float64, error)
}

// HotCache is the Redis-backed ranking page store.
type HotCache interface {
	Rebuild(ctx context.Context, key ranking.Key, rows []ranking.Row) error
	All(ctx context.Context, key ranking.Key) ([]ranking.Row, error)
	Top(ctx context.Context, key ranking.Key, count int) ([]ranking.Row, error)
	Rank(ctx context.Context, key ranking.Key, studentID string) (*ranking.Row, error)
	Around(ctx context.Context, key ranking.Key, studentID string, radius int) ([]ranking.Row, error)
	InvalidateAll(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service builds and serves rankings.
type Service struct {
	students    student.Repository
	aggregates  scoring.AggregateRepository
	events      scoring.EventRepository
	snapshots   ranking.SnapshotRepository
	hot         HotCache
	percentiles PercentileProvider
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service. hot may be nil; reads then always
// rebuild from the database.
func NewService(
	students student.Repository,
	aggregates scoring.AggregateRepository,
	events scoring.EventRepository,
	snapshots ranking.SnapshotRepository,
	hot HotCache,
	percentiles PercentileProvider,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		students:    students,
		aggregates:  aggregates,
		events:      events,
		snapshots:   snapshots,
		hot:         hot,
		percentiles: percentiles,
		logger:      logger,
		now:         time.Now,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Building
// ─────────────────────────────────────────────────────────────────────────────

// Build produces the finalized rows for one ranking key: sorted, ranked,
// tiered, with rank deltas against the latest snapshot. Excluded
// students are left out entirely.
func (s *Service) Build(ctx context.Context, key ranking.Key) ([]ranking.Row, error) {
	roster, err := s.roster(ctx)
	if err != nil {
		return nil, err
	}

	var rows []ranking.Row
	switch key.Mode {
	case ranking.ModeRating:
		rows, err = s.ratingRows(ctx, key.Category, roster)
	default:
		rows, err = s.pointsRows(ctx, key, roster)
	}
	if err != nil {
		return nil, err
	}

	previous, err := s.snapshots.Latest(ctx, key)
	if err != nil && !errors.Is(err, ranking.ErrNoSnapshot) {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return ranking.Finalize(rows, ranking.PreviousRanks(previous)), nil
}

// roster loads every active, non-excluded student keyed by id.
func (s *Service) roster(ctx context.Context) (map[string]*student.Student, error) {
	const pageSize = 500

	roster := make(map[string]*student.Student)
	for offset := 0; ; offset += pageSize {
		page, err := s.students.ListActive(ctx, student.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list students: %w", err)
		}
		for _, st := range page {
			if st.Excluded {
				continue
			}
			roster[st.ID] = st
		}
		if len(page) < pageSize {
			break
		}
	}
	return roster, nil
}

func (s *Service) pointsRows(ctx context.Context, key ranking.Key, roster map[string]*student.Student) ([]ranking.Row, error) {
	aggregates, err := s.aggregates.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}

	rows := make([]ranking.Row, 0, len(aggregates))
	for _, agg := range aggregates {
		st, ok := roster[agg.StudentID]
		if !ok {
			continue
		}
		rows = append(rows, ranking.Row{
			StudentID: agg.StudentID,
			Username:  st.Username.String(),
			Points:    agg.Set(key.Window).For(key.Category),
		})
	}
	return rows, nil
}

// ratingRows ranks by live judge rating. The overall category blends
// both platforms through the percentile engine onto the unified scale;
// platform categories use the raw judge rating. Ties always break on
// the raw CF+AC sum.
func (s *Service) ratingRows(ctx context.Context, category scoring.Category, roster map[string]*student.Student) ([]ranking.Row, error) {
	token := s.now().UTC().Format("2006-01-02")

	rows := make([]ranking.Row, 0, len(roster))
	for _, st := range roster {
		var points int
		switch category {
		case scoring.CategoryCodeforces:
			if st.Codeforces == nil || st.Codeforces.Rating == nil {
				continue
			}
			points = *st.Codeforces.Rating
		case scoring.CategoryAtCoder:
			if st.AtCoder == nil || st.AtCoder.Rating == nil {
				continue
			}
			points = *st.AtCoder.Rating
		default:
			blended, ok, err := s.blendedRating(ctx, st, token)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			points = blended
		}
		rows = append(rows, ranking.Row{
			StudentID: st.ID,
			Username:  st.Username.String(),
			Points:    points,
			TieBreak:  st.RatingSum(),
		})
	}
	return rows, nil
}

// blendedRating averages the student's per-platform rating percentiles
// and maps the blend onto the unified 1000-3000 scale. Reports false for
// students with no rated account.
func (s *Service) blendedRating(ctx context.Context, st *student.Student, token string) (int, bool, error) {
	var percentiles []float64

	if st.Codeforces != nil && st.Codeforces.Rating != nil {
		pct, err := s.percentiles.Percentile(ctx, problem.PlatformCodeforces, *st.Codeforces.Rating, token)
		if err != nil {
			return 0, false, fmt.Errorf("cf percentile: %w", err)
		}
		if pct != nil {
			percentiles = append(percentiles, *pct)
		}
	}
	if st.AtCoder != nil && st.AtCoder.Rating != nil {
		pct, err := s.percentiles.Percentile(ctx, problem.PlatformAtCoder, *st.AtCoder.Rating, token)
		if err != nil {
			return 0, false, fmt.Errorf("ac percentile: %w", err)
		}
		if pct != nil {
			percentiles = append(percentiles, *pct)
		}
	}
	if len(percentiles) == 0 {
		// No distribution yet: fall back to the raw sum so early
		// deployments still produce an ordering.
		sum := st.RatingSum()
		return sum, sum > 0, nil
	}

	mean := 0.0
	for _, p := range percentiles {
		mean += p
	}
	mean /= float64(len(percentiles))
	return int(math.Round(scoring.UnifiedRating(mean))), true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Custom date ranges
// ─────────────────────────────────────────────────────────────────────────────

// BuildRange computes a points ranking over an arbitrary [from, to)
// range directly from score events, bypassing the precomputed
// aggregates. The one deliberately O(events-in-range) path.
func (s *Service) BuildRange(ctx context.Context, category scoring.Category, from, to time.Time) ([]ranking.Row, error) {
	roster, err := s.roster(ctx)
	if err != nil {
		return nil, err
	}

	sums, err := s.events.SumAllStudents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum range: %w", err)
	}

	rows := make([]ranking.Row, 0, len(sums))
	for studentID, set := range sums {
		st, ok := roster[studentID]
		if !ok {
			continue
		}
		rows = append(rows, ranking.Row{
			StudentID: studentID,
			Username:  st.Username.String(),
			Points:    set.For(category),
		})
	}
	return ranking.Finalize(rows, nil), nil
}

// BuildActivity ranks students by distinct solve days inside [from, to),
// solve count then username breaking ties. Points carries the day count,
// TieBreak the solve count.
func (s *Service) BuildActivity(ctx context.Context, from, to time.Time) ([]ranking.Row, error) {
	roster, err := s.roster(ctx)
	if err != nil {
		return nil, err
	}

	activity, err := s.events.ActivityByStudent(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("student activity: %w", err)
	}

	rows := make([]ranking.Row, 0, len(activity))
	for studentID, stat := range activity {
		st, ok := roster[studentID]
		if !ok {
			continue
		}
		rows = append(rows, ranking.Row{
			StudentID: studentID,
			Username:  st.Username.String(),
			Points:    stat.ActiveDays,
			TieBreak:  stat.Solves,
		})
	}
	return ranking.FinalizeActivity(rows), nil
}
