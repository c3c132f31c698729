package score

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIODIC MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeWindows rebuilds the 7d/30d/season point sets for every
// student by re-scanning score events. Windows are not maintained
// incrementally; sliding-window decay is not worth the complexity when
// the scan is this cheap.
func (e *Engine) RecomputeWindows(ctx context.Context) (int, error) {
	now := e.now()

	last7d, err := e.events.SumAllStudents(ctx, scoring.Window7d.Start(now, e.seasonStart), time.Time{})
	if err != nil {
		return 0, fmt.Errorf("sum 7d: %w", err)
	}
	last30d, err := e.events.SumAllStudents(ctx, scoring.Window30d.Start(now, e.seasonStart), time.Time{})
	if err != nil {
		return 0, fmt.Errorf("sum 30d: %w", err)
	}
	season, err := e.events.SumAllStudents(ctx, scoring.WindowSeason.Start(now, e.seasonStart), time.Time{})
	if err != nil {
		return 0, fmt.Errorf("sum season: %w", err)
	}

	aggregates, err := e.aggregates.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list aggregates: %w", err)
	}

	updated := 0
	for _, agg := range aggregates {
		w7 := last7d[agg.StudentID]
		w30 := last30d[agg.StudentID]
		ws := season[agg.StudentID]
		if agg.Last7d == w7 && agg.Last30d == w30 && agg.Season == ws {
			continue
		}
		if err := e.aggregates.ReplaceWindows(ctx, agg.StudentID, w7, w30, ws); err != nil {
			return updated, fmt.Errorf("replace windows %s: %w", agg.StudentID, err)
		}
		updated++
	}

	e.logger.Info("windows recomputed",
		slog.Int("students", len(aggregates)), slog.Int("updated", updated))
	return updated, nil
}

// ReconcileTotals recomputes every student's all-time totals from score
// events and rewrites aggregates that drifted. Drift should not happen;
// when it does this is the correction path, not the hot path.
func (e *Engine) ReconcileTotals(ctx context.Context) (int, error) {
	summed, err := e.events.SumAllStudents(ctx, time.Time{}, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("sum totals: %w", err)
	}

	aggregates, err := e.aggregates.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list aggregates: %w", err)
	}

	corrected := 0
	for _, agg := range aggregates {
		expected := summed[agg.StudentID]
		if agg.Total == expected {
			continue
		}
		e.logger.Warn("aggregate drift detected",
			slog.String("student_id", agg.StudentID),
			slog.Int("stored", agg.Total.GeneralCFEquiv),
			slog.Int("expected", expected.GeneralCFEquiv))

		agg.Total = expected
		if err := e.aggregates.Replace(ctx, agg); err != nil {
			return corrected, fmt.Errorf("replace %s: %w", agg.StudentID, err)
		}
		corrected++
	}
	return corrected, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Full recalculation
// ─────────────────────────────────────────────────────────────────────────────

// RecalculatePlatform re-scores every event on a platform against the
// current cache state, replaying each event's own policy version and
// bonus multiplier. Used after healing runs or conversion changes;
// deltas flow through the same atomic path as live scoring.
func (e *Engine) RecalculatePlatform(ctx context.Context, platform problem.Platform) (int, error) {
	const pageSize = 500

	recomputed := 0
	afterID := int64(0)
	for {
		events, err := e.events.ListByPlatform(ctx, platform, afterID, pageSize)
		if err != nil {
			return recomputed, fmt.Errorf("list events: %w", err)
		}
		if len(events) == 0 {
			break
		}
		afterID = events[len(events)-1].ID

		for _, event := range events {
			entry, err := e.ratings.GetOrSchedule(ctx, platform, event.ProblemURL, "", problem.PriorityLow, true)
			if err != nil {
				return recomputed, fmt.Errorf("rating lookup: %w", err)
			}

			var rawRating *int
			if entry != nil && entry.EffectiveRating != nil {
				v := *entry.EffectiveRating
				rawRating = &v
			}
			var percentile *float64
			if rawRating != nil {
				percentile, err = e.percentiles.Percentile(ctx, platform, *rawRating, e.token())
				if err != nil {
					return recomputed, fmt.Errorf("percentile: %w", err)
				}
			}

			breakdown := scoring.Compute(event.PolicyVersion, platform, rawRating, percentile, event.BonusMultiplier)
			delta := event.Apply(breakdown)
			if delta.IsZero() {
				continue
			}
			if err := e.events.Update(ctx, event); err != nil {
				return recomputed, fmt.Errorf("update event %d: %w", event.ID, err)
			}
			if err := e.aggregates.ApplyDelta(ctx, event.StudentID, delta); err != nil {
				return recomputed, fmt.Errorf("apply delta: %w", err)
			}
			recomputed++
		}

		if len(events) < pageSize {
			break
		}
	}

	e.logger.Info("platform recalculated",
		slog.String("platform", string(platform)), slog.Int("events_changed", recomputed))
	return recomputed, nil
}
