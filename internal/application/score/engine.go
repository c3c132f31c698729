// Package score drives the scoring pipeline: turning accepted
// submissions into first-solve score events, resolving events whose
// rating arrived late, and the periodic window/drift maintenance over
// the per-user aggregates.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// RatingProvider serves best-known problem ratings, scheduling a fetch
// on miss.
type RatingProvider interface {
	GetOrSchedule(ctx context.Context, platform problem.Platform, url, nameHint string, priority problem.FetchPriority, schedule bool) (*problem.CacheEntry, error)
}

// PercentileProvider locates ratings within a platform distribution.
type PercentileProvider interface {
	Percentile(ctx context.Context, platform problem.Platform, rating int, token string) (*float64, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the scoring pipeline.
type Engine struct {
	events      scoring.EventRepository
	aggregates  scoring.AggregateRepository
	contests    contest.Repository
	ratings     RatingProvider
	percentiles PercentileProvider
	policy      scoring.PolicyVersion
	seasonStart time.Time
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(
	events scoring.EventRepository,
	aggregates scoring.AggregateRepository,
	contests contest.Repository,
	ratings RatingProvider,
	percentiles PercentileProvider,
	policy scoring.PolicyVersion,
	seasonStart time.Time,
	logger *slog.Logger,
) *Engine {
	if policy == "" {
		policy = scoring.DefaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		events:      events,
		aggregates:  aggregates,
		contests:    contests,
		ratings:     ratings,
		percentiles: percentiles,
		policy:      policy,
		seasonStart: seasonStart,
		logger:      logger,
		now:         time.Now,
	}
}

// token is the percentile memoization key: one distribution per day.
func (e *Engine) token() string {
	return e.now().UTC().Format("2006-01-02")
}

// ─────────────────────────────────────────────────────────────────────────────
// Submission processing
// ─────────────────────────────────────────────────────────────────────────────

// ProcessResult summarizes one processing batch.
type ProcessResult struct {
	EventsCreated int
	Pending       int
	Skipped       int
}

// ProcessSubmissions creates score events for the first accepted solve
// of each problem in the batch. Later acceptances of an already scored
// problem are skipped; the uniqueness constraint makes replays and
// concurrent workers safe. Events whose rating is not yet known are
// created pending and resolved when the fetch completes.
func (e *Engine) ProcessSubmissions(ctx context.Context, subs []*submission.Submission) (ProcessResult, error) {
	var result ProcessResult

	for _, sub := range subs {
		if !sub.Accepted() || sub.ProblemURL == "" {
			result.Skipped++
			continue
		}

		_, err := e.events.Get(ctx, sub.StudentID, sub.Platform, sub.ProblemURL)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, scoring.ErrEventNotFound) {
			return result, fmt.Errorf("event lookup: %w", err)
		}

		pending, err := e.createEvent(ctx, sub)
		if err != nil {
			if errors.Is(err, scoring.ErrEventExists) {
				// Concurrent worker won the race.
				result.Skipped++
				continue
			}
			return result, err
		}
		result.EventsCreated++
		if pending {
			result.Pending++
		}
	}
	return result, nil
}

// Process is the ingest-facing wrapper around ProcessSubmissions.
func (e *Engine) Process(ctx context.Context, subs []*submission.Submission) (int, error) {
	result, err := e.ProcessSubmissions(ctx, subs)
	return result.EventsCreated, err
}

func (e *Engine) createEvent(ctx context.Context, sub *submission.Submission) (pending bool, err error) {
	entry, err := e.ratings.GetOrSchedule(ctx, sub.Platform, sub.ProblemURL, sub.ProblemName, problem.PriorityHigh, true)
	if err != nil {
		return false, fmt.Errorf("rating lookup: %w", err)
	}

	var rawRating *int
	if entry != nil && entry.EffectiveRating != nil {
		v := *entry.EffectiveRating
		rawRating = &v
	}

	inContest, err := e.inContest(ctx, sub)
	if err != nil {
		return false, fmt.Errorf("contest lookup: %w", err)
	}
	bonus := 1.0
	if inContest {
		bonus = scoring.ContestBonusMultiplier
	}

	var percentile *float64
	if rawRating != nil {
		percentile, err = e.percentiles.Percentile(ctx, sub.Platform, *rawRating, e.token())
		if err != nil {
			return false, fmt.Errorf("percentile: %w", err)
		}
	}

	breakdown := scoring.Compute(e.policy, sub.Platform, rawRating, percentile, bonus)

	event := &scoring.ScoreEvent{
		StudentID:     sub.StudentID,
		Platform:      sub.Platform,
		ProblemURL:    sub.ProblemURL,
		InContest:     inContest,
		PolicyVersion: e.policy,
		SolvedAt:      sub.SubmittedAt,
	}
	delta := event.Apply(breakdown)

	if err := e.events.Create(ctx, event); err != nil {
		return false, err
	}
	if err := e.aggregates.ApplyDelta(ctx, sub.StudentID, delta); err != nil {
		return false, fmt.Errorf("apply delta: %w", err)
	}
	return event.Pending(), nil
}

// inContest checks whether the solve landed inside the live window of
// its contest.
func (e *Engine) inContest(ctx context.Context, sub *submission.Submission) (bool, error) {
	if sub.ContestID == "" {
		return false, nil
	}
	c, err := e.contests.Get(ctx, sub.Platform, sub.ContestID)
	if err != nil {
		if errors.Is(err, contest.ErrContestNotFound) {
			return false, nil
		}
		return false, err
	}
	return c.InWindow(sub.SubmittedAt), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Pending resolution
// ─────────────────────────────────────────────────────────────────────────────

// ResolvePending re-scores every event waiting on a URL with its now
// known rating. Each event's own policy version and persisted bonus
// multiplier are replayed so resolution is consistent with creation.
// Returns the number of events resolved.
func (e *Engine) ResolvePending(ctx context.Context, platform problem.Platform, url string, rating int) (int, error) {
	events, err := e.events.ListPendingByURL(ctx, platform, url)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	percentile, err := e.percentiles.Percentile(ctx, platform, rating, e.token())
	if err != nil {
		return 0, fmt.Errorf("percentile: %w", err)
	}

	resolved := 0
	for _, event := range events {
		r := rating
		breakdown := scoring.Compute(event.PolicyVersion, platform, &r, percentile, event.BonusMultiplier)
		delta := event.Apply(breakdown)

		if err := e.events.Update(ctx, event); err != nil {
			return resolved, fmt.Errorf("update event %d: %w", event.ID, err)
		}
		if err := e.aggregates.ApplyDelta(ctx, event.StudentID, delta); err != nil {
			return resolved, fmt.Errorf("apply delta: %w", err)
		}
		resolved++
	}
	return resolved, nil
}
