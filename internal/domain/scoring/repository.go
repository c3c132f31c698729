package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

var (
	// ErrEventExists signals the (user, platform, URL) uniqueness
	// constraint fired: the first accepted solve is already recorded.
	ErrEventExists = errors.New("scoring: event already exists")

	// ErrEventNotFound indicates no event matches the key.
	ErrEventNotFound = errors.New("scoring: event not found")
)

// EventRepository persists score events.
type EventRepository interface {
	// Create inserts an event. Returns ErrEventExists when the user
	// already has one for this (platform, URL).
	Create(ctx context.Context, e *ScoreEvent) error

	// Get returns the event for one (user, platform, URL).
	Get(ctx context.Context, studentID string, platform problem.Platform, url string) (*ScoreEvent, error)

	// Update rewrites an event's point fields.
	Update(ctx context.Context, e *ScoreEvent) error

	// ListPendingByURL returns events for a URL whose rating is still
	// unresolved.
	ListPendingByURL(ctx context.Context, platform problem.Platform, url string) ([]*ScoreEvent, error)

	// ListByStudent returns a student's events solved at or after since
	// (zero time means all), newest first.
	ListByStudent(ctx context.Context, studentID string, since time.Time) ([]*ScoreEvent, error)

	// ListByPlatform streams all events on a platform in id order,
	// paged, for full recalculation.
	ListByPlatform(ctx context.Context, platform problem.Platform, afterID int64, limit int) ([]*ScoreEvent, error)

	// SumByStudent sums point components over a student's events inside
	// [from, to); zero bounds mean unbounded.
	SumByStudent(ctx context.Context, studentID string, from, to time.Time) (PointSet, error)

	// SumAllStudents sums point components per student over events
	// inside [from, to), keyed by student id. Used by the window
	// recompute job and custom-range rankings.
	SumAllStudents(ctx context.Context, from, to time.Time) (map[string]PointSet, error)

	// DistinctRatedURLs returns the URLs referenced by any event on a
	// platform, for distribution building.
	DistinctRatedURLs(ctx context.Context, platform problem.Platform) ([]string, error)

	// ActivityByStudent counts solves and distinct solve days per student
	// over events inside [from, to); zero bounds mean unbounded. Feeds
	// the activity ranking and the top-movers solve floor.
	ActivityByStudent(ctx context.Context, from, to time.Time) (map[string]ActivityStat, error)
}

// ActivityStat summarizes one student's accepted solves inside a window.
type ActivityStat struct {
	Solves     int
	ActiveDays int
}

// AggregateRepository persists per-user running totals.
type AggregateRepository interface {
	// ApplyDelta atomically increments a student's all-time totals,
	// creating the row if needed. Increments are database-side, so
	// concurrent workers never lose an update.
	ApplyDelta(ctx context.Context, studentID string, d Delta) error

	// Get returns one student's aggregate; a zero aggregate when none
	// exists yet.
	Get(ctx context.Context, studentID string) (*Aggregate, error)

	// Replace rewrites a student's full aggregate row. Used by drift
	// reconciliation, never by the hot path.
	Replace(ctx context.Context, a *Aggregate) error

	// ReplaceWindows rewrites only the windowed sets for a student.
	ReplaceWindows(ctx context.Context, studentID string, last7d, last30d, season PointSet) error

	// ListAll returns every aggregate. Ranking builds read this.
	ListAll(ctx context.Context) ([]*Aggregate, error)
}
