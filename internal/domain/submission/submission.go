// Package submission models raw judge submissions as ingested from the
// platform feeds, before scoring interprets them.
package submission

import (
	"context"
	"errors"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ErrNotFound indicates no submission matches the key.
var ErrNotFound = errors.New("submission: not found")

// Verdict is the judge's outcome, reduced to what scoring cares about.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Submission is one judge submission by one tracked student.
// (platform, external id) is unique, so overlapping sync windows and
// replays are safe.
type Submission struct {
	ID           int64
	StudentID    string
	Platform     problem.Platform
	ExternalID   string // judge-side submission id
	ContestID    string
	ProblemIndex string
	ProblemName  string
	ProblemURL   string // normalized; may be "" when unbuildable
	Verdict      Verdict
	SubmittedAt  time.Time
	CreatedAt    time.Time
}

// Accepted reports whether the submission can generate scoring.
func (s *Submission) Accepted() bool {
	return s.Verdict == VerdictAccepted
}

// Repository persists submissions.
type Repository interface {
	// UpsertBatch inserts submissions, silently skipping duplicates on
	// (platform, external id). Returns the submissions actually
	// inserted, preserving input order.
	UpsertBatch(ctx context.Context, subs []*Submission) ([]*Submission, error)

	// ListByStudent returns a student's submissions on a platform,
	// newest first, paged.
	ListByStudent(ctx context.Context, studentID string, platform problem.Platform, limit, offset int) ([]*Submission, error)

	// DistinctURLs returns the normalized URLs seen in accepted
	// submissions on a platform, for distribution building.
	DistinctURLs(ctx context.Context, platform problem.Platform) ([]string, error)

	// CountByStudent returns a student's total submission count.
	CountByStudent(ctx context.Context, studentID string) (int, error)
}
