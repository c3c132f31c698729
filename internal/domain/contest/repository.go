package contest

import (
	"context"
	"errors"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

var (
	// ErrContestNotFound indicates no contest matches the key.
	ErrContestNotFound = errors.New("contest: not found")

	// ErrProblemNotFound indicates no contest problem matches the key.
	ErrProblemNotFound = errors.New("contest: problem not found")
)

// Repository persists contests discovered from the judge catalogs.
type Repository interface {
	// Upsert inserts or updates a contest keyed by (platform, contest id).
	Upsert(ctx context.Context, c *Contest) error

	// Get returns one contest. Returns ErrContestNotFound when absent.
	Get(ctx context.Context, platform problem.Platform, contestID string) (*Contest, error)

	// FindSiblings returns other contests on the same platform sharing
	// the exact start time.
	FindSiblings(ctx context.Context, platform problem.Platform, startTime time.Time, excludeContestID string) ([]*Contest, error)

	// ListNeedingSync returns contests whose problem list is pending,
	// partial, or synced before staleBefore, most recent start first, up
	// to limit per platform.
	ListNeedingSync(ctx context.Context, platform problem.Platform, staleBefore time.Time, limit int) ([]*Contest, error)

	// UpdateSyncState records the outcome of a problem-list sync.
	UpdateSyncState(ctx context.Context, platform problem.Platform, contestID string, state SyncState, summary RatingSummary, syncedAt time.Time) error
}

// ProblemRepository persists per-contest problem rows.
type ProblemRepository interface {
	// UpsertBatch inserts or updates problems keyed by
	// (platform, contest id, index label).
	UpsertBatch(ctx context.Context, problems []*ContestProblem) error

	// GetByURL returns the contest problems recorded under a normalized
	// URL. More than one row is possible for mirrored listings.
	GetByURL(ctx context.Context, url string) ([]*ContestProblem, error)

	// ListByContest returns a contest's problems in index order.
	ListByContest(ctx context.Context, platform problem.Platform, contestID string) ([]*ContestProblem, error)

	// ListBackfillCandidates returns problems in the given rating
	// statuses with attempts below maxAttempts and last request older
	// than cooldown, up to limit. AtCoder rows sort ahead of Codeforces,
	// then lower native ratings first.
	ListBackfillCandidates(ctx context.Context, statuses []ProblemRatingStatus, maxAttempts int, requestedBefore time.Time, limit int) ([]*ContestProblem, error)

	// MarkRequested bumps the attempt counter and stamps the request
	// time for the given rows.
	MarkRequested(ctx context.Context, ids []int64, at time.Time) error

	// SetRatingStatusByURL updates the rating status of every contest
	// problem recorded under a URL. Returns rows affected.
	SetRatingStatusByURL(ctx context.Context, url string, status ProblemRatingStatus) (int, error)

	// ResetExhausted zeroes the attempt counter on rows stuck at or
	// above maxAttempts whose last request is older than resetAfter.
	// Returns the number reset.
	ResetExhausted(ctx context.Context, maxAttempts int, requestedBefore time.Time) (int, error)

	// FindAliasCandidates returns resolved sibling rows for alias
	// healing: same platform, same normalized problem name, contest in
	// the given contest ids, rating status OK.
	FindAliasCandidates(ctx context.Context, platform problem.Platform, normalizedName string, contestIDs []string) ([]*ContestProblem, error)
}
