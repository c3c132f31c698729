package contest

import (
	"regexp"
	"strings"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// SyncState tracks how far a contest's problem list has been ingested.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncPartial SyncState = "partial"
	SyncDone    SyncState = "done"
)

// RatingSummary summarizes how many of a contest's problems have a
// resolved rating.
type RatingSummary string

const (
	SummaryNone    RatingSummary = "none"
	SummaryPartial RatingSummary = "partial"
	SummaryFull    RatingSummary = "full"
)

// Contest is one round on one platform.
type Contest struct {
	Platform      problem.Platform
	ContestID     string
	Name          string
	Kind          Kind
	StartTime     time.Time
	Duration      time.Duration
	SyncState     SyncState
	RatingSummary RatingSummary
	SyncedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InWindow reports whether t falls inside the live contest window
// [start, start+duration]. Contests without a known start never match.
func (c *Contest) InWindow(t time.Time) bool {
	if c.StartTime.IsZero() || c.Duration <= 0 {
		return false
	}
	return !t.Before(c.StartTime) && !t.After(c.StartTime.Add(c.Duration))
}

var roundNumberRe = regexp.MustCompile(`(?i)\bround\s*#?\s*(\d+)`)

// RoundNumber extracts the "Round N" number from a contest name, e.g.
// "Codeforces Round 912 (Div. 2)" yields "912". Returns "" when the name
// carries no round number.
func (c *Contest) RoundNumber() string {
	m := roundNumberRe.FindStringSubmatch(c.Name)
	if m == nil {
		return ""
	}
	return m[1]
}

// SiblingOf reports whether two contests form a split round: same start
// time, different contest ids, and when both names carry a round number,
// the same number. Split Div.1/Div.2 rounds share problems under
// different contest ids, which is what alias healing exploits.
func (c *Contest) SiblingOf(other *Contest) bool {
	if other == nil || c.Platform != other.Platform {
		return false
	}
	if c.ContestID == other.ContestID {
		return false
	}
	if c.StartTime.IsZero() || !c.StartTime.Equal(other.StartTime) {
		return false
	}
	a, b := c.RoundNumber(), other.RoundNumber()
	if a != "" && b != "" && a != b {
		return false
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Contest problems
// ─────────────────────────────────────────────────────────────────────────────

// ProblemRatingStatus tracks rating resolution per contest occurrence of a
// problem. It mirrors the cache entry's status but keeps its own attempt
// counter, because the same canonical problem can appear in more than one
// contest listing.
type ProblemRatingStatus string

const (
	ProblemMissing     ProblemRatingStatus = "missing"
	ProblemQueued      ProblemRatingStatus = "queued"
	ProblemTempFail    ProblemRatingStatus = "temp_fail"
	ProblemRateLimited ProblemRatingStatus = "rate_limited"
	ProblemOK          ProblemRatingStatus = "ok"
	ProblemNotFound    ProblemRatingStatus = "not_found"
)

// ContestProblem is one problem slot within one contest listing.
type ContestProblem struct {
	ID              int64
	Platform        problem.Platform
	ContestID       string
	IndexLabel      string
	Name            string
	URL             string
	NativeRating    *int // judge-reported (Codeforces) or difficulty-model estimate (AtCoder)
	RatingStatus    ProblemRatingStatus
	Attempts        int
	LastRequestedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizedName lowercases and collapses whitespace, for alias matching
// of problem statement names across split-round siblings.
func NormalizedName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
