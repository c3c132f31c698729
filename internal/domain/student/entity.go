// Package student holds the tracked-user domain model. No external
// dependencies live here.
package student

import (
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Handle is a judge account handle (Codeforces handle or AtCoder user id).
type Handle string

// IsValid checks basic handle shape: non-empty, bounded, no whitespace.
func (h Handle) IsValid() bool {
	s := string(h)
	return len(s) >= 2 && len(s) <= 50 && !strings.ContainsAny(s, " \t\n\r")
}

func (h Handle) String() string {
	return string(h)
}

// Username is the display name students are ranked under. Used as the
// deterministic tie-break in every ranking, so it must be unique.
type Username string

func (u Username) IsValid() bool {
	s := string(u)
	return len(s) >= 2 && len(s) <= 64 && !strings.ContainsAny(s, "\t\n\r")
}

func (u Username) String() string {
	return string(u)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// JudgeAccount is one linked judge profile with its live rating state.
type JudgeAccount struct {
	Handle            Handle
	Rating            *int       // live judge rating, null until first refresh
	MaxRating         *int
	RatingRefreshedAt *time.Time // gate for the refresh min-interval
	LastSyncedUnix    int64      // submission sync cursor, judge epoch seconds
}

// Student is one tracked user.
type Student struct {
	ID         string // uuid
	Username   Username
	Codeforces *JudgeAccount // nil when not linked
	AtCoder    *JudgeAccount // nil when not linked

	// Excluded removes the student from every ranking without touching
	// scoring. Moderation concept, orthogonal to score data.
	Excluded bool

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAnyAccount reports whether at least one judge profile is linked.
func (s *Student) HasAnyAccount() bool {
	return s.Codeforces != nil || s.AtCoder != nil
}

// RatingSum is the raw CF+AC rating total, the tie-break for the rating
// ranking. Unlinked or unrated accounts contribute zero.
func (s *Student) RatingSum() int {
	sum := 0
	if s.Codeforces != nil && s.Codeforces.Rating != nil {
		sum += *s.Codeforces.Rating
	}
	if s.AtCoder != nil && s.AtCoder.Rating != nil {
		sum += *s.AtCoder.Rating
	}
	return sum
}

// NeedsRatingRefresh reports whether a judge account's live rating is due
// for refresh given the configured minimum interval.
func (a *JudgeAccount) NeedsRatingRefresh(now time.Time, minInterval time.Duration) bool {
	if a == nil {
		return false
	}
	if a.RatingRefreshedAt == nil {
		return true
	}
	return now.Sub(*a.RatingRefreshedAt) >= minInterval
}
