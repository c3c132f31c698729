package problem

import (
	"time"
)

// Platform identifies the competitive programming site a problem lives on.
type Platform string

const (
	PlatformCodeforces Platform = "codeforces"
	PlatformAtCoder    Platform = "atcoder"
)

// ParsePlatform maps loose user/API spellings onto a Platform.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformCodeforces, PlatformAtCoder:
		return Platform(s), true
	}
	switch s {
	case "cf", "CF", "Codeforces":
		return PlatformCodeforces, true
	case "ac", "AC", "AtCoder":
		return PlatformAtCoder, true
	}
	return "", false
}

// PlatformFromURL infers the platform from a problem URL host.
func PlatformFromURL(problemURL string) (Platform, bool) {
	switch {
	case containsHost(problemURL, "codeforces.com"):
		return PlatformCodeforces, true
	case containsHost(problemURL, "atcoder.jp"):
		return PlatformAtCoder, true
	}
	return "", false
}

func containsHost(u, host string) bool {
	idx := indexOfHost(u)
	if idx < 0 {
		return false
	}
	rest := u[idx:]
	end := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			end = i
			break
		}
	}
	h := rest[:end]
	return h == host || h == "www."+host || hasSuffixDot(h, host)
}

func indexOfHost(u string) int {
	for _, prefix := range []string{"https://", "http://"} {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			return len(prefix)
		}
	}
	return -1
}

func hasSuffixDot(h, host string) bool {
	return len(h) > len(host)+1 && h[len(h)-len(host)-1] == '.' && h[len(h)-len(host):] == host
}

// ─────────────────────────────────────────────────────────────────────────────
// Rating cache
// ─────────────────────────────────────────────────────────────────────────────

// RatingStatus records the outcome of the last attempt to resolve a
// problem's rating from the difficulty aggregator.
type RatingStatus string

const (
	// StatusOK means a rating was resolved. OK always implies a non-null
	// effective rating; an OK entry without one is corrupt and gets healed
	// back to a re-fetchable state by the backfill scheduler.
	StatusOK RatingStatus = "ok"

	// StatusNotFound means the aggregator answered and the problem is not
	// in its index. Terminal until the cache entry expires.
	StatusNotFound RatingStatus = "not_found"

	// StatusTempFail covers transient transport and upstream errors.
	StatusTempFail RatingStatus = "temp_fail"

	// StatusRateLimited means the aggregator throttled us. Retryable, but
	// ordered behind temp failures in the backfill queue so a throttling
	// episode does not starve ordinary retries.
	StatusRateLimited RatingStatus = "rate_limited"

	// StatusError covers unexpected local failures (decode errors, bugs).
	StatusError RatingStatus = "error"
)

// Retryable reports whether the backfill scheduler should reattempt the
// fetch before the entry's TTL expires.
func (s RatingStatus) Retryable() bool {
	switch s {
	case StatusTempFail, StatusRateLimited, StatusError:
		return true
	}
	return false
}

// RatingSource says where a cache entry's effective rating came from.
type RatingSource string

const (
	// SourceNone: no usable rating yet.
	SourceNone RatingSource = "none"

	// SourceAggregator: rating resolved from the difficulty aggregator.
	SourceAggregator RatingSource = "aggregator"

	// SourceNative: judge-reported rating (Codeforces publishes one,
	// AtCoder does not).
	SourceNative RatingSource = "native"
)

// CacheEntry is one row of the problem rating cache, keyed by normalized
// problem URL. Ratings are kept on the platform's own scale; cross-scale
// conversion is the scoring engine's concern.
type CacheEntry struct {
	URL              string
	Platform         Platform
	ExternalID       string // aggregator-assigned problem id
	AggregatorRating *int
	NativeRating     *int
	EffectiveRating  *int // derived; see RecomputeEffective
	Source           RatingSource
	Status           RatingStatus
	ContestKey       string // aggregator-side contest identifier, if known
	ProblemName      string // aggregator-side problem name, if known
	Attempts         int    // consecutive failed fetch attempts
	LastError        string
	NextRetryAt      *time.Time
	FetchedAt        time.Time // last authoritative answer
	UpdatedAt        time.Time
}

// RecomputeEffective re-derives EffectiveRating and Source from the two
// underlying rating fields. Aggregator wins over native when both are set.
// Must be called whenever either underlying field changes; all cache
// writers go through this so the derived pair never drifts.
func (e *CacheEntry) RecomputeEffective() {
	switch {
	case e.AggregatorRating != nil:
		v := *e.AggregatorRating
		e.EffectiveRating = &v
		e.Source = SourceAggregator
	case e.NativeRating != nil:
		v := *e.NativeRating
		e.EffectiveRating = &v
		e.Source = SourceNative
	default:
		e.EffectiveRating = nil
		e.Source = SourceNone
	}
}

// Fresh reports whether the entry was fetched within ttl of now.
func (e *CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return !e.FetchedAt.IsZero() && now.Sub(e.FetchedAt) < ttl
}

// Corrupt reports the OK-with-no-rating state that the healing pass
// repairs.
func (e *CacheEntry) Corrupt() bool {
	return e.Status == StatusOK && e.EffectiveRating == nil
}

// Usable reports whether scoring can consume the entry's rating directly.
func (e *CacheEntry) Usable() bool {
	return e.Status == StatusOK && e.EffectiveRating != nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fetch queue
// ─────────────────────────────────────────────────────────────────────────────

// FetchPriority orders queued rating fetches. Lower sorts first.
type FetchPriority int

const (
	// PriorityHigh: a user-facing read missed the cache.
	PriorityHigh FetchPriority = 0
	// PriorityLow: scheduled healing and refresh work.
	PriorityLow FetchPriority = 10
)

// FetchState is the lifecycle of one queued fetch request.
type FetchState string

const (
	FetchQueued  FetchState = "queued"
	FetchRunning FetchState = "running"
	FetchDone    FetchState = "done"
	// FetchFailed is terminal: the attempt budget ran out. Requires an
	// administrative reset.
	FetchFailed FetchState = "failed"
)

// FetchRequest is a queued request to resolve one problem's rating.
// Requests are unique per (platform, URL): enqueueing an already queued
// URL raises its priority at most, never duplicates it.
type FetchRequest struct {
	ID         int64
	URL        string
	Platform   Platform
	NameHint   string
	Priority   FetchPriority
	State      FetchState
	Attempts   int
	NotBefore  time.Time // backoff gate; zero means immediately eligible
	EnqueuedAt time.Time
	ClaimedAt  *time.Time
	LastError  string
}

// NextBackoff computes the delay before attempt n+1 given n prior failed
// attempts: base * 2^attempts, capped at limit.
func NextBackoff(base, limit time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
