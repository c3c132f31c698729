package problem

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotCached indicates no cache entry exists for the URL.
	ErrNotCached = errors.New("problem: rating not cached")

	// ErrQueueEmpty indicates no fetch request is currently eligible.
	ErrQueueEmpty = errors.New("problem: fetch queue empty")
)

// CacheRepository persists rating cache entries keyed by normalized URL.
type CacheRepository interface {
	// Get returns the entry for a normalized URL.
	// Returns ErrNotCached when none exists.
	Get(ctx context.Context, url string) (*CacheEntry, error)

	// GetBatch returns the entries that exist for the given URLs,
	// keyed by URL. Missing URLs are simply absent from the map.
	GetBatch(ctx context.Context, urls []string) (map[string]*CacheEntry, error)

	// Upsert inserts or replaces an entry.
	Upsert(ctx context.Context, entry *CacheEntry) error

	// ListByStatus returns entries with the given status, oldest update
	// first, up to limit.
	ListByStatus(ctx context.Context, status RatingStatus, limit int) ([]*CacheEntry, error)

	// ListStale returns OK and NOT_FOUND entries last fetched before
	// olderThan, oldest first, up to limit.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*CacheEntry, error)

	// ListCorrupt returns OK entries with a null effective rating,
	// oldest first, up to limit. Candidates for healing.
	ListCorrupt(ctx context.Context, limit int) ([]*CacheEntry, error)

	// ListByExternalID returns every entry recorded under one
	// aggregator-assigned problem id.
	ListByExternalID(ctx context.Context, externalID string) ([]*CacheEntry, error)

	// ListDuplicateExternalIDs returns aggregator problem ids attached to
	// more than one cache entry, for conflict healing.
	ListDuplicateExternalIDs(ctx context.Context, limit int) ([]string, error)

	// CountByStatus returns entry counts grouped by status.
	CountByStatus(ctx context.Context) (map[RatingStatus]int, error)
}

// FetchQueue persists pending rating fetch requests.
type FetchQueue interface {
	// Enqueue adds a QUEUED request, deduplicating on (platform, URL).
	// When the URL is already queued, the stored priority is raised to
	// the more urgent of the two and nothing else changes. Reports
	// whether a new row was created.
	Enqueue(ctx context.Context, req *FetchRequest) (bool, error)

	// Claim atomically moves the most urgent eligible QUEUED request to
	// RUNNING and returns it: lowest priority value first, then oldest
	// enqueue time; requests whose NotBefore is in the future are
	// skipped. Returns ErrQueueEmpty when nothing is eligible. Claimed
	// rows are invisible to concurrent claimers.
	Claim(ctx context.Context, now time.Time) (*FetchRequest, error)

	// MarkDone finishes a claimed request.
	MarkDone(ctx context.Context, id int64) error

	// Reschedule returns a claimed request to QUEUED with an updated
	// attempt count, error and backoff gate.
	Reschedule(ctx context.Context, req *FetchRequest) error

	// MarkFailed parks a claimed request in the terminal FAILED state.
	MarkFailed(ctx context.Context, id int64, lastError string) error

	// ReleaseStuck returns RUNNING requests claimed more than maxAge ago
	// to QUEUED, covering workers that died mid-fetch. Returns the
	// number released.
	ReleaseStuck(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)

	// Depth returns the number of QUEUED requests.
	Depth(ctx context.Context) (int, error)
}
