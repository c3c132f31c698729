package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATING CACHE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RatingCacheRepository implements problem.CacheRepository for PostgreSQL.
type RatingCacheRepository struct {
	conn *Connection
}

// NewRatingCacheRepository creates a new RatingCacheRepository.
func NewRatingCacheRepository(conn *Connection) *RatingCacheRepository {
	return &RatingCacheRepository{conn: conn}
}

const cacheColumns = `
	problem_url, platform, external_id, aggregator_rating, native_rating,
	effective_rating, rating_source, status, contest_key, problem_name,
	attempts, last_error, next_retry_at, fetched_at, updated_at
`

// Get returns the entry for a normalized URL.
func (r *RatingCacheRepository) Get(ctx context.Context, url string) (*problem.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM problem_rating_cache WHERE problem_url = $1`
	return r.scanEntry(r.conn.QueryRow(ctx, query, url))
}

// GetBatch returns the entries that exist for the given URLs.
func (r *RatingCacheRepository) GetBatch(ctx context.Context, urls []string) (map[string]*problem.CacheEntry, error) {
	if len(urls) == 0 {
		return map[string]*problem.CacheEntry{}, nil
	}

	query := `SELECT ` + cacheColumns + ` FROM problem_rating_cache WHERE problem_url = ANY($1)`
	rows, err := r.conn.Query(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get cache entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*problem.CacheEntry)
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries[entry.URL] = entry
	}
	return entries, rows.Err()
}

// Upsert inserts or replaces an entry keyed by URL.
func (r *RatingCacheRepository) Upsert(ctx context.Context, entry *problem.CacheEntry) error {
	entry.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO problem_rating_cache (
			problem_url, platform, external_id, aggregator_rating, native_rating,
			effective_rating, rating_source, status, contest_key, problem_name,
			attempts, last_error, next_retry_at, fetched_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (problem_url) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			aggregator_rating = EXCLUDED.aggregator_rating,
			native_rating = EXCLUDED.native_rating,
			effective_rating = EXCLUDED.effective_rating,
			rating_source = EXCLUDED.rating_source,
			status = EXCLUDED.status,
			contest_key = EXCLUDED.contest_key,
			problem_name = EXCLUDED.problem_name,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = EXCLUDED.updated_at
	`

	var fetchedAt *time.Time
	if !entry.FetchedAt.IsZero() {
		fetchedAt = &entry.FetchedAt
	}

	_, err := r.conn.Exec(ctx, query,
		entry.URL,
		string(entry.Platform),
		entry.ExternalID,
		entry.AggregatorRating,
		entry.NativeRating,
		entry.EffectiveRating,
		string(entry.Source),
		string(entry.Status),
		entry.ContestKey,
		entry.ProblemName,
		entry.Attempts,
		entry.LastError,
		entry.NextRetryAt,
		fetchedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// ListByStatus returns entries with the given status, oldest update first.
func (r *RatingCacheRepository) ListByStatus(ctx context.Context, status problem.RatingStatus, limit int) ([]*problem.CacheEntry, error) {
	query := `
		SELECT ` + cacheColumns + `
		FROM problem_rating_cache
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2
	`
	return r.queryEntries(ctx, query, string(status), limit)
}

// ListStale returns OK and NOT_FOUND entries last fetched before olderThan.
func (r *RatingCacheRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*problem.CacheEntry, error) {
	query := `
		SELECT ` + cacheColumns + `
		FROM problem_rating_cache
		WHERE status IN ('ok', 'not_found')
		  AND (fetched_at IS NULL OR fetched_at < $1)
		ORDER BY fetched_at NULLS FIRST
		LIMIT $2
	`
	return r.queryEntries(ctx, query, olderThan, limit)
}

// ListCorrupt returns OK entries with a null effective rating.
func (r *RatingCacheRepository) ListCorrupt(ctx context.Context, limit int) ([]*problem.CacheEntry, error) {
	query := `
		SELECT ` + cacheColumns + `
		FROM problem_rating_cache
		WHERE status = 'ok' AND effective_rating IS NULL
		ORDER BY updated_at
		LIMIT $1
	`
	return r.queryEntries(ctx, query, limit)
}

// ListByExternalID returns every entry recorded under one aggregator id.
func (r *RatingCacheRepository) ListByExternalID(ctx context.Context, externalID string) ([]*problem.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM problem_rating_cache WHERE external_id = $1`
	return r.queryEntries(ctx, query, externalID)
}

// ListDuplicateExternalIDs returns aggregator ids attached to more than
// one cache entry.
func (r *RatingCacheRepository) ListDuplicateExternalIDs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT external_id
		FROM problem_rating_cache
		WHERE external_id != ''
		GROUP BY external_id
		HAVING COUNT(*) > 1
		LIMIT $1
	`
	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate external ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns entry counts grouped by status.
func (r *RatingCacheRepository) CountByStatus(ctx context.Context) (map[problem.RatingStatus]int, error) {
	rows, err := r.conn.Query(ctx, `SELECT status, COUNT(*) FROM problem_rating_cache GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[problem.RatingStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[problem.RatingStatus(status)] = count
	}
	return counts, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *RatingCacheRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*problem.CacheEntry, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*problem.CacheEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *RatingCacheRepository) scanEntry(row pgx.Row) (*problem.CacheEntry, error) {
	var (
		entry     problem.CacheEntry
		platform  string
		source    string
		status    string
		fetchedAt *time.Time
	)

	err := row.Scan(
		&entry.URL, &platform, &entry.ExternalID, &entry.AggregatorRating, &entry.NativeRating,
		&entry.EffectiveRating, &source, &status, &entry.ContestKey, &entry.ProblemName,
		&entry.Attempts, &entry.LastError, &entry.NextRetryAt, &fetchedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, problem.ErrNotCached
		}
		return nil, fmt.Errorf("failed to scan cache entry: %w", err)
	}

	entry.Platform = problem.Platform(platform)
	entry.Source = problem.RatingSource(source)
	entry.Status = problem.RatingStatus(status)
	if fetchedAt != nil {
		entry.FetchedAt = *fetchedAt
	}

	return &entry, nil
}
