package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ══════════════════════════════════════════════════════════════════════════════
// FETCH QUEUE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// FetchQueueRepository implements problem.FetchQueue for PostgreSQL.
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never hand
// out the same request twice.
type FetchQueueRepository struct {
	conn *Connection
}

// NewFetchQueueRepository creates a new FetchQueueRepository.
func NewFetchQueueRepository(conn *Connection) *FetchQueueRepository {
	return &FetchQueueRepository{conn: conn}
}

// Enqueue adds a QUEUED request, deduplicating on (platform, URL).
// A conflicting row only has its priority raised, and only when the new
// request is more urgent; DONE and FAILED leftovers are revived.
func (r *FetchQueueRepository) Enqueue(ctx context.Context, req *problem.FetchRequest) (bool, error) {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO rating_fetch_queue (
			platform, problem_url, name_hint, priority, state, attempts,
			not_before, enqueued_at, last_error
		) VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, '')
		ON CONFLICT (platform, problem_url) DO UPDATE SET
			priority = LEAST(rating_fetch_queue.priority, EXCLUDED.priority),
			name_hint = CASE
				WHEN rating_fetch_queue.name_hint = '' THEN EXCLUDED.name_hint
				ELSE rating_fetch_queue.name_hint
			END,
			state = CASE
				WHEN rating_fetch_queue.state IN ('done', 'failed') THEN 'queued'
				ELSE rating_fetch_queue.state
			END,
			attempts = CASE
				WHEN rating_fetch_queue.state IN ('done', 'failed') THEN 0
				ELSE rating_fetch_queue.attempts
			END
		RETURNING id, (xmax = 0) AS inserted
	`

	var notBefore *time.Time
	if !req.NotBefore.IsZero() {
		notBefore = &req.NotBefore
	}

	var inserted bool
	err := r.conn.QueryRow(ctx, query,
		string(req.Platform),
		req.URL,
		req.NameHint,
		int(req.Priority),
		req.Attempts,
		notBefore,
		req.EnqueuedAt,
	).Scan(&req.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue fetch request: %w", err)
	}
	return inserted, nil
}

// Claim atomically moves the most urgent eligible QUEUED request to
// RUNNING and returns it.
func (r *FetchQueueRepository) Claim(ctx context.Context, now time.Time) (*problem.FetchRequest, error) {
	query := `
		UPDATE rating_fetch_queue SET
			state = 'running',
			claimed_at = $1
		WHERE id = (
			SELECT id FROM rating_fetch_queue
			WHERE state = 'queued'
			  AND (not_before IS NULL OR not_before <= $1)
			ORDER BY priority, enqueued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, platform, problem_url, name_hint, priority, state,
		          attempts, not_before, enqueued_at, claimed_at, last_error
	`

	req, err := r.scanRequest(r.conn.QueryRow(ctx, query, now.UTC()))
	if err != nil {
		return nil, err
	}
	return req, nil
}

// MarkDone finishes a claimed request.
func (r *FetchQueueRepository) MarkDone(ctx context.Context, id int64) error {
	_, err := r.conn.Exec(ctx, `UPDATE rating_fetch_queue SET state = 'done' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark fetch request done: %w", err)
	}
	return nil
}

// Reschedule returns a claimed request to QUEUED with an updated attempt
// count, error and backoff gate.
func (r *FetchQueueRepository) Reschedule(ctx context.Context, req *problem.FetchRequest) error {
	query := `
		UPDATE rating_fetch_queue SET
			state = 'queued',
			attempts = $2,
			not_before = $3,
			last_error = $4,
			claimed_at = NULL
		WHERE id = $1
	`
	_, err := r.conn.Exec(ctx, query, req.ID, req.Attempts, req.NotBefore, req.LastError)
	if err != nil {
		return fmt.Errorf("failed to reschedule fetch request: %w", err)
	}
	return nil
}

// MarkFailed parks a claimed request in the terminal FAILED state.
func (r *FetchQueueRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE rating_fetch_queue SET state = 'failed', last_error = $2 WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark fetch request failed: %w", err)
	}
	return nil
}

// ReleaseStuck returns RUNNING requests claimed more than maxAge ago to
// QUEUED.
func (r *FetchQueueRepository) ReleaseStuck(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	query := `
		UPDATE rating_fetch_queue SET
			state = 'queued',
			claimed_at = NULL
		WHERE state = 'running' AND claimed_at < $1
	`
	tag, err := r.conn.Exec(ctx, query, now.UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck fetch requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Depth returns the number of QUEUED requests.
func (r *FetchQueueRepository) Depth(ctx context.Context) (int, error) {
	var depth int
	err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM rating_fetch_queue WHERE state = 'queued'`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue depth: %w", err)
	}
	return depth, nil
}

func (r *FetchQueueRepository) scanRequest(row pgx.Row) (*problem.FetchRequest, error) {
	var (
		req       problem.FetchRequest
		platform  string
		state     string
		priority  int
		notBefore *time.Time
	)

	err := row.Scan(
		&req.ID, &platform, &req.URL, &req.NameHint, &priority, &state,
		&req.Attempts, &notBefore, &req.EnqueuedAt, &req.ClaimedAt, &req.LastError,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, problem.ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to scan fetch request: %w", err)
	}

	req.Platform = problem.Platform(platform)
	req.State = problem.FetchState(state)
	req.Priority = problem.FetchPriority(priority)
	if notBefore != nil {
		req.NotBefore = *notBefore
	}

	return &req, nil
}
