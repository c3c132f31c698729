package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEST REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ContestRepository implements contest.Repository for PostgreSQL.
type ContestRepository struct {
	conn *Connection
}

// NewContestRepository creates a new ContestRepository.
func NewContestRepository(conn *Connection) *ContestRepository {
	return &ContestRepository{conn: conn}
}

const contestColumns = `
	platform, contest_id, name, kind, start_time, duration_seconds,
	sync_state, rating_summary, synced_at, created_at, updated_at
`

// Upsert inserts or updates a contest keyed by (platform, contest id).
func (r *ContestRepository) Upsert(ctx context.Context, c *contest.Contest) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO contests (
			platform, contest_id, name, kind, start_time, duration_seconds,
			sync_state, rating_summary, synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (platform, contest_id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			start_time = EXCLUDED.start_time,
			duration_seconds = EXCLUDED.duration_seconds,
			updated_at = EXCLUDED.updated_at
	`

	var startTime *time.Time
	if !c.StartTime.IsZero() {
		startTime = &c.StartTime
	}

	_, err := r.conn.Exec(ctx, query,
		string(c.Platform),
		c.ContestID,
		c.Name,
		string(c.Kind),
		startTime,
		int64(c.Duration.Seconds()),
		string(c.SyncState),
		string(c.RatingSummary),
		c.SyncedAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contest: %w", err)
	}
	return nil
}

// Get returns one contest.
func (r *ContestRepository) Get(ctx context.Context, platform problem.Platform, contestID string) (*contest.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE platform = $1 AND contest_id = $2`
	return r.scanContest(r.conn.QueryRow(ctx, query, string(platform), contestID))
}

// FindSiblings returns other contests on the same platform sharing the
// exact start time.
func (r *ContestRepository) FindSiblings(ctx context.Context, platform problem.Platform, startTime time.Time, excludeContestID string) ([]*contest.Contest, error) {
	query := `
		SELECT ` + contestColumns + `
		FROM contests
		WHERE platform = $1 AND start_time = $2 AND contest_id != $3
	`
	rows, err := r.conn.Query(ctx, query, string(platform), startTime, excludeContestID)
	if err != nil {
		return nil, fmt.Errorf("failed to find sibling contests: %w", err)
	}
	defer rows.Close()

	return r.scanContests(rows)
}

// ListNeedingSync returns contests whose problem list is pending, partial,
// or synced before staleBefore, most recent start first.
func (r *ContestRepository) ListNeedingSync(ctx context.Context, platform problem.Platform, staleBefore time.Time, limit int) ([]*contest.Contest, error) {
	query := `
		SELECT ` + contestColumns + `
		FROM contests
		WHERE platform = $1
		  AND (
			sync_state != 'done'
			OR rating_summary = 'partial'
			OR synced_at IS NULL
			OR synced_at < $2
		  )
		ORDER BY start_time DESC NULLS LAST
		LIMIT $3
	`
	rows, err := r.conn.Query(ctx, query, string(platform), staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contests needing sync: %w", err)
	}
	defer rows.Close()

	return r.scanContests(rows)
}

// UpdateSyncState records the outcome of a problem-list sync.
func (r *ContestRepository) UpdateSyncState(ctx context.Context, platform problem.Platform, contestID string, state contest.SyncState, summary contest.RatingSummary, syncedAt time.Time) error {
	query := `
		UPDATE contests SET
			sync_state = $3, rating_summary = $4, synced_at = $5, updated_at = NOW()
		WHERE platform = $1 AND contest_id = $2
	`
	tag, err := r.conn.Exec(ctx, query, string(platform), contestID, string(state), string(summary), syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update contest sync state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contest.ErrContestNotFound
	}
	return nil
}

func (r *ContestRepository) scanContest(row pgx.Row) (*contest.Contest, error) {
	var (
		c         contest.Contest
		platform  string
		kind      string
		startTime *time.Time
		duration  int64
		state     string
		summary   string
	)

	err := row.Scan(
		&platform, &c.ContestID, &c.Name, &kind, &startTime, &duration,
		&state, &summary, &c.SyncedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, contest.ErrContestNotFound
		}
		return nil, fmt.Errorf("failed to scan contest: %w", err)
	}

	c.Platform = problem.Platform(platform)
	c.Kind = contest.Kind(kind)
	c.SyncState = contest.SyncState(state)
	c.RatingSummary = contest.RatingSummary(summary)
	c.Duration = time.Duration(duration) * time.Second
	if startTime != nil {
		c.StartTime = *startTime
	}

	return &c, nil
}

func (r *ContestRepository) scanContests(rows pgx.Rows) ([]*contest.Contest, error) {
	var contests []*contest.Contest
	for rows.Next() {
		c, err := r.scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEST PROBLEM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ContestProblemRepository implements contest.ProblemRepository.
type ContestProblemRepository struct {
	conn *Connection
}

// NewContestProblemRepository creates a new ContestProblemRepository.
func NewContestProblemRepository(conn *Connection) *ContestProblemRepository {
	return &ContestProblemRepository{conn: conn}
}

const contestProblemColumns = `
	id, platform, contest_id, index_label, name, problem_url, native_rating,
	rating_status, attempts, last_requested_at, created_at, updated_at
`

// UpsertBatch inserts or updates problems keyed by
// (platform, contest id, index label).
func (r *ContestProblemRepository) UpsertBatch(ctx context.Context, problems []*contest.ContestProblem) error {
	if len(problems) == 0 {
		return nil
	}

	query := `
		INSERT INTO contest_problems (
			platform, contest_id, index_label, name, problem_url, native_rating,
			rating_status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (platform, contest_id, index_label) DO UPDATE SET
			name = EXCLUDED.name,
			problem_url = EXCLUDED.problem_url,
			native_rating = COALESCE(EXCLUDED.native_rating, contest_problems.native_rating),
			updated_at = NOW()
	`

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, p := range problems {
			_, err := tx.Exec(ctx, query,
				string(p.Platform),
				p.ContestID,
				p.IndexLabel,
				p.Name,
				p.URL,
				p.NativeRating,
				string(p.RatingStatus),
				p.Attempts,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert contest problem %s/%s: %w", p.ContestID, p.IndexLabel, err)
			}
		}
		return nil
	})
}

// GetByURL returns the contest problems recorded under a normalized URL.
func (r *ContestProblemRepository) GetByURL(ctx context.Context, url string) ([]*contest.ContestProblem, error) {
	query := `SELECT ` + contestProblemColumns + ` FROM contest_problems WHERE problem_url = $1`
	return r.queryProblems(ctx, query, url)
}

// ListByContest returns a contest's problems in index order.
func (r *ContestProblemRepository) ListByContest(ctx context.Context, platform problem.Platform, contestID string) ([]*contest.ContestProblem, error) {
	query := `
		SELECT ` + contestProblemColumns + `
		FROM contest_problems
		WHERE platform = $1 AND contest_id = $2
		ORDER BY index_label
	`
	return r.queryProblems(ctx, query, string(platform), contestID)
}

// ListBackfillCandidates returns problems eligible for a rating fetch.
// Rate-limited rows sort behind everything else, then AtCoder ahead of
// Codeforces, then cheaper (lower-rated) problems first, so the external
// budget goes to likely-solved problems.
func (r *ContestProblemRepository) ListBackfillCandidates(ctx context.Context, statuses []contest.ProblemRatingStatus, maxAttempts int, requestedBefore time.Time, limit int) ([]*contest.ContestProblem, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}

	query := `
		SELECT ` + contestProblemColumns + `
		FROM contest_problems
		WHERE rating_status = ANY($1)
		  AND attempts < $2
		  AND (last_requested_at IS NULL OR last_requested_at < $3)
		ORDER BY
			CASE rating_status WHEN 'rate_limited' THEN 1 ELSE 0 END,
			CASE platform WHEN 'atcoder' THEN 0 ELSE 1 END,
			native_rating NULLS LAST,
			id
		LIMIT $4
	`
	return r.queryProblems(ctx, query, strs, maxAttempts, requestedBefore, limit)
}

// MarkRequested bumps the attempt counter and stamps the request time.
func (r *ContestProblemRepository) MarkRequested(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE contest_problems SET
			attempts = attempts + 1,
			last_requested_at = $2,
			rating_status = CASE
				WHEN rating_status IN ('missing', 'temp_fail', 'rate_limited') THEN 'queued'
				ELSE rating_status
			END,
			updated_at = NOW()
		WHERE id = ANY($1)
	`
	_, err := r.conn.Exec(ctx, query, ids, at)
	if err != nil {
		return fmt.Errorf("failed to mark contest problems requested: %w", err)
	}
	return nil
}

// SetRatingStatusByURL updates the rating status of every contest problem
// recorded under a URL.
func (r *ContestProblemRepository) SetRatingStatusByURL(ctx context.Context, url string, status contest.ProblemRatingStatus) (int, error) {
	query := `
		UPDATE contest_problems SET rating_status = $2, updated_at = NOW()
		WHERE problem_url = $1
	`
	tag, err := r.conn.Exec(ctx, query, url, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to set contest problem status: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetExhausted zeroes the attempt counter on rows stuck at or above
// maxAttempts whose last request is older than requestedBefore.
func (r *ContestProblemRepository) ResetExhausted(ctx context.Context, maxAttempts int, requestedBefore time.Time) (int, error) {
	query := `
		UPDATE contest_problems SET attempts = 0, updated_at = NOW()
		WHERE attempts >= $1
		  AND rating_status NOT IN ('ok', 'not_found')
		  AND last_requested_at < $2
	`
	tag, err := r.conn.Exec(ctx, query, maxAttempts, requestedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reset exhausted contest problems: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindAliasCandidates returns resolved sibling rows for alias healing.
// Name matching happens in Go so it stays in lockstep with
// contest.NormalizedName, which also collapses internal whitespace.
func (r *ContestProblemRepository) FindAliasCandidates(ctx context.Context, platform problem.Platform, normalizedName string, contestIDs []string) ([]*contest.ContestProblem, error) {
	if len(contestIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + contestProblemColumns + `
		FROM contest_problems
		WHERE platform = $1
		  AND contest_id = ANY($2)
		  AND rating_status = 'ok'
	`
	siblings, err := r.queryProblems(ctx, query, string(platform), contestIDs)
	if err != nil {
		return nil, err
	}
	return filterByNormalizedName(siblings, normalizedName), nil
}

func filterByNormalizedName(problems []*contest.ContestProblem, normalizedName string) []*contest.ContestProblem {
	var matched []*contest.ContestProblem
	for _, p := range problems {
		if contest.NormalizedName(p.Name) == normalizedName {
			matched = append(matched, p)
		}
	}
	return matched
}

func (r *ContestProblemRepository) queryProblems(ctx context.Context, query string, args ...interface{}) ([]*contest.ContestProblem, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contest problems: %w", err)
	}
	defer rows.Close()

	var problems []*contest.ContestProblem
	for rows.Next() {
		p, err := r.scanProblem(rows)
		if err != nil {
			return nil, err
		}
		problems = append(problems, p)
	}
	return problems, rows.Err()
}

func (r *ContestProblemRepository) scanProblem(row pgx.Row) (*contest.ContestProblem, error) {
	var (
		p        contest.ContestProblem
		platform string
		status   string
	)

	err := row.Scan(
		&p.ID, &platform, &p.ContestID, &p.IndexLabel, &p.Name, &p.URL, &p.NativeRating,
		&status, &p.Attempts, &p.LastRequestedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, contest.ErrProblemNotFound
		}
		return nil, fmt.Errorf("failed to scan contest problem: %w", err)
	}

	p.Platform = problem.Platform(platform)
	p.RatingStatus = contest.ProblemRatingStatus(status)

	return &p, nil
}
