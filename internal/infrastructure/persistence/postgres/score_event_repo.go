package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE EVENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ScoreEventRepository implements scoring.EventRepository for PostgreSQL.
type ScoreEventRepository struct {
	conn *Connection
}

// NewScoreEventRepository creates a new ScoreEventRepository.
func NewScoreEventRepository(conn *Connection) *ScoreEventRepository {
	return &ScoreEventRepository{conn: conn}
}

const scoreEventColumns = `
	id, student_id, platform, problem_url, raw_rating, rating_used_cf_equiv,
	points_cf_raw, points_ac_raw, points_general_norm, points_general_cf_equiv,
	in_contest, bonus_multiplier, policy_version, solved_at, created_at, updated_at
`

// Create inserts an event. The (student, platform, URL) uniqueness
// constraint is what enforces first-solve-wins, not ingestion order.
func (r *ScoreEventRepository) Create(ctx context.Context, e *scoring.ScoreEvent) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO score_events (
			student_id, platform, problem_url, raw_rating, rating_used_cf_equiv,
			points_cf_raw, points_ac_raw, points_general_norm, points_general_cf_equiv,
			in_contest, bonus_multiplier, policy_version, solved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	err := r.conn.QueryRow(ctx, query,
		e.StudentID,
		string(e.Platform),
		e.ProblemURL,
		e.RawRating,
		e.RatingUsedCFEquiv,
		e.PointsCFRaw,
		e.PointsACRaw,
		e.PointsGeneralNorm,
		e.PointsGeneralCFEquiv,
		e.InContest,
		e.BonusMultiplier,
		string(e.PolicyVersion),
		e.SolvedAt,
		e.CreatedAt,
		e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return scoring.ErrEventExists
		}
		return fmt.Errorf("failed to create score event: %w", err)
	}
	return nil
}

// Get returns the event for one (user, platform, URL).
func (r *ScoreEventRepository) Get(ctx context.Context, studentID string, platform problem.Platform, url string) (*scoring.ScoreEvent, error) {
	query := `
		SELECT ` + scoreEventColumns + `
		FROM score_events
		WHERE student_id = $1 AND platform = $2 AND problem_url = $3
	`
	return r.scanEvent(r.conn.QueryRow(ctx, query, studentID, string(platform), url))
}

// Update rewrites an event's point fields.
func (r *ScoreEventRepository) Update(ctx context.Context, e *scoring.ScoreEvent) error {
	e.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE score_events SET
			raw_rating = $2,
			rating_used_cf_equiv = $3,
			points_cf_raw = $4,
			points_ac_raw = $5,
			points_general_norm = $6,
			points_general_cf_equiv = $7,
			in_contest = $8,
			bonus_multiplier = $9,
			policy_version = $10,
			updated_at = $11
		WHERE id = $1
	`

	tag, err := r.conn.Exec(ctx, query,
		e.ID,
		e.RawRating,
		e.RatingUsedCFEquiv,
		e.PointsCFRaw,
		e.PointsACRaw,
		e.PointsGeneralNorm,
		e.PointsGeneralCFEquiv,
		e.InContest,
		e.BonusMultiplier,
		string(e.PolicyVersion),
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update score event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scoring.ErrEventNotFound
	}
	return nil
}

// ListPendingByURL returns events for a URL whose rating is still
// unresolved.
func (r *ScoreEventRepository) ListPendingByURL(ctx context.Context, platform problem.Platform, url string) ([]*scoring.ScoreEvent, error) {
	query := `
		SELECT ` + scoreEventColumns + `
		FROM score_events
		WHERE platform = $1 AND problem_url = $2 AND raw_rating IS NULL
	`
	return r.queryEvents(ctx, query, string(platform), url)
}

// ListByStudent returns a student's events solved at or after since,
// newest first.
func (r *ScoreEventRepository) ListByStudent(ctx context.Context, studentID string, since time.Time) ([]*scoring.ScoreEvent, error) {
	query := `
		SELECT ` + scoreEventColumns + `
		FROM score_events
		WHERE student_id = $1 AND ($2::timestamptz IS NULL OR solved_at >= $2)
		ORDER BY solved_at DESC
	`
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	return r.queryEvents(ctx, query, studentID, sinceArg)
}

// ListByPlatform streams all events on a platform in id order, paged.
func (r *ScoreEventRepository) ListByPlatform(ctx context.Context, platform problem.Platform, afterID int64, limit int) ([]*scoring.ScoreEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + scoreEventColumns + `
		FROM score_events
		WHERE platform = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`
	return r.queryEvents(ctx, query, string(platform), afterID, limit)
}

// SumByStudent sums point components over a student's events inside
// [from, to).
func (r *ScoreEventRepository) SumByStudent(ctx context.Context, studentID string, from, to time.Time) (scoring.PointSet, error) {
	query := `
		SELECT
			COALESCE(SUM(points_cf_raw), 0),
			COALESCE(SUM(points_ac_raw), 0),
			COALESCE(SUM(points_general_norm), 0),
			COALESCE(SUM(points_general_cf_equiv), 0)
		FROM score_events
		WHERE student_id = $1
		  AND ($2::timestamptz IS NULL OR solved_at >= $2)
		  AND ($3::timestamptz IS NULL OR solved_at < $3)
	`

	var p scoring.PointSet
	err := r.conn.QueryRow(ctx, query, studentID, nullableTime(from), nullableTime(to)).
		Scan(&p.CFRaw, &p.ACRaw, &p.GeneralNorm, &p.GeneralCFEquiv)
	if err != nil {
		return scoring.PointSet{}, fmt.Errorf("failed to sum score events: %w", err)
	}
	return p, nil
}

// SumAllStudents sums point components per student over events inside
// [from, to). This is the single aggregation pass the window recompute
// job and custom-range rankings are built on.
func (r *ScoreEventRepository) SumAllStudents(ctx context.Context, from, to time.Time) (map[string]scoring.PointSet, error) {
	query := `
		SELECT
			student_id,
			COALESCE(SUM(points_cf_raw), 0),
			COALESCE(SUM(points_ac_raw), 0),
			COALESCE(SUM(points_general_norm), 0),
			COALESCE(SUM(points_general_cf_equiv), 0)
		FROM score_events
		WHERE ($1::timestamptz IS NULL OR solved_at >= $1)
		  AND ($2::timestamptz IS NULL OR solved_at < $2)
		GROUP BY student_id
	`

	rows, err := r.conn.Query(ctx, query, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to sum score events per student: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]scoring.PointSet)
	for rows.Next() {
		var id string
		var p scoring.PointSet
		if err := rows.Scan(&id, &p.CFRaw, &p.ACRaw, &p.GeneralNorm, &p.GeneralCFEquiv); err != nil {
			return nil, fmt.Errorf("failed to scan student sum: %w", err)
		}
		sums[id] = p
	}
	return sums, rows.Err()
}

// DistinctRatedURLs returns the URLs referenced by any event on a
// platform.
func (r *ScoreEventRepository) DistinctRatedURLs(ctx context.Context, platform problem.Platform) ([]string, error) {
	query := `SELECT DISTINCT problem_url FROM score_events WHERE platform = $1`
	rows, err := r.conn.Query(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("failed to list event urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan event url: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// ActivityByStudent counts solves and distinct solve days per student
// over events inside [from, to).
func (r *ScoreEventRepository) ActivityByStudent(ctx context.Context, from, to time.Time) (map[string]scoring.ActivityStat, error) {
	query := `
		SELECT
			student_id,
			COUNT(*),
			COUNT(DISTINCT (solved_at AT TIME ZONE 'UTC')::date)
		FROM score_events
		WHERE ($1::timestamptz IS NULL OR solved_at >= $1)
		  AND ($2::timestamptz IS NULL OR solved_at < $2)
		GROUP BY student_id
	`

	rows, err := r.conn.Query(ctx, query, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to count student activity: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]scoring.ActivityStat)
	for rows.Next() {
		var id string
		var stat scoring.ActivityStat
		if err := rows.Scan(&id, &stat.Solves, &stat.ActiveDays); err != nil {
			return nil, fmt.Errorf("failed to scan student activity: %w", err)
		}
		stats[id] = stat
	}
	return stats, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *ScoreEventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*scoring.ScoreEvent, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query score events: %w", err)
	}
	defer rows.Close()

	var events []*scoring.ScoreEvent
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *ScoreEventRepository) scanEvent(row pgx.Row) (*scoring.ScoreEvent, error) {
	var (
		e        scoring.ScoreEvent
		platform string
		policy   string
	)

	err := row.Scan(
		&e.ID, &e.StudentID, &platform, &e.ProblemURL, &e.RawRating, &e.RatingUsedCFEquiv,
		&e.PointsCFRaw, &e.PointsACRaw, &e.PointsGeneralNorm, &e.PointsGeneralCFEquiv,
		&e.InContest, &e.BonusMultiplier, &policy, &e.SolvedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, scoring.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to scan score event: %w", err)
	}

	e.Platform = problem.Platform(platform)
	e.PolicyVersion = scoring.PolicyVersion(policy)

	return &e, nil
}
