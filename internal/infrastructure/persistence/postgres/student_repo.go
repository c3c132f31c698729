package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

const studentColumns = `
	id, username,
	cf_handle, cf_rating, cf_max_rating, cf_rating_refreshed_at, cf_last_synced_unix,
	ac_handle, ac_rating, ac_max_rating, ac_rating_refreshed_at, ac_last_synced_unix,
	excluded, active, created_at, updated_at
`

// Create inserts a student.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	query := `
		INSERT INTO students (
			id, username,
			cf_handle, cf_rating, cf_max_rating, cf_rating_refreshed_at, cf_last_synced_unix,
			ac_handle, ac_rating, ac_max_rating, ac_rating_refreshed_at, ac_last_synced_unix,
			excluded, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	cf := accountColumns(s.Codeforces)
	ac := accountColumns(s.AtCoder)

	_, err := r.conn.Exec(ctx, query,
		s.ID,
		string(s.Username),
		cf.handle, cf.rating, cf.maxRating, cf.refreshedAt, cf.lastSynced,
		ac.handle, ac.rating, ac.maxRating, ac.refreshedAt, ac.lastSynced,
		s.Excluded,
		s.Active,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return student.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create student: %w", err)
	}

	return nil
}

// GetByID returns a student by internal ID.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	return r.scanStudent(r.conn.QueryRow(ctx, query, id))
}

// GetByUsername returns a student by username.
func (r *StudentRepository) GetByUsername(ctx context.Context, username student.Username) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE username = $1`
	return r.scanStudent(r.conn.QueryRow(ctx, query, string(username)))
}

// GetByHandle returns the student owning a judge handle.
func (r *StudentRepository) GetByHandle(ctx context.Context, platform problem.Platform, handle student.Handle) (*student.Student, error) {
	column := "cf_handle"
	if platform == problem.PlatformAtCoder {
		column = "ac_handle"
	}
	query := `SELECT ` + studentColumns + ` FROM students WHERE LOWER(` + column + `) = LOWER($1)`
	return r.scanStudent(r.conn.QueryRow(ctx, query, string(handle)))
}

// Update rewrites a student row.
func (r *StudentRepository) Update(ctx context.Context, s *student.Student) error {
	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE students SET
			username = $2,
			cf_handle = $3, cf_rating = $4, cf_max_rating = $5,
			cf_rating_refreshed_at = $6, cf_last_synced_unix = $7,
			ac_handle = $8, ac_rating = $9, ac_max_rating = $10,
			ac_rating_refreshed_at = $11, ac_last_synced_unix = $12,
			excluded = $13, active = $14, updated_at = $15
		WHERE id = $1
	`

	cf := accountColumns(s.Codeforces)
	ac := accountColumns(s.AtCoder)

	tag, err := r.conn.Exec(ctx, query,
		s.ID,
		string(s.Username),
		cf.handle, cf.rating, cf.maxRating, cf.refreshedAt, cf.lastSynced,
		ac.handle, ac.rating, ac.maxRating, ac.refreshedAt, ac.lastSynced,
		s.Excluded,
		s.Active,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return student.ErrNotFound
	}

	return nil
}

// ListActive returns active students, username order, paged.
func (r *StudentRepository) ListActive(ctx context.Context, opts student.ListOptions) ([]*student.Student, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + studentColumns + `
		FROM students
		WHERE active
		ORDER BY username
		LIMIT $1 OFFSET $2
	`

	rows, err := r.conn.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// ListWithAccount returns active students that link an account on the
// platform.
func (r *StudentRepository) ListWithAccount(ctx context.Context, platform problem.Platform) ([]*student.Student, error) {
	column := "cf_handle"
	if platform == problem.PlatformAtCoder {
		column = "ac_handle"
	}

	query := `
		SELECT ` + studentColumns + `
		FROM students
		WHERE active AND ` + column + ` IS NOT NULL
		ORDER BY username
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list students with account: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// UpdateSyncCursor advances the submission sync cursor for one judge
// account.
func (r *StudentRepository) UpdateSyncCursor(ctx context.Context, id string, platform problem.Platform, lastSyncedUnix int64) error {
	column := "cf_last_synced_unix"
	if platform == problem.PlatformAtCoder {
		column = "ac_last_synced_unix"
	}

	query := `UPDATE students SET ` + column + ` = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.conn.Exec(ctx, query, id, lastSyncedUnix)
	if err != nil {
		return fmt.Errorf("failed to update sync cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return student.ErrNotFound
	}
	return nil
}

// UpdateJudgeRating stores a refreshed live rating.
func (r *StudentRepository) UpdateJudgeRating(ctx context.Context, id string, platform problem.Platform, rating, maxRating *int, refreshedAt time.Time) error {
	query := `
		UPDATE students SET
			cf_rating = $2, cf_max_rating = $3, cf_rating_refreshed_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	if platform == problem.PlatformAtCoder {
		query = `
			UPDATE students SET
				ac_rating = $2, ac_max_rating = $3, ac_rating_refreshed_at = $4, updated_at = NOW()
			WHERE id = $1
		`
	}

	tag, err := r.conn.Exec(ctx, query, id, rating, maxRating, refreshedAt)
	if err != nil {
		return fmt.Errorf("failed to update judge rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return student.ErrNotFound
	}
	return nil
}

// Count returns the number of active students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count students: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

type accountRow struct {
	handle      *string
	rating      *int
	maxRating   *int
	refreshedAt *time.Time
	lastSynced  int64
}

func accountColumns(a *student.JudgeAccount) accountRow {
	if a == nil {
		return accountRow{}
	}
	h := string(a.Handle)
	return accountRow{
		handle:      &h,
		rating:      a.Rating,
		maxRating:   a.MaxRating,
		refreshedAt: a.RatingRefreshedAt,
		lastSynced:  a.LastSyncedUnix,
	}
}

func (a accountRow) toAccount() *student.JudgeAccount {
	if a.handle == nil {
		return nil
	}
	return &student.JudgeAccount{
		Handle:            student.Handle(*a.handle),
		Rating:            a.rating,
		MaxRating:         a.maxRating,
		RatingRefreshedAt: a.refreshedAt,
		LastSyncedUnix:    a.lastSynced,
	}
}

func (r *StudentRepository) scanStudent(row pgx.Row) (*student.Student, error) {
	var (
		s        student.Student
		username string
		cf, ac   accountRow
	)

	err := row.Scan(
		&s.ID, &username,
		&cf.handle, &cf.rating, &cf.maxRating, &cf.refreshedAt, &cf.lastSynced,
		&ac.handle, &ac.rating, &ac.maxRating, &ac.refreshedAt, &ac.lastSynced,
		&s.Excluded, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, student.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan student: %w", err)
	}

	s.Username = student.Username(username)
	s.Codeforces = cf.toAccount()
	s.AtCoder = ac.toAccount()

	return &s, nil
}

func (r *StudentRepository) scanStudents(rows pgx.Rows) ([]*student.Student, error) {
	var students []*student.Student
	for rows.Next() {
		s, err := r.scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}
