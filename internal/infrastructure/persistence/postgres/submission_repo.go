package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SubmissionRepository implements submission.Repository for PostgreSQL.
type SubmissionRepository struct {
	conn *Connection
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(conn *Connection) *SubmissionRepository {
	return &SubmissionRepository{conn: conn}
}

const submissionColumns = `
	id, student_id, platform, external_id, contest_id, problem_index,
	problem_name, problem_url, verdict, submitted_at, created_at
`

// UpsertBatch inserts submissions, skipping duplicates on
// (platform, external id). Returns the submissions actually inserted.
func (r *SubmissionRepository) UpsertBatch(ctx context.Context, subs []*submission.Submission) ([]*submission.Submission, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO submissions (
			student_id, platform, external_id, contest_id, problem_index,
			problem_name, problem_url, verdict, submitted_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (platform, external_id) DO NOTHING
		RETURNING id
	`

	var inserted []*submission.Submission
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, s := range subs {
			err := tx.QueryRow(ctx, query,
				s.StudentID,
				string(s.Platform),
				s.ExternalID,
				s.ContestID,
				s.ProblemIndex,
				s.ProblemName,
				s.ProblemURL,
				string(s.Verdict),
				s.SubmittedAt,
			).Scan(&s.ID)
			if err != nil {
				if IsNoRows(err) {
					// Duplicate; replayed sync window.
					continue
				}
				return fmt.Errorf("failed to insert submission %s: %w", s.ExternalID, err)
			}
			inserted = append(inserted, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// ListByStudent returns a student's submissions on a platform, newest
// first, paged.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID string, platform problem.Platform, limit, offset int) ([]*submission.Submission, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE student_id = $1 AND platform = $2
		ORDER BY submitted_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.conn.Query(ctx, query, studentID, string(platform), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*submission.Submission
	for rows.Next() {
		s, err := r.scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// DistinctURLs returns the normalized URLs seen in accepted submissions
// on a platform.
func (r *SubmissionRepository) DistinctURLs(ctx context.Context, platform problem.Platform) ([]string, error) {
	query := `
		SELECT DISTINCT problem_url
		FROM submissions
		WHERE platform = $1 AND verdict = 'accepted' AND problem_url != ''
	`
	rows, err := r.conn.Query(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct submission urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan submission url: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// CountByStudent returns a student's total submission count.
func (r *SubmissionRepository) CountByStudent(ctx context.Context, studentID string) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM submissions WHERE student_id = $1`, studentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

func (r *SubmissionRepository) scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var (
		s        submission.Submission
		platform string
		verdict  string
	)

	err := row.Scan(
		&s.ID, &s.StudentID, &platform, &s.ExternalID, &s.ContestID, &s.ProblemIndex,
		&s.ProblemName, &s.ProblemURL, &verdict, &s.SubmittedAt, &s.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, submission.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}

	s.Platform = problem.Platform(platform)
	s.Verdict = submission.Verdict(verdict)

	return &s, nil
}
