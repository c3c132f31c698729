package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE AGGREGATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AggregateRepository implements scoring.AggregateRepository for PostgreSQL.
type AggregateRepository struct {
	conn *Connection
}

// NewAggregateRepository creates a new AggregateRepository.
func NewAggregateRepository(conn *Connection) *AggregateRepository {
	return &AggregateRepository{conn: conn}
}

// ApplyDelta atomically increments a student's all-time totals, creating
// the row if needed. The increment happens database-side so concurrent
// workers never lose an update.
func (r *AggregateRepository) ApplyDelta(ctx context.Context, studentID string, d scoring.Delta) error {
	if d.IsZero() {
		return nil
	}

	query := `
		INSERT INTO user_score_aggregates (
			student_id, total_cf_raw, total_ac_raw, total_general_norm, total_general_cf_equiv, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id) DO UPDATE SET
			total_cf_raw           = user_score_aggregates.total_cf_raw + EXCLUDED.total_cf_raw,
			total_ac_raw           = user_score_aggregates.total_ac_raw + EXCLUDED.total_ac_raw,
			total_general_norm     = user_score_aggregates.total_general_norm + EXCLUDED.total_general_norm,
			total_general_cf_equiv = user_score_aggregates.total_general_cf_equiv + EXCLUDED.total_general_cf_equiv,
			updated_at             = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		studentID, d.CFRaw, d.ACRaw, d.GeneralNorm, d.GeneralCFEquiv, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to apply aggregate delta: %w", err)
	}
	return nil
}

const aggregateColumns = `
	student_id,
	total_cf_raw, total_ac_raw, total_general_norm, total_general_cf_equiv,
	w7_cf_raw, w7_ac_raw, w7_general_norm, w7_general_cf_equiv,
	w30_cf_raw, w30_ac_raw, w30_general_norm, w30_general_cf_equiv,
	season_cf_raw, season_ac_raw, season_general_norm, season_general_cf_equiv,
	updated_at
`

// Get returns one student's aggregate; a zero aggregate when none exists
// yet.
func (r *AggregateRepository) Get(ctx context.Context, studentID string) (*scoring.Aggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM user_score_aggregates WHERE student_id = $1`

	a := &scoring.Aggregate{}
	err := r.conn.QueryRow(ctx, query, studentID).Scan(
		&a.StudentID,
		&a.Total.CFRaw, &a.Total.ACRaw, &a.Total.GeneralNorm, &a.Total.GeneralCFEquiv,
		&a.Last7d.CFRaw, &a.Last7d.ACRaw, &a.Last7d.GeneralNorm, &a.Last7d.GeneralCFEquiv,
		&a.Last30d.CFRaw, &a.Last30d.ACRaw, &a.Last30d.GeneralNorm, &a.Last30d.GeneralCFEquiv,
		&a.Season.CFRaw, &a.Season.ACRaw, &a.Season.GeneralNorm, &a.Season.GeneralCFEquiv,
		&a.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return &scoring.Aggregate{StudentID: studentID}, nil
		}
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	return a, nil
}

// Replace rewrites a student's full aggregate row. The reconciliation
// job uses this with a freshly recomputed aggregate; the hot path never
// does.
func (r *AggregateRepository) Replace(ctx context.Context, a *scoring.Aggregate) error {
	a.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO user_score_aggregates (` + aggregateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (student_id) DO UPDATE SET
			total_cf_raw            = EXCLUDED.total_cf_raw,
			total_ac_raw            = EXCLUDED.total_ac_raw,
			total_general_norm      = EXCLUDED.total_general_norm,
			total_general_cf_equiv  = EXCLUDED.total_general_cf_equiv,
			w7_cf_raw               = EXCLUDED.w7_cf_raw,
			w7_ac_raw               = EXCLUDED.w7_ac_raw,
			w7_general_norm         = EXCLUDED.w7_general_norm,
			w7_general_cf_equiv     = EXCLUDED.w7_general_cf_equiv,
			w30_cf_raw              = EXCLUDED.w30_cf_raw,
			w30_ac_raw              = EXCLUDED.w30_ac_raw,
			w30_general_norm        = EXCLUDED.w30_general_norm,
			w30_general_cf_equiv    = EXCLUDED.w30_general_cf_equiv,
			season_cf_raw           = EXCLUDED.season_cf_raw,
			season_ac_raw           = EXCLUDED.season_ac_raw,
			season_general_norm     = EXCLUDED.season_general_norm,
			season_general_cf_equiv = EXCLUDED.season_general_cf_equiv,
			updated_at              = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		a.StudentID,
		a.Total.CFRaw, a.Total.ACRaw, a.Total.GeneralNorm, a.Total.GeneralCFEquiv,
		a.Last7d.CFRaw, a.Last7d.ACRaw, a.Last7d.GeneralNorm, a.Last7d.GeneralCFEquiv,
		a.Last30d.CFRaw, a.Last30d.ACRaw, a.Last30d.GeneralNorm, a.Last30d.GeneralCFEquiv,
		a.Season.CFRaw, a.Season.ACRaw, a.Season.GeneralNorm, a.Season.GeneralCFEquiv,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace aggregate: %w", err)
	}
	return nil
}

// ReplaceWindows rewrites only the windowed sets for a student, leaving
// the incrementally maintained all-time totals alone.
func (r *AggregateRepository) ReplaceWindows(ctx context.Context, studentID string, last7d, last30d, season scoring.PointSet) error {
	query := `
		INSERT INTO user_score_aggregates (
			student_id,
			w7_cf_raw, w7_ac_raw, w7_general_norm, w7_general_cf_equiv,
			w30_cf_raw, w30_ac_raw, w30_general_norm, w30_general_cf_equiv,
			season_cf_raw, season_ac_raw, season_general_norm, season_general_cf_equiv,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (student_id) DO UPDATE SET
			w7_cf_raw               = EXCLUDED.w7_cf_raw,
			w7_ac_raw               = EXCLUDED.w7_ac_raw,
			w7_general_norm         = EXCLUDED.w7_general_norm,
			w7_general_cf_equiv     = EXCLUDED.w7_general_cf_equiv,
			w30_cf_raw              = EXCLUDED.w30_cf_raw,
			w30_ac_raw              = EXCLUDED.w30_ac_raw,
			w30_general_norm        = EXCLUDED.w30_general_norm,
			w30_general_cf_equiv    = EXCLUDED.w30_general_cf_equiv,
			season_cf_raw           = EXCLUDED.season_cf_raw,
			season_ac_raw           = EXCLUDED.season_ac_raw,
			season_general_norm     = EXCLUDED.season_general_norm,
			season_general_cf_equiv = EXCLUDED.season_general_cf_equiv,
			updated_at              = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		studentID,
		last7d.CFRaw, last7d.ACRaw, last7d.GeneralNorm, last7d.GeneralCFEquiv,
		last30d.CFRaw, last30d.ACRaw, last30d.GeneralNorm, last30d.GeneralCFEquiv,
		season.CFRaw, season.ACRaw, season.GeneralNorm, season.GeneralCFEquiv,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to replace aggregate windows: %w", err)
	}
	return nil
}

// ListAll returns every aggregate, for ranking builds.
func (r *AggregateRepository) ListAll(ctx context.Context) ([]*scoring.Aggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM user_score_aggregates`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	defer rows.Close()

	var aggregates []*scoring.Aggregate
	for rows.Next() {
		a := &scoring.Aggregate{}
		err := rows.Scan(
			&a.StudentID,
			&a.Total.CFRaw, &a.Total.ACRaw, &a.Total.GeneralNorm, &a.Total.GeneralCFEquiv,
			&a.Last7d.CFRaw, &a.Last7d.ACRaw, &a.Last7d.GeneralNorm, &a.Last7d.GeneralCFEquiv,
			&a.Last30d.CFRaw, &a.Last30d.ACRaw, &a.Last30d.GeneralNorm, &a.Last30d.GeneralCFEquiv,
			&a.Season.CFRaw, &a.Season.ACRaw, &a.Season.GeneralNorm, &a.Season.GeneralCFEquiv,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, rows.Err()
}
