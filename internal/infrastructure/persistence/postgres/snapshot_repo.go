package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/ranking"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository implements ranking.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// Save persists a snapshot, replacing earlier rows for the same key and
// TakenAt.
func (r *SnapshotRepository) Save(ctx context.Context, s *ranking.Snapshot) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM rank_snapshots
			WHERE mode = $1 AND category = $2 AND time_window = $3 AND scope = $4 AND taken_at = $5
		`, string(s.Key.Mode), string(s.Key.Category), string(s.Key.Window), string(s.Key.Scope), s.TakenAt)
		if err != nil {
			return fmt.Errorf("failed to clear snapshot rows: %w", err)
		}

		for _, row := range s.Rows {
			_, err := tx.Exec(ctx, `
				INSERT INTO rank_snapshots (
					mode, category, time_window, scope, taken_at,
					student_id, username, rank, points
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				string(s.Key.Mode), string(s.Key.Category), string(s.Key.Window), string(s.Key.Scope),
				s.TakenAt, row.StudentID, row.Username, row.Rank, row.Points)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot row: %w", err)
			}
		}
		return nil
	})
}

// Latest returns the most recent snapshot for a key.
func (r *SnapshotRepository) Latest(ctx context.Context, key ranking.Key) (*ranking.Snapshot, error) {
	return r.latestBefore(ctx, key, nil)
}

// LatestBefore returns the most recent snapshot taken strictly before
// the cutoff.
func (r *SnapshotRepository) LatestBefore(ctx context.Context, key ranking.Key, cutoff time.Time) (*ranking.Snapshot, error) {
	return r.latestBefore(ctx, key, &cutoff)
}

func (r *SnapshotRepository) latestBefore(ctx context.Context, key ranking.Key, cutoff *time.Time) (*ranking.Snapshot, error) {
	query := `
		SELECT MAX(taken_at)
		FROM rank_snapshots
		WHERE mode = $1 AND category = $2 AND time_window = $3 AND scope = $4
		  AND ($5::timestamptz IS NULL OR taken_at < $5)
	`

	var takenAt *time.Time
	err := r.conn.QueryRow(ctx, query,
		string(key.Mode), string(key.Category), string(key.Window), string(key.Scope), cutoff,
	).Scan(&takenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to locate snapshot: %w", err)
	}
	if takenAt == nil {
		return nil, ranking.ErrNoSnapshot
	}

	rows, err := r.conn.Query(ctx, `
		SELECT student_id, username, rank, points
		FROM rank_snapshots
		WHERE mode = $1 AND category = $2 AND time_window = $3 AND scope = $4 AND taken_at = $5
		ORDER BY rank
	`, string(key.Mode), string(key.Category), string(key.Window), string(key.Scope), *takenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot rows: %w", err)
	}
	defer rows.Close()

	s := &ranking.Snapshot{Key: key, TakenAt: *takenAt}
	for rows.Next() {
		var row ranking.SnapshotRow
		if err := rows.Scan(&row.StudentID, &row.Username, &row.Rank, &row.Points); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.Rows = append(s.Rows, row)
	}
	return s, rows.Err()
}

// Prune deletes snapshots older than the retention cutoff.
func (r *SnapshotRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM rank_snapshots WHERE taken_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
