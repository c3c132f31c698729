package postgres

import (
	"context"
	"fmt"

	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSION SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ConversionSnapshotRepository persists conversion-model observations.
// The rating-stats job appends one row per run; the table is the audit
// trail a manual refit would read.
type ConversionSnapshotRepository struct {
	conn *Connection
}

// NewConversionSnapshotRepository creates a ConversionSnapshotRepository.
func NewConversionSnapshotRepository(conn *Connection) *ConversionSnapshotRepository {
	return &ConversionSnapshotRepository{conn: conn}
}

// Record appends one snapshot row.
func (r *ConversionSnapshotRepository) Record(ctx context.Context, snap *scoring.ConversionSnapshot) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO conversion_snapshots (direction, sample_count, slope, intercept, taken_at)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.Direction, snap.SampleCount, snap.Slope, snap.Intercept, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to record conversion snapshot: %w", err)
	}
	return nil
}
