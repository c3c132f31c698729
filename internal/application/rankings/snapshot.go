package rankings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/ranking"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTTING
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRetention is how long persisted snapshots are kept.
const SnapshotRetention = 90 * 24 * time.Hour

// MinMoverSolves is the solve floor for the top-movers report: a climb
// backed by fewer solves between the two snapshots is noise, not
// movement.
const MinMoverSolves = 3

// AllKeys enumerates every ranking variant the snapshot job maintains.
// Points rankings span all windows; the rating mode has no window
// dimension, live judge ratings are not windowed.
func AllKeys() []ranking.Key {
	categories := []scoring.Category{
		scoring.CategoryOverall,
		scoring.CategoryCodeforces,
		scoring.CategoryAtCoder,
	}
	windows := []scoring.Window{
		scoring.WindowAll,
		scoring.Window7d,
		scoring.Window30d,
		scoring.WindowSeason,
	}

	var keys []ranking.Key
	for _, cat := range categories {
		for _, win := range windows {
			keys = append(keys, ranking.Key{
				Mode:     ranking.ModePoints,
				Category: cat,
				Window:   win,
				Scope:    ranking.ScopeGlobal,
			})
		}
		keys = append(keys, ranking.Key{
			Mode:     ranking.ModeRating,
			Category: cat,
			Window:   scoring.WindowAll,
			Scope:    ranking.ScopeGlobal,
		})
	}
	return keys
}

// SnapshotAll rebuilds every ranking variant, persists a snapshot of
// each, refreshes the hot cache and prunes expired snapshots.
func (s *Service) SnapshotAll(ctx context.Context) error {
	takenAt := s.now().UTC()

	for _, key := range AllKeys() {
		rows, err := s.Build(ctx, key)
		if err != nil {
			return fmt.Errorf("build %s/%s/%s: %w", key.Mode, key.Category, key.Window, err)
		}

		snapshot := &ranking.Snapshot{Key: key, TakenAt: takenAt, Rows: make([]ranking.SnapshotRow, len(rows))}
		for i, row := range rows {
			snapshot.Rows[i] = ranking.SnapshotRow{
				StudentID: row.StudentID,
				Username:  row.Username,
				Rank:      row.Rank,
				Points:    row.Points,
			}
		}
		if err := s.snapshots.Save(ctx, snapshot); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		if s.hot != nil {
			if err := s.hot.Rebuild(ctx, key, rows); err != nil {
				s.logger.Warn("hot cache rebuild failed",
					slog.String("category", string(key.Category)),
					slog.String("error", err.Error()))
			}
		}
	}

	pruned, err := s.snapshots.Prune(ctx, takenAt.Add(-SnapshotRetention))
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	if pruned > 0 {
		s.logger.Info("snapshots pruned", slog.Int("count", pruned))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Serving
// ─────────────────────────────────────────────────────────────────────────────

// Page returns one page of a ranking, 1-based. Cache misses rebuild
// synchronously and repopulate the hot cache.
func (s *Service) Page(ctx context.Context, key ranking.Key, page, pageSize int) ([]ranking.Row, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	rows, err := s.loadOrBuild(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	start := (page - 1) * pageSize
	if start >= len(rows) {
		return []ranking.Row{}, len(rows), nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], len(rows), nil
}

// Position returns one student's row plus the rows around them.
func (s *Service) Position(ctx context.Context, key ranking.Key, studentID string, radius int) (*ranking.Row, []ranking.Row, error) {
	if s.hot != nil {
		row, err := s.hot.Rank(ctx, key, studentID)
		if err == nil {
			around, aerr := s.hot.Around(ctx, key, studentID, radius)
			if aerr == nil {
				return row, around, nil
			}
		}
	}

	rows, err := s.loadOrBuild(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	for i := range rows {
		if rows[i].StudentID != studentID {
			continue
		}
		start := i - radius
		if start < 0 {
			start = 0
		}
		end := i + radius + 1
		if end > len(rows) {
			end = len(rows)
		}
		return &rows[i], rows[start:end], nil
	}
	return nil, nil, ranking.ErrNoSnapshot
}

// TopMovers reports the biggest climbers against the most recent
// snapshot taken at least minAge before now. Climbers with fewer than
// MinMoverSolves accepted solves between the two snapshots are dropped.
func (s *Service) TopMovers(ctx context.Context, key ranking.Key, minAge time.Duration, limit int) ([]ranking.Mover, error) {
	newer, err := s.snapshots.Latest(ctx, key)
	if err != nil {
		if errors.Is(err, ranking.ErrNoSnapshot) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}

	older, err := s.snapshots.LatestBefore(ctx, key, newer.TakenAt.Add(-minAge))
	if err != nil {
		if errors.Is(err, ranking.ErrNoSnapshot) {
			return nil, nil
		}
		return nil, fmt.Errorf("older snapshot: %w", err)
	}

	movers := ranking.TopMovers(older, newer, 0)
	if len(movers) == 0 {
		return movers, nil
	}

	activity, err := s.events.ActivityByStudent(ctx, older.TakenAt, newer.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("mover activity: %w", err)
	}
	kept := movers[:0]
	for _, m := range movers {
		if activity[m.StudentID].Solves >= MinMoverSolves {
			kept = append(kept, m)
		}
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

// loadOrBuild serves full rows from the hot cache, rebuilding on miss.
func (s *Service) loadOrBuild(ctx context.Context, key ranking.Key) ([]ranking.Row, error) {
	if s.hot != nil {
		rows, err := s.hot.All(ctx, key)
		if err == nil && len(rows) > 0 {
			return rows, nil
		}
	}

	rows, err := s.Build(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.hot != nil {
		if err := s.hot.Rebuild(ctx, key, rows); err != nil {
			s.logger.Warn("hot cache rebuild failed", slog.String("error", err.Error()))
		}
	}
	return rows, nil
}
