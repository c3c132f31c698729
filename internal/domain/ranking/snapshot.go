package ranking

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNoSnapshot indicates no snapshot has been persisted for a key yet.
var ErrNoSnapshot = errors.New("ranking: no snapshot")

// SnapshotRow is the persisted slice of a ranking row: enough to compute
// rank deltas and top movers later, nothing more.
type SnapshotRow struct {
	StudentID string
	Username  string
	Rank      int
	Points    int
}

// Snapshot is one persisted ranking build.
type Snapshot struct {
	Key     Key
	TakenAt time.Time
	Rows    []SnapshotRow
}

// SnapshotRepository persists ranking snapshots per key.
type SnapshotRepository interface {
	// Save persists a snapshot. Saving twice for the same key and
	// TakenAt date replaces the earlier rows.
	Save(ctx context.Context, s *Snapshot) error

	// Latest returns the most recent snapshot for a key. Returns
	// ErrNoSnapshot when none exists.
	Latest(ctx context.Context, key Key) (*Snapshot, error)

	// LatestBefore returns the most recent snapshot taken strictly
	// before the cutoff, for movement windows longer than one build.
	LatestBefore(ctx context.Context, key Key, cutoff time.Time) (*Snapshot, error)

	// Prune deletes snapshots older than the retention cutoff. Returns
	// the number removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// PreviousRanks flattens a snapshot into the student-to-rank map
// Finalize consumes. Nil snapshots flatten to nil.
func PreviousRanks(s *Snapshot) map[string]int {
	if s == nil {
		return nil
	}
	m := make(map[string]int, len(s.Rows))
	for _, row := range s.Rows {
		m[row.StudentID] = row.Rank
	}
	return m
}

// Mover is one entry of a top-movers report.
type Mover struct {
	StudentID string
	Username  string
	FromRank  int
	ToRank    int
	Delta     int // positive means climbed
}

// TopMovers compares two snapshots of the same key and returns the
// students with the largest positive movement, best first, up to limit.
// Students absent from the older snapshot are skipped; a new entrant has
// no defined movement.
func TopMovers(older, newer *Snapshot, limit int) []Mover {
	if older == nil || newer == nil {
		return nil
	}
	prev := PreviousRanks(older)
	movers := make([]Mover, 0, len(newer.Rows))
	for _, row := range newer.Rows {
		from, ok := prev[row.StudentID]
		if !ok {
			continue
		}
		delta := from - row.Rank
		if delta <= 0 {
			continue
		}
		movers = append(movers, Mover{
			StudentID: row.StudentID,
			Username:  row.Username,
			FromRank:  from,
			ToRank:    row.Rank,
			Delta:     delta,
		})
	}
	sort.Slice(movers, func(i, j int) bool {
		if movers[i].Delta != movers[j].Delta {
			return movers[i].Delta > movers[j].Delta
		}
		return movers[i].Username < movers[j].Username
	})
	if limit > 0 && len(movers) > limit {
		movers = movers[:limit]
	}
	return movers
}
