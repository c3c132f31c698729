package ranking

import (
	"sort"

	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
)

// Mode distinguishes what a ranking orders by.
type Mode string

const (
	// ModePoints ranks by accumulated solve points.
	ModePoints Mode = "points"
	// ModeRating ranks by live judge ratings blended through the
	// percentile engine.
	ModeRating Mode = "rating"
	// ModeActivity ranks by distinct solve days over a window, solve
	// count breaking ties. Never snapshotted.
	ModeActivity Mode = "activity"
)

// Scope limits which students a ranking covers.
type Scope string

// ScopeGlobal covers every active, non-excluded student.
const ScopeGlobal Scope = "global"

// Row is one entry of a built ranking.
type Row struct {
	StudentID    string
	Username     string
	Points       int
	Rank         int
	Tier         string
	TierProgress float64

	// RankDelta is previous rank minus current rank against the latest
	// snapshot; positive means the student moved up. Zero when no
	// snapshot exists for the key.
	RankDelta int

	// TieBreak orders equal point totals; the rating mode holds the raw
	// CF+AC rating sum here, the activity mode the solve count.
	TieBreak int

	// Pending marks rows whose points may still grow because unresolved
	// rating events exist. Display concern only; ordering ignores it.
	Pending bool
}

// Sort orders rows by descending points with an alphabetical username
// tie-break, so rank numbers are stable across rebuilds. The rating mode
// slots its rating-sum tie-break between the two.
func Sort(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		if rows[i].TieBreak != rows[j].TieBreak {
			return rows[i].TieBreak > rows[j].TieBreak
		}
		return rows[i].Username < rows[j].Username
	})
}

// Finalize sorts rows, assigns 1-based ranks, fills tier fields and
// computes rank deltas from previousRanks (student id to rank in the
// latest snapshot; nil map means no snapshot).
func Finalize(rows []Row, previousRanks map[string]int) []Row {
	Sort(rows)
	for i := range rows {
		rows[i].Rank = i + 1
		tier, progress := TierFor(rows[i].Points)
		rows[i].Tier = tier.Name
		rows[i].TierProgress = progress
		if prev, ok := previousRanks[rows[i].StudentID]; ok {
			rows[i].RankDelta = prev - rows[i].Rank
		}
	}
	return rows
}

// FinalizeActivity sorts activity rows (active days in Points, solve
// count in TieBreak) and assigns 1-based ranks. Activity rankings carry
// no tiers and no deltas; they are rebuilt per request, never
// snapshotted.
func FinalizeActivity(rows []Row) []Row {
	Sort(rows)
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

// Key identifies one ranking variant for snapshotting and cache lookup.
type Key struct {
	Mode     Mode
	Category scoring.Category
	Window   scoring.Window
	Scope    Scope
}
