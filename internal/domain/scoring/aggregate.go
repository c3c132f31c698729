package scoring

import (
	"time"
)

// Window selects one of the rolling windows aggregates are kept for.
type Window string

const (
	WindowAll    Window = "all"
	Window7d     Window = "7d"
	Window30d    Window = "30d"
	WindowSeason Window = "season"
)

// ParseWindow maps an API spelling onto a Window.
func ParseWindow(s string) (Window, bool) {
	switch Window(s) {
	case WindowAll, Window7d, Window30d, WindowSeason:
		return Window(s), true
	}
	return "", false
}

// Start returns the inclusive lower bound of a window at the given time.
// The zero time means unbounded. seasonStart is configuration.
func (w Window) Start(now, seasonStart time.Time) time.Time {
	switch w {
	case Window7d:
		return now.AddDate(0, 0, -7)
	case Window30d:
		return now.AddDate(0, 0, -30)
	case WindowSeason:
		if seasonStart.IsZero() {
			// No configured season: the calendar month is the season.
			return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		return seasonStart
	}
	return time.Time{}
}

// Category selects which point component a ranking reads.
type Category string

const (
	CategoryOverall    Category = "overall"
	CategoryCodeforces Category = "codeforces"
	CategoryAtCoder    Category = "atcoder"
)

// ParseCategory maps an API spelling onto a Category.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryOverall, CategoryCodeforces, CategoryAtCoder:
		return Category(s), true
	}
	switch s {
	case "cf":
		return CategoryCodeforces, true
	case "ac":
		return CategoryAtCoder, true
	}
	return "", false
}

// PointSet is the per-component point totals for one window.
type PointSet struct {
	CFRaw          int
	ACRaw          int
	GeneralNorm    int
	GeneralCFEquiv int
}

// Add accumulates another set.
func (p *PointSet) Add(other PointSet) {
	p.CFRaw += other.CFRaw
	p.ACRaw += other.ACRaw
	p.GeneralNorm += other.GeneralNorm
	p.GeneralCFEquiv += other.GeneralCFEquiv
}

// For returns the headline total for a ranking category: the
// CF-equivalent overall score with normalized fallback, or a single
// platform's raw component.
func (p PointSet) For(category Category) int {
	switch category {
	case CategoryCodeforces:
		return p.CFRaw
	case CategoryAtCoder:
		return p.ACRaw
	}
	if p.GeneralCFEquiv != 0 {
		return p.GeneralCFEquiv
	}
	return p.GeneralNorm
}

// Aggregate is one user's running point totals. The all-time set is
// maintained incrementally via atomic deltas; windowed sets are rebuilt
// by the recompute job from score events and may lag between runs.
type Aggregate struct {
	StudentID string
	Total     PointSet
	Last7d    PointSet
	Last30d   PointSet
	Season    PointSet
	UpdatedAt time.Time
}

// Set returns the point set for a window.
func (a *Aggregate) Set(w Window) PointSet {
	switch w {
	case Window7d:
		return a.Last7d
	case Window30d:
		return a.Last30d
	case WindowSeason:
		return a.Season
	}
	return a.Total
}
