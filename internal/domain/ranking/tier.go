// Package ranking turns point aggregates into ordered, tiered rows with
// rank movement tracked against persisted snapshots.
package ranking

// Tier is one named band of the points ladder.
type Tier struct {
	Name string
	Min  int
	Max  int // 0 on the last band means open-ended
}

// Tiers is the fixed ladder, in ascending order. A point total maps to
// the first band whose max exceeds it; the last band is open-ended.
var Tiers = []Tier{
	{Name: "Bronze", Min: 0, Max: 2000},
	{Name: "Silver", Min: 2000, Max: 6000},
	{Name: "Gold", Min: 6000, Max: 12000},
	{Name: "Platinum", Min: 12000, Max: 20000},
	{Name: "Diamond", Min: 20000, Max: 0},
}

// TierFor maps a point total to its band and the progress through it.
// Progress is clamped to [0, 1]; the open-ended last band always reports
// zero progress past its floor computation.
func TierFor(points int) (Tier, float64) {
	if points < 0 {
		points = 0
	}
	for _, t := range Tiers {
		if t.Max == 0 || points < t.Max {
			return t, t.progress(points)
		}
	}
	last := Tiers[len(Tiers)-1]
	return last, last.progress(points)
}

func (t Tier) progress(points int) float64 {
	if t.Max <= t.Min {
		return 0
	}
	p := float64(points-t.Min) / float64(t.Max-t.Min)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
