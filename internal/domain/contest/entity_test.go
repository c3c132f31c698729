package contest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

func TestInWindow(t *testing.T) {
	start := time.Date(2024, 7, 1, 17, 35, 0, 0, time.UTC)
	c := &Contest{StartTime: start, Duration: 2 * time.Hour}

	assert.True(t, c.InWindow(start))
	assert.True(t, c.InWindow(start.Add(time.Hour)))
	assert.True(t, c.InWindow(start.Add(2*time.Hour)), "closing boundary is inclusive")
	assert.False(t, c.InWindow(start.Add(-time.Second)))
	assert.False(t, c.InWindow(start.Add(2*time.Hour+time.Second)))

	unknown := &Contest{Duration: 2 * time.Hour}
	assert.False(t, unknown.InWindow(start))
}

func TestRoundNumber(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Codeforces Round 912 (Div. 2)", "912"},
		{"Codeforces Round #835 (Div. 1)", "835"},
		{"Educational Codeforces Round 160", "160"},
		{"Good Bye 2023", ""},
		{"AtCoder Beginner Contest 300", ""},
	}
	for _, tt := range tests {
		c := &Contest{Name: tt.name}
		assert.Equal(t, tt.want, c.RoundNumber(), tt.name)
	}
}

func TestSiblingOf(t *testing.T) {
	start := time.Date(2024, 7, 1, 17, 35, 0, 0, time.UTC)

	div1 := &Contest{
		Platform:  problem.PlatformCodeforces,
		ContestID: "1900",
		Name:      "Codeforces Round 912 (Div. 1)",
		StartTime: start,
	}
	div2 := &Contest{
		Platform:  problem.PlatformCodeforces,
		ContestID: "1901",
		Name:      "Codeforces Round 912 (Div. 2)",
		StartTime: start,
	}

	assert.True(t, div1.SiblingOf(div2))
	assert.True(t, div2.SiblingOf(div1))

	t.Run("same contest id is not a sibling", func(t *testing.T) {
		assert.False(t, div1.SiblingOf(div1))
	})

	t.Run("different start time", func(t *testing.T) {
		other := &Contest{
			Platform:  problem.PlatformCodeforces,
			ContestID: "1901",
			Name:      "Codeforces Round 912 (Div. 2)",
			StartTime: start.Add(time.Hour),
		}
		assert.False(t, div1.SiblingOf(other))
	})

	t.Run("different round number", func(t *testing.T) {
		other := &Contest{
			Platform:  problem.PlatformCodeforces,
			ContestID: "1901",
			Name:      "Codeforces Round 913 (Div. 2)",
			StartTime: start,
		}
		assert.False(t, div1.SiblingOf(other))
	})

	t.Run("round number optional when absent", func(t *testing.T) {
		a := &Contest{Platform: problem.PlatformCodeforces, ContestID: "1910", Name: "Good Bye 2023", StartTime: start}
		b := &Contest{Platform: problem.PlatformCodeforces, ContestID: "1911", Name: "Good Bye 2023 (Div. 2 mirror)", StartTime: start}
		assert.True(t, a.SiblingOf(b))
	})

	t.Run("cross platform never matches", func(t *testing.T) {
		ac := &Contest{Platform: problem.PlatformAtCoder, ContestID: "abc300", StartTime: start}
		assert.False(t, div1.SiblingOf(ac))
	})

	t.Run("nil other", func(t *testing.T) {
		assert.False(t, div1.SiblingOf(nil))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		platform  problem.Platform
		contestID string
		name      string
		want      Kind
	}{
		{problem.PlatformCodeforces, "1900", "Codeforces Round 912 (Div. 1)", KindDiv1},
		{problem.PlatformCodeforces, "1901", "Codeforces Round 912 (Div. 2)", KindDiv2},
		{problem.PlatformCodeforces, "1902", "Codeforces Round 913 (Div. 3)", KindDiv3},
		{problem.PlatformCodeforces, "1903", "Codeforces Round 914 (Div. 4)", KindDiv4},
		{problem.PlatformCodeforces, "1904", "Educational Codeforces Round 160 (Rated for Div. 2)", KindEducational},
		{problem.PlatformCodeforces, "1905", "CodeTON Round 7 (Div. 1 + Div. 2)", KindCombined},
		{problem.PlatformCodeforces, "1906", "Codeforces Global Round 25", KindGlobal},
		{problem.PlatformCodeforces, "1907", "Good Bye 2023", KindOther},
		{problem.PlatformAtCoder, "abc300", "AtCoder Beginner Contest 300", KindABC},
		{problem.PlatformAtCoder, "arc170", "AtCoder Regular Contest 170", KindARC},
		{problem.PlatformAtCoder, "agc065", "AtCoder Grand Contest 065", KindAGC},
		{problem.PlatformAtCoder, "ahc030", "AtCoder Heuristic Contest 030", KindAHC},
		{problem.PlatformAtCoder, "tenka1-2019", "Tenka1 Programmer Contest 2019", KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.platform, tt.contestID, tt.name), tt.name)
	}
}

func TestNormalizedName(t *testing.T) {
	assert.Equal(t, "watering an array", NormalizedName("  Watering   an Array "))
	assert.Equal(t, NormalizedName("Two Divisions"), NormalizedName("two  divisions"))
}
