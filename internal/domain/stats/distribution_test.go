package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}

	assert.Equal(t, 10.0, Quantile(sorted, 0))
	assert.Equal(t, 40.0, Quantile(sorted, 1))
	assert.Equal(t, 25.0, Quantile(sorted, 0.5))

	// k = 3*0.25 = 0.75: blend of 10 and 20 weighted toward 20.
	assert.InDelta(t, 17.5, Quantile(sorted, 0.25), 1e-9)

	t.Run("single element", func(t *testing.T) {
		assert.Equal(t, 7.0, Quantile([]float64{7}, 0.5))
	})

	t.Run("empty sample", func(t *testing.T) {
		assert.True(t, Quantile(nil, 0.5) != Quantile(nil, 0.5), "NaN expected")
	})
}

func TestBuildEmptySample(t *testing.T) {
	d := Build(nil, DefaultBuckets)
	assert.Nil(t, d)
	assert.Equal(t, 0, d.Size())
	assert.Equal(t, 0.0, d.Min())
	assert.Equal(t, 0.0, d.Max())
}

func TestPercentileOfBounds(t *testing.T) {
	d := Build([]int{800, 1000, 1200, 1400, 1600, 1800, 2000}, DefaultBuckets)
	require.NotNil(t, d)

	assert.Equal(t, 0.0, d.PercentileOf(500), "below minimum")
	assert.Equal(t, 0.0, d.PercentileOf(800), "at minimum")
	assert.Equal(t, 1.0, d.PercentileOf(2000), "at maximum")
	assert.Equal(t, 1.0, d.PercentileOf(3500), "above maximum")
}

func TestPercentileOfInterpolates(t *testing.T) {
	// Uniform 800..2000 sample: percentiles should land near the linear
	// position within the range.
	sample := make([]int, 0, 1201)
	for r := 800; r <= 2000; r++ {
		sample = append(sample, r)
	}
	d := Build(sample, DefaultBuckets)
	require.NotNil(t, d)

	assert.InDelta(t, 0.5, d.PercentileOf(1400), 0.01)
	assert.InDelta(t, 0.25, d.PercentileOf(1100), 0.01)
	assert.InDelta(t, 0.75, d.PercentileOf(1700), 0.01)
}

func TestPercentileOfMonotone(t *testing.T) {
	sample := []int{800, 900, 900, 1000, 1100, 1100, 1100, 1300, 1500, 1700, 1900, 2100, 2400}
	d := Build(sample, 10)
	require.NotNil(t, d)

	prev := -1.0
	for r := 700.0; r <= 2500; r += 10 {
		p := d.PercentileOf(r)
		assert.GreaterOrEqual(t, p, prev, "rating %v", r)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		prev = p
	}
}

func TestPercentileOfDuplicateHeavySample(t *testing.T) {
	// Degenerate sample where most values coincide must not divide by a
	// zero bucket width.
	sample := []int{1000, 1000, 1000, 1000, 1000, 1000, 2000}
	d := Build(sample, 5)
	require.NotNil(t, d)

	p := d.PercentileOf(1000)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
	assert.Equal(t, 1.0, d.PercentileOf(2000))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]int{10, 20, 30, 40})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 40.0, s.Max)
	assert.Equal(t, 25.0, s.Mean)
	assert.Equal(t, 25.0, s.Median)
	assert.InDelta(t, 17.5, s.P25, 1e-9)
	assert.InDelta(t, 32.5, s.P75, 1e-9)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestDistributionMinMax(t *testing.T) {
	d := Build([]int{1200, 800, 2000}, 4)
	assert.Equal(t, 800.0, d.Min())
	assert.Equal(t, 2000.0, d.Max())
	assert.Equal(t, 3, d.Size())
}
