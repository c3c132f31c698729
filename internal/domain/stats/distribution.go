// Package stats builds empirical rating distributions per platform and
// answers percentile queries against them. A distribution is built from
// every resolved problem rating the tracked population has been exposed
// to, so percentiles reflect what the population actually faces rather
// than the judge's global problem pool.
package stats

import (
	"math"
	"sort"
)

// DefaultBuckets is the quantile resolution used for percentile queries.
const DefaultBuckets = 200

// Distribution holds precomputed quantile boundaries for one platform's
// rating sample. Immutable once built.
type Distribution struct {
	boundaries []float64 // len buckets+1, non-decreasing
	buckets    int
	size       int
}

// Build computes a distribution from a rating sample. Returns nil when
// the sample is empty; callers treat a nil distribution as "no
// percentile available", not an error.
func Build(sample []int, buckets int) *Distribution {
	if len(sample) == 0 {
		return nil
	}
	if buckets <= 0 {
		buckets = DefaultBuckets
	}

	sorted := make([]float64, len(sample))
	for i, v := range sample {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)

	boundaries := make([]float64, buckets+1)
	for i := 0; i <= buckets; i++ {
		boundaries[i] = Quantile(sorted, float64(i)/float64(buckets))
	}

	return &Distribution{boundaries: boundaries, buckets: buckets, size: len(sorted)}
}

// Quantile computes the p-quantile of an ascending sample with linear
// interpolation between closest ranks (type R-7, the spreadsheet
// convention): k = (n-1)*p, blend of the two neighboring order
// statistics weighted by k's fractional part.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	k := float64(n-1) * p
	f := math.Floor(k)
	c := math.Ceil(k)
	if f == c {
		return sorted[int(k)]
	}
	return sorted[int(f)]*(c-k) + sorted[int(c)]*(k-f)
}

// PercentileOf locates a rating within the distribution: 0 below the
// sample minimum, 1 above the maximum, otherwise the bucket index found
// by binary search plus a linear interpolation within the bucket,
// normalized by the bucket count.
func (d *Distribution) PercentileOf(rating float64) float64 {
	if d == nil || len(d.boundaries) == 0 {
		return 0
	}
	lo, hi := d.boundaries[0], d.boundaries[len(d.boundaries)-1]
	if rating <= lo {
		return 0
	}
	if rating >= hi {
		return 1
	}

	// Rightmost boundary <= rating.
	idx := sort.SearchFloat64s(d.boundaries, rating)
	if idx > 0 && (idx == len(d.boundaries) || d.boundaries[idx] > rating) {
		idx--
	}
	if idx >= d.buckets {
		idx = d.buckets - 1
	}

	width := d.boundaries[idx+1] - d.boundaries[idx]
	frac := 0.0
	if width > 0 {
		frac = (rating - d.boundaries[idx]) / width
	}
	return (float64(idx) + frac) / float64(d.buckets)
}

// Size returns the number of ratings the distribution was built from.
func (d *Distribution) Size() int {
	if d == nil {
		return 0
	}
	return d.size
}

// Min returns the sample minimum, 0 for an empty distribution.
func (d *Distribution) Min() float64 {
	if d == nil || len(d.boundaries) == 0 {
		return 0
	}
	return d.boundaries[0]
}

// Max returns the sample maximum, 0 for an empty distribution.
func (d *Distribution) Max() float64 {
	if d == nil || len(d.boundaries) == 0 {
		return 0
	}
	return d.boundaries[len(d.boundaries)-1]
}

// Summary is the descriptive statistics block reported per platform.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	P25    float64
	P75    float64
}

// Summarize computes descriptive statistics for a rating sample.
// Returns a zero Summary for an empty sample.
func Summarize(sample []int) Summary {
	if len(sample) == 0 {
		return Summary{}
	}
	sorted := make([]float64, len(sample))
	sum := 0.0
	for i, v := range sample {
		sorted[i] = float64(v)
		sum += float64(v)
	}
	sort.Float64s(sorted)
	return Summary{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / float64(len(sorted)),
		Median: Quantile(sorted, 0.5),
		P25:    Quantile(sorted, 0.25),
		P75:    Quantile(sorted, 0.75),
	}
}
