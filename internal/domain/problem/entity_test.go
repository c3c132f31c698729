package problem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestRecomputeEffective(t *testing.T) {
	t.Run("aggregator wins over native", func(t *testing.T) {
		entry := &CacheEntry{
			AggregatorRating: intPtr(1500),
			NativeRating:     intPtr(1700),
		}
		entry.RecomputeEffective()
		assert.Equal(t, 1500, *entry.EffectiveRating)
		assert.Equal(t, SourceAggregator, entry.Source)
	})

	t.Run("native fallback", func(t *testing.T) {
		entry := &CacheEntry{NativeRating: intPtr(1700)}
		entry.RecomputeEffective()
		assert.Equal(t, 1700, *entry.EffectiveRating)
		assert.Equal(t, SourceNative, entry.Source)
	})

	t.Run("neither present clears", func(t *testing.T) {
		entry := &CacheEntry{EffectiveRating: intPtr(1000), Source: SourceAggregator}
		entry.RecomputeEffective()
		assert.Nil(t, entry.EffectiveRating)
		assert.Equal(t, SourceNone, entry.Source)
	})

	t.Run("clearing aggregator falls back to native", func(t *testing.T) {
		entry := &CacheEntry{
			AggregatorRating: intPtr(1500),
			NativeRating:     intPtr(1700),
		}
		entry.RecomputeEffective()
		entry.AggregatorRating = nil
		entry.RecomputeEffective()
		assert.Equal(t, 1700, *entry.EffectiveRating)
		assert.Equal(t, SourceNative, entry.Source)
	})
}

func TestCacheEntryStates(t *testing.T) {
	now := time.Now()

	t.Run("fresh within ttl", func(t *testing.T) {
		entry := &CacheEntry{FetchedAt: now.Add(-time.Hour)}
		assert.True(t, entry.Fresh(now, 24*time.Hour))
		assert.False(t, entry.Fresh(now, 30*time.Minute))
	})

	t.Run("never fetched is never fresh", func(t *testing.T) {
		entry := &CacheEntry{}
		assert.False(t, entry.Fresh(now, 24*time.Hour))
	})

	t.Run("ok without rating is corrupt", func(t *testing.T) {
		entry := &CacheEntry{Status: StatusOK}
		assert.True(t, entry.Corrupt())
		assert.False(t, entry.Usable())

		entry.AggregatorRating = intPtr(1500)
		entry.RecomputeEffective()
		assert.False(t, entry.Corrupt())
		assert.True(t, entry.Usable())
	})

	t.Run("not found is not corrupt", func(t *testing.T) {
		entry := &CacheEntry{Status: StatusNotFound}
		assert.False(t, entry.Corrupt())
		assert.False(t, entry.Usable())
	})
}

func TestRatingStatusRetryable(t *testing.T) {
	assert.True(t, StatusTempFail.Retryable())
	assert.True(t, StatusRateLimited.Retryable())
	assert.True(t, StatusError.Retryable())
	assert.False(t, StatusOK.Retryable())
	assert.False(t, StatusNotFound.Retryable())
}

func TestNextBackoff(t *testing.T) {
	base := 30 * time.Second
	limit := 10 * time.Minute

	assert.Equal(t, 30*time.Second, NextBackoff(base, limit, 0))
	assert.Equal(t, time.Minute, NextBackoff(base, limit, 1))
	assert.Equal(t, 4*time.Minute, NextBackoff(base, limit, 3))
	assert.Equal(t, 8*time.Minute, NextBackoff(base, limit, 4))
	assert.Equal(t, limit, NextBackoff(base, limit, 5))
	assert.Equal(t, limit, NextBackoff(base, limit, 50), "must not overflow at high attempt counts")
	assert.Equal(t, base, NextBackoff(base, limit, -1))
}

func TestParsePlatform(t *testing.T) {
	for _, s := range []string{"codeforces", "cf", "CF", "Codeforces"} {
		p, ok := ParsePlatform(s)
		assert.True(t, ok, s)
		assert.Equal(t, PlatformCodeforces, p)
	}
	for _, s := range []string{"atcoder", "ac", "AtCoder"} {
		p, ok := ParsePlatform(s)
		assert.True(t, ok, s)
		assert.Equal(t, PlatformAtCoder, p)
	}
	_, ok := ParsePlatform("leetcode")
	assert.False(t, ok)
}

func TestPlatformFromURL(t *testing.T) {
	p, ok := PlatformFromURL("https://codeforces.com/contest/1/problem/A")
	assert.True(t, ok)
	assert.Equal(t, PlatformCodeforces, p)

	p, ok = PlatformFromURL("https://www.atcoder.jp/contests/abc300/tasks/abc300_a")
	assert.True(t, ok)
	assert.Equal(t, PlatformAtCoder, p)

	_, ok = PlatformFromURL("https://oj.uz/problem/view/IOI21_keys")
	assert.False(t, ok)
}
