// Package percentile serves per-platform rating distributions to the
// scoring engine. A distribution is built from every problem the tracked
// population has touched (submissions and score events) that has a
// resolved rating, and is memoized per (platform, token): callers pass a
// token such as the current date, so repeated lookups inside one scoring
// run are cheap while a new token forces a rebuild that picks up newly
// rated problems.
package percentile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/stats"
)

// urlSource lists the problem URLs one corner of the system references.
type urlSource interface {
	DistinctURLs(ctx context.Context, platform problem.Platform) ([]string, error)
}

// eventURLSource lists the URLs score events reference.
type eventURLSource interface {
	DistinctRatedURLs(ctx context.Context, platform problem.Platform) ([]string, error)
}

// Provider builds and memoizes rating distributions.
type Provider struct {
	cache       problem.CacheRepository
	submissions urlSource
	events      eventURLSource
	buckets     int
	logger      *slog.Logger

	mu   sync.Mutex
	memo map[memoKey]*stats.Distribution
}

type memoKey struct {
	platform problem.Platform
	token    string
}

// NewProvider creates a Provider. buckets <= 0 selects DefaultBuckets.
func NewProvider(
	cache problem.CacheRepository,
	submissions urlSource,
	events eventURLSource,
	buckets int,
	logger *slog.Logger,
) *Provider {
	if buckets <= 0 {
		buckets = stats.DefaultBuckets
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cache:       cache,
		submissions: submissions,
		events:      events,
		buckets:     buckets,
		logger:      logger,
		memo:        make(map[memoKey]*stats.Distribution),
	}
}

// Distribution returns the (possibly nil) distribution for a platform
// under the given memoization token. A nil distribution means no rated
// sample exists yet.
func (p *Provider) Distribution(ctx context.Context, platform problem.Platform, token string) (*stats.Distribution, error) {
	key := memoKey{platform: platform, token: token}

	p.mu.Lock()
	if dist, ok := p.memo[key]; ok {
		p.mu.Unlock()
		return dist, nil
	}
	p.mu.Unlock()

	sample, err := p.collectSample(ctx, platform)
	if err != nil {
		return nil, err
	}
	dist := stats.Build(sample, p.buckets)

	p.mu.Lock()
	// Old tokens are dead weight once a new one appears.
	for k := range p.memo {
		if k.platform == platform && k.token != token {
			delete(p.memo, k)
		}
	}
	p.memo[key] = dist
	p.mu.Unlock()

	p.logger.Debug("distribution built",
		slog.String("platform", string(platform)),
		slog.Int("sample_size", len(sample)))
	return dist, nil
}

// Percentile locates a rating within the platform's distribution.
// Returns nil when no rated sample exists.
func (p *Provider) Percentile(ctx context.Context, platform problem.Platform, rating int, token string) (*float64, error) {
	dist, err := p.Distribution(ctx, platform, token)
	if err != nil {
		return nil, err
	}
	if dist == nil {
		return nil, nil
	}
	v := dist.PercentileOf(float64(rating))
	return &v, nil
}

// Summary computes descriptive statistics over the platform's current
// rated sample, bypassing the memo.
func (p *Provider) Summary(ctx context.Context, platform problem.Platform) (stats.Summary, error) {
	sample, err := p.collectSample(ctx, platform)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(sample), nil
}

// Invalidate drops every memoized distribution.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.memo = make(map[memoKey]*stats.Distribution)
	p.mu.Unlock()
}

// collectSample gathers the effective ratings of every problem the
// population references on a platform.
func (p *Provider) collectSample(ctx context.Context, platform problem.Platform) ([]int, error) {
	seen := make(map[string]struct{})

	fromSubs, err := p.submissions.DistinctURLs(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("submission urls: %w", err)
	}
	for _, u := range fromSubs {
		seen[u] = struct{}{}
	}

	fromEvents, err := p.events.DistinctRatedURLs(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("event urls: %w", err)
	}
	for _, u := range fromEvents {
		seen[u] = struct{}{}
	}

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}

	const chunkSize = 500
	sample := make([]int, 0, len(urls))
	for start := 0; start < len(urls); start += chunkSize {
		end := start + chunkSize
		if end > len(urls) {
			end = len(urls)
		}
		entries, err := p.cache.GetBatch(ctx, urls[start:end])
		if err != nil {
			return nil, fmt.Errorf("cache batch: %w", err)
		}
		for _, entry := range entries {
			if entry.EffectiveRating != nil {
				sample = append(sample, *entry.EffectiveRating)
			}
		}
	}
	return sample, nil
}
