package rating

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeCache struct {
	entries map[string]*problem.CacheEntry
	upserts int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*problem.CacheEntry)}
}

func (c *fakeCache) Get(_ context.Context, url string) (*problem.CacheEntry, error) {
	e, ok := c.entries[url]
	if !ok {
		return nil, problem.ErrNotCached
	}
	cp := *e
	return &cp, nil
}

func (c *fakeCache) GetBatch(_ context.Context, urls []string) (map[string]*problem.CacheEntry, error) {
	out := make(map[string]*problem.CacheEntry, len(urls))
	for _, u := range urls {
		if e, ok := c.entries[u]; ok {
			cp := *e
			out[u] = &cp
		}
	}
	return out, nil
}

func (c *fakeCache) Upsert(_ context.Context, entry *problem.CacheEntry) error {
	cp := *entry
	c.entries[entry.URL] = &cp
	c.upserts++
	return nil
}

func (c *fakeCache) ListByStatus(_ context.Context, status problem.RatingStatus, limit int) ([]*problem.CacheEntry, error) {
	var out []*problem.CacheEntry
	for _, e := range c.entries {
		if e.Status == status && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCache) ListStale(_ context.Context, olderThan time.Time, limit int) ([]*problem.CacheEntry, error) {
	var out []*problem.CacheEntry
	for _, e := range c.entries {
		switch e.Status {
		case problem.StatusOK, problem.StatusNotFound:
			if e.FetchedAt.Before(olderThan) && len(out) < limit {
				cp := *e
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (c *fakeCache) ListCorrupt(_ context.Context, limit int) ([]*problem.CacheEntry, error) {
	var out []*problem.CacheEntry
	for _, e := range c.entries {
		if e.Corrupt() && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCache) ListByExternalID(_ context.Context, externalID string) ([]*problem.CacheEntry, error) {
	var out []*problem.CacheEntry
	for _, e := range c.entries {
		if e.ExternalID == externalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (c *fakeCache) ListDuplicateExternalIDs(_ context.Context, limit int) ([]string, error) {
	counts := make(map[string]int)
	for _, e := range c.entries {
		if e.ExternalID != "" {
			counts[e.ExternalID]++
		}
	}
	var out []string
	for id, n := range counts {
		if n > 1 && len(out) < limit {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *fakeCache) CountByStatus(_ context.Context) (map[problem.RatingStatus]int, error) {
	out := make(map[problem.RatingStatus]int)
	for _, e := range c.entries {
		out[e.Status]++
	}
	return out, nil
}

type fakeQueue struct {
	reqs   []*problem.FetchRequest
	nextID int64
	failed map[int64]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failed: make(map[int64]string)}
}

func (q *fakeQueue) Enqueue(_ context.Context, req *problem.FetchRequest) (bool, error) {
	for _, r := range q.reqs {
		if r.State == problem.FetchQueued && r.Platform == req.Platform && r.URL == req.URL {
			if req.Priority < r.Priority {
				r.Priority = req.Priority
			}
			return false, nil
		}
	}
	q.nextID++
	cp := *req
	cp.ID = q.nextID
	q.reqs = append(q.reqs, &cp)
	return true, nil
}

func (q *fakeQueue) Claim(_ context.Context, now time.Time) (*problem.FetchRequest, error) {
	var best *problem.FetchRequest
	for _, r := range q.reqs {
		if r.State != problem.FetchQueued || r.NotBefore.After(now) {
			continue
		}
		if best == nil || r.Priority < best.Priority ||
			(r.Priority == best.Priority && r.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = r
		}
	}
	if best == nil {
		return nil, problem.ErrQueueEmpty
	}
	best.State = problem.FetchRunning
	claimed := now
	best.ClaimedAt = &claimed
	cp := *best
	return &cp, nil
}

func (q *fakeQueue) MarkDone(_ context.Context, id int64) error {
	for _, r := range q.reqs {
		if r.ID == id {
			r.State = problem.FetchDone
			return nil
		}
	}
	return errors.New("unknown request")
}

func (q *fakeQueue) Reschedule(_ context.Context, req *problem.FetchRequest) error {
	for _, r := range q.reqs {
		if r.ID == req.ID {
			*r = *req
			r.State = problem.FetchQueued
			r.ClaimedAt = nil
			return nil
		}
	}
	return errors.New("unknown request")
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64, lastError string) error {
	for _, r := range q.reqs {
		if r.ID == id {
			r.State = problem.FetchFailed
			r.LastError = lastError
			q.failed[id] = lastError
			return nil
		}
	}
	return errors.New("unknown request")
}

func (q *fakeQueue) ReleaseStuck(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	released := 0
	for _, r := range q.reqs {
		if r.State == problem.FetchRunning && r.ClaimedAt != nil && now.Sub(*r.ClaimedAt) > maxAge {
			r.State = problem.FetchQueued
			r.ClaimedAt = nil
			released++
		}
	}
	return released, nil
}

func (q *fakeQueue) Depth(_ context.Context) (int, error) {
	n := 0
	for _, r := range q.reqs {
		if r.State == problem.FetchQueued {
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) byURL(url string) *problem.FetchRequest {
	for _, r := range q.reqs {
		if r.URL == url {
			return r
		}
	}
	return nil
}

type fakeContests struct {
	contests map[string]*contest.Contest
}

func newFakeContests() *fakeContests {
	return &fakeContests{contests: make(map[string]*contest.Contest)}
}

func contestKey(platform problem.Platform, contestID string) string {
	return string(platform) + "/" + contestID
}

func (r *fakeContests) Upsert(_ context.Context, c *contest.Contest) error {
	cp := *c
	r.contests[contestKey(c.Platform, c.ContestID)] = &cp
	return nil
}

func (r *fakeContests) Get(_ context.Context, platform problem.Platform, contestID string) (*contest.Contest, error) {
	c, ok := r.contests[contestKey(platform, contestID)]
	if !ok {
		return nil, contest.ErrContestNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeContests) FindSiblings(_ context.Context, platform problem.Platform, startTime time.Time, excludeContestID string) ([]*contest.Contest, error) {
	var out []*contest.Contest
	for _, c := range r.contests {
		if c.Platform == platform && c.ContestID != excludeContestID && c.StartTime.Equal(startTime) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeContests) ListNeedingSync(context.Context, problem.Platform, time.Time, int) ([]*contest.Contest, error) {
	return nil, nil
}

func (r *fakeContests) UpdateSyncState(context.Context, problem.Platform, string, contest.SyncState, contest.RatingSummary, time.Time) error {
	return nil
}

type fakeContestProblems struct {
	rows      []*contest.ContestProblem
	nextID    int64
	requested []int64
}

func (r *fakeContestProblems) add(cp contest.ContestProblem) *contest.ContestProblem {
	r.nextID++
	cp.ID = r.nextID
	row := cp
	r.rows = append(r.rows, &row)
	return &row
}

func (r *fakeContestProblems) UpsertBatch(_ context.Context, problems []*contest.ContestProblem) error {
	for _, cp := range problems {
		r.add(*cp)
	}
	return nil
}

func (r *fakeContestProblems) GetByURL(_ context.Context, url string) ([]*contest.ContestProblem, error) {
	var out []*contest.ContestProblem
	for _, cp := range r.rows {
		if cp.URL == url {
			row := *cp
			out = append(out, &row)
		}
	}
	return out, nil
}

func (r *fakeContestProblems) ListByContest(_ context.Context, platform problem.Platform, contestID string) ([]*contest.ContestProblem, error) {
	var out []*contest.ContestProblem
	for _, cp := range r.rows {
		if cp.Platform == platform && cp.ContestID == contestID {
			row := *cp
			out = append(out, &row)
		}
	}
	return out, nil
}

func (r *fakeContestProblems) ListBackfillCandidates(_ context.Context, statuses []contest.ProblemRatingStatus, maxAttempts int, requestedBefore time.Time, limit int) ([]*contest.ContestProblem, error) {
	wanted := make(map[contest.ProblemRatingStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []*contest.ContestProblem
	for _, cp := range r.rows {
		if !wanted[cp.RatingStatus] || cp.Attempts >= maxAttempts {
			continue
		}
		if cp.LastRequestedAt != nil && !cp.LastRequestedAt.Before(requestedBefore) {
			continue
		}
		if len(out) >= limit {
			break
		}
		row := *cp
		out = append(out, &row)
	}
	return out, nil
}

func (r *fakeContestProblems) MarkRequested(_ context.Context, ids []int64, at time.Time) error {
	for _, id := range ids {
		for _, cp := range r.rows {
			if cp.ID == id {
				cp.Attempts++
				t := at
				cp.LastRequestedAt = &t
			}
		}
	}
	r.requested = append(r.requested, ids...)
	return nil
}

func (r *fakeContestProblems) SetRatingStatusByURL(_ context.Context, url string, status contest.ProblemRatingStatus) (int, error) {
	n := 0
	for _, cp := range r.rows {
		if cp.URL == url {
			cp.RatingStatus = status
			n++
		}
	}
	return n, nil
}

func (r *fakeContestProblems) ResetExhausted(_ context.Context, maxAttempts int, requestedBefore time.Time) (int, error) {
	n := 0
	for _, cp := range r.rows {
		if cp.Attempts >= maxAttempts && cp.LastRequestedAt != nil && cp.LastRequestedAt.Before(requestedBefore) {
			cp.Attempts = 0
			n++
		}
	}
	return n, nil
}

func (r *fakeContestProblems) FindAliasCandidates(_ context.Context, platform problem.Platform, normalizedName string, contestIDs []string) ([]*contest.ContestProblem, error) {
	ids := make(map[string]bool, len(contestIDs))
	for _, id := range contestIDs {
		ids[id] = true
	}
	var out []*contest.ContestProblem
	for _, cp := range r.rows {
		if cp.Platform == platform && cp.RatingStatus == contest.ProblemOK &&
			ids[cp.ContestID] && contest.NormalizedName(cp.Name) == normalizedName {
			row := *cp
			out = append(out, &row)
		}
	}
	return out, nil
}

func (r *fakeContestProblems) statusOf(url string) contest.ProblemRatingStatus {
	for _, cp := range r.rows {
		if cp.URL == url {
			return cp.RatingStatus
		}
	}
	return ""
}

type fakeFetcher struct {
	results map[string]*problem.FetchResult
	err     error
	calls   int
}

func (f *fakeFetcher) FetchRating(_ context.Context, _ problem.Platform, problemURL, _ string) (*problem.FetchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[problemURL]; ok {
		return res, nil
	}
	return &problem.FetchResult{Status: problem.StatusNotFound}, nil
}

type fakeResolver struct {
	calls []resolvedCall
}

type resolvedCall struct {
	url    string
	rating int
}

func (r *fakeResolver) ResolvePending(_ context.Context, _ problem.Platform, url string, rating int) (int, error) {
	r.calls = append(r.calls, resolvedCall{url: url, rating: rating})
	return 1, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type ratingFixture struct {
	svc      *Service
	cache    *fakeCache
	queue    *fakeQueue
	contests *fakeContests
	problems *fakeContestProblems
	fetcher  *fakeFetcher
	resolver *fakeResolver
	clock    time.Time
}

func newRatingFixture(t *testing.T) *ratingFixture {
	t.Helper()
	f := &ratingFixture{
		cache:    newFakeCache(),
		queue:    newFakeQueue(),
		contests: newFakeContests(),
		problems: &fakeContestProblems{},
		fetcher:  &fakeFetcher{results: make(map[string]*problem.FetchResult)},
		resolver: &fakeResolver{},
		clock:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.cache, f.queue, f.contests, f.problems, f.fetcher, Config{
		CacheTTL:    24 * time.Hour,
		MaxAttempts: 3,
		BackoffBase: time.Minute,
		BackoffCap:  time.Hour,
	}, nil)
	f.svc.BindResolver(f.resolver)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func intPtr(v int) *int { return &v }

const (
	cfURL = "https://codeforces.com/contest/1900/problem/A"
	acURL = "https://atcoder.jp/contests/abc300/tasks/abc300_c"
)

// ══════════════════════════════════════════════════════════════════════════════
// CACHE READS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetOrScheduleEmptyURL(t *testing.T) {
	f := newRatingFixture(t)

	entry, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, "   ", "", problem.PriorityHigh, true)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, f.queue.reqs)
}

func TestGetOrScheduleFreshHit(t *testing.T) {
	f := newRatingFixture(t)
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:              cfURL,
		Platform:         problem.PlatformCodeforces,
		AggregatorRating: intPtr(1500),
		EffectiveRating:  intPtr(1500),
		Source:           problem.SourceAggregator,
		Status:           problem.StatusOK,
		FetchedAt:        f.clock.Add(-time.Hour),
	}

	entry, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1500, *entry.EffectiveRating)
	assert.Empty(t, f.queue.reqs, "fresh OK entry must not enqueue")
}

func TestGetOrScheduleFreshNotFound(t *testing.T) {
	f := newRatingFixture(t)
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:       cfURL,
		Platform:  problem.PlatformCodeforces,
		Status:    problem.StatusNotFound,
		FetchedAt: f.clock.Add(-time.Hour),
	}

	entry, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, problem.StatusNotFound, entry.Status)
	assert.Empty(t, f.queue.reqs, "fresh NOT_FOUND is an answer, not a retry trigger")
}

func TestGetOrScheduleMissEnqueues(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1900",
		IndexLabel:   "A",
		URL:          cfURL,
		RatingStatus: contest.ProblemMissing,
	})

	entry, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "Watermelon", problem.PriorityHigh, true)
	require.NoError(t, err)
	assert.Nil(t, entry)

	req := f.queue.byURL(cfURL)
	require.NotNil(t, req)
	assert.Equal(t, problem.FetchQueued, req.State)
	assert.Equal(t, problem.PriorityHigh, req.Priority)
	assert.Equal(t, "Watermelon", req.NameHint)
	assert.Equal(t, contest.ProblemQueued, f.problems.statusOf(cfURL))
}

func TestGetOrScheduleDeduplicates(t *testing.T) {
	f := newRatingFixture(t)

	_, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "", problem.PriorityLow, true)
	require.NoError(t, err)
	_, err = f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)

	depth, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Equal(t, problem.PriorityHigh, f.queue.byURL(cfURL).Priority,
		"second enqueue raises the stored priority")
}

func TestGetOrScheduleStaleEntryRefetches(t *testing.T) {
	f := newRatingFixture(t)
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:              cfURL,
		Platform:         problem.PlatformCodeforces,
		AggregatorRating: intPtr(1500),
		EffectiveRating:  intPtr(1500),
		Source:           problem.SourceAggregator,
		Status:           problem.StatusOK,
		FetchedAt:        f.clock.Add(-48 * time.Hour),
	}

	entry, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "", problem.PriorityLow, true)
	require.NoError(t, err)
	require.NotNil(t, entry, "stale entry is still returned")
	assert.Equal(t, 1500, *entry.EffectiveRating)
	assert.NotNil(t, f.queue.byURL(cfURL), "stale entry schedules a refresh")
}

func TestGetOrScheduleCorruptEntryRefetches(t *testing.T) {
	f := newRatingFixture(t)
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:       cfURL,
		Platform:  problem.PlatformCodeforces,
		Status:    problem.StatusOK,
		FetchedAt: f.clock.Add(-time.Hour),
	}

	_, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformCodeforces, cfURL, "", problem.PriorityLow, true)
	require.NoError(t, err)
	assert.NotNil(t, f.queue.byURL(cfURL), "OK with null rating must refetch even when fresh")
}

func TestGetOrScheduleWithoutScheduling(t *testing.T) {
	f := newRatingFixture(t)

	entry, err := f.svc.GetOrSchedule(context.Background(), problem.PlatformAtCoder, acURL, "", problem.PriorityHigh, false)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, f.queue.reqs)
}

func TestSeedNative(t *testing.T) {
	ctx := context.Background()

	t.Run("creates entry with native-sourced rating", func(t *testing.T) {
		f := newRatingFixture(t)
		require.NoError(t, f.svc.SeedNative(ctx, problem.PlatformCodeforces, cfURL, 800))

		e := f.cache.entries[cfURL]
		require.NotNil(t, e)
		assert.Equal(t, problem.StatusTempFail, e.Status, "a seed is not an aggregator answer")
		assert.Equal(t, 800, *e.NativeRating)
		assert.Equal(t, 800, *e.EffectiveRating)
		assert.Equal(t, problem.SourceNative, e.Source)
	})

	t.Run("no-op when rating unchanged", func(t *testing.T) {
		f := newRatingFixture(t)
		require.NoError(t, f.svc.SeedNative(ctx, problem.PlatformCodeforces, cfURL, 800))
		before := f.cache.upserts
		require.NoError(t, f.svc.SeedNative(ctx, problem.PlatformCodeforces, cfURL, 800))
		assert.Equal(t, before, f.cache.upserts)
	})

	t.Run("aggregator rating keeps precedence", func(t *testing.T) {
		f := newRatingFixture(t)
		f.cache.entries[cfURL] = &problem.CacheEntry{
			URL:              cfURL,
			Platform:         problem.PlatformCodeforces,
			AggregatorRating: intPtr(1500),
			EffectiveRating:  intPtr(1500),
			Source:           problem.SourceAggregator,
			Status:           problem.StatusOK,
		}
		require.NoError(t, f.svc.SeedNative(ctx, problem.PlatformCodeforces, cfURL, 800))

		e := f.cache.entries[cfURL]
		assert.Equal(t, 1500, *e.EffectiveRating)
		assert.Equal(t, problem.SourceAggregator, e.Source)
		assert.Equal(t, 800, *e.NativeRating)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCH RESULT APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

func TestApplyFetchResultOK(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1900",
		IndexLabel:   "A",
		URL:          cfURL,
		RatingStatus: contest.ProblemQueued,
	})
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:      cfURL,
		Platform: problem.PlatformCodeforces,
		Status:   problem.StatusTempFail,
		Attempts: 2,
	}

	req := &problem.FetchRequest{URL: cfURL, Platform: problem.PlatformCodeforces}
	res := &problem.FetchResult{
		Status:      problem.StatusOK,
		Rating:      intPtr(1700),
		ExternalID:  "clist-42",
		ProblemName: "A. Cover in Water",
	}
	require.NoError(t, f.svc.ApplyFetchResult(context.Background(), req, res))

	e := f.cache.entries[cfURL]
	assert.Equal(t, problem.StatusOK, e.Status)
	assert.Equal(t, 1700, *e.EffectiveRating)
	assert.Equal(t, problem.SourceAggregator, e.Source)
	assert.Equal(t, "clist-42", e.ExternalID)
	assert.Equal(t, 0, e.Attempts)
	assert.Nil(t, e.NextRetryAt)
	assert.Equal(t, f.clock, e.FetchedAt)

	assert.Equal(t, contest.ProblemOK, f.problems.statusOf(cfURL))
	require.Len(t, f.resolver.calls, 1, "pending events re-score on resolution")
	assert.Equal(t, resolvedCall{url: cfURL, rating: 1700}, f.resolver.calls[0])
}

func TestApplyFetchResultOKNativeFallback(t *testing.T) {
	f := newRatingFixture(t)
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:          cfURL,
		Platform:     problem.PlatformCodeforces,
		NativeRating: intPtr(800),
		Status:       problem.StatusTempFail,
	}

	req := &problem.FetchRequest{URL: cfURL, Platform: problem.PlatformCodeforces}
	res := &problem.FetchResult{Status: problem.StatusOK, Rating: nil, ExternalID: "clist-7"}
	require.NoError(t, f.svc.ApplyFetchResult(context.Background(), req, res))

	e := f.cache.entries[cfURL]
	assert.Equal(t, 800, *e.EffectiveRating, "null aggregator rating falls back to the native one")
	assert.Equal(t, problem.SourceNative, e.Source)
	require.Len(t, f.resolver.calls, 1)
	assert.Equal(t, 800, f.resolver.calls[0].rating)
}

func TestApplyFetchResultNotFound(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformAtCoder,
		ContestID:    "abc300",
		IndexLabel:   "C",
		URL:          acURL,
		RatingStatus: contest.ProblemQueued,
	})

	req := &problem.FetchRequest{URL: acURL, Platform: problem.PlatformAtCoder}
	res := &problem.FetchResult{Status: problem.StatusNotFound}
	require.NoError(t, f.svc.ApplyFetchResult(context.Background(), req, res))

	e := f.cache.entries[acURL]
	require.NotNil(t, e)
	assert.Equal(t, problem.StatusNotFound, e.Status)
	assert.Equal(t, f.clock, e.FetchedAt, "NOT_FOUND is authoritative and gets a TTL")
	assert.Equal(t, contest.ProblemNotFound, f.problems.statusOf(acURL))
	assert.Empty(t, f.resolver.calls)
}

func TestApplyFetchResultNotFoundHealsViaSibling(t *testing.T) {
	f := newRatingFixture(t)
	start := time.Date(2025, 3, 1, 17, 35, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, f.contests.Upsert(ctx, &contest.Contest{
		Platform:  problem.PlatformCodeforces,
		ContestID: "1900",
		Name:      "Codeforces Round 912 (Div. 2)",
		StartTime: start,
	}))
	require.NoError(t, f.contests.Upsert(ctx, &contest.Contest{
		Platform:  problem.PlatformCodeforces,
		ContestID: "1899",
		Name:      "Codeforces Round 912 (Div. 1)",
		StartTime: start,
	}))

	donorURL := "https://codeforces.com/contest/1899/problem/C"
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1900",
		IndexLabel:   "A",
		Name:         "Cover in Water",
		URL:          cfURL,
		RatingStatus: contest.ProblemQueued,
	})
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1899",
		IndexLabel:   "C",
		Name:         "Cover in Water",
		URL:          donorURL,
		RatingStatus: contest.ProblemOK,
	})
	f.cache.entries[donorURL] = &problem.CacheEntry{
		URL:              donorURL,
		Platform:         problem.PlatformCodeforces,
		ExternalID:       "clist-42",
		AggregatorRating: intPtr(1300),
		EffectiveRating:  intPtr(1300),
		Source:           problem.SourceAggregator,
		Status:           problem.StatusOK,
		FetchedAt:        f.clock.Add(-time.Hour),
	}

	req := &problem.FetchRequest{URL: cfURL, Platform: problem.PlatformCodeforces}
	res := &problem.FetchResult{Status: problem.StatusNotFound}
	require.NoError(t, f.svc.ApplyFetchResult(ctx, req, res))

	e := f.cache.entries[cfURL]
	require.NotNil(t, e, "the mirrored URL borrows the sibling's answer")
	assert.Equal(t, problem.StatusOK, e.Status)
	assert.Equal(t, 1300, *e.EffectiveRating)
	assert.Equal(t, "clist-42", e.ExternalID)
	assert.Equal(t, contest.ProblemOK, f.problems.statusOf(cfURL))
	require.Len(t, f.resolver.calls, 1)
	assert.Equal(t, resolvedCall{url: cfURL, rating: 1300}, f.resolver.calls[0])
}

func TestApplyFetchResultTransientFailure(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformAtCoder,
		ContestID:    "abc300",
		IndexLabel:   "C",
		URL:          acURL,
		RatingStatus: contest.ProblemQueued,
	})

	req := &problem.FetchRequest{URL: acURL, Platform: problem.PlatformAtCoder}
	res := &problem.FetchResult{Status: problem.StatusTempFail, Err: "http 500"}
	require.NoError(t, f.svc.ApplyFetchResult(context.Background(), req, res))

	e := f.cache.entries[acURL]
	require.NotNil(t, e)
	assert.Equal(t, problem.StatusTempFail, e.Status)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, "http 500", e.LastError)
	require.NotNil(t, e.NextRetryAt)
	assert.Equal(t, f.clock.Add(2*time.Minute), *e.NextRetryAt, "base * 2^attempts")
	assert.Equal(t, contest.ProblemTempFail, f.problems.statusOf(acURL))
}

func TestApplyFetchResultRateLimited(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1900",
		IndexLabel:   "A",
		URL:          cfURL,
		RatingStatus: contest.ProblemQueued,
	})

	req := &problem.FetchRequest{URL: cfURL, Platform: problem.PlatformCodeforces}
	res := &problem.FetchResult{Status: problem.StatusRateLimited, Err: "http 429"}
	require.NoError(t, f.svc.ApplyFetchResult(context.Background(), req, res))

	assert.Equal(t, contest.ProblemRateLimited, f.problems.statusOf(cfURL))
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCH WORKER
// ══════════════════════════════════════════════════════════════════════════════

func TestProcessNextEmptyQueue(t *testing.T) {
	f := newRatingFixture(t)

	worked, err := f.svc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Zero(t, f.fetcher.calls)
}

func TestProcessNextSuccess(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetOrSchedule(ctx, problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	f.fetcher.results[cfURL] = &problem.FetchResult{
		Status: problem.StatusOK, Rating: intPtr(1700), ExternalID: "clist-42",
	}

	worked, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	assert.Equal(t, problem.FetchDone, f.queue.byURL(cfURL).State)
	assert.Equal(t, 1700, *f.cache.entries[cfURL].EffectiveRating)

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestProcessNextFetcherErrorReschedules(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetOrSchedule(ctx, problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	f.fetcher.err = context.Canceled

	worked, err := f.svc.ProcessNext(ctx)
	assert.True(t, worked)
	require.ErrorIs(t, err, context.Canceled)

	req := f.queue.byURL(cfURL)
	assert.Equal(t, problem.FetchQueued, req.State)
	assert.Equal(t, 0, req.Attempts, "a transport error does not consume an attempt")
	assert.Equal(t, f.clock.Add(time.Minute), req.NotBefore)
	assert.Nil(t, f.cache.entries[cfURL], "nothing is written to the cache")
}

func TestProcessNextRespectsBackoffGate(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetOrSchedule(ctx, problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	f.fetcher.results[cfURL] = &problem.FetchResult{Status: problem.StatusTempFail, Err: "http 500"}

	worked, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	req := f.queue.byURL(cfURL)
	assert.Equal(t, problem.FetchQueued, req.State)
	assert.Equal(t, 1, req.Attempts)
	assert.True(t, req.NotBefore.After(f.clock))

	// Gate still closed: nothing eligible.
	worked, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, worked)

	// Past the gate the request becomes claimable again.
	f.clock = f.clock.Add(3 * time.Minute)
	worked, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
}

func TestProcessNextExhaustsAttempts(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetOrSchedule(ctx, problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	f.fetcher.results[cfURL] = &problem.FetchResult{Status: problem.StatusTempFail, Err: "http 500"}

	for i := 0; i < 3; i++ {
		f.clock = f.clock.Add(2 * time.Hour)
		worked, err := f.svc.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, worked, "attempt %d", i+1)
	}

	req := f.queue.byURL(cfURL)
	assert.Equal(t, problem.FetchFailed, req.State)
	assert.Equal(t, "http 500", f.queue.failed[req.ID])

	worked, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, worked, "failed requests are parked, not retried")
}

func TestProcessNextPriorityOrder(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetOrSchedule(ctx, problem.PlatformAtCoder, acURL, "", problem.PriorityLow, true)
	require.NoError(t, err)
	_, err = f.svc.GetOrSchedule(ctx, problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	f.fetcher.results[cfURL] = &problem.FetchResult{Status: problem.StatusOK, Rating: intPtr(1700)}
	f.fetcher.results[acURL] = &problem.FetchResult{Status: problem.StatusOK, Rating: intPtr(1200)}

	_, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, problem.FetchDone, f.queue.byURL(cfURL).State,
		"user-facing misses beat scheduled refreshes")
	assert.Equal(t, problem.FetchQueued, f.queue.byURL(acURL).State)
}

func TestReleaseStuck(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetOrSchedule(ctx, problem.PlatformCodeforces, cfURL, "", problem.PriorityHigh, true)
	require.NoError(t, err)
	_, err = f.queue.Claim(ctx, f.clock)
	require.NoError(t, err)

	f.clock = f.clock.Add(30 * time.Minute)
	released, err := f.svc.ReleaseStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, problem.FetchQueued, f.queue.byURL(cfURL).State)
}
