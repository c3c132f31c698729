package rating

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

func TestRunBackfillEnqueuesCandidates(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	row := f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformAtCoder,
		ContestID:    "abc300",
		IndexLabel:   "C",
		Name:         "Four Variables",
		URL:          acURL,
		RatingStatus: contest.ProblemMissing,
	})

	report, err := f.svc.RunBackfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)

	req := f.queue.byURL(acURL)
	require.NotNil(t, req)
	assert.Equal(t, problem.PriorityLow, req.Priority)
	assert.Equal(t, contest.ProblemQueued, f.problems.statusOf(acURL))
	assert.Contains(t, f.problems.requested, row.ID, "attempt counter is charged up front")
}

func TestRunBackfillRetriesRateLimitedRows(t *testing.T) {
	f := newRatingFixture(t)
	row := f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformAtCoder,
		ContestID:    "abc300",
		IndexLabel:   "C",
		Name:         "Four Variables",
		URL:          acURL,
		RatingStatus: contest.ProblemRateLimited,
		Attempts:     1,
	})

	report, err := f.svc.RunBackfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued, "a throttled fetch stays retryable")

	require.NotNil(t, f.queue.byURL(acURL))
	assert.Equal(t, contest.ProblemQueued, f.problems.statusOf(acURL))
	assert.Contains(t, f.problems.requested, row.ID)
}

func TestRunBackfillSkipsExhaustedRows(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformAtCoder,
		ContestID:    "abc300",
		IndexLabel:   "C",
		URL:          acURL,
		RatingStatus: contest.ProblemTempFail,
		Attempts:     3, // at MaxAttempts
	})

	report, err := f.svc.RunBackfill(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Enqueued)
	assert.Nil(t, f.queue.byURL(acURL))
}

func TestRunBackfillUnstarvesOldRows(t *testing.T) {
	f := newRatingFixture(t)
	f.svc.cfg.StarvationAge = 7 * 24 * time.Hour
	old := f.clock.Add(-8 * 24 * time.Hour)
	f.problems.add(contest.ContestProblem{
		Platform:        problem.PlatformAtCoder,
		ContestID:       "abc300",
		IndexLabel:      "C",
		URL:             acURL,
		RatingStatus:    contest.ProblemTempFail,
		Attempts:        3,
		LastRequestedAt: &old,
	})

	report, err := f.svc.RunBackfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AttemptsReset)
	assert.Zero(t, f.problems.rows[0].Attempts, "the next run may retry the row")
}

func TestRunBackfillHealsCorruptEntries(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1900",
		IndexLabel:   "A",
		URL:          cfURL,
		RatingStatus: contest.ProblemOK,
	})
	// OK with a null effective rating: a past partial write.
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:       cfURL,
		Platform:  problem.PlatformCodeforces,
		Status:    problem.StatusOK,
		FetchedAt: f.clock.Add(-time.Hour),
	}

	report, err := f.svc.RunBackfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CorruptHealed)

	e := f.cache.entries[cfURL]
	assert.Equal(t, problem.StatusTempFail, e.Status)
	require.NotNil(t, e.NextRetryAt)
	assert.False(t, e.NextRetryAt.After(f.clock), "immediately retryable")

	assert.Equal(t, 1, report.Enqueued, "the demoted row re-enters the fetch queue")
	assert.Equal(t, contest.ProblemQueued, f.problems.statusOf(cfURL))
}

func TestRunBackfillDemotesUnbackedOKRows(t *testing.T) {
	f := newRatingFixture(t)
	f.problems.add(contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    "1900",
		IndexLabel:   "A",
		URL:          cfURL,
		RatingStatus: contest.ProblemOK,
	})
	// No cache entry backs the claimed OK status.

	report, err := f.svc.RunBackfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CorruptHealed)
	assert.Equal(t, contest.ProblemQueued, f.problems.statusOf(cfURL),
		"demoted to TEMP_FAIL, then re-enqueued in the same run")
}

func TestRunBackfillResetsConflictingEntries(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	otherURL := "https://codeforces.com/contest/1950/problem/B"

	// Two unrelated problems recorded under one aggregator id: a past
	// name-fallback mismatch. Neither rating can be trusted.
	f.cache.entries[cfURL] = &problem.CacheEntry{
		URL:              cfURL,
		Platform:         problem.PlatformCodeforces,
		ExternalID:       "clist-42",
		AggregatorRating: intPtr(1300),
		EffectiveRating:  intPtr(1300),
		Source:           problem.SourceAggregator,
		Status:           problem.StatusOK,
		FetchedAt:        f.clock.Add(-time.Hour),
	}
	f.cache.entries[otherURL] = &problem.CacheEntry{
		URL:              otherURL,
		Platform:         problem.PlatformCodeforces,
		ExternalID:       "clist-42",
		AggregatorRating: intPtr(2100),
		EffectiveRating:  intPtr(2100),
		Source:           problem.SourceAggregator,
		Status:           problem.StatusOK,
		FetchedAt:        f.clock.Add(-time.Hour),
	}

	report, err := f.svc.RunBackfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ConflictsReset)

	for _, url := range []string{cfURL, otherURL} {
		e := f.cache.entries[url]
		assert.Equal(t, problem.StatusTempFail, e.Status, url)
		assert.Empty(t, e.ExternalID, url)
		assert.Nil(t, e.AggregatorRating, url)
		assert.Nil(t, e.EffectiveRating, url)
	}
}

func TestRunBackfillKeepsVerifiedSiblingDuplicates(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 17, 35, 0, 0, time.UTC)
	donorURL := "https://codeforces.com/contest/1899/problem/C"

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
	f.problems.add(contest.ContestProblem{
		Platform: problem.PlatformCodeforces, ContestID: "1900", IndexLabel: "D",
		Name: "Cover in Water", URL: cfURL, RatingStatus: contest.ProblemOK,
	})
	f.problems.add(contest.ContestProblem{
		Platform: problem.PlatformCodeforces, ContestID: "1899", IndexLabel: "C",
		Name: "Cover in Water", URL: donorURL, RatingStatus: contest.ProblemOK,
	})
	for _, url := range []string{cfURL, donorURL} {
		f.cache.entries[url] = &problem.CacheEntry{
			URL:              url,
			Platform:         problem.PlatformCodeforces,
			ExternalID:       "clist-42",
			AggregatorRating: intPtr(1300),
			EffectiveRating:  intPtr(1300),
			Source:           problem.SourceAggregator,
			Status:           problem.StatusOK,
			FetchedAt:        f.clock.Add(-time.Hour),
		}
	}

	report, err := f.svc.RunBackfill(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ConflictsReset, "split-round mirrors legitimately share an id")
	assert.Equal(t, problem.StatusOK, f.cache.entries[cfURL].Status)
}

func TestRunBackfillResolvesAliases(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 17, 35, 0, 0, time.UTC)
	donorURL := "https://codeforces.com/contest/1899/problem/C"

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
	f.problems.add(contest.ContestProblem{
		Platform: problem.PlatformCodeforces, ContestID: "1900", IndexLabel: "D",
		Name: "Cover in Water", URL: cfURL, RatingStatus: contest.ProblemNotFound,
	})
	f.problems.add(contest.ContestProblem{
		Platform: problem.PlatformCodeforces, ContestID: "1899", IndexLabel: "C",
		Name: "Cover in Water", URL: donorURL, RatingStatus: contest.ProblemOK,
	})
	f.cache.entries[donorURL] = &problem.CacheEntry{
		URL:              donorURL,
		Platform:         problem.PlatformCodeforces,
		ExternalID:       "clist-42",
		AggregatorRating: intPtr(1900),
		EffectiveRating:  intPtr(1900),
		Source:           problem.SourceAggregator,
		Status:           problem.StatusOK,
		FetchedAt:        f.clock.Add(-time.Hour),
	}

	report, err := f.svc.RunBackfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AliasesResolved)

	e := f.cache.entries[cfURL]
	require.NotNil(t, e)
	assert.Equal(t, problem.StatusOK, e.Status)
	assert.Equal(t, 1900, *e.EffectiveRating)
	assert.Equal(t, contest.ProblemOK, f.problems.statusOf(cfURL))
	require.Len(t, f.resolver.calls, 1)
	assert.Equal(t, resolvedCall{url: cfURL, rating: 1900}, f.resolver.calls[0])
}

func TestRunBackfillAliasNeedsUsableDonor(t *testing.T) {
	f := newRatingFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 17, 35, 0, 0, time.UTC)
	donorURL := "https://codeforces.com/contest/1899/problem/C"

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
	f.problems.add(contest.ContestProblem{
		Platform: problem.PlatformCodeforces, ContestID: "1900", IndexLabel: "D",
		Name: "Cover in Water", URL: cfURL, RatingStatus: contest.ProblemNotFound,
	})
	f.problems.add(contest.ContestProblem{
		Platform: problem.PlatformCodeforces, ContestID: "1899", IndexLabel: "C",
		Name: "Cover in Water", URL: donorURL, RatingStatus: contest.ProblemOK,
	})
	// Donor row claims OK but its cache entry holds no rating.
	f.cache.entries[donorURL] = &problem.CacheEntry{
		URL:      donorURL,
		Platform: problem.PlatformCodeforces,
		Status:   problem.StatusOK,
	}

	report, err := f.svc.RunBackfill(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.AliasesResolved)
	assert.Nil(t, f.cache.entries[cfURL])
}
