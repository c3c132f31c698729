package clist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/pkg/ratelimit"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig(server.URL)
	cfg.Timeout = 2 * time.Second
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		WaitTimeout:       time.Second,
	}
	return NewClient(cfg)
}

func TestFetchRating_ExactURLMatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://codeforces.com/contest/2197/problem/C", r.URL.Query().Get("url"))
		w.Write([]byte(`{"meta":{},"objects":[{"id":417541,"name":"Shiritori","rating":1500,"url":"https://codeforces.com/contest/2197/problem/C"}]}`))
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformCodeforces,
		"https://codeforces.com/contest/2197/problem/C", "Shiritori")
	require.NoError(t, err)

	assert.Equal(t, problem.StatusOK, res.Status)
	require.NotNil(t, res.Rating)
	assert.Equal(t, 1500, *res.Rating)
	assert.Equal(t, "417541", res.ExternalID)
	assert.Equal(t, "Shiritori", res.ProblemName)
	assert.Empty(t, res.ResolvedURL)
}

func TestFetchRating_CodeforcesMirrorVariant(t *testing.T) {
	var urls []string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		u := r.URL.Query().Get("url")
		urls = append(urls, u)
		if u == "https://codeforces.com/problemset/problem/2197/C" {
			w.Write([]byte(`{"meta":{},"objects":[{"id":99,"name":"Mirror","rating":1800}]}`))
			return
		}
		w.Write([]byte(`{"meta":{},"objects":[]}`))
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformCodeforces,
		"https://codeforces.com/contest/2197/problem/C", "")
	require.NoError(t, err)

	assert.Equal(t, problem.StatusOK, res.Status)
	assert.Equal(t, "https://codeforces.com/problemset/problem/2197/C", res.ResolvedURL)
	assert.Greater(t, len(urls), 1, "variants should be tried after the exact URL misses")
	assert.Equal(t, "https://codeforces.com/contest/2197/problem/C", urls[0])
}

func TestFetchRating_CodeforcesNeverFallsBackToName(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("name"), "no name query may ever leave for codeforces")
		w.Write([]byte(`{"meta":{},"objects":[]}`))
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformCodeforces,
		"https://codeforces.com/contest/2197/problem/C", "Ambiguous Title")
	require.NoError(t, err)
	assert.Equal(t, problem.StatusNotFound, res.Status)
}

func TestFetchRating_AtCoderNameFallback(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if name := r.URL.Query().Get("name"); name != "" {
			assert.Equal(t, "Frog 1", name)
			assert.Equal(t, "atcoder.jp", r.URL.Query().Get("resource"))
			w.Write([]byte(`{"meta":{},"objects":[{"id":7,"name":"Frog 1","rating":400,"url":"https://atcoder.jp/contests/dp/tasks/dp_a"}]}`))
			return
		}
		w.Write([]byte(`{"meta":{},"objects":[]}`))
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformAtCoder,
		"https://atcoder.jp/contests/dp/tasks/dp_1", "Frog 1")
	require.NoError(t, err)

	assert.Equal(t, problem.StatusOK, res.Status)
	assert.Equal(t, "https://atcoder.jp/contests/dp/tasks/dp_a", res.ResolvedURL)
}

func TestFetchRating_NullRatingIsNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{},"objects":[{"id":1,"name":"Unrated","rating":null}]}`))
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformAtCoder,
		"https://atcoder.jp/contests/abc100/tasks/abc100_a", "")
	require.NoError(t, err)
	assert.Equal(t, problem.StatusNotFound, res.Status)
}

func TestFetchRating_RateLimited(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformCodeforces,
		"https://codeforces.com/contest/1/problem/A", "")
	require.NoError(t, err)
	assert.Equal(t, problem.StatusRateLimited, res.Status)
}

func TestFetchRating_ServerErrorIsTempFail(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	res, err := client.FetchRating(context.Background(), problem.PlatformAtCoder,
		"https://atcoder.jp/contests/abc100/tasks/abc100_a", "")
	require.NoError(t, err)
	assert.Equal(t, problem.StatusTempFail, res.Status)
}
