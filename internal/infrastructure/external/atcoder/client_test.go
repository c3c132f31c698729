package atcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
	"github.com/maratonahub/cp-tracker/pkg/ratelimit"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultClientConfig(server.URL)
	cfg.SiteURL = server.URL
	cfg.Timeout = 2 * time.Second
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		WaitTimeout:       time.Second,
	}
	return NewClient(cfg)
}

func TestUserSubmissions_PagesForward(t *testing.T) {
	var cursors []string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/atcoder-api/v3/user/submissions", r.URL.Path)
		assert.Equal(t, "chokudai", r.URL.Query().Get("user"))

		cursor := r.URL.Query().Get("from_second")
		cursors = append(cursors, cursor)

		if cursor == "0" {
			// A full page forces a second request from epoch+1.
			page := make([]SubmissionDTO, 500)
			for i := range page {
				page[i] = SubmissionDTO{
					ID:          int64(i + 1),
					EpochSecond: int64(i + 1),
					ProblemID:   "abc100_a",
					ContestID:   "abc100",
					UserID:      "chokudai",
					Result:      "AC",
				}
			}
			json.NewEncoder(w).Encode(page)
			return
		}
		w.Write([]byte(`[{"id":501,"epoch_second":600,"problem_id":"abc101_b","contest_id":"abc101","user_id":"chokudai","result":"WA","point":0}]`))
	})

	subs, err := client.UserSubmissions(context.Background(), "chokudai", 0)
	require.NoError(t, err)
	assert.Len(t, subs, 501)
	assert.Equal(t, []string{"0", "501"}, cursors)
	assert.Equal(t, "abc101_b", subs[500].ProblemID)
}

func TestListContestsAndProblems(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resources/contests.json":
			w.Write([]byte(`[{"id":"abc100","start_epoch_second":1528022400,"duration_second":6000,"title":"AtCoder Beginner Contest 100","rate_change":" ~ 1199"}]`))
		case "/resources/problems.json":
			w.Write([]byte(`[{"id":"abc100_a","contest_id":"abc100","problem_index":"A","name":"Happy Birthday!","title":"A. Happy Birthday!"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	contests, err := client.ListContests(context.Background())
	require.NoError(t, err)
	require.Len(t, contests, 1)
	assert.Equal(t, "abc100", contests[0].ID)

	problems, err := client.ListProblems(context.Background())
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "abc100", problems[0].ContestID)
}

func TestProblemModels(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resources/problem-models.json", r.URL.Path)
		w.Write([]byte(`{"abc100_a":{"difficulty":-1000,"is_experimental":true},"agc001_f":{"difficulty":4239,"is_experimental":false}}`))
	})

	models, err := client.ProblemModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.NotNil(t, models["agc001_f"].Difficulty)
	assert.Equal(t, 4239, *models["agc001_f"].Difficulty)
	assert.True(t, models["abc100_a"].IsExperiment)
}

func TestUserRating_SkipsUnratedEntries(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/chokudai/history/json", r.URL.Path)
		w.Write([]byte(`[
			{"NewRating":1200,"OldRating":0,"Place":38,"IsRated":true,"ContestScreenName":"abc100.contest.atcoder.jp"},
			{"NewRating":1500,"OldRating":1200,"Place":10,"IsRated":true,"ContestScreenName":"abc101.contest.atcoder.jp"},
			{"NewRating":0,"OldRating":0,"Place":99,"IsRated":false,"ContestScreenName":"ahc001.contest.atcoder.jp"},
			{"NewRating":1400,"OldRating":1500,"Place":200,"IsRated":true,"ContestScreenName":"abc102.contest.atcoder.jp"}
		]`))
	})

	rating, maxRating, err := client.UserRating(context.Background(), "chokudai")
	require.NoError(t, err)
	require.NotNil(t, rating)
	require.NotNil(t, maxRating)
	assert.Equal(t, 1400, *rating)
	assert.Equal(t, 1500, *maxRating)
}

func TestUserRating_EmptyHistory(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	rating, maxRating, err := client.UserRating(context.Background(), "newbie")
	require.NoError(t, err)
	assert.Nil(t, rating)
	assert.Nil(t, maxRating)
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls int
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	})

	_, err := client.ListContests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestMapper_SubmissionFromDTO(t *testing.T) {
	m := NewMapper()

	sub := m.SubmissionFromDTO("student-1", SubmissionDTO{
		ID:          42,
		EpochSecond: 1528022500,
		ProblemID:   "abc100_b",
		ContestID:   "abc100",
		UserID:      "chokudai",
		Result:      "AC",
	})
	require.NotNil(t, sub)
	assert.Equal(t, problem.PlatformAtCoder, sub.Platform)
	assert.Equal(t, submission.VerdictAccepted, sub.Verdict)
	assert.Equal(t, "B", sub.ProblemIndex)
	assert.Equal(t, "https://atcoder.jp/contests/abc100/tasks/abc100_b", sub.ProblemURL)
	assert.Equal(t, time.Unix(1528022500, 0).UTC(), sub.SubmittedAt)

	assert.Nil(t, m.SubmissionFromDTO("student-1", SubmissionDTO{ID: 43, Result: "AC"}))
}

func TestMapper_ContestProblemFromDTO(t *testing.T) {
	m := NewMapper()
	difficulty := 815

	cp := m.ContestProblemFromDTO(ProblemDTO{
		ID:           "dp_a",
		ContestID:    "dp",
		ProblemIndex: "A",
		Name:         "Frog 1",
	}, &ProblemModelDTO{Difficulty: &difficulty})

	assert.Equal(t, "https://atcoder.jp/contests/dp/tasks/dp_a", cp.URL)
	require.NotNil(t, cp.NativeRating)
	assert.Equal(t, 815, *cp.NativeRating)

	bare := m.ContestProblemFromDTO(ProblemDTO{ID: "abc100_a", ContestID: "abc100", ProblemIndex: "A"}, nil)
	assert.Nil(t, bare.NativeRating)
	assert.Equal(t, fmt.Sprintf("https://atcoder.jp/contests/%s/tasks/%s", "abc100", "abc100_a"), bare.URL)
}
