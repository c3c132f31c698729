package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/student"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// ══════════════════════════════════════════════════════════════════════════════

type cursorUpdate struct {
	studentID string
	platform  problem.Platform
	unix      int64
}

type ratingUpdate struct {
	studentID string
	platform  problem.Platform
	rating    *int
	maxRating *int
}

type fakeStudentRepo struct {
	students      []*student.Student
	cursorUpdates []cursorUpdate
	ratingUpdates []ratingUpdate
}

func (r *fakeStudentRepo) Create(_ context.Context, s *student.Student) error {
	r.students = append(r.students, s)
	return nil
}

func (r *fakeStudentRepo) GetByID(_ context.Context, id string) (*student.Student, error) {
	for _, s := range r.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, student.ErrNotFound
}

func (r *fakeStudentRepo) GetByUsername(context.Context, student.Username) (*student.Student, error) {
	return nil, student.ErrNotFound
}

func (r *fakeStudentRepo) GetByHandle(context.Context, problem.Platform, student.Handle) (*student.Student, error) {
	return nil, student.ErrNotFound
}

func (r *fakeStudentRepo) Update(context.Context, *student.Student) error { return nil }

func (r *fakeStudentRepo) ListActive(_ context.Context, opts student.ListOptions) ([]*student.Student, error) {
	var active []*student.Student
	for _, s := range r.students {
		if s.Active {
			active = append(active, s)
		}
	}
	if opts.Offset >= len(active) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(active) {
		end = len(active)
	}
	return active[opts.Offset:end], nil
}

func (r *fakeStudentRepo) ListWithAccount(context.Context, problem.Platform) ([]*student.Student, error) {
	return nil, nil
}

func (r *fakeStudentRepo) UpdateSyncCursor(_ context.Context, id string, platform problem.Platform, unix int64) error {
	r.cursorUpdates = append(r.cursorUpdates, cursorUpdate{id, platform, unix})
	return nil
}

func (r *fakeStudentRepo) UpdateJudgeRating(_ context.Context, id string, platform problem.Platform, rating, maxRating *int, _ time.Time) error {
	r.ratingUpdates = append(r.ratingUpdates, ratingUpdate{id, platform, rating, maxRating})
	return nil
}

func (r *fakeStudentRepo) Count(_ context.Context) (int, error) { return len(r.students), nil }

type fakeSubmissionRepo struct {
	seen map[string]bool
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{seen: make(map[string]bool)}
}

func (r *fakeSubmissionRepo) UpsertBatch(_ context.Context, subs []*submission.Submission) ([]*submission.Submission, error) {
	var inserted []*submission.Submission
	for _, sub := range subs {
		key := string(sub.Platform) + "|" + sub.ExternalID
		if r.seen[key] {
			continue
		}
		r.seen[key] = true
		inserted = append(inserted, sub)
	}
	return inserted, nil
}

func (r *fakeSubmissionRepo) ListByStudent(context.Context, string, problem.Platform, int, int) ([]*submission.Submission, error) {
	return nil, nil
}

func (r *fakeSubmissionRepo) DistinctURLs(context.Context, problem.Platform) ([]string, error) {
	return nil, nil
}

func (r *fakeSubmissionRepo) CountByStudent(context.Context, string) (int, error) { return 0, nil }

type syncStateUpdate struct {
	contestID string
	state     contest.SyncState
	summary   contest.RatingSummary
}

type fakeContestRepo struct {
	upserted    []*contest.Contest
	needingSync map[problem.Platform][]*contest.Contest
	syncStates  []syncStateUpdate
}

func (r *fakeContestRepo) Upsert(_ context.Context, c *contest.Contest) error {
	r.upserted = append(r.upserted, c)
	return nil
}

func (r *fakeContestRepo) Get(context.Context, problem.Platform, string) (*contest.Contest, error) {
	return nil, contest.ErrContestNotFound
}

func (r *fakeContestRepo) FindSiblings(context.Context, problem.Platform, time.Time, string) ([]*contest.Contest, error) {
	return nil, nil
}

func (r *fakeContestRepo) ListNeedingSync(_ context.Context, platform problem.Platform, _ time.Time, limit int) ([]*contest.Contest, error) {
	out := r.needingSync[platform]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeContestRepo) UpdateSyncState(_ context.Context, _ problem.Platform, contestID string, state contest.SyncState, summary contest.RatingSummary, _ time.Time) error {
	r.syncStates = append(r.syncStates, syncStateUpdate{contestID, state, summary})
	return nil
}

type fakeContestProblemRepo struct {
	stored []*contest.ContestProblem
}

func (r *fakeContestProblemRepo) UpsertBatch(_ context.Context, problems []*contest.ContestProblem) error {
	r.stored = append(r.stored, problems...)
	return nil
}

func (r *fakeContestProblemRepo) GetByURL(context.Context, string) ([]*contest.ContestProblem, error) {
	return nil, nil
}

func (r *fakeContestProblemRepo) ListByContest(context.Context, problem.Platform, string) ([]*contest.ContestProblem, error) {
	return nil, nil
}

func (r *fakeContestProblemRepo) ListBackfillCandidates(context.Context, []contest.ProblemRatingStatus, int, time.Time, int) ([]*contest.ContestProblem, error) {
	return nil, nil
}

func (r *fakeContestProblemRepo) MarkRequested(context.Context, []int64, time.Time) error {
	return nil
}

func (r *fakeContestProblemRepo) SetRatingStatusByURL(context.Context, string, contest.ProblemRatingStatus) (int, error) {
	return 0, nil
}

func (r *fakeContestProblemRepo) ResetExhausted(context.Context, int, time.Time) (int, error) {
	return 0, nil
}

func (r *fakeContestProblemRepo) FindAliasCandidates(context.Context, problem.Platform, string, []string) ([]*contest.ContestProblem, error) {
	return nil, nil
}

type fakeGateway struct {
	subs        []*submission.Submission
	subsErr     error
	sinceArgs   []int64
	rating      *int
	maxRating   *int
	ratingCalls int
	contests    []*contest.Contest
	problems    map[string][]*contest.ContestProblem
}

func (g *fakeGateway) Submissions(_ context.Context, _, _ string, sinceUnix int64) ([]*submission.Submission, error) {
	g.sinceArgs = append(g.sinceArgs, sinceUnix)
	if g.subsErr != nil {
		return nil, g.subsErr
	}
	return g.subs, nil
}

func (g *fakeGateway) Rating(_ context.Context, _ string) (*int, *int, error) {
	g.ratingCalls++
	return g.rating, g.maxRating, nil
}

func (g *fakeGateway) Contests(_ context.Context) ([]*contest.Contest, error) {
	return g.contests, nil
}

func (g *fakeGateway) ContestProblems(_ context.Context, c *contest.Contest) ([]*contest.ContestProblem, error) {
	return g.problems[c.ContestID], nil
}

type fakeProcessor struct {
	batches [][]*submission.Submission
}

func (p *fakeProcessor) Process(_ context.Context, subs []*submission.Submission) (int, error) {
	p.batches = append(p.batches, subs)
	created := 0
	for _, sub := range subs {
		if sub.Accepted() {
			created++
		}
	}
	return created, nil
}

type seededRating struct {
	url    string
	rating int
}

type fakeSeeder struct {
	seeds []seededRating
}

func (s *fakeSeeder) SeedNative(_ context.Context, _ problem.Platform, url string, nativeRating int) error {
	s.seeds = append(s.seeds, seededRating{url, nativeRating})
	return nil
}

type fakeCacheReader struct {
	entries map[string]*problem.CacheEntry
}

func (c *fakeCacheReader) GetBatch(_ context.Context, urls []string) (map[string]*problem.CacheEntry, error) {
	out := make(map[string]*problem.CacheEntry)
	for _, u := range urls {
		if e, ok := c.entries[u]; ok {
			out[u] = e
		}
	}
	return out, nil
}

type fakeCursorStore struct {
	counters map[string]int
}

func (c *fakeCursorStore) Next(_ context.Context, name string, period int) (int, error) {
	if c.counters == nil {
		c.counters = make(map[string]int)
	}
	c.counters[name]++
	return c.counters[name] % period, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type ingestFixture struct {
	svc         *Service
	students    *fakeStudentRepo
	submissions *fakeSubmissionRepo
	contests    *fakeContestRepo
	problems    *fakeContestProblemRepo
	cf          *fakeGateway
	ac          *fakeGateway
	processor   *fakeProcessor
	seeder      *fakeSeeder
	cache       *fakeCacheReader
	cursors     *fakeCursorStore
	clock       time.Time
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		students:    &fakeStudentRepo{},
		submissions: newFakeSubmissionRepo(),
		contests:    &fakeContestRepo{needingSync: make(map[problem.Platform][]*contest.Contest)},
		problems:    &fakeContestProblemRepo{},
		cf:          &fakeGateway{problems: make(map[string][]*contest.ContestProblem)},
		ac:          &fakeGateway{problems: make(map[string][]*contest.ContestProblem)},
		processor:   &fakeProcessor{},
		seeder:      &fakeSeeder{},
		cache:       &fakeCacheReader{entries: make(map[string]*problem.CacheEntry)},
		cursors:     &fakeCursorStore{},
		clock:       time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	gateways := map[problem.Platform]Gateway{
		problem.PlatformCodeforces: f.cf,
		problem.PlatformAtCoder:    f.ac,
	}
	f.svc = NewService(f.students, f.submissions, f.contests, f.problems, gateways,
		f.processor, f.seeder, f.cache, f.cursors, Config{
			RatingRefreshMinInterval: 12 * time.Hour,
			HistoryPageSize:          2,
		}, nil)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *ingestFixture) cfStudent(lastSynced int64) *student.Student {
	return &student.Student{
		ID:       "6a3f0c1e-9b2d-4f7a-8c5e-1d2e3f4a5b6c",
		Username: "anna",
		Active:   true,
		Codeforces: &student.JudgeAccount{
			Handle:         "anna_cf",
			LastSyncedUnix: lastSynced,
		},
	}
}

func cfSub(externalID string, verdict submission.Verdict, submittedAt time.Time) *submission.Submission {
	return &submission.Submission{
		Platform:    problem.PlatformCodeforces,
		ExternalID:  externalID,
		ContestID:   "1900",
		ProblemURL:  "https://codeforces.com/contest/1900/problem/A",
		Verdict:     verdict,
		SubmittedAt: submittedAt,
	}
}

func ip(v int) *int { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT SYNC
// ══════════════════════════════════════════════════════════════════════════════

func TestSyncStudent(t *testing.T) {
	f := newIngestFixture(t)
	st := f.cfStudent(1000)
	solvedAt := f.clock.Add(-time.Hour)
	f.cf.subs = []*submission.Submission{
		cfSub("900001", submission.VerdictAccepted, solvedAt),
		cfSub("900002", submission.VerdictRejected, solvedAt.Add(10*time.Minute)),
	}
	f.cf.rating = ip(1700)
	f.cf.maxRating = ip(1850)

	report, err := f.svc.SyncStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SubmissionsFetched)
	assert.Equal(t, 2, report.SubmissionsInserted)
	assert.Equal(t, 1, report.EventsCreated, "only the accepted submission scores")
	assert.Equal(t, 1, report.RatingsRefreshed)

	assert.Equal(t, []int64{1000}, f.cf.sinceArgs, "sync resumes from the stored cursor")
	require.Len(t, f.students.cursorUpdates, 1)
	assert.Equal(t, solvedAt.Add(10*time.Minute).Unix(), f.students.cursorUpdates[0].unix,
		"cursor lands on the newest submission")

	require.Len(t, f.students.ratingUpdates, 1)
	assert.Equal(t, 1700, *f.students.ratingUpdates[0].rating)
	assert.Equal(t, 1850, *f.students.ratingUpdates[0].maxRating)
}

func TestSyncStudentNothingNew(t *testing.T) {
	f := newIngestFixture(t)
	st := f.cfStudent(1000)
	refreshedAt := f.clock.Add(-time.Hour)
	st.Codeforces.RatingRefreshedAt = &refreshedAt

	report, err := f.svc.SyncStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{}, report)
	assert.Empty(t, f.processor.batches, "no submissions, no scoring")
	assert.Empty(t, f.students.cursorUpdates)
}

func TestSyncStudentRatingRefreshInterval(t *testing.T) {
	f := newIngestFixture(t)
	st := f.cfStudent(0)
	refreshedAt := f.clock.Add(-time.Hour) // within the 12h interval
	st.Codeforces.RatingRefreshedAt = &refreshedAt

	_, err := f.svc.SyncStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Zero(t, f.cf.ratingCalls, "a fresh rating is not re-fetched")

	refreshedAt = f.clock.Add(-13 * time.Hour)
	_, err = f.svc.SyncStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cf.ratingCalls)
}

func TestSyncStudentReplayedSubmissionsScoreNothing(t *testing.T) {
	f := newIngestFixture(t)
	st := f.cfStudent(0)
	f.cf.subs = []*submission.Submission{
		cfSub("900001", submission.VerdictAccepted, f.clock.Add(-time.Hour)),
	}

	_, err := f.svc.SyncStudent(context.Background(), st)
	require.NoError(t, err)

	// Overlapping sync window returns the same submission again.
	report, err := f.svc.SyncStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SubmissionsFetched)
	assert.Zero(t, report.SubmissionsInserted)
	assert.Zero(t, report.EventsCreated)
}

func TestSyncStudentPlatformIsolation(t *testing.T) {
	f := newIngestFixture(t)
	st := f.cfStudent(0)
	st.AtCoder = &student.JudgeAccount{Handle: "anna_ac"}
	f.cf.subsErr = errors.New("codeforces is down")
	f.ac.subs = []*submission.Submission{{
		Platform:    problem.PlatformAtCoder,
		ExternalID:  "50000001",
		ProblemURL:  "https://atcoder.jp/contests/abc300/tasks/abc300_c",
		Verdict:     submission.VerdictAccepted,
		SubmittedAt: f.clock.Add(-time.Hour),
	}}

	report, err := f.svc.SyncStudent(context.Background(), st)
	require.Error(t, err, "the first platform failure is surfaced")
	assert.Equal(t, 1, report.SubmissionsInserted, "the healthy platform still syncs")
	assert.Equal(t, 1, report.EventsCreated)
}

func TestSyncAllStudents(t *testing.T) {
	f := newIngestFixture(t)
	withAccount := f.cfStudent(0)
	noAccount := &student.Student{ID: "id-b", Username: "boris", Active: true}
	inactive := f.cfStudent(0)
	inactive.ID = "id-c"
	inactive.Active = false
	f.students.students = []*student.Student{withAccount, noAccount, inactive}
	f.cf.subs = []*submission.Submission{
		cfSub("900001", submission.VerdictAccepted, f.clock.Add(-time.Hour)),
	}

	report, err := f.svc.SyncAllStudents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SubmissionsInserted)
	assert.Len(t, f.cf.sinceArgs, 1, "accountless and inactive students are skipped")
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REFRESH
// ══════════════════════════════════════════════════════════════════════════════

func TestRefreshCatalogs(t *testing.T) {
	f := newIngestFixture(t)

	makeContest := func(id string, age time.Duration) *contest.Contest {
		return &contest.Contest{
			Platform:  problem.PlatformCodeforces,
			ContestID: id,
			StartTime: f.clock.Add(-age),
		}
	}
	// Two recent contests plus five beyond the horizon; the history is
	// walked one rotating page (of two) per run.
	f.cf.contests = []*contest.Contest{
		makeContest("2001", 24*time.Hour),
		makeContest("2000", 48*time.Hour),
		makeContest("105", 3*365*24*time.Hour),
		makeContest("104", 3*365*24*time.Hour+time.Hour),
		makeContest("103", 3*365*24*time.Hour+2*time.Hour),
		makeContest("102", 3*365*24*time.Hour+3*time.Hour),
		makeContest("101", 3*365*24*time.Hour+4*time.Hour),
	}

	upserted, err := f.svc.RefreshCatalogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, upserted, "recent contests plus one history page")

	ids := make([]string, 0, len(f.contests.upserted))
	for _, c := range f.contests.upserted {
		ids = append(ids, c.ContestID)
	}
	assert.Contains(t, ids, "2001")
	assert.Contains(t, ids, "2000")

	// The next run advances to a different history page.
	f.contests.upserted = nil
	_, err = f.svc.RefreshCatalogs(context.Background())
	require.NoError(t, err)
	nextIDs := make([]string, 0, len(f.contests.upserted))
	for _, c := range f.contests.upserted {
		nextIDs = append(nextIDs, c.ContestID)
	}
	assert.NotEqual(t, ids, nextIDs)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEM SYNC
// ══════════════════════════════════════════════════════════════════════════════

func TestSyncContestProblems(t *testing.T) {
	f := newIngestFixture(t)
	c := &contest.Contest{
		Platform:  problem.PlatformCodeforces,
		ContestID: "1900",
		SyncState: contest.SyncPending,
	}
	f.contests.needingSync[problem.PlatformCodeforces] = []*contest.Contest{c}

	urlA := "https://codeforces.com/contest/1900/problem/A"
	urlB := "https://codeforces.com/contest/1900/problem/B"
	f.cf.problems["1900"] = []*contest.ContestProblem{
		{Platform: problem.PlatformCodeforces, ContestID: "1900", IndexLabel: "A",
			URL: urlA, NativeRating: ip(800)},
		{Platform: problem.PlatformCodeforces, ContestID: "1900", IndexLabel: "B",
			URL: urlB},
	}
	f.cache.entries[urlA] = &problem.CacheEntry{URL: urlA, EffectiveRating: ip(800)}

	synced, err := f.svc.SyncContestProblems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Len(t, f.problems.stored, 2)

	require.Len(t, f.seeder.seeds, 1, "only judge-rated problems are seeded")
	assert.Equal(t, seededRating{urlA, 800}, f.seeder.seeds[0])

	require.Len(t, f.contests.syncStates, 1)
	assert.Equal(t, contest.SyncDone, f.contests.syncStates[0].state)
	assert.Equal(t, contest.SummaryPartial, f.contests.syncStates[0].summary,
		"one of two problems has a usable rating")
}

func TestSyncContestProblemsEmptyList(t *testing.T) {
	f := newIngestFixture(t)
	c := &contest.Contest{
		Platform:  problem.PlatformAtCoder,
		ContestID: "abc300",
		SyncState: contest.SyncPending,
	}
	f.contests.needingSync[problem.PlatformAtCoder] = []*contest.Contest{c}

	synced, err := f.svc.SyncContestProblems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	require.Len(t, f.contests.syncStates, 1)
	assert.Equal(t, syncStateUpdate{"abc300", contest.SyncDone, contest.SummaryNone},
		f.contests.syncStates[0])
	assert.Empty(t, f.problems.stored)
}

func TestSyncContestProblemsRespectsCap(t *testing.T) {
	f := newIngestFixture(t)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("19%02d", i)
		f.contests.needingSync[problem.PlatformCodeforces] = append(
			f.contests.needingSync[problem.PlatformCodeforces],
			&contest.Contest{Platform: problem.PlatformCodeforces, ContestID: id})
	}

	synced, err := f.svc.SyncContestProblems(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
}
