package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/ranking"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
	"github.com/maratonahub/cp-tracker/internal/domain/student"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "CP Tracker API",
		"version": "v1",
		"endpoints": []string{
			"/health",
			"/api/v1/rankings",
			"/api/v1/rankings/movers",
			"/api/v1/rankings/range",
			"/api/v1/rankings/activity",
			"/api/v1/students/{id}",
			"/api/v1/students/{id}/position",
			"/api/v1/stats/ratings",
		},
	}
	writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	status.Uptime = s.Uptime().String()
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady handles GET /ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles GET /live.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// rankingKeyFromQuery parses mode/category/window query parameters into
// a ranking key. Rating rankings only exist for the all-time window.
func rankingKeyFromQuery(r *http.Request) (ranking.Key, string) {
	mode := ranking.Mode(queryParam(r, "mode", string(ranking.ModePoints)))
	if mode != ranking.ModePoints && mode != ranking.ModeRating {
		return ranking.Key{}, "unknown mode"
	}

	category, ok := scoring.ParseCategory(queryParam(r, "category", string(scoring.CategoryOverall)))
	if !ok {
		return ranking.Key{}, "unknown category"
	}

	window := scoring.WindowAll
	if mode == ranking.ModePoints {
		window, ok = scoring.ParseWindow(queryParam(r, "window", string(scoring.WindowAll)))
		if !ok {
			return ranking.Key{}, "unknown window"
		}
	}

	return ranking.Key{Mode: mode, Category: category, Window: window, Scope: ranking.ScopeGlobal}, ""
}

// handleRankings handles GET /api/v1/rankings.
func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	key, msg := rankingKeyFromQuery(r)
	if msg != "" {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	page := queryParamInt(r, "page", 1)
	pageSize := queryParamInt(r, "page_size", 50)
	if page < 1 || pageSize < 1 || pageSize > 200 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "page must be >= 1 and page_size in 1..200")
		return
	}

	rows, total, err := s.deps.Rankings.Page(r.Context(), key, page, pageSize)
	if err != nil {
		s.logger.Error("ranking page failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load ranking")
		return
	}

	meta := &ResponseMeta{
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		HasMore:    page*pageSize < total,
	}
	writeJSONWithMeta(w, r, http.StatusOK, rows, meta)
}

// handleTopMovers handles GET /api/v1/rankings/movers.
func (s *Server) handleTopMovers(w http.ResponseWriter, r *http.Request) {
	key, msg := rankingKeyFromQuery(r)
	if msg != "" {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	limit := queryParamInt(r, "limit", 10)
	minAgeHours := queryParamInt(r, "min_age_hours", 20)

	movers, err := s.deps.Rankings.TopMovers(r.Context(), key, time.Duration(minAgeHours)*time.Hour, limit)
	if err != nil {
		s.logger.Error("top movers failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load movers")
		return
	}
	writeJSON(w, r, http.StatusOK, movers)
}

// handleRankingRange handles GET /api/v1/rankings/range. It builds a
// points ranking over an arbitrary [from, to) interval directly from the
// event log, bypassing snapshots.
func (s *Server) handleRankingRange(w http.ResponseWriter, r *http.Request) {
	category, ok := scoring.ParseCategory(queryParam(r, "category", string(scoring.CategoryOverall)))
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "unknown category")
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "from must be RFC 3339 or YYYY-MM-DD")
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "to must be RFC 3339 or YYYY-MM-DD")
		return
	}
	if from.IsZero() || to.IsZero() || !to.After(from) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "from and to are required and from must precede to")
		return
	}

	rows, err := s.deps.Rankings.BuildRange(r.Context(), category, from, to)
	if err != nil {
		s.logger.Error("range ranking failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to build ranking")
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, rows, &ResponseMeta{TotalCount: len(rows)})
}

// handleActivityRanking handles GET /api/v1/rankings/activity: students
// ordered by distinct solve days over the trailing N days, solve count
// breaking ties.
func (s *Server) handleActivityRanking(w http.ResponseWriter, r *http.Request) {
	days := queryParamInt(r, "days", 30)
	if days < 1 || days > 365 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "days must be in 1..365")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	rows, err := s.deps.Rankings.BuildActivity(r.Context(), from, to)
	if err != nil {
		s.logger.Error("activity ranking failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to build ranking")
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, rows, &ResponseMeta{TotalCount: len(rows)})
}

func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// studentSummary is the response shape of GET /api/v1/students/{id}.
type studentSummary struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Active   bool            `json:"active"`
	Accounts []judgeAccount  `json:"accounts"`
	Points   *pointsBlock    `json:"points,omitempty"`
	Recent   []recentSolve   `json:"recent_solves,omitempty"`
	Totals   *activityTotals `json:"totals,omitempty"`
}

type judgeAccount struct {
	Platform  string `json:"platform"`
	Handle    string `json:"handle"`
	Rating    *int   `json:"rating,omitempty"`
	MaxRating *int   `json:"max_rating,omitempty"`
}

type pointsBlock struct {
	Total   scoring.PointSet `json:"total"`
	Last7d  scoring.PointSet `json:"last_7d"`
	Last30d scoring.PointSet `json:"last_30d"`
	Season  scoring.PointSet `json:"season"`
}

type recentSolve struct {
	Platform   string    `json:"platform"`
	ProblemURL string    `json:"problem_url"`
	Rating     *int      `json:"rating,omitempty"`
	Points     int       `json:"points"`
	InContest  bool      `json:"in_contest"`
	Pending    bool      `json:"pending"`
	SolvedAt   time.Time `json:"solved_at"`
}

type activityTotals struct {
	Submissions int `json:"submissions"`
	Solves      int `json:"solves"`
}

// handleStudentSummary handles GET /api/v1/students/{id}.
func (s *Server) handleStudentSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	st, err := s.deps.Students.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, student.ErrNotFound) {
			writeJSONError(w, r, http.StatusNotFound, "not_found", "student not found")
			return
		}
		s.logger.Error("student lookup failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load student")
		return
	}

	summary := studentSummary{
		ID:       st.ID,
		Username: string(st.Username),
		Active:   st.Active,
	}
	if st.Codeforces != nil {
		summary.Accounts = append(summary.Accounts, judgeAccount{
			Platform:  string(problem.PlatformCodeforces),
			Handle:    string(st.Codeforces.Handle),
			Rating:    st.Codeforces.Rating,
			MaxRating: st.Codeforces.MaxRating,
		})
	}
	if st.AtCoder != nil {
		summary.Accounts = append(summary.Accounts, judgeAccount{
			Platform:  string(problem.PlatformAtCoder),
			Handle:    string(st.AtCoder.Handle),
			Rating:    st.AtCoder.Rating,
			MaxRating: st.AtCoder.MaxRating,
		})
	}

	agg, err := s.deps.Aggregates.Get(ctx, st.ID)
	if err != nil {
		s.logger.Error("aggregate lookup failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load points")
		return
	}
	summary.Points = &pointsBlock{
		Total:   agg.Total,
		Last7d:  agg.Last7d,
		Last30d: agg.Last30d,
		Season:  agg.Season,
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	events, err := s.deps.Events.ListByStudent(ctx, st.ID, since)
	if err != nil {
		s.logger.Error("event list failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load solves")
		return
	}
	const maxRecent = 20
	for _, e := range events {
		if len(summary.Recent) == maxRecent {
			break
		}
		summary.Recent = append(summary.Recent, recentSolve{
			Platform:   string(e.Platform),
			ProblemURL: e.ProblemURL,
			Rating:     e.RawRating,
			Points:     e.PointsAwarded(),
			InContest:  e.InContest,
			Pending:    e.Pending(),
			SolvedAt:   e.SolvedAt,
		})
	}

	if subCount, err := s.deps.Submissions.CountByStudent(ctx, st.ID); err == nil {
		solves := 0
		if allEvents, err := s.deps.Events.ListByStudent(ctx, st.ID, time.Time{}); err == nil {
			solves = len(allEvents)
		}
		summary.Totals = &activityTotals{Submissions: subCount, Solves: solves}
	}

	writeJSON(w, r, http.StatusOK, summary)
}

// handleStudentPosition handles GET /api/v1/students/{id}/position.
func (s *Server) handleStudentPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	key, msg := rankingKeyFromQuery(r)
	if msg != "" {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	radius := queryParamInt(r, "radius", 2)
	if radius < 0 || radius > 25 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "radius must be in 0..25")
		return
	}

	row, around, err := s.deps.Rankings.Position(r.Context(), key, id, radius)
	if err != nil {
		if errors.Is(err, ranking.ErrNoSnapshot) {
			writeJSONError(w, r, http.StatusNotFound, "not_found", "student is not ranked")
			return
		}
		s.logger.Error("position lookup failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load position")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"row":    row,
		"around": around,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RATING PIPELINE STATS
// ══════════════════════════════════════════════════════════════════════════════

// handleRatingStats handles GET /api/v1/stats/ratings: per-platform
// rating distribution summaries plus cache and fetch-queue state.
func (s *Server) handleRatingStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]interface{}{}

	distributions := map[string]interface{}{}
	for _, platform := range []problem.Platform{problem.PlatformCodeforces, problem.PlatformAtCoder} {
		summary, err := s.deps.Percentiles.Summary(ctx, platform)
		if err != nil {
			s.logger.Warn("distribution summary failed",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()))
			continue
		}
		distributions[string(platform)] = summary
	}
	out["distributions"] = distributions

	counts, err := s.deps.Ratings.CacheCounts(ctx)
	if err != nil {
		s.logger.Error("cache counts failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load cache stats")
		return
	}
	byStatus := map[string]int{}
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	out["cache"] = byStatus

	depth, err := s.deps.Ratings.QueueDepth(ctx)
	if err != nil {
		s.logger.Error("queue depth failed", slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "failed to load queue stats")
		return
	}
	out["queue_depth"] = depth

	writeJSON(w, r, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// handleListJobs handles GET /api/v1/admin/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "scheduler is not attached to this process")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Scheduler.ListJobs())
}

// handleJobHistory handles GET /api/v1/admin/jobs/history.
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "scheduler is not attached to this process")
		return
	}
	limit := queryParamInt(r, "limit", 50)
	writeJSON(w, r, http.StatusOK, s.deps.Scheduler.GetHistory(limit))
}

// handleRunJob handles POST /api/v1/admin/jobs/{name}/run.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "scheduler is not attached to this process")
		return
	}
	name := chi.URLParam(r, "name")

	result, err := s.deps.Scheduler.RunNow(r.Context(), name)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeJSONError(w, r, http.StatusNotFound, "not_found", "no such job")
			return
		}
		if errors.Is(err, scheduler.ErrJobBusy) {
			writeJSONError(w, r, http.StatusConflict, "conflict", "job is already running")
			return
		}
		s.logger.Error("manual job run failed",
			slog.String("job", name),
			slog.String("error", err.Error()))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "job execution failed")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}
