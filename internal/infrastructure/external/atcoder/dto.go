package atcoder

// SubmissionDTO is one entry from kenkoooo's
// /atcoder-api/v3/user/submissions feed.
type SubmissionDTO struct {
	ID            int64   `json:"id"`
	EpochSecond   int64   `json:"epoch_second"`
	ProblemID     string  `json:"problem_id"`
	ContestID     string  `json:"contest_id"`
	UserID        string  `json:"user_id"`
	Language      string  `json:"language"`
	Point         float64 `json:"point"`
	Result        string  `json:"result"`
	ExecutionTime *int    `json:"execution_time"`
}

// ContestDTO is one entry from /resources/contests.json.
type ContestDTO struct {
	ID               string `json:"id"`
	StartEpochSecond int64  `json:"start_epoch_second"`
	DurationSecond   int64  `json:"duration_second"`
	Title            string `json:"title"`
	RateChange       string `json:"rate_change"`
}

// ProblemDTO is one entry from /resources/problems.json. The index
// label ("A", "Ex") is carried in the title prefix, split by the mapper.
type ProblemDTO struct {
	ID           string `json:"id"`
	ContestID    string `json:"contest_id"`
	ProblemIndex string `json:"problem_index"`
	Name         string `json:"name"`
	Title        string `json:"title"`
}

// ProblemModelDTO is one value from /resources/problem-models.json,
// keyed by problem id. Difficulty is absent for problems kenkoooo has
// not fit a model for.
type ProblemModelDTO struct {
	Slope        *float64 `json:"slope"`
	Intercept    *float64 `json:"intercept"`
	Difficulty   *int     `json:"difficulty"`
	IsExperiment bool     `json:"is_experimental"`
}

// RatingHistoryEntryDTO is one entry of the official site's
// /users/{user}/history/json feed.
type RatingHistoryEntryDTO struct {
	NewRating     int    `json:"NewRating"`
	OldRating     int    `json:"OldRating"`
	Place         int    `json:"Place"`
	ContestName   string `json:"ContestName"`
	EndTime       string `json:"EndTime"`
	IsRated       bool   `json:"IsRated"`
	ContestScreen string `json:"ContestScreenName"`
}
