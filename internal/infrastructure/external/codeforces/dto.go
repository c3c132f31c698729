package codeforces

// apiResponse is the Codeforces API envelope. Status is "OK" or
// "FAILED"; Comment carries the failure reason.
type apiResponse[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  T      `json:"result"`
}

// ContestDTO is one contest from contest.list.
type ContestDTO struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Phase            string `json:"phase"`
	DurationSeconds  int64  `json:"durationSeconds"`
	StartTimeSeconds *int64 `json:"startTimeSeconds"`
}

// ProblemDTO is a problem reference inside a submission or a
// contest.standings problem list.
type ProblemDTO struct {
	ContestID *int64 `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    *int   `json:"rating"`
}

// SubmissionDTO is one submission from user.status.
type SubmissionDTO struct {
	ID                  int64      `json:"id"`
	ContestID           *int64     `json:"contestId"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Problem             ProblemDTO `json:"problem"`
	Verdict             string     `json:"verdict"`
}

// UserDTO is one user from user.info.
type UserDTO struct {
	Handle    string `json:"handle"`
	Rating    *int   `json:"rating"`
	MaxRating *int   `json:"maxRating"`
}

// standingsResult is the slice of contest.standings we consume: the
// problem list only, rows are requested with count=1 to keep the
// payload small.
type standingsResult struct {
	Contest  ContestDTO   `json:"contest"`
	Problems []ProblemDTO `json:"problems"`
}
