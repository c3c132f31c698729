package clist

// ProblemDTO is one problem object from the aggregator's /problem
// endpoint. Rating is a pointer: the aggregator indexes problems before
// it has computed a difficulty for them, and a present-but-null rating
// is not usable output.
type ProblemDTO struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Rating *int   `json:"rating"`
	URL    string `json:"url"`
}

// MetaDTO is the pagination envelope of a list response.
type MetaDTO struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	TotalCount *int `json:"total_count"`
}

// problemListResponse is the wire shape of a /problem query.
type problemListResponse struct {
	Meta    MetaDTO      `json:"meta"`
	Objects []ProblemDTO `json:"objects"`
}
