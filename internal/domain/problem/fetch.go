package problem

// FetchResult is what a rating source answered for one problem URL.
// Status drives the cache transition; the remaining fields are only
// meaningful when Status is StatusOK.
type FetchResult struct {
	Status RatingStatus

	// Rating is the problem's rating on its own platform's scale.
	Rating *int

	// ExternalID is the source's identifier for the problem, used for
	// conflict detection across URL spellings.
	ExternalID string

	// ProblemName is the source's display name, kept for alias healing.
	ProblemName string

	// ResolvedURL is the URL spelling the source actually answered for,
	// when a mirror variant matched instead of the requested one. Empty
	// when the requested URL matched directly.
	ResolvedURL string

	// Err carries detail for TEMP_FAIL and error statuses.
	Err string
}
