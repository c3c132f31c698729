package scoring

import (
	"math"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ScoreEvent records a user's first accepted solve of one problem on one
// platform. Identity (user, platform, URL) is immutable and unique: later
// accepted submissions to the same problem never create a second event,
// they can only resolve this one's pending rating.
type ScoreEvent struct {
	ID         int64
	StudentID  string
	Platform   problem.Platform
	ProblemURL string

	// RawRating is null while the event is pending rating resolution.
	RawRating *int

	RatingUsedCFEquiv *int

	PointsCFRaw          int
	PointsACRaw          int
	PointsGeneralNorm    int
	PointsGeneralCFEquiv int

	InContest       bool
	BonusMultiplier float64 // multiplier actually applied, persisted
	PolicyVersion   PolicyVersion

	SolvedAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the event still awaits a rating.
func (e *ScoreEvent) Pending() bool {
	return e.RawRating == nil
}

// PointsAwarded is the headline score of the event: the CF-equivalent
// points when conversion produced something, the percentile-normalized
// points otherwise.
func (e *ScoreEvent) PointsAwarded() int {
	if e.PointsGeneralCFEquiv != 0 {
		return e.PointsGeneralCFEquiv
	}
	return e.PointsGeneralNorm
}

// Breakdown is the computed point set for one event state.
type Breakdown struct {
	RawRating            *int
	RatingUsedCFEquiv    *int
	PointsCFRaw          int
	PointsACRaw          int
	PointsGeneralNorm    int
	PointsGeneralCFEquiv int
	BonusMultiplier      float64
}

// Compute derives the full point breakdown for a solve.
//
// rawRating is the problem's rating on its own platform's scale, nil when
// unresolved. percentile is the platform percentile of rawRating, nil
// when no distribution is available. bonus is the multiplier to apply
// for in-contest solves (pass 1.0 otherwise); the value used is recorded
// in the breakdown so later recomputation replays it exactly.
func Compute(version PolicyVersion, platform problem.Platform, rawRating *int, percentile *float64, bonus float64) Breakdown {
	if bonus <= 0 {
		bonus = 1.0
	}
	b := Breakdown{RawRating: rawRating, BonusMultiplier: bonus}
	if rawRating == nil {
		return b
	}

	native := Points(version, float64(*rawRating))
	cfEquiv := *rawRating
	if platform == problem.PlatformAtCoder {
		cfEquiv = ConvertACToCF(*rawRating)
	}
	b.RatingUsedCFEquiv = &cfEquiv

	switch platform {
	case problem.PlatformCodeforces:
		b.PointsCFRaw = applyBonus(native, bonus)
	case problem.PlatformAtCoder:
		b.PointsACRaw = applyBonus(native, bonus)
	}

	b.PointsGeneralCFEquiv = applyBonus(Points(version, float64(cfEquiv)), bonus)

	if percentile != nil {
		b.PointsGeneralNorm = Points(version, UnifiedRating(*percentile))
	}

	return b
}

func applyBonus(points int, bonus float64) int {
	return int(math.Round(float64(points) * bonus))
}

// Apply writes a breakdown onto an event and returns the delta between
// the event's previous point fields and the new ones. The caller adds
// the delta to the user's aggregate; overwriting the aggregate instead
// would lose concurrent updates.
func (e *ScoreEvent) Apply(b Breakdown) Delta {
	d := Delta{
		CFRaw:          b.PointsCFRaw - e.PointsCFRaw,
		ACRaw:          b.PointsACRaw - e.PointsACRaw,
		GeneralNorm:    b.PointsGeneralNorm - e.PointsGeneralNorm,
		GeneralCFEquiv: b.PointsGeneralCFEquiv - e.PointsGeneralCFEquiv,
	}
	e.RawRating = b.RawRating
	e.RatingUsedCFEquiv = b.RatingUsedCFEquiv
	e.PointsCFRaw = b.PointsCFRaw
	e.PointsACRaw = b.PointsACRaw
	e.PointsGeneralNorm = b.PointsGeneralNorm
	e.PointsGeneralCFEquiv = b.PointsGeneralCFEquiv
	e.BonusMultiplier = b.BonusMultiplier
	return d
}

// Delta is the signed change to a user's running point totals.
type Delta struct {
	CFRaw          int
	ACRaw          int
	GeneralNorm    int
	GeneralCFEquiv int
}

// IsZero reports whether applying the delta would change nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}
