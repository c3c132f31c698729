// Package scoring holds the pure point computation rules: rating to
// points policies, the AC to CF scale conversion, score events and the
// per-user aggregates they roll up into. No I/O lives here.
package scoring

import (
	"math"
	"time"
)

// PolicyVersion names a points formula. The version applied is persisted
// on every score event so historical events stay recomputable after a
// policy change.
type PolicyVersion string

const (
	// PolicyLinearV2 awards the rating itself as points.
	PolicyLinearV2 PolicyVersion = "linear_v2"

	// PolicyCurvedV1 is the earlier curved formula, kept so events scored
	// under it can still be recomputed faithfully.
	PolicyCurvedV1 PolicyVersion = "curved_v1"
)

// DefaultPolicy is applied to newly created events.
const DefaultPolicy = PolicyLinearV2

// Points converts a resolved rating into points under the given policy.
// Unknown versions fall back to the current default.
func Points(version PolicyVersion, rating float64) int {
	switch version {
	case PolicyCurvedV1:
		t := (rating - 800) / 100
		if t < 0 {
			t = 0
		} else if t > 25 {
			t = 25
		}
		return int(math.Round(12 + 7*math.Pow(t, 1.35)))
	default:
		if rating < 0 {
			return 0
		}
		return int(math.Round(rating))
	}
}

// Coefficients of the AtCoder-to-Codeforces linear fit. Fit offline on
// dual-rated problems; refitting is a manual maintenance action, not
// automatic. Snapshots of the dual-rated sample are recorded so a refit
// has data to argue from.
const (
	ConversionSlope     = 0.763
	ConversionIntercept = 760.0
)

// ConvertACToCF projects an AtCoder difficulty onto the Codeforces scale
// with the fixed linear fit, clamped to non-negative.
func ConvertACToCF(acRating int) int {
	cf := int(math.Round(float64(acRating)*ConversionSlope + ConversionIntercept))
	if cf < 0 {
		return 0
	}
	return cf
}

// ConversionSnapshot is one recorded observation of the conversion
// model's state: the coefficients in force and the dual-rated sample
// they could be refit against.
type ConversionSnapshot struct {
	Direction   string
	SampleCount int
	Slope       float64
	Intercept   float64
	TakenAt     time.Time
}

// DirectionACToCF is the only conversion direction currently modeled.
const DirectionACToCF = "ac_to_cf"

// UnifiedRating maps a platform percentile onto the synthetic 1000-3000
// scale used for cross-platform normalized points.
func UnifiedRating(percentile float64) float64 {
	if percentile < 0 {
		percentile = 0
	} else if percentile > 1 {
		percentile = 1
	}
	return 1000 + 2000*percentile
}

// ContestBonusMultiplier is applied to native and CF-equivalent points
// for solves landed inside a live contest window.
const ContestBonusMultiplier = 1.10
