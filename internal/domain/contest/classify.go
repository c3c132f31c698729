package contest

import (
	"strings"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// Kind buckets contests by their division or series, used for filtering
// and for deciding which rounds are worth eager problem sync.
type Kind string

const (
	KindDiv1        Kind = "div1"
	KindDiv2        Kind = "div2"
	KindDiv3        Kind = "div3"
	KindDiv4        Kind = "div4"
	KindCombined    Kind = "div1_div2"
	KindEducational Kind = "educational"
	KindGlobal      Kind = "global"
	KindABC         Kind = "abc"
	KindARC         Kind = "arc"
	KindAGC         Kind = "agc"
	KindAHC         Kind = "ahc"
	KindOther       Kind = "other"
)

// Classify derives a contest Kind from its platform, id and name.
// AtCoder series are encoded in the contest id prefix; Codeforces
// divisions only appear in the display name.
func Classify(platform problem.Platform, contestID, name string) Kind {
	switch platform {
	case problem.PlatformAtCoder:
		id := strings.ToLower(contestID)
		switch {
		case strings.HasPrefix(id, "abc"):
			return KindABC
		case strings.HasPrefix(id, "arc"):
			return KindARC
		case strings.HasPrefix(id, "agc"):
			return KindAGC
		case strings.HasPrefix(id, "ahc"):
			return KindAHC
		}
		return KindOther

	case problem.PlatformCodeforces:
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "educational"):
			return KindEducational
		case strings.Contains(lower, "global round"):
			return KindGlobal
		case strings.Contains(lower, "div. 1 + div. 2"),
			strings.Contains(lower, "div.1 + div.2"):
			return KindCombined
		case strings.Contains(lower, "div. 1"), strings.Contains(lower, "div.1"):
			return KindDiv1
		case strings.Contains(lower, "div. 2"), strings.Contains(lower, "div.2"):
			return KindDiv2
		case strings.Contains(lower, "div. 3"), strings.Contains(lower, "div.3"):
			return KindDiv3
		case strings.Contains(lower, "div. 4"), strings.Contains(lower, "div.4"):
			return KindDiv4
		}
		return KindOther
	}

	return KindOther
}
