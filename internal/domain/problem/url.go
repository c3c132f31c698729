package problem

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a problem URL: trims whitespace, strips the
// query string and fragment, and removes trailing slashes from the path.
// Scheme, host and path are preserved as-is. The function is idempotent:
// NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		// Not parseable as a URL; the best we can do is trim the obvious.
		return strings.TrimRight(raw, "/")
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed.String()
}

// BuildURLFromFields reconstructs a canonical problem URL from structured
// submission fields. Returns "" when the platform is unrecognized or a
// required field is missing; it never fails louder than that, because
// callers treat an unbuildable URL as "skip this submission".
//
// For AtCoder the task id embedded in the URL is taken from the name hint
// when it already looks like a kenkoooo problem id (contains "_"), since
// contest id and index alone produce the wrong id for older contests.
func BuildURLFromFields(platform Platform, contestID, index, nameHint string) string {
	switch platform {
	case PlatformCodeforces:
		if contestID == "" || index == "" {
			return ""
		}
		return NormalizeURL(fmt.Sprintf("https://codeforces.com/contest/%s/problem/%s", contestID, index))

	case PlatformAtCoder:
		if contestID == "" || index == "" {
			return ""
		}
		taskID := nameHint
		if taskID == "" || !strings.Contains(taskID, "_") {
			taskID = fmt.Sprintf("%s_%s", contestID, strings.ToLower(index))
		}
		return NormalizeURL(fmt.Sprintf("https://atcoder.jp/contests/%s/tasks/%s", contestID, taskID))
	}

	return ""
}

// MirrorURLVariants returns the alternate URL forms under which the
// difficulty aggregator might have indexed a Codeforces problem. The
// aggregator stores exactly one canonical form per problem, so a lookup by
// the contest-path form can miss a problem indexed under the problemset
// form (and vice versa), and index case occasionally differs. The input URL
// itself is not included. For non-Codeforces URLs it returns nil.
func MirrorURLVariants(problemURL string) []string {
	parsed, err := url.Parse(problemURL)
	if err != nil || !strings.Contains(parsed.Host, "codeforces.com") {
		return nil
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")

	var contestID, index string
	switch {
	case len(segments) == 4 && segments[0] == "contest" && segments[2] == "problem":
		contestID, index = segments[1], segments[3]
	case len(segments) == 4 && segments[0] == "problemset" && segments[1] == "problem":
		contestID, index = segments[2], segments[3]
	default:
		return nil
	}

	base := "https://" + parsed.Host
	candidates := []string{
		fmt.Sprintf("%s/contest/%s/problem/%s", base, contestID, index),
		fmt.Sprintf("%s/problemset/problem/%s/%s", base, contestID, index),
		fmt.Sprintf("%s/contest/%s/problem/%s", base, contestID, strings.ToUpper(index)),
		fmt.Sprintf("%s/problemset/problem/%s/%s", base, contestID, strings.ToUpper(index)),
		fmt.Sprintf("%s/contest/%s/problem/%s", base, contestID, strings.ToLower(index)),
		fmt.Sprintf("%s/problemset/problem/%s/%s", base, contestID, strings.ToLower(index)),
	}

	seen := map[string]struct{}{NormalizeURL(problemURL): {}}
	variants := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		normalized := NormalizeURL(candidate)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		variants = append(variants, normalized)
	}

	return variants
}
