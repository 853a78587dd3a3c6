package apipolicy

import "strings"

// MatchPath reports whether concretePath fits the templated path.
//
// Template segments written as {name} match exactly one non-empty concrete
// segment. All other segments compare byte-for-byte. Paths with a different
// number of segments never match.
func MatchPath(template, concretePath string) bool {
	want := strings.Split(template, "/")
	got := strings.Split(concretePath, "/")
	if len(want) != len(got) {
		return false
	}

	for i, segment := range want {
		if isParamSegment(segment) {
			if got[i] == "" {
				return false
			}
			continue
		}
		if segment != got[i] {
			return false
		}
	}
	return true
}

func isParamSegment(segment string) bool {
	return len(segment) >= 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}
