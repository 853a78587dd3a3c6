package gateway

import (
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

const apiPrefix = "/api/"

// checkPath rejects paths whose meaning could differ between the policy
// check and the upstream server. The returned error is a policy denial.
func checkPath(method, path string) error {
	reason := pathProblem(path)
	if reason == "" {
		return nil
	}
	return &apipolicy.DeniedError{Method: method, Path: path, Reason: reason}
}

func pathProblem(path string) string {
	if !strings.HasPrefix(path, apiPrefix) {
		return "path must start with " + apiPrefix
	}
	if strings.ContainsAny(path, "?#") {
		return "path must not carry a query string or fragment"
	}
	if strings.Contains(path, `\`) {
		return "path must not contain backslashes"
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return "path must not contain control characters"
		}
	}
	lower := strings.ToLower(path)
	for _, encoded := range []string{"%2f", "%5c", "%2e", "%00"} {
		if strings.Contains(lower, encoded) {
			return "path must not contain encoded separators or dots"
		}
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		switch {
		case segment == "." || segment == "..":
			return "path must not contain dot segments"
		case segment == "" && i > 0 && i < len(segments)-1:
			return "path must not contain empty segments"
		}
	}
	return ""
}
