package apipolicy

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadsAlwaysAllowed(t *testing.T) {
	t.Parallel()

	paths := []string{"", "/", "/api/v1/anything", "//weird//", "not-a-path", "/api/v2/users/{user_id}"}
	for _, method := range []string{"GET", "HEAD", "get", "Head"} {
		for _, path := range paths {
			require.True(t, AllowedAtCatalogTime(method, path), "%s %q", method, path)
			require.True(t, AllowedAtRequestTime(method, path), "%s %q", method, path)
			require.Equal(t, ClassRead, ClassifyAtRequestTime(method, path))
		}
	}
}

func TestDenyByDefault(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		path   string
	}{
		{method: "POST", path: "/api/v1/users"},
		{method: "DELETE", path: "/api/v1/dashboard/abc"},
		{method: "PUT", path: "/api/v2/users/1"},
		{method: "PATCH", path: "/api/v1/notebooks/1"},
		{method: "OPTIONS", path: "/api/v1/notebooks"},
		{method: "TRACE", path: "/"},
		{method: "", path: ""},
		{method: "", path: "/api/v1/notebooks"},
		{method: "DELETE", path: ""},
		{method: "POST", path: "/api/v2/logs/events/search/extra"},
	}
	for _, tc := range cases {
		require.False(t, AllowedAtCatalogTime(tc.method, tc.path), "%s %q", tc.method, tc.path)
		require.False(t, AllowedAtRequestTime(tc.method, tc.path), "%s %q", tc.method, tc.path)
	}
}

func TestCatalogTimeIsLiteral(t *testing.T) {
	t.Parallel()

	require.True(t, AllowedAtCatalogTime("PUT", "/api/v1/notebooks/{notebook_id}"))
	require.True(t, AllowedAtCatalogTime("put", "/api/v1/notebooks/{notebook_id}"))
	require.False(t, AllowedAtCatalogTime("PUT", "/api/v1/notebooks/123"))
	require.False(t, AllowedAtCatalogTime("PUT", "/api/v1/notebooks/{id}"))
	require.Equal(t, ClassAllowlistedWrite, ClassifyAtCatalogTime("DELETE", "/api/v1/notebooks/{notebook_id}"))
}

func TestRequestTimeMatchesTemplates(t *testing.T) {
	t.Parallel()

	require.True(t, AllowedAtRequestTime("DELETE", "/api/v1/notebooks/99"))
	require.True(t, AllowedAtRequestTime("delete", "/api/v1/notebooks/99"))
	require.False(t, AllowedAtRequestTime("DELETE", "/api/v1/notebooks"))
	require.False(t, AllowedAtRequestTime("DELETE", "/api/v1/notebooks/"))
	require.False(t, AllowedAtRequestTime("PUT", "/api/v1/notebooks/123/extra"))
	require.False(t, AllowedAtRequestTime("PUT", "/api/v1/notebooks//"))
	require.Equal(t, ClassAllowlistedWrite, ClassifyAtRequestTime("PATCH", "/api/v2/incidents/abc-1"))
}

func TestSafePostSuffix(t *testing.T) {
	t.Parallel()

	require.True(t, AllowedAtRequestTime("POST", "/api/v2/logs/events/search"))
	require.True(t, AllowedAtCatalogTime("POST", "/api/v2/logs/events/search"))
	require.Equal(t, ClassSafePost, ClassifyAtRequestTime("POST", "/api/v2/spans/analytics/aggregate"))
	require.Equal(t, ClassSafePost, ClassifyAtRequestTime("POST", "/api/v2/query/timeseries"))

	// Suffixes only relax POST.
	require.False(t, AllowedAtRequestTime("PUT", "/api/v2/logs/events/search"))
	require.False(t, AllowedAtRequestTime("DELETE", "/api/v2/logs/events/search"))
}

var paramSegment = regexp.MustCompile(`\{[^/]+\}`)

func TestCatalogAndRequestTimeAgree(t *testing.T) {
	t.Parallel()

	values := []string{"1", "48213", "abc-def", "x"}
	for _, entry := range Allowlist() {
		for _, value := range values {
			concrete := paramSegment.ReplaceAllString(entry.Path, value)
			require.Equal(t,
				AllowedAtCatalogTime(entry.Method, entry.Path),
				AllowedAtRequestTime(entry.Method, concrete),
				"%s %s -> %s", entry.Method, entry.Path, concrete,
			)
			require.True(t, AllowedAtRequestTime(entry.Method, concrete))
		}
	}
}

func TestAllowlistEntriesAreWrites(t *testing.T) {
	t.Parallel()

	for _, entry := range Allowlist() {
		require.NotContains(t, []string{"GET", "HEAD"}, entry.Method, "allowlist entry %s %s is a read", entry.Method, entry.Path)
		require.True(t, len(entry.Path) > 0 && entry.Path[0] == '/', "allowlist path %q must be absolute", entry.Path)
	}
}

func TestAllowlistIsACopy(t *testing.T) {
	t.Parallel()

	entries := Allowlist()
	require.NotEmpty(t, entries)
	entries[0].Method = "GET"
	require.NotEqual(t, "GET", Allowlist()[0].Method)

	suffixes := SafePostSuffixes()
	suffixes[0] = "/"
	require.NotEqual(t, "/", SafePostSuffixes()[0])
}

func TestDeniedError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("calling api: %w", &DeniedError{Method: "PUT", Path: "/api/v1/users/1"})
	require.True(t, errors.Is(err, ErrDenied))

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	require.Contains(t, err.Error(), "PUT /api/v1/users/1")
	require.Contains(t, err.Error(), "denied by API policy")

	withReason := &DeniedError{Method: "GET", Path: "/a/../b", Reason: "path contains a dot segment"}
	require.Contains(t, withReason.Error(), "dot segment")
	require.Equal(t, "path contains a dot segment", withReason.ReasonText())
	require.Contains(t, denied.ReasonText(), "not an allowlisted write")
}
