package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

func TestRequireScopes_AllowsWhenNoRequiredScopes(t *testing.T) {
	require.NoError(t, RequireScopes("datadog.search", nil, nil))
}

func TestRequireScopes_AllowsAdmin(t *testing.T) {
	err := RequireScopes("datadog.request", []string{ScopeWrite}, []string{ScopeAdmin})
	require.NoError(t, err)
}

func TestRequireScopes_AllowsWhenAllScopesPresent(t *testing.T) {
	err := RequireScopes("datadog.request", []string{ScopeRead, ScopeWrite}, []string{ScopeWrite, ScopeRead})
	require.NoError(t, err)
}

func TestRequireScopes_DeniesWhenMissingScope(t *testing.T) {
	err := RequireScopes("datadog.execute", []string{ScopeExecute}, []string{ScopeRead})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing required scope(s): datadog:execute")
	require.Contains(t, err.Error(), "granted: datadog:read")
}

func TestRequireScopes_DeduplicatesAndTrimsScopes(t *testing.T) {
	err := RequireScopes("datadog.request", []string{" datadog:write ", "datadog:write"}, []string{"  datadog:write"})
	require.NoError(t, err)
}

func TestScopesForAPICall(t *testing.T) {
	require.Equal(t, []string{ScopeWrite}, ScopesForAPICall(apipolicy.ClassAllowlistedWrite))
	require.Nil(t, ScopesForAPICall(apipolicy.ClassRead))
	require.Nil(t, ScopesForAPICall(apipolicy.ClassSafePost))
	require.Nil(t, ScopesForAPICall(apipolicy.ClassDenied))
}
