package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

func TestGrantAuthorizeAPICall(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		grant     Grant
		class     apipolicy.Class
		wantInErr string
	}{
		{name: "read needs nothing", grant: Grant{}, class: apipolicy.ClassRead},
		{name: "safe post needs nothing", grant: Grant{}, class: apipolicy.ClassSafePost},
		{name: "write without scope", grant: Grant{Scopes: []string{ScopeExecute}, Confirmed: true}, class: apipolicy.ClassAllowlistedWrite, wantInErr: "datadog:write scope"},
		{name: "write without confirm", grant: Grant{Scopes: []string{ScopeWrite}}, class: apipolicy.ClassAllowlistedWrite, wantInErr: "confirm=true"},
		{name: "write with scope and confirm", grant: Grant{Scopes: []string{" datadog:write "}, Confirmed: true}, class: apipolicy.ClassAllowlistedWrite},
		{name: "admin write confirmed", grant: Grant{Scopes: []string{ScopeAdmin}, Confirmed: true}, class: apipolicy.ClassAllowlistedWrite},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.grant.AuthorizeAPICall(tc.class, "DELETE", "/api/v1/notebooks/7")
			if tc.wantInErr == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, apipolicy.ErrDenied))
			require.Contains(t, err.Error(), tc.wantInErr)
		})
	}
}

func TestGrantContext(t *testing.T) {
	require.Equal(t, Grant{}, GrantFromContext(context.Background()))

	ctx := WithGrant(context.Background(), LocalGrant(map[string]any{"confirm": true}))
	grant := GrantFromContext(ctx)
	require.True(t, grant.Confirmed)
	require.NoError(t, grant.AuthorizeAPICall(apipolicy.ClassAllowlistedWrite, "PUT", "/api/v1/notebooks/1"))

	require.False(t, LocalGrant(nil).Confirmed)
}
