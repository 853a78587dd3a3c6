package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

func newProxyFixture(t *testing.T, handler http.HandlerFunc) (*upstream, *Sessions, http.Handler) {
	t.Helper()
	up := newUpstream(t, handler)
	client := newTestClient(t, up, nil)
	sessions := NewSessions()
	return up, sessions, NewProxy(client, sessions, zerolog.Nop()).Handler()
}

func proxyRequest(handler http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestProxy_RequiresLiveToken(t *testing.T) {
	up, sessions, handler := newProxyFixture(t, nil)

	rec := proxyRequest(handler, http.MethodGet, "/api/v1/monitor", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = proxyRequest(handler, http.MethodGet, "/api/v1/monitor", "not-a-token", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _ := sessions.Open("exec-1", policy.Grant{})
	rec = proxyRequest(handler, http.MethodGet, "/api/v1/monitor", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	sessions.Close(token)
	require.Zero(t, sessions.Len())
	rec = proxyRequest(handler, http.MethodGet, "/api/v1/monitor", token, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.EqualValues(t, 1, up.hits.Load())
}

func TestProxy_ForwardsAllowedCalls(t *testing.T) {
	up, sessions, handler := newProxyFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	token, session := sessions.Open("exec-2", policy.Grant{})

	rec := proxyRequest(handler, http.MethodPost, "/api/v2/logs/events/search?page=2", token, `{"filter":{}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":[]}`, rec.Body.String())

	got := up.last.Load()
	require.Equal(t, "/api/v2/logs/events/search", got.URL.Path)
	require.Equal(t, "2", got.URL.Query().Get("page"))
	require.Equal(t, "api-key", got.Header.Get("DD-API-KEY"))
	require.Empty(t, got.Header.Get("Authorization"))
	require.Equal(t, `{"filter":{}}`, string(*up.body.Load()))

	require.Equal(t, []Call{{Method: "POST", Path: "/api/v2/logs/events/search", Status: http.StatusAccepted}}, session.Calls())
}

func TestProxy_DeniedCallsAre403Problems(t *testing.T) {
	up, sessions, handler := newProxyFixture(t, nil)
	token, session := sessions.Open("exec-3", policy.Grant{})

	cases := []struct {
		method string
		target string
	}{
		{method: http.MethodDelete, target: "/api/v1/monitor/1"},
		{method: http.MethodPut, target: "/api/v1/notebooks/42"},
		{method: http.MethodPut, target: "/api/v1/notebooks/1%2F..%2Fusers"},
		{method: "PURGE", target: "/api/v1/monitor"},
	}

	for _, tc := range cases {
		rec := proxyRequest(handler, tc.method, tc.target, token, "")
		require.Equal(t, http.StatusForbidden, rec.Code, "%s %s", tc.method, tc.target)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var problem map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		require.EqualValues(t, http.StatusForbidden, problem["status"])
		require.Contains(t, problem["detail"], "denied by API policy")
	}

	require.Zero(t, up.hits.Load())
	calls := session.Calls()
	require.Len(t, calls, len(cases))
	for _, call := range calls {
		require.True(t, call.Denied)
	}
}

func TestProxy_NonAPIPathIsNotFound(t *testing.T) {
	_, sessions, handler := newProxyFixture(t, nil)
	token, _ := sessions.Open("exec-4", policy.Grant{})

	rec := proxyRequest(handler, http.MethodGet, "/internal/debug", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy_AllowlistedWritesFollowSessionGrant(t *testing.T) {
	cases := []struct {
		name     string
		grant    policy.Grant
		wantCode int
		reason   string
	}{
		{name: "no grant", grant: policy.Grant{}, wantCode: http.StatusForbidden, reason: "datadog:write scope"},
		{
			name:     "execute scope only",
			grant:    policy.Grant{Scopes: []string{policy.ScopeRead, policy.ScopeExecute}, Confirmed: true},
			wantCode: http.StatusForbidden,
			reason:   "datadog:write scope",
		},
		{
			name:     "write scope without confirm",
			grant:    policy.Grant{Scopes: []string{policy.ScopeWrite}},
			wantCode: http.StatusForbidden,
			reason:   "confirm=true",
		},
		{
			name:     "write scope confirmed",
			grant:    policy.Grant{Scopes: []string{policy.ScopeExecute, policy.ScopeWrite}, Confirmed: true},
			wantCode: http.StatusOK,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			up := newUpstream(t, nil)
			client := newTestClient(t, up, func(cfg *Config) {
				cfg.Guard = testGuard(t, policy.ModeReadWrite)
			})
			sessions := NewSessions()
			handler := NewProxy(client, sessions, zerolog.Nop()).Handler()
			token, session := sessions.Open("exec-5", tc.grant)

			rec := proxyRequest(handler, http.MethodDelete, "/api/v1/notebooks/7", token, "")
			require.Equal(t, tc.wantCode, rec.Code)
			if tc.wantCode == http.StatusOK {
				require.EqualValues(t, 1, up.hits.Load())
				return
			}
			require.Zero(t, up.hits.Load())
			require.Contains(t, rec.Body.String(), tc.reason)
			require.True(t, session.Calls()[0].Denied)

			// Reads stay open to any session.
			rec = proxyRequest(handler, http.MethodGet, "/api/v1/notebooks/7", token, "")
			require.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestStartLoopback(t *testing.T) {
	_, sessions, handler := newProxyFixture(t, nil)
	token, _ := sessions.Open("exec-6", policy.Grant{})

	loopback, err := StartLoopback(handler, zerolog.Nop())
	require.NoError(t, err)
	defer func() { require.NoError(t, loopback.Close(context.Background())) }()
	require.True(t, strings.HasPrefix(loopback.URL, "http://127.0.0.1:"))

	req, err := http.NewRequest(http.MethodGet, loopback.URL+"/api/v1/monitor", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer":          "",
		"Basic abc":       "",
		"Bearer abc":      "abc",
		"bearer  abc ":    "abc",
		"BEARER xyz-123 ": "xyz-123",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		require.Equal(t, want, bearerToken(req), header)
	}
}
