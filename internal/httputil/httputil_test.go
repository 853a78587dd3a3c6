package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRespondProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)

	RespondProblem(rec, req, http.StatusForbidden, "denied")

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Forbidden", problem.Title)
	require.Equal(t, http.StatusForbidden, problem.Status)
	require.Equal(t, "denied", problem.Detail)
	require.Equal(t, "/api/v1/users", problem.Instance)
}

func TestRespondProblemWith(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/v1/tools/call", nil)

	RespondProblemWith(rec, req, http.StatusForbidden, "DELETE /api/v1/monitor/1 denied", map[string]any{
		"policy": map[string]any{"class": "denied"},
		"status": 200,
	})

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, http.StatusForbidden, body["status"])
	require.Equal(t, "DELETE /api/v1/monitor/1 denied", body["detail"])
	require.Equal(t, map[string]any{"class": "denied"}, body["policy"])
}

func TestReadinessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(func() error { return errors.New("catalog not loaded") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "catalog not loaded")

	rec = httptest.NewRecorder()
	ReadinessHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareStack(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(zerolog.Nop()))
	r.Use(Recoverer)
	r.Use(SecureHeaders)
	r.Use(APIVersion("mcp/v1"))

	var seenID string
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, seenID)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "mcp/v1", rec.Header().Get("API-Version"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
