package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
	"github.com/codemode-mcp/datadog-mcp/internal/httputil"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

func registerHealthRoutes(r chi.Router, version, commit, buildDate string, ready func() error, metricsHandler http.Handler) {
	if ready == nil {
		ready = func() error { return nil }
	}
	r.Method(http.MethodGet, "/health", httputil.HealthHandler())
	r.Method(http.MethodGet, "/readiness", httputil.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/version", httputil.VersionHandler(version, commit, buildDate))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
}

type policyToolStatus struct {
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
}

type policyEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type policyStatus struct {
	Mode              string             `json:"mode"`
	WritesForwarded   bool               `json:"writesForwarded"`
	AllowlistedWrites []policyEndpoint   `json:"allowlistedWrites"`
	SafePostSuffixes  []string           `json:"safePostSuffixes"`
	Tools             []policyToolStatus `json:"tools"`
}

// policyHandler reports what this server will forward: the mode, the write
// allowlist and which tools the mode admits. It carries no secrets.
func policyHandler(registry *ToolRegistry, authorizer ToolAuthorizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mode := resolvedMode(authorizer)
		status := policyStatus{
			Mode:             mode,
			WritesForwarded:  mode == policy.ModeReadWrite,
			SafePostSuffixes: apipolicy.SafePostSuffixes(),
		}
		for _, entry := range apipolicy.Allowlist() {
			status.AllowlistedWrites = append(status.AllowlistedWrites, policyEndpoint{Method: entry.Method, Path: entry.Path})
		}
		for _, tool := range registry.List() {
			entry := policyToolStatus{Name: tool.Name, Capability: tool.Capability, Allowed: true}
			if err := authorizeToolCall(authorizer, tool); err != nil {
				entry.Allowed = false
				entry.Reason = err.Error()
			}
			status.Tools = append(status.Tools, entry)
		}
		httputil.RespondJSON(w, http.StatusOK, status)
	})
}
