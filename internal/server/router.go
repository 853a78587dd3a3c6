package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/codemode-mcp/datadog-mcp/internal/config"
	"github.com/codemode-mcp/datadog-mcp/internal/httputil"
	"github.com/codemode-mcp/datadog-mcp/internal/metrics"
)

const maxRequestBodyBytes = 1 << 20

// HTTPServer wraps MCP HTTP routing state.
type HTTPServer struct {
	cfg      config.Config
	version  string
	commit   string
	build    string
	contract []byte
	registry *ToolRegistry
	policy   ToolAuthorizer
	authn    SessionAuthenticator
	caller   ToolCaller
	metrics  *metrics.Metrics
	ready    func() error
	logger   zerolog.Logger
}

// NewHTTPServer creates an HTTP transport server with health, policy and MCP
// routes. ready backs /readiness; nil means always ready. /policy is
// unauthenticated and reports only what the server forwards.
func NewHTTPServer(
	cfg config.Config,
	version, commit, buildDate string,
	contract []byte,
	registry *ToolRegistry,
	policy ToolAuthorizer,
	authn SessionAuthenticator,
	caller ToolCaller,
	m *metrics.Metrics,
	ready func() error,
	logger zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		cfg:      cfg,
		version:  version,
		commit:   commit,
		build:    buildDate,
		contract: contract,
		registry: registry,
		policy:   policy,
		authn:    authn,
		caller:   caller,
		metrics:  m,
		ready:    ready,
		logger:   logger,
	}
}

// Router builds the MCP HTTP router.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(httputil.RequestID)
	r.Use(httputil.RequestLogger(s.logger))
	r.Use(httputil.Recoverer)
	r.Use(httputil.SecureHeaders)
	r.Use(httputil.BodyLimit(maxRequestBodyBytes))
	r.Use(httputil.APIVersion("mcp/v1"))

	var metricsHandler http.Handler
	if s.cfg.MetricsEnabled && s.metrics != nil {
		metricsHandler = s.metrics.Handler()
	}
	registerHealthRoutes(r, s.version, s.commit, s.build, s.ready, metricsHandler)
	r.Method(http.MethodGet, "/policy", policyHandler(s.registry, s.policy))
	registerMCPHTTPRoutes(r, s.registry, s.policy, s.authn, s.caller, s.version, s.logger)

	r.Get("/api/tools.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(s.contract)
	})

	return r
}
