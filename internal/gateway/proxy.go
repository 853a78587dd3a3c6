package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
	"github.com/codemode-mcp/datadog-mcp/internal/httputil"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

const (
	maxProxyRequestBody = 1 << 20
	truncatedHeader     = "X-Datadog-MCP-Truncated"
)

// Doer sends one gateway request.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Call records one API call made during an execution.
type Call struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Status int    `json:"status,omitempty"`
	Denied bool   `json:"denied,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Session is the proxy-side state of one execution.
type Session struct {
	ExecutionID string
	Grant       policy.Grant

	mu    sync.Mutex
	calls []Call
}

// Calls returns a copy of the calls recorded so far.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Session) record(call Call) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// Sessions maps per-execution bearer tokens to sessions.
type Sessions struct {
	mu      sync.RWMutex
	byToken map[string]*Session
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{byToken: map[string]*Session{}}
}

// Open registers a new session and returns its bearer token. Calls made
// with the token are held to grant.
func (s *Sessions) Open(executionID string, grant policy.Grant) (string, *Session) {
	token := uuid.NewString()
	session := &Session{ExecutionID: executionID, Grant: grant}

	s.mu.Lock()
	s.byToken[token] = session
	s.mu.Unlock()
	return token, session
}

// Close revokes token. Later requests carrying it are rejected.
func (s *Sessions) Close(token string) {
	s.mu.Lock()
	delete(s.byToken, token)
	s.mu.Unlock()
}

// Len reports the number of open sessions, exported as a gauge.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}

func (s *Sessions) lookup(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byToken[token]
	return session, ok
}

// Proxy exposes the gateway over HTTP to code running in an execution. It
// forwards /api/* requests carrying a live execution token.
type Proxy struct {
	client   Doer
	sessions *Sessions
	logger   zerolog.Logger
}

// NewProxy builds a proxy over client.
func NewProxy(client Doer, sessions *Sessions, logger zerolog.Logger) *Proxy {
	return &Proxy{
		client:   client,
		sessions: sessions,
		logger:   logger.With().Str("component", "gateway_proxy").Logger(),
	}
}

// Handler returns the proxy router.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.Recoverer)
	r.Use(httputil.BodyLimit(maxProxyRequestBody))

	r.HandleFunc("/api/*", p.handleAPI)
	// Unknown methods still get a policy answer rather than a bare 405.
	r.MethodNotAllowed(p.handleAPI)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondProblem(w, r, http.StatusNotFound, "only "+apiPrefix+" paths are proxied")
	})
	return r
}

func (p *Proxy) handleAPI(w http.ResponseWriter, r *http.Request) {
	session, ok := p.sessions.lookup(bearerToken(r))
	if !ok {
		httputil.RespondProblem(w, r, http.StatusUnauthorized, "missing or invalid execution token")
		return
	}

	method := strings.ToUpper(r.Method)
	path := r.URL.Path
	if err := checkPath(method, r.URL.EscapedPath()); err != nil {
		p.reject(w, r, session, method, path, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.RespondProblem(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	resp, err := p.client.Do(r.Context(), Request{
		Method:      method,
		Path:        path,
		Query:       r.URL.Query(),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		ExecutionID: session.ExecutionID,
		Grant:       &session.Grant,
	})
	if err != nil {
		p.reject(w, r, session, method, path, err)
		return
	}

	session.record(Call{Method: method, Path: path, Status: resp.Status})
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.Truncated {
		w.Header().Set(truncatedHeader, "true")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (p *Proxy) reject(w http.ResponseWriter, r *http.Request, session *Session, method, path string, err error) {
	var denied *apipolicy.DeniedError
	if errors.As(err, &denied) {
		session.record(Call{Method: method, Path: path, Denied: true, Error: denied.Error()})
		httputil.RespondProblem(w, r, http.StatusForbidden, denied.Error())
		return
	}

	session.record(Call{Method: method, Path: path, Error: err.Error()})
	status := http.StatusBadGateway
	if errors.Is(err, ErrNoCredentials) {
		status = http.StatusServiceUnavailable
	}
	p.logger.Warn().Err(err).Str("execution_id", session.ExecutionID).Msg("proxied call failed")
	httputil.RespondProblem(w, r, status, err.Error())
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// Loopback serves a handler on an ephemeral 127.0.0.1 port.
type Loopback struct {
	URL    string
	server *http.Server
}

// StartLoopback binds a loopback listener and serves handler on it in the
// background.
func StartLoopback(handler http.Handler, logger zerolog.Logger) (*Loopback, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding loopback listener: %w", err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("gateway loopback stopped")
		}
	}()

	return &Loopback{URL: "http://" + listener.Addr().String(), server: server}, nil
}

// Close stops the loopback server.
func (l *Loopback) Close(ctx context.Context) error {
	if l == nil || l.server == nil {
		return nil
	}
	return l.server.Shutdown(ctx)
}
