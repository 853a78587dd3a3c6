// Package gateway is the single path from this server to the Datadog API.
// Every call is classified by the API policy and the mode guard before any
// network I/O happens.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
	"github.com/codemode-mcp/datadog-mcp/internal/audit"
	"github.com/codemode-mcp/datadog-mcp/internal/auth"
	"github.com/codemode-mcp/datadog-mcp/internal/metrics"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 4 << 20
	defaultUserAgent        = "datadog-mcp"
)

// ErrNoCredentials is returned for allowed calls when no API and
// application key pair is configured.
var ErrNoCredentials = errors.New("datadog credentials are not configured")

// Config wires a Client.
type Config struct {
	BaseURL          string
	Credentials      auth.Credentials
	HTTPClient       *http.Client
	Timeout          time.Duration
	MaxResponseBytes int64
	Limiter          *rate.Limiter
	Guard            *policy.Guard
	Metrics          *metrics.Metrics
	Audit            *audit.Logger
	Logger           zerolog.Logger
	UserAgent        string
}

// Request is one Datadog API call. Path must not carry a query string;
// parameters go in Query.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	ExecutionID string
	// Grant, when set, further limits the call to what the originating
	// tool caller was authorized for.
	Grant *policy.Grant
}

// Response is an upstream answer of any status.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Truncated   bool
	Class       apipolicy.Class
	Duration    time.Duration
}

// Client sends policy-checked requests to the Datadog API.
type Client struct {
	baseURL     *url.URL
	credentials auth.Credentials
	httpClient  *http.Client
	timeout     time.Duration
	maxBytes    int64
	limiter     *rate.Limiter
	guard       *policy.Guard
	metrics     *metrics.Metrics
	audit       *audit.Logger
	logger      zerolog.Logger
	userAgent   string
}

// New validates cfg and returns a Client. Missing credentials are not an
// error here so that policy decisions still work without them.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parsing API base URL: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("API base URL %q must be an absolute http(s) URL", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	// Keys travel in headers; a redirect must never carry them elsewhere.
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:     base,
		credentials: cfg.Credentials,
		httpClient:  httpClient,
		timeout:     timeout,
		maxBytes:    maxBytes,
		limiter:     cfg.Limiter,
		guard:       cfg.Guard,
		metrics:     cfg.Metrics,
		audit:       cfg.Audit,
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		userAgent:   userAgent,
	}, nil
}

// Authorize runs every pre-network check for a call and returns its class.
// A denial is always an *apipolicy.DeniedError.
func (c *Client) Authorize(method, path string) (apipolicy.Class, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if err := checkPath(method, path); err != nil {
		return apipolicy.ClassDenied, err
	}
	class := apipolicy.ClassifyAtRequestTime(method, path)
	if class == apipolicy.ClassDenied {
		return class, &apipolicy.DeniedError{Method: method, Path: path}
	}
	if err := c.guard.AuthorizeAPICall(class, method, path); err != nil {
		return apipolicy.ClassDenied, err
	}
	return class, nil
}

// Do authorizes req and, when allowed, sends it upstream. Non-2xx answers
// are returned as a Response, not an error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	method := strings.ToUpper(strings.TrimSpace(req.Method))

	class, err := c.Authorize(method, req.Path)
	if err == nil && req.Grant != nil {
		if err = req.Grant.AuthorizeAPICall(class, method, req.Path); err != nil {
			class = apipolicy.ClassDenied
		}
	}
	c.metrics.ObserveDecision(method, string(class))
	if err != nil {
		c.finish(req, method, class, "denied", 0, start, err)
		return nil, err
	}
	if !c.credentials.Complete() {
		c.finish(req, method, class, "error", 0, start, ErrNoCredentials)
		return nil, ErrNoCredentials
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			err = fmt.Errorf("waiting for rate limit: %w", err)
			c.finish(req, method, class, "error", 0, start, err)
			return nil, err
		}
	}

	resp, err := c.send(ctx, method, req)
	if err != nil {
		c.finish(req, method, class, "error", 0, start, err)
		return nil, err
	}
	resp.Class = class
	resp.Duration = time.Since(start)
	c.metrics.ObserveUpstream(method, resp.Status, resp.Duration)
	c.finish(req, method, class, "allowed", resp.Status, start, nil)
	return resp, nil
}

func (c *Client) send(ctx context.Context, method string, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := *c.baseURL
	target.Path = c.baseURL.Path + req.Path
	target.RawQuery = req.Query.Encode()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("DD-API-KEY", c.credentials.APIKey)
	httpReq.Header.Set("DD-APPLICATION-KEY", c.credentials.AppKey)
	if body != nil {
		contentType := strings.TrimSpace(req.ContentType)
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling datadog %s %s: %w", method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading datadog response: %w", err)
	}
	truncated := int64(len(data)) > c.maxBytes
	if truncated {
		data = data[:c.maxBytes]
	}

	return &Response{
		Status:      httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        data,
		Truncated:   truncated,
	}, nil
}

func (c *Client) finish(req Request, method string, class apipolicy.Class, decision string, status int, start time.Time, err error) {
	elapsed := time.Since(start)
	event := c.logger.Debug()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	event.
		Str("execution_id", req.ExecutionID).
		Str("method", method).
		Str("path", req.Path).
		Str("class", string(class)).
		Str("decision", decision).
		Int("status", status).
		Dur("elapsed", elapsed).
		Msg("datadog api call")

	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.audit.CompleteAPICall(audit.APICallCompletion{
		ExecutionID: req.ExecutionID,
		Method:      method,
		Path:        req.Path,
		Class:       string(class),
		Decision:    decision,
		Status:      status,
		Duration:    elapsed,
		ErrorDetail: detail,
	})
}
