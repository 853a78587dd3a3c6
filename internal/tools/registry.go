// Package tools provides MCP tool execution over the Datadog catalog, the
// policy-checked gateway and the code executor.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
	"github.com/codemode-mcp/datadog-mcp/internal/catalog"
	"github.com/codemode-mcp/datadog-mcp/internal/executor"
	"github.com/codemode-mcp/datadog-mcp/internal/gateway"
)

const defaultMaxOutputTokens = 8000

// Tool names served by the runner.
const (
	ToolSearch   = "datadog.search"
	ToolProducts = "datadog.products"
	ToolRequest  = "datadog.request"
	ToolExecute  = "datadog.execute"
)

// Config tunes tool output.
type Config struct {
	MaxOutputTokens int
	// AllowWrites offers allowlisted writes in search and products. Leave it
	// false whenever the gateway is read-only.
	AllowWrites bool
}

// APIClient sends one policy-checked Datadog API call.
type APIClient interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// CodeRunner runs one code snippet against the gateway.
type CodeRunner interface {
	Run(ctx context.Context, code string, timeout time.Duration) (*executor.Result, error)
}

// Runner executes MCP tool calls.
type Runner struct {
	index     *catalog.Index
	products  []catalog.Product
	api       APIClient
	exec      CodeRunner
	maxTokens int
}

// ToolError carries an HTTP-style status code and message for tool failures.
type ToolError struct {
	statusCode int
	message    string
	cause      error
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.message)
}

// StatusCode returns the attached status code.
func (e *ToolError) StatusCode() int {
	if e == nil || e.statusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.statusCode
}

// Unwrap exposes the underlying cause, such as a policy denial.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewRunner creates a tool runner. api and exec may be nil, in which case
// the tools that need them report the capability as unavailable.
func NewRunner(cfg Config, cat *catalog.Catalog, api APIClient, exec CodeRunner) *Runner {
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	if cat == nil {
		cat = &catalog.Catalog{}
	}
	if !cfg.AllowWrites {
		cat = cat.WithoutWrites()
	}
	return &Runner{
		index:     catalog.NewIndex(cat),
		products:  catalog.Products(cat),
		api:       api,
		exec:      exec,
		maxTokens: maxTokens,
	}
}

// CatalogSize reports the number of searchable operations.
func (r *Runner) CatalogSize() int {
	return r.index.Len()
}

// Call executes one tool by name and returns JSON-like map content.
func (r *Runner) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch strings.TrimSpace(name) {
	case ToolSearch:
		return r.search(ctx, args)
	case ToolProducts:
		return r.listProducts(ctx, args)
	case ToolRequest:
		return r.request(ctx, args)
	case ToolExecute:
		return r.execute(ctx, args)
	default:
		return nil, validationErrorf("tool %s is not implemented", strings.TrimSpace(name))
	}
}

func validationErrorf(format string, args ...any) error {
	return &ToolError{
		statusCode: http.StatusBadRequest,
		message:    fmt.Sprintf(format, args...),
	}
}

func unavailableErrorf(format string, args ...any) error {
	return &ToolError{
		statusCode: http.StatusServiceUnavailable,
		message:    fmt.Sprintf(format, args...),
	}
}

func mapExecutionError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	var denied *apipolicy.DeniedError
	if errors.As(err, &denied) {
		return &ToolError{
			statusCode: http.StatusForbidden,
			message:    denied.Error(),
			cause:      err,
		}
	}
	if errors.Is(err, gateway.ErrNoCredentials) {
		return &ToolError{
			statusCode: http.StatusServiceUnavailable,
			message:    fallback + ": " + err.Error(),
			cause:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{
			statusCode: http.StatusGatewayTimeout,
			message:    fallback + ": request timed out",
			cause:      err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &ToolError{
			statusCode: http.StatusRequestTimeout,
			message:    fallback + ": request canceled",
			cause:      err,
		}
	}
	return &ToolError{
		statusCode: http.StatusBadGateway,
		message:    fmt.Sprintf("%s: %v", fallback, err),
		cause:      err,
	}
}

func decodeArgsStrict(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return validationErrorf("invalid tool arguments: %v", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return validationErrorf("invalid tool arguments: %v", err)
	}
	if decoder.More() {
		return validationErrorf("tool arguments must be a single JSON object")
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool response: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decoding tool response: %w", err)
	}
	return decoded, nil
}
