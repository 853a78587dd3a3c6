// Package executor runs agent-authored snippets in a child interpreter that
// can reach Datadog only through the gateway proxy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codemode-mcp/datadog-mcp/internal/gateway"
	"github.com/codemode-mcp/datadog-mcp/internal/metrics"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

const (
	defaultInterpreter    = "python3"
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 1 << 20
	killGrace             = 2 * time.Second

	// Environment handed to the child.
	EnvGatewayURL   = "DATADOG_GATEWAY_URL"
	EnvGatewayToken = "DATADOG_GATEWAY_TOKEN"
	EnvExecutionID  = "DATADOG_EXECUTION_ID"
)

// ErrEmptyCode is returned when there is nothing to run.
var ErrEmptyCode = errors.New("code must not be empty")

// Config wires an Executor.
type Config struct {
	Interpreter    string
	Timeout        time.Duration
	MaxOutputBytes int64
	GatewayURL     string
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// Result is the outcome of one execution. A non-zero exit code or a
// timeout is a result, not an error.
type Result struct {
	ExecutionID     string         `json:"execution_id"`
	ExitCode        int            `json:"exit_code"`
	Stdout          string         `json:"stdout"`
	Stderr          string         `json:"stderr"`
	StdoutTruncated bool           `json:"stdout_truncated,omitempty"`
	StderrTruncated bool           `json:"stderr_truncated,omitempty"`
	TimedOut        bool           `json:"timed_out"`
	DurationMS      int64          `json:"duration_ms"`
	Calls           []gateway.Call `json:"calls"`
}

// Outcome labels a result for metrics.
func (r *Result) Outcome() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.ExitCode != 0:
		return "error"
	default:
		return "ok"
	}
}

// Executor runs snippets one child process per call.
type Executor struct {
	interpreter string
	timeout     time.Duration
	maxOutput   int64
	gatewayURL  string
	sessions    *gateway.Sessions
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// New resolves the interpreter on PATH and returns an Executor.
func New(cfg Config, sessions *gateway.Sessions) (*Executor, error) {
	if sessions == nil {
		return nil, errors.New("executor requires a gateway session table")
	}
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, errors.New("executor requires a gateway URL")
	}

	interpreter := strings.TrimSpace(cfg.Interpreter)
	if interpreter == "" {
		interpreter = defaultInterpreter
	}
	resolved, err := exec.LookPath(interpreter)
	if err != nil {
		return nil, fmt.Errorf("resolving interpreter %q: %w", interpreter, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}

	return &Executor{
		interpreter: resolved,
		timeout:     timeout,
		maxOutput:   maxOutput,
		gatewayURL:  strings.TrimSuffix(cfg.GatewayURL, "/"),
		sessions:    sessions,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "executor").Logger(),
	}, nil
}

// Run executes code. A requested timeout above the configured maximum, or
// not positive, is replaced by the maximum. API calls from the code are
// held to the policy.Grant carried by ctx.
func (e *Executor) Run(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	if timeout <= 0 || timeout > e.timeout {
		timeout = e.timeout
	}

	executionID := uuid.NewString()
	token, session := e.sessions.Open(executionID, policy.GrantFromContext(ctx))
	defer e.sessions.Close(token)

	dir, err := os.MkdirTemp("", "datadog-mcp-exec-")
	if err != nil {
		return nil, fmt.Errorf("creating execution dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "snippet"+scriptExtension(e.interpreter))
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return nil, fmt.Errorf("writing snippet: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(e.maxOutput)
	stderr := newCappedBuffer(e.maxOutput)

	cmd := exec.CommandContext(runCtx, e.interpreter, script)
	cmd.Dir = dir
	cmd.Env = e.childEnv(dir, executionID, token)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = killGrace

	logger := e.logger.With().Str("execution_id", executionID).Logger()
	logger.Debug().Dur("timeout", timeout).Int("code_bytes", len(code)).Msg("execution started")

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	result := &Result{
		ExecutionID:     executionID,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		TimedOut:        errors.Is(runCtx.Err(), context.DeadlineExceeded),
		DurationMS:      elapsed.Milliseconds(),
		Calls:           session.Calls(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case result.TimedOut:
			result.ExitCode = -1
		case ctx.Err() != nil:
			return nil, fmt.Errorf("execution %s cancelled: %w", executionID, ctx.Err())
		default:
			return nil, fmt.Errorf("running interpreter: %w", runErr)
		}
	}
	if result.TimedOut && result.ExitCode == 0 {
		result.ExitCode = -1
	}

	e.metrics.ObserveExecution(result.Outcome())
	logger.Info().
		Int("exit_code", result.ExitCode).
		Bool("timed_out", result.TimedOut).
		Int("api_calls", len(result.Calls)).
		Dur("elapsed", elapsed).
		Msg("execution finished")
	return result, nil
}

// childEnv never carries Datadog keys; the child reaches the API through
// the gateway URL and its per-execution token.
func (e *Executor) childEnv(dir, executionID, token string) []string {
	env := []string{
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"PYTHONUNBUFFERED=1",
		"PYTHONDONTWRITEBYTECODE=1",
		EnvGatewayURL + "=" + e.gatewayURL,
		EnvGatewayToken + "=" + token,
		EnvExecutionID + "=" + executionID,
	}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	return env
}

func scriptExtension(interpreter string) string {
	base := strings.ToLower(filepath.Base(interpreter))
	switch {
	case strings.HasPrefix(base, "python"):
		return ".py"
	case strings.HasPrefix(base, "node"), strings.HasPrefix(base, "deno"), strings.HasPrefix(base, "bun"):
		return ".js"
	case base == "sh" || base == "bash" || base == "zsh" || base == "dash":
		return ".sh"
	default:
		return ""
	}
}
