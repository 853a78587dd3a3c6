// Package audit provides structured audit logging for MCP tool calls and
// the Datadog API calls they cause.
package audit

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|secret|password|authorization|api[_-]?key|app(?:lication)?[_-]?key)\s*[:=]\s*([^\s,;]+)`)
	ddKeyHeaderPattern = regexp.MustCompile(`(?i)\bDD-(API|APPLICATION)-KEY\s*[:=]?\s*[A-Za-z0-9]+`)
)

// ToolCallCompletion captures one finalized tool-call outcome.
type ToolCallCompletion struct {
	RequestID    string
	SessionID    string
	Transport    string
	ToolName     string
	Mode         string
	CallerSub    string
	Arguments    map[string]any
	Result       string
	ErrorDetail  string
	Duration     time.Duration
	ResponseCode int
}

// APICallCompletion captures one Datadog API call attempted through the
// gateway, including denied ones.
type APICallCompletion struct {
	ExecutionID string
	Method      string
	Path        string
	Class       string
	Decision    string
	Status      int
	Duration    time.Duration
	ErrorDetail string
}

// TargetSummary is a redacted summary of call targets.
type TargetSummary struct {
	Method    string   `json:"method,omitempty"`
	Path      string   `json:"path,omitempty"`
	Product   string   `json:"product,omitempty"`
	Query     string   `json:"query,omitempty"`
	QueryKeys []string `json:"query_keys,omitempty"`
	CodeBytes int      `json:"code_bytes,omitempty"`
}

// Logger emits structured audit entries.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Complete writes a single completion log entry for one tool call.
func (l *Logger) Complete(event ToolCallCompletion) {
	if l == nil {
		return
	}

	result := strings.TrimSpace(event.Result)
	if result == "" {
		result = "error"
	}

	tool := strings.TrimSpace(event.ToolName)
	if tool == "" {
		tool = "unknown"
	}
	mode := strings.TrimSpace(event.Mode)
	if mode == "" {
		mode = "read-only"
	}

	entry := l.logger.Info().
		Str("event", "mcp.tool_call.completed").
		Str("request_id", strings.TrimSpace(event.RequestID)).
		Str("session_id", strings.TrimSpace(event.SessionID)).
		Str("transport", strings.TrimSpace(event.Transport)).
		Str("tool", tool).
		Str("mode", mode).
		Str("caller_subject", strings.TrimSpace(event.CallerSub)).
		Str("result", result).
		Int64("duration_ms", nonNegative(event.Duration).Milliseconds()).
		Interface("target", SummarizeTargets(event.Arguments))

	if event.ResponseCode > 0 {
		entry = entry.Int("response_code", event.ResponseCode)
	}
	if redactedError := RedactSensitiveText(event.ErrorDetail); redactedError != "" {
		entry = entry.Str("error_detail", redactedError)
	}

	entry.Msg("tool call completed")
}

// CompleteAPICall writes one entry per gateway decision.
func (l *Logger) CompleteAPICall(event APICallCompletion) {
	if l == nil {
		return
	}

	decision := strings.TrimSpace(event.Decision)
	if decision == "" {
		decision = "denied"
	}

	entry := l.logger.Info().
		Str("event", "datadog.api_call.completed").
		Str("execution_id", strings.TrimSpace(event.ExecutionID)).
		Str("method", strings.ToUpper(strings.TrimSpace(event.Method))).
		Str("path", event.Path).
		Str("class", strings.TrimSpace(event.Class)).
		Str("decision", decision).
		Int64("duration_ms", nonNegative(event.Duration).Milliseconds())

	if event.Status > 0 {
		entry = entry.Int("status", event.Status)
	}
	if redactedError := RedactSensitiveText(event.ErrorDetail); redactedError != "" {
		entry = entry.Str("error_detail", redactedError)
	}

	entry.Msg("api call completed")
}

// SummarizeTargets builds a compact target summary from tool arguments.
// Snippet source and request bodies are never logged, only their size.
func SummarizeTargets(args map[string]any) TargetSummary {
	if args == nil {
		return TargetSummary{}
	}

	summary := TargetSummary{
		Method:  strings.ToUpper(firstString(args, "method")),
		Path:    firstString(args, "path"),
		Product: firstString(args, "product"),
		Query:   firstString(args, "query"),
	}
	if params, ok := args["query"].(map[string]any); ok {
		summary.QueryKeys = sortedKeys(params)
	}
	if code, ok := args["code"].(string); ok {
		summary.CodeBytes = len(code)
	}
	return summary
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = ddKeyHeaderPattern.ReplaceAllString(redacted, "DD-$1-KEY [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		parts := strings.SplitN(match, ":", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s: [REDACTED]", strings.TrimSpace(parts[0]))
		}
		parts = strings.SplitN(match, "=", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s=[REDACTED]", strings.TrimSpace(parts[0]))
		}
		return "[REDACTED]"
	})
	return redacted
}

func firstString(args map[string]any, keys ...string) string {
	for _, key := range keys {
		raw, ok := args[key].(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
