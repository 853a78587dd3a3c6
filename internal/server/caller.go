package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/metrics"
)

// ToolCaller executes one tool call and returns structured content.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

type statusCoder interface {
	StatusCode() int
}

type instrumentedCaller struct {
	next    ToolCaller
	metrics *metrics.Metrics
}

// WithMetrics counts every tool call made through caller by outcome.
func WithMetrics(caller ToolCaller, m *metrics.Metrics) ToolCaller {
	if caller == nil || m == nil {
		return caller
	}
	return instrumentedCaller{next: caller, metrics: m}
}

func (c instrumentedCaller) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	payload, err := c.next.Call(ctx, name, args)
	c.metrics.ObserveToolCall(strings.TrimSpace(name), toolOutcome(err))
	return payload, err
}

func toolOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case toolErrorStatus(err) == http.StatusForbidden:
		return "denied"
	default:
		return "error"
	}
}

func toolErrorStatus(err error) int {
	var withStatus statusCoder
	if err != nil && errors.As(err, &withStatus) {
		status := withStatus.StatusCode()
		if status >= 400 && status <= 599 {
			return status
		}
	}
	return http.StatusInternalServerError
}

func toolErrorMessage(err error) string {
	if err == nil {
		return "unknown tool execution error"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "unknown tool execution error"
	}
	return message
}

// resultText renders the payload for clients that only read text content.
func resultText(name string, payload map[string]any) string {
	if len(payload) == 0 {
		return fmt.Sprintf("tool %s executed", strings.TrimSpace(name))
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("tool %s executed", strings.TrimSpace(name))
	}
	return string(encoded)
}

func toolCallResultFromExecution(name, mode string, payload map[string]any) callToolResult {
	return callToolResult{
		Content: []contentBlock{
			{
				Type: "text",
				Text: resultText(name, payload),
			},
		},
		IsError: false,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": "ok",
			"result": payload,
		},
	}
}

func toolCallResultFromError(name, mode string, err error) callToolResult {
	detail := map[string]any{
		"status":  toolErrorStatus(err),
		"message": toolErrorMessage(err),
	}
	if denial := denialFields(err); denial != nil {
		detail["policy"] = denial
	}
	return callToolResult{
		Content: []contentBlock{
			{
				Type: "text",
				Text: toolErrorMessage(err),
			},
		},
		IsError: true,
		StructuredContent: map[string]any{
			"tool":   strings.TrimSpace(name),
			"mode":   strings.TrimSpace(mode),
			"status": "error",
			"error":  detail,
		},
	}
}
