package tools

import (
	"context"
	"errors"
	"time"

	"github.com/codemode-mcp/datadog-mcp/internal/executor"
	"github.com/codemode-mcp/datadog-mcp/internal/truncate"
)

func (r *Runner) execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Code           string `json:"code"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		// Confirm reaches the gateway through the call's grant.
		Confirm bool `json:"confirm"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	if req.TimeoutSeconds < 0 {
		return nil, validationErrorf("timeout_seconds must be >= 0")
	}
	if r.exec == nil {
		return nil, unavailableErrorf("code execution is not available")
	}

	result, err := r.exec.Run(ctx, req.Code, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, executor.ErrEmptyCode) {
			return nil, validationErrorf("code is required")
		}
		return nil, mapExecutionError(err, "running code")
	}

	stdout, stdoutCut := truncate.Text(result.Stdout, r.maxTokens)
	stderr, stderrCut := truncate.Text(result.Stderr, r.maxTokens/4)
	result.Stdout = stdout
	result.Stderr = stderr
	result.StdoutTruncated = result.StdoutTruncated || stdoutCut
	result.StderrTruncated = result.StderrTruncated || stderrCut
	return toMap(result)
}
