package audit

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggerComplete_EmitsOneStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	auditLogger := NewLogger(logger)

	auditLogger.Complete(ToolCallCompletion{
		RequestID: "req-1",
		SessionID: "sess-1",
		Transport: "http",
		ToolName:  "datadog.request",
		Mode:      "read-write",
		CallerSub: "agent-user",
		Arguments: map[string]any{
			"method": "put",
			"path":   "/api/v1/notebooks/42",
			"query":  map[string]any{"b": "2", "a": "1"},
			"body":   map[string]any{"secret": "value"},
		},
		Result:       "success",
		Duration:     250 * time.Millisecond,
		ResponseCode: 200,
	})

	lines := splitJSONLines(t, buf.String())
	require.Len(t, lines, 1)

	entry := lines[0]
	require.Equal(t, "mcp.tool_call.completed", entry["event"])
	require.Equal(t, "req-1", entry["request_id"])
	require.Equal(t, "sess-1", entry["session_id"])
	require.Equal(t, "http", entry["transport"])
	require.Equal(t, "datadog.request", entry["tool"])
	require.Equal(t, "read-write", entry["mode"])
	require.Equal(t, "agent-user", entry["caller_subject"])
	require.Equal(t, "success", entry["result"])
	require.EqualValues(t, 250, entry["duration_ms"])
	require.EqualValues(t, 200, entry["response_code"])

	target, ok := entry["target"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "PUT", target["method"])
	require.Equal(t, "/api/v1/notebooks/42", target["path"])
	require.Equal(t, []any{"a", "b"}, target["query_keys"])
	_, hasBody := target["body"]
	require.False(t, hasBody)
	require.NotContains(t, buf.String(), "value")
}

func TestLoggerComplete_Defaults(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(zerolog.New(&buf)).Complete(ToolCallCompletion{Duration: -time.Second})

	entry := splitJSONLines(t, buf.String())[0]
	require.Equal(t, "unknown", entry["tool"])
	require.Equal(t, "read-only", entry["mode"])
	require.Equal(t, "error", entry["result"])
	require.EqualValues(t, 0, entry["duration_ms"])
}

func TestLoggerCompleteAPICall(t *testing.T) {
	var buf bytes.Buffer
	auditLogger := NewLogger(zerolog.New(&buf))

	auditLogger.CompleteAPICall(APICallCompletion{
		ExecutionID: "exec-1",
		Method:      "get",
		Path:        "/api/v1/monitor",
		Class:       "read",
		Decision:    "allowed",
		Status:      200,
		Duration:    15 * time.Millisecond,
	})
	auditLogger.CompleteAPICall(APICallCompletion{
		Method:      "DELETE",
		Path:        "/api/v1/monitor/1",
		Class:       "denied",
		ErrorDetail: "DD-API-KEY: abc123 rejected",
	})

	lines := splitJSONLines(t, buf.String())
	require.Len(t, lines, 2)

	require.Equal(t, "datadog.api_call.completed", lines[0]["event"])
	require.Equal(t, "exec-1", lines[0]["execution_id"])
	require.Equal(t, "GET", lines[0]["method"])
	require.Equal(t, "allowed", lines[0]["decision"])
	require.EqualValues(t, 200, lines[0]["status"])
	require.EqualValues(t, 15, lines[0]["duration_ms"])

	require.Equal(t, "denied", lines[1]["decision"])
	_, hasStatus := lines[1]["status"]
	require.False(t, hasStatus)
	require.NotContains(t, lines[1]["error_detail"], "abc123")
}

func TestNilLoggerIsNoop(t *testing.T) {
	var auditLogger *Logger
	require.NotPanics(t, func() {
		auditLogger.Complete(ToolCallCompletion{})
		auditLogger.CompleteAPICall(APICallCompletion{})
	})
}

func TestRedactSensitiveText_RedactsTokenLikeSegments(t *testing.T) {
	raw := "request failed: Authorization: Bearer abc.def.ghi token=xyz123 password=hunter2 api_key=k1 app-key: k2"
	redacted := RedactSensitiveText(raw)

	require.NotContains(t, redacted, "abc.def.ghi")
	require.NotContains(t, redacted, "xyz123")
	require.NotContains(t, redacted, "hunter2")
	require.NotContains(t, redacted, "k1")
	require.NotContains(t, redacted, "k2")
	require.Contains(t, redacted, "Authorization: [REDACTED]")
	require.Contains(t, redacted, "token=[REDACTED]")
	require.Contains(t, redacted, "password=[REDACTED]")
	require.Equal(t, "", RedactSensitiveText("   "))
}

func TestSummarizeTargets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args map[string]any
		want TargetSummary
	}{
		{name: "nil", args: nil, want: TargetSummary{}},
		{
			name: "search",
			args: map[string]any{"query": " list monitors ", "method": "get", "product": "Monitors"},
			want: TargetSummary{Method: "GET", Product: "Monitors", Query: "list monitors"},
		},
		{
			name: "execute",
			args: map[string]any{"code": "print(1)\n"},
			want: TargetSummary{CodeBytes: 9},
		},
		{
			name: "non-string values ignored",
			args: map[string]any{"method": 7, "path": []any{"/x"}},
			want: TargetSummary{},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SummarizeTargets(tc.args))
		})
	}
}

func splitJSONLines(t *testing.T, payload string) []map[string]any {
	t.Helper()

	rawLines := bytes.Split(bytes.TrimSpace([]byte(payload)), []byte("\n"))
	lines := make([]map[string]any, 0, len(rawLines))
	for _, raw := range rawLines {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var item map[string]any
		require.NoError(t, json.Unmarshal(raw, &item))
		lines = append(lines, item)
	}
	return lines
}
