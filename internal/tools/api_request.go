package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/gateway"
	"github.com/codemode-mcp/datadog-mcp/internal/truncate"
)

const errorBodyTokens = 200

func (r *Runner) request(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Method  string         `json:"method"`
		Path    string         `json:"path"`
		Query   map[string]any `json:"query"`
		Body    any            `json:"body"`
		Confirm bool           `json:"confirm"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, validationErrorf("method is required")
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return nil, validationErrorf("path is required")
	}
	if strings.Contains(path, "?") {
		return nil, validationErrorf("path must not contain a query string; pass parameters in query")
	}
	if r.api == nil {
		return nil, unavailableErrorf("datadog API access is not configured")
	}

	query, err := encodeQuery(req.Query)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	resp, err := r.api.Do(ctx, gateway.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
	})
	if err != nil {
		return nil, mapExecutionError(err, fmt.Sprintf("calling %s %s", method, path))
	}
	if resp.Status >= 400 {
		return nil, upstreamError(method, path, resp)
	}

	text, cut := truncate.Text(string(resp.Body), r.maxTokens)
	result := map[string]any{
		"status":    resp.Status,
		"class":     string(resp.Class),
		"truncated": cut || resp.Truncated,
	}
	if resp.ContentType != "" {
		result["content_type"] = resp.ContentType
	}

	var decoded any
	if !cut && !resp.Truncated && len(resp.Body) > 0 && json.Unmarshal(resp.Body, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = text
	}
	return result, nil
}

func upstreamError(method, path string, resp *gateway.Response) error {
	status := resp.Status
	if status >= 500 {
		status = http.StatusBadGateway
	}
	detail, _ := truncate.Text(strings.TrimSpace(string(resp.Body)), errorBodyTokens)
	message := fmt.Sprintf("datadog %s %s returned %d", method, path, resp.Status)
	if detail != "" {
		message += ": " + detail
	}
	return &ToolError{statusCode: status, message: message}
}

// encodeQuery accepts scalar values and arrays of scalars.
func encodeQuery(raw map[string]any) (url.Values, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, key := range keys {
		switch typed := raw[key].(type) {
		case []any:
			for _, item := range typed {
				text, ok := scalarString(item)
				if !ok {
					return nil, validationErrorf("query parameter %q must hold scalars", key)
				}
				values.Add(key, text)
			}
		default:
			text, ok := scalarString(typed)
			if !ok {
				return nil, validationErrorf("query parameter %q must be a scalar or an array of scalars", key)
			}
			values.Set(key, text)
		}
	}
	return values, nil
}

func scalarString(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		return typed, true
	case bool:
		return strconv.FormatBool(typed), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case json.Number:
		return typed.String(), true
	case int:
		return strconv.Itoa(typed), true
	default:
		return "", false
	}
}

func encodeBody(body any) ([]byte, error) {
	switch typed := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(typed), nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, validationErrorf("invalid body: %v", err)
		}
		return encoded, nil
	}
}
