package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

// ToolAuthorizer is the central policy gate for all tool executions.
type ToolAuthorizer interface {
	Mode() string
	AuthorizeTool(name, capability string) error
}

func authorizeToolCall(authorizer ToolAuthorizer, tool ToolSpec) error {
	if authorizer == nil {
		return nil
	}
	if err := authorizer.AuthorizeTool(tool.Name, tool.Capability); err != nil {
		return fmt.Errorf("tool authorization denied: %w", err)
	}
	return nil
}

func resolvedMode(authorizer ToolAuthorizer) string {
	if authorizer == nil {
		return policy.ModeReadOnly
	}
	return authorizer.Mode()
}

// apiTarget is the Datadog call a datadog.request names, classified at
// request time.
type apiTarget struct {
	Method string
	Path   string
	Class  apipolicy.Class
}

func requestTarget(tool ToolSpec, args map[string]any) (apiTarget, bool) {
	if tool.Name != policy.RequestToolName {
		return apiTarget{}, false
	}
	method, _ := args["method"].(string)
	path, _ := args["path"].(string)
	method = strings.ToUpper(strings.TrimSpace(method))
	path = strings.TrimSpace(path)
	return apiTarget{Method: method, Path: path, Class: apipolicy.ClassifyAtRequestTime(method, path)}, true
}

func (t apiTarget) fields() map[string]any {
	return map[string]any{"method": t.Method, "path": t.Path, "class": string(t.Class)}
}

// denialFields describes a policy denial found in err's chain, or nil.
func denialFields(err error) map[string]any {
	var denied *apipolicy.DeniedError
	if !errors.As(err, &denied) {
		return nil
	}
	return map[string]any{
		"method": denied.Method,
		"path":   denied.Path,
		"class":  string(apipolicy.ClassDenied),
		"reason": denied.ReasonText(),
	}
}

// policyFields prefers a denial from err over the classified target.
func policyFields(target *apiTarget, err error) map[string]any {
	if fields := denialFields(err); fields != nil {
		return fields
	}
	if target != nil {
		return target.fields()
	}
	return nil
}

// requiredScopes returns the contract scopes plus any the targeted Datadog
// call needs. Only datadog.request names its target up front.
func requiredScopes(tool ToolSpec, args map[string]any) []string {
	scopes := append([]string(nil), tool.RequiredScopes...)
	target, ok := requestTarget(tool, args)
	if !ok {
		return scopes
	}
	return append(scopes, policy.ScopesForAPICall(target.Class)...)
}
