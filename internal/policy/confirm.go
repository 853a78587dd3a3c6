package policy

import (
	"fmt"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

// RequestToolName is the tool that sends a single Datadog API call.
const RequestToolName = "datadog.request"

// RequireConfirmation enforces explicit confirm=true for tools flagged in
// the contract and for direct Datadog calls that mutate state.
func RequireConfirmation(toolName string, confirmationRequired bool, args map[string]any) error {
	name := strings.TrimSpace(toolName)
	if name == "" {
		return nil
	}

	required, reason := confirmationRequirement(name, confirmationRequired, args)
	if !required {
		return nil
	}
	if hasConfirmTrue(args) {
		return nil
	}
	return fmt.Errorf("tool %s requires confirm=true %s", name, reason)
}

func confirmationRequirement(toolName string, confirmationRequired bool, args map[string]any) (bool, string) {
	if confirmationRequired {
		return true, "for this tool"
	}
	if toolName != RequestToolName {
		return false, ""
	}

	method, _ := args["method"].(string)
	path, _ := args["path"].(string)
	method = strings.ToUpper(strings.TrimSpace(method))
	if apipolicy.ClassifyAtRequestTime(method, strings.TrimSpace(path)) != apipolicy.ClassAllowlistedWrite {
		return false, ""
	}
	if method == "DELETE" {
		return true, "for delete operations"
	}
	return true, fmt.Sprintf("for %s writes", method)
}

func hasConfirmTrue(args map[string]any) bool {
	if args == nil {
		return false
	}
	value, ok := args["confirm"]
	if !ok {
		return false
	}
	confirm, ok := value.(bool)
	return ok && confirm
}
