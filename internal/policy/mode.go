// Package policy defines execution guardrails for MCP tool calls.
package policy

import (
	"fmt"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

const (
	// ModeReadOnly allows read tools and only non-mutating API calls.
	ModeReadOnly = "read-only"
	// ModeReadWrite additionally allows write tools and allowlisted writes.
	ModeReadWrite = "read-write"
)

// Guard enforces mode-based execution policy.
type Guard struct {
	mode string
}

// NewGuard validates mode configuration and returns an execution guard.
//
// read-write mode requires enableWrite=true for dual-control safety.
func NewGuard(mode string, enableWrite bool) (*Guard, error) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized == "" {
		normalized = ModeReadOnly
	}

	switch normalized {
	case ModeReadOnly:
		return &Guard{mode: normalized}, nil
	case ModeReadWrite:
		if !enableWrite {
			return nil, fmt.Errorf("read-write mode requires DATADOG_MCP_ENABLE_WRITE=true")
		}
		return &Guard{mode: normalized}, nil
	default:
		return nil, fmt.Errorf("invalid mode %q (allowed: %s|%s)", normalized, ModeReadOnly, ModeReadWrite)
	}
}

// Mode returns the resolved mode.
func (g *Guard) Mode() string {
	if g == nil {
		return ModeReadOnly
	}
	return g.mode
}

// AuthorizeTool allows or denies tool execution based on tool capability.
func (g *Guard) AuthorizeTool(name, capability string) error {
	mode := g.Mode()
	toolName := strings.TrimSpace(name)
	if toolName == "" {
		toolName = "unknown"
	}

	switch strings.ToLower(strings.TrimSpace(capability)) {
	case "read", "execute":
		return nil
	case "write":
		if mode == ModeReadWrite {
			return nil
		}
		return fmt.Errorf("tool %s requires read-write mode", toolName)
	default:
		return fmt.Errorf("tool %s has unknown capability %q", toolName, strings.TrimSpace(capability))
	}
}

// AuthorizeAPICall narrows an API policy decision by mode. Read-only mode
// turns allowlisted writes into denials; it never admits a denied call.
func (g *Guard) AuthorizeAPICall(class apipolicy.Class, method, path string) error {
	switch class {
	case apipolicy.ClassRead, apipolicy.ClassSafePost:
		return nil
	case apipolicy.ClassAllowlistedWrite:
		if g.Mode() == ModeReadWrite {
			return nil
		}
		return &apipolicy.DeniedError{
			Method: method,
			Path:   path,
			Reason: "allowlisted write requires read-write mode",
		}
	default:
		return &apipolicy.DeniedError{Method: method, Path: path}
	}
}
