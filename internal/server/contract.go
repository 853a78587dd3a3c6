package server

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

const (
	defaultProtocolVersion = "2024-11-05"
	defaultServerName      = "datadog-mcp"
)

var (
	knownCapabilities = []string{"read", "execute", "write"}
	knownScopes       = []string{policy.ScopeAdmin, policy.ScopeRead, policy.ScopeWrite, policy.ScopeExecute}
)

// ToolSpec represents a single MCP tool contract entry.
type ToolSpec struct {
	Name                 string         `yaml:"name" json:"name"`
	Capability           string         `yaml:"capability" json:"capability"`
	Description          string         `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredScopes       []string       `yaml:"requiredScopes,omitempty" json:"requiredScopes,omitempty"`
	ConfirmationRequired bool           `yaml:"confirmationRequired,omitempty" json:"confirmationRequired,omitempty"`
	InputSchema          map[string]any `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
	OutputSchema         map[string]any `yaml:"outputSchema,omitempty" json:"outputSchema,omitempty"`

	schema *gojsonschema.Schema
}

type toolContract struct {
	Version    string     `yaml:"version"`
	Service    string     `yaml:"service"`
	APIVersion string     `yaml:"apiVersion"`
	Tools      []ToolSpec `yaml:"tools"`
}

// ToolRegistry provides read-only access to parsed tools.
type ToolRegistry struct {
	contract toolContract
	byName   map[string]ToolSpec
}

// NewToolRegistry parses tools contract YAML, validates minimal invariants and
// compiles each tool's inputSchema.
func NewToolRegistry(contractYAML []byte) (*ToolRegistry, error) {
	var parsed toolContract
	if err := yaml.Unmarshal(contractYAML, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tool contract: %w", err)
	}
	if len(parsed.Tools) == 0 {
		return nil, fmt.Errorf("tool contract has no tools")
	}

	byName := make(map[string]ToolSpec, len(parsed.Tools))
	for i, tool := range parsed.Tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return nil, fmt.Errorf("tool contract contains empty tool name")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("tool contract contains duplicate tool %q", name)
		}
		tool.Name = name
		tool.Capability = strings.TrimSpace(tool.Capability)
		if !slices.Contains(knownCapabilities, tool.Capability) {
			return nil, fmt.Errorf("tool %q has capability %q (allowed: %s)", name, tool.Capability, strings.Join(knownCapabilities, "|"))
		}
		for _, scope := range tool.RequiredScopes {
			if !slices.Contains(knownScopes, strings.TrimSpace(scope)) {
				return nil, fmt.Errorf("tool %q requires unknown scope %q", name, scope)
			}
		}
		schema, err := compileInputSchema(tool)
		if err != nil {
			return nil, err
		}
		tool.schema = schema
		byName[name] = tool
		parsed.Tools[i] = tool
	}

	return &ToolRegistry{
		contract: parsed,
		byName:   byName,
	}, nil
}

// List returns all registered tools in contract order.
func (r *ToolRegistry) List() []ToolSpec {
	items := make([]ToolSpec, 0, len(r.contract.Tools))
	items = append(items, r.contract.Tools...)
	return items
}

// Descriptors returns the tools/list view of the registry.
func (r *ToolRegistry) Descriptors() []toolDescriptor {
	items := make([]toolDescriptor, 0, len(r.contract.Tools))
	for _, tool := range r.contract.Tools {
		items = append(items, toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return items
}

// Lookup returns a tool by name.
func (r *ToolRegistry) Lookup(name string) (ToolSpec, bool) {
	tool, ok := r.byName[strings.TrimSpace(name)]
	return tool, ok
}
