package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

func compileInputSchema(tool ToolSpec) (*gojsonschema.Schema, error) {
	if len(tool.InputSchema) == 0 {
		return nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("tool %q has invalid inputSchema: %w", tool.Name, err)
	}
	return schema, nil
}

// validateToolArguments checks arguments against the tool's inputSchema.
func validateToolArguments(tool ToolSpec, args map[string]any) error {
	if tool.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := tool.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validating arguments for %s: %w", tool.Name, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, item := range result.Errors() {
		problems = append(problems, item.String())
	}
	return fmt.Errorf("invalid arguments for %s: %s", tool.Name, strings.Join(problems, "; "))
}
