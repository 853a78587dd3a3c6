// Package api embeds the MCP tool contract.
package api

import _ "embed"

// ToolsContract contains the raw tool contract YAML served to MCP clients.
//
//go:embed tools.yaml
var ToolsContract []byte
