package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCPCaller abstracts MCP tool execution so remote tools can back registry
// entries. Satisfied by mcp-go clients.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// RegisterMCPTools registers remote MCP tools into the registry. Each tool's
// input schema becomes the registry-side parameter schema, so argument
// validation happens locally before any network call.
func RegisterMCPTools(reg *Registry, caller MCPCaller, tools []mcp.Tool) error {
	if caller == nil {
		return fmt.Errorf("mcp caller is required")
	}
	for _, t := range tools {
		def := Definition{
			ID:          t.Name,
			Description: t.Description,
			Parameters:  mcpSchemaToParameters(t),
		}
		name := t.Name
		handler := func(ctx context.Context, args map[string]any) (*Result, error) {
			result, err := caller.CallTool(ctx, name, args)
			if err != nil {
				return nil, err
			}
			return mcpResultToResult(result)
		}
		if err := reg.Register(def, handler); err != nil {
			return err
		}
	}
	return nil
}

func mcpSchemaToParameters(t mcp.Tool) map[string]any {
	schema := t.InputSchema
	params := map[string]any{"type": "object"}
	if schema.Type != "" {
		params["type"] = schema.Type
	}
	if len(schema.Properties) > 0 {
		props := make(map[string]any, len(schema.Properties))
		for key, value := range schema.Properties {
			props[key] = value
		}
		params["properties"] = props
	}
	if len(schema.Required) > 0 {
		params["required"] = append([]string(nil), schema.Required...)
	}
	return params
}

func mcpResultToResult(result *mcp.CallToolResult) (*Result, error) {
	if result == nil {
		return nil, fmt.Errorf("mcp tool result is nil")
	}

	text := extractTextContent(result.Content)
	if result.IsError {
		return &Result{Success: false, Message: text}, nil
	}

	if structured, ok := result.StructuredContent.(map[string]any); ok {
		return &Result{Success: true, Data: structured, Message: text}, nil
	}
	if text != "" {
		return &Result{Success: true, Data: map[string]any{"text": text}}, nil
	}
	return &Result{Success: true}, nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
