package tool

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rumbo-ai/rumbo/pkg/errors"
)

type fakeCaller struct {
	lastName string
	lastArgs map[string]interface{}
	result   *mcp.CallToolResult
	err      error
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func remoteWeatherTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_weather",
		Description: "Look up current weather",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"location": map[string]any{"type": "string"},
			},
			Required: []string{"location"},
		},
	}
}

func TestRegisterMCPToolsInvokesCaller(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.CallToolResult{
			StructuredContent: map[string]any{"success": true, "temperature": 15},
		},
	}
	reg := NewRegistry()
	if err := RegisterMCPTools(reg, caller, []mcp.Tool{remoteWeatherTool()}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := reg.Invoke(context.Background(), "get_weather", map[string]any{"location": "北京"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if caller.lastName != "get_weather" {
		t.Fatalf("caller saw tool %q", caller.lastName)
	}
	if res.Data["temperature"] != 15 {
		t.Fatalf("structured content lost: %+v", res.Data)
	}
}

func TestMCPValidationIsLocal(t *testing.T) {
	caller := &fakeCaller{result: &mcp.CallToolResult{}}
	reg := NewRegistry()
	if err := RegisterMCPTools(reg, caller, []mcp.Tool{remoteWeatherTool()}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := reg.Invoke(context.Background(), "get_weather", nil)
	if !errors.HasCode(err, errors.CodeInvalidToolArguments) {
		t.Fatalf("expected CodeInvalidToolArguments, got %v", err)
	}
	if caller.lastName != "" {
		t.Fatal("remote caller must not be reached on invalid args")
	}
}

func TestMCPErrorResultBecomesUnsuccessful(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "city not found"}},
		},
	}
	reg := NewRegistry()
	if err := RegisterMCPTools(reg, caller, []mcp.Tool{remoteWeatherTool()}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := reg.Invoke(context.Background(), "get_weather", map[string]any{"location": "paris"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if res.Success {
		t.Fatal("expected unsuccessful result")
	}
	if res.Message != "city not found" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}
