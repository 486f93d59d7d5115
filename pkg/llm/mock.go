package llm

import (
	"context"
	"fmt"
)

// MockProvider returns a fixed response for every Chat call. Tests that
// need per-call control set ChatFunc, which takes precedence over both
// Response and Err.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   mockUsage(req),
	}, nil
}

// mockUsage fabricates token counts proportional to the request so that
// usage plumbing is exercised without a real backend.
func mockUsage(req ChatRequest) Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content)/4 + 1
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: 8,
		TotalTokens:      prompt + 8,
	}
}

// FailingMockProvider fails every Chat call.
type FailingMockProvider struct {
	Err error
}

func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, fmt.Errorf("mock provider failure")
}
