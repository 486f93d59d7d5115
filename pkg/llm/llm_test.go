package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockProviderScriptedSequence(t *testing.T) {
	p := NewScriptedMockProvider("first", "second")

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if resp.Content != "first" {
		t.Fatalf("expected first response, got %q", resp.Content)
	}

	resp, err = p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if resp.Content != "second" {
		t.Fatalf("expected second response, got %q", resp.Content)
	}

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error when script is exhausted")
	}
	if p.CallCount() != 3 {
		t.Fatalf("expected 3 calls recorded, got %d", p.CallCount())
	}
}

func TestOllamaChatRequestShape(t *testing.T) {
	var captured ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message:         Message{Role: RoleAssistant, Content: `{"satisfied":true}`},
			Done:            true,
			EvalCount:       4,
			PromptEvalCount: 12,
		})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:    "qwen2.5:latest",
		Messages: []Message{{Role: RoleUser, Content: "北京天气怎么样"}},
		Format:   FormatJSON,
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if captured.Format != "json" {
		t.Fatalf("expected json format in request, got %q", captured.Format)
	}
	if captured.Stream {
		t.Fatal("expected non-streaming request")
	}
	if resp.Content != `{"satisfied":true}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Fatalf("expected 16 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestZhipuChatRequestShape(t *testing.T) {
	var captured zhipuRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": Message{Role: RoleAssistant, Content: "晴朗"}, "finish_reason": "stop"},
			},
			"usage": Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		})
	}))
	defer srv.Close()

	p := NewZhipu(srv.URL, "test-key")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:    "glm-4",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		Format:   FormatJSON,
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if auth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Fatal("expected json_object response format")
	}
	if resp.Content != "晴朗" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
}

func TestZhipuEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	p := NewZhipu(srv.URL, "k")
	if _, err := p.Chat(context.Background(), ChatRequest{Model: "glm-4"}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}
