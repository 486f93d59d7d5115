package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ZhipuProvider implements the Provider interface for the Zhipu AI
// OpenAI-compatible chat completions API.
type ZhipuProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewZhipu creates a new ZhipuProvider.
func NewZhipu(baseURL, apiKey string) *ZhipuProvider {
	if baseURL == "" {
		baseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	return &ZhipuProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type zhipuRequest struct {
	Model          string               `json:"model"`
	Messages       []Message            `json:"messages"`
	Temperature    float64              `json:"temperature,omitempty"`
	ResponseFormat *zhipuResponseFormat `json:"response_format,omitempty"`
}

type zhipuResponseFormat struct {
	Type string `json:"type"`
}

type zhipuResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends a chat request to Zhipu and maps the response to ChatResponse.
func (p *ZhipuProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	zReq := zhipuRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.Format == FormatJSON {
		zReq.ResponseFormat = &zhipuResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(zReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal zhipu request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("zhipu api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zhipu api returned status: %d", resp.StatusCode)
	}

	var zResp zhipuResponse
	if err := json.NewDecoder(resp.Body).Decode(&zResp); err != nil {
		return nil, fmt.Errorf("failed to decode zhipu response: %w", err)
	}
	if len(zResp.Choices) == 0 {
		return nil, fmt.Errorf("zhipu response contained no choices")
	}

	return &ChatResponse{
		Content: zResp.Choices[0].Message.Content,
		Usage:   zResp.Usage,
	}, nil
}
