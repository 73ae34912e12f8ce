package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lyzr/refinery/common/retry"
)

// AnthropicClient calls the Messages API
type AnthropicClient struct {
	apiKey string
	opts   options
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(apiKey string, opts ...Option) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		opts:   buildOptions("https://api.anthropic.com/v1", "claude-haiku-4-5", opts),
	}
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

// Complete sends a prompt and returns the concatenated text blocks
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.opts.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	respBody, err := send(c.opts.httpClient, httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	if msg := gjson.GetBytes(respBody, "error.message"); msg.Exists() {
		return "", fmt.Errorf("anthropic: api error: %s", msg.String())
	}

	var sb strings.Builder
	gjson.GetBytes(respBody, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
		return true
	})
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: no text content in response")
	}
	return sb.String(), nil
}
