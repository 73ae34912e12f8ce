package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/lyzr/refinery/common/retry"
)

// OpenAIClient calls the Chat Completions API or any compatible service
type OpenAIClient struct {
	apiKey string
	opts   options
}

// NewOpenAIClient creates a new OpenAI-compatible client
func NewOpenAIClient(apiKey string, opts ...Option) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		opts:   buildOptions("https://api.openai.com/v1", "gpt-4o-mini", opts),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete sends a prompt and returns the assistant's response text
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.opts.model
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	respBody, err := send(c.opts.httpClient, httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if msg := gjson.GetBytes(respBody, "error.message"); msg.Exists() {
		return "", fmt.Errorf("openai: api error: %s", msg.String())
	}
	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return content.String(), nil
}

// send performs the request and classifies non-200 responses
func send(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if !apiErr.Retryable() {
			return nil, retry.Permanent(apiErr)
		}
		return nil, apiErr
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("invalid JSON response")
	}
	return respBody, nil
}
