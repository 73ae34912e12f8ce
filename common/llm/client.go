// Package llm holds minimal HTTP clients for chat-completion style backends.
// Clients make a single attempt per call; callers own retries. Errors that
// will not improve on retry (bad request, bad credentials) are marked with
// retry.Permanent.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/refinery/common/config"
)

// Request is one completion call
type Request struct {
	Model       string // empty means the client default
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client sends a prompt and returns the response text
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Option configures a client
type Option func(*options)

type options struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// WithModel sets the default model
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func buildOptions(baseURL, model string, opts []Option) options {
	o := options{
		baseURL: baseURL,
		model:   model,
		// per-call deadlines come from the caller's context
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the client for a configured backend
func New(cfg config.BackendConfig) (Client, error) {
	opts := []Option{WithBaseURL(cfg.BaseURL), WithModel(cfg.Model)}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, opts...), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// APIError is a non-200 response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable returns true for transient errors (rate limit, server errors)
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}
