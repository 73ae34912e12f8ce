package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/retry"
)

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-mock", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "big-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "write a post", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello from mock!"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-mock", WithBaseURL(srv.URL+"/"), WithModel("small-model"))
	out, err := c.Complete(context.Background(), Request{
		Model:  "big-model",
		System: "you write posts",
		Prompt: "write a post",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from mock!", out)
}

func TestOpenAIClient_DefaultModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "small-model", req.Model)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk", WithBaseURL(srv.URL), WithModel("small-model"))
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
}

func TestOpenAIClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusBadGateway, false},
		{"bad request", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			c := NewOpenAIClient("sk", WithBaseURL(srv.URL))
			_, err := c.Complete(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	assert.ErrorContains(t, err, "no choices")
}

func TestAnthropicClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "judge", req.System)
		assert.Equal(t, 1024, req.MaxTokens)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"score\": "},{"type":"text","text":"72}"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", WithBaseURL(srv.URL))
	out, err := c.Complete(context.Background(), Request{System: "judge", Prompt: "score this"})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 72}`, out)
}

func TestNew_Providers(t *testing.T) {
	c, err := New(config.BackendConfig{Provider: "openai", BaseURL: "http://x", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = New(config.BackendConfig{Provider: "anthropic"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)
	assert.Equal(t, "https://api.anthropic.com/v1", c.(*AnthropicClient).opts.baseURL)

	_, err = New(config.BackendConfig{Provider: "stub"})
	assert.Error(t, err)
}
