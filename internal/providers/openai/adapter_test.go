package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/pkg/schema"
)

func adapterFor(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	p, err := NewAdapter(config.ProviderConfig{
		ID:      "openai-test",
		Type:    "openai",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return p.(*Adapter)
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var wire map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, "gpt-4o", wire["model"])
		// orchestrator-only fields never cross the wire
		assert.NotContains(t, wire, "session_id")

		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],
			"usage": {
				"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25,
				"prompt_tokens_details": {"cached_tokens": 12}
			}
		}`))
	}))
	defer srv.Close()

	a := adapterFor(t, srv)
	resp, err := a.Chat(context.Background(), &schema.ChatRequest{
		Model:     "gpt-4o",
		SessionID: "sess-1",
		Messages:  []schema.ChatMessage{{Role: "user", Content: schema.Content{Text: "hello"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "openai-test", resp.Provider)
	assert.Equal(t, "hi", resp.ContentText())
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 20, resp.Usage.PromptTokens)
	assert.Equal(t, 12, resp.Usage.CachedPromptTokens)
}

func TestChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	a := adapterFor(t, srv)
	_, err := a.Chat(context.Background(), &schema.ChatRequest{
		Model:    "gpt-4o",
		Messages: []schema.ChatMessage{{Role: "user", Content: schema.Content{Text: "hello"}}},
	})

	var provErr *domain.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "openai-test", provErr.Provider)
	assert.Equal(t, "Rate limit reached", provErr.Message)
}

func TestChatUnparsableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream proxy error"))
	}))
	defer srv.Close()

	a := adapterFor(t, srv)
	_, err := a.Chat(context.Background(), &schema.ChatRequest{
		Model:    "gpt-4o",
		Messages: []schema.ChatMessage{{Role: "user", Content: schema.Content{Text: "hello"}}},
	})

	var provErr *domain.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Message, "upstream status 502")
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, true, wire["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`data: {"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	a := adapterFor(t, srv)
	ch, err := a.Stream(context.Background(), &schema.ChatRequest{
		Model:    "gpt-4o",
		Messages: []schema.ChatMessage{{Role: "user", Content: schema.Content{Text: "hello"}}},
	})
	require.NoError(t, err)

	var text string
	var usage *schema.ResponseUsage
	for result := range ch {
		require.NoError(t, result.Err)
		for _, choice := range result.Response.Choices {
			if choice.Delta != nil {
				text += choice.Delta.Content.Text
			}
		}
		if result.Response.Usage != nil {
			usage = result.Response.Usage
		}
	}

	assert.Equal(t, "Hello", text)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	a := adapterFor(t, srv)
	ids, err := a.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, ids)
}

func TestValidateModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/gpt-4o" {
			_, _ = w.Write([]byte(`{"id":"gpt-4o"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"The model does not exist"}}`))
	}))
	defer srv.Close()

	a := adapterFor(t, srv)
	assert.NoError(t, a.Validate(context.Background(), "gpt-4o"))
	assert.Error(t, a.Validate(context.Background(), "gpt-5-nope"))
}
