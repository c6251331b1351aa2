package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/relay/internal/cache"
	"github.com/nulzo/relay/internal/catalog"
	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/costtrack"
	"github.com/nulzo/relay/internal/logger"
	"github.com/nulzo/relay/internal/orchestrator"
	"github.com/nulzo/relay/internal/pricing"
	"github.com/nulzo/relay/internal/providers"
	"github.com/nulzo/relay/internal/registry"
	"github.com/nulzo/relay/pkg/schema"
)

type stubProvider struct {
	name    string
	failAll bool
}

var stub = &stubProvider{}

func init() {
	gin.SetMode(gin.TestMode)
	providers.Register("stub", func(cfg config.ProviderConfig) (providers.ModelProvider, error) {
		stub.name = cfg.ID
		return stub, nil
	})
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Type() string { return "stub" }

func (s *stubProvider) Chat(_ context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error) {
	if s.failAll {
		return nil, errors.New("vendor unavailable")
	}
	return &schema.ChatResponse{
		ID:     "resp-1",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []schema.Choice{{
			Message:      &schema.ChatMessage{Role: "assistant", Content: schema.Content{Text: "pong"}},
			FinishReason: "stop",
		}},
		Usage: &schema.ResponseUsage{PromptTokens: 50, CompletionTokens: 5, TotalTokens: 55},
	}, nil
}

func (s *stubProvider) Stream(_ context.Context, _ *schema.ChatRequest) (<-chan providers.StreamResult, error) {
	ch := make(chan providers.StreamResult, 2)
	if s.failAll {
		ch <- providers.StreamResult{Err: errors.New("vendor unavailable")}
		close(ch)
		return ch, nil
	}
	ch <- providers.StreamResult{Response: &schema.ChatResponse{
		Object:  "chat.completion.chunk",
		Choices: []schema.Choice{{Delta: &schema.ChatMessage{Content: schema.Content{Text: "pong"}}, FinishReason: "stop"}},
		Usage:   &schema.ResponseUsage{PromptTokens: 50, CompletionTokens: 5},
	}}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Models(context.Context) ([]string, error) {
	return []string{"alpha-api", "beta-api"}, nil
}

func (s *stubProvider) Validate(context.Context, string) error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	stub.failAll = false

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:    "0",
			Env:     "development",
			APIKeys: []string{"test-key"},
		},
		RateLimit:      config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		ActiveProvider: "stub-main",
		CatalogDir:     t.TempDir(),
		Providers: []config.ProviderConfig{{
			ID:             "stub-main",
			Type:           "stub",
			Enabled:        true,
			FallbackModels: []string{"stub-main/alpha", "stub-main/beta"},
		}},
		CostTracking: config.CostTrackingConfig{Enabled: true, LogPath: "unused"},
	}

	now := time.Now().UTC()
	reg := registry.New(&catalog.File{Models: []schema.ModelDescriptor{
		{
			ID:            "stub-main/alpha",
			Provider:      "stub-main",
			APIIdentifier: "alpha-api",
			Metadata:      schema.ModelMetadata{LastVerified: now},
			Capabilities:  []schema.CapabilityTag{schema.CapTextInput, schema.CapTextOutput, schema.CapVision},
			Pricing:       schema.ModelPricing{InputPer1M: 1, OutputPer1M: 2},
		},
		{
			ID:            "stub-main/beta",
			Provider:      "stub-main",
			APIIdentifier: "beta-api",
			Metadata:      schema.ModelMetadata{LastVerified: now},
			Capabilities:  []schema.CapabilityTag{schema.CapTextInput, schema.CapTextOutput},
			Pricing:       schema.ModelPricing{InputPer1M: 3, OutputPer1M: 6},
		},
	}})

	tracker := costtrack.NewTracker(pricing.New(reg))
	orch, err := orchestrator.New(cfg, reg, tracker, cache.NewMemory())
	require.NoError(t, err)

	return New(cfg, logger.Get(), orch)
}

// closeNotifyRecorder adds http.CloseNotifier to httptest.ResponseRecorder so
// gin's Context.Stream can type-assert the writer during streaming tests.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return c.closed }

func do(s *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer test-key")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(&closeNotifyRecorder{ResponseRecorder: w, closed: make(chan bool, 1)}, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s := testServer(t)
	w := do(s, "GET", "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := testServer(t)

	w := do(s, "GET", "/v1/models", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatCompletion(t *testing.T) {
	s := testServer(t)

	body := `{"messages":[{"role":"user","content":"ping"}]}`
	w := do(s, "POST", "/v1/chat/completions", body, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Session-ID"))

	var resp schema.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "stub-main/alpha", resp.Model)
	assert.Equal(t, "pong", resp.ContentText())
}

func TestChatCompletionValidation(t *testing.T) {
	s := testServer(t)

	w := do(s, "POST", "/v1/chat/completions", `{"messages":[]}`, true)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "Validation Error", problem["title"])
	assert.Contains(t, problem, "errors")
}

func TestChatCompletionExhaustionIs502(t *testing.T) {
	s := testServer(t)
	stub.failAll = true

	body := `{"messages":[{"role":"user","content":"ping"}]}`
	w := do(s, "POST", "/v1/chat/completions", body, true)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "All Fallbacks Failed", problem["title"])
	assert.Contains(t, problem, "attempted")
}

func TestChatCompletionStreaming(t *testing.T) {
	s := testServer(t)

	body := `{"stream":true,"messages":[{"role":"user","content":"ping"}]}`
	w := do(s, "POST", "/v1/chat/completions", body, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, "data: {")
	assert.Contains(t, out, "pong")
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestListModelsWithFilters(t *testing.T) {
	s := testServer(t)

	w := do(s, "GET", "/v1/models", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []schema.ModelDescriptor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)

	w = do(s, "GET", "/v1/models?capability=vision", "", true)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "stub-main/alpha", resp.Data[0].ID)
}

func TestGetModel(t *testing.T) {
	s := testServer(t)

	w := do(s, "GET", "/v1/models/stub-main/alpha", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Model      schema.ModelDescriptor `json:"model"`
		Deprecated bool                   `json:"deprecated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alpha-api", resp.Model.APIIdentifier)
	assert.False(t, resp.Deprecated)

	w = do(s, "GET", "/v1/models/stub-main/nope", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	s := testServer(t)

	w := do(s, "POST", "/v1/refresh", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []registry.RefreshResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.ElementsMatch(t, []string{"stub-main/alpha", "stub-main/beta"}, resp.Results[0].Verified)
}

func TestUsageSessionFlow(t *testing.T) {
	s := testServer(t)

	body := `{"session_id":"sess-http","messages":[{"role":"user","content":"ping"}]}`
	w := do(s, "POST", "/v1/chat/completions", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, "GET", "/v1/usage/sessions/sess-http", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string                  `json:"session_id"`
		TotalCost float64                 `json:"total_cost"`
		Records   []costtrack.UsageRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess-http", resp.SessionID)
	assert.Greater(t, resp.TotalCost, 0.0)
	assert.Len(t, resp.Records, 1)
}

func TestUsageReportAndExport(t *testing.T) {
	s := testServer(t)

	body := `{"messages":[{"role":"user","content":"ping"}]}`
	w := do(s, "POST", "/v1/chat/completions", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, "GET", "/v1/usage", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var report costtrack.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Requests)

	w = do(s, "GET", "/v1/usage?from=not-a-time", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, "POST", "/v1/usage/export?format=csv", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,timestamp,session_id"))

	w = do(s, "POST", "/v1/usage/export?format=xml", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
