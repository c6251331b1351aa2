package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/providers"
	"github.com/nulzo/relay/internal/providers/httpclient"
	"github.com/nulzo/relay/pkg/schema"
)

func init() {
	providers.Register("openai", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (providers.ModelProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "openai" }

// wireRequest is the OpenAI chat completions payload. The normalized request
// is already OpenAI-shaped; this strips orchestrator-only fields.
type wireRequest struct {
	Model          string                 `json:"model"`
	Messages       []schema.ChatMessage   `json:"messages"`
	ResponseFormat *schema.ResponseFormat `json:"response_format,omitempty"`
	Stop           *schema.Stop           `json:"stop,omitempty"`
	Stream         bool                   `json:"stream,omitempty"`
	StreamOptions  *streamOptions         `json:"stream_options,omitempty"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    float64                `json:"temperature,omitempty"`
	TopP           float64                `json:"top_p,omitempty"`
	Seed           int                    `json:"seed,omitempty"`
	Tools          []schema.Tool          `json:"tools,omitempty"`
	ToolChoice     interface{}            `json:"tool_choice,omitempty"`
	User           string                 `json:"user,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func toWire(req *schema.ChatRequest) wireRequest {
	return wireRequest{
		Model:          req.Model,
		Messages:       req.Messages,
		ResponseFormat: req.ResponseFormat,
		Stop:           req.Stop,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		Seed:           req.Seed,
		Tools:          req.Tools,
		ToolChoice:     req.ToolChoice,
		User:           req.User,
	}
}

// wireResponse mirrors the chat completions response, including the cached
// token detail OpenAI reports under prompt_tokens_details.
type wireResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []schema.Choice `json:"choices"`
	Usage   *wireUsage      `json:"usage"`
}

type wireUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (w *wireResponse) normalize(provider string) *schema.ChatResponse {
	resp := &schema.ChatResponse{
		ID:       w.ID,
		Object:   w.Object,
		Created:  w.Created,
		Model:    w.Model,
		Provider: provider,
		Choices:  w.Choices,
	}
	if w.Usage != nil {
		resp.Usage = &schema.ResponseUsage{
			PromptTokens:     w.Usage.PromptTokens,
			CompletionTokens: w.Usage.CompletionTokens,
			TotalTokens:      w.Usage.TotalTokens,
		}
		if w.Usage.PromptTokensDetails != nil {
			resp.Usage.CachedPromptTokens = w.Usage.PromptTokensDetails.CachedTokens
		}
	}
	return resp
}

// upstreamErrorResponse mirrors the standard OpenAI error shape
type upstreamErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Param   interface{} `json:"param"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

func (a *Adapter) wrapError(model string, err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return domain.NewProviderError(a.config.ID, model, err.Error(), err)
	}

	// parse the specific upstream error format
	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr != nil || apiErr.Error.Message == "" {
		return domain.NewProviderError(a.config.ID, model,
			fmt.Sprintf("upstream status %d", upstreamErr.StatusCode), err)
	}

	return domain.NewProviderError(a.config.ID, model, apiErr.Error.Message, err)
}

func (a *Adapter) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + a.config.APIKey,
	}
	if org, ok := a.config.Config["organization"]; ok {
		h["OpenAI-Organization"] = org
	}
	return h
}

func (a *Adapter) Chat(ctx context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error) {
	var resp wireResponse
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(a.config.BaseURL, "/"))

	wire := toWire(req)
	wire.Stream = false

	if err := httpclient.SendRequest(ctx, a.client, "POST", url, a.headers(), wire, &resp); err != nil {
		return nil, a.wrapError(req.Model, err)
	}

	return resp.normalize(a.config.ID), nil
}

func (a *Adapter) Stream(ctx context.Context, req *schema.ChatRequest) (<-chan providers.StreamResult, error) {
	ch := make(chan providers.StreamResult)

	wire := toWire(req)
	wire.Stream = true
	wire.StreamOptions = &streamOptions{IncludeUsage: true}
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(a.config.BaseURL, "/"))

	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, a.client, "POST", url, a.headers(), wire, func(line string) error {
			// SSE format: data: {...}
			if !strings.HasPrefix(line, "data: ") {
				return nil
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return nil
			}

			var chunk wireResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// skip malformed keep-alive lines
				return nil
			}

			select {
			case ch <- providers.StreamResult{Response: chunk.normalize(a.config.ID)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if err != nil {
			ch <- providers.StreamResult{Err: a.wrapError(req.Model, err)}
		}
	}()

	return ch, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	url := fmt.Sprintf("%s/models", strings.TrimRight(a.config.BaseURL, "/"))

	if err := httpclient.SendRequest(ctx, a.client, "GET", url, a.headers(), nil, &resp); err != nil {
		return nil, a.wrapError("", err)
	}

	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (a *Adapter) Validate(ctx context.Context, model string) error {
	url := fmt.Sprintf("%s/models/%s", strings.TrimRight(a.config.BaseURL, "/"), model)
	if err := httpclient.SendRequest(ctx, a.client, "GET", url, a.headers(), nil, nil); err != nil {
		return a.wrapError(model, err)
	}
	return nil
}
