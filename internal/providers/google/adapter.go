package google

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
	providers.Register("google", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (providers.ModelProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "google" }

type geminiPart struct {
	Text string `json:"text,omitempty"`
}
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}
type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}
type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}
type geminiUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

func toGeminiReq(req *schema.ChatRequest) geminiRequest {
	gr := geminiRequest{}
	for _, m := range req.Messages {
		if m.Role == "system" {
			gr.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Content.Text}},
			}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content.Text}},
		})
	}
	if req.Temperature != 0 || req.TopP != 0 || req.MaxTokens != 0 {
		gr.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return gr
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "":
		return ""
	default:
		return strings.ToLower(reason)
	}
}

func (g *geminiResponse) normalize(provider, model string, chunk bool) *schema.ChatResponse {
	object := "chat.completion"
	if chunk {
		object = "chat.completion.chunk"
	}
	resp := &schema.ChatResponse{
		ID:       fmt.Sprintf("gemini-%d", time.Now().UnixNano()),
		Object:   object,
		Created:  time.Now().Unix(),
		Model:    model,
		Provider: provider,
	}
	if len(g.Candidates) > 0 {
		text := ""
		for _, p := range g.Candidates[0].Content.Parts {
			text += p.Text
		}
		msg := &schema.ChatMessage{Role: "assistant", Content: schema.Content{Text: text}}
		choice := schema.Choice{
			Index:        0,
			FinishReason: normalizeFinishReason(g.Candidates[0].FinishReason),
		}
		if chunk {
			choice.Delta = msg
		} else {
			choice.Message = msg
		}
		resp.Choices = []schema.Choice{choice}
	}
	if g.UsageMetadata != nil {
		resp.Usage = &schema.ResponseUsage{
			PromptTokens:       g.UsageMetadata.PromptTokenCount,
			CompletionTokens:   g.UsageMetadata.CandidatesTokenCount,
			TotalTokens:        g.UsageMetadata.TotalTokenCount,
			CachedPromptTokens: g.UsageMetadata.CachedContentTokenCount,
		}
	}
	return resp
}

type upstreamErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (a *Adapter) wrapError(model string, err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return domain.NewProviderError(a.config.ID, model, err.Error(), err)
	}

	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr != nil || apiErr.Error.Message == "" {
		return domain.NewProviderError(a.config.ID, model,
			fmt.Sprintf("upstream status %d", upstreamErr.StatusCode), err)
	}

	return domain.NewProviderError(a.config.ID, model, apiErr.Error.Message, err)
}

func (a *Adapter) Chat(ctx context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error) {
	gr := toGeminiReq(req)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(a.config.BaseURL, "/"),
		req.Model,
		a.config.APIKey,
	)

	var gResp geminiResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", url, nil, gr, &gResp); err != nil {
		return nil, a.wrapError(req.Model, err)
	}

	if len(gResp.Candidates) == 0 {
		return nil, domain.NewProviderError(a.config.ID, req.Model, "no candidates returned", nil)
	}

	return gResp.normalize(a.config.ID, req.Model, false), nil
}

func (a *Adapter) Stream(ctx context.Context, req *schema.ChatRequest) (<-chan providers.StreamResult, error) {
	ch := make(chan providers.StreamResult)
	gr := toGeminiReq(req)

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		strings.TrimRight(a.config.BaseURL, "/"),
		req.Model,
		a.config.APIKey,
	)

	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, a.client, "POST", url, nil, gr, func(line string) error {
			if !strings.HasPrefix(line, "data: ") {
				return nil
			}
			data := strings.TrimPrefix(line, "data: ")

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return nil
			}

			select {
			case ch <- providers.StreamResult{Response: chunk.normalize(a.config.ID, req.Model, true)}:
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

func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/models?key=%s", strings.TrimRight(a.config.BaseURL, "/"), a.config.APIKey)
	var list struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := httpclient.SendRequest(ctx, a.client, "GET", url, nil, nil, &list); err != nil {
		return nil, a.wrapError("", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

func (a *Adapter) Validate(ctx context.Context, model string) error {
	url := fmt.Sprintf("%s/models/%s?key=%s", strings.TrimRight(a.config.BaseURL, "/"), model, a.config.APIKey)
	if err := httpclient.SendRequest(ctx, a.client, "GET", url, nil, nil, nil); err != nil {
		return a.wrapError(model, err)
	}
	return nil
}
