package anthropic

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

const defaultVersion = "2023-06-01"

func init() {
	providers.Register("anthropic", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (providers.ModelProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "anthropic" }

type message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []contentBlock
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type response struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // "image/jpeg"
	Data      string `json:"data"`
}

type usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type streamEvent struct {
	Type    string    `json:"type"`
	Delta   *delta    `json:"delta,omitempty"`
	Index   int       `json:"index,omitempty"`
	Usage   *usage    `json:"usage,omitempty"`   // for message_delta
	Message *response `json:"message,omitempty"` // for message_start
}

type delta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Convert normalized -> Anthropic. System turns become the system prompt;
// multipart content maps to content blocks.
func toAnthropicReq(req *schema.ChatRequest) request {
	ar := request{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if ar.MaxTokens == 0 {
		ar.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			ar.System += m.Content.Text + "\n"
			continue
		}

		var blocks []contentBlock

		if m.Content.Text != "" && len(m.Content.Parts) == 0 {
			blocks = append(blocks, contentBlock{Type: "text", Text: m.Content.Text})
		}

		for _, part := range m.Content.Parts {
			if part.Type == "text" {
				blocks = append(blocks, contentBlock{Type: "text", Text: part.Text})
			}
		}

		if len(blocks) > 0 {
			ar.Messages = append(ar.Messages, message{Role: m.Role, Content: blocks})
		}
	}
	return ar
}

type upstreamErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
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

func (a *Adapter) headers() map[string]string {
	h := map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": defaultVersion,
	}
	if v, ok := a.config.Config["version"]; ok {
		h["anthropic-version"] = v
	}
	return h
}

func (a *Adapter) Chat(ctx context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error) {
	ar := toAnthropicReq(req)
	ar.Stream = false

	var anthroResp response
	url := fmt.Sprintf("%s/messages", strings.TrimRight(a.config.BaseURL, "/"))
	if err := httpclient.SendRequest(ctx, a.client, "POST", url, a.headers(), ar, &anthroResp); err != nil {
		return nil, a.wrapError(req.Model, err)
	}

	fullText := ""
	for _, c := range anthroResp.Content {
		if c.Type == "text" {
			fullText += c.Text
		}
	}

	return &schema.ChatResponse{
		ID:       anthroResp.ID,
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Model:    anthroResp.Model,
		Provider: a.config.ID,
		Choices: []schema.Choice{{
			Index: 0,
			Message: &schema.ChatMessage{
				Role:    "assistant",
				Content: schema.Content{Text: fullText},
			},
			FinishReason: normalizeStopReason(anthroResp.StopReason),
		}},
		Usage: &schema.ResponseUsage{
			PromptTokens:       anthroResp.Usage.InputTokens,
			CompletionTokens:   anthroResp.Usage.OutputTokens,
			TotalTokens:        anthroResp.Usage.InputTokens + anthroResp.Usage.OutputTokens,
			CachedPromptTokens: anthroResp.Usage.CacheReadInputTokens,
			CacheWriteTokens:   anthroResp.Usage.CacheCreationInputTokens,
		},
	}, nil
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func (a *Adapter) Stream(ctx context.Context, req *schema.ChatRequest) (<-chan providers.StreamResult, error) {
	ch := make(chan providers.StreamResult)
	ar := toAnthropicReq(req)
	ar.Stream = true

	url := fmt.Sprintf("%s/messages", strings.TrimRight(a.config.BaseURL, "/"))

	go func() {
		defer close(ch)

		send := func(resp *schema.ChatResponse) error {
			resp.Provider = a.config.ID
			resp.Object = "chat.completion.chunk"
			select {
			case ch <- providers.StreamResult{Response: resp}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := httpclient.StreamRequest(ctx, a.client, "POST", url, a.headers(), ar, func(line string) error {
			if !strings.HasPrefix(line, "data: ") {
				return nil
			}
			data := strings.TrimPrefix(line, "data: ")

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return nil
			}

			// Map Anthropic events to normalized chunks
			switch event.Type {
			case "message_start":
				if event.Message != nil {
					// Input and cache token counts arrive here
					return send(&schema.ChatResponse{
						ID:    event.Message.ID,
						Model: event.Message.Model,
						Usage: &schema.ResponseUsage{
							PromptTokens:       event.Message.Usage.InputTokens,
							CachedPromptTokens: event.Message.Usage.CacheReadInputTokens,
							CacheWriteTokens:   event.Message.Usage.CacheCreationInputTokens,
						},
					})
				}
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" {
					return send(&schema.ChatResponse{
						Choices: []schema.Choice{{
							Delta: &schema.ChatMessage{
								Content: schema.Content{Text: event.Delta.Text},
							},
						}},
					})
				}
			case "message_delta":
				// Output tokens and stop reason arrive here
				resp := &schema.ChatResponse{}
				if event.Usage != nil {
					resp.Usage = &schema.ResponseUsage{
						CompletionTokens: event.Usage.OutputTokens,
					}
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					resp.Choices = []schema.Choice{{
						Delta:        &schema.ChatMessage{},
						FinishReason: normalizeStopReason(event.Delta.StopReason),
					}}
				}
				if resp.Usage != nil || len(resp.Choices) > 0 {
					return send(resp)
				}
			case "message_stop":
				return send(&schema.ChatResponse{
					Choices: []schema.Choice{{
						FinishReason: "stop",
						Delta:        &schema.ChatMessage{},
					}},
				})
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
	url := fmt.Sprintf("%s/models?limit=100", strings.TrimRight(a.config.BaseURL, "/"))

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
