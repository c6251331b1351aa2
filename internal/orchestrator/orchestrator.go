// Package orchestrator routes chat requests to the active provider and
// walks its fallback model list when calls fail. Fallback never crosses
// provider boundaries; switching vendors is a configuration change.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nulzo/relay/internal/cache"
	"github.com/nulzo/relay/internal/catalog"
	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/costtrack"
	"github.com/nulzo/relay/internal/logger"
	"github.com/nulzo/relay/internal/providers"
	"github.com/nulzo/relay/internal/registry"
	"github.com/nulzo/relay/pkg/schema"
)

const remoteListTTL = 5 * time.Minute

// Orchestrator owns one provider instance per enabled config block and
// sends all traffic through the active one.
type Orchestrator struct {
	cfg       *config.Config
	registry  *registry.Registry
	tracker   *costtrack.Tracker
	cache     cache.Cache
	instances map[string]providers.ModelProvider
	active    providers.ModelProvider
}

// New validates the configuration and constructs every enabled provider.
// Misconfiguration fails here, not on the first request.
func New(cfg *config.Config, reg *registry.Registry, tracker *costtrack.Tracker, c cache.Cache) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		tracker:   tracker,
		cache:     c,
		instances: make(map[string]providers.ModelProvider),
	}

	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		factory, err := providers.Get(pc.Type)
		if err != nil {
			return nil, domain.ConfigError("providers."+pc.ID+".type", err.Error())
		}
		instance, err := factory(pc)
		if err != nil {
			return nil, domain.ConfigError("providers."+pc.ID, err.Error())
		}
		o.instances[pc.ID] = instance
	}

	o.active = o.instances[cfg.ActiveProvider]
	return o, nil
}

// candidates returns the ordered model list for one request: the caller's
// preferred model first if given, then the configured fallback chain.
func (o *Orchestrator) candidates(req *schema.ChatRequest) []string {
	active, _ := o.cfg.Provider(o.cfg.ActiveProvider)

	out := make([]string, 0, len(active.FallbackModels)+1)
	seen := make(map[string]bool)
	if req.Model != "" {
		out = append(out, req.Model)
		seen[req.Model] = true
	}
	for _, m := range active.FallbackModels {
		if !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out
}

// resolve maps a catalog model id to the identifier the vendor API expects.
// Deprecated models still resolve, with a warning naming the replacement.
func (o *Orchestrator) resolve(modelID string) (string, error) {
	m, err := o.registry.Get(modelID)
	if err != nil {
		return "", err
	}
	if dep, replacement := o.registry.IsDeprecated(modelID); dep {
		logger.Warn("requested model is deprecated",
			zap.String("model", modelID),
			zap.String("replacement", replacement))
	}
	return m.APIIdentifier, nil
}

func (o *Orchestrator) ensureSession(req *schema.ChatRequest) {
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
}

// Send runs a synchronous completion, trying each candidate model in order
// until one succeeds. Every failed attempt is logged; exhaustion returns
// AllFallbacksFailedError wrapping the last failure.
func (o *Orchestrator) Send(ctx context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error) {
	o.ensureSession(req)

	var (
		attempted []string
		lastErr   error
	)

	for _, modelID := range o.candidates(req) {
		// Caller cancellation is not a model failure; stop the walk.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempted = append(attempted, modelID)

		apiID, err := o.resolve(modelID)
		if err != nil {
			lastErr = err
			logger.Warn("fallback candidate not in registry",
				zap.String("model", modelID))
			continue
		}

		attempt := *req
		attempt.Model = apiID

		resp, err := o.active.Chat(ctx, &attempt)
		if err != nil {
			lastErr = err
			logger.Warn("model attempt failed, falling back",
				zap.String("provider", o.cfg.ActiveProvider),
				zap.String("model", modelID),
				zap.Error(err))
			continue
		}

		resp.Model = modelID
		resp.Provider = o.cfg.ActiveProvider

		if err := o.logUsage(modelID, req.SessionID, resp.Usage); err != nil {
			return nil, err
		}
		return resp, nil
	}

	return nil, domain.AllFallbacksFailed(o.cfg.ActiveProvider, attempted, lastErr)
}

func (o *Orchestrator) logUsage(modelID, sessionID string, usage *schema.ResponseUsage) error {
	if o.tracker == nil || !o.cfg.CostTracking.Enabled {
		return nil
	}
	if usage == nil {
		logger.Warn("provider returned no usage, request not priced",
			zap.String("model", modelID))
		return nil
	}
	_, err := o.tracker.LogUsage(o.cfg.ActiveProvider, modelID, sessionID, usage)
	return err
}

// SendStream runs a streaming completion with the same fallback walk as
// Send. Each attempt is buffered until the vendor stream completes cleanly;
// only then are chunks released to the caller. A mid-stream failure discards
// the partial output and moves to the next candidate, so the consumer never
// sees spliced text from two models.
func (o *Orchestrator) SendStream(ctx context.Context, req *schema.ChatRequest) (<-chan providers.StreamResult, error) {
	o.ensureSession(req)
	out := make(chan providers.StreamResult)

	go func() {
		defer close(out)

		// Every send must bail out when the consumer is gone, or an
		// abandoned stream pins this goroutine forever.
		send := func(r providers.StreamResult) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			attempted []string
			lastErr   error
		)

		for _, modelID := range o.candidates(req) {
			// Caller cancellation is not a model failure; stop the walk.
			if err := ctx.Err(); err != nil {
				send(providers.StreamResult{Err: err})
				return
			}

			attempted = append(attempted, modelID)

			apiID, err := o.resolve(modelID)
			if err != nil {
				lastErr = err
				logger.Warn("fallback candidate not in registry",
					zap.String("model", modelID))
				continue
			}

			attempt := *req
			attempt.Model = apiID

			chunks, err := o.collect(ctx, &attempt)
			if err != nil {
				lastErr = err
				logger.Warn("stream attempt failed, falling back",
					zap.String("provider", o.cfg.ActiveProvider),
					zap.String("model", modelID),
					zap.Error(err))
				continue
			}

			usage := mergeUsage(chunks)
			if err := o.logUsage(modelID, req.SessionID, usage); err != nil {
				send(providers.StreamResult{Err: err})
				return
			}

			for _, chunk := range chunks {
				chunk.Model = modelID
				chunk.Provider = o.cfg.ActiveProvider
				if !send(providers.StreamResult{Response: chunk}) {
					return
				}
			}
			return
		}

		send(providers.StreamResult{
			Err: domain.AllFallbacksFailed(o.cfg.ActiveProvider, attempted, lastErr),
		})
	}()

	return out, nil
}

// collect drains one streaming attempt. Any error from the vendor mid-flight
// fails the whole attempt.
func (o *Orchestrator) collect(ctx context.Context, req *schema.ChatRequest) ([]*schema.ChatResponse, error) {
	ch, err := o.active.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var chunks []*schema.ChatResponse
	for result := range ch {
		if result.Err != nil {
			return nil, result.Err
		}
		chunks = append(chunks, result.Response)
	}
	return chunks, nil
}

// mergeUsage folds per-chunk usage into one record. Vendors split counts
// across chunks (input tokens early, output tokens late), so each non-zero
// field wins over an earlier zero.
func mergeUsage(chunks []*schema.ChatResponse) *schema.ResponseUsage {
	var merged *schema.ResponseUsage
	for _, c := range chunks {
		if c.Usage == nil {
			continue
		}
		if merged == nil {
			merged = &schema.ResponseUsage{}
		}
		if c.Usage.PromptTokens > 0 {
			merged.PromptTokens = c.Usage.PromptTokens
		}
		if c.Usage.CompletionTokens > 0 {
			merged.CompletionTokens = c.Usage.CompletionTokens
		}
		if c.Usage.CachedPromptTokens > 0 {
			merged.CachedPromptTokens = c.Usage.CachedPromptTokens
		}
		if c.Usage.CacheWriteTokens > 0 {
			merged.CacheWriteTokens = c.Usage.CacheWriteTokens
		}
	}
	if merged != nil {
		merged.TotalTokens = merged.PromptTokens + merged.CompletionTokens
	}
	return merged
}

// AvailableModels lists every registered descriptor.
func (o *Orchestrator) AvailableModels() []schema.ModelDescriptor {
	return o.registry.List()
}

// SearchModels matches descriptors against a free-text query.
func (o *Orchestrator) SearchModels(query string) []schema.ModelDescriptor {
	return o.registry.Search(query)
}

// Model returns one descriptor with its deprecation status.
func (o *Orchestrator) Model(id string) (schema.ModelDescriptor, bool, string, error) {
	m, err := o.registry.Get(id)
	if err != nil {
		return schema.ModelDescriptor{}, false, "", err
	}
	dep, replacement := o.registry.IsDeprecated(id)
	return m, dep, replacement, nil
}

// RemoteModels queries a provider's live model list, cached briefly so
// repeated listing calls don't hammer the vendor.
func (o *Orchestrator) RemoteModels(ctx context.Context, providerID string) ([]string, error) {
	instance, ok := o.instances[providerID]
	if !ok {
		return nil, domain.ConfigError("provider", fmt.Sprintf("%q is not configured or not enabled", providerID))
	}

	key := "remote-models:" + providerID
	if o.cache != nil {
		if data, err := o.cache.Get(ctx, key); err == nil {
			var ids []string
			if json.Unmarshal(data, &ids) == nil {
				return ids, nil
			}
		}
	}

	ids, err := instance.Models(ctx)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		if data, err := json.Marshal(ids); err == nil {
			_ = o.cache.Set(ctx, key, data, remoteListTTL)
		}
	}
	return ids, nil
}

// RefreshModels reconciles the registry against every enabled provider and
// persists the merged catalog so discoveries survive restarts.
func (o *Orchestrator) RefreshModels(ctx context.Context) ([]*registry.RefreshResult, error) {
	results := make([]*registry.RefreshResult, 0, len(o.instances))
	for id, instance := range o.instances {
		result, err := o.registry.Refresh(ctx, instance)
		if err != nil {
			logger.Error("refresh failed for provider",
				zap.String("provider", id), zap.Error(err))
			continue
		}
		results = append(results, result)

		if o.cache != nil {
			_ = o.cache.Delete(ctx, "remote-models:"+id)
		}
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("refresh failed for every provider")
	}

	if o.cfg.CatalogDir != "" {
		path := filepath.Join(o.cfg.CatalogDir, "registry.yaml")
		if err := catalog.Save(path, o.registry.Snapshot()); err != nil {
			logger.Error("failed to persist refreshed catalog",
				zap.String("path", path), zap.Error(err))
		}
	}

	return results, nil
}

// SessionCost reports the accumulated spend for a session.
func (o *Orchestrator) SessionCost(sessionID string) float64 {
	if o.tracker == nil {
		return 0
	}
	return o.tracker.SessionCost(sessionID)
}

// SessionRecords returns a session's priced requests.
func (o *Orchestrator) SessionRecords(sessionID string) []costtrack.UsageRecord {
	if o.tracker == nil {
		return nil
	}
	return o.tracker.SessionRecords(sessionID)
}

// UsageReport aggregates spend over a date range.
func (o *Orchestrator) UsageReport(from, to time.Time) *costtrack.Report {
	if o.tracker == nil {
		return &costtrack.Report{From: from, To: to}
	}
	return o.tracker.Report(from, to)
}

// ExportUsage streams the full usage ledger.
func (o *Orchestrator) ExportUsage(w io.Writer, format costtrack.ExportFormat) error {
	if o.tracker == nil {
		return fmt.Errorf("cost tracking is disabled")
	}
	return o.tracker.Export(w, format)
}
