// Package pricing computes request costs from registry pricing metadata.
package pricing

import (
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/logger"
	"github.com/nulzo/relay/internal/registry"
	"github.com/nulzo/relay/pkg/schema"
)

const tokensPerUnit = 1_000_000

// Cost is one request's cost split by component. All values are USD.
type Cost struct {
	InputCost      float64 `json:"input_cost"`
	CachedCost     float64 `json:"cached_cost"`
	OutputCost     float64 `json:"output_cost"`
	CacheWriteCost float64 `json:"cache_write_cost"`
	Total          float64 `json:"total"`
}

// Service resolves pricing through the registry so cost calculations always
// see the current descriptor set.
type Service struct {
	registry *registry.Registry
}

func New(r *registry.Registry) *Service {
	return &Service{registry: r}
}

// Pricing returns the rate card for a model. A stale descriptor still
// prices requests; it is logged so operators re-verify the rates.
func (s *Service) Pricing(modelID string) (schema.ModelPricing, error) {
	m, err := s.registry.Get(modelID)
	if err != nil {
		return schema.ModelPricing{}, err
	}

	if stale, _ := s.registry.IsStale(modelID, time.Now().UTC()); stale {
		logger.Warn("pricing data unverified past threshold",
			zap.String("model", modelID),
			zap.Time("last_verified", m.Metadata.LastVerified))
	}

	return m.Pricing, nil
}

// CalculateCost prices a completed request. Cached prompt tokens are billed
// at the cache-read rate and subtracted from the regular input count; the
// remainder bills at the input rate. Invalid usage is rejected, never
// silently clamped.
func (s *Service) CalculateCost(modelID string, usage *schema.ResponseUsage) (*Cost, error) {
	m, err := s.registry.Get(modelID)
	if err != nil {
		return nil, err
	}

	if usage == nil {
		return nil, domain.InvalidUsage("usage is required to price %s", modelID)
	}
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 || usage.CachedPromptTokens < 0 {
		return nil, domain.InvalidUsage("token counts must be non-negative (prompt=%d, completion=%d, cached=%d)",
			usage.PromptTokens, usage.CompletionTokens, usage.CachedPromptTokens)
	}
	if usage.CachedPromptTokens > usage.PromptTokens {
		return nil, domain.InvalidUsage("cached tokens (%d) exceed prompt tokens (%d) for %s",
			usage.CachedPromptTokens, usage.PromptTokens, modelID)
	}

	caching := m.HasCapability(schema.CapPromptCaching)
	if usage.CachedPromptTokens > 0 && !caching {
		return nil, domain.InvalidUsage("model %s does not support prompt caching but reported %d cached tokens",
			modelID, usage.CachedPromptTokens)
	}

	cost := &Cost{}
	uncached := usage.PromptTokens - usage.CachedPromptTokens
	cost.InputCost = float64(uncached) / tokensPerUnit * m.Pricing.InputPer1M
	cost.OutputCost = float64(usage.CompletionTokens) / tokensPerUnit * m.Pricing.OutputPer1M

	if caching && usage.CachedPromptTokens > 0 && m.Pricing.CacheReadPer1M != nil {
		cost.CachedCost = float64(usage.CachedPromptTokens) / tokensPerUnit * *m.Pricing.CacheReadPer1M
	}
	if caching && usage.CacheWriteTokens > 0 && m.Pricing.CacheWritePer1M != nil {
		cost.CacheWriteCost = float64(usage.CacheWriteTokens) / tokensPerUnit * *m.Pricing.CacheWritePer1M
	}

	cost.Total = cost.InputCost + cost.CachedCost + cost.OutputCost + cost.CacheWriteCost
	return cost, nil
}

// CacheSavings reports how much the cache-read discount saved versus billing
// every prompt token at the full input rate. Zero when nothing was cached.
func (s *Service) CacheSavings(modelID string, usage *schema.ResponseUsage) (float64, error) {
	m, err := s.registry.Get(modelID)
	if err != nil {
		return 0, err
	}
	if usage == nil || usage.CachedPromptTokens <= 0 || m.Pricing.CacheReadPer1M == nil {
		return 0, nil
	}
	full := float64(usage.CachedPromptTokens) / tokensPerUnit * m.Pricing.InputPer1M
	discounted := float64(usage.CachedPromptTokens) / tokensPerUnit * *m.Pricing.CacheReadPer1M
	return full - discounted, nil
}
