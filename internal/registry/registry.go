// Package registry holds the in-memory model descriptor index. It is the
// single source of truth for which models exist, what they cost, and whether
// they are still offered upstream.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/relay/internal/catalog"
	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/logger"
	"github.com/nulzo/relay/internal/providers"
	"github.com/nulzo/relay/pkg/schema"
)

// DefaultStaleThreshold is how long a descriptor can go unverified before
// it is reported stale.
const DefaultStaleThreshold = 90 * 24 * time.Hour

// Registry is a concurrency-safe descriptor store. Descriptors are never
// deleted at runtime; withdrawal upstream is recorded as a deprecation flag
// so historical cost data keeps resolving.
type Registry struct {
	mu         sync.RWMutex
	models     map[string]schema.ModelDescriptor
	order      []string
	deprecated map[string]string // model id -> replacement id ("" if none)
	staleAfter time.Duration
}

type Option func(*Registry)

// WithStaleThreshold overrides the verification staleness window.
func WithStaleThreshold(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// New builds a registry from a loaded catalog.
func New(f *catalog.File, opts ...Option) *Registry {
	r := &Registry{
		models:     make(map[string]schema.ModelDescriptor, len(f.Models)),
		deprecated: make(map[string]string, len(f.Deprecations)),
		staleAfter: DefaultStaleThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, m := range f.Models {
		r.upsertLocked(m)
	}
	for _, d := range f.Deprecations {
		r.deprecated[d.ModelID] = d.ReplacementID
	}
	return r
}

func (r *Registry) upsertLocked(m schema.ModelDescriptor) {
	if _, exists := r.models[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.models[m.ID] = m
}

// Upsert inserts or replaces a descriptor.
func (r *Registry) Upsert(m schema.ModelDescriptor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(m)
	return nil
}

// Get returns the descriptor for a model id. Deprecated models still
// resolve; callers that care check IsDeprecated.
func (r *Registry) Get(id string) (schema.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return schema.ModelDescriptor{}, domain.ModelNotFound(id)
	}
	return m, nil
}

// List returns every descriptor in catalog order.
func (r *Registry) List() []schema.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.ModelDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// ByProvider returns the descriptors belonging to one provider.
func (r *Registry) ByProvider(provider string) []schema.ModelDescriptor {
	return r.filter(func(m schema.ModelDescriptor) bool {
		return m.Provider == provider
	})
}

// ByCapability returns the descriptors carrying a capability tag.
func (r *Registry) ByCapability(tag schema.CapabilityTag) []schema.ModelDescriptor {
	return r.filter(func(m schema.ModelDescriptor) bool {
		return m.HasCapability(tag)
	})
}

// ByCostTier returns the descriptors in a cost tier.
func (r *Registry) ByCostTier(tier schema.CostTier) []schema.ModelDescriptor {
	return r.filter(func(m schema.ModelDescriptor) bool {
		return m.Optimization.CostTier == tier
	})
}

// Search matches the query case-insensitively against model ids,
// API identifiers, and recommended-for entries.
func (r *Registry) Search(query string) []schema.ModelDescriptor {
	q := strings.ToLower(query)
	return r.filter(func(m schema.ModelDescriptor) bool {
		if strings.Contains(strings.ToLower(m.ID), q) {
			return true
		}
		if strings.Contains(strings.ToLower(m.APIIdentifier), q) {
			return true
		}
		for _, rec := range m.Optimization.RecommendedFor {
			if strings.Contains(strings.ToLower(rec), q) {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filter(keep func(schema.ModelDescriptor) bool) []schema.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []schema.ModelDescriptor
	for _, id := range r.order {
		if m := r.models[id]; keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// IsDeprecated reports whether a model has been withdrawn upstream and, if
// known, which model replaces it.
func (r *Registry) IsDeprecated(id string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	replacement, ok := r.deprecated[id]
	return ok, replacement
}

// Deprecate flags a model as withdrawn. The descriptor stays in the index.
func (r *Registry) Deprecate(id, replacement string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return domain.ModelNotFound(id)
	}
	r.deprecated[id] = replacement
	return nil
}

// Deprecations returns the current deprecation records, sorted by model id.
func (r *Registry) Deprecations() []catalog.Deprecation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]catalog.Deprecation, 0, len(r.deprecated))
	for id, repl := range r.deprecated {
		out = append(out, catalog.Deprecation{ModelID: id, ReplacementID: repl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// IsStale reports whether a descriptor's pricing has gone unverified past
// the threshold. A descriptor verified exactly at the boundary is not stale.
func (r *Registry) IsStale(id string, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return false, domain.ModelNotFound(id)
	}
	return now.Sub(m.Metadata.LastVerified) > r.staleAfter, nil
}

// Stale returns the ids of every descriptor past the verification window.
func (r *Registry) Stale(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		if now.Sub(r.models[id].Metadata.LastVerified) > r.staleAfter {
			out = append(out, id)
		}
	}
	return out
}

// RefreshResult summarizes one reconciliation pass against a provider.
type RefreshResult struct {
	Provider   string   `json:"provider"`
	Verified   []string `json:"verified,omitempty"`
	Added      []string `json:"added,omitempty"`
	Deprecated []string `json:"deprecated,omitempty"`
	Skipped    bool     `json:"skipped,omitempty"`
}

// Refresh reconciles this registry against a provider's live model list.
// Registered models still offered get their last_verified bumped; models
// the vendor no longer lists are flagged deprecated; unrecognized live
// models get a stub descriptor with zero pricing so operators notice them.
// Fine-tuned models are ignored. An empty live list is treated as a vendor
// side hiccup and skipped rather than deprecating the whole catalog.
func (r *Registry) Refresh(ctx context.Context, p providers.ModelProvider) (*RefreshResult, error) {
	live, err := p.Models(ctx)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{Provider: p.Name()}

	liveSet := make(map[string]bool, len(live))
	for _, id := range live {
		if catalog.IsFineTune(id) {
			continue
		}
		liveSet[id] = true
	}

	if len(liveSet) == 0 {
		logger.Warn("refresh returned no models, skipping reconciliation",
			zap.String("provider", p.Name()))
		result.Skipped = true
		return result, nil
	}

	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[string]bool)
	for _, id := range r.order {
		m := r.models[id]
		if m.Provider != p.Name() {
			continue
		}
		known[m.APIIdentifier] = true

		if liveSet[m.APIIdentifier] {
			m.Metadata.LastVerified = now
			r.models[id] = m
			delete(r.deprecated, id)
			result.Verified = append(result.Verified, id)
			continue
		}

		if _, already := r.deprecated[id]; !already {
			r.deprecated[id] = ""
			result.Deprecated = append(result.Deprecated, id)
			logger.Warn("model withdrawn upstream, flagging deprecated",
				zap.String("provider", p.Name()),
				zap.String("model", id))
		}
	}

	for apiID := range liveSet {
		if known[apiID] {
			continue
		}
		stub := schema.ModelDescriptor{
			ID:            p.Name() + "/" + apiID,
			Provider:      p.Name(),
			APIIdentifier: apiID,
			Metadata: schema.ModelMetadata{
				LastVerified: now,
			},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput,
			},
		}
		r.upsertLocked(stub)
		result.Added = append(result.Added, stub.ID)
	}
	sort.Strings(result.Added)

	logger.Info("registry refreshed",
		zap.String("provider", p.Name()),
		zap.Int("verified", len(result.Verified)),
		zap.Int("added", len(result.Added)),
		zap.Int("deprecated", len(result.Deprecated)))

	return result, nil
}

// Snapshot exports the registry back to catalog form, used to persist
// refresh results across restarts.
func (r *Registry) Snapshot() *catalog.File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f := &catalog.File{
		Models: make([]schema.ModelDescriptor, 0, len(r.order)),
	}
	for _, id := range r.order {
		f.Models = append(f.Models, r.models[id])
	}
	for id, repl := range r.deprecated {
		f.Deprecations = append(f.Deprecations, catalog.Deprecation{ModelID: id, ReplacementID: repl})
	}
	sort.Slice(f.Deprecations, func(i, j int) bool {
		return f.Deprecations[i].ModelID < f.Deprecations[j].ModelID
	})
	return f
}
