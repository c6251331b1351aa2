package schema

import (
	"fmt"
	"time"
)

// CapabilityTag is an enumerated feature flag a model may or may not support.
type CapabilityTag string

const (
	CapTextInput       CapabilityTag = "text_input"
	CapTextOutput      CapabilityTag = "text_output"
	CapVision          CapabilityTag = "vision"
	CapFunctionCalling CapabilityTag = "function_calling"
	CapStreaming       CapabilityTag = "streaming"
	CapJSONMode        CapabilityTag = "json_mode"
	CapLargeContext    CapabilityTag = "large_context"
	CapPromptCaching   CapabilityTag = "prompt_caching"
	CapCodeExecution   CapabilityTag = "code_execution"
	CapSearch          CapabilityTag = "search"
)

// CostTier is a coarse pricing classification used for filtering, not exact cost.
type CostTier string

const (
	TierBudget  CostTier = "budget"
	TierMid     CostTier = "mid-tier"
	TierPremium CostTier = "premium"
)

type SpeedTier string

const (
	SpeedFast     SpeedTier = "fast"
	SpeedBalanced SpeedTier = "balanced"
	SpeedThorough SpeedTier = "thorough"
)

// ModelDescriptor is the immutable static definition of a model as configured
// in the catalog files. Deprecation state is tracked beside it in the registry,
// never on the descriptor itself.
type ModelDescriptor struct {
	ID       string `yaml:"id" json:"id"`             // Unique key (e.g. "anthropic/claude-sonnet-4")
	Provider string `yaml:"provider" json:"provider"` // "openai", "anthropic", "google", "ollama", ...

	// APIIdentifier is the literal string sent to the vendor API. May differ
	// from ID.
	APIIdentifier string `yaml:"api_identifier" json:"api_identifier"`

	Metadata     ModelMetadata   `yaml:"metadata" json:"metadata"`
	Capabilities []CapabilityTag `yaml:"capabilities" json:"capabilities"`
	Pricing      ModelPricing    `yaml:"pricing" json:"pricing"`
	Optimization Optimization    `yaml:"optimization" json:"optimization"`
}

type ModelMetadata struct {
	ContextWindowInput  int       `yaml:"context_window_input" json:"context_window_input"`
	ContextWindowOutput int       `yaml:"context_window_output,omitempty" json:"context_window_output,omitempty"` // 0 = unpublished
	KnowledgeCutoff     string    `yaml:"knowledge_cutoff,omitempty" json:"knowledge_cutoff,omitempty"`
	LastVerified        time.Time `yaml:"last_verified" json:"last_verified"`
	DocsURL             string    `yaml:"docs_url,omitempty" json:"docs_url,omitempty"`
}

// ModelPricing holds USD rates per 1,000,000 tokens. The cache rates are
// pointers so "not offered" is distinguishable from a zero rate.
type ModelPricing struct {
	InputPer1M      float64  `yaml:"input_per_1m" json:"input_per_1m"`
	OutputPer1M     float64  `yaml:"output_per_1m" json:"output_per_1m"`
	CacheWritePer1M *float64 `yaml:"cache_write_per_1m,omitempty" json:"cache_write_per_1m,omitempty"`
	CacheReadPer1M  *float64 `yaml:"cache_read_per_1m,omitempty" json:"cache_read_per_1m,omitempty"`
}

type Optimization struct {
	RecommendedFor []string  `yaml:"recommended_for,omitempty" json:"recommended_for,omitempty"`
	BestPractices  []string  `yaml:"best_practices,omitempty" json:"best_practices,omitempty"`
	CostTier       CostTier  `yaml:"cost_tier" json:"cost_tier"`
	SpeedTier      SpeedTier `yaml:"speed_tier" json:"speed_tier"`
}

// HasCapability reports set membership on the descriptor's capability list.
func (d *ModelDescriptor) HasCapability(tag CapabilityTag) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Validate enforces the descriptor invariants:
// non-negative rates, last_verified not in the future, and prompt_caching
// implying both cache rates are defined.
func (d *ModelDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor missing id")
	}
	if d.Provider == "" {
		return fmt.Errorf("descriptor %s missing provider", d.ID)
	}
	if d.APIIdentifier == "" {
		return fmt.Errorf("descriptor %s missing api_identifier", d.ID)
	}
	if d.Pricing.InputPer1M < 0 || d.Pricing.OutputPer1M < 0 {
		return fmt.Errorf("descriptor %s has negative pricing", d.ID)
	}
	if d.Pricing.CacheWritePer1M != nil && *d.Pricing.CacheWritePer1M < 0 {
		return fmt.Errorf("descriptor %s has negative cache write rate", d.ID)
	}
	if d.Pricing.CacheReadPer1M != nil && *d.Pricing.CacheReadPer1M < 0 {
		return fmt.Errorf("descriptor %s has negative cache read rate", d.ID)
	}
	if !d.Metadata.LastVerified.IsZero() && d.Metadata.LastVerified.After(time.Now()) {
		return fmt.Errorf("descriptor %s verified in the future (%s)", d.ID, d.Metadata.LastVerified.Format("2006-01-02"))
	}
	if d.HasCapability(CapPromptCaching) {
		if d.Pricing.CacheWritePer1M == nil || d.Pricing.CacheReadPer1M == nil {
			return fmt.Errorf("descriptor %s supports prompt_caching but is missing cache rates", d.ID)
		}
	}
	return nil
}
