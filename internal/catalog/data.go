package catalog

import (
	"time"

	"github.com/nulzo/relay/pkg/schema"
)

func rate(v float64) *float64 { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Seed returns the built-in descriptor set used when no catalog directory is
// configured. Pricing is USD per 1M tokens, as published by the vendors.
func Seed() []schema.ModelDescriptor {
	return []schema.ModelDescriptor{
		// OpenAI
		{
			ID:            "openai/gpt-4o",
			Provider:      "openai",
			APIIdentifier: "gpt-4o",
			Metadata: schema.ModelMetadata{
				ContextWindowInput:  128000,
				ContextWindowOutput: 16384,
				KnowledgeCutoff:     "2023-10",
				LastVerified:        day(2025, time.June, 2),
				DocsURL:             "https://platform.openai.com/docs/models/gpt-4o",
			},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput, schema.CapVision,
				schema.CapFunctionCalling, schema.CapStreaming, schema.CapJSONMode,
				schema.CapLargeContext, schema.CapPromptCaching,
			},
			Pricing: schema.ModelPricing{
				InputPer1M:      2.50,
				OutputPer1M:     10.00,
				CacheWritePer1M: rate(2.50),
				CacheReadPer1M:  rate(1.25),
			},
			Optimization: schema.Optimization{
				RecommendedFor: []string{"general chat", "vision", "tool use"},
				CostTier:       schema.TierMid,
				SpeedTier:      schema.SpeedBalanced,
			},
		},
		{
			ID:            "openai/gpt-4o-mini",
			Provider:      "openai",
			APIIdentifier: "gpt-4o-mini",
			Metadata: schema.ModelMetadata{
				ContextWindowInput:  128000,
				ContextWindowOutput: 16384,
				KnowledgeCutoff:     "2023-10",
				LastVerified:        day(2025, time.June, 2),
				DocsURL:             "https://platform.openai.com/docs/models/gpt-4o-mini",
			},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput, schema.CapVision,
				schema.CapFunctionCalling, schema.CapStreaming, schema.CapJSONMode,
				schema.CapPromptCaching,
			},
			Pricing: schema.ModelPricing{
				InputPer1M:      0.15,
				OutputPer1M:     0.60,
				CacheWritePer1M: rate(0.15),
				CacheReadPer1M:  rate(0.075),
			},
			Optimization: schema.Optimization{
				RecommendedFor: []string{"high-volume tasks", "classification"},
				BestPractices:  []string{"prefer for latency-sensitive paths"},
				CostTier:       schema.TierBudget,
				SpeedTier:      schema.SpeedFast,
			},
		},

		// Anthropic
		{
			ID:            "anthropic/claude-sonnet-4",
			Provider:      "anthropic",
			APIIdentifier: "claude-sonnet-4-20250514",
			Metadata: schema.ModelMetadata{
				ContextWindowInput:  200000,
				ContextWindowOutput: 64000,
				KnowledgeCutoff:     "2025-03",
				LastVerified:        day(2025, time.June, 10),
				DocsURL:             "https://docs.anthropic.com/en/docs/about-claude/models",
			},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput, schema.CapVision,
				schema.CapFunctionCalling, schema.CapStreaming,
				schema.CapLargeContext, schema.CapPromptCaching,
			},
			Pricing: schema.ModelPricing{
				InputPer1M:      3.00,
				OutputPer1M:     15.00,
				CacheWritePer1M: rate(3.75),
				CacheReadPer1M:  rate(0.30),
			},
			Optimization: schema.Optimization{
				RecommendedFor: []string{"coding", "agentic workflows", "long context"},
				BestPractices:  []string{"use prompt caching for repeated system prompts"},
				CostTier:       schema.TierMid,
				SpeedTier:      schema.SpeedBalanced,
			},
		},
		{
			ID:            "anthropic/claude-haiku-3-5",
			Provider:      "anthropic",
			APIIdentifier: "claude-3-5-haiku-20241022",
			Metadata: schema.ModelMetadata{
				ContextWindowInput:  200000,
				ContextWindowOutput: 8192,
				KnowledgeCutoff:     "2024-07",
				LastVerified:        day(2025, time.June, 10),
				DocsURL:             "https://docs.anthropic.com/en/docs/about-claude/models",
			},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput,
				schema.CapFunctionCalling, schema.CapStreaming,
				schema.CapLargeContext, schema.CapPromptCaching,
			},
			Pricing: schema.ModelPricing{
				InputPer1M:      0.80,
				OutputPer1M:     4.00,
				CacheWritePer1M: rate(1.00),
				CacheReadPer1M:  rate(0.08),
			},
			Optimization: schema.Optimization{
				RecommendedFor: []string{"summarization", "routing", "cheap drafts"},
				CostTier:       schema.TierBudget,
				SpeedTier:      schema.SpeedFast,
			},
		},

		// Google
		{
			ID:            "google/gemini-2.0-flash",
			Provider:      "google",
			APIIdentifier: "gemini-2.0-flash",
			Metadata: schema.ModelMetadata{
				ContextWindowInput:  1048576,
				ContextWindowOutput: 8192,
				KnowledgeCutoff:     "2024-08",
				LastVerified:        day(2025, time.May, 20),
				DocsURL:             "https://ai.google.dev/gemini-api/docs/models",
			},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput, schema.CapVision,
				schema.CapFunctionCalling, schema.CapStreaming, schema.CapJSONMode,
				schema.CapLargeContext, schema.CapCodeExecution, schema.CapSearch,
			},
			Pricing: schema.ModelPricing{
				InputPer1M:  0.10,
				OutputPer1M: 0.40,
			},
			Optimization: schema.Optimization{
				RecommendedFor: []string{"very long documents", "multimodal"},
				CostTier:       schema.TierBudget,
				SpeedTier:      schema.SpeedFast,
			},
		},
	}
}
