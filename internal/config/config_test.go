package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/relay/internal/core/domain"
)

const testYAML = `
server:
  port: "9090"
  env: production
  api_keys:
    - sk-test

active_provider: openai-main
catalog_dir: ./testdata/catalog

providers:
  - id: openai-main
    type: openai
    enabled: true
    api_key: "ENV:TEST_OPENAI_KEY"
    fallback_models:
      - openai/gpt-4o-mini
  - id: anthropic-main
    type: anthropic
    enabled: false
    api_key: plain-key
    fallback_models:
      - anthropic/claude-haiku-3-5
`

func loadFrom(t *testing.T, yaml string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	cfg := loadFrom(t, testYAML)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.Equal(t, "openai-main", cfg.ActiveProvider)
	require.Len(t, cfg.Providers, 2)

	// ENV: indirection resolves from the process environment
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	// Plain keys pass through untouched
	assert.Equal(t, "plain-key", cfg.Providers[1].APIKey)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadFrom(t, "active_provider: x\n")

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.True(t, cfg.CostTracking.Enabled)
	assert.Equal(t, "usage.db", cfg.CostTracking.LogPath)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
}

func TestProviderLookup(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "k")
	cfg := loadFrom(t, testYAML)

	p, ok := cfg.Provider("anthropic-main")
	require.True(t, ok)
	assert.Equal(t, "anthropic", p.Type)

	_, ok = cfg.Provider("nope")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ActiveProvider: "main",
			Providers: []ProviderConfig{{
				ID:             "main",
				Type:           "openai",
				Enabled:        true,
				FallbackModels: []string{"m1"},
			}},
		}
	}

	assert.NoError(t, base().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no active provider", func(c *Config) { c.ActiveProvider = "" }},
		{"active provider unknown", func(c *Config) { c.ActiveProvider = "ghost" }},
		{"active provider disabled", func(c *Config) { c.Providers[0].Enabled = false }},
		{"empty fallback list", func(c *Config) { c.Providers[0].FallbackModels = nil }},
		{"duplicate provider ids", func(c *Config) {
			c.Providers = append(c.Providers, c.Providers[0])
		}},
		{"tracking without log path", func(c *Config) {
			c.CostTracking = CostTrackingConfig{Enabled: true}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			var confErr *domain.ConfigurationError
			assert.ErrorAs(t, err, &confErr)
		})
	}
}
