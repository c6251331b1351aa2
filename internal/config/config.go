package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nulzo/relay/internal/core/domain"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// CatalogDir holds the per-provider model descriptor YAML files.
	CatalogDir string `mapstructure:"catalog_dir"`

	// ActiveProvider names the single provider the orchestrator sends to.
	// Fallback never leaves it.
	ActiveProvider string `mapstructure:"active_provider"`

	Providers    []ProviderConfig   `mapstructure:"providers"`
	CostTracking CostTrackingConfig `mapstructure:"cost_tracking"`
}

type ServerConfig struct {
	Port    string   `mapstructure:"port"`
	Env     string   `mapstructure:"env"`
	APIKeys []string `mapstructure:"api_keys"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ProviderConfig represents the configuration for a single AI provider.
type ProviderConfig struct {
	ID      string `mapstructure:"id" json:"id" validate:"required"`
	Type    string `mapstructure:"type" json:"type" validate:"required"`
	Name    string `mapstructure:"name" json:"name"`
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`

	// FallbackModels is the ordered candidate list tried on failure,
	// first entry first.
	FallbackModels []string `mapstructure:"fallback_models" json:"fallback_models"`

	Config  map[string]string `mapstructure:"config" json:"config"`
	Enabled bool              `mapstructure:"enabled" json:"enabled"`
}

type CostTrackingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogPath string `mapstructure:"log_path"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("catalog_dir", "./catalog")
	v.SetDefault("cost_tracking.enabled", true)
	v.SetDefault("cost_tracking.log_path", "usage.db")

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Resolve API Keys
	for i, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(p.APIKey, "ENV:")
			// Check process environment first (explicit override)
			val := os.Getenv(envVar)
			if val == "" {
				// Then check viper (which might have it from other sources)
				val = v.GetString(envVar)
			}
			cfg.Providers[i].APIKey = val
		}
	}

	return &cfg, nil
}

// Provider returns the config block for a provider id.
func (c *Config) Provider(id string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Validate checks the invariants the orchestrator depends on. Called once at
// construction; request-time code assumes a valid config.
func (c *Config) Validate() error {
	if c.ActiveProvider == "" {
		return domain.ConfigError("active_provider", "must be set")
	}

	active, ok := c.Provider(c.ActiveProvider)
	if !ok {
		return domain.ConfigError("active_provider",
			fmt.Sprintf("%q is not present in providers", c.ActiveProvider))
	}
	if !active.Enabled {
		return domain.ConfigError("active_provider",
			fmt.Sprintf("%q is disabled", c.ActiveProvider))
	}
	if len(active.FallbackModels) == 0 {
		return domain.ConfigError("providers."+active.ID+".fallback_models",
			"must list at least one model")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.ID] {
			return domain.ConfigError("providers", "duplicate provider id "+p.ID)
		}
		seen[p.ID] = true
	}

	if c.CostTracking.Enabled && c.CostTracking.LogPath == "" {
		return domain.ConfigError("cost_tracking.log_path", "must be set when tracking is enabled")
	}

	return nil
}
