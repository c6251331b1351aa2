package ollama

import (
	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/internal/providers"
	"github.com/nulzo/relay/internal/providers/openai"
)

func init() {
	providers.Register("ollama", NewAdapter)
}

// NewAdapter creates an Ollama adapter.
// Ollama is OpenAI-compatible at /v1, so the OpenAI adapter does the work;
// only the default base URL differs. No API key required.
func NewAdapter(cfg config.ProviderConfig) (providers.ModelProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}

	return openai.NewAdapter(cfg)
}
