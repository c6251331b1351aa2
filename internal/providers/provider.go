package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/nulzo/relay/internal/config"
	"github.com/nulzo/relay/pkg/schema"
)

// ModelProvider defines the contract that all AI providers must implement.
// The orchestrator and registry never branch on vendor identity except to
// pick an instance of this interface.
type ModelProvider interface {
	Name() string
	Type() string // e.g., "openai", "anthropic"

	// Chat executes a single synchronous completion call.
	Chat(ctx context.Context, req *schema.ChatRequest) (*schema.ChatResponse, error)

	// Stream executes a streaming call. The returned channel is single-pass
	// and closed by the adapter; abandoning the consuming context releases
	// the underlying connection.
	Stream(ctx context.Context, req *schema.ChatRequest) (<-chan StreamResult, error)

	// Models queries the vendor for currently offered model identifiers.
	// Called only on explicit refresh, never implicitly.
	Models(ctx context.Context) ([]string, error)

	// Validate makes a minimal real call to confirm a model id is currently
	// callable. For integration checks, not the request hot path.
	Validate(ctx context.Context, model string) error
}

type StreamResult struct {
	Response *schema.ChatResponse
	Err      error
}

// Factory is a function that creates a ModelProvider instance given a configuration.
type Factory func(cfg config.ProviderConfig) (ModelProvider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider factory available to the system.
// 'type' is the key (e.g., "openai", "ollama").
func Register(providerType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[providerType]; exists {
		panic(fmt.Sprintf("provider factory %s already registered", providerType))
	}
	factories[providerType] = f
}

// Get retrieves a factory to create a provider of a specific type.
func Get(providerType string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[providerType]
	if !ok {
		return nil, fmt.Errorf("provider factory not found for type: %s", providerType)
	}
	return f, nil
}
