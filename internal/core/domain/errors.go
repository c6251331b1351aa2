package domain

import (
	"fmt"
	"strings"
)

// ConfigurationError reports invalid or missing required configuration.
// Raised at construction, never at request time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// ConfigError creates a ConfigurationError for a field.
func ConfigError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// ModelNotFoundError reports a model id absent from the registry.
type ModelNotFoundError struct {
	ModelID string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model not found: %s", e.ModelID)
}

func ModelNotFound(modelID string) *ModelNotFoundError {
	return &ModelNotFoundError{ModelID: modelID}
}

// ProviderError wraps a vendor adapter failure with the provider name and the
// original message. Never silently swallowed: either logged as a fallback
// warning or surfaced inside AllFallbacksFailedError.
type ProviderError struct {
	Provider string
	Model    string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("provider %s (model %s): %s", e.Provider, e.Model, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider, model, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Model: model, Message: message, Err: err}
}

// InvalidUsageError reports semantically invalid arguments to the pricing
// service, e.g. negative token counts or cached tokens on a non-caching model.
type InvalidUsageError struct {
	Reason string
}

func (e *InvalidUsageError) Error() string {
	return "invalid usage: " + e.Reason
}

func InvalidUsage(format string, args ...interface{}) *InvalidUsageError {
	return &InvalidUsageError{Reason: fmt.Sprintf(format, args...)}
}

// AllFallbacksFailedError means every model in the active provider's fallback
// list failed. It wraps the last underlying provider error and records the
// attempted sequence so callers can decide to reconfigure rather than retry.
type AllFallbacksFailedError struct {
	Provider  string
	Attempted []string
	Err       error
}

func (e *AllFallbacksFailedError) Error() string {
	return fmt.Sprintf("all fallback models failed for provider %s (tried: %s): %v",
		e.Provider, strings.Join(e.Attempted, ", "), e.Err)
}

func (e *AllFallbacksFailedError) Unwrap() error { return e.Err }

func AllFallbacksFailed(provider string, attempted []string, last error) *AllFallbacksFailedError {
	return &AllFallbacksFailedError{Provider: provider, Attempted: attempted, Err: last}
}
