// Package costtrack records per-request spend and answers session and
// date-range cost questions. Records are append-only; nothing is mutated
// after the fact.
package costtrack

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nulzo/relay/internal/pricing"
	"github.com/nulzo/relay/pkg/schema"
)

// UsageRecord is one priced request.
type UsageRecord struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	SessionID string    `json:"session_id" db:"session_id"`
	Provider  string    `json:"provider" db:"provider"`
	Model     string    `json:"model" db:"model"`

	PromptTokens       int `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens   int `json:"completion_tokens" db:"completion_tokens"`
	CachedPromptTokens int `json:"cached_prompt_tokens" db:"cached_prompt_tokens"`
	CacheWriteTokens   int `json:"cache_write_tokens" db:"cache_write_tokens"`

	InputCost      float64 `json:"input_cost" db:"input_cost"`
	CachedCost     float64 `json:"cached_cost" db:"cached_cost"`
	OutputCost     float64 `json:"output_cost" db:"output_cost"`
	CacheWriteCost float64 `json:"cache_write_cost" db:"cache_write_cost"`
	TotalCost      float64 `json:"total_cost" db:"total_cost"`

	CacheSavings float64 `json:"cache_savings" db:"cache_savings"`
}

// Sink receives each record after it is accepted, for durable persistence.
type Sink interface {
	Write(rec *UsageRecord)
}

// Tracker is the in-memory ledger. An optional sink mirrors every record to
// durable storage without blocking the request path.
type Tracker struct {
	mu      sync.RWMutex
	records []UsageRecord
	pricing *pricing.Service
	sink    Sink
}

func NewTracker(p *pricing.Service) *Tracker {
	return &Tracker{pricing: p}
}

// WithSink mirrors accepted records to a durable sink.
func (t *Tracker) WithSink(s Sink) *Tracker {
	t.sink = s
	return t
}

// LogUsage prices a completed request and appends it to the ledger. A
// pricing failure (unknown model, invalid usage) is returned to the caller,
// never swallowed, and nothing is recorded.
func (t *Tracker) LogUsage(provider, modelID, sessionID string, usage *schema.ResponseUsage) (*UsageRecord, error) {
	cost, err := t.pricing.CalculateCost(modelID, usage)
	if err != nil {
		return nil, err
	}
	savings, err := t.pricing.CacheSavings(modelID, usage)
	if err != nil {
		return nil, err
	}

	rec := UsageRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Provider:  provider,
		Model:     modelID,

		PromptTokens:       usage.PromptTokens,
		CompletionTokens:   usage.CompletionTokens,
		CachedPromptTokens: usage.CachedPromptTokens,
		CacheWriteTokens:   usage.CacheWriteTokens,

		InputCost:      cost.InputCost,
		CachedCost:     cost.CachedCost,
		OutputCost:     cost.OutputCost,
		CacheWriteCost: cost.CacheWriteCost,
		TotalCost:      cost.Total,
		CacheSavings:   savings,
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.Write(&rec)
	}

	return &rec, nil
}

// SessionCost sums every record for a session. Unknown sessions cost zero.
func (t *Tracker) SessionCost(sessionID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for i := range t.records {
		if t.records[i].SessionID == sessionID {
			total += t.records[i].TotalCost
		}
	}
	return total
}

// SessionRecords returns a session's records in insertion order.
func (t *Tracker) SessionRecords(sessionID string) []UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []UsageRecord
	for i := range t.records {
		if t.records[i].SessionID == sessionID {
			out = append(out, t.records[i])
		}
	}
	return out
}

// Records returns a copy of the full ledger in insertion order.
func (t *Tracker) Records() []UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]UsageRecord, len(t.records))
	copy(out, t.records)
	return out
}
