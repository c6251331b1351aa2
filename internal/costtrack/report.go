package costtrack

import "time"

// Breakdown aggregates spend for one provider or model.
type Breakdown struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
}

// Report summarizes spend over a date range.
type Report struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
	CacheSavings     float64 `json:"cache_savings"`

	ByProvider map[string]*Breakdown `json:"by_provider"`
	ByModel    map[string]*Breakdown `json:"by_model"`
}

// Report aggregates every record whose timestamp falls in [from, to).
// A zero `to` means "until now".
func (t *Tracker) Report(from, to time.Time) *Report {
	if to.IsZero() {
		to = time.Now().UTC()
	}

	r := &Report{
		From:       from,
		To:         to,
		ByProvider: make(map[string]*Breakdown),
		ByModel:    make(map[string]*Breakdown),
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.records {
		rec := &t.records[i]
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}

		r.Requests++
		r.PromptTokens += rec.PromptTokens
		r.CompletionTokens += rec.CompletionTokens
		r.TotalCost += rec.TotalCost
		r.CacheSavings += rec.CacheSavings

		accumulate(r.ByProvider, rec.Provider, rec)
		accumulate(r.ByModel, rec.Model, rec)
	}

	return r
}

func accumulate(m map[string]*Breakdown, key string, rec *UsageRecord) {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{}
		m[key] = b
	}
	b.Requests++
	b.PromptTokens += rec.PromptTokens
	b.CompletionTokens += rec.CompletionTokens
	b.TotalCost += rec.TotalCost
}
