package costtrack

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat selects the wire format for Export.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

var csvHeader = []string{
	"id", "timestamp", "session_id", "provider", "model",
	"prompt_tokens", "completion_tokens", "cached_prompt_tokens", "cache_write_tokens",
	"input_cost", "cached_cost", "output_cost", "cache_write_cost", "total_cost",
}

// Export writes the full ledger in insertion order. Monetary values keep
// full float precision so downstream sums match the in-memory totals.
func (t *Tracker) Export(w io.Writer, format ExportFormat) error {
	records := t.Records()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for i := range records {
			rec := &records[i]
			row := []string{
				rec.ID,
				rec.Timestamp.Format(time.RFC3339Nano),
				rec.SessionID,
				rec.Provider,
				rec.Model,
				strconv.Itoa(rec.PromptTokens),
				strconv.Itoa(rec.CompletionTokens),
				strconv.Itoa(rec.CachedPromptTokens),
				strconv.Itoa(rec.CacheWriteTokens),
				money(rec.InputCost),
				money(rec.CachedCost),
				money(rec.OutputCost),
				money(rec.CacheWriteCost),
				money(rec.TotalCost),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
