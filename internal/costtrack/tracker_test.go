package costtrack

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/relay/internal/catalog"
	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/pricing"
	"github.com/nulzo/relay/internal/registry"
	"github.com/nulzo/relay/pkg/schema"
)

func rate(v float64) *float64 { return &v }

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	f := &catalog.File{Models: []schema.ModelDescriptor{
		{
			ID:            "acme/fast",
			Provider:      "acme",
			APIIdentifier: "fast-1",
			Metadata:      schema.ModelMetadata{LastVerified: time.Now().UTC()},
			Capabilities: []schema.CapabilityTag{
				schema.CapTextInput, schema.CapTextOutput, schema.CapPromptCaching,
			},
			Pricing: schema.ModelPricing{
				InputPer1M:      1.00,
				OutputPer1M:     5.00,
				CacheWritePer1M: rate(1.25),
				CacheReadPer1M:  rate(0.10),
			},
		},
		{
			ID:            "acme/big",
			Provider:      "acme",
			APIIdentifier: "big-1",
			Metadata:      schema.ModelMetadata{LastVerified: time.Now().UTC()},
			Capabilities:  []schema.CapabilityTag{schema.CapTextInput, schema.CapTextOutput},
			Pricing:       schema.ModelPricing{InputPer1M: 10.00, OutputPer1M: 30.00},
		},
	}}
	return NewTracker(pricing.New(registry.New(f)))
}

func TestLogUsage(t *testing.T) {
	tr := testTracker(t)

	rec, err := tr.LogUsage("acme", "acme/fast", "sess-1", &schema.ResponseUsage{
		PromptTokens:     200_000,
		CompletionTokens: 50_000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.InDelta(t, 0.20, rec.InputCost, 1e-9)
	assert.InDelta(t, 0.25, rec.OutputCost, 1e-9)
	assert.InDelta(t, 0.45, rec.TotalCost, 1e-9)

	assert.Len(t, tr.Records(), 1)
}

func TestLogUsagePropagatesErrors(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.LogUsage("acme", "acme/nope", "sess-1", &schema.ResponseUsage{PromptTokens: 1})
	var notFound *domain.ModelNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = tr.LogUsage("acme", "acme/big", "sess-1", &schema.ResponseUsage{
		PromptTokens:       10,
		CachedPromptTokens: 5, // big-1 does not cache
	})
	var invalid *domain.InvalidUsageError
	assert.ErrorAs(t, err, &invalid)

	// Failed pricing never leaves partial records behind
	assert.Empty(t, tr.Records())
}

func TestSessionCost(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.LogUsage("acme", "acme/fast", "sess-a", &schema.ResponseUsage{
		PromptTokens: 1_000_000, CompletionTokens: 0,
	})
	require.NoError(t, err)
	_, err = tr.LogUsage("acme", "acme/big", "sess-a", &schema.ResponseUsage{
		PromptTokens: 100_000, CompletionTokens: 0,
	})
	require.NoError(t, err)
	_, err = tr.LogUsage("acme", "acme/fast", "sess-b", &schema.ResponseUsage{
		PromptTokens: 1_000_000, CompletionTokens: 0,
	})
	require.NoError(t, err)

	assert.InDelta(t, 2.00, tr.SessionCost("sess-a"), 1e-9)
	assert.InDelta(t, 1.00, tr.SessionCost("sess-b"), 1e-9)
	assert.Zero(t, tr.SessionCost("sess-missing"))

	assert.Len(t, tr.SessionRecords("sess-a"), 2)
	assert.Empty(t, tr.SessionRecords("sess-missing"))
}

func TestReport(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.LogUsage("acme", "acme/fast", "s", &schema.ResponseUsage{
		PromptTokens:       100_000,
		CompletionTokens:   10_000,
		CachedPromptTokens: 50_000,
	})
	require.NoError(t, err)
	_, err = tr.LogUsage("acme", "acme/big", "s", &schema.ResponseUsage{
		PromptTokens:     20_000,
		CompletionTokens: 5_000,
	})
	require.NoError(t, err)

	rep := tr.Report(time.Now().UTC().Add(-time.Hour), time.Time{})
	assert.Equal(t, 2, rep.Requests)
	assert.Equal(t, 120_000, rep.PromptTokens)
	assert.Equal(t, 15_000, rep.CompletionTokens)
	assert.Greater(t, rep.TotalCost, 0.0)

	// 50k cached tokens at (1.00 - 0.10) per 1M
	assert.InDelta(t, 0.045, rep.CacheSavings, 1e-9)

	require.Contains(t, rep.ByProvider, "acme")
	assert.Equal(t, 2, rep.ByProvider["acme"].Requests)
	require.Contains(t, rep.ByModel, "acme/fast")
	require.Contains(t, rep.ByModel, "acme/big")
	assert.Equal(t, 1, rep.ByModel["acme/fast"].Requests)

	// Range excludes everything
	empty := tr.Report(time.Now().UTC().Add(time.Hour), time.Now().UTC().Add(2*time.Hour))
	assert.Zero(t, empty.Requests)
}

func TestExportCSV(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.LogUsage("acme", "acme/fast", "s1", &schema.ResponseUsage{
		PromptTokens: 100, CompletionTokens: 10,
	})
	require.NoError(t, err)
	_, err = tr.LogUsage("acme", "acme/big", "s2", &schema.ResponseUsage{
		PromptTokens: 200, CompletionTokens: 20,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tr.Export(&buf, FormatCSV))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])

	// Insertion order is preserved
	assert.Equal(t, "acme/fast", rows[1][4])
	assert.Equal(t, "acme/big", rows[2][4])
	assert.Equal(t, "100", rows[1][5])
}

func TestExportJSON(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.LogUsage("acme", "acme/fast", "s1", &schema.ResponseUsage{
		PromptTokens: 100, CompletionTokens: 10,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tr.Export(&buf, FormatJSON))

	var out []UsageRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "acme/fast", out[0].Model)

	// Full precision survives the round trip
	orig := tr.Records()[0]
	assert.Equal(t, orig.TotalCost, out[0].TotalCost)
}

func TestExportUnknownFormat(t *testing.T) {
	tr := testTracker(t)
	assert.Error(t, tr.Export(&bytes.Buffer{}, ExportFormat("xml")))
}

type captureSink struct {
	recs []*UsageRecord
}

func (c *captureSink) Write(rec *UsageRecord) { c.recs = append(c.recs, rec) }

func TestSinkReceivesRecords(t *testing.T) {
	tr := testTracker(t)
	sink := &captureSink{}
	tr.WithSink(sink)

	_, err := tr.LogUsage("acme", "acme/fast", "s", &schema.ResponseUsage{PromptTokens: 1})
	require.NoError(t, err)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "acme/fast", sink.recs[0].Model)
}
