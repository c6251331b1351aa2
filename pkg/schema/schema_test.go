package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentUnion(t *testing.T) {
	var m ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m))
	assert.Equal(t, "hello", m.Content.Text)
	assert.Empty(t, m.Content.Parts)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"http://x/y.png"}}]}`), &m))
	require.Len(t, m.Content.Parts, 2)
	assert.Equal(t, "hi", m.Content.Parts[0].Text)
	assert.Equal(t, "http://x/y.png", m.Content.Parts[1].ImageURL.URL)

	// String content round-trips as a string
	data, err := json.Marshal(Content{Text: "plain"})
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, string(data))
}

func TestStopUnion(t *testing.T) {
	var s Stop
	require.NoError(t, json.Unmarshal([]byte(`"END"`), &s))
	assert.Equal(t, []string{"END"}, s.Val)

	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &s))
	assert.Equal(t, []string{"a", "b"}, s.Val)

	data, err := json.Marshal(Stop{Val: []string{"only"}})
	require.NoError(t, err)
	assert.Equal(t, `"only"`, string(data))
}

func TestContentText(t *testing.T) {
	resp := ChatResponse{Choices: []Choice{
		{Message: &ChatMessage{Content: Content{Text: "a"}}},
		{Message: &ChatMessage{Content: Content{Text: "b"}}},
		{Delta: &ChatMessage{Content: Content{Text: "ignored"}}},
	}}
	assert.Equal(t, "ab", resp.ContentText())
}

func rate(v float64) *float64 { return &v }

func validDescriptor() ModelDescriptor {
	return ModelDescriptor{
		ID:            "acme/one",
		Provider:      "acme",
		APIIdentifier: "one-v1",
		Metadata: ModelMetadata{
			ContextWindowInput: 100000,
			LastVerified:       time.Now().UTC().Add(-24 * time.Hour),
		},
		Capabilities: []CapabilityTag{CapTextInput, CapTextOutput},
		Pricing:      ModelPricing{InputPer1M: 1, OutputPer1M: 2},
	}
}

func TestDescriptorValidate(t *testing.T) {
	d := validDescriptor()
	assert.NoError(t, d.Validate())

	cases := []struct {
		name   string
		mutate func(*ModelDescriptor)
	}{
		{"missing id", func(d *ModelDescriptor) { d.ID = "" }},
		{"missing provider", func(d *ModelDescriptor) { d.Provider = "" }},
		{"missing api identifier", func(d *ModelDescriptor) { d.APIIdentifier = "" }},
		{"negative input rate", func(d *ModelDescriptor) { d.Pricing.InputPer1M = -1 }},
		{"negative output rate", func(d *ModelDescriptor) { d.Pricing.OutputPer1M = -0.5 }},
		{"negative cache read rate", func(d *ModelDescriptor) { d.Pricing.CacheReadPer1M = rate(-0.1) }},
		{"future verification", func(d *ModelDescriptor) {
			d.Metadata.LastVerified = time.Now().Add(48 * time.Hour)
		}},
		{"caching without rates", func(d *ModelDescriptor) {
			d.Capabilities = append(d.Capabilities, CapPromptCaching)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDescriptor()
			tc.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDescriptorCachingRequiresBothRates(t *testing.T) {
	d := validDescriptor()
	d.Capabilities = append(d.Capabilities, CapPromptCaching)
	d.Pricing.CacheWritePer1M = rate(1.25)
	assert.Error(t, d.Validate(), "read rate still missing")

	d.Pricing.CacheReadPer1M = rate(0.1)
	assert.NoError(t, d.Validate())
}

func TestHasCapability(t *testing.T) {
	d := validDescriptor()
	assert.True(t, d.HasCapability(CapTextInput))
	assert.False(t, d.HasCapability(CapVision))
}
