package costtrack

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "usage.db")
	s, err := NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(session, model string, ts time.Time) *UsageRecord {
	return &UsageRecord{
		ID:               session + "-" + model + "-" + ts.Format("150405.000000000"),
		Timestamp:        ts,
		SessionID:        session,
		Provider:         "acme",
		Model:            model,
		PromptTokens:     100,
		CompletionTokens: 10,
		InputCost:        0.0001,
		OutputCost:       0.00005,
		TotalCost:        0.00015,
	}
}

func TestStoreInsertAndSessionRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Insert(ctx, record("s1", "acme/fast", now)))
	require.NoError(t, s.Insert(ctx, record("s1", "acme/big", now.Add(time.Second))))
	require.NoError(t, s.Insert(ctx, record("s2", "acme/fast", now)))

	recs, err := s.SessionRecords(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "acme/fast", recs[0].Model)
	assert.Equal(t, "acme/big", recs[1].Model)
	assert.Equal(t, 100, recs[0].PromptTokens)
	assert.InDelta(t, 0.00015, recs[0].TotalCost, 1e-12)

	recs, err = s.SessionRecords(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStoreRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, record("s", "m1", base)))
	require.NoError(t, s.Insert(ctx, record("s", "m2", base.Add(time.Hour))))
	require.NoError(t, s.Insert(ctx, record("s", "m3", base.Add(48*time.Hour))))

	recs, err := s.Range(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].Model)
	assert.Equal(t, "m2", recs[1].Model)
}

func TestIngestorPersistsRecordsLoggedDuringDrain(t *testing.T) {
	s := testStore(t)
	ing := NewIngestor(s)

	// The worker deliberately does not share the server's signal context:
	// requests finishing during the graceful drain still log usage after
	// the signal fires, and Stop performs the final flush.
	signalCtx, cancel := context.WithCancel(context.Background())
	ing.Start(context.Background())

	cancel()
	<-signalCtx.Done()

	now := time.Now().UTC()
	ing.Write(record("drain", "m1", now))
	ing.Write(record("drain", "m2", now.Add(time.Second)))
	ing.Stop()

	require.Eventually(t, func() bool {
		recs, err := s.SessionRecords(context.Background(), "drain")
		return err == nil && len(recs) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestIngestorFlushesOnStop(t *testing.T) {
	s := testStore(t)
	ing := NewIngestor(s)
	ing.Start(context.Background())

	now := time.Now().UTC()
	ing.Write(record("s", "m1", now))
	ing.Write(record("s", "m2", now.Add(time.Second)))
	ing.Stop()

	// Worker drains the channel after close
	require.Eventually(t, func() bool {
		recs, err := s.SessionRecords(context.Background(), "s")
		return err == nil && len(recs) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
