package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	tracker := NewTracker()

	ctx := WithScope(context.Background(), Scope{RunID: "r1", MetricID: "gpa_trend"})
	genCtx := WithScope(ctx, Scope{Operation: "df_generator"})
	tracker.Track(genCtx, "gpt-4.1-mini", "openai", types.UsageMetadata{InputTokens: 10, OutputTokens: 5}, 0.5)
	tracker.Track(WithScope(ctx, Scope{Operation: "router"}), "gpt-4.1-mini", "openai", types.UsageMetadata{InputTokens: 2, OutputTokens: 3}, 0.25)

	stats := tracker.Stats()
	if stats.Total.Input != 12 || stats.Total.Output != 8 || stats.Total.Total != 20 {
		t.Fatalf("Total=%+v, want input=12 output=8 total=20", stats.Total)
	}
	assert.InDelta(t, 0.75, stats.Total.Cost, 1e-9)
	assert.Equal(t, int64(20), stats.ByMetric["gpa_trend"].Total)
	assert.Equal(t, int64(15), stats.ByOperation["df_generator"].Total)
	assert.Equal(t, int64(5), stats.ByOperation["router"].Total)

	path := filepath.Join(t.TempDir(), "nested", "usage.json")
	require.NoError(t, tracker.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var persisted UsageData
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Len(t, persisted.Events, 2)
	assert.Equal(t, "r1", persisted.Events[0].RunID)
	assert.Equal(t, "df_generator", persisted.Events[0].OperationType)
}

func TestTracker_StatsIsCopy(t *testing.T) {
	tracker := NewTracker()
	tracker.Track(context.Background(), "m", "p", types.UsageMetadata{InputTokens: 1}, 0)

	stats := tracker.Stats()
	stats.ByModel["m"] = TokenCounts{Total: 999}

	assert.Equal(t, int64(1), tracker.Stats().ByModel["m"].Total)
	assert.Equal(t, int64(1), tracker.Stats().ByMetric["unknown"].Total)
}

func TestContextHelpers(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	tracker := NewTracker()
	ctx := NewContext(context.Background(), tracker)
	assert.Same(t, tracker, FromContext(ctx))
	assert.Equal(t, Scope{}, ScopeFromContext(ctx))
}

func TestPriceTable_Cost(t *testing.T) {
	pt := PriceTable(DefaultPrices)

	u := types.UsageMetadata{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 2.0, pt.Cost("gpt-4.1-mini", u), 1e-9)
	// Dated snapshot resolves to the longest prefix, not gpt-4.1.
	assert.InDelta(t, 2.0, pt.Cost("gpt-4.1-mini-2025-04-14", u), 1e-9)
	assert.InDelta(t, 10.0, pt.Cost("gpt-4.1", u), 1e-9)
	assert.Zero(t, pt.Cost("unknown-model", u))
}
