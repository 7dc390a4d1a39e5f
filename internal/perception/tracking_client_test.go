package perception

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

type stubClient struct {
	out *types.Completion
	err error
}

func (s stubClient) CompleteWithSystem(ctx context.Context, system, user string) (*types.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := *s.out
	return &c, nil
}

func TestTrackingClient_PricesAndTracks(t *testing.T) {
	tracker := usage.NewTracker()
	stub := stubClient{out: &types.Completion{
		Text:  "{}",
		Model: "gpt-4.1-mini-2025-04-14",
		Usage: types.UsageMetadata{InputTokens: 1_000_000, OutputTokens: 500_000, TotalTokens: 1_500_000},
	}}
	tc := NewTrackingClient(stub, "openai", nil, tracker, zaptest.NewLogger(t))

	ctx := usage.WithScope(context.Background(), usage.Scope{RunID: "r1", MetricID: "gpa_trend", Operation: "generator"})
	out, err := tc.CompleteWithSystem(ctx, "sys", "user")
	require.NoError(t, err)
	assert.InDelta(t, 0.40+0.80, out.Cost, 1e-9)

	stats := tracker.Stats()
	assert.Equal(t, int64(1_000_000), stats.Total.Input)
	assert.InDelta(t, 1.20, stats.ByMetric["gpa_trend"].Cost, 1e-9)
	assert.Contains(t, stats.ByOperation, "generator")
	assert.Contains(t, stats.ByProvider, "openai")
}

func TestTrackingClient_KeepsProviderCost(t *testing.T) {
	stub := stubClient{out: &types.Completion{Model: "gpt-4.1-mini", Cost: 0.5}}
	out, err := NewTrackingClient(stub, "openai", nil, nil, nil).CompleteWithSystem(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Cost)
}

func TestTrackingClient_Error(t *testing.T) {
	tracker := usage.NewTracker()
	boom := errors.New("boom")
	_, err := NewTrackingClient(stubClient{err: boom}, "openai", nil, tracker, nil).CompleteWithSystem(context.Background(), "", "")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, tracker.Stats().Total.Input)
}

func TestTrackingClient_PrefersContextTracker(t *testing.T) {
	fallback, perRun := usage.NewTracker(), usage.NewTracker()
	stub := stubClient{out: &types.Completion{Model: "gpt-4.1-mini", Usage: types.UsageMetadata{InputTokens: 10}}}
	tc := NewTrackingClient(stub, "openai", nil, fallback, nil)

	_, err := tc.CompleteWithSystem(usage.NewContext(context.Background(), perRun), "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), perRun.Stats().Total.Input)
	assert.Zero(t, fallback.Stats().Total.Input)
}
