package perception

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

// TrackingClient wraps any LLMClient, prices each completion and records it
// in a usage tracker, the one on ctx when present. All agent calls flow through it so a report's cost is
// the sum of what its metrics spent.
type TrackingClient struct {
	underlying types.LLMClient
	provider   string
	prices     usage.PriceTable
	tracker    *usage.Tracker
	logger     *zap.Logger
}

// NewTrackingClient creates a tracking wrapper. tracker and logger may be nil.
func NewTrackingClient(underlying types.LLMClient, provider string, prices usage.PriceTable, tracker *usage.Tracker, logger *zap.Logger) *TrackingClient {
	if prices == nil {
		prices = usage.DefaultPrices
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingClient{
		underlying: underlying,
		provider:   provider,
		prices:     prices,
		tracker:    tracker,
		logger:     logger,
	}
}

// CompleteWithSystem implements types.LLMClient.
func (tc *TrackingClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*types.Completion, error) {
	scope := usage.ScopeFromContext(ctx)
	start := time.Now()

	out, err := tc.underlying.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		tc.logger.Warn("LLM call failed",
			zap.String("metric_id", scope.MetricID),
			zap.String("operation", scope.Operation),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	if out.Cost == 0 {
		out.Cost = tc.prices.Cost(out.Model, out.Usage)
	}
	tracker := usage.FromContext(ctx)
	if tracker == nil {
		tracker = tc.tracker
	}
	if tracker != nil {
		tracker.Track(ctx, out.Model, tc.provider, out.Usage, out.Cost)
	}

	tc.logger.Debug("LLM call completed",
		zap.String("metric_id", scope.MetricID),
		zap.String("operation", scope.Operation),
		zap.String("model", out.Model),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
		zap.Float64("cost_usd", out.Cost),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
