package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

type contextKey struct{}

type scopeKey struct{}

// Scope identifies who spent the tokens.
type Scope struct {
	RunID     string
	MetricID  string
	Operation string
}

// Tracker aggregates token usage for one report run.
type Tracker struct {
	mu   sync.Mutex
	data UsageData
	now  func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		data: UsageData{
			Version: "1.0",
			Aggregate: AggregatedStats{
				ByProvider:  make(map[string]TokenCounts),
				ByModel:     make(map[string]TokenCounts),
				ByMetric:    make(map[string]TokenCounts),
				ByOperation: make(map[string]TokenCounts),
			},
		},
		now: time.Now,
	}
}

// Track records a new usage event.
func (t *Tracker) Track(ctx context.Context, model, provider string, u types.UsageMetadata, cost float64) {
	scope := ScopeFromContext(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Events = append(t.data.Events, UsageEvent{
		Timestamp:     t.now(),
		Model:         model,
		Provider:      provider,
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		Cost:          cost,
		RunID:         scope.RunID,
		MetricID:      scope.MetricID,
		OperationType: scope.Operation,
	})

	t.data.Aggregate.Total.Add(u.InputTokens, u.OutputTokens, cost)
	addToMap(t.data.Aggregate.ByProvider, provider, u, cost)
	addToMap(t.data.Aggregate.ByModel, model, u, cost)
	addToMap(t.data.Aggregate.ByMetric, orUnknown(scope.MetricID), u, cost)
	addToMap(t.data.Aggregate.ByOperation, orUnknown(scope.Operation), u, cost)
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByMetric = copyTokenCountsMap(stats.ByMetric)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	return stats
}

// Save writes the usage data as JSON to path.
func (t *Tracker) Save(path string) error {
	t.mu.Lock()
	data, err := json.MarshalIndent(t.data, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create usage dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, u types.UsageMetadata, cost float64) {
	entry := m[key]
	entry.Add(u.InputTokens, u.OutputTokens, cost)
	m[key] = entry
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tracker from the context.
func FromContext(ctx context.Context) *Tracker {
	val, _ := ctx.Value(contextKey{}).(*Tracker)
	return val
}

// WithScope tags the context with the spending run, metric and operation.
// Empty fields inherit from any scope already on ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	prev := ScopeFromContext(ctx)
	if s.RunID == "" {
		s.RunID = prev.RunID
	}
	if s.MetricID == "" {
		s.MetricID = prev.MetricID
	}
	if s.Operation == "" {
		s.Operation = prev.Operation
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope on ctx, or the zero Scope.
func ScopeFromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}
