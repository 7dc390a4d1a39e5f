package types

import (
	"context"
	"time"
)

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	// CompleteWithSystem sends a system and user prompt and returns the reply
	// together with its token usage. Cost is filled by pricing decorators.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Completion is a single LLM reply.
type Completion struct {
	Text  string        `json:"text"`
	Model string        `json:"model"`
	Usage UsageMetadata `json:"usage"`
	Cost  float64       `json:"cost"` // USD
}

// Event statuses.
const (
	EventStart = "start"
	EventEnd   = "end"
	// EventProgress reports Completed out of Total without ending the step.
	EventProgress = "progress"
)

// Event is a progress notification emitted by core steps.
type Event struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	MetricID  string        `json:"metric_id,omitempty"`
	Completed int           `json:"completed,omitempty"`
	Total     int           `json:"total,omitempty"`
	Time      time.Time     `json:"time"`
}

// EventSink receives progress events. Implementations must be safe for
// concurrent use; agents for different metrics emit in parallel.
type EventSink interface {
	Emit(Event)
}
