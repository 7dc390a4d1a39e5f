// Package progress provides event sinks for the step notifications emitted by
// the agents and the scheduler.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// Func adapts a function to types.EventSink.
type Func func(types.Event)

// Emit implements types.EventSink.
func (f Func) Emit(e types.Event) { f(e) }

// Multi fans an event out to every sink.
type Multi []types.EventSink

// Emit implements types.EventSink.
func (m Multi) Emit(e types.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

type discard struct{}

func (discard) Emit(types.Event) {}

// Discard drops every event.
var Discard types.EventSink = discard{}

// OrDiscard returns sink, or Discard when sink is nil.
func OrDiscard(sink types.EventSink) types.EventSink {
	if sink == nil {
		return Discard
	}
	return sink
}

// LogSink writes events to a zap logger at debug level.
type LogSink struct {
	Logger *zap.Logger
}

// Emit implements types.EventSink.
func (l LogSink) Emit(e types.Event) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("step", e.Name), zap.String("status", e.Status)}
	if e.MetricID != "" {
		fields = append(fields, zap.String("metric_id", e.MetricID))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Total > 0 {
		fields = append(fields, zap.Int("completed", e.Completed), zap.Int("total", e.Total))
	}
	l.Logger.Debug("progress", fields...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// Emit implements types.EventSink.
func (r *Recorder) Emit(e types.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

// Count returns how many events match name and status. An empty status matches both.
func (r *Recorder) Count(name, status string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Name == name && (status == "" || e.Status == status) {
			n++
		}
	}
	return n
}

// Track emits a start event for e and returns a func that emits the matching
// end event with the elapsed duration.
func Track(sink types.EventSink, e types.Event) func() {
	sink = OrDiscard(sink)
	start := time.Now()
	e.Status = types.EventStart
	e.Time = start
	sink.Emit(e)
	return func() {
		end := e
		end.Status = types.EventEnd
		end.Time = time.Now()
		end.Duration = end.Time.Sub(start)
		sink.Emit(end)
	}
}
