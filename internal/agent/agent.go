// Package agent implements the per-metric agent: a router that picks the next
// step and two bounded generate/execute sub-loops, one producing a table and
// one producing a chart from it.
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/prompt"
	"github.com/Rigel0718/transcript-insight/internal/types"
)

// DefaultMaxRouterTurns bounds router decisions per metric.
const DefaultMaxRouterTurns = 8

// Decider chooses the next step. *Router satisfies it.
type Decider interface {
	Decide(ctx context.Context, ac *Context) (Decision, error)
}

// Looper runs one sub-loop. *SubLoop satisfies it.
type Looper interface {
	Run(ctx context.Context, ac *Context) Outcome
}

// MetricAgent runs one metric from task to artifacts.
type MetricAgent struct {
	Router Decider
	Table  Looper
	Chart  Looper
	// MaxRouterTurns counts router decisions, separately from sub-loop cycles.
	MaxRouterTurns int
	Sink           types.EventSink
	Logger         *zap.Logger
}

// Options wires a MetricAgent.
type Options struct {
	LLM      types.LLMClient
	Corpus   *prompt.Corpus
	Executor Executor
	// AllowedImports is shown to the generator; the executor enforces it.
	AllowedImports []string
	MaxCycles      int
	MaxRouterTurns int
	Debug          bool
	Sink           types.EventSink
	Logger         *zap.Logger
}

// New builds an agent from opts. The agent keeps no per-metric state, so one
// instance may run many metrics concurrently.
func New(opts Options) (*MetricAgent, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("agent: no LLM client")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("agent: no executor")
	}
	if opts.Corpus == nil {
		corpus, err := prompt.LoadEmbedded()
		if err != nil {
			return nil, fmt.Errorf("agent: load prompts: %w", err)
		}
		opts.Corpus = corpus
	}

	router, err := NewRouter(opts.LLM, opts.Corpus, opts.Sink, logging.For(opts.Logger, logging.CategoryRouter))
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	gen, err := NewGenerator(opts.LLM, opts.Corpus, opts.AllowedImports, opts.Sink, logging.For(opts.Logger, logging.CategoryGenerator))
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	loopLogger := logging.For(opts.Logger, logging.CategoryAgent)
	loop := func(kind TaskKind) *SubLoop {
		return &SubLoop{
			Kind:      kind,
			Generator: gen,
			Executor:  opts.Executor,
			MaxCycles: opts.MaxCycles,
			Debug:     opts.Debug,
			Sink:      opts.Sink,
			Logger:    loopLogger,
		}
	}
	return &MetricAgent{
		Router:         router,
		Table:          loop(TaskTable),
		Chart:          loop(TaskChart),
		MaxRouterTurns: opts.MaxRouterTurns,
		Sink:           opts.Sink,
		Logger:         loopLogger,
	}, nil
}

// Run executes the metric and returns its final context. Only a Finish
// decision ends the loop normally; a router failure or the turn limit halts
// it with an alert.
func (a *MetricAgent) Run(ctx context.Context, spec types.MetricSpec, ds *dataset.Dataset, layout artifact.Layout) *Context {
	logger := logging.FromContext(ctx, a.Logger)
	maxTurns := a.MaxRouterTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxRouterTurns
	}

	if spec.WithDefaults().ExtractionMode == types.ExtractionSemantic && ds != nil {
		ds = ds.Restrict(spec.SemanticCourseNames)
	}
	ac := NewContext(spec, ds, layout)
	logger = logger.With(zap.String("metric_id", spec.ID), zap.String("run_id", ac.RunID))
	defer progress.Track(a.Sink, types.Event{Name: "metric_agent", RunID: ac.RunID, MetricID: spec.ID})()

	for turn := 1; ; turn++ {
		if turn > maxTurns {
			ac.Alert(fmt.Sprintf("router turn limit (%d) reached before finish", maxTurns))
			logger.Warn("router turn limit reached", zap.Int("turns", maxTurns))
			return ac
		}

		d, err := a.Router.Decide(ctx, ac)
		if err != nil {
			ac.RecordError(err.Error())
			ac.Alert("router failed: " + err.Error())
			logger.Warn("router failed, halting metric", zap.Error(err))
			return ac
		}
		logger.Info("routing", zap.Int("turn", turn), zap.String("action", d.Action()), zap.String("reason", d.Reason()))

		switch d.(type) {
		case Finish:
			return ac
		case GenerateTabular:
			out := a.Table.Run(ctx, ac)
			ac.PreviousNode = NodeTableExec
			logger.Debug("table loop done", zap.Bool("converged", out.Converged), zap.Int("cycles", out.Cycles))
		case GenerateChart:
			out := a.Chart.Run(ctx, ac)
			ac.PreviousNode = NodeChartExec
			logger.Debug("chart loop done", zap.Bool("converged", out.Converged), zap.Int("cycles", out.Cycles))
		}
	}
}
