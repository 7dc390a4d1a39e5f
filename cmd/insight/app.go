package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/agent"
	"github.com/Rigel0718/transcript-insight/internal/articulation"
	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/config"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/perception"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/prompt"
	"github.com/Rigel0718/transcript-insight/internal/render"
	"github.com/Rigel0718/transcript-insight/internal/sandbox"
	"github.com/Rigel0718/transcript-insight/internal/scheduler"
	"github.com/Rigel0718/transcript-insight/internal/store"
	"github.com/Rigel0718/transcript-insight/internal/telemetry"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

// app is the wired pipeline shared by run and serve.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	llm      types.LLMClient
	metrics  *telemetry.Metrics
	executor *sandbox.Executor
	renderer *render.Renderer
	corpus   *prompt.Corpus
	store    *store.RunStore
}

// newApp builds the pipeline. llm may be nil, in which case the configured
// provider is used.
func newApp(ctx context.Context, cfg *config.Config, llm types.LLMClient, base *zap.Logger) (*app, error) {
	if base == nil {
		base = zap.NewNop()
	}
	a := &app{
		cfg:     cfg,
		logger:  base,
		metrics: telemetry.New(),
	}

	if llm == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		client, err := perception.NewClientFromConfig(ctx, cfg, logging.For(base, logging.CategoryAPI))
		if err != nil {
			return nil, err
		}
		llm = client
	}
	a.llm = perception.NewTrackingClient(llm, cfg.LLM.Provider, usage.DefaultPrices, nil, logging.For(base, logging.CategoryAPI))

	corpus, err := prompt.LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	a.corpus = corpus

	a.renderer = render.New(cfg.Render.FontCandidates, cfg.Render.WidthInches, cfg.Render.HeightInches, logging.For(base, logging.CategoryRender))
	a.executor = sandbox.NewExecutor(sandbox.Options{
		ExtraImports: cfg.Sandbox.ExtraImports,
		Timeout:      cfg.GetSandboxTimeout(),
		AllowScan:    cfg.Agent.AllowScan,
		Renderer:     a.renderer,
		Logger:       logging.For(base, logging.CategorySandbox),
		Observer:     a.metrics,
	})

	s, err := store.Open(cfg.Storage.DatabasePath, logging.For(base, logging.CategoryStore))
	if err != nil {
		return nil, err
	}
	a.store = s
	return a, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// runOptions are the per-run inputs.
type runOptions struct {
	UserID string
	RunID  string
	Debug  bool
	Sink   types.EventSink
}

// runPlan executes plan, persists the report and writes the usage file into
// the run directory.
func (a *app) runPlan(ctx context.Context, plan *types.MetricPlan, ds *dataset.Dataset, opts runOptions) (*types.ReportPlan, []scheduler.Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}
	userID := opts.UserID
	if userID == "" {
		userID = a.cfg.Storage.UserID
	}
	sink := progress.Multi{a.metrics, progress.LogSink{Logger: logging.For(a.logger, logging.CategoryScheduler)}, opts.Sink}

	ag, err := agent.New(agent.Options{
		LLM:            a.llm,
		Corpus:         a.corpus,
		Executor:       a.executor,
		AllowedImports: a.executor.AllowedImports(),
		MaxCycles:      a.cfg.Agent.MaxCycles,
		MaxRouterTurns: a.cfg.Agent.MaxRouterTurns,
		Debug:          opts.Debug || a.cfg.Logging.Debug,
		Sink:           sink,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	writer, err := articulation.NewWriter(a.llm, a.corpus, a.cfg.Storage.URLPrefix, sink, logging.For(a.logger, logging.CategoryArticulation))
	if err != nil {
		return nil, nil, err
	}

	layout := artifact.Layout{WorkDir: a.cfg.Storage.WorkDir, UserID: userID, RunID: opts.RunID}
	sched := scheduler.New(ag, writer, scheduler.Options{
		MaxWorkers: a.cfg.Agent.MaxWorkers,
		Layout:     layout,
		RunLogs:    a.cfg.Logging.RunFiles,
		LogLevel:   logging.ParseLevel(a.cfg.Logging.Level),
		Sink:       sink,
		Observer:   a.metrics,
		Logger:     logging.For(a.logger, logging.CategoryScheduler),
	})

	tracker := usage.NewTracker()
	report, results := sched.Run(usage.NewContext(ctx, tracker), plan, ds)

	if err := a.store.SaveReport(ctx, userID, plan, report, metricRecords(results)); err != nil {
		return report, results, err
	}
	usagePath := filepath.Join(layout.Child(report.RunID).RunDir(), "usage.json")
	if err := tracker.Save(usagePath); err != nil {
		a.logger.Warn("failed to save usage", zap.String("path", usagePath), zap.Error(err))
	}
	return report, results, nil
}

// metricRecords flattens scheduler results for the run store.
func metricRecords(results []scheduler.Result) []store.MetricRecord {
	records := make([]store.MetricRecord, 0, len(results))
	for _, res := range results {
		rec := store.MetricRecord{
			MetricID: res.MetricID,
			Status:   scheduler.MetricOK,
			Cost:     res.Cost,
			Duration: res.Duration,
		}
		if ac := res.Context; ac != nil {
			rec.CSVPath = ac.CSVPath
			rec.ChartPath = ac.ImgPath
			rec.AttemptsDF = ac.Attempts[agent.TaskTable]
			rec.AttemptsChart = ac.Attempts[agent.TaskChart]
			if ac.Status.IsAlert() {
				rec.Status = scheduler.MetricAlert
				rec.Message = ac.Status.Message
			}
		}
		if res.Insight == nil {
			rec.Status = scheduler.MetricFailed
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		records = append(records, rec)
	}
	return records
}
