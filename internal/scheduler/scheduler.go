// Package scheduler fans a metric plan out to per-metric agents under a
// bounded worker pool and merges their insights into one report plan.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Rigel0718/transcript-insight/internal/agent"
	"github.com/Rigel0718/transcript-insight/internal/articulation"
	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/types"
)

// StepName is the progress event name of a scheduler run.
const StepName = "metric_scheduler"

// DefaultMaxWorkers caps concurrent metrics when Options leaves it zero.
const DefaultMaxWorkers = 4

// Metric statuses reported to the observer.
const (
	MetricOK     = "ok"
	MetricAlert  = "alert"
	MetricFailed = "failed"
)

// MetricRunner runs one metric. *agent.MetricAgent satisfies it.
type MetricRunner interface {
	Run(ctx context.Context, spec types.MetricSpec, ds *dataset.Dataset, layout artifact.Layout) *agent.Context
}

// InsightWriter synthesizes a metric's insight. *articulation.Writer satisfies it.
type InsightWriter interface {
	Write(ctx context.Context, spec types.MetricSpec, analysis types.AnalysisSpec, out articulation.Outcome) (*types.Insight, float64, error)
}

// Observer is told about every finished metric.
type Observer interface {
	ObserveMetric(status string, costUSD float64, d time.Duration)
}

// Options configures a Scheduler.
type Options struct {
	MaxWorkers int
	// Layout is the parent run. An empty RunID gets a generated one.
	Layout artifact.Layout
	// RunLogs writes each metric's log to {run_dir}/logs/{run_id}.log.
	RunLogs  bool
	LogLevel zapcore.Level
	Sink     types.EventSink
	Observer Observer
	Logger   *zap.Logger
}

// Result is the outcome of one metric. Insight is nil when the metric failed.
type Result struct {
	MetricID string
	RunID    string
	Insight  *types.Insight
	// Context is the agent's final state; nil when the agent panicked.
	Context  *agent.Context
	Cost     float64
	Err      error
	Duration time.Duration
}

// Scheduler runs metric plans.
type Scheduler struct {
	runner MetricRunner
	writer InsightWriter
	opts   Options
	logger *zap.Logger
}

// New creates a scheduler.
func New(runner MetricRunner, writer InsightWriter, opts Options) *Scheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Sink = progress.OrDiscard(opts.Sink)
	return &Scheduler{runner: runner, writer: writer, opts: opts, logger: logger}
}

// Run executes every metric of plan and returns the merged report plan and
// one Result per metric in plan order. A metric that errors or panics is
// logged and recorded as a nil insight; it never stops the others.
func (s *Scheduler) Run(ctx context.Context, plan *types.MetricPlan, ds *dataset.Dataset) (*types.ReportPlan, []Result) {
	parent := s.opts.Layout
	if parent.RunID == "" {
		parent.RunID = uuid.NewString()
	}
	report := &types.ReportPlan{RunID: parent.RunID, Insights: []types.Insight{}}
	if plan == nil || len(plan.Metrics) == 0 {
		return report, nil
	}

	total := len(plan.Metrics)
	workers := min(s.opts.MaxWorkers, total)
	defer progress.Track(s.opts.Sink, types.Event{Name: StepName, RunID: parent.RunID, Total: total})()
	s.logger.Info("scheduling metrics", zap.String("run_id", parent.RunID), zap.Int("metrics", total), zap.Int("workers", workers))

	var (
		mu        sync.Mutex
		collected = make(map[string]Result, total)
		completed int
	)

	childIDs := ChildRunIDs(parent.RunID, plan.Metrics)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, spec := range plan.Metrics {
		g.Go(func() error {
			res := s.runOne(ctx, spec, plan.Analysis, ds, parent.Child(childIDs[i]))

			mu.Lock()
			collected[spec.ID] = res
			completed++
			done := completed
			mu.Unlock()

			s.opts.Sink.Emit(types.Event{
				Name:      StepName,
				Status:    types.EventProgress,
				RunID:     parent.RunID,
				MetricID:  spec.ID,
				Completed: done,
				Total:     total,
				Time:      time.Now(),
			})
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, total)
	for _, spec := range plan.Metrics {
		res := collected[spec.ID]
		results = append(results, res)
		report.Cost += res.Cost
		if res.Insight != nil {
			report.Insights = append(report.Insights, *res.Insight)
		} else {
			report.Failed = append(report.Failed, spec.ID)
		}
	}
	s.logger.Info("metrics finished",
		zap.String("run_id", parent.RunID),
		zap.Int("insights", len(report.Insights)),
		zap.Int("failed", len(report.Failed)),
		zap.Float64("cost_usd", report.Cost))
	return report, results
}

func (s *Scheduler) runOne(ctx context.Context, spec types.MetricSpec, analysis types.AnalysisSpec, ds *dataset.Dataset, layout artifact.Layout) (res Result) {
	start := time.Now()
	res = Result{MetricID: spec.ID, RunID: layout.RunID}

	logger := s.logger.With(zap.String("metric_id", spec.ID), zap.String("run_id", layout.RunID))
	if s.opts.RunLogs {
		runLogger, closeFn, err := logging.NewRunLogger(logger, layout.LogDir(), layout.RunID, s.opts.LogLevel)
		if err != nil {
			logger.Warn("run log unavailable", zap.Error(err))
		} else {
			logger = runLogger
			defer func() { _ = closeFn() }()
		}
	}
	ctx = logging.NewContext(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			res.Insight = nil
			res.Err = fmt.Errorf("metric %s panicked: %v", spec.ID, r)
			logger.Error("metric panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		res.Duration = time.Since(start)
		s.observe(res)
	}()

	ac := s.runner.Run(ctx, spec, ds, layout)
	res.Context = ac
	if ac == nil {
		res.Err = fmt.Errorf("metric %s: agent returned no state", spec.ID)
		logger.Error("agent returned no state")
		return res
	}
	res.Cost = ac.Cost

	insight, cost, err := s.writer.Write(ctx, spec, analysis, articulation.Outcome{
		Layout:    layout,
		CSVPath:   ac.CSVPath,
		ChartPath: ac.ImgPath,
		TableDesc: ac.DFDesc,
		ChartDesc: ac.ChartDesc,
		Status:    string(ac.Status.Status),
		Message:   ac.Status.Message,
	})
	res.Cost += cost
	if err != nil {
		res.Err = fmt.Errorf("metric %s: %w", spec.ID, err)
		logger.Error("insight synthesis failed", zap.Error(err))
		return res
	}
	res.Insight = insight
	logger.Info("metric finished",
		zap.String("status", string(ac.Status.Status)),
		zap.Int("df_attempts", ac.Attempts[agent.TaskTable]),
		zap.Int("chart_attempts", ac.Attempts[agent.TaskChart]),
		zap.Float64("cost_usd", res.Cost))
	return res
}

func (s *Scheduler) observe(res Result) {
	if s.opts.Observer == nil {
		return
	}
	status := MetricOK
	switch {
	case res.Insight == nil:
		status = MetricFailed
	case res.Context != nil && res.Context.Status.IsAlert():
		status = MetricAlert
	}
	s.opts.Observer.ObserveMetric(status, res.Cost, res.Duration)
}

// ChildRunIDs returns parent + "_" + the sanitized metric id for each metric.
// Ids that collide after sanitizing get a "_2", "_3", ... suffix so every
// metric owns its own run directory.
func ChildRunIDs(parent string, metrics []types.MetricSpec) []string {
	ids := make([]string, len(metrics))
	used := make(map[string]bool, len(metrics))
	for i, m := range metrics {
		base := parent + "_" + artifact.SanitizeName(m.ID)
		id := base
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		used[id] = true
		ids[i] = id
	}
	return ids
}
