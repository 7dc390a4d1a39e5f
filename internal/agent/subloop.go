package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/sandbox"
	"github.com/Rigel0718/transcript-insight/internal/types"
)

// DefaultMaxCycles bounds a sub-loop when the caller passes zero.
const DefaultMaxCycles = 5

// maxFeedbackErrors caps how many error details are fed back to generation.
const maxFeedbackErrors = 3

// Executor runs one snippet. *sandbox.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) *sandbox.Result
}

// Stage is the state of a sub-loop.
type Stage int

const (
	StageGenerate Stage = iota
	StageExecute
	StageFinish
)

func (s Stage) String() string {
	switch s {
	case StageGenerate:
		return "generate"
	case StageExecute:
		return "execute"
	default:
		return "finish"
	}
}

// Outcome summarizes one sub-loop run.
type Outcome struct {
	Converged    bool
	Cycles       int // generation attempts
	Executions   int
	Precondition bool // the chart precondition failed
}

// SubLoop is the generate/execute/check cycle for one artifact kind.
type SubLoop struct {
	Kind      TaskKind
	Generator *Generator
	Executor  Executor
	MaxCycles int
	// Debug collects schema and sample metadata for registered tables.
	Debug  bool
	Sink   types.EventSink
	Logger *zap.Logger
}

func (l *SubLoop) name() string {
	if l.Kind == TaskChart {
		return "chart_agent"
	}
	return "df_agent"
}

// Run loops generate, execute until an execution succeeds or MaxCycles
// generations have been spent. The error of each failed cycle is fed into
// the next generation through ac.LastError.
func (l *SubLoop) Run(ctx context.Context, ac *Context) Outcome {
	logger := logging.FromContext(ctx, l.Logger)
	maxCycles := l.MaxCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	defer progress.Track(l.Sink, types.Event{Name: l.name(), RunID: ac.RunID, MetricID: ac.Spec.ID})()

	ac.LastError = ""
	ac.Status = NormalStatus()

	if l.Kind == TaskChart && !ac.TableReady() {
		msg := fmt.Sprintf("CSV not ready or missing: %s, must go to generate_more_tabular first", ac.CSVPath)
		ac.RecordError(msg)
		ac.Alert(msg)
		logger.Info("chart precondition failed", zap.String("metric_id", ac.Spec.ID), zap.String("csv_path", ac.CSVPath))
		return Outcome{Precondition: true}
	}

	var out Outcome
	stage := StageGenerate
	for stage != StageFinish {
		switch stage {
		case StageGenerate:
			if err := ctx.Err(); err != nil {
				ac.RecordError(fmt.Sprintf("%s cancelled: %v", l.name(), err))
				ac.Alert(fmt.Sprintf("%s cancelled after %d cycles", l.name(), out.Cycles))
				return out
			}
			if out.Cycles >= maxCycles {
				ac.Alert(fmt.Sprintf("%s did not converge after %d cycles: %s", l.name(), maxCycles, ac.LastError))
				logger.Warn("sub-loop ceiling reached", zap.String("loop", l.name()), zap.String("metric_id", ac.Spec.ID), zap.Int("cycles", out.Cycles))
				return out
			}
			out.Cycles++
			if l.generate(ctx, ac) {
				stage = StageExecute
			}
		case StageExecute:
			out.Executions++
			if l.execute(ctx, ac) {
				stage = StageFinish
			} else {
				stage = StageGenerate
			}
		}
	}

	out.Converged = true
	ac.Status = NormalStatus()
	logger.Debug("sub-loop converged", zap.String("loop", l.name()), zap.String("metric_id", ac.Spec.ID), zap.Int("cycles", out.Cycles))
	return out
}

func (l *SubLoop) generate(ctx context.Context, ac *Context) bool {
	if l.Kind == TaskChart {
		return l.Generator.GenerateChart(ctx, ac)
	}
	return l.Generator.GenerateTable(ctx, ac)
}

func (l *SubLoop) execute(ctx context.Context, ac *Context) bool {
	step := "df_code_executor"
	if l.Kind == TaskChart {
		step = "chart_code_executor"
	}
	defer progress.Track(l.Sink, types.Event{Name: step, RunID: ac.RunID, MetricID: ac.Spec.ID})()

	ac.Attempt(l.Kind)
	req := sandbox.Request{
		Registry: artifact.NewRegistry(ac.Layout.ArtifactDir(), l.Debug),
		Dataset:  ac.Dataset,
	}
	if l.Kind == TaskChart {
		req.Code, req.Mode, req.CSVPath = ac.ChartCode, sandbox.ModeChart, ac.CSVPath
	} else {
		req.Code, req.Mode = ac.DFCode, sandbox.ModeTable
	}

	res := l.Executor.Execute(ctx, req)
	ac.Stdout, ac.Stderr = res.Stdout, res.Stderr

	if !res.OK() {
		ac.Errors = append(ac.Errors, res.Errors...)
		ac.LastError = feedback(res)
		return false
	}

	ac.LastError = ""
	if l.Kind == TaskChart {
		ac.ImgPath = res.Images[len(res.Images)-1]
	} else {
		primary := *res.Primary
		ac.DFMeta = &primary
		ac.CSVPath = primary.Path
	}
	return true
}

// feedback formats a failed execution for the next generation prompt.
func feedback(res *sandbox.Result) string {
	var b strings.Builder
	b.WriteString(res.LastError)
	details := res.Errors
	if len(details) > maxFeedbackErrors {
		details = details[len(details)-maxFeedbackErrors:]
	}
	for _, d := range details {
		if d == res.LastError {
			continue
		}
		b.WriteString("\n")
		b.WriteString(d)
	}
	if res.Stderr != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(res.Stderr)
	}
	return b.String()
}
