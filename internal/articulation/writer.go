// Package articulation turns a finished metric's artifacts into the narrative
// insight that goes into the report plan.
package articulation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/prompt"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

// StepName is the progress event and usage operation of insight synthesis.
const StepName = "metric_insight"

// chartMinRows is the row count above which a non-pie chart is kept.
const chartMinRows = 4

// Outcome is what a metric agent left behind.
type Outcome struct {
	Layout    artifact.Layout
	CSVPath   string
	ChartPath string
	TableDesc string
	ChartDesc string
	Status    string
	Message   string
}

type insightInput struct {
	Language     string
	Tone         string
	Audience     string
	AudienceGoal string
	Focus        []string
	DetailLevel  string
	Produces     string
	MetricID     string
	Rationale    string
	ComputeHint  string
	TableDesc    string
	ChartDesc    string
	Alert        string
	Records      []map[string]any
}

// Writer synthesizes insights with one LLM call per metric.
type Writer struct {
	llm       types.LLMClient
	tpl       *prompt.Template
	processor *ResponseProcessor
	urlPrefix string
	sink      types.EventSink
	logger    *zap.Logger
}

// NewWriter creates a writer. A non-empty urlPrefix turns artifact paths into
// URLs under {urlPrefix}/artifacts.
func NewWriter(llm types.LLMClient, corpus *prompt.Corpus, urlPrefix string, sink types.EventSink, logger *zap.Logger) (*Writer, error) {
	tpl, err := corpus.Get("insight")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		llm:       llm,
		tpl:       tpl,
		processor: NewResponseProcessor(),
		urlPrefix: urlPrefix,
		sink:      progress.OrDiscard(sink),
		logger:    logger,
	}, nil
}

// Processor exposes the reply parser, mainly for its stats.
func (w *Writer) Processor() *ResponseProcessor { return w.processor }

// Write produces the insight for one metric and returns it with the cost of
// the call. The cost is returned even when parsing the reply fails.
func (w *Writer) Write(ctx context.Context, spec types.MetricSpec, analysis types.AnalysisSpec, out Outcome) (*types.Insight, float64, error) {
	spec = spec.WithDefaults()
	defer progress.Track(w.sink, types.Event{Name: StepName, RunID: out.Layout.RunID, MetricID: spec.ID})()

	csvPath := out.Layout.Relative(out.CSVPath, w.urlPrefix)
	chartPath := out.Layout.Relative(out.ChartPath, w.urlPrefix)

	records := []map[string]any{}
	if out.CSVPath != "" {
		df, err := artifact.ReadTable(out.CSVPath)
		if err != nil {
			w.logger.Error("failed to load table", zap.String("metric_id", spec.ID), zap.String("csv_path", out.CSVPath), zap.Error(err))
		} else {
			records = df.Maps()
			if spec.ChartType != types.ChartPie && len(records) <= chartMinRows {
				chartPath = ""
			}
		}
	}

	in := buildInput(spec, analysis, out, records)
	system, user, err := w.tpl.Render(in)
	if err != nil {
		return nil, 0, fmt.Errorf("insight prompt: %w", err)
	}

	ctx = usage.WithScope(ctx, usage.Scope{RunID: out.Layout.RunID, MetricID: spec.ID, Operation: StepName})
	resp, err := w.llm.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, 0, fmt.Errorf("insight call failed: %w", err)
	}
	cost := resp.Cost

	reply, err := w.processor.Process(resp.Text)
	if err != nil {
		return nil, cost, fmt.Errorf("insight reply for %s: %w", spec.ID, err)
	}
	for _, warn := range reply.Warnings {
		w.logger.Warn("insight reply", zap.String("metric_id", spec.ID), zap.String("warning", warn))
	}

	insight := &types.Insight{
		MetricID:   spec.ID,
		Title:      reply.Title,
		Insight:    reply.Insight,
		Produces:   reply.Produces,
		KeyNumbers: reply.KeyNumbers,
		Caveats:    reply.Caveats,
		Records:    records,
		CSVPath:    csvPath,
		ChartPath:  chartPath,
		Status:     out.Status,
		Message:    out.Message,
	}
	if insight.Title == "" {
		insight.Title = spec.ID
	}
	if insight.Produces == "" {
		insight.Produces = spec.Produces
	}
	w.logger.Info("insight written",
		zap.String("metric_id", spec.ID),
		zap.String("parse", reply.ParseMethod),
		zap.Int("records", len(records)),
		zap.Float64("cost_usd", cost))
	return insight, cost, nil
}

func buildInput(spec types.MetricSpec, a types.AnalysisSpec, out Outcome, records []map[string]any) insightInput {
	in := insightInput{
		Language:     orDefault(a.Language, "ko"),
		Tone:         orDefault(a.Tone, "neutral"),
		Audience:     orDefault(a.Audience, "student"),
		AudienceGoal: a.AudienceGoal,
		Focus:        a.Focus,
		DetailLevel:  orDefault(a.DetailLevel, "balanced"),
		Produces:     string(spec.Produces),
		MetricID:     spec.ID,
		Rationale:    spec.Rationale,
		ComputeHint:  spec.ComputeHint,
		TableDesc:    out.TableDesc,
		ChartDesc:    out.ChartDesc,
		Records:      records,
	}
	if a.AudienceSpec != "" {
		in.Audience = a.AudienceSpec
	}
	if out.Status == "alert" {
		in.Alert = orDefault(out.Message, "the metric did not complete")
	}
	return in
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
