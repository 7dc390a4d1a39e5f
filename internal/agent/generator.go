package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/perception"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/prompt"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

const datasetPreviewRows = 20

// generation is the JSON reply of a generation prompt. Table prompts use the
// df_ prefixed keys; both spellings are accepted for either step.
type generation struct {
	Code   string `json:"code"`
	DFCode string `json:"df_code"`
	Name   string `json:"name"`
	DFName string `json:"df_name"`
	Desc   string `json:"desc"`
	DFDesc string `json:"df_desc"`
}

func (g generation) code() string { return firstNonEmpty(g.Code, g.DFCode) }
func (g generation) name() string { return firstNonEmpty(g.Name, g.DFName) }
func (g generation) desc() string { return firstNonEmpty(g.Desc, g.DFDesc) }

type tableInput struct {
	Task           string
	Dataset        string
	PreviousCode   string
	PreviousError  string
	AllowedImports []string
}

type chartInput struct {
	Task           string
	ChartType      string
	TableName      string
	TableDesc      string
	TableSchema    string
	TablePreview   string
	PreviousCode   string
	PreviousError  string
	AllowedImports []string
}

// Generator asks the LLM for a new snippet. It never returns an error:
// failures are recorded on the Context and reported through the bool.
type Generator struct {
	llm            types.LLMClient
	table          *prompt.Template
	chart          *prompt.Template
	allowedImports []string
	sink           types.EventSink
	logger         *zap.Logger
}

// NewGenerator creates a generator from the prompt corpus.
func NewGenerator(llm types.LLMClient, corpus *prompt.Corpus, allowedImports []string, sink types.EventSink, logger *zap.Logger) (*Generator, error) {
	table, err := corpus.Get("generate_table")
	if err != nil {
		return nil, err
	}
	chart, err := corpus.Get("generate_chart")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		llm:            llm,
		table:          table,
		chart:          chart,
		allowedImports: allowedImports,
		sink:           progress.OrDiscard(sink),
		logger:         logger,
	}, nil
}

// GenerateTable asks for a snippet producing the metric's table.
func (g *Generator) GenerateTable(ctx context.Context, ac *Context) bool {
	preview := ""
	if ac.Dataset != nil {
		preview = ac.Dataset.Summary(datasetPreviewRows)
	}
	in := tableInput{
		Task:           ac.Task,
		Dataset:        preview,
		PreviousCode:   ac.DFCode,
		PreviousError:  ac.LastError,
		AllowedImports: g.allowedImports,
	}
	gen, ok := g.generate(ctx, ac, g.table, "df_code_generator", in)
	if !ok {
		return false
	}
	ac.DFCode = gen.code()
	ac.DFName = firstNonEmpty(gen.name(), ac.Spec.ID)
	ac.DFDesc = gen.desc()
	return true
}

// GenerateChart asks for a snippet drawing the current table.
func (g *Generator) GenerateChart(ctx context.Context, ac *Context) bool {
	in := chartInput{
		Task:           ac.Task,
		ChartType:      string(ac.Spec.ChartType),
		TableName:      ac.DFName,
		TableDesc:      ac.DFDesc,
		TableSchema:    describeSchema(ac.DFMeta),
		TablePreview:   previewTable(ac.CSVPath, 10),
		PreviousCode:   ac.ChartCode,
		PreviousError:  ac.LastError,
		AllowedImports: g.allowedImports,
	}
	gen, ok := g.generate(ctx, ac, g.chart, "chart_code_generator", in)
	if !ok {
		return false
	}
	ac.ChartCode = gen.code()
	ac.ChartName = firstNonEmpty(gen.name(), ac.Spec.ID+"_chart")
	ac.ChartDesc = gen.desc()
	return true
}

func (g *Generator) generate(ctx context.Context, ac *Context, tpl *prompt.Template, step string, in any) (generation, bool) {
	defer progress.Track(g.sink, types.Event{Name: step, RunID: ac.RunID, MetricID: ac.Spec.ID})()

	system, user, err := tpl.Render(in)
	if err != nil {
		g.fail(ac, step, fmt.Sprintf("%s: %v", step, err))
		return generation{}, false
	}

	ctx = usage.WithScope(ctx, usage.Scope{RunID: ac.RunID, MetricID: ac.Spec.ID, Operation: step})
	out, err := g.llm.CompleteWithSystem(ctx, system, user)
	if err != nil {
		g.fail(ac, step, fmt.Sprintf("%s: LLM call failed: %v", step, err))
		return generation{}, false
	}
	ac.AddCost(out.Cost)

	var gen generation
	if err := perception.DecodeJSON(out.Text, &gen); err != nil || gen.code() == "" {
		// Some replies carry the code as a fenced block instead of JSON.
		if code := fencedGo(out.Text); code != "" {
			gen.Code, gen.DFCode = code, ""
		} else {
			if err == nil {
				err = fmt.Errorf("empty code")
			}
			g.fail(ac, step, fmt.Sprintf("%s: unusable response: %v", step, err))
			return generation{}, false
		}
	}

	g.logger.Debug("snippet generated",
		zap.String("step", step),
		zap.String("metric_id", ac.Spec.ID),
		zap.String("name", gen.name()),
		zap.Int("code_len", len(gen.code())),
		zap.Float64("cost_usd", out.Cost))
	return gen, true
}

func (g *Generator) fail(ac *Context, step, msg string) {
	g.logger.Warn("generation failed", zap.String("step", step), zap.String("metric_id", ac.Spec.ID), zap.String("error", msg))
	ac.RecordError(msg)
	ac.Alert("code generation failed: " + msg)
}

// fencedGo returns the content of a ```go block, or "" when there is none.
func fencedGo(text string) string {
	if !strings.Contains(text, "```") {
		return ""
	}
	code := perception.ExtractCodeBlock(text, "go")
	if !strings.Contains(code, "func ") {
		return ""
	}
	return code
}

func describeSchema(e *artifact.Entry) string {
	if e == nil {
		return ""
	}
	if len(e.Schema) == 0 {
		return strings.Join(e.Columns, ", ")
	}
	cols := make([]string, 0, len(e.Schema))
	for name, typ := range e.Schema {
		cols = append(cols, name+" ("+typ+")")
	}
	sort.Strings(cols)
	return strings.Join(cols, ", ")
}

func previewTable(path string, rows int) string {
	df, err := artifact.ReadTable(path)
	if err != nil {
		return ""
	}
	if df.Nrow() > rows {
		idx := make([]int, rows)
		for i := range idx {
			idx[i] = i
		}
		df = df.Subset(idx)
	}
	var b strings.Builder
	for i, rec := range df.Records() {
		b.WriteString(strings.Join(rec, " | "))
		if i < df.Nrow() {
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
