package report

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rigel0718/transcript-insight/internal/store"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/ui"
)

func sampleReport() *types.ReportPlan {
	records := make([]map[string]any, 12)
	for i := range records {
		records[i] = map[string]any{"term": float64(i + 1), "gpa": 3.5 + float64(i)/100}
	}
	return &types.ReportPlan{
		RunID: "run-1",
		Insights: []types.Insight{
			{
				MetricID:   "gpa_trend",
				Title:      "GPA | trend",
				Insight:    "GPA rose steadily.",
				KeyNumbers: []types.KeyNumber{{Label: "latest", Value: 4.126, Unit: "pt"}, {Label: "terms", Value: float64(6)}},
				Caveats:    []string{"summer terms excluded"},
				Records:    records,
				CSVPath:    "artifacts/1700000000_gpa_by_term.csv",
				ChartPath:  "artifacts/1700000000_gpa_line.png",
				Status:     "normal",
			},
			{MetricID: "retakes", Status: "alert", Message: "no retaken courses"},
		},
		Failed: []string{"credit_mix"},
		Cost:   0.0421,
	}
}

var ansi = regexp.MustCompile("\x1b\\[[0-9;]*m")

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleReport())

	for _, want := range []string{
		"# Transcript insight report",
		"Run `run-1` · 2 insights · 1 failed · $0.0421",
		`## GPA \| trend`,
		"GPA rose steadily.",
		"| latest | 4.13 pt |",
		"| terms | 6 |",
		"- summer terms excluded",
		"![GPA \\| trend](artifacts/1700000000_gpa_line.png)",
		"| gpa | term |",
		"| 3.50 | 1 |",
		"_2 more rows_",
		"Table: [1700000000_gpa_by_term.csv](artifacts/1700000000_gpa_by_term.csv)",
		"## retakes",
		"> **Alert:** no retaken courses",
		"## Failed metrics",
		"- `credit_mix`",
	} {
		assert.Contains(t, md, want)
	}
	assert.NotContains(t, md, "| 3.61 | 12 |")
	assert.Less(t, strings.Index(md, "## GPA"), strings.Index(md, "## retakes"))
}

func TestMarkdown_Nil(t *testing.T) {
	assert.Contains(t, Markdown(nil), "_No report._")
}

func TestFormatValue(t *testing.T) {
	cases := map[string]any{
		"":     nil,
		"3":    float64(3),
		"3.77": 3.766666,
		"abc":  "abc",
		"true": true,
		"12":   12,
		"1.50": float32(1.5),
	}
	for want, in := range cases {
		assert.Equal(t, want, formatValue(in), "value %v", in)
	}
}

func TestRenderer(t *testing.T) {
	r, err := NewRenderer(ui.NewStyles(ui.LightTheme()), 100)
	require.NoError(t, err)

	out, err := r.Render(sampleReport())
	require.NoError(t, err)
	plain := ansi.ReplaceAllString(out, "")
	assert.Contains(t, plain, "run-1")
	assert.Contains(t, plain, "steadily")
	assert.Contains(t, plain, "retakes")
}

func TestSummary(t *testing.T) {
	styles := ui.NewStyles(ui.LightTheme())
	out := Summary(sampleReport(), styles)
	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "$0.0421")
	assert.Contains(t, out, "alerts: retakes")

	assert.Contains(t, Summary(nil, styles), "no report")
}

func TestRunList(t *testing.T) {
	styles := ui.NewStyles(ui.LightTheme())
	assert.Contains(t, RunList(nil, styles), "no runs stored")

	out := RunList([]store.RunSummary{
		{ID: "run-1", UserID: "u1", CreatedAt: time.Now(), Metrics: 3, Failed: 1, Cost: 0.05},
	}, styles)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "$0.0500")

	out = RecordList([]store.MetricRecord{{MetricID: "gpa_trend", Status: "normal", AttemptsDF: 2, Duration: time.Second}}, styles)
	assert.Contains(t, out, "gpa_trend")
	assert.Contains(t, out, "1s")
}
