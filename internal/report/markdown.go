// Package report turns a ReportPlan into markdown and terminal output.
package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// MaxPreviewRows bounds the table preview under each insight.
const MaxPreviewRows = 10

// Markdown renders report as a markdown document in plan order.
func Markdown(report *types.ReportPlan) string {
	var sb strings.Builder
	sb.WriteString("# Transcript insight report\n\n")
	if report == nil {
		sb.WriteString("_No report._\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Run `%s` · %d insights · %d failed · $%.4f\n\n",
		report.RunID, len(report.Insights), len(report.Failed), report.Cost)

	for _, in := range report.Insights {
		writeInsight(&sb, in)
	}

	if len(report.Failed) > 0 {
		sb.WriteString("## Failed metrics\n\n")
		for _, id := range report.Failed {
			fmt.Fprintf(&sb, "- `%s`\n", id)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeInsight(sb *strings.Builder, in types.Insight) {
	title := in.Title
	if title == "" {
		title = in.MetricID
	}
	fmt.Fprintf(sb, "## %s\n\n", escape(title))
	if in.Status == "alert" {
		fmt.Fprintf(sb, "> **Alert:** %s\n\n", escape(in.Message))
	}
	if in.Insight != "" {
		sb.WriteString(in.Insight)
		sb.WriteString("\n\n")
	}

	if len(in.KeyNumbers) > 0 {
		sb.WriteString("| Key number | Value |\n|---|---|\n")
		for _, kn := range in.KeyNumbers {
			value := formatValue(kn.Value)
			if kn.Unit != "" {
				value += " " + kn.Unit
			}
			fmt.Fprintf(sb, "| %s | %s |\n", escape(kn.Label), escape(value))
		}
		sb.WriteString("\n")
	}

	if len(in.Caveats) > 0 {
		sb.WriteString("**Caveats**\n\n")
		for _, c := range in.Caveats {
			fmt.Fprintf(sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}

	if in.ChartPath != "" {
		fmt.Fprintf(sb, "![%s](%s)\n\n", escape(title), in.ChartPath)
	}
	if len(in.Records) > 0 {
		writePreview(sb, in.Records)
	}
	if in.CSVPath != "" {
		fmt.Fprintf(sb, "Table: [%s](%s)\n\n", lastSegment(in.CSVPath), in.CSVPath)
	}
}

func writePreview(sb *strings.Builder, records []map[string]any) {
	columns := columnsOf(records)
	if len(columns) == 0 {
		return
	}
	sb.WriteString("| " + strings.Join(escapeAll(columns), " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat("---|", len(columns)) + "\n")
	for i, rec := range records {
		if i == MaxPreviewRows {
			break
		}
		cells := make([]string, len(columns))
		for j, col := range columns {
			cells[j] = escape(formatValue(rec[col]))
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(records) > MaxPreviewRows {
		fmt.Fprintf(sb, "\n_%d more rows_\n", len(records)-MaxPreviewRows)
	}
	sb.WriteString("\n")
}

// columnsOf returns the union of record keys, sorted.
func columnsOf(records []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	case float32:
		return formatValue(float64(x))
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func escapeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = escape(s)
	}
	return out
}

func lastSegment(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
