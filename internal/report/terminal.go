package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rigel0718/transcript-insight/internal/store"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/ui"
)

// Renderer renders markdown for the terminal.
type Renderer struct {
	term   *glamour.TermRenderer
	styles ui.Styles
}

// NewRenderer builds a glamour renderer matching the styles' theme.
func NewRenderer(styles ui.Styles, width int) (*Renderer, error) {
	if width <= 0 {
		width = 80
	}
	style := "light"
	if styles.Theme.IsDark {
		style = "dark"
	}
	term, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{term: term, styles: styles}, nil
}

// Render renders the summary box followed by the report body.
func (r *Renderer) Render(report *types.ReportPlan) (string, error) {
	body, err := r.term.Render(Markdown(report))
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return Summary(report, r.styles) + "\n" + body, nil
}

// Summary renders the run totals in a bordered box.
func Summary(report *types.ReportPlan, styles ui.Styles) string {
	if report == nil {
		return styles.Box.Render(styles.Muted.Render("no report"))
	}
	lines := []string{
		styles.Title.Render("Run " + report.RunID),
		fmt.Sprintf("%s %d   %s %d   %s $%.4f",
			styles.Success.Render("insights"), len(report.Insights),
			styles.Error.Render("failed"), len(report.Failed),
			styles.Muted.Render("cost"), report.Cost),
	}
	var alerts []string
	for _, in := range report.Insights {
		if in.Status == "alert" {
			alerts = append(alerts, in.MetricID)
		}
	}
	if len(alerts) > 0 {
		lines = append(lines, styles.Warning.Render("alerts: ")+strings.Join(alerts, ", "))
	}
	return styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RunList renders stored run summaries as a table.
func RunList(runs []store.RunSummary, styles ui.Styles) string {
	if len(runs) == 0 {
		return styles.Muted.Render("no runs stored") + "\n"
	}
	table := ui.NewSimpleTable("Runs", []string{"run", "user", "created", "metrics", "failed", "cost"})
	for _, r := range runs {
		table.AddRow(r.ID, r.UserID, r.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprint(r.Metrics), fmt.Sprint(r.Failed), fmt.Sprintf("$%.4f", r.Cost))
	}
	return table.View(styles)
}

// RecordList renders the per-metric records of a stored run.
func RecordList(records []store.MetricRecord, styles ui.Styles) string {
	table := ui.NewSimpleTable("Metrics", []string{"metric", "status", "df", "chart", "cost", "time"})
	for _, r := range records {
		table.AddRow(r.MetricID, styles.StatusStyle(r.Status).Render(r.Status),
			fmt.Sprint(r.AttemptsDF), fmt.Sprint(r.AttemptsChart),
			fmt.Sprintf("$%.4f", r.Cost), r.Duration.String())
	}
	return table.View(styles)
}
