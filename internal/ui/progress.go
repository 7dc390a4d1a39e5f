package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

const schedulerStep = "metric_scheduler"

// EventMsg carries one progress event into the model.
type EventMsg types.Event

// DoneMsg ends the run view with the merged report.
type DoneMsg struct {
	Report *types.ReportPlan
	Err    error
}

type metricPhase int

const (
	phasePending metricPhase = iota
	phaseRunning
	phaseFinished
)

type metricRow struct {
	id      string
	phase   metricPhase
	step    string
	started time.Time
	elapsed time.Duration
	status  string
}

// ProgressModel shows one line per metric with its current step.
type ProgressModel struct {
	spinner   spinner.Model
	styles    Styles
	runID     string
	rows      []*metricRow
	byID      map[string]*metricRow
	completed int
	total     int
	done      bool
	cancelled bool
	err       error
	report    *types.ReportPlan
	width     int
	now       func() time.Time
}

// NewProgressModel creates a model listing metricIDs in plan order.
func NewProgressModel(metricIDs []string, styles Styles) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := ProgressModel{
		spinner: sp,
		styles:  styles,
		byID:    make(map[string]*metricRow, len(metricIDs)),
		total:   len(metricIDs),
		width:   80,
		now:     time.Now,
	}
	for _, id := range metricIDs {
		row := &metricRow{id: id}
		m.rows = append(m.rows, row)
		m.byID[id] = row
	}
	return m
}

// Init starts the spinner.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies spinner ticks, events and key presses.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(types.Event(msg))
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.report = msg.Report
		m.settle()
		return m, tea.Quit
	}
	return m, nil
}

func (m *ProgressModel) apply(e types.Event) {
	if e.RunID != "" && m.runID == "" && e.Name == schedulerStep {
		m.runID = e.RunID
	}
	if e.Name == schedulerStep {
		if e.Total > 0 {
			m.total = e.Total
		}
		if e.Status == types.EventProgress {
			m.completed = e.Completed
			if row := m.byID[e.MetricID]; row != nil {
				m.finish(row)
			}
		}
		return
	}

	row := m.byID[e.MetricID]
	if row == nil || row.phase == phaseFinished {
		return
	}
	if row.phase == phasePending {
		row.phase = phaseRunning
		row.started = m.now()
	}
	switch e.Status {
	case types.EventStart:
		row.step = e.Name
	case types.EventEnd:
		if e.Name == "metric_agent" {
			row.step = "writing insight"
		}
	}
}

func (m *ProgressModel) finish(row *metricRow) {
	row.phase = phaseFinished
	row.step = ""
	if !row.started.IsZero() {
		row.elapsed = m.now().Sub(row.started)
	}
}

// settle copies final statuses from the report.
func (m *ProgressModel) settle() {
	if m.report == nil {
		return
	}
	for _, in := range m.report.Insights {
		if row := m.byID[in.MetricID]; row != nil {
			row.status = in.Status
			if row.phase != phaseFinished {
				m.finish(row)
			}
		}
	}
	for _, id := range m.report.Failed {
		if row := m.byID[id]; row != nil {
			row.status = "failed"
			if row.phase != phaseFinished {
				m.finish(row)
			}
		}
	}
}

// Cancelled reports whether the user quit before the run finished.
func (m ProgressModel) Cancelled() bool { return m.cancelled && !m.done }

// Report returns the report delivered by DoneMsg.
func (m ProgressModel) Report() (*types.ReportPlan, error) { return m.report, m.err }

// View renders the metric list.
func (m ProgressModel) View() string {
	var sb strings.Builder

	header := "transcript-insight"
	if m.runID != "" {
		header += "  " + m.runID
	}
	sb.WriteString(m.styles.Header.Render(header))
	sb.WriteString("\n\n")

	idWidth := 0
	for _, row := range m.rows {
		idWidth = max(idWidth, len(row.id))
	}

	for _, row := range m.rows {
		var mark, detail string
		switch row.phase {
		case phasePending:
			mark = m.styles.Muted.Render("·")
			detail = m.styles.Muted.Render("waiting")
		case phaseRunning:
			mark = m.spinner.View()
			detail = m.styles.Info.Render(row.step)
		case phaseFinished:
			status := row.status
			if status == "" {
				status = "done"
			}
			mark = m.styles.StatusStyle(status).Render("●")
			detail = m.styles.StatusStyle(status).Render(status)
			if row.elapsed > 0 {
				detail += m.styles.Muted.Render(" " + row.elapsed.Round(time.Millisecond).String())
			}
		}
		fmt.Fprintf(&sb, " %s %-*s  %s\n", mark, idWidth, row.id, detail)
	}

	sb.WriteString("\n")
	sb.WriteString(m.styles.RenderDivider(min(m.width, 60)))
	sb.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		sb.WriteString(m.styles.Error.Render("run failed: " + m.err.Error()))
	case m.done && m.report != nil:
		fmt.Fprintf(&sb, "%s  %d insights, %d failed, $%.4f",
			m.styles.Success.Render("done"), len(m.report.Insights), len(m.report.Failed), m.report.Cost)
	default:
		fmt.Fprintf(&sb, "%d/%d metrics  %s", m.completed, m.total, m.styles.Muted.Render("q to quit"))
	}
	sb.WriteString("\n")
	return sb.String()
}

// Sender is the part of *tea.Program the sink needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramSink forwards events to a running program.
type ProgramSink struct {
	Program Sender
}

// Emit implements types.EventSink.
func (s ProgramSink) Emit(e types.Event) {
	if s.Program != nil {
		s.Program.Send(EventMsg(e))
	}
}
