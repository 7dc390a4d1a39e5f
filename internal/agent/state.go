package agent

import (
	"fmt"
	"strings"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/types"
)

// TaskKind keys the attempt counters.
type TaskKind string

const (
	TaskTable TaskKind = "df"
	TaskChart TaskKind = "chart"
)

// Node names recorded in Context.PreviousNode.
const (
	NodeRouter    = "router"
	NodeTableExec = "df_exec"
	NodeChartExec = "chart_exec"
)

// StatusKind is the coarse health of a metric run.
type StatusKind string

const (
	StatusNormal StatusKind = "normal"
	StatusAlert  StatusKind = "alert"
)

// DefaultStatusMessage accompanies a normal status.
const DefaultStatusMessage = "Everything is running smoothly."

// Status carries the health of a metric run. An alert always has a message.
type Status struct {
	Status  StatusKind `json:"status"`
	Message string     `json:"message"`
}

// NormalStatus returns the default status.
func NormalStatus() Status {
	return Status{Status: StatusNormal, Message: DefaultStatusMessage}
}

// IsAlert reports whether the status is an alert.
func (s Status) IsAlert() bool { return s.Status == StatusAlert }

// Context is the mutable working state of one metric. It is owned by a single
// agent goroutine and needs no locking.
type Context struct {
	Task    string
	Spec    types.MetricSpec
	Dataset *dataset.Dataset
	RunID   string
	Layout  artifact.Layout

	// Table artifact
	DFName  string
	DFDesc  string
	DFCode  string
	DFMeta  *artifact.Entry
	CSVPath string

	// Chart artifact
	ChartName string
	ChartDesc string
	ChartCode string
	ImgPath   string

	// Last execution output
	Stdout string
	Stderr string

	Errors    []string
	LastError string
	Attempts  map[TaskKind]int

	PreviousNode string
	NextAction   string

	Status Status
	Cost   float64
}

// NewContext creates the state for one metric.
func NewContext(spec types.MetricSpec, ds *dataset.Dataset, layout artifact.Layout) *Context {
	spec = spec.WithDefaults()
	return &Context{
		Task:     BuildTask(spec),
		Spec:     spec,
		Dataset:  ds,
		RunID:    layout.RunID,
		Layout:   layout,
		Attempts: map[TaskKind]int{TaskTable: 0, TaskChart: 0},
		Status:   NormalStatus(),
	}
}

// BuildTask renders the task description handed to every prompt.
func BuildTask(spec types.MetricSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Metric %s: %s\n", spec.ID, spec.ComputeHint)
	if spec.Rationale != "" {
		fmt.Fprintf(&b, "Why: %s\n", spec.Rationale)
	}
	fmt.Fprintf(&b, "Produces: %s, chart type: %s\n", spec.Produces, spec.ChartType)
	if spec.ExtractionQuery != "" {
		fmt.Fprintf(&b, "Extraction: %s\n", spec.ExtractionQuery)
	}
	if len(spec.SemanticCourseNames) > 0 {
		fmt.Fprintf(&b, "Courses in scope: %s\n", strings.Join(spec.SemanticCourseNames, ", "))
	}
	if len(spec.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(spec.Tags, ", "))
	}
	return strings.TrimSpace(b.String())
}

// AddCost accumulates the cost of one LLM call.
func (c *Context) AddCost(usd float64) {
	c.Cost += usd
}

// RecordError appends msg to the error list and makes it the last error.
func (c *Context) RecordError(msg string) {
	c.Errors = append(c.Errors, msg)
	c.LastError = msg
}

// Alert marks the run as alert. An empty message is replaced by a generic diagnostic.
func (c *Context) Alert(msg string) {
	if strings.TrimSpace(msg) == "" {
		msg = "an unspecified problem occurred"
		if c.LastError != "" {
			msg = "last error: " + c.LastError
		}
	}
	c.Status = Status{Status: StatusAlert, Message: msg}
}

// Attempt increments and returns the counter for kind.
func (c *Context) Attempt(kind TaskKind) int {
	c.Attempts[kind]++
	return c.Attempts[kind]
}

// TableReady reports whether a readable table exists at CSVPath.
func (c *Context) TableReady() bool {
	return artifact.Ready(c.CSVPath)
}
