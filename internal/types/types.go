// Package types provides shared type definitions used across transcript-insight packages.
// This package exists to break import cycles between agent, scheduler, and articulation.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
)

// =============================================================================
// METRIC PLANNING TYPES
// =============================================================================

// ChartType enumerates the chart shapes a metric may ask for.
type ChartType string

const (
	ChartLine       ChartType = "line"
	ChartBar        ChartType = "bar"
	ChartStackedBar ChartType = "stacked_bar"
	ChartScatter    ChartType = "scatter"
	ChartPie        ChartType = "pie"
	ChartNone       ChartType = "none"
)

// Produces tags what a metric is expected to yield.
type Produces string

const (
	ProducesTable  Produces = "table"
	ProducesChart  Produces = "chart"
	ProducesMetric Produces = "metric"
)

// ExtractionMode selects how the input rows for a metric are chosen.
type ExtractionMode string

const (
	ExtractionRule     ExtractionMode = "rule"
	ExtractionSemantic ExtractionMode = "semantic"
)

// MetricSpec is an immutable planning unit produced by the planner.
type MetricSpec struct {
	ID                  string         `json:"id" yaml:"id" validate:"required,max=64"`
	Rationale           string         `json:"rationale" yaml:"rationale" validate:"required"`
	ComputeHint         string         `json:"compute_hint" yaml:"compute_hint" validate:"required"`
	ChartType           ChartType      `json:"chart_type" yaml:"chart_type" validate:"omitempty,oneof=line bar stacked_bar scatter pie none"`
	Produces            Produces       `json:"produces" yaml:"produces" validate:"omitempty,oneof=table chart metric"`
	Tags                []string       `json:"tags,omitempty" yaml:"tags,omitempty" validate:"dive,required"`
	ExtractionMode      ExtractionMode `json:"extraction_mode" yaml:"extraction_mode" validate:"omitempty,oneof=rule semantic"`
	ExtractionQuery     string         `json:"extraction_query,omitempty" yaml:"extraction_query,omitempty"`
	SemanticCourseNames []string       `json:"semantic_course_names,omitempty" yaml:"semantic_course_names,omitempty" validate:"dive,required"`
}

// WithDefaults fills the optional enumerations with their documented defaults.
func (m MetricSpec) WithDefaults() MetricSpec {
	if m.ChartType == "" {
		m.ChartType = ChartNone
	}
	if m.Produces == "" {
		m.Produces = ProducesMetric
	}
	if m.ExtractionMode == "" {
		m.ExtractionMode = ExtractionSemantic
	}
	return m
}

// WantsChart reports whether the metric asks for a chart at all.
func (m MetricSpec) WantsChart() bool {
	return m.ChartType != "" && m.ChartType != ChartNone
}

// MetricPlan is the ordered list of metrics handed to the scheduler.
type MetricPlan struct {
	Analysis AnalysisSpec `json:"analysis" yaml:"analysis"`
	Metrics  []MetricSpec `json:"metrics" yaml:"metrics" validate:"required,min=1,unique=ID,dive"`
}

// AnalysisSpec describes the reader of the final report.
type AnalysisSpec struct {
	Focus        []string `json:"focus,omitempty" yaml:"focus,omitempty"`
	Audience     string   `json:"audience,omitempty" yaml:"audience,omitempty" validate:"omitempty,oneof=student evaluator advisor"`
	AudienceSpec string   `json:"audience_spec,omitempty" yaml:"audience_spec,omitempty"`
	AudienceGoal string   `json:"audience_goal,omitempty" yaml:"audience_goal,omitempty"`
	Tone         string   `json:"tone,omitempty" yaml:"tone,omitempty" validate:"omitempty,oneof=neutral encouraging formal"`
	Language     string   `json:"language,omitempty" yaml:"language,omitempty" validate:"omitempty,oneof=ko en"`
	DetailLevel  string   `json:"detail_level,omitempty" yaml:"detail_level,omitempty" validate:"omitempty,oneof=summary balanced in_depth"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the plan for structural problems before any agent runs.
func (p *MetricPlan) Validate() error {
	if err := getValidator().Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid metric plan: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid metric plan: %w", err)
	}
	// Ids name the per-metric run directories, so they must stay distinct
	// after sanitizing.
	seen := make(map[string]string, len(p.Metrics))
	for _, m := range p.Metrics {
		name := artifact.SanitizeName(m.ID)
		if other, ok := seen[name]; ok {
			return fmt.Errorf("invalid metric plan: metric ids %q and %q both map to %q", other, m.ID, name)
		}
		seen[name] = m.ID
	}
	return nil
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// KeyNumber is one headline figure of an insight. Value is a number or a string.
type KeyNumber struct {
	Label string `json:"label"`
	Value any    `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Insight is the terminal output of one metric.
type Insight struct {
	MetricID   string           `json:"metric_id"`
	Title      string           `json:"title"`
	Insight    string           `json:"insight"`
	Produces   Produces         `json:"produces"`
	KeyNumbers []KeyNumber      `json:"key_numbers"`
	Caveats    []string         `json:"caveats"`
	Records    []map[string]any `json:"dataframe,omitempty"`
	CSVPath    string           `json:"csv_path"`
	ChartPath  string           `json:"chart_path"`
	Status     string           `json:"status"`
	Message    string           `json:"message,omitempty"`
}

// ReportPlan is the ordered collection of insights handed to report synthesis.
type ReportPlan struct {
	RunID    string    `json:"run_id"`
	Insights []Insight `json:"metric_insights"`
	Failed   []string  `json:"failed,omitempty"`
	Cost     float64   `json:"cost"`
}
