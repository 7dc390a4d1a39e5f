// Package render draws declarative charts to PNG with gonum/plot and owns the
// process-wide font state those charts depend on.
package render

import (
	"errors"
	"fmt"
	"math"
)

// Kind names a chart shape.
type Kind string

const (
	KindLine       Kind = "line"
	KindBar        Kind = "bar"
	KindStackedBar Kind = "stacked_bar"
	KindScatter    Kind = "scatter"
	KindPie        Kind = "pie"
)

// Series is one named run of values. X is optional; when empty the values
// are placed at 0..n-1 against Chart.Labels.
type Series struct {
	Name string
	X    []float64
	Y    []float64
}

// Chart is what generated code hands to SaveChart.
type Chart struct {
	Kind   Kind
	Title  string
	XLabel string
	YLabel string
	Labels []string
	Series []Series
}

// ErrInvalidChart wraps every validation failure.
var ErrInvalidChart = errors.New("invalid chart")

// Validate checks that the chart can be drawn.
func (c Chart) Validate() error {
	switch c.Kind {
	case KindLine, KindBar, KindStackedBar, KindScatter, KindPie:
	default:
		return fmt.Errorf("%w: unknown kind %q (want line, bar, stacked_bar, scatter or pie)", ErrInvalidChart, c.Kind)
	}
	if len(c.Series) == 0 {
		return fmt.Errorf("%w: no series", ErrInvalidChart)
	}
	for _, s := range c.Series {
		if len(s.Y) == 0 {
			return fmt.Errorf("%w: series %q has no values", ErrInvalidChart, s.Name)
		}
		if len(s.X) != 0 && len(s.X) != len(s.Y) {
			return fmt.Errorf("%w: series %q has %d x values for %d y values", ErrInvalidChart, s.Name, len(s.X), len(s.Y))
		}
		for _, v := range append(append([]float64(nil), s.X...), s.Y...) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: series %q contains NaN or Inf", ErrInvalidChart, s.Name)
			}
		}
	}

	switch c.Kind {
	case KindBar, KindStackedBar:
		for _, s := range c.Series {
			if len(s.Y) != len(c.Labels) {
				return fmt.Errorf("%w: series %q has %d values for %d labels", ErrInvalidChart, s.Name, len(s.Y), len(c.Labels))
			}
		}
	case KindPie:
		if len(c.Series) != 1 {
			return fmt.Errorf("%w: pie takes exactly one series, got %d", ErrInvalidChart, len(c.Series))
		}
		s := c.Series[0]
		if len(s.Y) != len(c.Labels) {
			return fmt.Errorf("%w: pie has %d values for %d labels", ErrInvalidChart, len(s.Y), len(c.Labels))
		}
		total := 0.0
		for _, v := range s.Y {
			if v < 0 {
				return fmt.Errorf("%w: pie values must be non-negative", ErrInvalidChart)
			}
			total += v
		}
		if total == 0 {
			return fmt.Errorf("%w: pie values sum to zero", ErrInvalidChart)
		}
	}
	return nil
}

// texts returns every string drawn on the chart.
func (c Chart) texts() []string {
	out := []string{c.Title, c.XLabel, c.YLabel}
	out = append(out, c.Labels...)
	for _, s := range c.Series {
		out = append(out, s.Name)
	}
	return out
}
