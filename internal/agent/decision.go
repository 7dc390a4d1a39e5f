package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned for a router reply outside the action set.
var ErrUnknownAction = errors.New("unknown router action")

// Decision is the router's choice. The set of implementations is closed.
type Decision interface {
	Action() string
	Reason() string
	decision()
}

// GenerateTabular asks for (more) tabular data.
type GenerateTabular struct{ Why string }

// GenerateChart asks for a chart from the current table.
type GenerateChart struct{ Why string }

// Finish ends the metric.
type Finish struct{ Why string }

func (GenerateTabular) Action() string { return "generate_more_tabular" }
func (GenerateChart) Action() string   { return "generate_chart" }
func (Finish) Action() string          { return "finish" }

func (d GenerateTabular) Reason() string { return d.Why }
func (d GenerateChart) Reason() string   { return d.Why }
func (d Finish) Reason() string          { return d.Why }

func (GenerateTabular) decision() {}
func (GenerateChart) decision()   {}
func (Finish) decision()          {}

// ParseDecision maps an action spelling to a Decision. The legacy spellings
// to_gen_df and to_gen_chart are accepted.
func ParseDecision(action, reason string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "generate_more_tabular", "to_gen_df":
		return GenerateTabular{Why: reason}, nil
	case "generate_chart", "to_gen_chart":
		return GenerateChart{Why: reason}, nil
	case "finish":
		return Finish{Why: reason}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
