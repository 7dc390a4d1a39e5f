package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/perception"
	"github.com/Rigel0718/transcript-insight/internal/progress"
	"github.com/Rigel0718/transcript-insight/internal/prompt"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

type routeReply struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
	Notes  string `json:"notes,omitempty"`
}

type routerInput struct {
	Task          string
	ChartType     string
	PreviousNode  string
	Status        string
	Message       string
	TableAttempts int
	ChartAttempts int
	TableName     string
	TableDesc     string
	TableReady    bool
	ChartName     string
	ChartDesc     string
	ChartReady    bool
}

// Router picks the next step of a metric agent with one LLM call.
type Router struct {
	llm    types.LLMClient
	tpl    *prompt.Template
	sink   types.EventSink
	logger *zap.Logger
}

// NewRouter creates a router from the prompt corpus.
func NewRouter(llm types.LLMClient, corpus *prompt.Corpus, sink types.EventSink, logger *zap.Logger) (*Router, error) {
	tpl, err := corpus.Get("router")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{llm: llm, tpl: tpl, sink: progress.OrDiscard(sink), logger: logger}, nil
}

// Decide returns the next action. A failed call or an action outside the
// enumerated set is an error; the caller halts the metric instead of guessing.
func (r *Router) Decide(ctx context.Context, ac *Context) (Decision, error) {
	defer progress.Track(r.sink, types.Event{Name: NodeRouter, RunID: ac.RunID, MetricID: ac.Spec.ID})()

	in := routerInput{
		Task:          ac.Task,
		ChartType:     string(ac.Spec.ChartType),
		PreviousNode:  ac.PreviousNode,
		Status:        string(ac.Status.Status),
		Message:       ac.Status.Message,
		TableAttempts: ac.Attempts[TaskTable],
		ChartAttempts: ac.Attempts[TaskChart],
		TableName:     ac.DFName,
		TableDesc:     ac.DFDesc,
		TableReady:    ac.TableReady(),
		ChartName:     ac.ChartName,
		ChartDesc:     ac.ChartDesc,
		ChartReady:    ac.ImgPath != "" && artifact.FileExists(ac.ImgPath),
	}
	system, user, err := r.tpl.Render(in)
	if err != nil {
		return nil, fmt.Errorf("router prompt: %w", err)
	}

	ctx = usage.WithScope(ctx, usage.Scope{RunID: ac.RunID, MetricID: ac.Spec.ID, Operation: NodeRouter})
	out, err := r.llm.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("router call failed: %w", err)
	}
	ac.AddCost(out.Cost)

	var reply routeReply
	if err := perception.DecodeJSON(out.Text, &reply); err != nil {
		return nil, fmt.Errorf("router reply: %w", err)
	}
	d, err := ParseDecision(reply.Action, reply.Reason)
	if err != nil {
		return nil, err
	}

	ac.PreviousNode = NodeRouter
	ac.NextAction = d.Action()
	r.logger.Debug("route decided",
		zap.String("metric_id", ac.Spec.ID),
		zap.String("action", d.Action()),
		zap.String("reason", d.Reason()),
		zap.String("notes", reply.Notes))
	return d, nil
}
