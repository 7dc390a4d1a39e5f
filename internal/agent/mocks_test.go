package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/prompt"
	"github.com/Rigel0718/transcript-insight/internal/sandbox"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// MOCK LLM
// =============================================================================

// MockLLMClient answers by the usage scope operation of each call
// (router, df_code_generator, chart_code_generator). Replies for one
// operation are consumed in order; the last one repeats.
type MockLLMClient struct {
	CompleteWithSystemFunc func(ctx context.Context, sys, user string) (*types.Completion, error)

	mu      sync.Mutex
	replies map[string][]mockReply
	calls   []mockCall
}

type mockReply struct {
	text string
	cost float64
	err  error
}

type mockCall struct {
	Operation string
	System    string
	User      string
}

func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{replies: map[string][]mockReply{}}
}

// On queues a reply for operation.
func (m *MockLLMClient) On(operation, text string, cost float64) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[operation] = append(m.replies[operation], mockReply{text: text, cost: cost})
	return m
}

// Fail queues an error for operation.
func (m *MockLLMClient) Fail(operation string, err error) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[operation] = append(m.replies[operation], mockReply{err: err})
	return m
}

func (m *MockLLMClient) CompleteWithSystem(ctx context.Context, sys, user string) (*types.Completion, error) {
	op := usage.ScopeFromContext(ctx).Operation

	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Operation: op, System: sys, User: user})
	m.mu.Unlock()

	if m.CompleteWithSystemFunc != nil {
		return m.CompleteWithSystemFunc(ctx, sys, user)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.replies[op]
	if len(queue) == 0 {
		return nil, fmt.Errorf("mock: no reply for %q", op)
	}
	r := queue[0]
	if len(queue) > 1 {
		m.replies[op] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &types.Completion{Text: r.text, Model: "mock", Cost: r.cost}, nil
}

// Calls returns the recorded calls for operation, or all calls when empty.
func (m *MockLLMClient) Calls(operation string) []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockCall
	for _, c := range m.calls {
		if operation == "" || c.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

func routeJSON(action, reason string) string {
	b, _ := json.Marshal(map[string]string{"action": action, "reason": reason})
	return string(b)
}

func tableJSON(code, name, desc string) string {
	b, _ := json.Marshal(map[string]string{"df_code": code, "df_name": name, "df_desc": desc})
	return string(b)
}

func chartJSON(code, name, desc string) string {
	b, _ := json.Marshal(map[string]string{"code": code, "name": name, "desc": desc})
	return string(b)
}

// =============================================================================
// FAKE EXECUTOR
// =============================================================================

// fakeExecutor replays scripted results. A nil result in the script means
// success: a table or image is really written through the request registry.
type fakeExecutor struct {
	mu       sync.Mutex
	script   []*sandbox.Result
	requests []sandbox.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req sandbox.Request) *sandbox.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var scripted *sandbox.Result
	if len(f.script) > 0 {
		scripted = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	if scripted != nil {
		return scripted
	}
	return succeed(req)
}

func (f *fakeExecutor) Requests() []sandbox.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sandbox.Request(nil), f.requests...)
}

func failure(msg string) *sandbox.Result {
	return &sandbox.Result{LastError: msg, Errors: []string{msg}, Outcome: sandbox.OutcomeException}
}

func succeed(req sandbox.Request) *sandbox.Result {
	res := &sandbox.Result{Outcome: sandbox.OutcomeSuccess}
	if req.Mode == sandbox.ModeChart {
		path, err := req.Registry.RegisterImage("chart.png")
		if err == nil {
			err = os.WriteFile(path, []byte("png"), 0644)
		}
		if err != nil {
			return failure(err.Error())
		}
		res.Images = []string{path}
		return res
	}
	df := dataframe.New(
		series.New([]string{"2021-1", "2021-2"}, series.String, "term"),
		series.New([]float64{3.75, 4.0}, series.Float, "gpa"),
	)
	entry, err := req.Registry.RegisterTable(df, "gpa_by_term")
	if err != nil {
		return failure(err.Error())
	}
	res.Tables = []artifact.Entry{entry}
	res.Primary = &entry
	return res
}

// =============================================================================
// FIXTURES
// =============================================================================

func loadDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(filepath.Join("..", "dataset", "testdata", "transcript.json"))
	require.NoError(t, err)
	return ds
}

func loadCorpus(t *testing.T) *prompt.Corpus {
	t.Helper()
	corpus, err := prompt.LoadEmbedded()
	require.NoError(t, err)
	return corpus
}

func testLayout(t *testing.T, runID string) artifact.Layout {
	return artifact.Layout{WorkDir: t.TempDir(), UserID: "u1", RunID: runID}
}

func gpaTrendSpec() types.MetricSpec {
	return types.MetricSpec{
		ID:             "gpa_trend",
		Rationale:      "Shows whether grades improve over time.",
		ComputeHint:    "credit-weighted GPA per term",
		ChartType:      types.ChartLine,
		Produces:       types.ProducesChart,
		ExtractionMode: types.ExtractionRule,
	}
}

func newTestContext(t *testing.T, spec types.MetricSpec) *Context {
	t.Helper()
	return NewContext(spec, loadDataset(t), testLayout(t, "run1_"+spec.ID))
}

func newTestGenerator(t *testing.T, llm types.LLMClient, sink types.EventSink) *Generator {
	t.Helper()
	g, err := NewGenerator(llm, loadCorpus(t), []string{"fmt", "math", "sort"}, sink, nil)
	require.NoError(t, err)
	return g
}

func newTestRouter(t *testing.T, llm types.LLMClient, sink types.EventSink) *Router {
	t.Helper()
	r, err := NewRouter(llm, loadCorpus(t), sink, nil)
	require.NoError(t, err)
	return r
}
