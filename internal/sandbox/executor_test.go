package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/render"
)

const gpaByTermSnippet = `package main

import (
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"insight/host"
)

func Run() error {
	courses := host.Courses()
	terms := courses.Col("term").Records()
	scores := courses.Col("score").Float()
	credits := courses.Col("credit").Float()

	var order []string
	points := map[string]float64{}
	weight := map[string]float64{}
	for i, t := range terms {
		if _, seen := weight[t]; !seen {
			order = append(order, t)
		}
		points[t] += scores[i] * credits[i]
		weight[t] += credits[i]
	}
	gpa := make([]float64, len(order))
	for i, t := range order {
		gpa[i] = points[t] / weight[t]
	}

	df := dataframe.New(
		series.New(order, series.String, "term"),
		series.New(gpa, series.Float, "gpa"),
	)
	_, err := host.SaveTable(df, "gpa_by_term")
	return err
}
`

const lineChartSnippet = `package main

import (
	"fmt"

	"insight/host"
)

func Run() error {
	df, err := host.LoadTable()
	if err != nil {
		return err
	}
	chart := host.Chart{
		Kind:   host.Line,
		Title:  "GPA by term",
		XLabel: "term",
		YLabel: "gpa",
		Labels: df.Col("term").Records(),
		Series: []host.Series{{Name: "gpa", Y: df.Col("gpa").Float()}},
	}
	path, err := host.SaveChart(chart, "gpa_trend.png")
	fmt.Println("saved", path)
	return err
}
`

func loadDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Load(filepath.Join("..", "dataset", "testdata", "transcript.json"))
	require.NoError(t, err)
	return ds
}

func newExecutor(timeout time.Duration) *Executor {
	return NewExecutor(Options{
		Timeout:   timeout,
		AllowScan: true,
		Renderer:  render.New(nil, 4, 3, nil),
	})
}

func tableRequest(t *testing.T, code string) (Request, *artifact.Registry) {
	t.Helper()
	reg := artifact.NewRegistry(filepath.Join(t.TempDir(), "artifacts"), false)
	return Request{Code: code, Mode: ModeTable, Registry: reg, Dataset: loadDataset(t)}, reg
}

func TestExecute_EmptyCode(t *testing.T) {
	e := newExecutor(time.Second)
	for _, code := range []string{"", "   \n\t "} {
		req, reg := tableRequest(t, code)
		res := e.Execute(context.Background(), req)
		assert.Equal(t, "no code provided", res.LastError)
		assert.Equal(t, OutcomeException, res.Outcome)
		assert.Empty(t, reg.Tables())
	}
}

func TestExecute_TableSuccess(t *testing.T) {
	e := newExecutor(5 * time.Second)
	req, _ := tableRequest(t, gpaByTermSnippet)

	res := e.Execute(context.Background(), req)
	require.Empty(t, res.LastError, "errors: %v", res.Errors)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Primary)
	assert.Equal(t, "gpa_by_term", res.Primary.Name)
	assert.Equal(t, 6, res.Primary.Rows)
	assert.FileExists(t, res.Primary.Path)

	df, err := artifact.ReadTable(res.Primary.Path)
	require.NoError(t, err)
	assert.InDelta(t, 3.75, df.Col("gpa").Float()[0], 1e-9)
}

func TestExecute_CapturesStdout(t *testing.T) {
	e := newExecutor(5 * time.Second)
	req, _ := tableRequest(t, `package main

import (
	"fmt"

	"insight/host"
)

var Result = host.Courses()

func Run() error {
	fmt.Println("rows:", Result.Nrow())
	return nil
}
`)
	res := e.Execute(context.Background(), req)
	require.Empty(t, res.LastError, "errors: %v", res.Errors)
	assert.Equal(t, "rows: 12\n", res.Stdout)
	require.NotNil(t, res.Primary)
	assert.Equal(t, "result", res.Primary.Name)
}

func TestExecute_AutoScan(t *testing.T) {
	e := newExecutor(5 * time.Second)
	req, _ := tableRequest(t, `package main

import (
	"github.com/go-gota/gota/dataframe"
	"insight/host"
)

var majors dataframe.DataFrame

func Run() error {
	majors = host.Courses().Subset([]int{0, 1, 2})
	return nil
}
`)
	res := e.Execute(context.Background(), req)
	require.Empty(t, res.LastError, "errors: %v", res.Errors)
	require.NotNil(t, res.Primary)
	assert.Equal(t, "auto_majors", res.Primary.Name)
	assert.Equal(t, 3, res.Primary.Rows)
}

func TestExecute_AutoScanDisabled(t *testing.T) {
	e := NewExecutor(Options{Timeout: 5 * time.Second, AllowScan: false})
	req, _ := tableRequest(t, `package main

import (
	"github.com/go-gota/gota/dataframe"
	"insight/host"
)

var majors dataframe.DataFrame

func Run() error {
	majors = host.Courses()
	return nil
}
`)
	res := e.Execute(context.Background(), req)
	assert.Equal(t, "no table registered", res.LastError)
	assert.Nil(t, res.Primary)
}

func TestExecute_CrashIsolation(t *testing.T) {
	snippets := map[string]string{
		"panic": `package main

func Run() error {
	panic("boom")
}
`,
		"nil map": `package main

func Run() error {
	var m map[string]int
	m["x"] = 1
	return nil
}
`,
		"index": `package main

func Run() error {
	s := []int{}
	_ = s[3]
	return nil
}
`,
		"returned error": `package main

import "errors"

func Run() error {
	return errors.New("column \"gpaa\" not found")
}
`,
		"compile error": `package main

func Run() error {
	return undefinedThing
}
`,
		"panic in init": `package main

var x = []int{}[5]

func Run() error { return nil }
`,
		"goroutine panic": `package main

import "time"

func Run() error {
	go func() {
		var m map[string]int
		m["x"] = 1
	}()
	time.Sleep(100 * time.Millisecond)
	return nil
}
`,
	}

	e := newExecutor(5 * time.Second)
	for name, code := range snippets {
		t.Run(name, func(t *testing.T) {
			req, _ := tableRequest(t, code)
			var res *Result
			require.NotPanics(t, func() {
				res = e.Execute(context.Background(), req)
			})
			assert.NotEmpty(t, res.LastError)
			assert.NotEmpty(t, res.Errors)
			assert.Equal(t, OutcomeException, res.Outcome)
		})
	}
}

func TestExecute_PanicCarriesStack(t *testing.T) {
	e := newExecutor(5 * time.Second)
	req, _ := tableRequest(t, `package main

func Run() error {
	panic("boom")
}
`)
	res := e.Execute(context.Background(), req)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "panic: boom")
	assert.Contains(t, res.Errors[0], "goroutine")
}

func TestExecute_ForbiddenImport(t *testing.T) {
	e := newExecutor(time.Second)
	req, reg := tableRequest(t, `package main

import "os"

func Run() error {
	return os.RemoveAll("/")
}
`)
	res := e.Execute(context.Background(), req)
	assert.Equal(t, "table exec rejected", res.LastError)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "forbidden imports detected")
	assert.Empty(t, reg.Tables())
}

func TestExecute_GoStatementRejected(t *testing.T) {
	e := newExecutor(time.Second)
	req, reg := tableRequest(t, `package main

func Run() error {
	done := make(chan struct{})
	helper := func() { close(done) }
	go helper()
	<-done
	return nil
}
`)
	res := e.Execute(context.Background(), req)
	assert.Equal(t, "table exec rejected", res.LastError)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "go statements are not allowed")
	assert.Contains(t, res.Errors[0], "line 6")
	assert.Empty(t, reg.Tables())
}

func TestExecute_NoEntryPoint(t *testing.T) {
	e := newExecutor(time.Second)
	req, _ := tableRequest(t, `var x = 1`)
	res := e.Execute(context.Background(), req)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "func Run() error")
}

func TestExecute_Timeout(t *testing.T) {
	e := newExecutor(50 * time.Millisecond)
	req, _ := tableRequest(t, `package main

import "time"

func Run() error {
	time.Sleep(300 * time.Millisecond)
	return nil
}
`)
	start := time.Now()
	res := e.Execute(context.Background(), req)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, "execution timed out", res.LastError)
}

func TestExecute_SaveChartRejectedInTableMode(t *testing.T) {
	e := newExecutor(5 * time.Second)
	req, _ := tableRequest(t, `package main

import "insight/host"

var Result = host.Courses()

func Run() error {
	_, err := host.SaveChart(host.Chart{}, "x.png")
	return err
}
`)
	res := e.Execute(context.Background(), req)
	assert.NotEmpty(t, res.LastError)
	assert.Contains(t, res.Errors[0], "only available when producing charts")
}

func chartRequest(t *testing.T, code string) Request {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "artifacts")
	e := newExecutor(5 * time.Second)
	tableReq := Request{Code: gpaByTermSnippet, Mode: ModeTable, Registry: artifact.NewRegistry(dir, false), Dataset: loadDataset(t)}
	tableRes := e.Execute(context.Background(), tableReq)
	require.Empty(t, tableRes.LastError, "errors: %v", tableRes.Errors)

	return Request{
		Code:     code,
		Mode:     ModeChart,
		Registry: artifact.NewRegistry(dir, false),
		Dataset:  tableReq.Dataset,
		CSVPath:  tableRes.Primary.Path,
	}
}

func TestExecute_ChartSuccess(t *testing.T) {
	e := newExecutor(10 * time.Second)
	req := chartRequest(t, lineChartSnippet)

	res := e.Execute(context.Background(), req)
	require.Empty(t, res.LastError, "errors: %v", res.Errors)
	require.Len(t, res.Images, 1)
	assert.Equal(t, ".png", filepath.Ext(res.Images[0]))
	assert.Contains(t, res.Stdout, "saved ")

	info, err := os.Stat(res.Images[0])
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExecute_ChartFontWarningsAreErrors(t *testing.T) {
	e := newExecutor(10 * time.Second)

	t.Run("missing glyph", func(t *testing.T) {
		req := chartRequest(t, `package main

import "insight/host"

func Run() error {
	df, err := host.LoadTable()
	if err != nil {
		return err
	}
	_, err = host.SaveChart(host.Chart{
		Kind:   host.Bar,
		Title:  "학기별 평점",
		Labels: df.Col("term").Records(),
		Series: []host.Series{{Name: "gpa", Y: df.Col("gpa").Float()}},
	}, "gpa.png")
	return err
}
`)
		res := e.Execute(context.Background(), req)
		assert.Equal(t, "font warning detected", res.LastError)
		assert.Regexp(t, `Glyph .* missing`, res.Errors[len(res.Errors)-1])
	})

	t.Run("unknown family", func(t *testing.T) {
		req := chartRequest(t, `package main

import "insight/host"

func Run() error {
	host.SetFont("Malgun Gothic")
	df, err := host.LoadTable()
	if err != nil {
		return err
	}
	_, err = host.SaveChart(host.Chart{
		Kind:   host.Line,
		Labels: df.Col("term").Records(),
		Series: []host.Series{{Y: df.Col("gpa").Float()}},
	}, "gpa.png")
	return err
}
`)
		res := e.Execute(context.Background(), req)
		assert.Equal(t, "font warning detected", res.LastError)
		assert.Contains(t, res.Errors[len(res.Errors)-1], "findfont: Font family 'Malgun Gothic' not found")
	})

	t.Run("warning via host.Warn", func(t *testing.T) {
		req := chartRequest(t, `package main

import "insight/host"

func Run() error {
	host.Warn("findfont: Font family 'Arial' not found.")
	df, _ := host.LoadTable()
	_, err := host.SaveChart(host.Chart{Kind: host.Line, Series: []host.Series{{Y: df.Col("gpa").Float()}}}, "g.png")
	return err
}
`)
		res := e.Execute(context.Background(), req)
		assert.Equal(t, "font warning detected", res.LastError)
		assert.Contains(t, res.Stderr, "warning: findfont")
	})
}

func TestExecute_ChartWithoutSaveFails(t *testing.T) {
	e := newExecutor(5 * time.Second)
	req := chartRequest(t, `package main

func Run() error { return nil }
`)
	res := e.Execute(context.Background(), req)
	assert.Equal(t, "no chart saved", res.LastError)
}

func TestExecute_ConcurrentIsolation(t *testing.T) {
	e := newExecutor(10 * time.Second)
	ds := loadDataset(t)
	root := t.TempDir()

	layoutA := artifact.Layout{WorkDir: root, UserID: "u", RunID: "r_gpa_trend"}
	layoutB := artifact.Layout{WorkDir: root, UserID: "u", RunID: "r_major_gpa"}

	results := make(chan *Result, 2)
	for _, l := range []artifact.Layout{layoutA, layoutB} {
		go func(l artifact.Layout) {
			reg := artifact.NewRegistry(l.ArtifactDir(), false)
			results <- e.Execute(context.Background(), Request{Code: gpaByTermSnippet, Mode: ModeTable, Registry: reg, Dataset: ds})
		}(l)
	}
	a, b := <-results, <-results
	require.Empty(t, a.LastError)
	require.Empty(t, b.LastError)
	assert.NotEqual(t, a.Primary.Path, b.Primary.Path)
	assert.NotEqual(t, filepath.Dir(a.Primary.Path), filepath.Dir(b.Primary.Path))
}

func TestAllowedImports(t *testing.T) {
	e := NewExecutor(Options{ExtraImports: []string{"math/rand", "not/a/pkg"}})
	allowed := e.AllowedImports()
	assert.Contains(t, allowed, "math/rand")
	assert.Contains(t, allowed, HostImport)
	assert.NotContains(t, allowed, "not/a/pkg")
	assert.NotContains(t, allowed, "os")
}
