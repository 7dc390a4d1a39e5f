// Package sandbox runs generated Go snippets in a yaegi interpreter against
// an explicit host capability surface, capturing output and classifying the
// outcome instead of letting bad code reach the caller.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/render"
)

// Mode selects which capabilities an execution gets.
type Mode string

const (
	ModeTable Mode = "table"
	ModeChart Mode = "chart"
)

// Outcome classifies an execution.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeWarning   Outcome = "warning"
	OutcomeException Outcome = "exception"
	OutcomeTimeout   Outcome = "timeout"
)

// ResultVar is the well-known variable registered when a snippet saves nothing.
const ResultVar = "Result"

// FontWarnPattern matches rendering warnings that are treated as failures.
var FontWarnPattern = regexp.MustCompile(`(?i)(Glyph .* missing|findfont:.*Font family .* not found)`)

// ExecutionObserver receives one call per finished execution.
type ExecutionObserver interface {
	ObserveExecution(mode, outcome string, d time.Duration)
}

// Options configures an Executor.
type Options struct {
	// Extra import paths allowed in addition to DefaultAllowedImports and the host packages.
	ExtraImports []string
	// Timeout bounds one execution. Zero means 60s.
	Timeout time.Duration
	// AllowScan registers the first DataFrame global as auto_<name> when nothing else was saved.
	AllowScan bool
	// Renderer draws charts in ModeChart.
	Renderer *render.Renderer
	Logger   *zap.Logger
	Observer ExecutionObserver
}

// Request is one snippet to run.
type Request struct {
	Code     string
	Mode     Mode
	Registry *artifact.Registry
	Dataset  *dataset.Dataset
	// CSVPath is the ready table; LoadTable reads it.
	CSVPath string
}

// Result is everything observed during one execution. LastError is empty on success.
type Result struct {
	Stdout    string
	Stderr    string
	Errors    []string
	LastError string
	Warnings  []string
	Tables    []artifact.Entry
	Primary   *artifact.Entry
	Images    []string
	Outcome   Outcome
	Duration  time.Duration
}

// OK reports whether the execution succeeded.
func (r *Result) OK() bool { return r.LastError == "" }

func (r *Result) fail(summary string, detail string) {
	if detail != "" {
		r.Errors = append(r.Errors, detail)
	}
	if r.LastError == "" {
		r.LastError = summary
	}
}

// Executor runs snippets. It is safe for concurrent use; each call gets a
// fresh interpreter.
type Executor struct {
	opts    Options
	allowed map[string]bool
	symbols interp.Exports
	logger  *zap.Logger
}

// NewExecutor creates an executor with the given options.
func NewExecutor(opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New(nil, 0, 0, opts.Logger)
	}

	allowed := map[string]bool{HostImport: true, DataFrameImport: true, SeriesImport: true}
	symbols := interp.Exports{}
	for _, p := range append(append([]string(nil), DefaultAllowedImports...), opts.ExtraImports...) {
		key := p + "/" + path.Base(p)
		syms, ok := stdlib.Symbols[key]
		if !ok {
			opts.Logger.Warn("allowed import has no stdlib symbols", zap.String("import", p))
			continue
		}
		allowed[p] = true
		symbols[key] = syms
	}

	return &Executor{opts: opts, allowed: allowed, symbols: symbols, logger: opts.Logger}
}

// AllowedImports lists the import paths snippets may use.
func (e *Executor) AllowedImports() []string {
	return sortedKeys(e.allowed)
}

// Execute runs req once. It never panics and never returns an error: every
// failure is reported through the Result.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	res := &Result{}
	defer func() {
		res.Duration = time.Since(start)
		res.Outcome = classify(res)
		if e.opts.Observer != nil {
			e.opts.Observer.ObserveExecution(string(req.Mode), string(res.Outcome), res.Duration)
		}
	}()

	if req.Mode == "" {
		req.Mode = ModeTable
	}
	if strings.TrimSpace(req.Code) == "" {
		res.fail(ErrNoCode.Error(), ErrNoCode.Error())
		return res
	}
	if req.Registry == nil {
		res.fail("no artifact registry", "")
		return res
	}

	prog, err := parseProgram(req.Code, e.allowed)
	if err != nil {
		res.fail(summarize(req.Mode, "rejected"), err.Error())
		return res
	}

	var stdout, stderr syncBuffer
	host := &hostEnv{
		mode:     req.Mode,
		registry: req.Registry,
		data:     req.Dataset,
		csvPath:  req.CSVPath,
		stderr:   &stderr,
	}
	if req.Mode == ModeChart {
		host.session = e.opts.Renderer.Begin()
		defer host.session.End()
	}

	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(e.symbols); err != nil {
		res.fail(summarize(req.Mode, "setup failed"), fmt.Sprintf("failed to load stdlib: %v", err))
		return res
	}
	if err := i.Use(host.exports()); err != nil {
		res.fail(summarize(req.Mode, "setup failed"), fmt.Sprintf("failed to load host symbols: %v", err))
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runProgram(i, prog)
	}()

	var runErr error
	finished := false
	select {
	case runErr = <-done:
		finished = true
	case <-runCtx.Done():
		// The snippet goroutine is abandoned; it cannot be preempted.
		res.fail("execution timed out", fmt.Sprintf("execution timed out after %v: %v", e.opts.Timeout, runCtx.Err()))
		e.logger.Warn("snippet timed out", zap.String("mode", string(req.Mode)), zap.Duration("timeout", e.opts.Timeout))
	}

	if runErr != nil {
		res.fail(summarize(req.Mode, "failed"), runErr.Error())
	}
	for _, msg := range host.hostErrors() {
		if runErr == nil || !strings.Contains(runErr.Error(), msg) {
			res.Errors = append(res.Errors, msg)
		}
	}

	if finished && req.Mode == ModeTable {
		e.registerFallbacks(i, req.Registry, res)
	}

	res.Stdout = stdout.String()
	res.Stderr = strings.TrimSpace(stderr.String())
	res.Tables = req.Registry.Tables()
	if p, ok := req.Registry.Primary(); ok {
		res.Primary = &p
	}
	res.Images = req.Registry.Images()

	if req.Mode == ModeChart {
		res.Warnings = append(res.Warnings, host.session.Warnings()...)
	}
	res.Warnings = append(res.Warnings, host.warnings()...)
	e.checkFontWarnings(res)

	if finished && res.LastError == "" {
		switch {
		case req.Mode == ModeTable && res.Primary == nil:
			res.fail("no table registered", "no table registered: call host.SaveTable(df, name) or assign the DataFrame to Result")
		case req.Mode == ModeChart && len(res.Images) == 0:
			res.fail("no chart saved", "no chart saved: call host.SaveChart(chart, filename)")
		}
	}
	if finished && res.LastError == "" && len(res.Errors) > 0 {
		res.LastError = summarize(req.Mode, "reported errors")
	}
	return res
}

// runProgram evaluates the snippet and calls Run. Panics in either step are
// converted to errors carrying the stack.
func runProgram(i *interp.Interpreter, prog *program) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n\n%s", r, debug.Stack())
		}
	}()

	// Evaluating package main also runs main() when defined.
	if _, err := i.Eval(prog.source); err != nil {
		return formatEvalErr(err)
	}
	if !prog.hasRun {
		return nil
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return fmt.Errorf("Run function not found: %w", err)
	}
	run, ok := v.Interface().(func() error)
	if !ok {
		return fmt.Errorf("Run has incorrect signature %s (expected: func() error)", v.Type())
	}
	return run()
}

func formatEvalErr(err error) error {
	var p interp.Panic
	if errors.As(err, &p) {
		return fmt.Errorf("panic: %v\n\n%s", p.Value, p.Stack)
	}
	return err
}

// registerFallbacks applies the Result variable and the global scan when the
// snippet registered nothing itself.
func (e *Executor) registerFallbacks(i *interp.Interpreter, reg *artifact.Registry, res *Result) {
	if _, ok := reg.Primary(); ok {
		return
	}

	if v, err := i.Eval("main." + ResultVar); err == nil {
		if df, ok := asFrame(v); ok {
			if _, err := reg.RegisterTable(df, "result"); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("failed to save %s: %v", ResultVar, err))
			} else {
				e.logger.Debug("Result saved as primary table")
			}
			return
		}
	}

	if !e.opts.AllowScan {
		return
	}
	globals := i.Globals()
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		df, ok := asFrame(globals[name])
		if !ok {
			continue
		}
		if _, err := reg.RegisterTable(df, "auto_"+name); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to save auto_%s: %v", name, err))
		} else {
			e.logger.Debug("auto-detected table saved", zap.String("name", "auto_"+name))
		}
		return
	}
}

var frameType = reflect.TypeOf(dataframe.DataFrame{})

func asFrame(v reflect.Value) (dataframe.DataFrame, bool) {
	if !v.IsValid() {
		return dataframe.DataFrame{}, false
	}
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return dataframe.DataFrame{}, false
		}
		v = v.Elem()
	}
	if v.Type() != frameType || !v.CanInterface() {
		return dataframe.DataFrame{}, false
	}
	df := v.Interface().(dataframe.DataFrame)
	if df.Err != nil || df.Ncol() == 0 {
		return dataframe.DataFrame{}, false
	}
	return df, true
}

// checkFontWarnings elevates font warnings from the renderer, host.Warn and
// stderr to errors.
func (e *Executor) checkFontWarnings(res *Result) {
	var hits []string
	for _, w := range res.Warnings {
		if FontWarnPattern.MatchString(w) {
			hits = append(hits, w)
		}
	}
	for _, line := range strings.Split(res.Stderr, "\n") {
		if FontWarnPattern.MatchString(line) {
			hits = append(hits, strings.TrimSpace(line))
		}
	}
	if len(hits) == 0 {
		return
	}
	res.fail("font warning detected", "font issue (treated as error): "+strings.Join(dedupe(hits), "; "))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func summarize(mode Mode, what string) string {
	if mode == ModeChart {
		return "chart exec " + what
	}
	return "table exec " + what
}

func classify(r *Result) Outcome {
	switch {
	case strings.HasPrefix(r.LastError, "execution timed out"):
		return OutcomeTimeout
	case r.LastError != "":
		return OutcomeException
	case r.Stderr != "" || len(r.Warnings) > 0:
		return OutcomeWarning
	default:
		return OutcomeSuccess
	}
}

// syncBuffer is a bytes.Buffer safe for the snippet goroutine and the caller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
