package sandbox

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
)

// Import paths of the packages exported by the host.
const (
	HostImport      = "insight/host"
	DataFrameImport = "github.com/go-gota/gota/dataframe"
	SeriesImport    = "github.com/go-gota/gota/series"
)

// DefaultAllowedImports is the stdlib subset generated code may use.
//
// EXPLICITLY BLOCKED: os, os/exec, net, net/http, syscall, unsafe, io/ioutil,
// reflect, runtime. The host package is the only way to touch the filesystem.
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"slices",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

var (
	// ErrNoCode is returned for empty or whitespace-only snippets.
	ErrNoCode = errors.New("no code provided")
	// ErrForbiddenImport is returned when a snippet imports outside the allowlist.
	ErrForbiddenImport = errors.New("forbidden imports detected")
	// ErrNoEntryPoint is returned when a snippet defines neither Run nor main.
	ErrNoEntryPoint = errors.New("snippet must define func Run() error")
	// ErrGoStatement is returned when a snippet starts its own goroutine.
	ErrGoStatement = errors.New("go statements are not allowed")
)

// program is a parsed snippet.
type program struct {
	source  string
	imports []string
	hasRun  bool
	hasMain bool
}

// wrapCode adds a package clause when the snippet omits one.
func wrapCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.HasPrefix(trimmed, "package ") {
		return trimmed + "\n"
	}
	return "package main\n\n" + trimmed + "\n"
}

// parseProgram parses code, checks imports against allowed and finds the entry point.
func parseProgram(code string, allowed map[string]bool) (*program, error) {
	src := wrapCode(code)
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", src, 0)
	if err != nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}
	if file.Name.Name != "main" {
		return nil, fmt.Errorf("snippet must be package main, got package %s", file.Name.Name)
	}

	p := &program{source: src}
	var forbidden []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return nil, fmt.Errorf("bad import %s: %w", imp.Path.Value, err)
		}
		p.imports = append(p.imports, path)
		if !allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return nil, fmt.Errorf("%w: %v (allowed: %s)", ErrForbiddenImport, forbidden, strings.Join(sortedKeys(allowed), ", "))
	}

	// A panic on a snippet-spawned goroutine cannot be recovered by the host.
	var goStmt *ast.GoStmt
	ast.Inspect(file, func(n ast.Node) bool {
		if g, ok := n.(*ast.GoStmt); ok && goStmt == nil {
			goStmt = g
		}
		return goStmt == nil
	})
	if goStmt != nil {
		return nil, fmt.Errorf("%w: line %d", ErrGoStatement, fset.Position(goStmt.Pos()).Line)
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		switch fn.Name.Name {
		case "Run":
			p.hasRun = true
		case "main":
			p.hasMain = true
		}
	}
	if !p.hasRun && !p.hasMain {
		return nil, ErrNoEntryPoint
	}
	return p, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
