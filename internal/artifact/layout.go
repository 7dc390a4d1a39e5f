// Package artifact owns the on-disk layout of a run and the per-execution
// registry of tables and images produced by generated code.
package artifact

import (
	"path/filepath"
	"strings"
)

// Layout locates a run under {work_dir}/users/{user_id}/{run_id}.
type Layout struct {
	WorkDir string
	UserID  string
	RunID   string
}

// Child returns the layout of a nested run sharing work dir and user.
func (l Layout) Child(runID string) Layout {
	l.RunID = runID
	return l
}

// UsersDir is {work_dir}/users.
func (l Layout) UsersDir() string {
	return abs(filepath.Join(l.WorkDir, "users"))
}

// UserDir is {work_dir}/users/{user_id}.
func (l Layout) UserDir() string {
	return filepath.Join(l.UsersDir(), l.UserID)
}

// RunDir is {work_dir}/users/{user_id}/{run_id}.
func (l Layout) RunDir() string {
	return filepath.Join(l.UserDir(), l.RunID)
}

// ArtifactDir holds CSV and PNG artifacts for the run.
func (l Layout) ArtifactDir() string {
	return filepath.Join(l.RunDir(), "artifacts")
}

// LogDir holds the run's log files.
func (l Layout) LogDir() string {
	return filepath.Join(l.RunDir(), "logs")
}

// Relative converts an absolute artifact path into the form stored in the
// report. Without a URL prefix the path is relative to the user dir; with one
// it becomes {url}/artifacts/{path relative to users dir}.
func (l Layout) Relative(path, urlPrefix string) string {
	if path == "" {
		return ""
	}
	base := l.UserDir()
	if urlPrefix != "" {
		base = l.UsersDir()
	}
	rel, err := filepath.Rel(base, abs(path))
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if urlPrefix == "" {
		return rel
	}
	return strings.TrimRight(urlPrefix, "/") + "/artifacts/" + rel
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}
