package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
)

const (
	// MaxNameLen caps sanitized artifact names.
	MaxNameLen = 50
	// DefaultName is used when a name sanitizes to nothing.
	DefaultName = "df"

	FormatCSV = "csv"
	FormatPNG = "png"

	sampleRows = 5
	maxMetaCols = 30
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// leadingStamp matches a "{unix_ts}_" prefix already present on a filename.
var leadingStamp = regexp.MustCompile(`^\d{9,}_`)

// SanitizeName strips name to [A-Za-z0-9_], trims underscores and caps length.
func SanitizeName(name string) string {
	safe := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if safe == "" {
		safe = DefaultName
	}
	if len(safe) > MaxNameLen {
		safe = safe[:MaxNameLen]
	}
	return safe
}

// Entry describes one registered artifact.
type Entry struct {
	Name    string            `json:"name"`
	Path    string            `json:"path"`
	Format  string            `json:"format"`
	Rows    int               `json:"rows"`
	Cols    int               `json:"cols"`
	Columns []string          `json:"columns,omitempty"`
	Schema  map[string]string `json:"schema,omitempty"`
	Nulls   map[string]int    `json:"nulls,omitempty"`
	Sample  []map[string]any  `json:"sample,omitempty"`
	Primary bool              `json:"primary"`
}

// Registry tracks the artifacts of one execution. Safe for concurrent use.
type Registry struct {
	dir   string
	debug bool
	now   func() time.Time

	mu      sync.Mutex
	tables  []Entry
	images  []string
	primary int // index into tables, -1 when none
}

// NewRegistry creates a registry writing into dir. debug enables schema,
// null-count and sample collection for tables.
func NewRegistry(dir string, debug bool) *Registry {
	return &Registry{dir: dir, debug: debug, now: time.Now, primary: -1}
}

// Dir returns the artifact directory.
func (r *Registry) Dir() string { return r.dir }

// RegisterTable writes df to {dir}/{unix_ts}_{name}.csv before returning its
// entry. The first table registered becomes primary.
func (r *Registry) RegisterTable(df dataframe.DataFrame, name string) (Entry, error) {
	if df.Err != nil {
		return Entry{}, fmt.Errorf("cannot register table %q: %w", name, df.Err)
	}
	safe := SanitizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.reserveLocked(fmt.Sprintf("%d_%s", r.now().Unix(), safe), FormatCSV)
	if err != nil {
		return Entry{}, err
	}
	if err := writeCSV(df, path); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Name:    safe,
		Path:    path,
		Format:  FormatCSV,
		Rows:    df.Nrow(),
		Cols:    df.Ncol(),
		Columns: append([]string(nil), df.Names()...),
	}
	if r.debug {
		collectMeta(df, &entry)
	}
	if r.primary < 0 {
		entry.Primary = true
		r.primary = len(r.tables)
	}
	r.tables = append(r.tables, entry)
	return entry, nil
}

// RegisterImage reserves a PNG path for filename and records it. The caller
// writes the file; Images only reports paths that exist.
func (r *Registry) RegisterImage(filename string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem := ""
	if m := leadingStamp.FindString(base); m != "" {
		stem = m + SanitizeName(strings.TrimPrefix(base, m))
	} else {
		stem = fmt.Sprintf("%d_%s", r.now().Unix(), SanitizeName(base))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.reserveLocked(stem, FormatPNG)
	if err != nil {
		return "", err
	}
	r.images = append(r.images, path)
	return path, nil
}

// reserveLocked picks a free path for stem, suffixing _2, _3 ... on collision.
func (r *Registry) reserveLocked(stem, ext string) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	path := filepath.Join(r.dir, stem+"."+ext)
	for n := 2; r.takenLocked(path); n++ {
		path = filepath.Join(r.dir, fmt.Sprintf("%s_%d.%s", stem, n, ext))
	}
	return path, nil
}

func (r *Registry) takenLocked(path string) bool {
	for _, p := range r.images {
		if p == path {
			return true
		}
	}
	_, err := os.Stat(path)
	return err == nil
}

// Tables returns the registered tables in registration order.
func (r *Registry) Tables() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.tables...)
}

// Primary returns the primary table, if any.
func (r *Registry) Primary() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary < 0 {
		return Entry{}, false
	}
	return r.tables[r.primary], true
}

// Images returns reserved image paths whose files exist.
func (r *Registry) Images() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.images))
	for _, p := range r.images {
		if FileExists(p) {
			out = append(out, p)
		}
	}
	return out
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func writeCSV(df dataframe.DataFrame, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := df.WriteCSV(f); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func collectMeta(df dataframe.DataFrame, e *Entry) {
	names := df.Names()
	types := df.Types()
	if len(names) > maxMetaCols {
		names = names[:maxMetaCols]
	}
	e.Schema = make(map[string]string, len(names))
	e.Nulls = make(map[string]int, len(names))
	for i, n := range names {
		e.Schema[n] = string(types[i])
		nulls := 0
		for _, isNaN := range df.Col(n).IsNaN() {
			if isNaN {
				nulls++
			}
		}
		e.Nulls[n] = nulls
	}
	rows := df.Nrow()
	if rows > sampleRows {
		rows = sampleRows
	}
	if rows > 0 {
		idx := make([]int, rows)
		for i := range idx {
			idx[i] = i
		}
		e.Sample = df.Subset(idx).Maps()
	}
}

// ErrNotReady reports a missing or unreadable table file.
var ErrNotReady = errors.New("table not ready")

// ReadTable loads a CSV artifact back into a DataFrame.
func ReadTable(path string) (dataframe.DataFrame, error) {
	if strings.TrimSpace(path) == "" {
		return dataframe.DataFrame{}, fmt.Errorf("%w: empty path", ErrNotReady)
	}
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer f.Close()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%w: %v", ErrNotReady, df.Err)
	}
	return df, nil
}

// Ready reports whether path holds a readable CSV table.
func Ready(path string) bool {
	_, err := ReadTable(path)
	return err == nil
}
