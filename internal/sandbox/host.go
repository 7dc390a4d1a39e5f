package sandbox

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/traefik/yaegi/interp"

	"github.com/Rigel0718/transcript-insight/internal/artifact"
	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/render"
)

// hostEnv is the capability surface bound to one execution. Every function a
// snippet can reach through "insight/host" is a method here.
type hostEnv struct {
	mode     Mode
	registry *artifact.Registry
	data     *dataset.Dataset
	csvPath  string
	session  *render.Session
	stderr   io.Writer

	mu     sync.Mutex
	errs   []string
	warned []string
}

func (h *hostEnv) recordErr(err error) error {
	h.mu.Lock()
	h.errs = append(h.errs, err.Error())
	h.mu.Unlock()
	return err
}

func (h *hostEnv) hostErrors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errs...)
}

func (h *hostEnv) warnings() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.warned...)
}

// SaveTable registers df under name and returns the CSV path.
func (h *hostEnv) SaveTable(df dataframe.DataFrame, name string) (string, error) {
	if h.mode != ModeTable {
		return "", h.recordErr(errors.New("SaveTable is only available when producing tables"))
	}
	entry, err := h.registry.RegisterTable(df, name)
	if err != nil {
		return "", h.recordErr(err)
	}
	return entry.Path, nil
}

// Courses returns the course table, restricted for semantic metrics.
func (h *hostEnv) Courses() dataframe.DataFrame {
	if h.data == nil {
		return dataframe.New(series.New([]string{}, series.String, "name"))
	}
	return h.data.Frame()
}

// Records returns the course rows as maps.
func (h *hostEnv) Records() []map[string]interface{} {
	if h.data == nil {
		return nil
	}
	return h.data.Records()
}

// Student returns the transcript header.
func (h *hostEnv) Student() map[string]interface{} {
	if h.data == nil {
		return map[string]interface{}{}
	}
	return h.data.StudentMap()
}

// LoadTable reads the table produced by the tabular step.
func (h *hostEnv) LoadTable() (dataframe.DataFrame, error) {
	df, err := artifact.ReadTable(h.csvPath)
	if err != nil {
		return df, h.recordErr(err)
	}
	return df, nil
}

// SaveChart renders c to a PNG named after filename and returns its path.
func (h *hostEnv) SaveChart(c render.Chart, filename string) (string, error) {
	if h.mode != ModeChart || h.session == nil {
		return "", h.recordErr(errors.New("SaveChart is only available when producing charts"))
	}
	if filename == "" {
		filename = "chart.png"
	}
	path, err := h.registry.RegisterImage(filename)
	if err != nil {
		return "", h.recordErr(err)
	}
	if _, err := h.session.Render(c, path); err != nil {
		return "", h.recordErr(fmt.Errorf("SaveChart: %w", err))
	}
	return path, nil
}

// SetFont changes the chart font family for this execution.
func (h *hostEnv) SetFont(family string) {
	if h.session == nil {
		return
	}
	_ = h.session.SetFont(family)
}

// Warn records a warning the way a library warning would surface.
func (h *hostEnv) Warn(msg string) {
	h.mu.Lock()
	h.warned = append(h.warned, msg)
	h.mu.Unlock()
	fmt.Fprintf(h.stderr, "warning: %s\n", msg)
}

// exports builds the symbol tables handed to the interpreter.
func (h *hostEnv) exports() interp.Exports {
	return interp.Exports{
		HostImport + "/host": {
			"SaveTable": reflect.ValueOf(h.SaveTable),
			"Courses":   reflect.ValueOf(h.Courses),
			"Records":   reflect.ValueOf(h.Records),
			"Student":   reflect.ValueOf(h.Student),
			"LoadTable": reflect.ValueOf(h.LoadTable),
			"SaveChart": reflect.ValueOf(h.SaveChart),
			"SetFont":   reflect.ValueOf(h.SetFont),
			"Warn":      reflect.ValueOf(h.Warn),

			"Chart":  reflect.ValueOf((*render.Chart)(nil)),
			"Series": reflect.ValueOf((*render.Series)(nil)),
			"Kind":   reflect.ValueOf((*render.Kind)(nil)),

			"Line":       reflect.ValueOf(render.KindLine),
			"Bar":        reflect.ValueOf(render.KindBar),
			"StackedBar": reflect.ValueOf(render.KindStackedBar),
			"Scatter":    reflect.ValueOf(render.KindScatter),
			"Pie":        reflect.ValueOf(render.KindPie),
		},
		DataFrameImport + "/dataframe": {
			"New":         reflect.ValueOf(dataframe.New),
			"LoadRecords": reflect.ValueOf(dataframe.LoadRecords),
			"LoadMaps":    reflect.ValueOf(dataframe.LoadMaps),
			"LoadStructs": reflect.ValueOf(dataframe.LoadStructs),
			"HasHeader":   reflect.ValueOf(dataframe.HasHeader),
			"DetectTypes": reflect.ValueOf(dataframe.DetectTypes),
			"DefaultType": reflect.ValueOf(dataframe.DefaultType),
			"WithTypes":   reflect.ValueOf(dataframe.WithTypes),
			"Names":       reflect.ValueOf(dataframe.Names),
			"Sort":        reflect.ValueOf(dataframe.Sort),
			"RevSort":     reflect.ValueOf(dataframe.RevSort),

			"DataFrame":  reflect.ValueOf((*dataframe.DataFrame)(nil)),
			"LoadOption": reflect.ValueOf((*dataframe.LoadOption)(nil)),
			"Order":      reflect.ValueOf((*dataframe.Order)(nil)),
			"F":          reflect.ValueOf((*dataframe.F)(nil)),
		},
		SeriesImport + "/series": {
			"New":     reflect.ValueOf(series.New),
			"Strings": reflect.ValueOf(series.Strings),
			"Ints":    reflect.ValueOf(series.Ints),
			"Floats":  reflect.ValueOf(series.Floats),
			"Bools":   reflect.ValueOf(series.Bools),

			"Series":     reflect.ValueOf((*series.Series)(nil)),
			"Type":       reflect.ValueOf((*series.Type)(nil)),
			"Comparator": reflect.ValueOf((*series.Comparator)(nil)),

			"String": reflect.ValueOf(series.String),
			"Int":    reflect.ValueOf(series.Int),
			"Float":  reflect.ValueOf(series.Float),
			"Bool":   reflect.ValueOf(series.Bool),

			"Eq":        reflect.ValueOf(series.Eq),
			"Neq":       reflect.ValueOf(series.Neq),
			"Greater":   reflect.ValueOf(series.Greater),
			"GreaterEq": reflect.ValueOf(series.GreaterEq),
			"Less":      reflect.ValueOf(series.Less),
			"LessEq":    reflect.ValueOf(series.LessEq),
			"In":        reflect.ValueOf(series.In),
		},
	}
}
