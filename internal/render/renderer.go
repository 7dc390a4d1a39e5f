package render

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/vg"
)

// renderMu serializes every use of plot.DefaultFont and the font cache.
// Chart executions from concurrent metrics queue here; table work does not.
var renderMu sync.Mutex

// ErrSessionClosed is returned by a session used after End.
var ErrSessionClosed = errors.New("render session closed")

// Renderer holds chart output settings.
type Renderer struct {
	FontCandidates []string
	Width          vg.Length
	Height         vg.Length
	Logger         *zap.Logger
}

// New creates a renderer. Sizes are in inches; zero picks 8x5.
func New(fontCandidates []string, widthIn, heightIn float64, logger *zap.Logger) *Renderer {
	if widthIn <= 0 {
		widthIn = 8
	}
	if heightIn <= 0 {
		heightIn = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		FontCandidates: fontCandidates,
		Width:          vg.Length(widthIn) * vg.Inch,
		Height:         vg.Length(heightIn) * vg.Inch,
		Logger:         logger,
	}
}

// Session is exclusive access to the global rendering state for one chart
// execution. Begin acquires it and applies font selection; End restores the
// previous default font and releases it.
type Session struct {
	r        *Renderer
	prev     font.Font
	choice   FontChoice
	mu       sync.Mutex
	closed   bool
	warnings []string
}

// Begin blocks until no other session is active.
func (r *Renderer) Begin() *Session {
	renderMu.Lock()
	s := &Session{r: r, prev: plot.DefaultFont}
	s.choice = selectFont(r.FontCandidates)
	r.Logger.Debug("chart font selected", zap.String("family", s.choice.Family), zap.String("path", s.choice.Path))
	return s
}

// End restores global font state. Safe to call more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	plot.DefaultFont = s.prev
	renderMu.Unlock()
}

// Font returns the font chosen when the session began.
func (s *Session) Font() FontChoice {
	return s.choice
}

// Warnings returns the rendering warnings collected so far.
func (s *Session) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *Session) warn(msgs ...string) {
	s.warnings = append(s.warnings, msgs...)
}

// SetFont switches the default font family. Unknown families leave the font
// unchanged and record a findfont warning.
func (s *Session) SetFont(family string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	f, ok := lookupFamily(family)
	if !ok {
		s.warn(fmt.Sprintf("findfont: Font family '%s' not found.", family))
		return nil
	}
	plot.DefaultFont = f
	return nil
}

// Render draws c to path as PNG. Font selection is re-applied first so
// SetFont calls in generated code cannot leave a font without CJK glyphs in
// place. The returned warnings are also kept on the session.
func (s *Session) Render(c Chart, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s.choice = selectFont(s.r.FontCandidates)
	warnings := missingGlyphs(plot.DefaultFont, c.texts())

	p, err := build(c)
	if err != nil {
		return warnings, err
	}
	if err := p.Save(s.r.Width, s.r.Height, path); err != nil {
		return warnings, fmt.Errorf("failed to save chart: %w", err)
	}
	s.warn(warnings...)
	s.r.Logger.Debug("chart saved", zap.String("path", path), zap.String("kind", string(c.Kind)), zap.Int("warnings", len(warnings)))
	return warnings, nil
}
