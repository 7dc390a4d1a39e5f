package render

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

func build(c Chart) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel
	p.Legend.Top = true

	var err error
	switch c.Kind {
	case KindLine, KindScatter:
		err = addXY(p, c)
	case KindBar, KindStackedBar:
		err = addBars(p, c)
	case KindPie:
		addPie(p, c)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func points(s Series) plotter.XYs {
	xys := make(plotter.XYs, len(s.Y))
	for i, y := range s.Y {
		xys[i].X = float64(i)
		if len(s.X) == len(s.Y) {
			xys[i].X = s.X[i]
		}
		xys[i].Y = y
	}
	return xys
}

func addXY(p *plot.Plot, c Chart) error {
	nominal := len(c.Labels) > 0
	for i, s := range c.Series {
		if len(s.X) != 0 {
			nominal = false
		}
		xys := points(s)
		if c.Kind == KindLine {
			l, err := plotter.NewLine(xys)
			if err != nil {
				return fmt.Errorf("line %q: %w", s.Name, err)
			}
			l.LineStyle.Color = plotutil.Color(i)
			l.LineStyle.Width = vg.Points(2)
			p.Add(l)
			if s.Name != "" {
				p.Legend.Add(s.Name, l)
			}
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("points %q: %w", s.Name, err)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		if c.Kind == KindScatter && s.Name != "" {
			p.Legend.Add(s.Name, sc)
		}
	}
	if nominal {
		p.NominalX(c.Labels...)
	}
	return nil
}

func addBars(p *plot.Plot, c Chart) error {
	n := len(c.Series)
	width := vg.Points(40)
	if c.Kind == KindBar && n > 1 {
		width = vg.Points(math.Max(8, 60/float64(n)))
	}

	var below *plotter.BarChart
	for i, s := range c.Series {
		b, err := plotter.NewBarChart(plotter.Values(s.Y), width)
		if err != nil {
			return fmt.Errorf("bars %q: %w", s.Name, err)
		}
		b.Color = plotutil.Color(i)
		b.LineStyle.Width = 0
		if c.Kind == KindStackedBar {
			if below != nil {
				b.StackOn(below)
			}
			below = b
		} else {
			b.Offset = width * vg.Length(float64(i)-float64(n-1)/2)
		}
		p.Add(b)
		if s.Name != "" {
			p.Legend.Add(s.Name, b)
		}
	}
	p.NominalX(c.Labels...)
	return nil
}

func addPie(p *plot.Plot, c Chart) {
	values := c.Series[0].Y
	total := 0.0
	for _, v := range values {
		total += v
	}
	pc := &pieChart{values: values, total: total}
	for i := range values {
		pc.colors = append(pc.colors, plotutil.Color(i))
	}
	p.Add(pc)
	p.HideAxes()
	for i, label := range c.Labels {
		p.Legend.Add(fmt.Sprintf("%s (%.1f%%)", label, 100*values[i]/total), swatch{pc.colors[i]})
	}
}

// pieChart draws wedges clockwise from twelve o'clock.
type pieChart struct {
	values []float64
	total  float64
	colors []color.Color
}

// arcStep is the angular resolution of wedge outlines.
const arcStep = math.Pi / 90

func (pc *pieChart) Plot(c draw.Canvas, _ *plot.Plot) {
	w := c.Max.X - c.Min.X
	h := c.Max.Y - c.Min.Y
	radius := 0.45 * vg.Length(math.Min(float64(w), float64(h)))
	center := vg.Point{X: c.Min.X + w/2, Y: c.Min.Y + h/2}

	start := math.Pi / 2
	for i, v := range pc.values {
		sweep := 2 * math.Pi * v / pc.total
		if sweep == 0 {
			continue
		}
		pts := []vg.Point{center}
		steps := int(math.Ceil(sweep / arcStep))
		for k := 0; k <= steps; k++ {
			a := start - sweep*float64(k)/float64(steps)
			pts = append(pts, vg.Point{
				X: center.X + radius*vg.Length(math.Cos(a)),
				Y: center.Y + radius*vg.Length(math.Sin(a)),
			})
		}
		c.FillPolygon(pc.colors[i], pts)
		start -= sweep
	}
}

type swatch struct {
	c color.Color
}

func (s swatch) Thumbnail(c *draw.Canvas) {
	c.FillPolygon(s.c, []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Min.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Min.Y},
	})
}
