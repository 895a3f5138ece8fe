package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/secfix-research/maintscan/dataset"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	positiveColor = color.NRGBA{R: 0, G: 128, B: 0, A: 179}
	noneColor     = color.NRGBA{R: 255, G: 165, B: 0, A: 179}
	negativeColor = color.NRGBA{R: 255, G: 0, B: 0, A: 179}
	shareColor    = color.NRGBA{R: 0x3F, G: 0x86, B: 0xDB, A: 255}
)

const barWidth = 6

// ChartSize is the page size of a chart, in inches.
type ChartSize struct {
	Width, Height float64
}

// FormatPValue renders a p-value the way the charts print it.
func FormatPValue(p float64) string {
	if math.IsNaN(p) {
		return "=n/a"
	}
	if math.Round(p*1000) <= 0 {
		return "<0.001"
	}
	return fmt.Sprintf("=%.3f", p)
}

func percentTicks(lo, hi float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(lo, hi)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = fmt.Sprintf("%.0f%%", ticks[i].Value*100)
		}
	}
	return ticks
}

// BarChart draws, for every group, the share of positive, null and
// negative differences as horizontal bars, annotated with the group size,
// mean, median and p-value.
func BarChart(path string, results []GroupResult, size ChartSize) error {
	p := plot.New()
	names := make([]string, len(results))
	pos := make(plotter.Values, len(results))
	nul := make(plotter.Values, len(results))
	neg := make(plotter.Values, len(results))
	notes := plotter.XYLabels{XYs: make(plotter.XYs, len(results)), Labels: make([]string, len(results))}
	for i, r := range results {
		names[i] = r.Type
		neg[i], pos[i], nul[i] = r.Proportions()
		notes.XYs[i] = plotter.XY{X: 1.05, Y: float64(i)}
		notes.Labels[i] = fmt.Sprintf("N=%d  mean=%.2f  M=%.2f  p%s", r.N(), r.Mean, r.Median, FormatPValue(r.Test.PValue))
	}

	w := vg.Points(barWidth)
	series := []struct {
		label  string
		values plotter.Values
		color  color.Color
		offset vg.Length
	}{
		{"Positive", pos, positiveColor, -w},
		{"None", nul, noneColor, 0},
		{"Negative", neg, negativeColor, w},
	}
	for _, s := range series {
		bars, err := plotter.NewBarChart(s.values, w)
		if err != nil {
			return err
		}
		bars.Horizontal = true
		bars.Color = s.color
		bars.LineStyle.Width = 0
		bars.Offset = s.offset
		p.Add(bars)
		p.Legend.Add(s.label, bars)
	}

	labels, err := plotter.NewLabels(notes)
	if err != nil {
		return err
	}
	p.Add(labels)
	addGrid(p)

	p.Legend.Top = true
	p.NominalY(names...)
	p.X.Min, p.X.Max = 0, 1.6
	p.X.Tick.Marker = plot.TickerFunc(func(lo, hi float64) []plot.Tick {
		return percentTicks(lo, math.Min(hi, 1))
	})
	return save(p, path, size)
}

// Distribution draws the share of each value of col, largest last.
func Distribution(path string, t *dataset.Table, col string, size ChartSize) error {
	counts := map[string]int{}
	for i := 0; i < t.Len(); i++ {
		counts[t.Get(i, col)]++
	}
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(a, b int) bool {
		if counts[names[a]] != counts[names[b]] {
			return counts[names[a]] < counts[names[b]]
		}
		return names[a] > names[b]
	})

	shares := make(plotter.Values, len(names))
	for i, n := range names {
		shares[i] = float64(counts[n]) / float64(t.Len())
		if n == "" {
			names[i] = OtherGroup
		}
	}

	p := plot.New()
	bars, err := plotter.NewBarChart(shares, vg.Points(12))
	if err != nil {
		return err
	}
	bars.Horizontal = true
	bars.Color = shareColor
	bars.LineStyle.Width = 0
	p.Add(bars)
	addGrid(p)
	p.NominalY(names...)
	p.X.Min = 0
	p.X.Tick.Marker = plot.TickerFunc(percentTicks)
	return save(p, path, size)
}

func addGrid(p *plot.Plot) {
	g := plotter.NewGrid()
	g.Horizontal.Color = nil
	g.Vertical.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(g)
}

func save(p *plot.Plot, path string, size ChartSize) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := p.Save(vg.Length(size.Width)*vg.Inch, vg.Length(size.Height)*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
