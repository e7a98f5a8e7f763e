package monitor

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l5frequency"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// mapGrid adapts a MapSnapshot to plotter.GridXYZ using GreyLevel values.
type mapGrid struct {
	m *l5frequency.MapSnapshot
}

func (g mapGrid) Dims() (c, r int)   { return g.m.Width, g.m.Height }
func (g mapGrid) Z(c, r int) float64 { return float64(GreyLevel(g.m.At(c, r))) }
func (g mapGrid) X(c int) float64    { return float64(c) }
func (g mapGrid) Y(r int) float64    { return float64(r) }

// greyPalette has one entry per grey level.
type greyPalette struct{}

func (greyPalette) Colors() []color.Color {
	cs := make([]color.Color, 256)
	for i := range cs {
		cs[i] = color.Gray{Y: uint8(i)}
	}
	return cs
}

// MapPlotter is a PeakSink that writes PNG heat maps of confidence maps.
// Rendering happens on the goroutine running Run; PublishPeaks only hands
// the report over and drops it when the plotter is behind.
type MapPlotter struct {
	dir     string
	every   int
	reports chan pipeline.PeakReport

	// seen is touched only from PublishPeaks, i.e. the estimator goroutine.
	seen map[int]int

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewMapPlotter creates dir and returns a plotter that keeps every n-th
// epoch of each channel (n <= 1 keeps all of them).
func NewMapPlotter(dir string, every int) (*MapPlotter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot dir: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &MapPlotter{
		dir:     dir,
		every:   every,
		reports: make(chan pipeline.PeakReport, 16),
		seen:    make(map[int]int),
	}, nil
}

// PublishPeaks queues r for plotting if it carries a map.
func (p *MapPlotter) PublishPeaks(r pipeline.PeakReport) {
	if r.Map == nil {
		return
	}
	n := p.seen[r.Channel]
	p.seen[r.Channel] = n + 1
	if n%p.every != 0 {
		return
	}
	select {
	case p.reports <- r:
	default:
		p.dropped.Add(1)
	}
}

// Run renders queued reports until ctx is done.
func (p *MapPlotter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-p.reports:
			path := filepath.Join(p.dir, PlotFileName(r))
			if err := WritePNG(r, path); err != nil {
				monitoring.Opsf("[MapPlotter] %v", err)
				continue
			}
			p.written.Add(1)
		}
	}
}

// Written returns the number of PNG files produced.
func (p *MapPlotter) Written() uint64 { return p.written.Load() }

// Dropped returns the number of reports skipped because Run was busy.
func (p *MapPlotter) Dropped() uint64 { return p.dropped.Load() }

// PlotFileName names the PNG for a report by channel, frequency and epoch
// end in microseconds, so files sort by time within a channel.
func PlotFileName(r pipeline.PeakReport) string {
	return fmt.Sprintf("ch%d_%gHz_%012dus.png", r.Channel, r.Frequency, r.EpochEnd.Microseconds())
}

// WritePNG renders the report's map with its peaks circled.
func WritePNG(r pipeline.PeakReport, path string) error {
	if r.Map == nil {
		return fmt.Errorf("report for channel %d has no map", r.Channel)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%g Hz, epoch %s - %s", r.Frequency, r.EpochStart, r.EpochEnd)
	p.X.Label.Text = "x (pixels)"
	p.Y.Label.Text = "y (pixels)"

	hm := plotter.NewHeatMap(mapGrid{m: r.Map}, greyPalette{})
	hm.Min, hm.Max = 0, 255
	p.Add(hm)

	if len(r.Peaks) > 0 {
		pts := make(plotter.XYs, len(r.Peaks))
		for i, pk := range r.Peaks {
			pts[i].X = float64(pk.X)
			pts[i].Y = float64(pk.Y)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to create peak overlay: %w", err)
		}
		sc.GlyphStyle.Shape = draw.RingGlyph{}
		sc.GlyphStyle.Radius = vg.Points(6)
		sc.GlyphStyle.Color = color.RGBA{R: 255, A: 255}
		p.Add(sc)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
