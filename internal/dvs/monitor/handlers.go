package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/eternallovelin/dvs-tracking/internal/httputil"
)

// greyScale spans GreyLevel 0..255; weights at or above maxGreyWeight
// render white.
var greyScale = []string{"#000000", "#404040", "#808080", "#c0c0c0", "#ffffff"}

const maxGreyWeight = 255 * 4

// DebugRegistrar is the subset of *tsweb.DebugHandler used to mount the
// debug pages.
type DebugRegistrar interface {
	Handle(slug, desc string, handler http.Handler)
}

// ServerConfig wires the HTTP surface.
type ServerConfig struct {
	Heatmap *Heatmap
	Metrics *Metrics // optional
	// Width and Height fix the axes of the peaks chart.
	Width, Height int
}

// Server serves peak JSON, metrics and the echarts debug pages.
type Server struct {
	heatmap       *Heatmap
	metrics       *Metrics
	width, height int
}

// NewServer creates a Server. cfg.Heatmap is required.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		heatmap: cfg.Heatmap,
		metrics: cfg.Metrics,
		width:   cfg.Width,
		height:  cfg.Height,
	}
}

// RegisterRoutes mounts /api/peaks and, when metrics are configured,
// /metrics.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/peaks", s.handlePeaks)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
}

// AttachDebugRoutes mounts the HTML pages under the debug handler.
func (s *Server) AttachDebugRoutes(debug DebugRegistrar) {
	debug.Handle("heatmap", "Latest confidence map per channel (?channel=N)", http.HandlerFunc(s.handleHeatmap))
	debug.Handle("peaks", "Latest peaks of every channel", http.HandlerFunc(s.handlePeaksChart))
}

type peakJSON struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Weight int `json:"weight"`
}

type channelJSON struct {
	Channel      int        `json:"channel"`
	FrequencyHz  float64    `json:"frequency_hz"`
	EpochStartUS int64      `json:"epoch_start_us"`
	EpochEndUS   int64      `json:"epoch_end_us"`
	Epochs       uint64     `json:"epochs"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MaxWeight    *int       `json:"max_weight,omitempty"`
	Peaks        []peakJSON `json:"peaks"`
}

func toChannelJSON(st ChannelState) channelJSON {
	r := st.Report
	out := channelJSON{
		Channel:      r.Channel,
		FrequencyHz:  r.Frequency,
		EpochStartUS: r.EpochStart.Microseconds(),
		EpochEndUS:   r.EpochEnd.Microseconds(),
		Epochs:       st.Epochs,
		UpdatedAt:    st.UpdatedAt,
		Peaks:        make([]peakJSON, 0, len(r.Peaks)),
	}
	if r.Map != nil {
		m := r.Map.Max()
		out.MaxWeight = &m
	}
	for _, p := range r.Peaks {
		out.Peaks = append(out.Peaks, peakJSON{X: p.X, Y: p.Y, Weight: p.Weight})
	}
	return out
}

// channelParam parses ?channel=N. ok is false (and a response has been
// written) when the parameter is malformed.
func channelParam(w http.ResponseWriter, r *http.Request) (channel int, present, ok bool) {
	v := r.URL.Query().Get("channel")
	if v == "" {
		return 0, false, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		httputil.BadRequest(w, fmt.Sprintf("invalid channel %q", v))
		return 0, true, false
	}
	return n, true, true
}

// handlePeaks returns the latest peaks of every channel, or of one channel
// with ?channel=N.
func (s *Server) handlePeaks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ch, present, ok := channelParam(w, r)
	if !ok {
		return
	}
	if present {
		st, found := s.heatmap.Latest(ch)
		if !found {
			httputil.NotFound(w, fmt.Sprintf("no report for channel %d yet", ch))
			return
		}
		httputil.WriteJSONOK(w, toChannelJSON(st))
		return
	}

	states := s.heatmap.Channels()
	out := make([]channelJSON, 0, len(states))
	for _, st := range states {
		out = append(out, toChannelJSON(st))
	}
	httputil.WriteJSONOK(w, out)
}

// handleHeatmap renders the latest map of one channel as an echarts
// heatmap, scaled like GreyLevel.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	ch, _, ok := channelParam(w, r)
	if !ok {
		return
	}
	st, found := s.heatmap.Latest(ch)
	if !found {
		httputil.NotFound(w, fmt.Sprintf("no report for channel %d yet", ch))
		return
	}
	m := st.Report.Map
	if m == nil {
		httputil.NotFound(w, "no confidence map retained; enable emit_maps")
		return
	}

	xs := make([]int, m.Width)
	for i := range xs {
		xs[i] = i
	}
	ys := make([]int, m.Height)
	for i := range ys {
		ys[i] = i
	}

	// Zero cells are left out to keep the page small.
	data := make([]opts.HeatMapData, 0, 256)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if v := m.At(x, y); v > 0 {
				data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v}})
			}
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DVS Confidence Map", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Channel %d (%g Hz)", st.Report.Channel, st.Report.Frequency),
			Subtitle: fmt.Sprintf("epoch %s - %s, max weight %d", st.Report.EpochStart, st.Report.EpochEnd, m.Max()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "x", SplitArea: &opts.SplitArea{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "y", Data: ys, Inverse: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        maxGreyWeight,
			InRange:    &opts.VisualMapInRange{Color: greyScale},
		}),
	)
	hm.SetXAxis(xs).AddSeries("weight", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePeaksChart renders one scatter chart per channel with the latest
// peaks, symbol size following weight.
func (s *Server) handlePeaksChart(w http.ResponseWriter, r *http.Request) {
	states := s.heatmap.Channels()

	page := components.NewPage()
	page.SetPageTitle("DVS Peaks")
	for _, st := range states {
		data := make([]opts.ScatterData, 0, len(st.Report.Peaks))
		for i, p := range st.Report.Peaks {
			data = append(data, opts.ScatterData{
				Name:  fmt.Sprintf("#%d", i),
				Value: []interface{}{p.X, p.Y, p.Weight},
			})
		}

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "600px"}),
			charts.WithTitleOpts(opts.Title{
				Title:    fmt.Sprintf("%g Hz", st.Report.Frequency),
				Subtitle: fmt.Sprintf("channel %d, epoch %d, %s", st.Report.Channel, st.Epochs, st.UpdatedAt.Format(time.RFC3339)),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: s.width, Name: "x"}),
			charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: s.height, Name: "y", Inverse: opts.Bool(true)}),
		)
		scatter.AddSeries("peaks", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
		page.AddCharts(scatter)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
