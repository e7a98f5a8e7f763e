package monitor

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events/network"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
)

const namespace = "dvs"

// StatsSource is implemented by *pipeline.Estimator.
type StatsSource interface {
	Stats() pipeline.Stats
}

// TotalsSource is implemented by *network.SourceStats.
type TotalsSource interface {
	Totals() network.SourceTotals
}

// Metrics is a Prometheus registry fed by estimator counters, source
// counters and the peak reports it receives as a PeakSink.
type Metrics struct {
	registry *prometheus.Registry

	epochs    *prometheus.CounterVec
	peakCount *prometheus.GaugeVec
	strongest *prometheus.GaugeVec
}

// NewMetrics returns a registry with the per-channel series registered.
// The estimator and sources are added with RegisterEstimator and AddSource,
// since the estimator is built with Metrics among its sinks.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_epochs_total",
			Help:      "Completed accumulation epochs per frequency channel.",
		}, []string{"channel", "frequency"}),
		peakCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_peaks",
			Help:      "Peaks reported by the most recent epoch.",
		}, []string{"channel", "frequency"}),
		strongest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_strongest_weight",
			Help:      "Weight of the strongest peak in the most recent epoch.",
		}, []string{"channel", "frequency"}),
	}
	m.registry.MustRegister(m.epochs, m.peakCount, m.strongest)
	return m
}

// RegisterEstimator exports the counters of est, read on every scrape.
func (m *Metrics) RegisterEstimator(est StatsSource) error {
	counter := func(name, help string, get func(pipeline.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimator",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(est.Stats())) })
	}
	for _, c := range []prometheus.Collector{
		counter("events_total", "Events accepted by the estimator.", func(s pipeline.Stats) uint64 { return s.Events }),
		counter("transitions_total", "Polarity transitions detected.", func(s pipeline.Stats) uint64 { return s.Transitions }),
		counter("intervals_total", "Same-polarity intervals measured.", func(s pipeline.Stats) uint64 { return s.Intervals }),
		counter("epochs_total", "Channel epochs completed.", func(s pipeline.Stats) uint64 { return s.Epochs }),
		counter("peaks_total", "Peaks reported.", func(s pipeline.Stats) uint64 { return s.Peaks }),
		counter("invalid_events_total", "Events rejected for coordinates outside the grid.", func(s pipeline.Stats) uint64 { return s.Invalid }),
		counter("out_of_order_events_total", "Events rejected for going back in time.", func(s pipeline.Stats) uint64 { return s.OutOfOrder }),
		counter("queue_dropped_total", "Events rejected by a full event queue.", func(s pipeline.Stats) uint64 { return s.QueueDropped }),
	} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// AddSource exports the cumulative counters of an event source, labelled
// with name.
func (m *Metrics) AddSource(name string, src TotalsSource) error {
	labels := prometheus.Labels{"source": name}
	counter := func(metric, help string, get func(network.SourceTotals) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "source",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(get(src.Totals())) })
	}
	for _, c := range []prometheus.Collector{
		counter("packets_total", "Packets or reads received.", func(t network.SourceTotals) uint64 { return t.Packets }),
		counter("bytes_total", "Bytes received.", func(t network.SourceTotals) uint64 { return t.Bytes }),
		counter("events_total", "Events decoded and enqueued.", func(t network.SourceTotals) uint64 { return t.Events }),
		counter("dropped_total", "Events dropped on a full queue.", func(t network.SourceTotals) uint64 { return t.Dropped }),
	} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// PublishPeaks updates the per-channel series, labelled by channel index
// and frequency.
func (m *Metrics) PublishPeaks(r pipeline.PeakReport) {
	channel := strconv.Itoa(r.Channel)
	freq := strconv.FormatFloat(r.Frequency, 'g', -1, 64)
	m.epochs.WithLabelValues(channel, freq).Inc()
	m.peakCount.WithLabelValues(channel, freq).Set(float64(len(r.Peaks)))
	strongest := 0
	if p, ok := r.Peaks.Strongest(); ok {
		strongest = p.Weight
	}
	m.strongest.WithLabelValues(channel, freq).Set(float64(strongest))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
