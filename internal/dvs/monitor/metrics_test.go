package monitor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events/network"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l4peaks"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
)

type fakeStats struct{ s pipeline.Stats }

func (f *fakeStats) Stats() pipeline.Stats { return f.s }

type fakeTotals struct{ t network.SourceTotals }

func (f *fakeTotals) Totals() network.SourceTotals { return f.t }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_EstimatorCounters(t *testing.T) {
	t.Parallel()

	est := &fakeStats{s: pipeline.Stats{Events: 21, Intervals: 18, Epochs: 6, Invalid: 1, QueueDropped: 4}}
	m := NewMetrics()
	require.NoError(t, m.RegisterEstimator(est))

	body := scrape(t, m.Handler())
	assert.Contains(t, body, "dvs_estimator_events_total 21")
	assert.Contains(t, body, "dvs_estimator_intervals_total 18")
	assert.Contains(t, body, "dvs_estimator_epochs_total 6")
	assert.Contains(t, body, "dvs_estimator_invalid_events_total 1")
	assert.Contains(t, body, "dvs_estimator_queue_dropped_total 4")

	// Counters are read on every scrape.
	est.s.Events = 30
	assert.Contains(t, scrape(t, m.Handler()), "dvs_estimator_events_total 30")

	assert.Error(t, m.RegisterEstimator(est), "second estimator must be rejected")
}

func TestMetrics_PublishPeaks(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.PublishPeaks(testReport(0, 10, 150_000_000, l4peaks.Peak{X: 5, Y: 5, Weight: 997}, l4peaks.Peak{X: 40, Y: 5, Weight: 300}))
	m.PublishPeaks(testReport(1, 37, 150_000_000))
	m.PublishPeaks(testReport(0, 10, 250_000_000, l4peaks.Peak{X: 5, Y: 5, Weight: 800}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.epochs.WithLabelValues("0", "10")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.epochs.WithLabelValues("1", "37")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peakCount.WithLabelValues("0", "10")))
	assert.Equal(t, 800.0, testutil.ToFloat64(m.strongest.WithLabelValues("0", "10")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.strongest.WithLabelValues("1", "37")))
}

func TestMetrics_PublishPeaksSameFrequencyChannels(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.PublishPeaks(testReport(0, 10, 150_000_000, l4peaks.Peak{X: 5, Y: 5, Weight: 997}))
	m.PublishPeaks(testReport(1, 10, 150_000_000, l4peaks.Peak{X: 60, Y: 60, Weight: 400}, l4peaks.Peak{X: 5, Y: 60, Weight: 300}))

	assert.Equal(t, 2, testutil.CollectAndCount(m.strongest))
	assert.Equal(t, 997.0, testutil.ToFloat64(m.strongest.WithLabelValues("0", "10")))
	assert.Equal(t, 400.0, testutil.ToFloat64(m.strongest.WithLabelValues("1", "10")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peakCount.WithLabelValues("0", "10")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.peakCount.WithLabelValues("1", "10")))
}

func TestMetrics_AddSource(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	src := &fakeTotals{t: network.SourceTotals{Packets: 3, Bytes: 1800, Events: 300, Dropped: 2}}
	require.NoError(t, m.AddSource("udp", src))

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `dvs_source_packets_total{source="udp"} 3`)
	assert.Contains(t, body, `dvs_source_events_total{source="udp"} 300`)
	assert.Contains(t, body, `dvs_source_dropped_total{source="udp"} 2`)

	assert.Error(t, m.AddSource("udp", src), "duplicate source must be rejected")
	assert.NoError(t, m.AddSource("serial", src))
}
