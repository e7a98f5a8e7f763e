package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallovelin/dvs-tracking/internal/config"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l3transitions"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l4peaks"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l5frequency"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

func init() {
	monitoring.SetLogWriters(monitoring.LogWriters{})
}

type collectSink struct {
	mu      sync.Mutex
	reports []PeakReport
}

func (c *collectSink) PublishPeaks(r PeakReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func (c *collectSink) forChannel(i int) []PeakReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PeakReport
	for _, r := range c.reports {
		if r.Channel == i {
			out = append(out, r)
		}
	}
	return out
}

// blinkTrain toggles polarity at (x, y) every half period of f, starting ON
// at start, for the given number of full periods.
func blinkTrain(x, y int, f float64, periods int, start time.Duration) []l1events.Event {
	half := l5frequency.Period(f) / 2
	out := make([]l1events.Event, 0, 2*periods+1)
	for k := 0; k <= 2*periods; k++ {
		pol := l1events.PolarityOn
		if k%2 == 1 {
			pol = l1events.PolarityOff
		}
		out = append(out, l1events.Event{X: x, Y: y, Timestamp: start + time.Duration(k)*half, Polarity: pol})
	}
	return out
}

func merge(trains ...[]l1events.Event) []l1events.Event {
	var out []l1events.Event
	for _, tr := range trains {
		out = append(out, tr...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func newTestEstimator(t *testing.T, tuning *config.TuningConfig) (*Estimator, *l1events.EventQueue, *collectSink) {
	t.Helper()
	q, err := l1events.NewEventQueue(1024)
	require.NoError(t, err)
	sink := &collectSink{}
	est, err := NewEstimatorFromTuning(q, tuning, sink)
	require.NoError(t, err)
	return est, q, sink
}

func processAll(t *testing.T, est *Estimator, events []l1events.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, est.Process(ev))
	}
}

// filterSizes runs the end-to-end scenarios with smoothing off and with the
// shipped 3x3 kernel.
var filterSizes = []int{1, 3}

func TestEstimator_SingleMarker(t *testing.T) {
	t.Parallel()
	for _, size := range filterSizes {
		t.Run(fmt.Sprintf("filter_size=%d", size), func(t *testing.T) {
			t.Parallel()
			cfg := config.DefaultTuningConfig()
			cfg.FilterSize = ptr(size)
			est, _, sink := newTestEstimator(t, cfg)

			processAll(t, est, blinkTrain(5, 5, 10, 10, 0))

			reports := sink.forChannel(0)
			require.Len(t, reports, 6)
			for _, r := range reports {
				require.Len(t, r.Peaks, 1, "epoch %s-%s", r.EpochStart, r.EpochEnd)
				assert.Equal(t, 5, r.Peaks[0].X)
				assert.Equal(t, 5, r.Peaks[0].Y)
				assert.Positive(t, r.Peaks[0].Weight)
				assert.Equal(t, 10.0, r.Frequency)
				assert.Nil(t, r.Map, "maps are off by default")
			}

			s := est.Stats()
			assert.Equal(t, uint64(21), s.Events)
			assert.Equal(t, uint64(20), s.Transitions)
			assert.Equal(t, uint64(18), s.Intervals)
			assert.Equal(t, uint64(6), s.Epochs)
			assert.Equal(t, uint64(6), s.Peaks)
		})
	}
}

func TestEstimator_FirstEpochBoundaries(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultTuningConfig()
	cfg.FilterSize = ptr(1)
	est, _, sink := newTestEstimator(t, cfg)

	processAll(t, est, blinkTrain(5, 5, 10, 3, 0))

	reports := sink.forChannel(0)
	require.NotEmpty(t, reports)
	want := PeakReport{
		Channel:    0,
		Frequency:  10,
		Peaks:      l4peaks.PeakSet{{X: 5, Y: 5, Weight: 997}},
		EpochStart: 0,
		EpochEnd:   150 * time.Millisecond,
	}
	if diff := cmp.Diff(want, reports[0]); diff != "" {
		t.Errorf("first report mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, reports, 2)
	assert.Equal(t, 150*time.Millisecond, reports[1].EpochStart)
	assert.Equal(t, 300*time.Millisecond, reports[1].EpochEnd)
	assert.Equal(t, 3*997, reports[1].Peaks[0].Weight)
}

func TestEstimator_NearbyMarkersSuppressed(t *testing.T) {
	t.Parallel()
	for _, size := range filterSizes {
		t.Run(fmt.Sprintf("filter_size=%d", size), func(t *testing.T) {
			t.Parallel()
			cfg := config.DefaultTuningConfig()
			cfg.FilterSize = ptr(size)
			cfg.EmitMaps = ptr(true)
			est, _, sink := newTestEstimator(t, cfg)

			d := int(cfg.GetMinPeakDistance())
			processAll(t, est, merge(
				blinkTrain(5, 5, 10, 10, 0),
				blinkTrain(5, 5+d-1, 10, 10, 0),
			))

			reports := sink.forChannel(0)
			require.NotEmpty(t, reports)
			sawBoth := false
			for _, r := range reports {
				require.Len(t, r.Peaks, 1, "epoch %s-%s: %v", r.EpochStart, r.EpochEnd, r.Peaks)
				p := r.Peaks[0]
				assert.Equal(t, 5, p.X)
				assert.Contains(t, []int{5, 5 + d - 1}, p.Y)
				require.NotNil(t, r.Map)
				if r.Map.At(5, 5) > 0 && r.Map.At(5, 5+d-1) > 0 {
					sawBoth = true
				}
			}
			assert.True(t, sawBoth, "both markers accumulated weight in some epoch")
		})
	}
}

func TestEstimator_DefaultTuningKeepsOneOfTwoCloseMarkers(t *testing.T) {
	t.Parallel()
	est, _, sink := newTestEstimator(t, config.DefaultTuningConfig())

	processAll(t, est, merge(
		blinkTrain(5, 5, 10, 10, 0),
		blinkTrain(5, 20, 10, 10, 0),
	))

	reports := sink.forChannel(0)
	require.NotEmpty(t, reports)
	for _, r := range reports {
		require.Len(t, r.Peaks, 1, "epoch %s-%s: %v", r.EpochStart, r.EpochEnd, r.Peaks)
		got := r.Peaks[0]
		onMarker := got == l4peaks.Peak{X: 5, Y: 5, Weight: got.Weight} ||
			got == l4peaks.Peak{X: 5, Y: 20, Weight: got.Weight}
		assert.True(t, onMarker, "peak %v is not on a marker", got)
	}
}

func TestEstimator_FrequencySelectivity(t *testing.T) {
	t.Parallel()
	for _, size := range filterSizes {
		t.Run(fmt.Sprintf("filter_size=%d", size), func(t *testing.T) {
			t.Parallel()
			cfg := config.DefaultTuningConfig()
			cfg.FrequenciesHz = []float64{10, 37}
			cfg.FilterSize = ptr(size)
			cfg.EmitMaps = ptr(true)
			est, _, sink := newTestEstimator(t, cfg)
			assert.Equal(t, []float64{10, 37}, est.Frequencies())
			assert.Equal(t, 2, est.NumChannels())

			processAll(t, est, blinkTrain(5, 5, 10, 10, 0))

			ten := sink.forChannel(0)
			require.NotEmpty(t, ten)
			for _, r := range ten {
				require.Len(t, r.Peaks, 1)
				assert.Equal(t, l4peaks.Peak{X: 5, Y: 5, Weight: r.Peaks[0].Weight}, r.Peaks[0])
			}

			other := sink.forChannel(1)
			require.NotEmpty(t, other, "the 37 Hz channel still cycles epochs")
			for _, r := range other {
				assert.Empty(t, r.Peaks)
				require.NotNil(t, r.Map)
				assert.Zero(t, r.Map.Max())
				assert.Equal(t, 37.0, r.Frequency)
			}
		})
	}
}

func TestEstimator_LogPrefix(t *testing.T) {
	var ops, trace bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: &ops, Trace: &trace})
	t.Cleanup(func() { monitoring.SetLogWriters(monitoring.LogWriters{}) })

	est, _, _ := newTestEstimator(t, config.DefaultTuningConfig())
	_ = est.Process(l1events.Event{X: 500, Y: 0, Polarity: l1events.PolarityOn})
	processAll(t, est, blinkTrain(5, 5, 10, 4, 0))

	assert.Contains(t, ops.String(), "[pipeline] dropping event")
	assert.Contains(t, trace.String(), "[pipeline] channel 0 (10 Hz) epoch")
	assert.NotContains(t, ops.String()+trace.String(), "[Estimator]")
}

func TestTraceEnabled_FollowsTraceWriter(t *testing.T) {
	monitoring.SetLogWriters(monitoring.LogWriters{})
	assert.False(t, traceEnabled())

	var trace bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Trace: &trace})
	t.Cleanup(func() { monitoring.SetLogWriters(monitoring.LogWriters{}) })
	assert.True(t, traceEnabled())
}

func TestEstimator_OutOfOrder(t *testing.T) {
	t.Parallel()
	est, _, _ := newTestEstimator(t, config.DefaultTuningConfig())

	require.NoError(t, est.Process(l1events.Event{X: 1, Y: 1, Timestamp: 10 * time.Millisecond, Polarity: l1events.PolarityOn}))
	err := est.Process(l1events.Event{X: 1, Y: 1, Timestamp: 5 * time.Millisecond, Polarity: l1events.PolarityOff})
	assert.ErrorIs(t, err, l3transitions.ErrOutOfOrder)

	// Equal timestamps are in order.
	require.NoError(t, est.Process(l1events.Event{X: 2, Y: 1, Timestamp: 10 * time.Millisecond, Polarity: l1events.PolarityOn}))

	s := est.Stats()
	assert.Equal(t, uint64(1), s.OutOfOrder)
	assert.Equal(t, uint64(2), s.Events)
	assert.Zero(t, s.Transitions, "the dropped OFF event must not create a transition")
}

func TestEstimator_EventAtTimeZero(t *testing.T) {
	t.Parallel()
	est, _, _ := newTestEstimator(t, config.DefaultTuningConfig())
	require.NoError(t, est.Process(l1events.Event{X: 0, Y: 0, Timestamp: 0, Polarity: l1events.PolarityOn}))
	require.NoError(t, est.Process(l1events.Event{X: 0, Y: 0, Timestamp: 0, Polarity: l1events.PolarityOff}))
	assert.Equal(t, uint64(1), est.Stats().Transitions)
}

func TestEstimator_RunDrainsClosedQueue(t *testing.T) {
	t.Parallel()
	est, q, sink := newTestEstimator(t, config.DefaultTuningConfig())

	for _, ev := range blinkTrain(5, 5, 10, 10, 0) {
		require.NoError(t, q.TryEnqueue(ev))
	}
	q.Close()

	err := est.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.forChannel(0), 6)
	assert.Equal(t, uint64(21), est.Stats().Events)
}

func TestEstimator_RunConcurrentProducer(t *testing.T) {
	t.Parallel()
	est, q, sink := newTestEstimator(t, config.DefaultTuningConfig())

	done := make(chan error, 1)
	go func() { done <- est.Run(context.Background()) }()

	for _, ev := range blinkTrain(5, 5, 10, 10, 0) {
		for q.TryEnqueue(ev) != nil {
			time.Sleep(time.Millisecond)
		}
	}
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish after the queue closed")
	}
	assert.Len(t, sink.forChannel(0), 6)
}

func TestEstimator_StopAndCancel(t *testing.T) {
	t.Parallel()

	t.Run("stop", func(t *testing.T) {
		est, _, _ := newTestEstimator(t, config.DefaultTuningConfig())
		done := make(chan error, 1)
		go func() { done <- est.Run(context.Background()) }()
		est.Stop()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not stop")
		}
	})

	t.Run("context", func(t *testing.T) {
		est, _, _ := newTestEstimator(t, config.DefaultTuningConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, est.Run(ctx), context.Canceled)
	})
}

func TestEstimator_MultipleSinks(t *testing.T) {
	t.Parallel()
	q, err := l1events.NewEventQueue(16)
	require.NoError(t, err)

	var count int
	first := &collectSink{}
	est, err := NewEstimatorFromTuning(q, config.DefaultTuningConfig(),
		first, PeakSinkFunc(func(PeakReport) { count++ }))
	require.NoError(t, err)

	processAll(t, est, blinkTrain(5, 5, 10, 4, 0))
	assert.Equal(t, len(first.reports), count)
	assert.Positive(t, count)
}

func TestNewEstimator_Errors(t *testing.T) {
	t.Parallel()
	q, err := l1events.NewEventQueue(16)
	require.NoError(t, err)

	cc := l5frequency.ChannelConfigFromTuning(config.DefaultTuningConfig(), 0)

	tests := []struct {
		name string
		cfg  EstimatorConfig
	}{
		{"nil queue", EstimatorConfig{Width: 128, Height: 128, Channels: []l5frequency.ChannelConfig{cc}}},
		{"no channels", EstimatorConfig{Queue: q, Width: 128, Height: 128}},
		{"bad grid", EstimatorConfig{Queue: q, Width: 0, Height: 128, Channels: []l5frequency.ChannelConfig{cc}}},
		{"grid mismatch", EstimatorConfig{Queue: q, Width: 64, Height: 128, Channels: []l5frequency.ChannelConfig{cc}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEstimator(tt.cfg)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}

	_, err = NewEstimatorFromTuning(q, &config.TuningConfig{FrequenciesHz: []float64{-1}})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func ptr[T any](v T) *T { return &v }
