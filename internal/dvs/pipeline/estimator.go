package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/config"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l2grid"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l3transitions"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l5frequency"
)

// EstimatorConfig holds dependencies and parameters for an Estimator.
type EstimatorConfig struct {
	// Queue is the consumer side of the event stream. Required.
	Queue *l1events.EventQueue

	// Width and Height are the sensor dimensions in pixels. Every channel
	// must use the same grid.
	Width, Height int

	// Channels holds one entry per target frequency, in report order.
	Channels []l5frequency.ChannelConfig

	// IdleWait bounds how long Run parks on an empty queue before
	// re-checking for cancellation. Zero means one millisecond.
	IdleWait time.Duration

	// EmitMaps attaches a raw map snapshot to every PeakReport.
	EmitMaps bool

	// Sinks receive every PeakReport in order. May be empty.
	Sinks []PeakSink
}

// Stats is a point-in-time copy of the estimator counters.
type Stats struct {
	Events       uint64 // events accepted
	Transitions  uint64
	Intervals    uint64
	Epochs       uint64 // channel epochs completed
	Peaks        uint64 // peaks reported
	Invalid      uint64 // events outside the grid
	OutOfOrder   uint64 // events older than the last accepted one
	QueueDropped uint64 // events rejected by a full queue
}

// Estimator turns a stream of events into per-frequency peak reports.
//
// Process and Run must be called from a single goroutine. Stats and Stop
// are safe from any goroutine.
type Estimator struct {
	queue    *l1events.EventQueue
	idleWait time.Duration
	emitMaps bool
	sinks    []PeakSink

	bounds      *l2grid.Grid[struct{}]
	transitions *l3transitions.TransitionExtractor
	intervals   *l3transitions.IntervalExtractor
	channels    []*l5frequency.Channel

	lastTimestamp time.Duration
	started       bool

	events     atomic.Uint64
	transCount atomic.Uint64
	ivCount    atomic.Uint64
	epochs     atomic.Uint64
	peaks      atomic.Uint64
	invalid    atomic.Uint64
	outOfOrder atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	halted bool
}

// NewEstimator validates cfg and allocates all per-pixel state. Any
// configuration problem returns an error wrapping config.ErrInvalidConfig.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("%w: estimator requires an event queue", config.ErrInvalidConfig)
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("%w: at least one frequency channel is required", config.ErrInvalidConfig)
	}

	bounds, err := l2grid.New[struct{}](cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	te, err := l3transitions.NewTransitionExtractor(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	ie, err := l3transitions.NewIntervalExtractor(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}

	channels := make([]*l5frequency.Channel, len(cfg.Channels))
	for i, cc := range cfg.Channels {
		if cc.Width != cfg.Width || cc.Height != cfg.Height {
			return nil, fmt.Errorf("%w: channel %d grid %dx%d does not match sensor %dx%d",
				config.ErrInvalidConfig, i, cc.Width, cc.Height, cfg.Width, cfg.Height)
		}
		ch, err := l5frequency.NewChannel(cc)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%g Hz): %w", i, cc.Frequency, err)
		}
		channels[i] = ch
	}

	idle := cfg.IdleWait
	if idle <= 0 {
		idle = time.Millisecond
	}

	return &Estimator{
		queue:       cfg.Queue,
		idleWait:    idle,
		emitMaps:    cfg.EmitMaps,
		sinks:       append([]PeakSink(nil), cfg.Sinks...),
		bounds:      bounds,
		transitions: te,
		intervals:   ie,
		channels:    channels,
	}, nil
}

// NewEstimatorFromTuning builds an estimator from a tuning configuration.
func NewEstimatorFromTuning(queue *l1events.EventQueue, tuning *config.TuningConfig, sinks ...PeakSink) (*Estimator, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	freqs := tuning.GetFrequencies()
	channels := make([]l5frequency.ChannelConfig, len(freqs))
	for i := range freqs {
		channels[i] = l5frequency.ChannelConfigFromTuning(tuning, i)
	}
	return NewEstimator(EstimatorConfig{
		Queue:    queue,
		Width:    tuning.GetWidth(),
		Height:   tuning.GetHeight(),
		Channels: channels,
		IdleWait: tuning.GetIdleWait(),
		EmitMaps: tuning.GetEmitMaps(),
		Sinks:    sinks,
	})
}

// NumChannels returns the number of frequency channels.
func (e *Estimator) NumChannels() int { return len(e.channels) }

// Frequencies returns the channel frequencies in report order.
func (e *Estimator) Frequencies() []float64 {
	out := make([]float64, len(e.channels))
	for i, ch := range e.channels {
		out[i] = ch.Frequency()
	}
	return out
}

// Process runs one event through the layers. Invalid coordinates return
// l2grid.ErrInvalidCoordinate and out-of-order events return
// l3transitions.ErrOutOfOrder; in both cases no state changes.
func (e *Estimator) Process(ev l1events.Event) error {
	if err := e.bounds.Check(ev.X, ev.Y); err != nil {
		if n := e.invalid.Add(1); n&(n-1) == 0 {
			opsf("dropping event %s: %v (total invalid=%d)", ev, err, n)
		}
		return err
	}
	if e.started && ev.Timestamp < e.lastTimestamp {
		e.outOfOrder.Add(1)
		if traceEnabled() {
			tracef("out-of-order event %s after %s", ev, e.lastTimestamp)
		}
		return fmt.Errorf("%w: %s < %s", l3transitions.ErrOutOfOrder, ev.Timestamp, e.lastTimestamp)
	}
	e.started = true
	e.lastTimestamp = ev.Timestamp
	e.events.Add(1)

	tr, ok := e.transitions.Observe(ev)
	if !ok {
		return nil
	}
	e.transCount.Add(1)

	iv, ok := e.intervals.Observe(tr)
	if !ok {
		return nil
	}
	e.ivCount.Add(1)

	for i, ch := range e.channels {
		ch.Update(iv)
		if ch.HasExpired() {
			e.completeEpoch(i, ch)
		}
	}
	return nil
}

func (e *Estimator) completeEpoch(i int, ch *l5frequency.Channel) {
	report := PeakReport{
		Channel:    i,
		Frequency:  ch.Frequency(),
		Peaks:      ch.ExtractPeaks(),
		EpochStart: ch.EpochStart(),
		EpochEnd:   ch.LastEventTime(),
	}
	if e.emitMaps {
		snap := ch.Snapshot()
		report.Map = &snap
	}
	e.epochs.Add(1)
	e.peaks.Add(uint64(len(report.Peaks)))

	if best, ok := report.Peaks.Strongest(); ok && traceEnabled() {
		tracef("channel %d (%g Hz) epoch %s-%s: %d peaks, best (%d,%d) w=%d",
			i, report.Frequency, report.EpochStart, report.EpochEnd, len(report.Peaks), best.X, best.Y, best.Weight)
	}

	for _, s := range e.sinks {
		s.PublishPeaks(report)
	}
	ch.Reset()
}

// Run consumes the queue until ctx is cancelled, Stop is called, or the
// queue is closed and drained. It returns nil at end of stream and the
// context error otherwise. An event already dequeued is always processed
// before Run returns.
func (e *Estimator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return context.Canceled
	}
	e.cancel = cancel
	e.mu.Unlock()

	diagf("started: %d channels %v, idle wait %s", len(e.channels), e.Frequencies(), e.idleWait)
	defer func() {
		s := e.Stats()
		diagf("stopped: events=%d intervals=%d epochs=%d invalid=%d out_of_order=%d dropped=%d",
			s.Events, s.Intervals, s.Epochs, s.Invalid, s.OutOfOrder, s.QueueDropped)
	}()

	for {
		for {
			ev, ok := e.queue.TryDequeue()
			if !ok {
				break
			}
			// Per-event errors are counted and logged inside Process.
			_ = e.Process(ev)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if e.queue.Drained() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.queue.Wait(ctx, e.idleWait)
	}
}

// Stop cancels a running Run and prevents future runs.
func (e *Estimator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halted = true
	if e.cancel != nil {
		e.cancel()
	}
}

// Stats returns a snapshot of the counters.
func (e *Estimator) Stats() Stats {
	return Stats{
		Events:       e.events.Load(),
		Transitions:  e.transCount.Load(),
		Intervals:    e.ivCount.Load(),
		Epochs:       e.epochs.Load(),
		Peaks:        e.peaks.Load(),
		Invalid:      e.invalid.Load(),
		OutOfOrder:   e.outOfOrder.Load(),
		QueueDropped: e.queue.Dropped(),
	}
}

// IsPerEventError reports whether err is one of the per-event errors that
// Process returns without touching state.
func IsPerEventError(err error) bool {
	return errors.Is(err, l2grid.ErrInvalidCoordinate) || errors.Is(err, l3transitions.ErrOutOfOrder)
}
