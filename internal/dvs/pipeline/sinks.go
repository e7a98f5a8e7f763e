package pipeline

import (
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l4peaks"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l5frequency"
)

// PeakReport is published once per channel epoch, before the channel's map
// is cleared.
type PeakReport struct {
	Channel    int
	Frequency  float64
	Peaks      l4peaks.PeakSet
	EpochStart time.Duration
	EpochEnd   time.Duration
	// Map is the raw confidence map, present only when map emission is
	// enabled.
	Map *l5frequency.MapSnapshot
}

// PeakSink receives peak reports. It is an adapter, so implementations live
// outside the layer packages (e.g. internal/dvs/monitor,
// internal/dvs/storage/sqlite).
//
// PublishPeaks runs on the estimator goroutine and must not block; sinks
// that do I/O hand the report to their own goroutine.
type PeakSink interface {
	PublishPeaks(report PeakReport)
}

// PeakSinkFunc adapts a function to PeakSink.
type PeakSinkFunc func(PeakReport)

// PublishPeaks calls f(report).
func (f PeakSinkFunc) PublishPeaks(report PeakReport) { f(report) }
