package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
	"github.com/eternallovelin/dvs-tracking/internal/timeutil"
)

// GreyLevel maps a confidence weight to an 8-bit grey value: weight/4,
// clamped to [0, 255].
func GreyLevel(weight int) uint8 {
	g := weight / 4
	switch {
	case g < 0:
		return 0
	case g > 255:
		return 255
	}
	return uint8(g)
}

// ChannelState is the most recent report for one channel.
type ChannelState struct {
	Report    pipeline.PeakReport
	UpdatedAt time.Time
	Epochs    uint64
}

// Heatmap is a PeakSink that keeps the latest report per channel for the
// debug pages. PublishPeaks only swaps a pointer under a mutex, so it is
// safe on the estimator goroutine.
type Heatmap struct {
	clock timeutil.Clock

	mu     sync.RWMutex
	latest map[int]*ChannelState
}

// NewHeatmap returns an empty Heatmap. A nil clock uses the real clock.
func NewHeatmap(clock timeutil.Clock) *Heatmap {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Heatmap{clock: clock, latest: make(map[int]*ChannelState)}
}

// PublishPeaks records r as the latest report for its channel. The report
// (and its map) is retained as-is and must not be modified afterwards.
func (h *Heatmap) PublishPeaks(r pipeline.PeakReport) {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	var epochs uint64 = 1
	if prev, ok := h.latest[r.Channel]; ok {
		epochs = prev.Epochs + 1
		// Keep showing the last map if this epoch carried none.
		if r.Map == nil {
			r.Map = prev.Report.Map
		}
	}
	h.latest[r.Channel] = &ChannelState{Report: r, UpdatedAt: now, Epochs: epochs}
}

// Latest returns the state of one channel.
func (h *Heatmap) Latest(channel int) (ChannelState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[channel]
	if !ok {
		return ChannelState{}, false
	}
	return *s, true
}

// Channels returns the state of every channel seen so far, in channel order.
func (h *Heatmap) Channels() []ChannelState {
	h.mu.RLock()
	out := make([]ChannelState, 0, len(h.latest))
	for _, s := range h.latest {
		out = append(out, *s)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Report.Channel < out[j].Report.Channel })
	return out
}
