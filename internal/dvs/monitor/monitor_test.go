package monitor

import (
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l4peaks"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l5frequency"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

func init() {
	monitoring.SetLogWriters(monitoring.LogWriters{})
}

// testMap returns a w x h snapshot with the given non-zero cells.
func testMap(w, h int, cells map[[2]int]int) *l5frequency.MapSnapshot {
	m := &l5frequency.MapSnapshot{Width: w, Height: h, Weights: make([]int, w*h)}
	for xy, v := range cells {
		m.Weights[xy[1]*w+xy[0]] = v
	}
	return m
}

func testReport(channel int, freq float64, end time.Duration, peaks ...l4peaks.Peak) pipeline.PeakReport {
	return pipeline.PeakReport{
		Channel:    channel,
		Frequency:  freq,
		Peaks:      l4peaks.PeakSet(peaks),
		EpochStart: end - time.Duration(float64(time.Second)/freq),
		EpochEnd:   end,
	}
}
