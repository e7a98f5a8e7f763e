package l5frequency

import (
	"fmt"
	"math"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/config"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l2grid"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l3transitions"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l4peaks"
)

// ChannelConfig holds the immutable parameters of one frequency channel.
type ChannelConfig struct {
	Frequency   float64 // target blink frequency, Hz
	Sigma       float64 // Gaussian width, seconds
	MinDistance float64 // minimum peak separation, pixels
	MaxPeaks    int
	Width       int
	Height      int
	FilterSize  int // odd; <= 1 disables smoothing
	FilterSigma float64
}

// ChannelConfigFromTuning builds the config for channel i.
func ChannelConfigFromTuning(cfg *config.TuningConfig, i int) ChannelConfig {
	return ChannelConfig{
		Frequency:   cfg.GetFrequencies()[i],
		Sigma:       cfg.GetChannelSigma(i),
		MinDistance: cfg.GetMinPeakDistance(),
		MaxPeaks:    cfg.GetMaxPeaks(),
		Width:       cfg.GetWidth(),
		Height:      cfg.GetHeight(),
		FilterSize:  cfg.GetFilterSize(),
		FilterSigma: cfg.GetFilterSigma(),
	}
}

// Validate checks the channel parameters. Failures wrap
// config.ErrInvalidConfig.
func (c ChannelConfig) Validate() error {
	switch {
	case !(c.Frequency > 0) || math.IsInf(c.Frequency, 0):
		return fmt.Errorf("%w: frequency must be positive, got %g", config.ErrInvalidConfig, c.Frequency)
	case !(c.Sigma > 0):
		return fmt.Errorf("%w: sigma must be positive, got %g", config.ErrInvalidConfig, c.Sigma)
	case c.MinDistance < 0 || math.IsNaN(c.MinDistance):
		return fmt.Errorf("%w: min distance must be non-negative, got %g", config.ErrInvalidConfig, c.MinDistance)
	case c.MaxPeaks <= 0:
		return fmt.Errorf("%w: max peaks must be positive, got %d", config.ErrInvalidConfig, c.MaxPeaks)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: grid must be positive, got %dx%d", config.ErrInvalidConfig, c.Width, c.Height)
	}
	return nil
}

// MapSnapshot is a row-major copy of a confidence map.
type MapSnapshot struct {
	Width, Height int
	Weights       []int
}

// At returns the weight at (x, y).
func (m MapSnapshot) At(x, y int) int { return m.Weights[y*m.Width+x] }

// Max returns the largest weight in the snapshot.
func (m MapSnapshot) Max() int {
	best := 0
	for _, w := range m.Weights {
		if w > best {
			best = w
		}
	}
	return best
}

// Channel accumulates interval weights for one target frequency and
// extracts peaks once per epoch. An epoch lasts one target period of event
// time. A Channel is owned by a single goroutine.
type Channel struct {
	cfg    ChannelConfig
	period time.Duration

	epochStart    time.Duration
	lastEventTime time.Duration

	weights *l2grid.Grid[int]
	nonZero int

	finder *l4peaks.Finder
	filter *Filter
	raw    []float64
	smooth []float64
	scan   []int
}

// NewChannel validates cfg and allocates the channel state.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, err := NewFilter(cfg.FilterSize, cfg.FilterSigma)
	if err != nil {
		return nil, err
	}
	weights, err := l2grid.New[int](cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	c := &Channel{
		cfg:     cfg,
		period:  Period(cfg.Frequency),
		weights: weights,
		finder:  l4peaks.NewFinder(cfg.MaxPeaks, cfg.MinDistance),
		filter:  filter,
		scan:    make([]int, cfg.Width*cfg.Height),
	}
	if filter != nil {
		c.raw = make([]float64, len(c.scan))
		c.smooth = make([]float64, len(c.scan))
	}
	return c, nil
}

// Frequency returns the target frequency in Hz.
func (c *Channel) Frequency() float64 { return c.cfg.Frequency }

// Period returns the target period, which is also the epoch length.
func (c *Channel) Period() time.Duration { return c.period }

// Config returns the channel parameters.
func (c *Channel) Config() ChannelConfig { return c.cfg }

// EpochStart returns the event time of the last reset.
func (c *Channel) EpochStart() time.Duration { return c.epochStart }

// LastEventTime returns the timestamp of the most recent interval.
func (c *Channel) LastEventTime() time.Duration { return c.lastEventTime }

// NonZero returns the number of cells with a positive weight.
func (c *Channel) NonZero() int { return c.nonZero }

// Update adds the weight of iv to its pixel. Coordinates must already be
// validated against the grid.
func (c *Channel) Update(iv l3transitions.Interval) {
	c.lastEventTime = iv.Timestamp
	w := Weight(iv.DeltaT, c.cfg.Frequency, c.cfg.Sigma)
	if w == 0 {
		return
	}
	cur, _ := c.weights.Get(iv.X, iv.Y)
	if cur == 0 {
		c.nonZero++
	}
	c.weights.Set(iv.X, iv.Y, cur+w)
}

// HasExpired reports whether more than one target period of event time has
// passed since the epoch started.
func (c *Channel) HasExpired() bool {
	return c.lastEventTime-c.epochStart > c.period
}

// ExtractPeaks scans the map, smoothed when a filter is configured, and
// returns the retained peaks. Only local maxima of the scanned map (cells
// at least as heavy as all eight neighbours) are offered to the finder, so
// the smoothed shoulders of a suppressed marker never surface as peaks.
// The accumulated map itself is left intact.
func (c *Channel) ExtractPeaks() l4peaks.PeakSet {
	c.finder.Reset()
	if c.nonZero == 0 {
		return l4peaks.PeakSet{}
	}

	w := c.cfg.Width
	if c.filter == nil {
		c.weights.Each(func(x, y int, v int, _ bool) {
			c.scan[y*w+x] = v
		})
	} else {
		c.weights.Each(func(x, y int, v int, _ bool) {
			c.raw[y*w+x] = float64(v)
		})
		c.filter.Apply(c.smooth, c.raw, w, c.cfg.Height)
		for i, v := range c.smooth {
			c.scan[i] = int(math.Round(v))
		}
	}

	i := 0
	for y := 0; y < c.cfg.Height; y++ {
		for x := 0; x < w; x++ {
			if v := c.scan[i]; v > 0 && c.isLocalMax(x, y, v) {
				c.finder.Consider(x, y, v)
			}
			i++
		}
	}
	return c.finder.Result()
}

// isLocalMax reports whether v at (x, y) is >= every in-grid neighbour of
// the scan buffer. Plateaus keep all their cells.
func (c *Channel) isLocalMax(x, y, v int) bool {
	w, h := c.cfg.Width, c.cfg.Height
	for ny := max(y-1, 0); ny <= min(y+1, h-1); ny++ {
		for nx := max(x-1, 0); nx <= min(x+1, w-1); nx++ {
			if c.scan[ny*w+nx] > v {
				return false
			}
		}
	}
	return true
}

// Reset clears the map and the finder and starts a new epoch at the last
// event time.
func (c *Channel) Reset() {
	c.weights.Clear()
	c.nonZero = 0
	c.finder.Reset()
	c.epochStart = c.lastEventTime
}

// Snapshot copies the raw confidence map.
func (c *Channel) Snapshot() MapSnapshot {
	s := MapSnapshot{
		Width:   c.cfg.Width,
		Height:  c.cfg.Height,
		Weights: make([]int, c.cfg.Width*c.cfg.Height),
	}
	c.weights.Each(func(x, y int, v int, _ bool) {
		s.Weights[y*c.cfg.Width+x] = v
	})
	return s
}
