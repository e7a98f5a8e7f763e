package l4peaks

import (
	"math"
	"slices"
)

// Peak is a retained maximum of a confidence map.
type Peak struct {
	X, Y   int
	Weight int
}

// Distance returns the Euclidean pixel distance between two peaks.
func (p Peak) Distance(o Peak) float64 {
	return math.Hypot(float64(p.X-o.X), float64(p.Y-o.Y))
}

// PeakSet holds at most K peaks, heaviest first, with every pair further
// apart than the finder's minimum distance.
type PeakSet []Peak

// Strongest returns the heaviest peak, if any.
func (s PeakSet) Strongest() (Peak, bool) {
	if len(s) == 0 {
		return Peak{}, false
	}
	return s[0], true
}

// Finder performs greedy non-maximum suppression over one scan.
//
// Candidate cells are offered through Consider in row-major order. Result sorts
// the candidates by weight, ties keeping scan order, and admits a candidate
// only if it is further than the minimum distance from every peak already
// admitted. Admission stops at capacity.
type Finder struct {
	capacity    int
	minDistance float64
	minDist2    float64
	candidates  []Peak
}

// NewFinder returns a Finder retaining up to capacity peaks separated by
// more than minDistance pixels. capacity must be positive and minDistance
// non-negative; NewFinder panics otherwise.
func NewFinder(capacity int, minDistance float64) *Finder {
	if capacity <= 0 || minDistance < 0 || math.IsNaN(minDistance) {
		panic("l4peaks: capacity must be positive and minDistance non-negative")
	}
	return &Finder{
		capacity:    capacity,
		minDistance: minDistance,
		minDist2:    minDistance * minDistance,
	}
}

// Capacity returns K.
func (f *Finder) Capacity() int { return f.capacity }

// MinDistance returns d.
func (f *Finder) MinDistance() float64 { return f.minDistance }

// Consider offers a cell. Non-positive weights are ignored.
func (f *Finder) Consider(x, y, weight int) {
	if weight <= 0 {
		return
	}
	f.candidates = append(f.candidates, Peak{X: x, Y: y, Weight: weight})
}

// Result returns the retained peaks for the cells considered since the last
// Reset. It does not consume the candidates.
func (f *Finder) Result() PeakSet {
	if len(f.candidates) == 0 {
		return PeakSet{}
	}
	order := slices.Clone(f.candidates)
	slices.SortStableFunc(order, func(a, b Peak) int {
		return b.Weight - a.Weight
	})

	out := make(PeakSet, 0, f.capacity)
	for _, c := range order {
		if f.separated(c, out) {
			out = append(out, c)
			if len(out) == f.capacity {
				break
			}
		}
	}
	return out
}

// Reset discards all candidates.
func (f *Finder) Reset() {
	f.candidates = f.candidates[:0]
}

func (f *Finder) separated(c Peak, admitted PeakSet) bool {
	for _, p := range admitted {
		dx := float64(c.X - p.X)
		dy := float64(c.Y - p.Y)
		if dx*dx+dy*dy <= f.minDist2 {
			return false
		}
	}
	return true
}
