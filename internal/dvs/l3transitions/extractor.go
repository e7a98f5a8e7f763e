package l3transitions

import (
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/l2grid"
)

// TransitionExtractor remembers the last event at every pixel and reports a
// Transition whenever the polarity changes.
type TransitionExtractor struct {
	last *l2grid.Grid[l1events.Event]
}

// NewTransitionExtractor allocates an extractor for a width x height sensor.
func NewTransitionExtractor(width, height int) (*TransitionExtractor, error) {
	g, err := l2grid.New[l1events.Event](width, height)
	if err != nil {
		return nil, err
	}
	return &TransitionExtractor{last: g}, nil
}

// Observe records e and returns a Transition if its polarity differs from
// the previous event at the same pixel. The first event at a pixel never
// produces a transition. Coordinates must already be validated.
func (t *TransitionExtractor) Observe(e l1events.Event) (Transition, bool) {
	prev, seen := t.last.Get(e.X, e.Y)
	t.last.Set(e.X, e.Y, e)
	if !seen || prev.Polarity == e.Polarity {
		return Transition{}, false
	}
	return Transition{X: e.X, Y: e.Y, Timestamp: e.Timestamp, Polarity: e.Polarity}, true
}

// Reset forgets every pixel's history.
func (t *TransitionExtractor) Reset() { t.last.Clear() }

// IntervalExtractor keeps the last transition per pixel for each polarity
// and reports the elapsed time between same-polarity transitions.
type IntervalExtractor struct {
	on, off    *l2grid.Grid[Transition]
	outOfOrder uint64
}

// NewIntervalExtractor allocates an extractor for a width x height sensor.
func NewIntervalExtractor(width, height int) (*IntervalExtractor, error) {
	on, err := l2grid.New[Transition](width, height)
	if err != nil {
		return nil, err
	}
	off, err := l2grid.New[Transition](width, height)
	if err != nil {
		return nil, err
	}
	return &IntervalExtractor{on: on, off: off}, nil
}

// Observe records tr and returns the Interval since the previous transition
// of the same polarity at that pixel. Negative intervals are discarded and
// counted in OutOfOrder.
func (ie *IntervalExtractor) Observe(tr Transition) (Interval, bool) {
	var g *l2grid.Grid[Transition]
	switch tr.Polarity {
	case l1events.PolarityOn:
		g = ie.on
	case l1events.PolarityOff:
		g = ie.off
	default:
		return Interval{}, false
	}

	prev, seen := g.Get(tr.X, tr.Y)
	g.Set(tr.X, tr.Y, tr)
	if !seen {
		return Interval{}, false
	}
	dt := tr.Timestamp - prev.Timestamp
	if dt < 0 {
		ie.outOfOrder++
		return Interval{}, false
	}
	return Interval{X: tr.X, Y: tr.Y, Timestamp: tr.Timestamp, DeltaT: dt}, true
}

// OutOfOrder returns the number of negative intervals discarded.
func (ie *IntervalExtractor) OutOfOrder() uint64 { return ie.outOfOrder }

// Reset forgets every pixel's history.
func (ie *IntervalExtractor) Reset() {
	ie.on.Clear()
	ie.off.Clear()
}
