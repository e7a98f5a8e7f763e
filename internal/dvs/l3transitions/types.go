package l3transitions

import (
	"errors"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/dvs/l1events"
)

// ErrOutOfOrder marks an event or transition older than one already seen.
var ErrOutOfOrder = errors.New("out-of-order timestamp")

// Transition is an event whose polarity differs from the previous event at
// the same pixel.
type Transition struct {
	X, Y      int
	Timestamp time.Duration
	Polarity  l1events.Polarity
}

// Interval is the time between two consecutive transitions of the same
// polarity at one pixel. Timestamp is that of the later transition.
type Interval struct {
	X, Y      int
	Timestamp time.Duration
	DeltaT    time.Duration
}
