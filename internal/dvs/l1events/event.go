package l1events

import (
	"fmt"
	"time"
)

// Polarity is the direction of a brightness change.
type Polarity uint8

const (
	// PolarityOn is a negative-to-positive (brightening) change.
	PolarityOn Polarity = iota + 1
	// PolarityOff is a positive-to-negative (darkening) change.
	PolarityOff
)

func (p Polarity) String() string {
	switch p {
	case PolarityOn:
		return "on"
	case PolarityOff:
		return "off"
	default:
		return fmt.Sprintf("polarity(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the two defined polarities.
func (p Polarity) Valid() bool {
	return p == PolarityOn || p == PolarityOff
}

// Event is a single asynchronous brightness-change report from the sensor.
// Timestamp is sensor time measured from the stream origin; a timestamp of
// zero is a legitimate event time.
type Event struct {
	X, Y      int
	Timestamp time.Duration
	Polarity  Polarity
}

func (e Event) String() string {
	return fmt.Sprintf("(%d,%d) %s @%s", e.X, e.Y, e.Polarity, e.Timestamp)
}
