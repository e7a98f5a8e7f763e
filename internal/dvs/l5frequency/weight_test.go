package l5frequency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeight_PeakAtTargetPeriod(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 997, Weight(100*time.Millisecond, 10, 0.0002))
}

func TestWeight_NonIncreasingAndNonNegative(t *testing.T) {
	t.Parallel()
	const f, sigma = 10.0, 0.0002
	prevLow, prevHigh := Weight(100*time.Millisecond, f, sigma), Weight(100*time.Millisecond, f, sigma)
	for us := 1; us <= 2000; us++ {
		off := time.Duration(us) * time.Microsecond
		low := Weight(100*time.Millisecond-off, f, sigma)
		high := Weight(100*time.Millisecond+off, f, sigma)
		assert.LessOrEqual(t, low, prevLow, "offset -%s", off)
		assert.LessOrEqual(t, high, prevHigh, "offset +%s", off)
		assert.GreaterOrEqual(t, low, 0)
		assert.GreaterOrEqual(t, high, 0)
		prevLow, prevHigh = low, high
	}
	assert.Zero(t, prevLow, "2ms is ten sigmas away")
}

func TestWeight_FarFromTarget(t *testing.T) {
	t.Parallel()
	// A 10 Hz interval against a 37 Hz channel.
	assert.Zero(t, Weight(100*time.Millisecond, 37, 0.0002))
	assert.Zero(t, Weight(0, 10, 0.0002))
}

func TestWeight_Capped(t *testing.T) {
	t.Parallel()
	assert.Equal(t, maxWeight, Weight(100*time.Millisecond, 10, 1e-15))
}

func TestPeriod(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 100*time.Millisecond, Period(10))
	assert.Equal(t, time.Second, Period(1))
}
