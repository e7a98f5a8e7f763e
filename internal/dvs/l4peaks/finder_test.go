package l4peaks

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinder_Empty(t *testing.T) {
	t.Parallel()
	f := NewFinder(3, 16)
	f.Consider(0, 0, 0)
	f.Consider(1, 0, -5)
	assert.Empty(t, f.Result())

	_, ok := f.Result().Strongest()
	assert.False(t, ok)
}

func TestFinder_WeightDescending(t *testing.T) {
	t.Parallel()
	f := NewFinder(3, 2)
	f.Consider(0, 0, 10)
	f.Consider(10, 0, 30)
	f.Consider(20, 0, 20)
	f.Consider(30, 0, 5)

	want := PeakSet{{X: 10, Y: 0, Weight: 30}, {X: 20, Y: 0, Weight: 20}, {X: 0, Y: 0, Weight: 10}}
	if diff := cmp.Diff(want, f.Result()); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestFinder_SuppressesNeighbours(t *testing.T) {
	t.Parallel()
	f := NewFinder(3, 16)
	f.Consider(5, 5, 100)
	f.Consider(5, 20, 100) // distance 15 <= 16
	f.Consider(5, 21, 90)  // distance 16 is not strictly greater
	f.Consider(5, 22, 80)  // distance 17

	got := f.Result()
	assert.Equal(t, PeakSet{{X: 5, Y: 5, Weight: 100}, {X: 5, Y: 22, Weight: 80}}, got)
}

func TestFinder_TiesKeepScanOrder(t *testing.T) {
	t.Parallel()
	f := NewFinder(1, 0)
	f.Consider(3, 0, 7)
	f.Consider(1, 1, 7)
	p, ok := f.Result().Strongest()
	require.True(t, ok)
	assert.Equal(t, Peak{X: 3, Y: 0, Weight: 7}, p)
}

func TestFinder_CapacityAndReset(t *testing.T) {
	t.Parallel()
	f := NewFinder(2, 0)
	for i := 1; i <= 5; i++ {
		f.Consider(i, 0, i)
	}
	assert.Len(t, f.Result(), 2)
	assert.Len(t, f.Result(), 2, "Result is repeatable")

	f.Reset()
	assert.Empty(t, f.Result())
}

func TestNewFinder_PanicsOnBadArgs(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewFinder(0, 1) })
	assert.Panics(t, func() { NewFinder(1, -1) })
}

// TestFinder_Invariants checks the suppression properties on random maps.
func TestFinder_Invariants(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	const w, h, k = 32, 32, 4
	const d = 6.0

	for trial := 0; trial < 50; trial++ {
		f := NewFinder(k, d)
		var all []Peak
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				wt := 0
				if rng.Intn(4) == 0 {
					wt = rng.Intn(1000)
				}
				f.Consider(x, y, wt)
				if wt > 0 {
					all = append(all, Peak{X: x, Y: y, Weight: wt})
				}
			}
		}
		got := f.Result()
		require.LessOrEqual(t, len(got), k)

		// Pairwise separation.
		for i := range got {
			assert.Positive(t, got[i].Weight)
			for j := i + 1; j < len(got); j++ {
				assert.Greater(t, got[i].Distance(got[j]), d)
			}
		}

		retained := make(map[[2]int]bool, len(got))
		for _, p := range got {
			retained[[2]int{p.X, p.Y}] = true
		}
		for _, c := range all {
			if retained[[2]int{c.X, c.Y}] {
				continue
			}
			var suppressor *Peak
			for i := range got {
				if got[i].Distance(c) <= d {
					suppressor = &got[i]
					break
				}
			}
			if suppressor != nil {
				// A suppressor is at least as heavy as what it suppressed.
				assert.GreaterOrEqual(t, suppressor.Weight, c.Weight)
				continue
			}
			// Isolated and discarded: the set was already full of
			// heavier-or-equal peaks.
			require.Len(t, got, k)
			assert.GreaterOrEqual(t, got[len(got)-1].Weight, c.Weight)
		}
	}
}
