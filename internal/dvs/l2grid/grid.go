package l2grid

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCoordinate is returned for coordinates outside the grid.
	ErrInvalidCoordinate = errors.New("coordinate outside grid")
	// ErrInvalidDimensions is returned by New for non-positive sizes.
	ErrInvalidDimensions = errors.New("invalid grid dimensions")
)

// Grid is a dense Width x Height array of cells stored row-major. Every
// cell is either unset or holds a value of type T; unset cells read as the
// zero value with set == false.
//
// Get and Set do not bounds-check beyond the slice index check; callers on
// the hot path validate coordinates once with Check or Contains.
type Grid[T any] struct {
	width, height int
	cells         []T
	set           []bool
}

// New allocates a grid with all cells unset.
func New[T any](width, height int) (*Grid[T], error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	n := width * height
	return &Grid[T]{
		width:  width,
		height: height,
		cells:  make([]T, n),
		set:    make([]bool, n),
	}, nil
}

// Width returns the number of columns.
func (g *Grid[T]) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid[T]) Height() int { return g.height }

// Contains reports whether (x, y) lies inside the grid.
func (g *Grid[T]) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// Check returns ErrInvalidCoordinate if (x, y) lies outside the grid.
func (g *Grid[T]) Check(x, y int) error {
	if !g.Contains(x, y) {
		return fmt.Errorf("%w: (%d,%d) not in %dx%d", ErrInvalidCoordinate, x, y, g.width, g.height)
	}
	return nil
}

// Get returns the cell value and whether it has been written since the last
// Clear.
func (g *Grid[T]) Get(x, y int) (T, bool) {
	i := y*g.width + x
	return g.cells[i], g.set[i]
}

// Set writes v to the cell.
func (g *Grid[T]) Set(x, y int, v T) {
	i := y*g.width + x
	g.cells[i] = v
	g.set[i] = true
}

// GetChecked is Get with coordinate validation.
func (g *Grid[T]) GetChecked(x, y int) (T, bool, error) {
	if err := g.Check(x, y); err != nil {
		var zero T
		return zero, false, err
	}
	v, ok := g.Get(x, y)
	return v, ok, nil
}

// SetChecked is Set with coordinate validation.
func (g *Grid[T]) SetChecked(x, y int, v T) error {
	if err := g.Check(x, y); err != nil {
		return err
	}
	g.Set(x, y, v)
	return nil
}

// Clear resets every cell to unset.
func (g *Grid[T]) Clear() {
	clear(g.cells)
	clear(g.set)
}

// Each calls fn for every cell in row-major order (y outer, x inner).
func (g *Grid[T]) Each(fn func(x, y int, v T, set bool)) {
	i := 0
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			fn(x, y, g.cells[i], g.set[i])
			i++
		}
	}
}
