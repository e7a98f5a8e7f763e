package l5frequency

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/eternallovelin/dvs-tracking/internal/config"
)

// Filter is a square Gaussian blur with zero padding at the borders. The
// kernel is separable, so it runs as a horizontal then a vertical pass.
type Filter struct {
	size   int
	radius int
	kernel []float64 // 1-D, sums to 1
	tmp    []float64
}

// NewFilter builds a size x size kernel. size must be odd and sigma
// positive. A size of 1 or less means no smoothing, and NewFilter returns
// nil without error.
func NewFilter(size int, sigma float64) (*Filter, error) {
	if size <= 1 {
		return nil, nil
	}
	if size%2 == 0 {
		return nil, fmt.Errorf("%w: filter size must be odd, got %d", config.ErrInvalidConfig, size)
	}
	if !(sigma > 0) {
		return nil, fmt.Errorf("%w: filter sigma must be positive, got %g", config.ErrInvalidConfig, sigma)
	}

	radius := size / 2
	n := distuv.Normal{Mu: 0, Sigma: sigma}
	k := make([]float64, size)
	for i := range k {
		k[i] = n.Prob(float64(i - radius))
	}
	floats.Scale(1/floats.Sum(k), k)

	return &Filter{size: size, radius: radius, kernel: k}, nil
}

// Size returns the kernel edge length.
func (f *Filter) Size() int { return f.size }

// Kernel returns a copy of the normalised 1-D kernel.
func (f *Filter) Kernel() []float64 {
	return append([]float64(nil), f.kernel...)
}

// Apply convolves the row-major width x height image src into dst. dst and
// src must both have width*height elements and must not alias.
func (f *Filter) Apply(dst, src []float64, width, height int) {
	n := width * height
	if cap(f.tmp) < n {
		f.tmp = make([]float64, n)
	}
	tmp := f.tmp[:n]

	for y := 0; y < height; y++ {
		row := y * width
		for x := 0; x < width; x++ {
			var acc float64
			for k, kv := range f.kernel {
				xx := x + k - f.radius
				if xx < 0 || xx >= width {
					continue
				}
				acc += kv * src[row+xx]
			}
			tmp[row+x] = acc
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var acc float64
			for k, kv := range f.kernel {
				yy := y + k - f.radius
				if yy < 0 || yy >= height {
					continue
				}
				acc += kv * tmp[yy*width+x]
			}
			dst[y*width+x] = acc
		}
	}
}
