package l5frequency

import (
	"math"
	"time"
)

// maxWeight caps a single contribution so accumulation cannot overflow for
// pathologically small sigmas.
const maxWeight = math.MaxInt32

// Weight scores how well an observed interval matches the target period of
// frequency f (Hz). sigma is the Gaussian width in seconds.
//
//	diff = 1/f - deltaT
//	w    = floor( exp(-(diff/sigma)^2) / (sigma*sqrt(2*pi)) / 2 )
//
// The score peaks at diff == 0, is non-increasing in |diff| and is never
// negative.
func Weight(deltaT time.Duration, f, sigma float64) int {
	diff := 1/f - deltaT.Seconds()
	z := diff / sigma
	v := math.Exp(-z*z) / (sigma * math.Sqrt(2*math.Pi)) / 2
	if !(v > 0) {
		return 0
	}
	if v >= maxWeight {
		return maxWeight
	}
	return int(math.Floor(v))
}

// Period returns the target period of frequency f.
func Period(f float64) time.Duration {
	return time.Duration(float64(time.Second) / f)
}
