package weather

import (
	"math/rand/v2"
)

// Jitter is a source of uniformly distributed values in [0,1).
// *rand.Rand satisfies it. A Jitter is used by one request at a time.
type Jitter interface {
	Float64() float64
}

// NewJitter returns a deterministic jitter source for the given seed.
func NewJitter(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// uniform draws from [lo,hi).
func uniform(j Jitter, lo, hi float64) float64 {
	return lo + (hi-lo)*j.Float64()
}

// symmetric draws from [-bound,bound).
func symmetric(j Jitter, bound float64) float64 {
	return uniform(j, -bound, bound)
}
