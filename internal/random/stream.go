// Package random provides the seedable deviate stream shared by the
// evolution strategies, the benchmark evaluator and the runner.
package random

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSeed is the seed an optimizer uses until the caller reseeds it.
const DefaultSeed = 42

// pcgIncrement is xored into the seed to derive the second PCG word.
const pcgIncrement = 0xda3e39cb94b95bdb

// Stream is a reproducible source of uniform and Gaussian deviates.
// Two streams created with the same seed produce the same sequence.
// A Stream is not safe for concurrent use.
type Stream struct {
	src *rand.PCG
	rng *rand.Rand
}

// New returns a stream seeded with seed.
func New(seed uint64) *Stream {
	src := rand.NewPCG(seed, seed^pcgIncrement)
	return &Stream{src: src, rng: rand.New(src)}
}

// Seed resets the stream to the start of the sequence for seed.
func (s *Stream) Seed(seed uint64) {
	s.src.Seed(seed, seed^pcgIncrement)
}

// Uint32 returns uniformly distributed random bits.
func (s *Stream) Uint32() uint32 {
	return s.rng.Uint32()
}

// Float64 returns a uniform deviate in [0, 1).
func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

// Uniform returns a uniform deviate in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 {
	return distuv.Uniform{Min: lo, Max: hi, Src: s.src}.Rand()
}

// Gaussian returns a normal deviate with zero mean and the given standard deviation.
func (s *Stream) Gaussian(sigma float64) float64 {
	return s.rng.NormFloat64() * sigma
}

// FillUniform overwrites dst with uniform deviates in [lo, hi).
func (s *Stream) FillUniform(dst []float64, lo, hi float64) {
	u := distuv.Uniform{Min: lo, Max: hi, Src: s.src}
	for i := range dst {
		dst[i] = u.Rand()
	}
}

// FillGaussian overwrites dst with normal deviates of standard deviation sigma.
func (s *Stream) FillGaussian(dst []float64, sigma float64) {
	for i := range dst {
		dst[i] = s.rng.NormFloat64() * sigma
	}
}
