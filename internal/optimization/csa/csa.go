// Package csa implements cumulative step-size adaptation for an isotropic
// Gaussian: only sigma is learned.
package csa

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/eskit/internal/linalg"
	"github.com/copyleftdev/eskit/internal/optimization"
)

// Default step sizes.
const (
	DefaultSigmaInit = 1.0
	DefaultSigmaStop = 1e-11
)

// CSA samples x = m + sigma·z.
type CSA struct {
	n int

	c         float64
	dampening float64

	sigmaInit float64
	sigmaStop float64
	sigma     float64
	path      []float64
}

var _ optimization.Distribution = (*CSA)(nil)

// New returns a strategy for n-dimensional problems. The step size starts
// at DefaultSigmaInit.
func New(n int) (*CSA, error) {
	if n < 1 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidDimension, "got %d", n).
			WithOperation("CSA.New").WithComponent("csa")
	}

	rn := math.Sqrt(float64(n))
	return &CSA{
		n:         n,
		c:         1 / rn,
		dampening: 1 / (2 * float64(n) * rn),
		sigmaInit: DefaultSigmaInit,
		sigmaStop: DefaultSigmaStop,
		sigma:     DefaultSigmaInit,
		path:      make([]float64, n),
	}, nil
}

// Name implements optimization.Distribution.
func (s *CSA) Name() string { return "CSA" }

// SetSigma sets the initial step size used by Start and the floor that
// triggers StopLowSigma.
func (s *CSA) SetSigma(init, stop float64) {
	s.sigmaInit, s.sigmaStop = init, stop
}

// Sigma returns the current step size.
func (s *CSA) Sigma() float64 { return s.sigma }

// Path returns the evolution path.
func (s *CSA) Path() []float64 { return s.path }

// Start implements optimization.Distribution. It resets the step size and
// the evolution path.
func (s *CSA) Start(o *optimization.Optimizer) {
	if o.N() != s.n {
		panic(fmt.Sprintf("csa: strategy built for dimension %d attached to dimension %d", s.n, o.N()))
	}
	s.sigma = s.sigmaInit
	clear(s.path)
}

// Update implements optimization.Distribution.
func (s *CSA) Update(o *optimization.Optimizer) {
	mu := float64(o.Mu())

	floats.Scale(1-s.c, s.path)
	floats.AddScaled(s.path, math.Sqrt(mu*s.c*(2-s.c)), o.ZMean())
	length := floats.Norm(s.path, 2)

	s.sigma *= math.Exp(s.dampening * (length - float64(s.n)))
}

// SamplePoint implements optimization.Distribution.
func (s *CSA) SamplePoint(o *optimization.Optimizer, _ int, x, z []float64) {
	o.Random().FillGaussian(z, 1)
	floats.ScaleTo(x, s.sigma, z)
	floats.Add(x, o.XMean())
}

// SampleCloud implements optimization.Distribution.
func (s *CSA) SampleCloud(o *optimization.Optimizer, x, z *linalg.Matrix) {
	z.FillGaussian(o.Random(), 1)
	x.Copy(z)
	x.Scale(s.sigma)
	xMean := o.XMean()
	for j := 0; j < x.Cols(); j++ {
		floats.Add(x.Col(j), xMean)
	}
}

// Stop reports StopLowSigma once the step size falls to the floor.
func (s *CSA) Stop(*optimization.Optimizer) optimization.StopReason {
	if s.sigma <= s.sigmaStop {
		return optimization.StopLowSigma
	}
	return optimization.StopNone
}
