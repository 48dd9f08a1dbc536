// Package sepcma implements separable CMA: covariance adaptation restricted to
// the diagonal. Sampling and adaptation cost O(N) per point and no eigen
// decomposition is ever needed, at the price of ignoring correlations between
// coordinates.
package sepcma

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/eskit/internal/linalg"
	"github.com/copyleftdev/eskit/internal/optimization"
)

// Default step sizes.
const (
	DefaultSigmaInit = 1.0
	DefaultSigmaStop = 1e-11
)

const (
	noEffectCoordFactor = 0.2
	conditionLimit      = 1e14
	epsilon             = 2.220446049250313e-16
)

// SepCMA is the diagonal covariance strategy.
type SepCMA struct {
	n int

	sigmaInit float64
	sigmaStop float64
	sigma     float64

	consts    optimization.Constants
	customCov bool

	sigmaPath []float64
	cPath     []float64
	c         []float64 // variances, the diagonal of C
	d         []float64 // sqrt(c)
	tmp       []float64

	logger *zap.Logger
}

var _ optimization.Distribution = (*SepCMA)(nil)

// New returns a strategy for n-dimensional problems.
func New(n int) (*SepCMA, error) {
	const op = "SepCMA.New"

	if n < 1 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidDimension, "got %d", n).
			WithOperation(op).WithComponent("sepcma")
	}

	s := &SepCMA{
		n:         n,
		sigmaInit: DefaultSigmaInit,
		sigmaStop: DefaultSigmaStop,
		sigma:     DefaultSigmaInit,
		sigmaPath: make([]float64, n),
		cPath:     make([]float64, n),
		c:         make([]float64, n),
		d:         make([]float64, n),
		tmp:       make([]float64, n),
		logger:    zap.NewNop(),
	}
	s.identity()
	return s, nil
}

// Name implements optimization.Distribution.
func (s *SepCMA) Name() string { return "SepCMA" }

// SetSigma sets the initial step size used by Start and the floor that
// triggers StopLowSigma.
func (s *SepCMA) SetSigma(init, stop float64) {
	s.sigmaInit, s.sigmaStop = init, stop
}

// SetC supplies the covariance the next Start begins with. Only the diagonal
// is used; every entry of it must be positive and finite.
func (s *SepCMA) SetC(m *linalg.Matrix) error {
	const op = "SepCMA.SetC"

	if r, k := m.Dims(); r != s.n || k != s.n {
		return optimization.WrapErrorf(optimization.ErrInvalidCovariance, "want %dx%d, got %dx%d", s.n, s.n, r, k).
			WithOperation(op).WithComponent("sepcma")
	}
	diag := make([]float64, s.n)
	m.Diagonal(diag)
	return s.SetVariances(diag)
}

// SetVariances is SetC for a diagonal given as a vector.
func (s *SepCMA) SetVariances(v []float64) error {
	const op = "SepCMA.SetVariances"

	if len(v) != s.n {
		return optimization.WrapErrorf(optimization.ErrInvalidCovariance, "want %d variances, got %d", s.n, len(v)).
			WithOperation(op).WithComponent("sepcma")
	}
	for i, x := range v {
		if !(x > 0) || math.IsInf(x, 1) {
			return optimization.WrapErrorf(optimization.ErrInvalidCovariance, "variance %d is %g", i, x).
				WithOperation(op).WithComponent("sepcma")
		}
	}

	copy(s.c, v)
	s.customCov = true
	return nil
}

// SetLogger sets the logger. nil disables logging.
func (s *SepCMA) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	s.logger = l
}

// Sigma returns the current step size.
func (s *SepCMA) Sigma() float64 { return s.sigma }

// Variances returns the diagonal of C. It must not be modified.
func (s *SepCMA) Variances() []float64 { return s.c }

// D returns the per-coordinate standard deviations, sqrt of Variances.
func (s *SepCMA) D() []float64 { return s.d }

// Constants returns the rescaled constants derived by the last Start.
func (s *SepCMA) Constants() optimization.Constants { return s.consts }

// Start implements optimization.Distribution. Variances set with
// SetVariances survive one Start; otherwise they reset to one.
func (s *SepCMA) Start(o *optimization.Optimizer) {
	if o.N() != s.n {
		panic(fmt.Sprintf("sepcma: strategy built for dimension %d attached to dimension %d", s.n, o.N()))
	}

	s.sigma = s.sigmaInit
	s.consts = rescale(s.n, optimization.NewConstants(s.n, o.Weights()))

	clear(s.sigmaPath)
	clear(s.cPath)

	if s.customCov {
		s.customCov = false
		s.refresh()
		s.logger.Debug("custom variances applied",
			zap.Float64("min", floats.Min(s.c)),
			zap.Float64("max", floats.Max(s.c)),
		)
		return
	}
	s.identity()
}

// rescale speeds up the covariance learning rates, which is safe when only N
// parameters are learned. cMu uses c1 before it is scaled.
func rescale(n int, k optimization.Constants) optimization.Constants {
	f := (float64(n) + 1.5) / 3
	k.CMu = math.Min(1-k.C1, f*k.CMu)
	k.C1 = math.Min(1, f*k.C1)
	return k
}

func (s *SepCMA) identity() {
	for i := range s.c {
		s.c[i] = 1
		s.d[i] = 1
	}
}

func (s *SepCMA) refresh() {
	for i, v := range s.c {
		s.d[i] = math.Sqrt(v)
	}
}

// Update implements optimization.Distribution.
func (s *SepCMA) Update(o *optimization.Optimizer) {
	k := s.consts
	n := float64(s.n)
	zMean := o.ZMean()

	floats.Scale(1-k.CSigma, s.sigmaPath)
	floats.AddScaled(s.sigmaPath, math.Sqrt(k.MuW*k.CSigma*(2-k.CSigma)), zMean)
	length := floats.Norm(s.sigmaPath, 2)

	hSigma := 0.0
	norm := math.Sqrt(1 - math.Pow(1-k.CSigma, 2*float64(o.Generation()+1)))
	if length/norm/k.ChiN < 1.4+2/(n+1) {
		hSigma = 1
	}
	floats.MulTo(s.tmp, s.d, zMean)
	floats.Scale(1-k.CC, s.cPath)
	floats.AddScaled(s.cPath, hSigma*math.Sqrt(k.MuW*k.CC*(2-k.CC)), s.tmp)

	s.sigma *= math.Exp((k.CSigma / k.DSigma) * (length/k.ChiN - 1))

	floats.Scale(1-k.C1-k.CMu+(1-hSigma)*k.C1*k.CC*(2-k.CC), s.c)
	for i, p := range s.cPath {
		s.c[i] += k.C1 * p * p
	}
	for j, w := range o.Weights() {
		z := o.Point(j).Z
		for i, d := range s.d {
			dz := d * z[i]
			s.c[i] += k.CMu * w * dz * dz
		}
	}

	s.refresh()
}

// SamplePoint implements optimization.Distribution.
func (s *SepCMA) SamplePoint(o *optimization.Optimizer, _ int, x, z []float64) {
	o.Random().FillGaussian(z, 1)
	floats.MulTo(x, s.d, z)
	floats.Scale(s.sigma, x)
	floats.Add(x, o.XMean())
}

// SampleCloud implements optimization.Distribution.
func (s *SepCMA) SampleCloud(o *optimization.Optimizer, x, z *linalg.Matrix) {
	z.FillGaussian(o.Random(), 1)
	x.Copy(z)
	x.ScaleRows(s.d)
	x.Scale(s.sigma)
	xMean := o.XMean()
	for j := 0; j < x.Cols(); j++ {
		floats.Add(x.Col(j), xMean)
	}
}

// Stop tests, in order: step size floor, no effect on a coordinate,
// conditioning of the variances.
func (s *SepCMA) Stop(o *optimization.Optimizer) optimization.StopReason {
	if s.sigma <= s.sigmaStop {
		return optimization.StopLowSigma
	}

	for i, a := range o.XMean() {
		b := a + noEffectCoordFactor*s.sigma*math.Sqrt(s.c[i])
		if math.Abs(a-b) <= epsilon {
			return optimization.StopNoEffectCoord
		}
	}

	if floats.Max(s.d) >= conditionLimit*floats.Min(s.d) {
		return optimization.StopConditionCov
	}
	return optimization.StopNone
}
