// Package cma implements the full covariance matrix adaptation strategy.
//
// Samples are drawn as x = m + sigma·B·D·z where C = B·D²·Bᵀ is the adapted
// covariance. C is learned from a rank-one update along the cumulated
// evolution path and a rank-mu update from the selected steps. Its eigen
// decomposition is refreshed every EigenPeriod generations.
package cma

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
	// noEffectAxisFactor scales the step along an eigenvector in the
	// NoEffectAxis check.
	noEffectAxisFactor = 0.1
	// noEffectCoordFactor scales the per-coordinate step in the
	// NoEffectCoord check.
	noEffectCoordFactor = 0.1
	// conditionLimit bounds the ratio of the largest to the smallest
	// square-rooted eigenvalue.
	conditionLimit = 1e14
	// epsilon is the smallest detectable change, DBL_EPSILON.
	epsilon = 2.220446049250313e-16
)

// CoordinateCheck selects how the NoEffectCoord criterion is evaluated.
type CoordinateCheck int

const (
	// CoordinateCheckPerturbed compares every mean coordinate against itself
	// shifted by 0.1·sigma·sqrt(C[i][i]).
	CoordinateCheckPerturbed CoordinateCheck = iota
	// CoordinateCheckLegacy compares every mean coordinate against the last
	// value shifted by the NoEffectAxis scan. It exists to replay older
	// trajectories that stopped on that comparison.
	CoordinateCheckLegacy
)

// CMA is the full covariance strategy. It implements optimization.Distribution
// for one dimension and is not safe for concurrent use.
type CMA struct {
	n int

	sigmaInit float64
	sigmaStop float64
	sigma     float64

	consts      optimization.Constants
	eigenPeriod int
	eigenFailed bool
	customCov   bool
	coordCheck  CoordinateCheck

	sigmaPath []float64
	cPath     []float64
	c         *linalg.Matrix
	b         *linalg.Matrix
	bd        *linalg.Matrix
	d         []float64
	tmp       []float64

	solver linalg.EigenSolver
	logger *zap.Logger
}

var _ optimization.Distribution = (*CMA)(nil)

// New returns a strategy for n-dimensional problems using the Householder/QL
// eigen solver.
func New(n int) (*CMA, error) {
	const op = "CMA.New"

	if n < 1 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidDimension, "got %d", n).
			WithOperation(op).WithComponent("cma")
	}

	c := &CMA{
		n:         n,
		sigmaInit: DefaultSigmaInit,
		sigmaStop: DefaultSigmaStop,
		sigma:     DefaultSigmaInit,
		sigmaPath: make([]float64, n),
		cPath:     make([]float64, n),
		c:         linalg.NewIdentity(n),
		b:         linalg.NewIdentity(n),
		bd:        linalg.NewIdentity(n),
		d:         make([]float64, n),
		tmp:       make([]float64, n),
		solver:    linalg.NewQLSolver(n),
		logger:    zap.NewNop(),
	}
	for i := range c.d {
		c.d[i] = 1
	}
	return c, nil
}

// Name implements optimization.Distribution.
func (c *CMA) Name() string { return "CMA" }

// SetSigma sets the initial step size used by Start and the floor that
// triggers StopLowSigma.
func (c *CMA) SetSigma(init, stop float64) {
	c.sigmaInit, c.sigmaStop = init, stop
}

// SetC supplies the covariance the next Start begins with instead of the
// identity. The matrix is copied and consumed by exactly one Start.
func (c *CMA) SetC(m *linalg.Matrix) error {
	const op = "CMA.SetC"

	if r, k := m.Dims(); r != c.n || k != c.n {
		return optimization.WrapErrorf(optimization.ErrInvalidCovariance, "want %dx%d, got %dx%d", c.n, c.n, r, k).
			WithOperation(op).WithComponent("cma")
	}
	if !m.IsSymmetric(1e-12 * math.Max(1, floats.Norm(m.RawData(), math.Inf(1)))) {
		return optimization.WrapError(optimization.ErrInvalidCovariance, "not symmetric").
			WithOperation(op).WithComponent("cma")
	}
	if !linalg.Cholesky(m, linalg.NewMatrix(c.n, c.n)) {
		return optimization.WrapError(optimization.ErrInvalidCovariance, "not positive definite").
			WithOperation(op).WithComponent("cma")
	}

	c.c.Copy(m)
	c.customCov = true
	return nil
}

// SetEigenSolver replaces the eigen solver. nil restores the QL solver.
func (c *CMA) SetEigenSolver(s linalg.EigenSolver) {
	if s == nil {
		s = linalg.NewQLSolver(c.n)
	}
	c.solver = s
}

// SetCoordinateCheck selects the NoEffectCoord evaluation.
func (c *CMA) SetCoordinateCheck(mode CoordinateCheck) {
	c.coordCheck = mode
}

// SetLogger sets the logger. nil disables logging.
func (c *CMA) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	c.logger = l
}

// Sigma returns the current step size.
func (c *CMA) Sigma() float64 { return c.sigma }

// C returns the covariance matrix. It must not be modified.
func (c *CMA) C() *linalg.Matrix { return c.c }

// B returns the eigenvectors of C as of the last eigen update.
func (c *CMA) B() *linalg.Matrix { return c.b }

// D returns the square roots of the eigenvalues of C as of the last eigen
// update.
func (c *CMA) D() []float64 { return c.d }

// EigenPeriod returns the number of generations between eigen updates.
func (c *CMA) EigenPeriod() int { return c.eigenPeriod }

// Constants returns the constants derived by the last Start.
func (c *CMA) Constants() optimization.Constants { return c.consts }

// Start implements optimization.Distribution.
func (c *CMA) Start(o *optimization.Optimizer) {
	c.mustMatch(o)

	c.sigma = c.sigmaInit
	c.consts = optimization.NewConstants(c.n, o.Weights())
	c.eigenFailed = false
	c.eigenPeriod = eigenUpdatePeriod(c.n, c.consts)

	clear(c.sigmaPath)
	clear(c.cPath)

	if c.customCov {
		c.covUpdate()
		c.customCov = false
		return
	}
	c.c.SetIdentity()
	c.b.SetIdentity()
	c.bd.SetIdentity()
	for i := range c.d {
		c.d[i] = 1
	}
}

// eigenUpdatePeriod truncates 1/(10·N·(c1+cMu)) and never returns less than 1.
func eigenUpdatePeriod(n int, k optimization.Constants) int {
	return int(math.Max(1, 1/(10*float64(n)*(k.C1+k.CMu))))
}

// Update implements optimization.Distribution.
func (c *CMA) Update(o *optimization.Optimizer) {
	k := c.consts
	n := float64(c.n)
	zMean := o.ZMean()

	// Step-size path, cumulated in the whitened coordinate system.
	c.b.MulVec(c.tmp, zMean)
	floats.Scale(1-k.CSigma, c.sigmaPath)
	floats.AddScaled(c.sigmaPath, math.Sqrt(k.MuW*k.CSigma*(2-k.CSigma)), c.tmp)
	length := floats.Norm(c.sigmaPath, 2)

	// Covariance path, stalled while the step-size path is unusually long.
	hSigma := 0.0
	norm := math.Sqrt(1 - math.Pow(1-k.CSigma, 2*float64(o.Generation()+1)))
	if length/norm/k.ChiN < 1.4+2/(n+1) {
		hSigma = 1
	}
	c.bd.MulVec(c.tmp, zMean)
	floats.Scale(1-k.CC, c.cPath)
	floats.AddScaled(c.cPath, hSigma*math.Sqrt(k.MuW*k.CC*(2-k.CC)), c.tmp)

	c.sigma *= math.Exp((k.CSigma / k.DSigma) * (length/k.ChiN - 1))

	c.c.Scale(1 - k.C1 - k.CMu + (1-hSigma)*k.C1*k.CC*(2-k.CC))
	c.c.RankOne(k.C1, c.cPath, c.cPath)
	for i, w := range o.Weights() {
		c.bd.MulVec(c.tmp, o.Point(i).Z)
		c.c.RankOne(k.CMu*w, c.tmp, c.tmp)
	}

	if c.eigenPeriod == 1 || o.Generation()%c.eigenPeriod == 0 {
		c.covUpdate()
	}
}

// covUpdate refreshes B, D and BD from C.
func (c *CMA) covUpdate() {
	if !c.solver.Solve(c.c, c.b, c.d) {
		c.eigenFailed = true
		c.logger.Warn("eigen decomposition failed", zap.Float64("sigma", c.sigma))
		return
	}
	for i, v := range c.d {
		c.d[i] = math.Sqrt(v)
	}
	c.bd.ScaleColumns(c.b, c.d)
}

// SamplePoint implements optimization.Distribution.
func (c *CMA) SamplePoint(o *optimization.Optimizer, _ int, x, z []float64) {
	o.Random().FillGaussian(z, 1)
	c.bd.MulVec(x, z)
	floats.Scale(c.sigma, x)
	floats.Add(x, o.XMean())
}

// SampleCloud implements optimization.Distribution.
func (c *CMA) SampleCloud(o *optimization.Optimizer, x, z *linalg.Matrix) {
	z.FillGaussian(o.Random(), 1)
	x.Mul(c.bd, z)
	x.Scale(c.sigma)
	xMean := o.XMean()
	for j := 0; j < x.Cols(); j++ {
		floats.Add(x.Col(j), xMean)
	}
}

// Stop implements optimization.Distribution. Criteria are tested in order:
// eigen failure, step size floor, no effect along an axis, no effect on a
// coordinate, covariance conditioning.
func (c *CMA) Stop(o *optimization.Optimizer) optimization.StopReason {
	if c.eigenFailed {
		return optimization.StopEigenSolverFailure
	}
	if c.sigma <= c.sigmaStop {
		return optimization.StopLowSigma
	}

	xMean := o.XMean()

	// shifted keeps the last shifted coordinate of the axis scan for the
	// legacy coordinate check.
	var shifted float64
	for i := 0; i < c.n; i++ {
		factor := noEffectAxisFactor * c.sigma * c.d[i]
		axis := c.b.Col(i)
		moved := false
		for j, a := range xMean {
			shifted = a + factor*axis[j]
			if math.Abs(a-shifted) > epsilon {
				moved = true
				break
			}
		}
		if !moved {
			return optimization.StopNoEffectAxis
		}
	}

	for i, a := range xMean {
		b := shifted
		if c.coordCheck == CoordinateCheckPerturbed {
			b = a + noEffectCoordFactor*c.sigma*math.Sqrt(c.c.At(i, i))
		}
		if math.Abs(a-b) <= epsilon {
			return optimization.StopNoEffectCoord
		}
	}

	if floats.Max(c.d) >= conditionLimit*floats.Min(c.d) {
		return optimization.StopConditionCov
	}
	return optimization.StopNone
}

func (c *CMA) mustMatch(o *optimization.Optimizer) {
	if o.N() != c.n {
		panic(fmt.Sprintf("cma: strategy built for dimension %d attached to dimension %d", c.n, o.N()))
	}
}
