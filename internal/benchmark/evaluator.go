package benchmark

import (
	"sync/atomic"

	"github.com/copyleftdev/eskit/internal/linalg"
	"github.com/copyleftdev/eskit/internal/optimization"
	"github.com/copyleftdev/eskit/internal/random"
)

// Evaluator presents a Function in N dimensions, optionally composed with a
// random rotation so that separable functions lose their separability.
// Evaluate is not safe for concurrent use; Evaluations is.
type Evaluator struct {
	fn      Function
	n       int
	rotate  bool
	rot     *linalg.Matrix
	buf     []float64
	initial []float64
	sigma   float64
	evals   atomic.Int64
}

// NewEvaluator returns an evaluator for fn in n dimensions. Setup must be
// called before the first evaluation.
func NewEvaluator(fn Function, n int, rotate bool) (*Evaluator, error) {
	if n < 1 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidDimension, "got %d", n).
			WithOperation("benchmark.NewEvaluator").WithComponent("benchmark")
	}
	return &Evaluator{
		fn:      fn,
		n:       n,
		rotate:  rotate,
		rot:     linalg.NewIdentity(n),
		buf:     make([]float64, n),
		initial: make([]float64, n),
	}, nil
}

// Setup draws the initial mean uniformly in the function's box and, when
// rotating, a random rotation, all from a stream seeded with seed. The
// initial step size is half the box width.
func (e *Evaluator) Setup(seed uint64) {
	s := random.New(seed)
	s.FillUniform(e.initial, e.fn.MinBound, e.fn.MaxBound)
	e.sigma = 0.5 * (e.fn.MaxBound - e.fn.MinBound)
	if e.rotate {
		e.rot.SetRandomRotation(s)
	}
	e.evals.Store(0)
}

// Evaluate returns f(R·x), or f(x) without rotation.
func (e *Evaluator) Evaluate(x []float64) float64 {
	e.evals.Add(1)
	if !e.rotate {
		return e.fn.Eval(x)
	}
	e.rot.MulVec(e.buf, x)
	return e.fn.Eval(e.buf)
}

func (e *Evaluator) Function() Function { return e.fn }

func (e *Evaluator) N() int { return e.n }

func (e *Evaluator) Rotated() bool { return e.rotate }

// Rotation returns the rotation matrix, the identity when not rotating.
func (e *Evaluator) Rotation() *linalg.Matrix { return e.rot }

// InitialMean returns the mean drawn by Setup. It must not be modified.
func (e *Evaluator) InitialMean() []float64 { return e.initial }

// SigmaInit returns the initial step size chosen by Setup.
func (e *Evaluator) SigmaInit() float64 { return e.sigma }

// Evaluations returns the number of evaluations since Setup.
func (e *Evaluator) Evaluations() int64 { return e.evals.Load() }
