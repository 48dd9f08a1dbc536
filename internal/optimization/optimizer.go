// Package optimization implements the generation loop of an evolution
// strategy: population storage, ranking, weighted recombination, best point
// tracking and stop checks. The search distribution itself is delegated to a
// pluggable Distribution (see the cma, sepcma and csa packages).
//
// A run is driven by the caller:
//
//	o.Start()
//	for o.Stop() == optimization.StopNone {
//		o.SampleCloud()
//		o.Evaluate(fitness)
//		o.Update()
//	}
package optimization

import (
	"math"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/eskit/internal/linalg"
	"github.com/copyleftdev/eskit/internal/random"
)

// Point is one member of the population. X and Z are views into the
// optimizer's population matrices and are overwritten by the next sampling.
type Point struct {
	// X is the decision vector handed to the fitness function.
	X []float64
	// Z is the standard normal sample X was generated from.
	Z []float64
	// Fitness is the value assigned by the last evaluation. Lower is better.
	Fitness float64
}

// Optimizer drives one evolution strategy run over an N-dimensional problem.
// It is not safe for concurrent use.
type Optimizer struct {
	n          int
	mu, lambda int

	generation int
	stall      int
	stallLimit int

	// Population storage. x and z hold capacity columns; the cloud views
	// expose the first lambda of them.
	capacity       int
	x, z           *linalg.Matrix
	cloudX, cloudZ *linalg.Matrix
	points         []Point
	ranked         []*Point

	weightGen    WeightGenerator
	weights      []float64
	weightsDirty bool

	xMean, zMean []float64
	best         Point

	rng    *random.Stream
	dist   Distribution
	logger *zap.Logger
}

// New returns an optimizer for n-dimensional problems with the default
// population (lambda = 4 + 3·ln n, mu = lambda/2), log weights, a zero mean,
// the null distribution and a stream seeded with random.DefaultSeed.
func New(n int) (*Optimizer, error) {
	const op = "Optimizer.New"

	if n < 1 {
		return nil, WrapErrorf(ErrInvalidDimension, "got %d", n).WithOperation(op)
	}

	o := &Optimizer{
		n:         n,
		weightGen: LogWeights,
		xMean:     make([]float64, n),
		zMean:     make([]float64, n),
		best:      Point{X: make([]float64, n), Fitness: math.Inf(1)},
		rng:       random.New(random.DefaultSeed),
		dist:      NullDistribution{},
		logger:    zap.NewNop(),
	}

	lambda := int(4 + 3*math.Log(float64(n)))
	o.SetMuLambda(lambda/2, lambda)
	o.grow(lambda)

	return o, nil
}

// SetMuLambda sets the number of selected points and the population size.
// mu <= lambda is the caller's responsibility. It takes effect at the next Start.
func (o *Optimizer) SetMuLambda(mu, lambda int) {
	o.mu, o.lambda = mu, lambda
	o.weightsDirty = true
	o.stallLimit = 10 + (30*o.n)/lambda
}

// SetMeanWeightGenerator selects the recombination weights. nil restores
// LogWeights. It takes effect at the next Start.
func (o *Optimizer) SetMeanWeightGenerator(g WeightGenerator) {
	if g == nil {
		g = LogWeights
	}
	o.weightGen = g
	o.weightsDirty = true
}

// SetDistribution attaches the adaptation strategy. nil attaches the null
// distribution.
func (o *Optimizer) SetDistribution(d Distribution) {
	if d == nil {
		d = NullDistribution{}
	}
	o.dist = d
}

// SetLogger sets the logger. nil disables logging.
func (o *Optimizer) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	o.logger = l
}

// Seed restarts the random stream from seed.
func (o *Optimizer) Seed(seed uint64) {
	o.rng.Seed(seed)
}

// Start prepares a new run: storage grows to lambda if needed, weights are
// regenerated when mu, lambda or the generator changed, and the distribution
// is started. The generation and stall counters are reset. The mean is kept.
func (o *Optimizer) Start() {
	o.grow(o.lambda)
	for i := range o.points {
		o.ranked[i] = &o.points[i]
	}

	if o.weightsDirty {
		o.weights = slices.Grow(o.weights[:0], o.mu)[:o.mu]
		o.weightGen.Generate(o.weights)
		floats.Scale(1/floats.Sum(o.weights), o.weights)
		o.weightsDirty = false
	}

	o.dist.Start(o)

	o.generation = 0
	o.stall = 0
	o.best.Fitness = math.Inf(1)

	o.logger.Debug("run started",
		zap.Int("n", o.n),
		zap.Int("mu", o.mu),
		zap.Int("lambda", o.lambda),
		zap.String("weights", o.weightGen.Name()),
		zap.String("distribution", o.dist.Name()),
	)
}

// grow reallocates the population so it holds at least lambda points and
// points the sampling views at its first lambda columns. Storage never shrinks.
func (o *Optimizer) grow(lambda int) {
	if lambda > o.capacity {
		o.capacity = lambda
		o.x = linalg.NewMatrix(o.n, lambda)
		o.z = linalg.NewMatrix(o.n, lambda)
		o.points = make([]Point, lambda)
		o.ranked = make([]*Point, lambda)
		for i := range o.points {
			o.points[i] = Point{X: o.x.Col(i), Z: o.z.Col(i), Fitness: math.Inf(1)}
			o.ranked[i] = &o.points[i]
		}
	}
	o.cloudX = o.x.Prefix(lambda)
	o.cloudZ = o.z.Prefix(lambda)
}

// SampleCloud draws a whole new population.
func (o *Optimizer) SampleCloud() {
	o.dist.SampleCloud(o, o.cloudX, o.cloudZ)
}

// SamplePoint redraws the i-th point in ranked order, typically to replace a
// point the caller found infeasible.
func (o *Optimizer) SamplePoint(i int) {
	p := o.ranked[i]
	o.dist.SamplePoint(o, i, p.X, p.Z)
}

// Evaluate assigns fn(x) to every point of the population.
func (o *Optimizer) Evaluate(fn func(x []float64) float64) {
	for i := range o.lambda {
		p := &o.points[i]
		p.Fitness = fn(p.X)
	}
}

// Update ranks the population, tracks the best point, recombines the mu best
// into the new mean and lets the distribution adapt.
func (o *Optimizer) Update() {
	ranked := o.ranked[:o.lambda]
	slices.SortFunc(ranked, byFitness)

	if o.generation == 0 || ranked[0].Fitness < o.best.Fitness {
		copy(o.best.X, ranked[0].X)
		o.best.Fitness = ranked[0].Fitness
		o.stall = 0
	} else {
		o.stall++
	}

	clear(o.xMean)
	clear(o.zMean)
	for i, w := range o.weights {
		floats.AddScaled(o.xMean, w, ranked[i].X)
		floats.AddScaled(o.zMean, w, ranked[i].Z)
	}

	o.dist.Update(o)
	o.generation++
}

// Stop reports StopBestFitnessStall once the best fitness has stalled for
// more than StallLimit generations, otherwise the distribution's verdict.
func (o *Optimizer) Stop() StopReason {
	if o.stall > o.stallLimit {
		return StopBestFitnessStall
	}
	return o.dist.Stop(o)
}

// byFitness orders ascending with NaN ranked last.
func byFitness(a, b *Point) int {
	switch {
	case a.Fitness < b.Fitness:
		return -1
	case a.Fitness > b.Fitness:
		return 1
	}
	an, bn := math.IsNaN(a.Fitness), math.IsNaN(b.Fitness)
	switch {
	case an && !bn:
		return 1
	case bn && !an:
		return -1
	}
	return 0
}

// N returns the problem dimension.
func (o *Optimizer) N() int { return o.n }

// Mu returns the number of selected points.
func (o *Optimizer) Mu() int { return o.mu }

// Lambda returns the population size.
func (o *Optimizer) Lambda() int { return o.lambda }

// StallLimit returns the number of non-improving generations tolerated.
func (o *Optimizer) StallLimit() int { return o.stallLimit }

// Generation returns the number of updates since Start.
func (o *Optimizer) Generation() int { return o.generation }

// Weights returns the normalized recombination weights, valid after Start.
func (o *Optimizer) Weights() []float64 { return o.weights }

// XMean returns the distribution mean. Callers seed the initial mean by
// writing into it before Start.
func (o *Optimizer) XMean() []float64 { return o.xMean }

// ZMean returns the weighted mean of the selected standard normal samples.
func (o *Optimizer) ZMean() []float64 { return o.zMean }

// Point returns the i-th point in ranked order. After Update the order is
// ascending fitness.
func (o *Optimizer) Point(i int) *Point { return o.ranked[i] }

// Best returns the best point seen since Start. Z is nil and X is owned by
// the optimizer.
func (o *Optimizer) Best() Point { return o.best }

// Random returns the stream distributions draw from.
func (o *Optimizer) Random() *random.Stream { return o.rng }

// Distribution returns the attached strategy.
func (o *Optimizer) Distribution() Distribution { return o.dist }
