package optimization

import "github.com/copyleftdev/eskit/internal/linalg"

// Distribution is an adaptation strategy: it owns the search distribution's
// shape and step size, draws candidate points from it and adapts it from the
// ranked population.
//
// Start is called by Optimizer.Start once weights are ready. Update is called
// by Optimizer.Update after ranking and recombination, before the generation
// counter is incremented. SampleCloud fills every column of x and z;
// SamplePoint fills one point. Implementations must not allocate in Update or
// the sampling methods.
type Distribution interface {
	Name() string
	Start(o *Optimizer)
	Update(o *Optimizer)
	SamplePoint(o *Optimizer, index int, x, z []float64)
	SampleCloud(o *Optimizer, x, z *linalg.Matrix)
	Stop(o *Optimizer) StopReason
}

// NullDistribution is attached to an Optimizer that has no strategy. It
// samples the origin and always reports StopDistributionNotSet.
type NullDistribution struct{}

var _ Distribution = NullDistribution{}

func (NullDistribution) Name() string { return "null" }

func (NullDistribution) Start(*Optimizer) {}

func (NullDistribution) Update(*Optimizer) {}

func (NullDistribution) SamplePoint(_ *Optimizer, _ int, x, z []float64) {
	clear(x)
	clear(z)
}

func (NullDistribution) SampleCloud(_ *Optimizer, x, z *linalg.Matrix) {
	x.Fill(0)
	z.Fill(0)
}

func (NullDistribution) Stop(*Optimizer) StopReason {
	return StopDistributionNotSet
}
