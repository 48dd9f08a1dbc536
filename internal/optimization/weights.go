package optimization

import (
	"math"
	"strings"
)

// WeightGenerator fills the recombination weights of the mu best points.
// Generate receives a slice of length mu and may leave it unnormalized; the
// Optimizer scales the result to sum 1.
type WeightGenerator interface {
	Name() string
	Generate(weights []float64)
}

// Built-in weight generators.
var (
	// LogWeights is the default: w_i = ln(mu+0.5) - ln(i+1).
	LogWeights WeightGenerator = logWeights{}
	// EqualWeights gives every selected point the same weight.
	EqualWeights WeightGenerator = equalWeights{}
	// LinearWeights decreases linearly: w_i = mu - i.
	LinearWeights WeightGenerator = linearWeights{}
)

// WeightGeneratorByName looks up "log", "equal" or "linear", ignoring case.
func WeightGeneratorByName(name string) (WeightGenerator, error) {
	for _, g := range []WeightGenerator{LogWeights, EqualWeights, LinearWeights} {
		if strings.EqualFold(g.Name(), name) {
			return g, nil
		}
	}
	return nil, WrapErrorf(ErrUnknownWeights, "%q", name).WithOperation("WeightGeneratorByName")
}

type logWeights struct{}

func (logWeights) Name() string { return "log" }

func (logWeights) Generate(w []float64) {
	top := math.Log(float64(len(w)) + 0.5)
	for i := range w {
		w[i] = top - math.Log(float64(i+1))
	}
}

type equalWeights struct{}

func (equalWeights) Name() string { return "equal" }

func (equalWeights) Generate(w []float64) {
	for i := range w {
		w[i] = 1
	}
}

type linearWeights struct{}

func (linearWeights) Name() string { return "linear" }

func (linearWeights) Generate(w []float64) {
	for i := range w {
		w[i] = float64(len(w) - i)
	}
}
