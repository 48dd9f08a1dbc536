// Package benchmark provides classical test functions for continuous
// optimizers and an evaluator that can present them under a random rotation.
//
// Definitions follow Kern et al., "Learning Probability Distributions in
// Continuous Evolutionary Algorithms". Every function has its global minimum
// of 0 at the origin, except rosenbrock whose minimum is at (1, ..., 1).
package benchmark

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/eskit/internal/optimization"
)

// Function is a named fitness function together with the box the initial
// mean is drawn from.
type Function struct {
	Name     string
	MinBound float64
	MaxBound float64
	Eval     func(x []float64) float64
}

const (
	ellipsoidFactor  = 100.0
	cigarFactor      = 1e4
	rosenbrockFactor = 100.0
	rastriginA       = 10.0
	ackleyA          = 20.0
	ackleyB          = 0.2
	ackleyC          = 2 * math.Pi
)

var (
	Sphere     = Function{"sphere", -3, 7, sphere}
	Ellipsoid  = Function{"ellipsoid", -3, 7, ellipsoid}
	Cigar      = Function{"cigar", -3, 7, cigar}
	Rosenbrock = Function{"rosenbrock", -5, 5, rosenbrock}
	Rastrigin  = Function{"rastrigin", -3, 7, rastrigin}
	Ackley     = Function{"ackley", -30, 30, ackley}
)

// Default is the function used when none is named.
var Default = Sphere

var registry = map[string]Function{
	Sphere.Name:     Sphere,
	Ellipsoid.Name:  Ellipsoid,
	Cigar.Name:      Cigar,
	Rosenbrock.Name: Rosenbrock,
	Rastrigin.Name:  Rastrigin,
	Ackley.Name:     Ackley,
}

// ByName looks a function up, ignoring case.
func ByName(name string) (Function, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return Function{}, optimization.WrapErrorf(optimization.ErrUnknownFunction, "%q", name).
			WithOperation("benchmark.ByName").WithComponent("benchmark")
	}
	return f, nil
}

// Names returns the registered function names in lexical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered functions in lexical order of their names.
func All() []Function {
	names := Names()
	fns := make([]Function, len(names))
	for i, name := range names {
		fns[i] = registry[name]
	}
	return fns
}

func sphere(x []float64) float64 {
	return floats.Dot(x, x)
}

func ellipsoid(x []float64) float64 {
	if len(x) == 1 {
		return x[0] * x[0]
	}
	step := 1 / float64(len(x)-1)
	sum := 0.0
	for i, v := range x {
		sum += math.Pow(ellipsoidFactor, step*float64(i)) * v * v
	}
	return sum
}

func cigar(x []float64) float64 {
	rest := x[1:]
	return x[0]*x[0] + cigarFactor*floats.Dot(rest, rest)
}

func rosenbrock(x []float64) float64 {
	sum := 0.0
	for i := 0; i+1 < len(x); i++ {
		a := x[i]*x[i] - x[i+1]
		b := x[i] - 1
		sum += rosenbrockFactor*a*a + b*b
	}
	return sum
}

func rastrigin(x []float64) float64 {
	sum := rastriginA * float64(len(x))
	for _, v := range x {
		sum += v*v - rastriginA*math.Cos(2*math.Pi*v)
	}
	return sum
}

func ackley(x []float64) float64 {
	n := float64(len(x))
	var squares, cosines float64
	for _, v := range x {
		squares += v * v
		cosines += math.Cos(ackleyC * v)
	}
	return ackleyA + math.E - ackleyA*math.Exp(-ackleyB*math.Sqrt(squares/n)) - math.Exp(cosines/n)
}
