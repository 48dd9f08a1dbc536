package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Constants holds the learning rates and normalizers shared by the CMA
// strategies. It depends only on the dimension and the recombination weights.
type Constants struct {
	// ChiN is the expected norm of an N-dimensional standard normal vector.
	ChiN float64
	// MuW is the variance effective selection mass 1/Σw².
	MuW float64
	// CSigma is the step-size cumulation rate.
	CSigma float64
	// DSigma is the step-size damping.
	DSigma float64
	// CC is the covariance path cumulation rate.
	CC float64
	// C1 is the rank-one learning rate.
	C1 float64
	// CMu is the rank-mu learning rate.
	CMu float64
}

// NewConstants derives the constants for dimension n and normalized weights.
func NewConstants(n int, weights []float64) Constants {
	N := float64(n)
	muW := 1 / floats.Dot(weights, weights)
	cSigma := (muW + 2) / (muW + N + 5)

	return Constants{
		ChiN:   math.Sqrt(N) * (1 - 1/(4*N) + 1/(21*N*N)),
		MuW:    muW,
		CSigma: cSigma,
		DSigma: 1 + 2*math.Max(0, math.Sqrt((muW-1)/(N+1))-1) + cSigma,
		CC:     (4 + muW/N) / (N + 4 + 2*muW/N),
		C1:     2 / ((N+1.3)*(N+1.3) + muW),
		CMu:    2 * (muW - 2 + 1/muW) / ((N+2)*(N+2) + muW),
	}
}
