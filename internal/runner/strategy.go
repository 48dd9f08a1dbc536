package runner

import (
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/eskit/internal/optimization"
	"github.com/copyleftdev/eskit/internal/optimization/cma"
	"github.com/copyleftdev/eskit/internal/optimization/csa"
	"github.com/copyleftdev/eskit/internal/optimization/sepcma"
)

// Strategy is a Distribution with a tunable step size.
type Strategy interface {
	optimization.Distribution
	Sigma() float64
	SetSigma(init, stop float64)
}

var (
	_ Strategy = (*cma.CMA)(nil)
	_ Strategy = (*sepcma.SepCMA)(nil)
	_ Strategy = (*csa.CSA)(nil)
)

// Strategies lists the names accepted by NewStrategy.
var Strategies = []string{"CMA", "SepCMA", "CSA"}

// NewStrategy builds the named strategy for n dimensions. Names are matched
// without regard to case.
func NewStrategy(kind string, n int, sigmaInit, sigmaStop float64) (Strategy, error) {
	var (
		s   Strategy
		err error
	)

	switch strings.ToLower(kind) {
	case "cma":
		s, err = cma.New(n)
	case "sepcma":
		s, err = sepcma.New(n)
	case "csa":
		s, err = csa.New(n)
	default:
		return nil, optimization.WrapErrorf(optimization.ErrUnknownStrategy, "%q", kind).
			WithOperation("runner.NewStrategy").WithComponent("runner")
	}
	if err != nil {
		return nil, err
	}

	s.SetSigma(sigmaInit, sigmaStop)
	return s, nil
}

// withLogger hands l to strategies that log.
func withLogger(s Strategy, l *zap.Logger) {
	if ls, ok := s.(interface{ SetLogger(*zap.Logger) }); ok {
		ls.SetLogger(l.Named(strings.ToLower(s.Name())))
	}
}
