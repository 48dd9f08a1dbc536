package optimization

import "fmt"

// StopReason tells the caller whether, and why, a run should end.
type StopReason int

const (
	// StopNone means the run may continue.
	StopNone StopReason = iota
	// StopDistributionNotSet means no adaptation strategy was attached.
	StopDistributionNotSet
	// StopLowSigma means the step size fell to its floor.
	StopLowSigma
	// StopNoEffectAxis means a step along any principal axis no longer
	// changes the mean in floating point.
	StopNoEffectAxis
	// StopNoEffectCoord means a step along some coordinate no longer changes
	// the mean in floating point.
	StopNoEffectCoord
	// StopConditionCov means the covariance became too ill-conditioned.
	StopConditionCov
	// StopEigenSolverFailure means the last eigen decomposition failed.
	// It is the only fatal reason: the run must be discarded.
	StopEigenSolverFailure
	// StopBestFitnessStall means the best fitness has not improved for
	// longer than the stall limit.
	StopBestFitnessStall
)

var stopReasonNames = [...]string{
	StopNone:               "None",
	StopDistributionNotSet: "DistributionNotSet",
	StopLowSigma:           "LowSigma",
	StopNoEffectAxis:       "NoEffectAxis",
	StopNoEffectCoord:      "NoEffectCoord",
	StopConditionCov:       "ConditionCov",
	StopEigenSolverFailure: "EigenSolverFailure",
	StopBestFitnessStall:   "BestFitnessStall",
}

// String returns the reason's name, or "Undefined" when r is out of range.
func (r StopReason) String() string {
	if r < 0 || int(r) >= len(stopReasonNames) {
		return "Undefined"
	}
	return stopReasonNames[r]
}

// Stopped reports whether r is anything other than StopNone.
func (r StopReason) Stopped() bool {
	return r != StopNone
}

// Fatal reports whether the run's state is untrustworthy.
func (r StopReason) Fatal() bool {
	return r == StopEigenSolverFailure
}

// MarshalText implements encoding.TextMarshaler.
func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *StopReason) UnmarshalText(text []byte) error {
	parsed, err := ParseStopReason(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseStopReason returns the reason named name.
func ParseStopReason(name string) (StopReason, error) {
	for i, n := range stopReasonNames {
		if n == name {
			return StopReason(i), nil
		}
	}
	return StopNone, fmt.Errorf("unknown stop reason %q", name)
}
