package runner

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/eskit/internal/optimization"
)

// Solution represents a point in the search space and its fitness.
type Solution struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
}

// Generation is one line of a run's trace.
type Generation struct {
	Run         int     `json:"run"`
	Generation  int     `json:"generation"`
	Evaluations int     `json:"evaluations"`
	BestFitness float64 `json:"best_fitness"`
	Sigma       float64 `json:"sigma"`
	Strategy    string  `json:"strategy"`
}

// RunStart describes a run as it begins.
type RunStart struct {
	Run           int    `json:"run"`
	Runs          int    `json:"runs"`
	Function      string `json:"function"`
	Dimension     int    `json:"dimension"`
	Rotated       bool   `json:"rotated"`
	EvaluatorSeed uint64 `json:"evaluator_seed"`
	Seed          uint64 `json:"seed"`
	Mu            int    `json:"mu"`
	Lambda        int    `json:"lambda"`
	Strategy      string `json:"strategy"`
}

// RunResult contains the outcome of one run.
type RunResult struct {
	Run         int                     `json:"run"`
	Seed        uint64                  `json:"seed"`
	Best        *Solution               `json:"best"`
	Evaluations int                     `json:"evaluations"`
	Generations int                     `json:"generations"`
	Stop        optimization.StopReason `json:"stop_reason"`
	Converged   bool                    `json:"converged"`
	Duration    time.Duration           `json:"duration"`
}

// Summary aggregates the runs of a Result.
type Summary struct {
	MeanBest        float64 `json:"mean_best"`
	StdDevBest      float64 `json:"stddev_best"`
	MeanEvaluations float64 `json:"mean_evaluations"`
	StdDevEvals     float64 `json:"stddev_evaluations"`
	Converged       int     `json:"converged"`
	BestRun         int     `json:"best_run"`
}

// Result contains the outcome of every run of an optimization.
type Result struct {
	Function      string      `json:"function"`
	Dimension     int         `json:"dimension"`
	Strategy      string      `json:"strategy"`
	Mu            int         `json:"mu"`
	Lambda        int         `json:"lambda"`
	Rotated       bool        `json:"rotated"`
	Seed          uint64      `json:"seed"`
	EvaluatorSeed uint64      `json:"evaluator_seed"`
	Runs          []RunResult `json:"runs"`
	Summary       Summary     `json:"summary"`
}

func summarize(runs []RunResult) Summary {
	if len(runs) == 0 {
		return Summary{BestRun: -1}
	}

	best := make([]float64, len(runs))
	evals := make([]float64, len(runs))
	s := Summary{}
	for i, r := range runs {
		best[i] = r.Best.Value
		evals[i] = float64(r.Evaluations)
		if r.Converged {
			s.Converged++
		}
		if r.Best.Value < runs[s.BestRun].Best.Value {
			s.BestRun = i
		}
	}

	s.MeanBest, s.StdDevBest = stat.MeanStdDev(best, nil)
	s.MeanEvaluations, s.StdDevEvals = stat.MeanStdDev(evals, nil)
	if len(runs) == 1 {
		// The unbiased estimate is undefined for a single sample.
		s.StdDevBest, s.StdDevEvals = 0, 0
	}
	return s
}
