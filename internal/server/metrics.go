package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/eskit/internal/linalg"
)

const namespace = "eskit"

// Metrics holds the job service collectors.
type Metrics struct {
	Jobs        *prometheus.CounterVec
	ActiveJobs  prometheus.Gauge
	Evaluations prometheus.Counter
	Generations prometheus.Counter
	StopReasons *prometheus.CounterVec
	JobDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them, together with a
// counter of eigen decompositions performed by the process, with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Optimization jobs by final status.",
		}, []string{"status"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Optimization jobs currently holding a worker.",
		}),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Fitness evaluations performed by finished jobs.",
		}),
		Generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generations performed across all jobs.",
		}),
		StopReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_stop_reasons_total",
			Help:      "Finished runs by the reason they stopped.",
		}, []string{"reason"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	reg.MustRegister(
		m.Jobs,
		m.ActiveJobs,
		m.Evaluations,
		m.Generations,
		m.StopReasons,
		m.JobDuration,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eigen_decompositions_total",
			Help:      "Symmetric eigen decompositions performed by the process.",
		}, func() float64 { return float64(linalg.Decompositions()) }),
	)
	return m
}
