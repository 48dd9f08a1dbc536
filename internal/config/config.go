package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/eskit/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
		MaxJobs     int `env:"OPT_MAX_JOBS" envDefault:"1000"`
	}
	Run RunConfig
}

// RunConfig describes a benchmark optimization: which function, which
// strategy, and when to stop. Zero Mu and Lambda select the default
// population; a zero Seed is replaced by a time-based one.
type RunConfig struct {
	Function          string  `env:"ESKIT_FUNCTION" envDefault:"sphere" json:"function"`
	Dimension         int     `env:"ESKIT_DIMENSION" envDefault:"10" json:"dimension"`
	MaxEvaluations    int     `env:"ESKIT_EVALUATIONS" envDefault:"100000" json:"max_evaluations"`
	Runs              int     `env:"ESKIT_RUNS" envDefault:"1" json:"runs"`
	Seed              uint64  `env:"ESKIT_SEED" envDefault:"0" json:"seed"`
	Strategy          string  `env:"ESKIT_STRATEGY" envDefault:"CMA" json:"strategy"`
	Mu                int     `env:"ESKIT_MU" envDefault:"0" json:"mu"`
	Lambda            int     `env:"ESKIT_LAMBDA" envDefault:"0" json:"lambda"`
	Weights           string  `env:"ESKIT_WEIGHTS" envDefault:"log" json:"weights"`
	Rotate            bool    `env:"ESKIT_ROTATE" envDefault:"false" json:"rotate"`
	Target            float64 `env:"ESKIT_TARGET" envDefault:"1e-9" json:"target"`
	WarmupGenerations int     `env:"ESKIT_WARMUP_GENERATIONS" envDefault:"0" json:"warmup_generations"`
	Trace             bool    `env:"ESKIT_TRACE" envDefault:"false" json:"-"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development runs are verbose unless told otherwise.
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// DefaultRunConfig returns the run defaults without reading the environment.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Function:       "sphere",
		Dimension:      10,
		MaxEvaluations: 100000,
		Runs:           1,
		Strategy:       "CMA",
		Weights:        "log",
		Target:         1e-9,
	}
}

// Validate checks the population settings the same way the command line
// harness does: mu and lambda are given together or not at all, and mu never
// exceeds lambda.
func (c *RunConfig) Validate() error {
	const op = "RunConfig.Validate"

	invalid := func(sentinel error, format string, args ...interface{}) error {
		return optimization.WrapErrorf(sentinel, format, args...).
			WithOperation(op).WithComponent("config")
	}

	switch {
	case c.Dimension < 1:
		return invalid(optimization.ErrInvalidDimension, "dimension %d", c.Dimension)
	case c.MaxEvaluations < 1:
		return invalid(optimization.ErrInvalidPopulation, "evaluation budget %d", c.MaxEvaluations)
	case c.Runs < 1:
		return invalid(optimization.ErrInvalidPopulation, "run count %d", c.Runs)
	case c.Mu < 0 || c.Lambda < 0:
		return invalid(optimization.ErrInvalidPopulation, "negative mu %d or lambda %d", c.Mu, c.Lambda)
	case c.Mu > 0 && c.Lambda == 0:
		return invalid(optimization.ErrInvalidPopulation, "mu set without lambda")
	case c.Mu == 0 && c.Lambda > 0:
		return invalid(optimization.ErrInvalidPopulation, "lambda set without mu")
	case c.Mu > c.Lambda:
		return invalid(optimization.ErrInvalidPopulation, "lambda %d below mu %d", c.Lambda, c.Mu)
	case c.WarmupGenerations < 0:
		return invalid(optimization.ErrInvalidPopulation, "warm-up generations %d", c.WarmupGenerations)
	}
	return nil
}

// HasPopulation reports whether mu and lambda override the defaults.
func (c *RunConfig) HasPopulation() bool {
	return c.Mu > 0 && c.Lambda > 0
}
