// Package runner drives complete benchmark optimizations: it builds the
// evaluator and the strategy from a RunConfig, performs the requested number
// of independent runs and reports per-run results with summary statistics.
package runner

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/eskit/internal/benchmark"
	"github.com/copyleftdev/eskit/internal/config"
	"github.com/copyleftdev/eskit/internal/linalg"
	"github.com/copyleftdev/eskit/internal/optimization"
	"github.com/copyleftdev/eskit/internal/optimization/cma"
	"github.com/copyleftdev/eskit/internal/optimization/sepcma"
	"github.com/copyleftdev/eskit/internal/random"
)

// DefaultSigmaStop is the step size below which every strategy gives up.
const DefaultSigmaStop = 1e-11

// MaxResamples bounds how often one point is redrawn while infeasible.
const MaxResamples = 100

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Components log under named children of it.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a callback invoked after every generation.
func WithObserver(fn func(Generation)) Option {
	return func(r *Runner) { r.observer = fn }
}

// WithRunStart registers a callback invoked before the first generation of
// every run.
func WithRunStart(fn func(RunStart)) Option {
	return func(r *Runner) { r.runStart = fn }
}

// WithFeasible makes the runner redraw points for which fn is false before
// evaluating them, up to MaxResamples times per point.
func WithFeasible(fn func(x []float64) bool) Option {
	return func(r *Runner) { r.feasible = fn }
}

// Runner performs the runs described by a RunConfig. Optimize must be called
// once; GetBestSolution, GetHistory, Evaluations and Stop may be called
// concurrently with it.
type Runner struct {
	cfg      config.RunConfig
	fn       benchmark.Function
	weights  optimization.WeightGenerator
	logger   *zap.Logger
	observer func(Generation)
	runStart func(RunStart)
	feasible func([]float64) bool

	mu      sync.Mutex
	best    *Solution
	history []Generation
	cancel  context.CancelFunc
	stopped bool

	evaluations atomic.Int64
}

// New validates cfg and resolves the function, strategy and weight names.
func New(cfg config.RunConfig, opts ...Option) (*Runner, error) {
	const op = "runner.New"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fn, err := benchmark.ByName(cfg.Function)
	if err != nil {
		return nil, err
	}
	weights, err := optimization.WeightGeneratorByName(cfg.Weights)
	if err != nil {
		return nil, err
	}
	if !knownStrategy(cfg.Strategy) {
		return nil, optimization.WrapErrorf(optimization.ErrUnknownStrategy, "%q", cfg.Strategy).
			WithOperation(op).WithComponent("runner")
	}

	r := &Runner{
		cfg:     cfg,
		fn:      fn,
		weights: weights,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func knownStrategy(name string) bool {
	for _, s := range Strategies {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// Optimize performs every run. It returns the context's error, and no
// result, when ctx is cancelled or Stop is called before the last run ends.
func (r *Runner) Optimize(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	if r.stopped {
		r.cancel()
	}
	r.mu.Unlock()
	defer r.cancel()

	cfg := r.cfg
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	master := random.New(seed)
	evalSeed := uint64(master.Uint32())

	ev, err := benchmark.NewEvaluator(r.fn, cfg.Dimension, cfg.Rotate)
	if err != nil {
		return nil, err
	}
	ev.Setup(evalSeed)

	o, err := optimization.New(cfg.Dimension)
	if err != nil {
		return nil, err
	}
	if cfg.HasPopulation() {
		o.SetMuLambda(cfg.Mu, cfg.Lambda)
	}
	o.SetMeanWeightGenerator(r.weights)
	o.SetLogger(r.logger.Named("optimizer"))

	strategy, err := NewStrategy(cfg.Strategy, cfg.Dimension, ev.SigmaInit(), DefaultSigmaStop)
	if err != nil {
		return nil, err
	}
	withLogger(strategy, r.logger)

	var warmup *sepcma.SepCMA
	full, isCMA := strategy.(*cma.CMA)
	if cfg.WarmupGenerations > 0 && isCMA {
		warmup, _ = sepcma.New(cfg.Dimension)
		warmup.SetSigma(ev.SigmaInit(), DefaultSigmaStop)
		withLogger(warmup, r.logger)
	}

	result := &Result{
		Function:      r.fn.Name,
		Dimension:     cfg.Dimension,
		Strategy:      strategy.Name(),
		Mu:            o.Mu(),
		Lambda:        o.Lambda(),
		Rotated:       cfg.Rotate,
		Seed:          seed,
		EvaluatorSeed: evalSeed,
		Runs:          make([]RunResult, 0, cfg.Runs),
	}

	r.logger.Info("optimization started",
		zap.String("function", r.fn.Name),
		zap.Int("dimension", cfg.Dimension),
		zap.String("strategy", strategy.Name()),
		zap.Int("mu", o.Mu()),
		zap.Int("lambda", o.Lambda()),
		zap.Bool("rotated", cfg.Rotate),
		zap.Uint64("seed", seed),
		zap.Int("runs", cfg.Runs),
	)

	for k := 0; k < cfg.Runs; k++ {
		runSeed := uint64(master.Uint32())
		copy(o.XMean(), ev.InitialMean())
		o.Seed(runSeed)

		if r.runStart != nil {
			first := strategy
			if warmup != nil {
				first = warmup
			}
			r.runStart(RunStart{
				Run:           k,
				Runs:          cfg.Runs,
				Function:      r.fn.Name,
				Dimension:     cfg.Dimension,
				Rotated:       cfg.Rotate,
				EvaluatorSeed: evalSeed,
				Seed:          runSeed,
				Mu:            o.Mu(),
				Lambda:        o.Lambda(),
				Strategy:      first.Name(),
			})
		}

		run := &runState{index: k, started: time.Now()}
		if warmup != nil {
			o.SetDistribution(warmup)
			o.Start()
			if err := r.loop(ctx, o, ev, warmup, run, cfg.WarmupGenerations); err != nil {
				return nil, err
			}
			if !run.done(cfg) {
				if err := handOff(warmup, full); err != nil {
					r.logger.Warn("warm-up variances rejected, starting from identity", zap.Error(err))
				}
				r.logger.Debug("warm-up finished",
					zap.Int("run", k),
					zap.Int("evaluations", run.evaluations),
					zap.Float64("sigma", warmup.Sigma()),
				)
			}
		}
		if !run.done(cfg) {
			o.SetDistribution(strategy)
			o.Start()
			if err := r.loop(ctx, o, ev, strategy, run, 0); err != nil {
				return nil, err
			}
		}
		if warmup != nil {
			full.SetSigma(ev.SigmaInit(), DefaultSigmaStop)
		}

		rr := RunResult{
			Run:         k,
			Seed:        runSeed,
			Best:        run.best,
			Evaluations: run.evaluations,
			Generations: run.generations,
			Stop:        run.stop,
			Converged:   run.best.Value <= cfg.Target,
			Duration:    time.Since(run.started),
		}
		result.Runs = append(result.Runs, rr)

		r.logger.Info("run finished",
			zap.Int("run", k),
			zap.Uint64("seed", runSeed),
			zap.Float64("best_fitness", rr.Best.Value),
			zap.Int("evaluations", rr.Evaluations),
			zap.Int("generations", rr.Generations),
			zap.Stringer("stop_reason", rr.Stop),
			zap.Bool("converged", rr.Converged),
			zap.Duration("duration", rr.Duration),
		)
	}

	result.Summary = summarize(result.Runs)
	return result, nil
}

// runState accumulates one run across the warm-up and main phases.
type runState struct {
	index       int
	started     time.Time
	best        *Solution
	evaluations int
	generations int
	stop        optimization.StopReason
}

// done reports whether the run has spent its budget or reached the target.
func (s *runState) done(cfg config.RunConfig) bool {
	return s.evaluations >= cfg.MaxEvaluations || (s.best != nil && s.best.Value <= cfg.Target)
}

// loop iterates generations until the strategy stops, the run is done, ctx is
// cancelled or, when limit is positive, limit generations have passed.
func (r *Runner) loop(ctx context.Context, o *optimization.Optimizer, ev *benchmark.Evaluator, s Strategy, run *runState, limit int) error {
	cfg := r.cfg
	for gen := 0; ; gen++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		o.SampleCloud()
		if r.feasible == nil {
			o.Evaluate(ev.Evaluate)
		} else {
			r.evaluateFeasible(o, ev)
		}
		o.Update()

		run.evaluations += o.Lambda()
		run.generations++
		r.evaluations.Add(int64(o.Lambda()))
		r.record(o, s, run)

		run.stop = o.Stop()
		if run.stop.Stopped() || run.done(cfg) || (limit > 0 && gen+1 >= limit) {
			return nil
		}
	}
}

func (r *Runner) evaluateFeasible(o *optimization.Optimizer, ev *benchmark.Evaluator) {
	for i := 0; i < o.Lambda(); i++ {
		p := o.Point(i)
		draws := 0
		for !r.feasible(p.X) && draws < MaxResamples {
			o.SamplePoint(i)
			draws++
		}
		if draws == MaxResamples {
			r.logger.Debug("resampling gave up", zap.Int("point", i))
		}
		p.Fitness = ev.Evaluate(p.X)
	}
}

// record tracks the best point across phases and appends to the history.
func (r *Runner) record(o *optimization.Optimizer, s Strategy, run *runState) {
	best := o.Best()
	if run.best == nil || best.Fitness < run.best.Value {
		run.best = &Solution{
			Parameters: append([]float64(nil), best.X...),
			Value:      best.Fitness,
		}
	}

	g := Generation{
		Run:         run.index,
		Generation:  run.generations,
		Evaluations: run.evaluations,
		BestFitness: run.best.Value,
		Sigma:       s.Sigma(),
		Strategy:    s.Name(),
	}

	if r.cfg.Trace {
		r.logger.Debug("generation",
			zap.Int("run", g.Run),
			zap.Int("generation", g.Generation),
			zap.Int("evaluations", g.Evaluations),
			zap.Float64("best_fitness", g.BestFitness),
			zap.Float64("sigma", g.Sigma),
			zap.String("strategy", g.Strategy),
		)
	}

	r.mu.Lock()
	if r.best == nil || run.best.Value < r.best.Value {
		r.best = run.best
	}
	r.history = append(r.history, g)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer(g)
	}
}

// handOff seeds the full covariance strategy with the variances and step
// size learned by the separable one.
func handOff(from *sepcma.SepCMA, to *cma.CMA) error {
	to.SetSigma(from.Sigma(), DefaultSigmaStop)
	return to.SetC(linalg.NewDiagonal(from.Variances()))
}

// GetBestSolution returns the best solution found so far across all runs,
// or nil before the first generation.
func (r *Runner) GetBestSolution() *Solution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.best
}

// GetHistory returns a copy of the generation trace of every run so far.
func (r *Runner) GetHistory() []Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Generation(nil), r.history...)
}

// Evaluations returns the number of fitness evaluations so far.
func (r *Runner) Evaluations() int64 {
	return r.evaluations.Load()
}

// Budget returns the total number of evaluations the runs may spend.
func (r *Runner) Budget() int64 {
	return int64(r.cfg.MaxEvaluations) * int64(r.cfg.Runs)
}

// Stop cancels a running Optimize. Calling it before Optimize makes Optimize
// return immediately.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}
