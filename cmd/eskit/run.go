package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/eskit/internal/config"
	"github.com/copyleftdev/eskit/internal/runner"
)

type runOptions struct {
	cfg      config.RunConfig
	traceDir string
	json     bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{cfg: a.cfg.Run}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize a benchmark function",
		Long: `Runs one or more independent optimizations of a benchmark function and
prints the outcome of every run together with summary statistics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, opts)
		},
	}

	f := runCmd.Flags()
	f.IntVar(&opts.cfg.Dimension, "dim", opts.cfg.Dimension, "Problem dimension")
	f.IntVar(&opts.cfg.MaxEvaluations, "eval", opts.cfg.MaxEvaluations, "Evaluation budget per run")
	f.IntVar(&opts.cfg.Runs, "nbruns", opts.cfg.Runs, "Number of independent runs")
	f.Uint64Var(&opts.cfg.Seed, "seed", opts.cfg.Seed, "Random seed (0 picks one from the clock)")
	f.StringVar(&opts.cfg.Function, "function", opts.cfg.Function, "Benchmark function (see 'eskit functions')")
	f.IntVar(&opts.cfg.Mu, "mu", opts.cfg.Mu, "Number of parents (0 with --lambda 0 uses the default population)")
	f.IntVar(&opts.cfg.Lambda, "lambda", opts.cfg.Lambda, "Number of offspring")
	f.StringVar(&opts.cfg.Strategy, "update", opts.cfg.Strategy, "Update strategy: CMA, SepCMA or CSA")
	f.BoolVar(&opts.cfg.Rotate, "rotate", opts.cfg.Rotate, "Evaluate the function in a randomly rotated frame")
	f.StringVar(&opts.cfg.Weights, "weights", opts.cfg.Weights, "Recombination weights: log, equal or linear")
	f.Float64Var(&opts.cfg.Target, "target", opts.cfg.Target, "Fitness at which a run counts as converged")
	f.IntVar(&opts.cfg.WarmupGenerations, "warmup", opts.cfg.WarmupGenerations, "SepCMA generations before switching to CMA")
	f.BoolVar(&opts.cfg.Trace, "trace", opts.cfg.Trace, "Log every generation at debug level")
	f.StringVar(&opts.traceDir, "trace-dir", "", "Write a convergence trace per run (run.dat, or run-<k>.dat for several runs) into this directory")
	f.BoolVar(&opts.json, "json", false, "Print the result as JSON")

	return runCmd
}

func (a *app) run(cmd *cobra.Command, opts *runOptions) error {
	runnerOpts := []runner.Option{runner.WithLogger(a.logger)}

	var trace *traceWriter
	if opts.traceDir != "" {
		var err error
		if trace, err = newTraceWriter(opts.traceDir); err != nil {
			return err
		}
		runnerOpts = append(runnerOpts,
			runner.WithRunStart(trace.Start),
			runner.WithObserver(trace.Observe),
		)
	}

	r, err := runner.New(opts.cfg, runnerOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := r.Optimize(ctx)
	if trace != nil {
		if cerr := trace.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		if best := r.GetBestSolution(); best != nil {
			a.logger.Warn("optimization interrupted",
				zap.Float64("best_fitness", best.Value),
				zap.Int64("evaluations", r.Evaluations()),
			)
		}
		return fmt.Errorf("optimization failed: %w", err)
	}

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printResult(cmd.OutOrStdout(), res)
}

func printResult(w io.Writer, res *runner.Result) error {
	rotated := ""
	if res.Rotated {
		rotated = " (rotated)"
	}
	fmt.Fprintf(w, "function:  %s%s\n", res.Function, rotated)
	fmt.Fprintf(w, "dimension: %d\n", res.Dimension)
	fmt.Fprintf(w, "strategy:  %s mu=%d lambda=%d\n", res.Strategy, res.Mu, res.Lambda)
	fmt.Fprintf(w, "seed:      %d\n\n", res.Seed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSEED\tEVALUATIONS\tGENERATIONS\tBEST\tSTOP\tCONVERGED")
	for _, run := range res.Runs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.6e\t%s\t%t\n",
			run.Run, run.Seed, run.Evaluations, run.Generations, run.Best.Value, run.Stop, run.Converged)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := res.Summary
	fmt.Fprintf(w, "\nbest fitness: %.6e +/- %.3e\n", s.MeanBest, s.StdDevBest)
	fmt.Fprintf(w, "evaluations:  %.1f +/- %.1f\n", s.MeanEvaluations, s.StdDevEvals)
	_, err := fmt.Fprintf(w, "converged:    %d/%d\n", s.Converged, len(res.Runs))
	return err
}
