package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/copyleftdev/eskit/internal/runner"
)

// traceWriter writes a convergence trace per run into dir: run.dat for a
// single run, run-<k>.dat otherwise. Each file starts with two "#" lines
// describing the evaluator and the optimizer, followed by one
// "evaluations best_fitness" line per generation. The first error stops
// further writes and is returned by Close.
type traceWriter struct {
	dir string
	f   *os.File
	w   *bufio.Writer
	err error
}

func newTraceWriter(dir string) (*traceWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	return &traceWriter{dir: dir}, nil
}

func traceFileName(run, runs int) string {
	if runs > 1 {
		return fmt.Sprintf("run-%d.dat", run)
	}
	return "run.dat"
}

// Start opens the trace of a new run and writes its header.
func (t *traceWriter) Start(s runner.RunStart) {
	if t.err != nil {
		return
	}
	if t.err = t.closeFile(); t.err != nil {
		return
	}

	f, err := os.Create(filepath.Join(t.dir, traceFileName(s.Run, s.Runs)))
	if err != nil {
		t.err = fmt.Errorf("failed to create trace: %w", err)
		return
	}
	t.f, t.w = f, bufio.NewWriter(f)

	rotated := 0
	if s.Rotated {
		rotated = 1
	}
	if _, t.err = fmt.Fprintf(t.w, "# evaluator : seed = %d function = '%s' N = %d rotated = %d\n",
		s.EvaluatorSeed, s.Function, s.Dimension, rotated); t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, "# optimizer : mu = %d, lambda = %d, seed = %d, distrib = '%s'\n",
		s.Mu, s.Lambda, s.Seed, s.Strategy)
}

// Observe appends one generation to the current trace.
func (t *traceWriter) Observe(g runner.Generation) {
	if t.err != nil || t.w == nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, "%d %e\n", g.Evaluations, g.BestFitness)
}

func (t *traceWriter) closeFile() error {
	if t.f == nil {
		return nil
	}
	err := t.w.Flush()
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.f, t.w = nil, nil
	return err
}

// Close flushes the current trace file.
func (t *traceWriter) Close() error {
	if err := t.closeFile(); t.err == nil {
		t.err = err
	}
	return t.err
}
