package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/eskit/internal/config"
	"github.com/copyleftdev/eskit/internal/optimization"
	"github.com/copyleftdev/eskit/internal/runner"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := &config.Config{Run: config.DefaultRunConfig()}
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "stderr"

	cmd := newRootCmd(cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "eskit version "+version+"\n", out)
}

func TestFunctions(t *testing.T) {
	out, err := execute(t, "functions")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out, "rastrigin")
	assert.Contains(t, out, "sphere")
}

func TestRunPrintsSummary(t *testing.T) {
	out, err := execute(t, "run", "--dim", "3", "--eval", "5000", "--nbruns", "2", "--seed", "11")
	require.NoError(t, err)

	assert.Contains(t, out, "function:  sphere\n")
	assert.Contains(t, out, "strategy:  CMA mu=3 lambda=7")
	assert.Contains(t, out, "converged:    2/2")
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, "run", "--dim", "4", "--eval", "3000", "--seed", "3",
		"--function", "ellipsoid", "--rotate", "--update", "sepcma", "--mu", "3", "--lambda", "9", "--json")
	require.NoError(t, err)

	var res runner.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ellipsoid", res.Function)
	assert.Equal(t, "SepCMA", res.Strategy)
	assert.True(t, res.Rotated)
	assert.Equal(t, uint64(3), res.Seed)
	assert.Equal(t, 3, res.Mu)
	assert.Equal(t, 9, res.Lambda)
	require.Len(t, res.Runs, 1)
	assert.LessOrEqual(t, res.Runs[0].Evaluations, 3000+9)
}

func readTrace(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, path)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunWritesTrace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	out, err := execute(t, "run", "--dim", "2", "--eval", "400", "--nbruns", "2", "--seed", "5",
		"--function", "rosenbrock", "--json", "--trace-dir", dir)
	require.NoError(t, err)

	var res runner.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	for k, name := range []string{"run-0.dat", "run-1.dat"} {
		lines := readTrace(t, filepath.Join(dir, name))
		require.Greater(t, len(lines), 2, name)

		assert.Equal(t, fmt.Sprintf("# evaluator : seed = %d function = 'rosenbrock' N = 2 rotated = 0", res.EvaluatorSeed), lines[0])
		assert.Equal(t, fmt.Sprintf("# optimizer : mu = 3, lambda = 6, seed = %d, distrib = 'CMA'", res.Runs[k].Seed), lines[1])

		fields := strings.Fields(lines[2])
		require.Len(t, fields, 2)
		assert.Equal(t, "6", fields[0], "the first generation of a 2-d run has 6 offspring")
		assert.Len(t, lines, 2+res.Runs[k].Generations)
	}
	assert.NoFileExists(t, filepath.Join(dir, "run.dat"))
}

func TestRunWritesSingleTrace(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run", "--dim", "3", "--eval", "300", "--seed", "9",
		"--function", "cigar", "--rotate", "--update", "csa", "--trace-dir", dir)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "run-0.dat"))
	lines := readTrace(t, filepath.Join(dir, "run.dat"))
	require.Greater(t, len(lines), 2)
	assert.Contains(t, lines[0], "function = 'cigar' N = 3 rotated = 1")
	assert.True(t, strings.HasPrefix(lines[1], "# optimizer : mu = 3, lambda = 7, seed = "))
	assert.True(t, strings.HasSuffix(lines[1], "distrib = 'CSA'"))
}

func TestRunRejectsBadFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"unknown strategy", []string{"--update", "NES"}, optimization.ErrUnknownStrategy},
		{"unknown function", []string{"--function", "griewank"}, optimization.ErrUnknownFunction},
		{"mu without lambda", []string{"--mu", "4"}, optimization.ErrInvalidPopulation},
		{"zero dimension", []string{"--dim", "0"}, optimization.ErrInvalidDimension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"run"}, tt.args...)...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTraceWriterReportsErrors(t *testing.T) {
	dir := t.TempDir()
	tw, err := newTraceWriter(dir)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "run.dat"), 0o755))
	tw.Start(runner.RunStart{Run: 0, Runs: 1, Function: "sphere", Dimension: 2})
	tw.Observe(runner.Generation{Run: 0, Evaluations: 10, BestFitness: 1})
	tw.Observe(runner.Generation{Run: 0, Evaluations: 20, BestFitness: 0.5})

	assert.Error(t, tw.Close())
}
