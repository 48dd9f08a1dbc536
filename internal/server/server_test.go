package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/eskit/internal/config"
	"github.com/copyleftdev/eskit/internal/errors"
	"github.com/copyleftdev/eskit/internal/runner"
)

// testConfig creates a test configuration whose default job finishes quickly
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	// Set up HTTP config
	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	// Set up logging
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	// Set up optimization
	cfg.Optimization.WorkerCount = 3
	cfg.Optimization.MaxJobs = 10

	cfg.Run = config.DefaultRunConfig()
	cfg.Run.Dimension = 3
	cfg.Run.MaxEvaluations = 5000
	cfg.Run.Seed = 1

	return cfg
}

// blockingObserver holds every job in its first generation until release is closed.
func blockingObserver() (runner.Option, chan struct{}) {
	release := make(chan struct{})
	return runner.WithObserver(func(runner.Generation) { <-release }), release
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, chi.Router) {
	t.Helper()
	srv := NewServer(cfg, zaptest.NewLogger(t), opts...)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]interface{}
	if rr.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr.Code, out
}

func rpc(t *testing.T, h http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	code, out := doJSON(t, h, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, code)
	return out
}

func startJob(t *testing.T, h http.Handler, body interface{}) string {
	t.Helper()
	code, out := doJSON(t, h, http.MethodPost, "/api/v1/optimize", body)
	require.Equal(t, http.StatusAccepted, code, "response: %v", out)
	assert.Equal(t, string(StatusPending), out["status"])
	id, ok := out["optimization_id"].(string)
	require.True(t, ok)
	return id
}

func jobStatus(t *testing.T, h http.Handler, id string) map[string]interface{} {
	t.Helper()
	code, out := doJSON(t, h, http.MethodGet, "/api/v1/status/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	return out
}

func waitForStatus(t *testing.T, h http.Handler, id string, want JobStatus) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		last = jobStatus(t, h, id)
		return last["status"] == string(want)
	}, 10*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return last
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), zap.NewNop())
	assert.NotNil(t, srv, "Server should be created")
	assert.NotNil(t, srv.metrics)
	assert.Equal(t, 3, cap(srv.workers))

	cfg := testConfig(t)
	cfg.Optimization.WorkerCount = 0
	assert.Equal(t, 1, cap(NewServer(cfg, nil).workers))
}

func TestRegisterRoutes(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/optimize", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/optimization/123", true},
		{"GET", "/api/v1/functions", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // Not registered by server package
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if tt.shouldExist {
				// Unknown jobs answer 404 with a JSON body, unknown routes with plain text.
				assert.NotEqual(t, "404 page not found\n", rr.Body.String())
			} else {
				assert.Equal(t, http.StatusNotFound, rr.Code)
			}
		})
	}
}

func TestOptimizeCompletes(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	id := startJob(t, r, map[string]interface{}{
		"function":        "ellipsoid",
		"strategy":        "SepCMA",
		"max_evaluations": 20000,
	})
	status := waitForStatus(t, r, id, StatusCompleted)

	assert.Equal(t, 1.0, status["progress"])
	assert.Contains(t, status, "end_time")
	assert.NotContains(t, status, "error")

	params := status["params"].(map[string]interface{})
	assert.Equal(t, "ellipsoid", params["function"])
	assert.Equal(t, float64(3), params["dimension"])

	best := status["best_solution"].(map[string]interface{})
	assert.Len(t, best["parameters"], 3)
	assert.LessOrEqual(t, best["value"], 1e-9)

	result := status["result"].(map[string]interface{})
	assert.Equal(t, "SepCMA", result["strategy"])
	runs := result["runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, true, runs[0].(map[string]interface{})["converged"])

	history := status["history"].([]interface{})
	assert.NotEmpty(t, history)
	assert.LessOrEqual(t, len(history), historyTail)
}

func TestOptimizeRejectsBadRequests(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"function":`},
		{"unknown field", `{"functon":"sphere"}`},
		{"unknown function", `{"function":"griewank"}`},
		{"bad population", `{"mu":8,"lambda":4}`},
		{"bad dimension", `{"dimension":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/optimize", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), "error")
		})
	}

	srv.optimizationsMu.RLock()
	defer srv.optimizationsMu.RUnlock()
	assert.Empty(t, srv.optimizations)
}

func TestStatusNotFound(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	code, out := doJSON(t, r, http.MethodGet, "/api/v1/status/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "optimization not found", out["error"])
}

func TestCancel(t *testing.T) {
	block, release := blockingObserver()
	srv, r := newTestServer(t, testConfig(t), WithRunnerOptions(block))
	defer srv.Close()
	defer close(release)

	code, _ := doJSON(t, r, http.MethodDelete, "/api/v1/optimization/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	id := startJob(t, r, nil)
	waitForStatus(t, r, id, StatusRunning)

	code, out := doJSON(t, r, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancellation requested", out["status"])

	status := jobStatus(t, r, id)
	assert.Equal(t, string(StatusCancelled), status["status"])
	assert.Contains(t, status, "end_time")

	code, _ = doJSON(t, r, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestWorkersBoundRunningJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.WorkerCount = 1
	block, release := blockingObserver()
	srv, r := newTestServer(t, cfg, WithRunnerOptions(block))
	defer srv.Close()

	first := startJob(t, r, nil)
	waitForStatus(t, r, first, StatusRunning)
	second := startJob(t, r, nil)

	// The second job waits for the only worker.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, string(StatusPending), jobStatus(t, r, second)["status"])

	// Cancelling a pending job frees it without ever running.
	code, _ := doJSON(t, r, http.MethodDelete, "/api/v1/optimization/"+second, nil)
	assert.Equal(t, http.StatusOK, code)
	third := startJob(t, r, nil)

	close(release)
	waitForStatus(t, r, first, StatusCompleted)
	waitForStatus(t, r, third, StatusCompleted)
	assert.Equal(t, string(StatusCancelled), jobStatus(t, r, second)["status"])
	assert.Zero(t, jobStatus(t, r, second)["evaluations"])
}

func TestMaxJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimization.MaxJobs = 1
	block, release := blockingObserver()
	srv, r := newTestServer(t, cfg, WithRunnerOptions(block))
	defer srv.Close()
	defer close(release)

	startJob(t, r, nil)

	code, out := doJSON(t, r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, out["error"], "job limit of 1 reached")

	resp := rpc(t, r, "optimization.start", map[string]interface{}{})
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(errors.CodeUnavailable), errObj["code"])
}

func TestFunctions(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/functions", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var fns []functionInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fns))
	require.NotEmpty(t, fns)
	names := make([]string, len(fns))
	for i, fn := range fns {
		names[i] = fn.Name
		assert.Less(t, fn.MinBound, fn.MaxBound, fn.Name)
	}
	assert.Contains(t, names, "sphere")
	assert.Contains(t, names, "rosenbrock")

	resp := rpc(t, r, "optimization.functions")
	assert.Len(t, resp["result"], len(fns))
}

func TestJSONRPCFlow(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	resp := rpc(t, r, "optimization.start", map[string]interface{}{
		"function":  "rosenbrock",
		"dimension": 2,
		"seed":      3,
	})
	require.NotContains(t, resp, "error")
	assert.Equal(t, float64(1), resp["id"])
	result := resp["result"].(map[string]interface{})
	id := result["optimization_id"].(string)

	require.Eventually(t, func() bool {
		resp := rpc(t, r, "optimization.status", map[string]interface{}{"optimization_id": id})
		status := resp["result"].(map[string]interface{})
		return status["status"] == string(StatusCompleted)
	}, 10*time.Second, 5*time.Millisecond)

	resp = rpc(t, r, "optimization.cancel", map[string]interface{}{"optimization_id": id})
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(errors.CodeConflict), errObj["code"])
	assert.Contains(t, errObj["message"], "cannot cancel optimization with status: completed")
}

func TestJSONRPCCancel(t *testing.T) {
	block, release := blockingObserver()
	srv, r := newTestServer(t, testConfig(t), WithRunnerOptions(block))
	defer srv.Close()
	defer close(release)

	resp := rpc(t, r, "optimization.start")
	id := resp["result"].(map[string]interface{})["optimization_id"].(string)

	resp = rpc(t, r, "optimization.cancel", map[string]interface{}{"optimization_id": id})
	require.NotContains(t, resp, "error")
	assert.Equal(t, string(StatusCancelled), resp["result"].(map[string]interface{})["status"])
}

func TestJSONRPCErrors(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))
	defer srv.Close()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"parse error", `{"jsonrpc":`, errors.CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"optimization.functions"}`, errors.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.pause"}`, errors.CodeMethodNotFound},
		{"unknown function", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":[{"function":"griewank"}]}`, errors.CodeInvalidParams},
		{"unknown field", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":[{"dim":3}]}`, errors.CodeInvalidParams},
		{"params not an object", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":["sphere"]}`, errors.CodeInvalidParams},
		{"missing id", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":[{}]}`, errors.CodeInvalidParams},
		{"no params", `{"jsonrpc":"2.0","id":1,"method":"optimization.cancel"}`, errors.CodeInvalidParams},
		{"unknown job", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":[{"optimization_id":"nope"}]}`, errors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object: %s", rr.Body.String())
			assert.Equal(t, float64(tt.wantCode), errObj["code"])
		})
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, r := newTestServer(t, testConfig(t), WithMetrics(NewMetrics(reg)))
	defer srv.Close()

	id := startJob(t, r, nil)
	status := waitForStatus(t, r, id, StatusCompleted)

	values := func() map[string]float64 {
		families, err := reg.Gather()
		require.NoError(t, err)
		out := make(map[string]float64)
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				switch {
				case m.GetCounter() != nil:
					out[mf.GetName()] += m.GetCounter().GetValue()
				case m.GetGauge() != nil:
					out[mf.GetName()] += m.GetGauge().GetValue()
				case m.GetHistogram() != nil:
					out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
				}
			}
		}
		return out
	}

	require.Eventually(t, func() bool { return values()["eskit_active_jobs"] == 0 }, time.Second, time.Millisecond)
	got := values()
	assert.Equal(t, 1.0, got["eskit_jobs_total"])
	assert.Equal(t, 1.0, got["eskit_run_stop_reasons_total"])
	assert.Equal(t, 1.0, got["eskit_job_duration_seconds"])
	assert.Equal(t, status["evaluations"], got["eskit_evaluations_total"])
	assert.Positive(t, got["eskit_generations_total"])
	assert.Positive(t, got["eskit_eigen_decompositions_total"])
}

func TestClose(t *testing.T) {
	block, release := blockingObserver()
	srv, r := newTestServer(t, testConfig(t), WithRunnerOptions(block))

	id := startJob(t, r, nil)
	waitForStatus(t, r, id, StatusRunning)

	// Release the job only once Close has cancelled it, so it cannot finish first.
	srv.optimizationsMu.Lock()
	state := srv.optimizations[id]
	cancel := state.CancelFunc
	state.CancelFunc = func() {
		cancel()
		close(release)
	}
	srv.optimizationsMu.Unlock()

	done := make(chan error)
	go func() { done <- srv.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err, "Close should not return an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, string(StatusCancelled), jobStatus(t, r, id)["status"])
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), zaptest.NewLogger(t))

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{
			name:       "valid error response",
			code:       errors.CodeInvalidParams,
			message:    "invalid input",
			id:         "123",
			expectedID: "123",
		},
		{
			name:       "nil id",
			code:       errors.CodeInternalError,
			message:    "server error",
			id:         nil,
			expectedID: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			// JSON-RPC errors travel in a 200 response.
			assert.Equal(t, http.StatusOK, rr.Code, "status code should match")
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var response map[string]interface{}
			err := json.NewDecoder(rr.Body).Decode(&response)
			assert.NoError(t, err, "should decode response body")

			errObj, ok := response["error"].(map[string]interface{})
			assert.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"], "error code should match")
			assert.Equal(t, tt.message, errObj["message"], "error message should match")
			assert.Equal(t, "2.0", response["jsonrpc"])

			assert.Equal(t, tt.expectedID, response["id"], "response ID should match")
		})
	}
}
