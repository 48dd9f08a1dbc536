package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/eskit/internal/benchmark"
	"github.com/copyleftdev/eskit/internal/config"
	"github.com/copyleftdev/eskit/internal/errors"
	"github.com/copyleftdev/eskit/internal/runner"
)

// historyTail is the number of trailing generations a status reports.
const historyTail = 100

// JobStatus is the lifecycle state of an optimization job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// OptimizationState represents the state of an optimization job.
// Fields are guarded by the server's optimizationsMu.
type OptimizationState struct {
	ID          string
	Status      JobStatus
	Params      config.RunConfig
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Error       string
	Result      *runner.Result
	Runner      *runner.Runner
	CancelFunc  context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the collectors jobs report to.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRunnerOptions appends options to every job's runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *Server) { s.runnerOpts = append(s.runnerOpts, opts...) }
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *Metrics
	runnerOpts []runner.Option

	// Optimization state management
	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex // Protects the optimizations map and the states

	// workers bounds the number of jobs running at once
	workers chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a new server instance with the given config and logger.
// Without WithMetrics, collectors are registered with a private registry.
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		optimizations: make(map[string]*OptimizationState),
		workers:       make(chan struct{}, workers),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/functions", s.handleFunctions)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      interface{}   `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, errors.CodeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, errors.CodeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		result, err = s.handleOptimizeStart(request.Params)
	case "optimization.status":
		result, err = s.handleOptimizationStatus(request.Params)
	case "optimization.cancel":
		err = s.handleOptimizationCancel(request.Params)
		result = map[string]string{"status": string(StatusCancelled)}
	case "optimization.functions":
		result = functionList()
	default:
		s.respondWithError(w, errors.CodeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, errors.RPCCode(err), err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleOptimizeStart handles the optimization.start JSON-RPC method.
// Expected parameters: {"function": "rosenbrock", "dimension": 10, "strategy": "CMA", ...}
// Fields left out take the server's run defaults.
// Returns: {"optimization_id": "<uuid>", "status": "pending"}
func (s *Server) handleOptimizeStart(params []interface{}) (interface{}, error) {
	const op = "Server.handleOptimizeStart"

	runCfg := s.cfg.Run
	if len(params) > 0 {
		if err := decodeParams(params[0], &runCfg); err != nil {
			return nil, err.WithOperation(op)
		}
	}

	state, err := s.startJob(runCfg)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"optimization_id": state.ID,
		"status":          StatusPending,
	}, nil
}

// startJob registers a job and runs it in its own goroutine.
func (s *Server) startJob(runCfg config.RunConfig) (*OptimizationState, error) {
	const op = "Server.startJob"

	id := uuid.New().String()
	jobLogger := s.logger.With(zap.String("optimization_id", id))

	opts := append([]runner.Option{
		runner.WithLogger(jobLogger),
		runner.WithObserver(func(runner.Generation) { s.metrics.Generations.Inc() }),
	}, s.runnerOpts...)
	rn, err := runner.New(runCfg, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "invalid optimization parameters").WithOperation(op)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &OptimizationState{
		ID:          id,
		Status:      StatusPending,
		Params:      runCfg,
		StartTime:   now,
		LastUpdated: now,
		Runner:      rn,
		CancelFunc:  cancel,
	}

	s.optimizationsMu.Lock()
	if limit := s.cfg.Optimization.MaxJobs; limit > 0 && len(s.optimizations) >= limit {
		s.optimizationsMu.Unlock()
		cancel()
		return nil, errors.Errorf(http.StatusServiceUnavailable, "job limit of %d reached", limit).WithOperation(op)
	}
	s.optimizations[id] = state
	s.wg.Add(1)
	s.optimizationsMu.Unlock()

	jobLogger.Info("Optimization queued",
		zap.String("function", runCfg.Function),
		zap.Int("dimension", runCfg.Dimension),
		zap.String("strategy", runCfg.Strategy),
	)

	go s.runOptimization(ctx, state)
	return state, nil
}

// handleOptimizationStatus handles the optimization.status JSON-RPC method.
// Expected parameters: {"optimization_id": "<uuid>"}
// Returns: Status object with progress, best solution, recent history and,
// once completed, the per-run results.
func (s *Server) handleOptimizationStatus(params []interface{}) (interface{}, error) {
	id, err := optimizationID(params)
	if err != nil {
		return nil, err
	}

	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, exists := s.optimizations[id]
	if !exists {
		return nil, errors.New(http.StatusNotFound, "optimization not found")
	}

	progress := float64(state.Runner.Evaluations()) / float64(state.Runner.Budget())
	if progress > 1 || state.Status == StatusCompleted {
		progress = 1
	}

	response := map[string]interface{}{
		"optimization_id": state.ID,
		"status":          state.Status,
		"progress":        progress,
		"evaluations":     state.Runner.Evaluations(),
		"params":          state.Params,
		"start_time":      state.StartTime.Format(time.RFC3339),
		"last_update":     state.LastUpdated.Format(time.RFC3339),
	}

	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if best := state.Runner.GetBestSolution(); best != nil {
		response["best_solution"] = best
	}
	if history := state.Runner.GetHistory(); len(history) > 0 {
		if len(history) > historyTail {
			history = history[len(history)-historyTail:]
		}
		response["history"] = history
	}
	if state.Result != nil {
		response["result"] = state.Result
	}

	return response, nil
}

// handleOptimizationCancel handles the optimization.cancel JSON-RPC method.
// Expected parameters: {"optimization_id": "<uuid>"}
func (s *Server) handleOptimizationCancel(params []interface{}) error {
	id, err := optimizationID(params)
	if err != nil {
		return err
	}

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, exists := s.optimizations[id]
	if !exists {
		return errors.New(http.StatusNotFound, "optimization not found")
	}

	if state.Status.Terminal() {
		return errors.Errorf(http.StatusConflict, "cannot cancel optimization with status: %s", state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}

	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", zap.String("optimization_id", id))
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("Request error",
		zap.Int("code", code),
		zap.String("message", message),
	)

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	writeJSON(w, http.StatusOK, response)
}

// runOptimization executes a job once a worker is free.
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState) {
	defer s.wg.Done()

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		s.finish(state, nil, ctx.Err())
		return
	}

	s.optimizationsMu.Lock()
	if state.Status != StatusPending {
		s.optimizationsMu.Unlock()
		s.finish(state, nil, context.Canceled)
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.optimizationsMu.Unlock()

	s.metrics.ActiveJobs.Inc()
	defer s.metrics.ActiveJobs.Dec()

	result, err := state.Runner.Optimize(ctx)
	s.finish(state, result, err)
}

// finish records the outcome of a job and reports it to the metrics.
func (s *Server) finish(state *OptimizationState, result *runner.Result, err error) {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	now := time.Now()
	s.metrics.Evaluations.Add(float64(state.Runner.Evaluations()))
	s.metrics.JobDuration.Observe(now.Sub(state.StartTime).Seconds())

	switch {
	case state.Status == StatusCancelled:
		// Cancelled by a request; the state was already updated.
	case stderrors.Is(err, context.Canceled):
		state.Status = StatusCancelled
	case err != nil:
		s.logger.Error("Optimization failed",
			zap.String("optimization_id", state.ID),
			zap.Error(err),
		)
		state.Status = StatusFailed
		state.Error = err.Error()
	default:
		state.Status = StatusCompleted
		state.Result = result
		for _, run := range result.Runs {
			s.metrics.StopReasons.WithLabelValues(run.Stop.String()).Inc()
		}
	}
	s.metrics.Jobs.WithLabelValues(string(state.Status)).Inc()

	if state.EndTime == nil {
		state.EndTime = &now
	}
	state.LastUpdated = now
}

// Close cancels every job and waits for their goroutines to return.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.Unlock()

	s.wg.Wait()
	return nil
}

// handleOptimize handles POST /api/v1/optimize. The body holds the run
// parameters; omitted fields, or an empty body, take the server's run defaults.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	runCfg := s.cfg.Run
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&runCfg); err != nil && !stderrors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("Invalid request body: %v", err),
		})
		return
	}

	state, err := s.startJob(runCfg)
	if err != nil {
		writeJSON(w, errors.StatusOf(err), map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"optimization_id": state.ID,
		"status":          StatusPending,
	})
}

// handleStatus handles GET /api/v1/status/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.handleOptimizationStatus([]interface{}{map[string]interface{}{
		"optimization_id": chi.URLParam(r, "id"),
	}})
	if err != nil {
		writeJSON(w, errors.StatusOf(err), map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.handleOptimizationCancel([]interface{}{map[string]interface{}{
		"optimization_id": chi.URLParam(r, "id"),
	}})
	if err != nil {
		writeJSON(w, errors.StatusOf(err), map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handleFunctions handles GET /api/v1/functions
func (s *Server) handleFunctions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, functionList())
}

type functionInfo struct {
	Name     string  `json:"name"`
	MinBound float64 `json:"min_bound"`
	MaxBound float64 `json:"max_bound"`
}

func functionList() []functionInfo {
	fns := benchmark.All()
	out := make([]functionInfo, len(fns))
	for i, fn := range fns {
		out[i] = functionInfo{Name: fn.Name, MinBound: fn.MinBound, MaxBound: fn.MaxBound}
	}
	return out
}

// decodeParams strictly decodes a JSON-RPC parameter object into dst.
func decodeParams(param interface{}, dst interface{}) *errors.Error {
	if _, ok := param.(map[string]interface{}); !ok {
		return errors.New(http.StatusBadRequest, "invalid parameter format, expected object")
	}
	raw, err := json.Marshal(param)
	if err != nil {
		return errors.Wrap(err, "invalid parameters")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &errors.Error{Err: err, Message: "invalid parameters", Status: http.StatusBadRequest}
	}
	return nil
}

func optimizationID(params []interface{}) (string, error) {
	if len(params) == 0 {
		return "", errors.New(http.StatusBadRequest, "missing required parameters")
	}
	paramMap, ok := params[0].(map[string]interface{})
	if !ok {
		return "", errors.New(http.StatusBadRequest, "invalid parameter format, expected object")
	}
	id, ok := paramMap["optimization_id"].(string)
	if !ok || id == "" {
		return "", errors.New(http.StatusBadRequest, "optimization_id is required")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
