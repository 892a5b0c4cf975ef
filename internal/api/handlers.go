package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scriptbox/internal/monitor"
	"scriptbox/internal/sandbox"
)

type Handlers struct {
	backend        sandbox.Backend
	adapter        sandbox.Adapter
	registry       *sandbox.CallbackRegistry
	metrics        *monitor.Metrics
	detector       *monitor.EscapeDetector
	tracer         *monitor.Tracer
	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

func NewHandlers(backend sandbox.Backend, adapter sandbox.Adapter, registry *sandbox.CallbackRegistry, metrics *monitor.Metrics, defaultTimeout, maxTimeout time.Duration) *Handlers {
	return &Handlers{
		backend:        backend,
		adapter:        adapter,
		registry:       registry,
		metrics:        metrics,
		detector:       monitor.NewEscapeDetector(),
		tracer:         monitor.NewTracer(),
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
	}
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.backend == nil {
		writeError(w, "script backend unavailable", "BACKEND_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}

	timeout := h.defaultTimeout
	if req.Timeout.Duration > 0 {
		timeout = req.Timeout.Duration
	}
	if h.maxTimeout > 0 && timeout > h.maxTimeout {
		timeout = h.maxTimeout
	}

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))

	detections := h.detector.AnalyzeCode(req.Code)
	for _, d := range detections {
		h.metrics.RecordSecurityEvent(d.Pattern)
	}

	h.metrics.ActiveRuns.Inc()
	defer h.metrics.ActiveRuns.Dec()

	ctx, span := h.tracer.StartSpan(r.Context(), "execute",
		monitor.AttrTaskID.String(taskID),
		monitor.AttrBackend.String(h.backend.Kind()),
	)
	defer span.End()

	adapter := monitor.InstrumentAdapter(h.adapter, h.metrics)

	result, err := h.backend.Run(ctx, sandbox.Request{
		TaskID:  taskID,
		Code:    req.Code,
		Timeout: timeout,
	}, adapter)
	if err != nil {
		h.metrics.RecordError("internal")
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("run failed")
		writeError(w, "execution failed", "EXECUTION_FAILED", http.StatusInternalServerError, r)
		return
	}

	span.SetAttributes(
		monitor.AttrStatus.String(string(result.Status)),
		monitor.AttrDurationMS.Int64(result.Duration.Milliseconds()),
	)

	h.metrics.RecordRun(h.backend.Kind(), string(result.Status), result.Duration.Seconds())
	h.metrics.OutputSizeBytes.Observe(float64(len(result.Stdout) + len(result.Stderr)))

	events := make([]SecurityEvent, 0, len(detections))
	for _, d := range detections {
		events = append(events, SecurityEvent{Type: d.Pattern, Detail: d.Detail, Line: d.Line})
	}
	for _, d := range h.detector.AnalyzeOutput(result.Stdout + "\n" + result.Stderr) {
		h.metrics.RecordSecurityEvent(d.Pattern)
		events = append(events, SecurityEvent{Type: d.Pattern, Detail: d.Detail})
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{
		TaskID:         taskID,
		Status:         string(result.Status),
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		ExitCode:       result.ExitCode,
		Error:          result.Error,
		Duration:       result.Duration.String(),
		SecurityEvents: events,
	})
}

// HandleToolCallback resolves a tool call from the remote isolate service
// against the run's registered adapter.
func (h *Handlers) HandleToolCallback(w http.ResponseWriter, r *http.Request) {
	var req ToolCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.RunID == "" || req.CallID == "" || req.ToolPath == "" {
		writeError(w, "run_id, call_id and tool_path are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	adapter, ok := h.registry.Resolve(req.RunID)
	if !ok {
		writeError(w, "no run in flight with id "+req.RunID, "RUN_NOT_FOUND", http.StatusNotFound, r)
		return
	}

	ctx, span := h.tracer.StartSpan(r.Context(), "callback.tool",
		monitor.AttrTaskID.String(req.RunID),
		monitor.AttrToolPath.String(req.ToolPath),
	)
	defer span.End()

	result := monitor.InstrumentAdapter(adapter, h.metrics).InvokeTool(ctx, sandbox.ToolCallRequest{
		RunID:    req.RunID,
		CallID:   req.CallID,
		ToolPath: req.ToolPath,
		Input:    req.Input,
	})

	writeJSON(w, http.StatusOK, ToolCallbackResponse{
		State:        string(result.State),
		Value:        result.Value,
		RetryAfterMs: result.RetryAfter.Milliseconds(),
		Error:        result.Err,
	})
}

// HandleOutputCallback forwards an output line from the remote isolate
// service. Always acknowledged; delivery failures are logged, not surfaced.
func (h *Handlers) HandleOutputCallback(w http.ResponseWriter, r *http.Request) {
	var req OutputCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.RunID == "" {
		writeError(w, "run_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	adapter, ok := h.registry.Resolve(req.RunID)
	if !ok {
		writeError(w, "no run in flight with id "+req.RunID, "RUN_NOT_FOUND", http.StatusNotFound, r)
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ev := sandbox.OutputEvent{
		RunID:     req.RunID,
		Stream:    sandbox.Stream(req.Stream),
		Line:      req.Line,
		Timestamp: ts,
	}
	if err := monitor.InstrumentAdapter(adapter, h.metrics).EmitOutput(r.Context(), ev); err != nil {
		log.Warn().Err(err).Str("run_id", req.RunID).Msg("output delivery failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
