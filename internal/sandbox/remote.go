package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"scriptbox/internal/transpile"
)

// DefaultRemoteRequestTimeout bounds the dispatch HTTP request when the
// configuration does not say otherwise.
const DefaultRemoteRequestTimeout = 90 * time.Second

// maxRemoteErrorBody caps how much of an error response body is surfaced.
const maxRemoteErrorBody = 2048

// RemoteRunner dispatches runs to an external isolate-hosting service.
// Tool-call authorization stays on this side of the trust boundary: the
// service calls back into the host's callback surface, which resolves the
// run's adapter through the shared registry.
type RemoteRunner struct {
	cfg       RemoteConfig
	registry  *CallbackRegistry
	transpile transpile.Func
	client    *http.Client
}

// dispatchRequest is the wire request to the isolate service.
type dispatchRequest struct {
	TaskID    string           `json:"task_id"`
	Code      string           `json:"code"`
	TimeoutMs int64            `json:"timeout_ms"`
	Callback  callbackSettings `json:"callback"`
}

// callbackSettings tells the service where and how to reach the host for
// tool calls and output on this run's behalf.
type callbackSettings struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token"`
}

// dispatchResponse is the wire response from the isolate service.
type dispatchResponse struct {
	Status   string `json:"status"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
}

// NewRemoteRunner creates a remote dispatch runner. httpClient may be nil,
// in which case a default client is used; the per-request timeout comes
// from cfg.RequestTimeout.
func NewRemoteRunner(cfg RemoteConfig, registry *CallbackRegistry, tp transpile.Func, httpClient *http.Client) *RemoteRunner {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRemoteRequestTimeout
	}
	if tp == nil {
		tp = transpile.TypeScript()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RemoteRunner{cfg: cfg, registry: registry, transpile: tp, client: httpClient}
}

// Kind returns the backend identifier.
func (r *RemoteRunner) Kind() string {
	return BackendRemote
}

// Close is a no-op; the HTTP client holds no per-run resources.
func (r *RemoteRunner) Close() error {
	return nil
}

// Run transpiles locally, ships the code to the isolate service, and maps
// the service response back onto the shared result shape.
func (r *RemoteRunner) Run(ctx context.Context, req Request, adapter Adapter) (Result, error) {
	start := time.Now()

	if adapter == nil {
		return Result{}, &RunError{TaskID: req.TaskID, Op: "validate", Err: fmt.Errorf("%w: nil adapter", ErrInvalidRequest)}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := log.With().
		Str("task_id", req.TaskID).
		Str("endpoint", r.cfg.Endpoint).
		Logger()

	code, terr := r.transpile(req.Code)
	if terr != nil {
		logger.Info().Err(terr).Msg("transpile rejected script")
		return Result{
			Status:   StatusFailed,
			ExitCode: 1,
			Error:    terr.Error(),
			Duration: time.Since(start),
		}, nil
	}

	// The service resolves tool calls through the callback surface while
	// the dispatch is in flight.
	r.registry.Register(req.TaskID, adapter)
	defer r.registry.Unregister(req.TaskID)

	body, err := json.Marshal(dispatchRequest{
		TaskID:    req.TaskID,
		Code:      code,
		TimeoutMs: timeout.Milliseconds(),
		Callback: callbackSettings{
			BaseURL:   r.cfg.CallbackBaseURL,
			AuthToken: r.cfg.CallbackSecret,
		},
	})
	if err != nil {
		return Result{}, &RunError{TaskID: req.TaskID, Op: "encode_request", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &RunError{TaskID: req.TaskID, Op: "build_request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)

	logger.Info().Int64("timeout_ms", timeout.Milliseconds()).Msg("dispatching run to isolate service")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() != nil {
			logger.Warn().Msg("isolate service request timed out")
			return Result{
				Status:   StatusTimedOut,
				ExitCode: -1,
				Error:    fmt.Sprintf("isolate service request timed out after %dms", r.cfg.RequestTimeout.Milliseconds()),
				Duration: time.Since(start),
			}, nil
		}
		logger.Error().Err(err).Msg("isolate service unreachable")
		return Result{
			Status:   StatusFailed,
			ExitCode: 1,
			Error:    fmt.Sprintf("isolate service request failed: %v", err),
			Duration: time.Since(start),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := truncate(readBody(resp.Body), maxRemoteErrorBody)
		logger.Warn().Int("status", resp.StatusCode).Msg("isolate service returned error status")
		return Result{
			Status:   StatusFailed,
			ExitCode: 1,
			Stderr:   detail,
			Error:    fmt.Sprintf("isolate service returned %d: %s", resp.StatusCode, detail),
			Duration: time.Since(start),
		}, nil
	}

	var payload dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logger.Warn().Err(err).Msg("isolate service response was not valid JSON")
		return Result{
			Status:   StatusFailed,
			ExitCode: 1,
			Error:    "invalid JSON in isolate service response",
			Duration: time.Since(start),
		}, nil
	}

	result := Result{
		Status:   mapRemoteStatus(payload.Status),
		Stdout:   payload.Stdout,
		Stderr:   payload.Stderr,
		ExitCode: payload.ExitCode,
		Error:    payload.Error,
		Duration: time.Since(start),
	}
	if result.Status == StatusFailed && result.Error == "" {
		result.Error = fmt.Sprintf("isolate service reported status %q", payload.Status)
	}

	logger.Info().Str("status", string(result.Status)).Dur("duration", result.Duration).Msg("run finished")
	return result, nil
}

// mapRemoteStatus passes recognized statuses through and folds everything
// else into failed.
func mapRemoteStatus(status string) Status {
	switch Status(status) {
	case StatusCompleted, StatusTimedOut, StatusDenied:
		return Status(status)
	default:
		return StatusFailed
	}
}

func readBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxRemoteErrorBody+1))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "... [truncated]"
}
