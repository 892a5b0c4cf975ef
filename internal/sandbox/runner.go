package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog/log"

	"scriptbox/internal/transpile"
)

// DefaultTimeout applies when a request carries no timeout.
const DefaultTimeout = 30 * time.Second

// Runner executes scripts in-process inside capability-stripped VMs.
// Each run gets a fresh VM; the runner itself holds no per-run state and
// is safe for concurrent use.
type Runner struct {
	transpile transpile.Func
	declared  mapset.Set[string]
	active    atomic.Int64
}

// RunnerOptions configures a local Runner.
type RunnerOptions struct {
	// Transpile transforms submitted code before execution. Defaults to
	// the TypeScript transform.
	Transpile transpile.Func

	// DeclaredTools, when non-empty, is the closed set of tool paths the
	// scripts may call; anything else fails closed with an unknown-tool
	// error before reaching the adapter.
	DeclaredTools []string
}

// NewRunner creates a local isolate runner.
func NewRunner(opts RunnerOptions) *Runner {
	tp := opts.Transpile
	if tp == nil {
		tp = transpile.TypeScript()
	}
	var declared mapset.Set[string]
	if len(opts.DeclaredTools) > 0 {
		declared = mapset.NewSet(opts.DeclaredTools...)
	}
	return &Runner{transpile: tp, declared: declared}
}

// Kind returns the backend identifier.
func (r *Runner) Kind() string {
	return BackendLocal
}

// ActiveCount returns the number of currently executing runs.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Close is a no-op for the local runner; VMs are per-run and short-lived.
func (r *Runner) Close() error {
	return nil
}

// Run executes one request end to end and always produces a classified
// Result; the error return is reserved for contract misuse.
func (r *Runner) Run(ctx context.Context, req Request, adapter Adapter) (Result, error) {
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
		Int64("timeout_ms", timeout.Milliseconds()).
		Logger()
	logger.Info().Int("code_bytes", len(req.Code)).Msg("run accepted")

	r.active.Add(1)
	defer r.active.Add(-1)

	// Transpile before the deadline starts; a syntax error consumes no
	// execution budget and makes no tool calls.
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

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	capture := newOutputCapture(req.TaskID, adapter)
	capture.Start(ctx)
	defer capture.Flush(2 * time.Second)

	run := newIsolateRun(runCtx, req, adapter, capture, r.declared)
	value, runErr := run.execute(code)

	result := classify(value, runErr, capture, timeout, start)
	logger.Info().
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Msg("run finished")

	return result, nil
}

// classify maps an execution outcome onto the status taxonomy. Output
// captured before the terminal condition is always surfaced, so partial
// progress stays visible on failure.
func classify(value goja.Value, runErr error, capture *outputCapture, timeout time.Duration, start time.Time) Result {
	if runErr == nil {
		capture.Line(StreamStdout, "result: "+stringifyResult(value))
		return Result{
			Status:   StatusCompleted,
			Stdout:   capture.Stdout(),
			Stderr:   capture.Stderr(),
			Duration: time.Since(start),
		}
	}

	result := Result{
		Stdout:   capture.Stdout(),
		Stderr:   capture.Stderr(),
		Duration: time.Since(start),
	}

	var interrupted *goja.InterruptedError
	switch {
	case errors.As(runErr, &interrupted), errors.Is(runErr, context.DeadlineExceeded):
		result.Status = StatusTimedOut
		result.ExitCode = -1
		result.Error = fmt.Sprintf("Execution timed out after %dms", timeout.Milliseconds())
	case errors.Is(runErr, context.Canceled):
		result.Status = StatusFailed
		result.ExitCode = 1
		result.Error = "execution canceled"
	default:
		msg := errorMessage(runErr)
		if rest, ok := strings.CutPrefix(msg, deniedMarker); ok {
			result.Status = StatusDenied
			result.ExitCode = 1
			result.Error = rest
		} else {
			result.Status = StatusFailed
			result.ExitCode = 1
			result.Error = msg
		}
	}

	return result
}
