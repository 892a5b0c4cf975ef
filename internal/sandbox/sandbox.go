// Package sandbox executes untrusted agent scripts in isolated environments
// and bridges their tool calls to a host-supplied adapter.
package sandbox

import (
	"context"
	"time"
)

// Status classifies the terminal outcome of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusDenied    Status = "denied"
)

// Request describes one script execution. It is immutable for the duration
// of the run; TaskID correlates all output and tool calls to this run.
type Request struct {
	TaskID  string        `json:"task_id"`
	Code    string        `json:"code"`
	Timeout time.Duration `json:"timeout"`
}

// Result is the single terminal outcome of a Request. Stdout and Stderr are
// the newline-joined captured output lines in emission order.
type Result struct {
	Status   Status        `json:"status"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ToolCallRequest is one tool invocation attempt made by a running script.
// CallID is stable across pending retries of the same logical call.
type ToolCallRequest struct {
	RunID    string `json:"run_id"`
	CallID   string `json:"call_id"`
	ToolPath string `json:"tool_path"`
	Input    any    `json:"input"`
}

// ToolCallState tags the outcome variants of a tool call.
type ToolCallState string

const (
	ToolCallOK      ToolCallState = "ok"
	ToolCallPending ToolCallState = "pending"
	ToolCallDenied  ToolCallState = "denied"
	ToolCallFailed  ToolCallState = "failed"
)

// ToolCallResult is the tagged outcome of a tool call. Exactly one variant
// applies; the helper constructors below keep call sites honest.
type ToolCallResult struct {
	State      ToolCallState `json:"state"`
	Value      any           `json:"value,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// ToolOK wraps a successful tool result value.
func ToolOK(value any) ToolCallResult {
	return ToolCallResult{State: ToolCallOK, Value: value}
}

// ToolPending signals the call is not ready yet; retryAfter of zero means
// the runtime picks its default poll interval.
func ToolPending(retryAfter time.Duration) ToolCallResult {
	return ToolCallResult{State: ToolCallPending, RetryAfter: retryAfter}
}

// ToolDenied signals the call was refused by policy.
func ToolDenied(msg string) ToolCallResult {
	return ToolCallResult{State: ToolCallDenied, Err: msg}
}

// ToolFailed signals the call failed for any non-policy reason.
func ToolFailed(msg string) ToolCallResult {
	return ToolCallResult{State: ToolCallFailed, Err: msg}
}

// Stream identifies which output channel a line belongs to.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// OutputEvent is one line of script output. Delivery is fire-and-forget:
// the runtime never blocks on it and never fails a run over it.
type OutputEvent struct {
	RunID     string    `json:"run_id"`
	Stream    Stream    `json:"stream"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// Adapter is the host-supplied boundary between running scripts and the
// outside world. It owns credentials, policy, and any caching.
//
// Contract:
//   - InvokeTool never panics; every failure is expressed as a denied or
//     failed variant of ToolCallResult.
//   - InvokeTool must be safe for repeated calls with the same CallID
//     (pending retries) and for concurrent calls across runs.
//   - EmitOutput is best-effort; errors are logged and swallowed by the
//     runtime and must not block indefinitely.
type Adapter interface {
	InvokeTool(ctx context.Context, req ToolCallRequest) ToolCallResult
	EmitOutput(ctx context.Context, ev OutputEvent) error
}
