package api

import "time"

// ExecuteRequest is the API-level request to run a script.
type ExecuteRequest struct {
	TaskID  string   `json:"task_id,omitempty"` // generated when absent
	Code    string   `json:"code"`
	Timeout Duration `json:"timeout,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ExecuteResponse is the API-level response after a run finishes.
type ExecuteResponse struct {
	TaskID         string          `json:"task_id"`
	Status         string          `json:"status"`
	Stdout         string          `json:"stdout"`
	Stderr         string          `json:"stderr"`
	ExitCode       int             `json:"exit_code"`
	Error          string          `json:"error,omitempty"`
	Duration       string          `json:"duration"`
	SecurityEvents []SecurityEvent `json:"security_events,omitempty"`
}

// SecurityEvent records a suspicious pattern seen in the script or its output.
type SecurityEvent struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Line   int    `json:"line,omitempty"`
}

// ToolCallbackRequest is a tool invocation relayed by the remote isolate
// service on behalf of a running script.
type ToolCallbackRequest struct {
	RunID    string `json:"run_id"`
	CallID   string `json:"call_id"`
	ToolPath string `json:"tool_path"`
	Input    any    `json:"input"`
}

// ToolCallbackResponse carries the tagged tool-call outcome back to the
// isolate service.
type ToolCallbackResponse struct {
	State        string `json:"state"`
	Value        any    `json:"value,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// OutputCallbackRequest is one output line relayed by the remote isolate
// service. Accepted best-effort; the caller never retries.
type OutputCallbackRequest struct {
	RunID     string    `json:"run_id"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Uptime  string `json:"uptime"`
}
