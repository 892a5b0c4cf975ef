package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout        = errors.New("execution timed out")
	ErrInvalidRequest = errors.New("invalid execution request")
	ErrUnknownBackend = errors.New("unknown runtime backend")
	ErrMissingConfig  = errors.New("missing runtime configuration")
	ErrUnknownTool    = errors.New("unknown tool")
)

// deniedMarker prefixes script-level errors raised for denied tool calls so
// the classifier can tell them apart from ordinary script failures. The
// prefix is stripped from the final Result.Error.
const deniedMarker = "approval denied: "

// blockedMessage is raised when a script attempts dynamic code generation.
const blockedMessage = "blocked: dynamic code generation is disabled"

// RunError wraps errors with run context.
type RunError struct {
	TaskID string
	Op     string // The operation that failed
	Err    error
}

func (e *RunError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("run %s: %s: %s", e.TaskID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
