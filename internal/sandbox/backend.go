package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scriptbox/internal/transpile"
)

// Backend runs one script execution end to end. Both backends honor the
// same timeout and status semantics; callers are backend-agnostic.
//
// Contract:
//   - Run returns exactly one Result per Request and never returns a
//     non-nil error for script-level failures; those are classified into
//     Result.Status. Errors are reserved for contract misuse.
//   - Implementations must be safe for concurrent use across runs.
type Backend interface {
	Kind() string
	Run(ctx context.Context, req Request, adapter Adapter) (Result, error)
	Close() error
}

// Known backend kinds. This is a closed set: exactly these two backends
// exist and both honor identical timeout/status semantics.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// KnownBackends returns the identifiers of all supported backends.
func KnownBackends() []string {
	return []string{BackendLocal, BackendRemote}
}

// IsKnownBackend reports whether kind names a supported backend.
func IsKnownBackend(kind string) bool {
	return kind == BackendLocal || kind == BackendRemote
}

// RemoteConfig holds the settings needed to dispatch runs to the remote
// isolate service. Constructed once at startup and passed in; backends
// never read the environment themselves.
type RemoteConfig struct {
	// Endpoint is the run endpoint URL of the isolate service.
	Endpoint string

	// AuthToken is the bearer credential presented to the isolate service.
	AuthToken string

	// CallbackBaseURL is the host callback surface the isolate service uses
	// to resolve tool calls and stream output for a run.
	CallbackBaseURL string

	// CallbackSecret authenticates the isolate service on the callback
	// surface.
	CallbackSecret string

	// RequestTimeout bounds the dispatch HTTP request. Distinct from the
	// run's own execution timeout. Defaults to 90s.
	RequestTimeout time.Duration
}

// Validate fails loudly if any required remote setting is absent.
func (c RemoteConfig) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.AuthToken == "" {
		missing = append(missing, "auth_token")
	}
	if c.CallbackBaseURL == "" {
		missing = append(missing, "callback_base_url")
	}
	if c.CallbackSecret == "" {
		missing = append(missing, "callback_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: remote backend requires %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Options configures backend construction.
type Options struct {
	// Transpile transforms submitted code. Defaults to the TypeScript
	// transform.
	Transpile transpile.Func

	// DeclaredTools, when non-empty, makes the local runtime fail closed on
	// tool paths outside the set.
	DeclaredTools []string

	// Remote holds remote-backend settings; required for BackendRemote.
	Remote RemoteConfig

	// Registry tracks in-flight runs for the callback surface; required for
	// BackendRemote.
	Registry *CallbackRegistry

	// HTTPClient overrides the remote dispatch client, mainly for tests.
	HTTPClient *http.Client
}

// NewBackend constructs the backend named by kind from explicit options.
// Missing remote settings fail loudly here, before any run begins.
func NewBackend(kind string, opts Options) (Backend, error) {
	if opts.Transpile == nil {
		opts.Transpile = transpile.TypeScript()
	}

	switch kind {
	case BackendLocal:
		return NewRunner(RunnerOptions{
			Transpile:     opts.Transpile,
			DeclaredTools: opts.DeclaredTools,
		}), nil
	case BackendRemote:
		if err := opts.Remote.Validate(); err != nil {
			return nil, err
		}
		if opts.Registry == nil {
			return nil, fmt.Errorf("%w: remote backend requires a callback registry", ErrMissingConfig)
		}
		return NewRemoteRunner(opts.Remote, opts.Registry, opts.Transpile, opts.HTTPClient), nil
	default:
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownBackend, kind, strings.Join(KnownBackends(), ", "))
	}
}
