package sandbox

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// CallbackRegistry maps in-flight run IDs to their adapters so the HTTP
// callback surface can route tool calls and output from the remote isolate
// service back to the right run. Entries live only for the duration of a
// dispatch.
type CallbackRegistry struct {
	runs *xsync.MapOf[string, Adapter]
}

// NewCallbackRegistry creates an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		runs: xsync.NewMapOf[string, Adapter](),
	}
}

// Register associates a run with its adapter.
func (r *CallbackRegistry) Register(runID string, adapter Adapter) {
	r.runs.Store(runID, adapter)
}

// Unregister removes a run. Callbacks arriving afterwards are rejected.
func (r *CallbackRegistry) Unregister(runID string) {
	r.runs.Delete(runID)
}

// Resolve returns the adapter for a run, if the run is still in flight.
func (r *CallbackRegistry) Resolve(runID string) (Adapter, bool) {
	return r.runs.Load(runID)
}

// Len returns the number of in-flight runs.
func (r *CallbackRegistry) Len() int {
	return r.runs.Size()
}
