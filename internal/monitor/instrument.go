package monitor

import (
	"context"

	"scriptbox/internal/sandbox"
)

// InstrumentedAdapter wraps an Adapter and records tool-call outcomes and
// forwarded output lines.
type InstrumentedAdapter struct {
	inner   sandbox.Adapter
	metrics *Metrics
}

// InstrumentAdapter wraps adapter with metric recording. Returns the
// adapter unchanged when metrics is nil.
func InstrumentAdapter(adapter sandbox.Adapter, metrics *Metrics) sandbox.Adapter {
	if metrics == nil {
		return adapter
	}
	return &InstrumentedAdapter{inner: adapter, metrics: metrics}
}

func (a *InstrumentedAdapter) InvokeTool(ctx context.Context, req sandbox.ToolCallRequest) sandbox.ToolCallResult {
	result := a.inner.InvokeTool(ctx, req)
	a.metrics.ToolCallsTotal.WithLabelValues(string(result.State)).Inc()
	if result.State == sandbox.ToolCallPending {
		a.metrics.PendingRetries.Inc()
	}
	return result
}

func (a *InstrumentedAdapter) EmitOutput(ctx context.Context, event sandbox.OutputEvent) error {
	a.metrics.OutputLines.WithLabelValues(string(event.Stream)).Inc()
	return a.inner.EmitOutput(ctx, event)
}
