package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"scriptbox/internal/sandbox"
)

// hostAdapter is the standalone server's adapter. It has no tool catalog
// wired in, so every tool call fails with the standard not-found message;
// output lines go to the structured log. Real deployments embed the
// runtime as a library and supply their own adapter.
type hostAdapter struct{}

func newHostAdapter() sandbox.Adapter {
	return &hostAdapter{}
}

func (a *hostAdapter) InvokeTool(_ context.Context, req sandbox.ToolCallRequest) sandbox.ToolCallResult {
	log.Debug().
		Str("run_id", req.RunID).
		Str("call_id", req.CallID).
		Str("tool_path", req.ToolPath).
		Msg("tool call with no catalog attached")
	return sandbox.ToolFailed("Tool not found: " + req.ToolPath)
}

func (a *hostAdapter) EmitOutput(_ context.Context, ev sandbox.OutputEvent) error {
	log.Info().
		Str("run_id", ev.RunID).
		Str("stream", string(ev.Stream)).
		Msg(ev.Line)
	return nil
}
