package sandbox

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scriptbox/pkg/toolpath"
)

const (
	// defaultPollInterval is the pending-retry sleep when the adapter does
	// not suggest one.
	defaultPollInterval = 500 * time.Millisecond

	// minPollInterval floors adapter-suggested retry delays.
	minPollInterval = 50 * time.Millisecond
)

// newToolsProxy builds one node of the tools object. Property access
// returns a child node carrying the accumulated dotted path; invocation
// resolves the path at the call boundary and runs the tool-call loop.
// Unknown paths fail closed when a declared tool set is configured.
func (r *isolateRun) newToolsProxy(path []string) goja.Proxy {
	segments := append([]string(nil), path...)

	target := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return goja.Undefined()
	}).(*goja.Object)

	return r.vm.NewProxy(target, &goja.ProxyTrapConfig{
		Get: func(_ *goja.Object, property string, _ goja.Value) goja.Value {
			if reservedProperty(property) {
				return goja.Undefined()
			}
			child := r.newToolsProxy(append(segments, property))
			return r.vm.ToValue(child)
		},
		Has: func(_ *goja.Object, property string) bool {
			return !reservedProperty(property)
		},
		Apply: func(_ *goja.Object, _ goja.Value, args []goja.Value) goja.Value {
			return r.callTool(segments, args)
		},
	})
}

// reservedProperty filters only the names the engine itself probes on a
// tools node: "then", so awaiting a node treats it as a plain value rather
// than a thenable, and symbol lookups. Everything else, including
// method-looking names like "call" or "toString", resolves to a child
// wrapper so paths such as phone.call stay invokable.
func reservedProperty(name string) bool {
	return name == "then" || strings.HasPrefix(name, "Symbol(")
}

func (r *isolateRun) callTool(segments []string, args []goja.Value) goja.Value {
	path := toolpath.Join(segments)
	if _, err := toolpath.Parse(path); err != nil {
		r.throw(ErrUnknownTool.Error() + ": " + path)
	}
	if r.declared != nil && !r.declared.Contains(path) {
		r.throw(ErrUnknownTool.Error() + ": " + path)
	}

	var input any = map[string]any{}
	if len(args) > 0 && args[0] != nil && !goja.IsUndefined(args[0]) && !goja.IsNull(args[0]) {
		input = args[0].Export()
	}

	return r.invokeWithRetry(path, input)
}

// expire re-arms the VM interrupt and returns a throwaway value. The
// watchdog usually fires first; interrupting here as well closes the race
// where the script could finish between the deadline and the watchdog tick.
func (r *isolateRun) expire() goja.Value {
	r.vm.Interrupt(ErrTimeout)
	return goja.Undefined()
}

// invokeWithRetry runs the tool-call loop: one stable call ID per logical
// call, pending outcomes polled indefinitely against the host clock. The
// run deadline is the only backstop for a call that stays pending; there
// is deliberately no retry cap.
func (r *isolateRun) invokeWithRetry(path string, input any) goja.Value {
	req := ToolCallRequest{
		RunID:    r.req.TaskID,
		CallID:   uuid.NewString(),
		ToolPath: path,
		Input:    input,
	}

	for {
		if r.ctx.Err() != nil {
			return r.expire()
		}

		res := r.adapter.InvokeTool(r.ctx, req)

		if r.ctx.Err() != nil {
			// The deadline passed while the call was in flight. Discard the
			// result; the script never observes it.
			return r.expire()
		}

		switch res.State {
		case ToolCallOK:
			return r.vm.ToValue(res.Value)
		case ToolCallPending:
			wait := res.RetryAfter
			if wait <= 0 {
				wait = defaultPollInterval
			}
			if wait < minPollInterval {
				wait = minPollInterval
			}
			hostTimer := time.NewTimer(wait)
			select {
			case <-r.ctx.Done():
				hostTimer.Stop()
				return r.expire()
			case <-hostTimer.C:
			}
		case ToolCallDenied:
			r.throw(deniedMarker + res.Err)
		case ToolCallFailed:
			r.throw(res.Err)
		default:
			log.Error().
				Str("run_id", r.req.TaskID).
				Str("state", string(res.State)).
				Msg("adapter returned unknown tool call state")
			r.throw("tool call failed: unknown adapter state")
		}
	}
}
