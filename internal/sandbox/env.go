package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	mapset "github.com/deckarep/golang-set/v2"
)

// isolateRun is the per-run execution state: one fresh VM, its timer queue,
// and the output capture. VMs are never reused, so anything the script does
// to its own built-ins (prototype pollution included) dies with the run.
type isolateRun struct {
	ctx      context.Context
	vm       *goja.Runtime
	req      Request
	adapter  Adapter
	capture  *outputCapture
	declared mapset.Set[string]
	timers   *timerQueue
}

func newIsolateRun(ctx context.Context, req Request, adapter Adapter, capture *outputCapture, declared mapset.Set[string]) *isolateRun {
	return &isolateRun{
		ctx:      ctx,
		vm:       goja.New(),
		req:      req,
		adapter:  adapter,
		capture:  capture,
		declared: declared,
		timers:   newTimerQueue(),
	}
}

// hardenScript disables every route to dynamic code generation inside the
// VM. This is the primary escape control: without eval or the Function
// constructors there is no way to conjure code from strings, and a fresh
// VM has no process, fetch, or require to begin with. The engine has no
// async generator support, so there is no async generator constructor to
// deny.
const hardenScript = `(function () {
	"use strict";
	var functionProto = Object.getPrototypeOf(function () {});
	var generatorProto = Object.getPrototypeOf(function* () {});
	var asyncProto = Object.getPrototypeOf(async function () {});
	var blocked = function () {
		throw new Error("` + blockedMessage + `");
	};
	var deny = function (obj, name) {
		try {
			Object.defineProperty(obj, name, {
				value: blocked,
				writable: false,
				configurable: false,
			});
		} catch (_) {}
	};
	deny(functionProto, "constructor");
	deny(generatorProto, "constructor");
	deny(asyncProto, "constructor");
	deny(globalThis, "Function");
	deny(globalThis, "eval");
})();`

// execute runs the transpiled code under the run's deadline and returns
// the script's final value or the raw execution error for classification.
func (r *isolateRun) execute(code string) (goja.Value, error) {
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	if _, err := r.vm.RunString(hardenScript); err != nil {
		return nil, fmt.Errorf("hardening isolate: %w", err)
	}

	// The async wrapper lets the top level use await and a final return.
	wrapped := "(async () => {\n" + code + "\n})()"
	prg, err := goja.Compile("task-"+r.req.TaskID+".js", wrapped, false)
	if err != nil {
		return nil, err
	}

	stop := r.armWatchdog()
	defer stop()

	v, err := r.vm.RunProgram(prg)
	if err != nil {
		return nil, err
	}

	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	return r.drive(p)
}

func (r *isolateRun) setupGlobals() error {
	console := r.vm.NewObject()
	for name, stream := range map[string]Stream{
		"log":   StreamStdout,
		"info":  StreamStdout,
		"warn":  StreamStderr,
		"error": StreamStderr,
	} {
		stream := stream
		err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			r.capture.Line(stream, formatConsoleArgs(call.Arguments))
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}

	if err := r.vm.Set("console", console); err != nil {
		return err
	}
	if err := r.vm.Set("setTimeout", r.setTimeoutFn); err != nil {
		return err
	}
	if err := r.vm.Set("clearTimeout", r.clearTimeoutFn); err != nil {
		return err
	}
	return r.vm.Set("tools", r.newToolsProxy(nil))
}

// armWatchdog interrupts the VM when the deadline passes so CPU-bound
// scripts cannot outlive the run. The returned stop function also clears
// the interrupt flag for safety on the happy path.
func (r *isolateRun) armWatchdog() func() {
	deadline, ok := r.ctx.Deadline()
	if !ok {
		return func() {}
	}
	t := time.AfterFunc(time.Until(deadline), func() {
		r.vm.Interrupt(ErrTimeout)
	})
	return func() {
		t.Stop()
		r.vm.ClearInterrupt()
	}
}

// drive pumps scheduled timer callbacks until the wrapper promise settles
// or the deadline fires. A pending promise with no timers can only be
// resolved by the deadline.
func (r *isolateRun) drive(p *goja.Promise) (goja.Value, error) {
	for {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result(), nil
		case goja.PromiseStateRejected:
			return nil, &scriptError{msg: exceptionValueMessage(p.Result())}
		}

		t, ok := r.timers.pop()
		if !ok {
			<-r.ctx.Done()
			return nil, r.ctx.Err()
		}

		if wait := time.Until(t.due); wait > 0 {
			hostTimer := time.NewTimer(wait)
			select {
			case <-r.ctx.Done():
				hostTimer.Stop()
				return nil, r.ctx.Err()
			case <-hostTimer.C:
			}
		}

		if _, err := t.fn(goja.Undefined()); err != nil {
			return nil, err
		}
	}
}

func (r *isolateRun) setTimeoutFn(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("setTimeout requires a function"))
	}
	delay := call.Argument(1).ToInteger()
	if delay < 0 {
		delay = 0
	}
	id := r.timers.add(fn, time.Duration(delay)*time.Millisecond)
	return r.vm.ToValue(id)
}

func (r *isolateRun) clearTimeoutFn(call goja.FunctionCall) goja.Value {
	r.timers.clear(call.Argument(0).ToInteger())
	return goja.Undefined()
}

// throw raises a JS Error inside the VM from native code.
func (r *isolateRun) throw(msg string) {
	ctor := r.vm.Get("Error")
	if ctor != nil {
		if obj, err := r.vm.New(ctor, r.vm.ToValue(msg)); err == nil {
			panic(obj)
		}
	}
	panic(r.vm.ToValue(msg))
}

// scriptError carries the message of an uncaught script rejection.
type scriptError struct {
	msg string
}

func (e *scriptError) Error() string {
	return e.msg
}

// errorMessage extracts the script-facing message from an execution error.
func errorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return exceptionValueMessage(ex.Value())
	}
	return err.Error()
}

// exceptionValueMessage prefers an Error object's message property over
// its string form, so classification sees the raw message text.
func exceptionValueMessage(v goja.Value) string {
	if v == nil {
		return "unknown script error"
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			return m.String()
		}
	}
	return v.String()
}

func formatConsoleArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatConsoleValue(a)
	}
	return strings.Join(parts, " ")
}

func formatConsoleValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if b, err := json.Marshal(obj.Export()); err == nil {
			return string(b)
		}
	}
	return v.String()
}

// stringifyResult renders the script's final value for the result line.
func stringifyResult(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "null"
	}
	exported := v.Export()
	if b, err := json.Marshal(exported); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", exported)
}
