package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scriptbox/internal/api"
	"scriptbox/internal/monitor"
	"scriptbox/internal/sandbox"
)

// toolboxAdapter is a small working adapter: a calculator tool, a
// two-poll pending tool, and a denied tool.
type toolboxAdapter struct {
	pendingSeen map[string]int
}

func newToolboxAdapter() *toolboxAdapter {
	return &toolboxAdapter{pendingSeen: make(map[string]int)}
}

func (a *toolboxAdapter) InvokeTool(_ context.Context, req sandbox.ToolCallRequest) sandbox.ToolCallResult {
	switch req.ToolPath {
	case "calc.add":
		input, _ := req.Input.(map[string]any)
		x, _ := input["a"].(int64)
		y, _ := input["b"].(int64)
		return sandbox.ToolOK(x + y)
	case "approvals.slow":
		a.pendingSeen[req.CallID]++
		if a.pendingSeen[req.CallID] < 3 {
			return sandbox.ToolPending(50 * time.Millisecond)
		}
		return sandbox.ToolOK("approved")
	case "secrets.read":
		return sandbox.ToolDenied("secrets are off limits")
	default:
		return sandbox.ToolFailed("Tool not found: " + req.ToolPath)
	}
}

func (a *toolboxAdapter) EmitOutput(_ context.Context, _ sandbox.OutputEvent) error {
	return nil
}

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	backend := sandbox.NewRunner(sandbox.RunnerOptions{})
	t.Cleanup(func() { backend.Close() })

	registry := sandbox.NewCallbackRegistry()
	metrics := monitor.NewMetrics()
	handlers := api.NewHandlers(backend, newToolboxAdapter(), registry, metrics, 10*time.Second, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", handlers.HandleExecute)
	mux.HandleFunc("POST /callback/tool", handlers.HandleToolCallback)
	mux.HandleFunc("POST /callback/output", handlers.HandleOutputCallback)

	ts := httptest.NewServer(api.RequestIDMiddleware(mux))
	t.Cleanup(ts.Close)
	return ts
}

func execute(t *testing.T, ts *httptest.Server, body map[string]any) api.ExecuteResponse {
	t.Helper()

	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/execute", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST /execute: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out api.ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestExecute_EndToEnd(t *testing.T) {
	ts := setupTestServer(t)

	out := execute(t, ts, map[string]any{
		"code": `console.log("starting"); return tools.calc.add({a: 19, b: 23});`,
	})

	if out.Status != "completed" {
		t.Fatalf("status = %s, error = %s", out.Status, out.Error)
	}
	if !strings.Contains(out.Stdout, "starting") {
		t.Errorf("stdout = %q", out.Stdout)
	}
	if !strings.Contains(out.Stdout, "result: 42") {
		t.Errorf("stdout = %q, want result: 42", out.Stdout)
	}
}

func TestExecute_PendingToolEventuallyCompletes(t *testing.T) {
	ts := setupTestServer(t)

	out := execute(t, ts, map[string]any{
		"code": `return tools.approvals.slow();`,
	})

	if out.Status != "completed" {
		t.Fatalf("status = %s, error = %s", out.Status, out.Error)
	}
	if !strings.Contains(out.Stdout, `result: "approved"`) {
		t.Errorf("stdout = %q", out.Stdout)
	}
}

func TestExecute_DeniedTool(t *testing.T) {
	ts := setupTestServer(t)

	out := execute(t, ts, map[string]any{
		"code": `tools.secrets.read();`,
	})

	if out.Status != "denied" {
		t.Fatalf("status = %s, want denied", out.Status)
	}
	if out.Error != "secrets are off limits" {
		t.Errorf("error = %q", out.Error)
	}
}

func TestExecute_Timeout(t *testing.T) {
	ts := setupTestServer(t)

	out := execute(t, ts, map[string]any{
		"code":    `while (true) {}`,
		"timeout": "200ms",
	})

	if out.Status != "timed_out" {
		t.Fatalf("status = %s, want timed_out", out.Status)
	}
	if out.Error != "Execution timed out after 200ms" {
		t.Errorf("error = %q", out.Error)
	}
	if out.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", out.ExitCode)
	}
}

func TestExecute_SyntaxError(t *testing.T) {
	ts := setupTestServer(t)

	out := execute(t, ts, map[string]any{
		"code": `const = definitely not valid ((`,
	})

	if out.Status != "failed" {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if !strings.Contains(out.Error, "script syntax error") {
		t.Errorf("error = %q", out.Error)
	}
}

func TestExecute_MissingCode(t *testing.T) {
	ts := setupTestServer(t)

	b, _ := json.Marshal(map[string]any{"task_id": "no-code"})
	resp, err := http.Post(ts.URL+"/execute", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCallbackSurface_RoundTrip(t *testing.T) {
	backend := sandbox.NewRunner(sandbox.RunnerOptions{})
	t.Cleanup(func() { backend.Close() })

	registry := sandbox.NewCallbackRegistry()
	handlers := api.NewHandlers(backend, newToolboxAdapter(), registry, monitor.NewMetrics(), 10*time.Second, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /callback/tool", handlers.HandleToolCallback)
	mux.HandleFunc("POST /callback/output", handlers.HandleOutputCallback)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	// Simulate an in-flight remote dispatch.
	registry.Register("run-remote", newToolboxAdapter())
	defer registry.Unregister("run-remote")

	b, _ := json.Marshal(api.ToolCallbackRequest{
		RunID:    "run-remote",
		CallID:   "c1",
		ToolPath: "calc.add",
		Input:    map[string]any{"a": 2, "b": 3},
	})
	resp, err := http.Post(ts.URL+"/callback/tool", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out api.ToolCallbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.State != "ok" {
		t.Errorf("state = %q, error = %q", out.State, out.Error)
	}

	// Output callback for the same run.
	ob, _ := json.Marshal(api.OutputCallbackRequest{
		RunID:  "run-remote",
		Stream: "stdout",
		Line:   "from the isolate",
	})
	oresp, err := http.Post(ts.URL+"/callback/output", "application/json", bytes.NewReader(ob))
	if err != nil {
		t.Fatal(err)
	}
	defer oresp.Body.Close()
	if oresp.StatusCode != http.StatusAccepted {
		t.Errorf("output callback status = %d, want 202", oresp.StatusCode)
	}

	// After the run is gone, callbacks are rejected.
	registry.Unregister("run-remote")
	resp2, err := http.Post(ts.URL+"/callback/tool", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("stale callback status = %d, want 404", resp2.StatusCode)
	}
}

func TestExecute_ConcurrentRuns(t *testing.T) {
	ts := setupTestServer(t)

	type outcome struct {
		resp api.ExecuteResponse
		err  error
	}

	done := make(chan outcome, 4)
	for i := 0; i < 4; i++ {
		go func() {
			b, _ := json.Marshal(map[string]any{
				"code": `return tools.calc.add({a: 20, b: 22});`,
			})
			resp, err := http.Post(ts.URL+"/execute", "application/json", bytes.NewReader(b))
			if err != nil {
				done <- outcome{err: err}
				return
			}
			defer resp.Body.Close()

			var out outcome
			out.err = json.NewDecoder(resp.Body).Decode(&out.resp)
			done <- out
		}()
	}

	for i := 0; i < 4; i++ {
		out := <-done
		if out.err != nil {
			t.Fatalf("run %d: %v", i, out.err)
		}
		if out.resp.Status != "completed" {
			t.Errorf("run %d: status = %s, error = %s", i, out.resp.Status, out.resp.Error)
		}
	}
}
