package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func remoteConfigFor(url string) RemoteConfig {
	return RemoteConfig{
		Endpoint:        url,
		AuthToken:       "dispatch-token",
		CallbackBaseURL: "https://host.example.com/callback",
		CallbackSecret:  "callback-secret",
		RequestTimeout:  5 * time.Second,
	}
}

func TestRemoteRun_Success(t *testing.T) {
	var gotAuth string
	var gotBody dispatchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding dispatch request: %v", err)
		}
		json.NewEncoder(w).Encode(dispatchResponse{
			Status:   "completed",
			Stdout:   "hello\nresult: 42",
			ExitCode: 0,
		})
	}))
	defer srv.Close()

	registry := NewCallbackRegistry()
	runner := NewRemoteRunner(remoteConfigFor(srv.URL), registry, nil, nil)

	result, err := runner.Run(context.Background(), Request{
		TaskID:  "remote-1",
		Code:    "console.log('hello'); return 42;",
		Timeout: 10 * time.Second,
	}, &scriptedAdapter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("status = %s, want completed (error: %s)", result.Status, result.Error)
	}
	if result.Stdout != "hello\nresult: 42" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if gotAuth != "Bearer dispatch-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody.TaskID != "remote-1" {
		t.Errorf("task id = %q", gotBody.TaskID)
	}
	if gotBody.TimeoutMs != 10000 {
		t.Errorf("timeout_ms = %d, want 10000", gotBody.TimeoutMs)
	}
	if gotBody.Callback.BaseURL != "https://host.example.com/callback" {
		t.Errorf("callback base url = %q", gotBody.Callback.BaseURL)
	}
	if gotBody.Callback.AuthToken != "callback-secret" {
		t.Errorf("callback token = %q", gotBody.Callback.AuthToken)
	}
	if !strings.Contains(gotBody.Code, "hello") {
		t.Errorf("dispatched code = %q", gotBody.Code)
	}
}

func TestRemoteRun_RegistersAdapterDuringDispatch(t *testing.T) {
	registry := NewCallbackRegistry()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := registry.Resolve("remote-2"); !ok {
			t.Error("adapter not registered while dispatch in flight")
		}
		json.NewEncoder(w).Encode(dispatchResponse{Status: "completed"})
	}))
	defer srv.Close()

	runner := NewRemoteRunner(remoteConfigFor(srv.URL), registry, nil, nil)

	if _, err := runner.Run(context.Background(), Request{
		TaskID: "remote-2", Code: "1", Timeout: time.Second,
	}, &scriptedAdapter{}); err != nil {
		t.Fatal(err)
	}

	if _, ok := registry.Resolve("remote-2"); ok {
		t.Error("adapter still registered after the run finished")
	}
}

func TestRemoteRun_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		response   dispatchResponse
		wantStatus Status
		wantErrSub string
	}{
		{"completed", dispatchResponse{Status: "completed"}, StatusCompleted, ""},
		{"timed_out", dispatchResponse{Status: "timed_out", Error: "Execution timed out after 500ms"}, StatusTimedOut, "timed out"},
		{"denied", dispatchResponse{Status: "denied", Error: "no approval"}, StatusDenied, "no approval"},
		{"failed", dispatchResponse{Status: "failed", Error: "boom"}, StatusFailed, "boom"},
		{"unrecognized folds to failed", dispatchResponse{Status: "exploded"}, StatusFailed, `status "exploded"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.response)
			}))
			defer srv.Close()

			runner := NewRemoteRunner(remoteConfigFor(srv.URL), NewCallbackRegistry(), nil, nil)
			result, err := runner.Run(context.Background(), Request{
				TaskID: "map", Code: "1", Timeout: time.Second,
			}, &scriptedAdapter{})
			if err != nil {
				t.Fatal(err)
			}

			if result.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", result.Status, tt.wantStatus)
			}
			if tt.wantErrSub != "" && !strings.Contains(result.Error, tt.wantErrSub) {
				t.Errorf("error = %q, want substring %q", result.Error, tt.wantErrSub)
			}
		})
	}
}

func TestRemoteRun_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "isolate pool exhausted", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	runner := NewRemoteRunner(remoteConfigFor(srv.URL), NewCallbackRegistry(), nil, nil)
	result, err := runner.Run(context.Background(), Request{
		TaskID: "err", Code: "1", Timeout: time.Second,
	}, &scriptedAdapter{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "503") {
		t.Errorf("error = %q, want the HTTP status surfaced", result.Error)
	}
	if !strings.Contains(result.Stderr, "isolate pool exhausted") {
		t.Errorf("stderr = %q, want the response body surfaced", result.Stderr)
	}
}

func TestRemoteRun_InvalidJSONFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	runner := NewRemoteRunner(remoteConfigFor(srv.URL), NewCallbackRegistry(), nil, nil)
	result, err := runner.Run(context.Background(), Request{
		TaskID: "bad-json", Code: "1", Timeout: time.Second,
	}, &scriptedAdapter{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "invalid JSON") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestRemoteRun_RequestTimeoutMapsToTimedOut(t *testing.T) {
	// Released via Cleanup rather than relying on the client disconnect
	// propagating to the request context, which not every host does.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := remoteConfigFor(srv.URL)
	cfg.RequestTimeout = 100 * time.Millisecond

	runner := NewRemoteRunner(cfg, NewCallbackRegistry(), nil, nil)
	result, err := runner.Run(context.Background(), Request{
		TaskID: "slow", Code: "1", Timeout: time.Second,
	}, &scriptedAdapter{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusTimedOut {
		t.Errorf("status = %s, want timed_out (error: %s)", result.Status, result.Error)
	}
	if !strings.Contains(result.Error, "isolate service request timed out") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestRemoteRun_TranspileFailureShortCircuits(t *testing.T) {
	dispatched := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatched = true
		json.NewEncoder(w).Encode(dispatchResponse{Status: "completed"})
	}))
	defer srv.Close()

	runner := NewRemoteRunner(remoteConfigFor(srv.URL), NewCallbackRegistry(), nil, nil)
	result, err := runner.Run(context.Background(), Request{
		TaskID: "syntax", Code: "const = broken ((", Timeout: time.Second,
	}, &scriptedAdapter{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != StatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Error, "script syntax error") {
		t.Errorf("error = %q", result.Error)
	}
	if dispatched {
		t.Error("rejected scripts must not reach the isolate service")
	}
}

func TestRemoteRun_NilAdapterIsContractMisuse(t *testing.T) {
	runner := NewRemoteRunner(remoteConfigFor("http://127.0.0.1:0"), NewCallbackRegistry(), nil, nil)
	if _, err := runner.Run(context.Background(), Request{TaskID: "x", Code: "1"}, nil); err == nil {
		t.Fatal("expected an error for nil adapter")
	}
}

func TestRemoteConfigValidate(t *testing.T) {
	full := RemoteConfig{
		Endpoint:        "https://isolates.example.com/run",
		AuthToken:       "t",
		CallbackBaseURL: "https://host.example.com/callback",
		CallbackSecret:  "s",
	}
	if err := full.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	missing := RemoteConfig{Endpoint: "https://isolates.example.com/run"}
	err := missing.Validate()
	if err == nil {
		t.Fatal("expected an error for missing settings")
	}
	for _, field := range []string{"auth_token", "callback_base_url", "callback_secret"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q should name missing field %s", err, field)
		}
	}
}
