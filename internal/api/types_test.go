package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", `"10s"`, 10 * time.Second, false},
		{"minutes", `"2m"`, 2 * time.Minute, false},
		{"millis", `"250ms"`, 250 * time.Millisecond, false},
		{"garbage", `"banana"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("got %s, want %s", d.Duration, tt.want)
			}
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	d := Duration{90 * time.Second}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1m30s"` {
		t.Errorf("got %s, want \"1m30s\"", b)
	}
}

func TestExecuteRequestRoundTrip(t *testing.T) {
	in := `{"task_id":"t1","code":"return 1","timeout":"5s"}`
	var req ExecuteRequest
	if err := json.Unmarshal([]byte(in), &req); err != nil {
		t.Fatal(err)
	}
	if req.TaskID != "t1" || req.Code != "return 1" || req.Timeout.Duration != 5*time.Second {
		t.Errorf("unexpected decode: %+v", req)
	}
}
