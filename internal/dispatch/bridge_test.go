package dispatch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sermonflow/internal/dispatch"
	"sermonflow/internal/logging"
	"sermonflow/internal/testsupport"
)

func TestNewBridgeFallsBackToLog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	bridge := dispatch.NewBridge(cfg, logging.NewNop())
	if _, ok := bridge.(*dispatch.LogBridge); !ok {
		t.Fatalf("expected LogBridge, got %T", bridge)
	}
	handle, err := bridge.Enqueue(context.Background(), dispatch.Job{TaskID: "t1"})
	if err != nil || !strings.HasPrefix(string(handle), "local-") {
		t.Fatalf("Enqueue = %q, %v", handle, err)
	}
}

func TestHTTPBridgePostsJob(t *testing.T) {
	var (
		gotAuth string
		gotKey  string
		gotJob  dispatch.Job
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotJob); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-42"}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithDispatchEndpoint(srv.URL))
	cfg.Dispatch.Token = "secret"
	bridge := dispatch.NewBridge(cfg, logging.NewNop())

	handle, err := bridge.Enqueue(context.Background(), dispatch.Job{
		TaskID:   "t1",
		TaskType: "transcription",
		WorkerID: "w1",
		Payload:  json.RawMessage(`{"media":"s3://bucket/sermon.mp4"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if handle != "job-42" {
		t.Fatalf("handle = %q", handle)
	}
	if gotAuth != "Bearer secret" || gotKey != "t1" {
		t.Fatalf("headers auth=%q key=%q", gotAuth, gotKey)
	}
	if gotJob.TaskType != "transcription" || gotJob.WorkerID != "w1" {
		t.Fatalf("job = %+v", gotJob)
	}
}

func TestHTTPBridgeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusServiceUnavailable, "queue down", "returned 503: queue down"},
		{"missing job id", http.StatusOK, `{}`, "missing job_id"},
		{"malformed body", http.StatusOK, `not json`, "decode dispatch response"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			bridge := dispatch.NewHTTPBridge(srv.URL, "", nil)
			_, err := bridge.Enqueue(context.Background(), dispatch.Job{TaskID: "t1"})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
