package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"sermonflow/internal/config"
	"sermonflow/internal/logging"
)

const userAgent = "Sermonflow-Go/0.1.0"

// Job is one assigned task handed to the queue.
type Job struct {
	TaskID     string          `json:"task_id"`
	WorkflowID string          `json:"workflow_id"`
	TaskType   string          `json:"task_type"`
	WorkerID   string          `json:"worker_id"`
	EntityRef  string          `json:"entity_ref,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Handle identifies a job inside the external queue.
type Handle string

// Bridge enqueues jobs on the external queue.
type Bridge interface {
	Enqueue(ctx context.Context, job Job) (Handle, error)
}

// NewBridge builds the bridge configured by cfg.Dispatch.
func NewBridge(cfg *config.Config, logger *slog.Logger) Bridge {
	endpoint := strings.TrimSpace(cfg.Dispatch.Endpoint)
	if endpoint == "" {
		return NewLogBridge(logger)
	}
	timeout := cfg.DispatchTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewHTTPBridge(endpoint, cfg.Dispatch.Token, &http.Client{Timeout: timeout})
}

// HTTPBridge posts jobs as JSON to a queue endpoint.
type HTTPBridge struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPBridge returns a bridge posting to endpoint. A nil client uses a
// client with a ten second timeout.
func NewHTTPBridge(endpoint, token string, client *http.Client) *HTTPBridge {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBridge{endpoint: endpoint, token: strings.TrimSpace(token), client: client}
}

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

// Enqueue posts job and returns the queue's job id.
func (b *HTTPBridge) Enqueue(ctx context.Context, job Job) (Handle, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode dispatch job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", job.TaskID)
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("dispatch endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var decoded enqueueResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode dispatch response: %w", err)
	}
	if strings.TrimSpace(decoded.JobID) == "" {
		return "", errors.New("dispatch response missing job_id")
	}
	return Handle(decoded.JobID), nil
}

// LogBridge records jobs in the log and returns synthetic handles. It stands
// in when no queue is configured so assignments can be driven by hand.
type LogBridge struct {
	logger *slog.Logger
}

// NewLogBridge returns a LogBridge.
func NewLogBridge(logger *slog.Logger) *LogBridge {
	return &LogBridge{logger: logging.NewComponentLogger(logger, "dispatch")}
}

// Enqueue logs job and returns a "local-" handle.
func (b *LogBridge) Enqueue(ctx context.Context, job Job) (Handle, error) {
	handle := Handle("local-" + uuid.NewString())
	logging.WithContext(ctx, b.logger).Info("job dispatched",
		logging.String(logging.FieldTaskID, job.TaskID),
		logging.String(logging.FieldWorkerID, job.WorkerID),
		logging.String("task_type", job.TaskType),
		logging.String("job_handle", string(handle)),
	)
	return handle, nil
}

// BridgeFunc adapts a function to Bridge.
type BridgeFunc func(ctx context.Context, job Job) (Handle, error)

// Enqueue calls f.
func (f BridgeFunc) Enqueue(ctx context.Context, job Job) (Handle, error) {
	return f(ctx, job)
}
