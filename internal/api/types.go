package api

import (
	"encoding/json"

	"sermonflow/internal/assignment"
	"sermonflow/internal/store"
	"sermonflow/internal/workflow"
)

// WorkflowList is the response for GET /api/workflows.
type WorkflowList struct {
	Workflows []*store.Workflow `json:"workflows"`
}

// TaskList is the response for GET /api/tasks.
type TaskList struct {
	Tasks []*store.Task `json:"tasks"`
}

// WorkerList is the response for GET /api/workers.
type WorkerList struct {
	Workers []*store.Worker `json:"workers"`
}

// AuditList is the response for GET /api/audit.
type AuditList struct {
	Entries []*store.AuditEntry `json:"entries"`
}

// FailRequest is the body for POST /api/workflows/:id/fail.
type FailRequest struct {
	Reason string `json:"reason"`
}

// AssignBody is the body for POST /api/tasks/:id/assign.
type AssignBody struct {
	Strategy string `json:"strategy"`
	WorkerID string `json:"worker_id"`
}

// StatusBody is the body for POST /api/tasks/:id/status.
type StatusBody struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	// JobHandle is the handle returned at dispatch; it fences callbacks to
	// the attempt that sent them.
	JobHandle string `json:"job_handle,omitempty"`
}

// AvailabilityBody is the body for POST /api/workers/:id/availability.
type AvailabilityBody struct {
	Available bool `json:"available"`
}

// ReconcilerStatus reports the background sweep state.
type ReconcilerStatus struct {
	Running   bool                 `json:"running"`
	LastPass  workflow.SweepResult `json:"last_pass"`
	LastError string               `json:"last_error,omitempty"`
}

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Summary    store.StatusSummary  `json:"summary"`
	Database   store.DatabaseHealth `json:"database"`
	Assignment assignment.Stats     `json:"assignment"`
	Strategy   assignment.Kind      `json:"default_strategy"`
	Reconciler *ReconcilerStatus    `json:"reconciler,omitempty"`
}
