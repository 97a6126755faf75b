package workflow

import (
	"encoding/json"

	"sermonflow/internal/assignment"
	"sermonflow/internal/store"
)

// CreateRequest describes a new workflow.
type CreateRequest struct {
	Name      string   `json:"name"`
	EntityRef string   `json:"entity_ref"`
	TaskTypes []string `json:"task_types"`
	// Priority ranges from 1 to 5, 5 being the most urgent. Zero means 3.
	Priority int `json:"priority"`
	// MaxRetries overrides assignment.default_max_retries when set.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// StatusUpdate is a status report for one task, usually from the external
// queue's callback.
type StatusUpdate struct {
	TaskID      string           `json:"task_id"`
	Status      store.TaskStatus `json:"status"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	PerformedBy string           `json:"performed_by,omitempty"`
	// JobHandle fences the report to one dispatch attempt. Reports carrying
	// a handle other than the task's current one are ignored. Empty means an
	// operator update, which is not fenced.
	JobHandle string `json:"job_handle,omitempty"`
}

// AssignRequest forces an assignment attempt for one task.
type AssignRequest struct {
	TaskID      string          `json:"task_id"`
	Strategy    assignment.Kind `json:"strategy,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	PerformedBy string          `json:"performed_by,omitempty"`
}

// UpdateResult reports what a status update did.
type UpdateResult struct {
	Task *store.Task `json:"task"`
	// Changed is false when the update repeated the current status.
	Changed bool `json:"changed"`
	// Retried is true when a failure was turned back into pending.
	Retried bool `json:"retried,omitempty"`
	// Stale is true when the report belonged to an earlier attempt and was
	// ignored.
	Stale bool `json:"stale,omitempty"`
	// WorkflowStatus is the owning workflow's status after recompute.
	WorkflowStatus store.WorkflowStatus `json:"workflow_status"`
}

// StartResult reports the outcome of starting a workflow.
type StartResult struct {
	Started    bool                `json:"started"`
	Assigned   int                 `json:"assigned"`
	Unassigned int                 `json:"unassigned"`
	Results    []assignment.Result `json:"results,omitempty"`
}
