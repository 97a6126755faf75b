package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending        TaskStatus = "pending"
	TaskAssigned       TaskStatus = "assigned"
	TaskInProgress     TaskStatus = "in_progress"
	TaskCompleted      TaskStatus = "completed"
	TaskFailed         TaskStatus = "failed"
	TaskReviewRequired TaskStatus = "review_required"
	TaskCancelled      TaskStatus = "cancelled"
)

var taskStatusSet = map[TaskStatus]struct{}{
	TaskPending:        {},
	TaskAssigned:       {},
	TaskInProgress:     {},
	TaskCompleted:      {},
	TaskFailed:         {},
	TaskReviewRequired: {},
	TaskCancelled:      {},
}

// ParseTaskStatus converts a string into a known task status.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	normalized := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := taskStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions are accepted.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// HoldsLoad reports whether a task in this state occupies a worker slot.
func (s TaskStatus) HoldsLoad() bool {
	return s == TaskAssigned || s == TaskInProgress || s == TaskReviewRequired
}

// WorkflowStatus represents the derived state of a workflow.
type WorkflowStatus string

const (
	WorkflowCreated        WorkflowStatus = "created"
	WorkflowProcessing     WorkflowStatus = "processing"
	WorkflowCompleted      WorkflowStatus = "completed"
	WorkflowPartialFailure WorkflowStatus = "partial_failure"
	WorkflowFailed         WorkflowStatus = "failed"
	WorkflowCancelled      WorkflowStatus = "cancelled"
)

var workflowStatusSet = map[WorkflowStatus]struct{}{
	WorkflowCreated:        {},
	WorkflowProcessing:     {},
	WorkflowCompleted:      {},
	WorkflowPartialFailure: {},
	WorkflowFailed:         {},
	WorkflowCancelled:      {},
}

// ParseWorkflowStatus converts a string into a known workflow status.
func ParseWorkflowStatus(value string) (WorkflowStatus, bool) {
	normalized := WorkflowStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := workflowStatusSet[normalized]
	return normalized, ok
}

// IsClosed reports whether the workflow no longer tracks task progress.
// PARTIAL_FAILURE stays open so surviving tasks can still finish.
func (s WorkflowStatus) IsClosed() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// IsActive reports whether tasks of the workflow are eligible for assignment.
func (s WorkflowStatus) IsActive() bool {
	return s == WorkflowProcessing || s == WorkflowPartialFailure
}

// Skill describes one capability a worker can hold.
type Skill struct {
	Name             string   `json:"name" yaml:"name"`
	Category         string   `json:"category" yaml:"category"`
	RequiredToolTags []string `json:"required_tool_tags,omitempty" yaml:"required_tool_tags"`
}

// Performance aggregates a worker's completion history.
type Performance struct {
	CompletedCount       int     `json:"completed_count"`
	AvgCompletionSeconds float64 `json:"avg_completion_seconds"`
	Rating               float64 `json:"rating"`
}

// Worker is a human or automated actor with skills and a capacity limit.
type Worker struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Skills        []string    `json:"skills"`
	IsActive      bool        `json:"is_active"`
	IsAvailable   bool        `json:"is_available"`
	CurrentLoad   int         `json:"current_load"`
	MaxConcurrent int         `json:"max_concurrent"`
	Performance   Performance `json:"performance"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// HasCapacity reports whether the worker can take another task.
func (w *Worker) HasCapacity() bool {
	return w != nil && w.CurrentLoad < w.MaxConcurrent
}

// Workflow groups the tasks processing one media entity.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	EntityRef   string         `json:"entity_ref"`
	Status      WorkflowStatus `json:"status"`
	Priority    int            `json:"priority"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Tasks       []*Task        `json:"tasks,omitempty"`
}

// Task is one unit of skill-gated work inside a workflow.
type Task struct {
	ID                 string          `json:"id"`
	WorkflowID         string          `json:"workflow_id"`
	TaskType           string          `json:"task_type"`
	Status             TaskStatus      `json:"status"`
	RequiredSkills     []string        `json:"required_skills"`
	AssignedTo         string          `json:"assigned_to,omitempty"`
	AssignmentScore    *float64        `json:"assignment_score,omitempty"`
	AssignmentReason   string          `json:"assignment_reason,omitempty"`
	AssignmentStrategy string          `json:"assignment_strategy,omitempty"`
	RetryCount         int             `json:"retry_count"`
	MaxRetries         int             `json:"max_retries"`
	Result             json.RawMessage `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
	JobHandle          string          `json:"job_handle,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	AssignedAt         *time.Time      `json:"assigned_at,omitempty"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	LastHeartbeat      *time.Time      `json:"last_heartbeat,omitempty"`
}

// ClearAssignment drops the worker reference and score, returning the task to the pool.
func (t *Task) ClearAssignment() {
	t.AssignedTo = ""
	t.AssignmentScore = nil
	t.AssignmentReason = ""
	t.AssignmentStrategy = ""
	t.AssignedAt = nil
	t.StartedAt = nil
	t.LastHeartbeat = nil
	t.JobHandle = ""
}

// AuditEntry is one immutable record of an engine event.
type AuditEntry struct {
	ID          int64          `json:"id"`
	TaskID      string         `json:"task_id,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	WorkflowID string
	AssignedTo string
	Statuses   []TaskStatus
}

// AuditFilter narrows audit listings. Zero values are ignored.
type AuditFilter struct {
	TaskID     string
	WorkflowID string
	Action     string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// WorkerFilter narrows worker listings.
type WorkerFilter struct {
	ActiveOnly bool
	// Assignable limits results to active, available workers under capacity.
	Assignable bool
}

// Progress summarizes task counts for one workflow.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	InProgress int     `json:"in_progress"`
	Pending    int     `json:"pending"`
	Cancelled  int     `json:"cancelled"`
	Percentage float64 `json:"percentage"`
}

// ProgressFromCounts builds a Progress from per-status counts. Assigned and
// review-required tasks count as in progress.
func ProgressFromCounts(counts map[TaskStatus]int) Progress {
	var p Progress
	for status, n := range counts {
		p.Total += n
		switch status {
		case TaskCompleted:
			p.Completed += n
		case TaskFailed:
			p.Failed += n
		case TaskPending:
			p.Pending += n
		case TaskCancelled:
			p.Cancelled += n
		default:
			p.InProgress += n
		}
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}

// StatusSummary aggregates counts for diagnostic output.
type StatusSummary struct {
	Tasks         map[TaskStatus]int     `json:"tasks"`
	Workflows     map[WorkflowStatus]int `json:"workflows"`
	ActiveWorkers int                    `json:"active_workers"`
	TotalLoad     int                    `json:"total_load"`
	TotalCapacity int                    `json:"total_capacity"`
	AuditEntries  int                    `json:"audit_entries"`
}

// DatabaseHealth describes the on-disk database for diagnostics.
type DatabaseHealth struct {
	DBPath         string `json:"db_path"`
	DatabaseExists bool   `json:"database_exists"`
	SchemaVersion  int    `json:"schema_version"`
	IntegrityCheck bool   `json:"integrity_check"`
	Error          string `json:"error,omitempty"`
}

func (h DatabaseHealth) String() string {
	return fmt.Sprintf("db=%s exists=%v schema=%d integrity=%v", h.DBPath, h.DatabaseExists, h.SchemaVersion, h.IntegrityCheck)
}
