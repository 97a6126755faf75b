package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

const taskColumns = "id, workflow_id, task_type, status, required_skills_json, assigned_to, assignment_score, assignment_reason, assignment_strategy, retry_count, max_retries, result_json, error_message, job_handle, version, created_at, updated_at, assigned_at, started_at, completed_at, last_heartbeat"

var prefixedTaskColumns = prefixColumns("t.", taskColumns)

const workerColumns = "id, name, skills_json, is_active, is_available, current_load, max_concurrent, completed_count, avg_completion_seconds, rating, created_at, updated_at"

const workflowColumns = "id, name, entity_ref, status, priority, error_message, created_at, updated_at, started_at, completed_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task         Task
		statusStr    string
		skillsRaw    string
		assignedTo   sql.NullString
		score        sql.NullFloat64
		reason       sql.NullString
		strategy     sql.NullString
		resultRaw    sql.NullString
		errorMessage sql.NullString
		jobHandle    sql.NullString
		createdRaw   string
		updatedRaw   string
		assignedRaw  sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.WorkflowID,
		&task.TaskType,
		&statusStr,
		&skillsRaw,
		&assignedTo,
		&score,
		&reason,
		&strategy,
		&task.RetryCount,
		&task.MaxRetries,
		&resultRaw,
		&errorMessage,
		&jobHandle,
		&task.Version,
		&createdRaw,
		&updatedRaw,
		&assignedRaw,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	task.Status = TaskStatus(statusStr)
	task.RequiredSkills = decodeStrings(skillsRaw)
	task.AssignedTo = assignedTo.String
	if score.Valid {
		v := score.Float64
		task.AssignmentScore = &v
	}
	task.AssignmentReason = reason.String
	task.AssignmentStrategy = strategy.String
	if resultRaw.Valid && resultRaw.String != "" {
		task.Result = json.RawMessage(resultRaw.String)
	}
	task.Error = errorMessage.String
	task.JobHandle = jobHandle.String
	task.CreatedAt = parseTime(createdRaw)
	task.UpdatedAt = parseTime(updatedRaw)
	task.AssignedAt = parseNullTime(assignedRaw)
	task.StartedAt = parseNullTime(startedRaw)
	task.CompletedAt = parseNullTime(completedRaw)
	task.LastHeartbeat = parseNullTime(heartbeatRaw)
	return &task, nil
}

func scanWorker(scanner rowScanner) (*Worker, error) {
	var (
		worker     Worker
		skillsRaw  string
		active     int
		available  int
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&worker.ID,
		&worker.Name,
		&skillsRaw,
		&active,
		&available,
		&worker.CurrentLoad,
		&worker.MaxConcurrent,
		&worker.Performance.CompletedCount,
		&worker.Performance.AvgCompletionSeconds,
		&worker.Performance.Rating,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	worker.Skills = decodeStrings(skillsRaw)
	worker.IsActive = active != 0
	worker.IsAvailable = available != 0
	worker.CreatedAt = parseTime(createdRaw)
	worker.UpdatedAt = parseTime(updatedRaw)
	return &worker, nil
}

func scanWorkflow(scanner rowScanner) (*Workflow, error) {
	var (
		wf           Workflow
		statusStr    string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&wf.ID,
		&wf.Name,
		&wf.EntityRef,
		&statusStr,
		&wf.Priority,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	wf.Status = WorkflowStatus(statusStr)
	wf.Error = errorMessage.String
	wf.CreatedAt = parseTime(createdRaw)
	wf.UpdatedAt = parseTime(updatedRaw)
	wf.StartedAt = parseNullTime(startedRaw)
	wf.CompletedAt = parseNullTime(completedRaw)
	return &wf, nil
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	var out []string
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, part := range parts {
		parts[i] = prefix + part
	}
	return strings.Join(parts, ", ")
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func taskStatusArgs(statuses []TaskStatus) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
