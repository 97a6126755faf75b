package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertWorkflow writes a workflow and its tasks. Missing ids are generated and
// written back into wf and its tasks.
func (t *Tx) InsertWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.New("insert workflow: nil workflow")
	}
	now := time.Now().UTC()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Status == "" {
		wf.Status = WorkflowCreated
	}
	wf.CreatedAt, wf.UpdatedAt = now, now

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID,
		wf.Name,
		wf.EntityRef,
		string(wf.Status),
		wf.Priority,
		nullableString(wf.Error),
		formatTime(now),
		formatTime(now),
		nullableTime(wf.StartedAt),
		nullableTime(wf.CompletedAt),
	); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, task := range wf.Tasks {
		task.WorkflowID = wf.ID
		if err := t.insertTask(ctx, task, now); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) insertTask(ctx context.Context, task *Task, now time.Time) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	task.Version = 1
	task.CreatedAt, task.UpdatedAt = now, now
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO tasks (
            id, workflow_id, task_type, status, required_skills_json,
            retry_count, max_retries, version, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.WorkflowID,
		task.TaskType,
		string(task.Status),
		encodeStrings(task.RequiredSkills),
		task.RetryCount,
		task.MaxRetries,
		task.Version,
		formatTime(now),
		formatTime(now),
	); err != nil {
		return fmt.Errorf("insert task %s: %w", task.TaskType, err)
	}
	return nil
}

// GetWorkflow fetches a workflow without its tasks.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return getWorkflow(ensureContext(ctx), s.db, id)
}

// GetWorkflowWithTasks fetches a workflow and its tasks in creation order.
func (s *Store) GetWorkflowWithTasks(ctx context.Context, id string) (*Workflow, error) {
	ctx = ensureContext(ctx)
	wf, err := getWorkflow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	wf.Tasks, err = listTasks(ctx, s.db, TaskFilter{WorkflowID: id})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// ListWorkflows returns workflows, newest first, optionally filtered by status.
func (s *Store) ListWorkflows(ctx context.Context, statuses ...WorkflowStatus) ([]*Workflow, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// TaskCounts returns the number of tasks per status for one workflow.
func (s *Store) TaskCounts(ctx context.Context, workflowID string) (map[TaskStatus]int, error) {
	return taskCounts(ensureContext(ctx), s.db, workflowID)
}

// GetWorkflow fetches a workflow inside the transaction.
func (t *Tx) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return getWorkflow(ctx, t.tx, id)
}

// TaskCounts returns per-status task counts inside the transaction.
func (t *Tx) TaskCounts(ctx context.Context, workflowID string) (map[TaskStatus]int, error) {
	return taskCounts(ctx, t.tx, workflowID)
}

// TransitionWorkflow moves a workflow to status `to` only when its current
// status is one of from. It stamps started_at on the first move to processing
// and completed_at on closing states. The boolean reports whether a row changed.
func (t *Tx) TransitionWorkflow(ctx context.Context, id string, from []WorkflowStatus, to WorkflowStatus, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition workflow: no source states")
	}
	now := formatTime(time.Now())
	var completedAt any
	if to.IsClosed() {
		completedAt = now
	}
	args := []any{string(to), nullableString(errMsg), now, boolInt(to == WorkflowProcessing), now, completedAt, id}
	for _, status := range from {
		args = append(args, string(status))
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE workflows
            SET status = ?,
                error_message = COALESCE(?, error_message),
                updated_at = ?,
                started_at = CASE WHEN ? = 1 AND started_at IS NULL THEN ? ELSE started_at END,
                completed_at = COALESCE(?, completed_at)
          WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func getWorkflow(ctx context.Context, q querier, id string) (*Workflow, error) {
	row := q.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func taskCounts(ctx context.Context, q querier, workflowID string) (map[TaskStatus]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM tasks WHERE workflow_id = ? GROUP BY status`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("task counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[TaskStatus(status)] = count
	}
	return counts, rows.Err()
}
