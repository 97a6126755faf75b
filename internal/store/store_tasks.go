package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	return getTask(ensureContext(ctx), s.db, id)
}

// ListTasks returns tasks matching filter in creation order.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	return listTasks(ensureContext(ctx), s.db, filter)
}

// ListStaleTasks returns in-progress tasks whose last heartbeat (or start time
// when no heartbeat arrived) is older than cutoff.
func (s *Store) ListStaleTasks(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	return queryTasks(ensureContext(ctx), s.db,
		`SELECT `+taskColumns+` FROM tasks
          WHERE status = ?
            AND COALESCE(last_heartbeat, started_at, assigned_at, updated_at) < ?
          ORDER BY created_at, id`,
		string(TaskInProgress), formatTime(cutoff),
	)
}

// ListRetryableFailed returns failed tasks whose retry budget is not exhausted.
func (s *Store) ListRetryableFailed(ctx context.Context) ([]*Task, error) {
	return queryTasks(ensureContext(ctx), s.db,
		`SELECT `+taskColumns+` FROM tasks
          WHERE status = ? AND retry_count <= max_retries
          ORDER BY created_at, id`,
		string(TaskFailed),
	)
}

// ListAssignablePending returns pending tasks that belong to processing or
// partially failed workflows, most urgent workflow first.
func (s *Store) ListAssignablePending(ctx context.Context) ([]*Task, error) {
	return queryTasks(ensureContext(ctx), s.db,
		`SELECT `+prefixedTaskColumns+` FROM tasks t
           JOIN workflows w ON w.id = t.workflow_id
          WHERE t.status = ? AND w.status IN (?, ?)
          ORDER BY w.priority DESC, t.created_at, t.id`,
		string(TaskPending), string(WorkflowProcessing), string(WorkflowPartialFailure),
	)
}

// GetTask fetches a task inside the transaction.
func (t *Tx) GetTask(ctx context.Context, id string) (*Task, error) {
	return getTask(ctx, t.tx, id)
}

// ListTasks returns matching tasks inside the transaction.
func (t *Tx) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	return listTasks(ctx, t.tx, filter)
}

// UpdateTask writes every mutable column of task provided the stored version
// still equals task.Version. On success task.Version and task.UpdatedAt are
// advanced; otherwise ErrStaleVersion is returned and nothing changes.
func (t *Tx) UpdateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("update task: nil task")
	}
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`UPDATE tasks
            SET status = ?,
                required_skills_json = ?,
                assigned_to = ?,
                assignment_score = ?,
                assignment_reason = ?,
                assignment_strategy = ?,
                retry_count = ?,
                max_retries = ?,
                result_json = ?,
                error_message = ?,
                job_handle = ?,
                version = version + 1,
                updated_at = ?,
                assigned_at = ?,
                started_at = ?,
                completed_at = ?,
                last_heartbeat = ?
          WHERE id = ? AND version = ?`,
		string(task.Status),
		encodeStrings(task.RequiredSkills),
		nullableString(task.AssignedTo),
		nullableFloat(task.AssignmentScore),
		nullableString(task.AssignmentReason),
		nullableString(task.AssignmentStrategy),
		task.RetryCount,
		task.MaxRetries,
		nullableJSON(task.Result),
		nullableString(task.Error),
		nullableString(task.JobHandle),
		formatTime(now),
		nullableTime(task.AssignedAt),
		nullableTime(task.StartedAt),
		nullableTime(task.CompletedAt),
		nullableTime(task.LastHeartbeat),
		task.ID,
		task.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := getTask(ctx, t.tx, task.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("task %s version %d: %w", task.ID, task.Version, ErrStaleVersion)
	}
	task.Version++
	task.UpdatedAt = now
	return nil
}

func getTask(ctx context.Context, q querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func listTasks(ctx context.Context, q querier, filter TaskFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	var args []any
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if filter.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, filter.AssignedTo)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(filter.Statuses)) + `)`
		args = append(args, taskStatusArgs(filter.Statuses)...)
	}
	query += ` ORDER BY created_at, id`
	return queryTasks(ctx, q, query, args...)
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
