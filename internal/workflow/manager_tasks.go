package workflow

import (
	"context"
	"errors"
	"fmt"

	"sermonflow/internal/audit"
	"sermonflow/internal/dispatch"
	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
)

// UpdateTaskStatus applies a status report. Repeating the current status is a
// no-op, so duplicate callbacks are harmless. Transitions outside the task
// state machine are rejected with a validation error and change nothing.
//
// A report whose job handle differs from the task's is from an earlier
// attempt and is ignored, as is a FAILED report for a task already sent back
// to pending. When the task holds a worker but its handle is not recorded
// yet, the report is rejected as a conflict so the sender retries.
//
// A FAILED report consumes one retry; while retry_count <= max_retries the
// task goes back to pending without an assignee. Leaving assigned,
// in_progress or review_required releases the worker's slot.
func (m *Manager) UpdateTaskStatus(ctx context.Context, upd StatusUpdate) (UpdateResult, error) {
	status, ok := store.ParseTaskStatus(string(upd.Status))
	if !ok {
		return UpdateResult{}, services.Validation("workflow", "update status", fmt.Sprintf("unknown status %q", upd.Status))
	}
	upd.Status = status
	if upd.PerformedBy != "" {
		ctx = services.WithActor(ctx, upd.PerformedBy)
	}
	ctx = services.WithTaskID(ctx, upd.TaskID)

	var result UpdateResult
	err := m.withTaskTx(ctx, func(tx *store.Tx) error {
		result = UpdateResult{}
		task, err := tx.GetTask(ctx, upd.TaskID)
		if err != nil {
			return err
		}
		result.Task = task
		if upd.JobHandle != "" && upd.JobHandle != task.JobHandle {
			if task.JobHandle == "" && task.Status.HoldsLoad() {
				return services.Wrap(services.ErrConflict, "workflow", "update status",
					fmt.Sprintf("task %s has no recorded job handle yet", task.ID), nil)
			}
			result.Stale = true
		}
		// A redelivered failure that was already turned into a retry.
		if upd.Status == store.TaskFailed && task.Status == store.TaskPending && task.RetryCount > 0 {
			result.Stale = true
		}
		if result.Stale || task.Status == upd.Status {
			wf, err := tx.GetWorkflow(ctx, task.WorkflowID)
			if err != nil {
				return err
			}
			result.WorkflowStatus = wf.Status
			return nil
		}
		if !CanTransition(task.Status, upd.Status) {
			return services.Validation("workflow", "update status",
				fmt.Sprintf("task %s cannot move from %s to %s", task.ID, task.Status, upd.Status))
		}
		retried, err := m.applyTransition(ctx, tx, task, upd)
		if err != nil {
			return err
		}
		result.Changed = true
		result.Retried = retried
		result.WorkflowStatus, err = m.recompute(ctx, tx, task.WorkflowID)
		return err
	})
	if err != nil {
		return UpdateResult{}, m.mapStoreErr("update status", err)
	}
	if result.Stale {
		logging.WithContext(services.WithWorkflowID(ctx, result.Task.WorkflowID), m.logger).Info("stale status report ignored",
			logging.String("reported", string(upd.Status)),
			logging.String("status", string(result.Task.Status)),
			logging.String("report_job_handle", upd.JobHandle),
			logging.String("job_handle", result.Task.JobHandle),
		)
	}
	if result.Changed {
		logging.WithContext(services.WithWorkflowID(ctx, result.Task.WorkflowID), m.logger).Info("task status updated",
			logging.String("status", string(result.Task.Status)),
			logging.Bool("retried", result.Retried),
			logging.Int("retry_count", result.Task.RetryCount),
			logging.String("workflow_status", string(result.WorkflowStatus)),
		)
	}
	return result, nil
}

// applyTransition mutates task inside tx. It reports whether a failure was
// converted into a retry.
func (m *Manager) applyTransition(ctx context.Context, tx *store.Tx, task *store.Task, upd StatusUpdate) (bool, error) {
	from := task.Status
	worker := task.AssignedTo
	stamp := now()
	retried := false
	action := audit.ActionStatusChanged

	switch upd.Status {
	case store.TaskInProgress:
		task.StartedAt = &stamp
		task.LastHeartbeat = &stamp
	case store.TaskReviewRequired:
		if len(upd.Result) > 0 {
			task.Result = upd.Result
		}
	case store.TaskCompleted:
		task.CompletedAt = &stamp
		if len(upd.Result) > 0 {
			task.Result = upd.Result
		}
		task.Error = ""
		if worker != "" {
			began := task.AssignedAt
			if task.StartedAt != nil {
				began = task.StartedAt
			}
			if began != nil {
				if err := m.workers.RecordCompletion(ctx, tx, worker, stamp.Sub(*began)); err != nil && !errors.Is(err, store.ErrNotFound) {
					return false, err
				}
			}
		}
	case store.TaskFailed:
		task.RetryCount++
		task.Error = upd.Error
		if task.RetryCount <= task.MaxRetries {
			retried = true
			action = audit.ActionRetryScheduled
		} else {
			task.CompletedAt = &stamp
		}
	case store.TaskCancelled:
		task.CompletedAt = &stamp
		action = audit.ActionTaskCancelled
	}

	task.Status = upd.Status
	if retried {
		task.Status = store.TaskPending
		task.ClearAssignment()
	}
	if from.HoldsLoad() && !task.Status.HoldsLoad() && worker != "" {
		if err := m.workers.ReleaseTx(ctx, tx, worker); err != nil {
			return false, err
		}
	}
	if err := tx.UpdateTask(ctx, task); err != nil {
		return false, err
	}

	details := map[string]any{
		"from":        string(from),
		"to":          string(task.Status),
		"reported":    string(upd.Status),
		"retry_count": task.RetryCount,
	}
	if worker != "" {
		details["worker_id"] = worker
	}
	if upd.Error != "" {
		details["error"] = upd.Error
	}
	return retried, m.audit.Append(ctx, tx, audit.Entry{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		Action:     action,
		Details:    details,
	})
}

// CancelTask cancels a task in any non-terminal state. Cancelling an already
// cancelled task is a no-op; a completed or failed task cannot be cancelled.
func (m *Manager) CancelTask(ctx context.Context, taskID, performedBy string) (UpdateResult, error) {
	return m.UpdateTaskStatus(ctx, StatusUpdate{TaskID: taskID, Status: store.TaskCancelled, PerformedBy: performedBy})
}

// Heartbeat records that the worker on taskID is still alive.
func (m *Manager) Heartbeat(ctx context.Context, taskID string) (*store.Task, error) {
	var task *store.Task
	err := m.withTaskTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if current.Status != store.TaskInProgress && current.Status != store.TaskAssigned {
			return services.Validation("workflow", "heartbeat",
				fmt.Sprintf("task %s is %s; heartbeats apply to assigned or in-progress tasks", current.ID, current.Status))
		}
		stamp := now()
		current.LastHeartbeat = &stamp
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	if err != nil {
		return nil, m.mapStoreErr("heartbeat", err)
	}
	return task, nil
}

// dispatch hands an assigned task to the bridge. On success the job handle is
// stored; on failure the assignment is undone and the task is pending again.
func (m *Manager) dispatch(ctx context.Context, task *store.Task) error {
	if task == nil {
		return nil
	}
	ctx = services.WithWorkflowID(services.WithTaskID(ctx, task.ID), task.WorkflowID)
	logger := logging.WithContext(ctx, m.logger)

	job := dispatch.Job{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		TaskType:   task.TaskType,
		WorkerID:   task.AssignedTo,
	}
	if wf, err := m.store.GetWorkflow(ctx, task.WorkflowID); err == nil {
		job.EntityRef = wf.EntityRef
	}

	handle, enqueueErr := m.bridge.Enqueue(ctx, job)
	if enqueueErr == nil {
		err := m.withTaskTx(ctx, func(tx *store.Tx) error {
			current, err := tx.GetTask(ctx, task.ID)
			if err != nil {
				return err
			}
			if current.AssignedTo != task.AssignedTo || !current.Status.HoldsLoad() {
				return nil
			}
			current.JobHandle = string(handle)
			if err := tx.UpdateTask(ctx, current); err != nil {
				return err
			}
			return m.audit.Append(ctx, tx, audit.Entry{
				TaskID:     current.ID,
				WorkflowID: current.WorkflowID,
				Action:     audit.ActionDispatched,
				Details:    map[string]any{"job_handle": string(handle), "worker_id": current.AssignedTo},
			})
		})
		if err != nil {
			logging.WarnWithContext(logger, "job handle not recorded", "dispatch_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "task runs without a stored job handle"),
			)
		}
		return nil
	}

	logging.WarnWithContext(logger, "dispatch failed; task returned to pending", "dispatch_failed",
		logging.Error(enqueueErr),
		logging.String(logging.FieldWorkerID, task.AssignedTo),
		logging.String(logging.FieldErrorHint, "check dispatch.endpoint and the task queue"),
		logging.String(logging.FieldImpact, "task waits for the next reconciliation sweep"),
	)
	err := m.withTaskTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if current.Status != store.TaskAssigned || current.AssignedTo != task.AssignedTo {
			return nil
		}
		worker := current.AssignedTo
		if err := m.workers.ReleaseTx(ctx, tx, worker); err != nil {
			return err
		}
		current.Status = store.TaskPending
		current.ClearAssignment()
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		return m.audit.Append(ctx, tx, audit.Entry{
			TaskID:     current.ID,
			WorkflowID: current.WorkflowID,
			Action:     audit.ActionDispatchFailed,
			Details:    map[string]any{"worker_id": worker, "error": enqueueErr.Error()},
		})
	})
	if err != nil {
		return m.mapStoreErr("dispatch", err)
	}
	return services.Wrap(services.ErrExternalService, "workflow", "dispatch", "enqueue failed", enqueueErr)
}
