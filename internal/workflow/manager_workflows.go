package workflow

import (
	"context"
	"fmt"
	"strings"

	"sermonflow/internal/audit"
	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
)

var openWorkflowStatuses = []store.WorkflowStatus{
	store.WorkflowCreated,
	store.WorkflowProcessing,
	store.WorkflowPartialFailure,
}

// CancelWorkflow cancels every non-terminal task and marks the workflow
// CANCELLED. Closed workflows are rejected.
func (m *Manager) CancelWorkflow(ctx context.Context, id, performedBy string) (*store.Workflow, error) {
	return m.closeWorkflow(ctx, id, performedBy, store.WorkflowCancelled, "")
}

// FailWorkflow records an orchestration-level failure: outstanding tasks are
// cancelled and the workflow becomes FAILED with reason.
func (m *Manager) FailWorkflow(ctx context.Context, id, reason, performedBy string) (*store.Workflow, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, services.Validation("workflow", "fail", "reason is required")
	}
	return m.closeWorkflow(ctx, id, performedBy, store.WorkflowFailed, reason)
}

func (m *Manager) closeWorkflow(ctx context.Context, id, performedBy string, to store.WorkflowStatus, reason string) (*store.Workflow, error) {
	if performedBy != "" {
		ctx = services.WithActor(ctx, performedBy)
	}
	ctx = services.WithWorkflowID(ctx, id)
	operation, action := "cancel", audit.ActionWorkflowCancelled
	if to == store.WorkflowFailed {
		operation, action = "fail", audit.ActionWorkflowFailed
	}

	var cancelled int
	err := m.withTaskTx(ctx, func(tx *store.Tx) error {
		cancelled = 0
		wf, err := tx.GetWorkflow(ctx, id)
		if err != nil {
			return err
		}
		if wf.Status.IsClosed() {
			return services.Validation("workflow", operation, fmt.Sprintf("workflow %s is already %s", id, wf.Status))
		}
		tasks, err := tx.ListTasks(ctx, store.TaskFilter{WorkflowID: id})
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if task.Status.IsTerminal() {
				continue
			}
			if _, err := m.applyTransition(ctx, tx, task, StatusUpdate{TaskID: task.ID, Status: store.TaskCancelled}); err != nil {
				return err
			}
			cancelled++
		}
		ok, err := tx.TransitionWorkflow(ctx, id, openWorkflowStatuses, to, reason)
		if err != nil {
			return err
		}
		if !ok {
			return services.Wrap(services.ErrConflict, "workflow", operation, "workflow closed concurrently", nil)
		}
		details := map[string]any{"from": string(wf.Status), "cancelled_tasks": cancelled}
		if reason != "" {
			details["reason"] = reason
		}
		return m.audit.Append(ctx, tx, audit.Entry{WorkflowID: id, Action: action, Details: details})
	})
	if err != nil {
		return nil, m.mapStoreErr(operation, err)
	}
	logging.WithContext(ctx, m.logger).Info("workflow closed",
		logging.String("status", string(to)),
		logging.Int("cancelled_tasks", cancelled),
		logging.String("reason", reason),
	)
	return m.GetWorkflow(ctx, id)
}
