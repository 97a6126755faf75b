package workflow

import (
	"context"
	"errors"
	"time"

	"sermonflow/internal/audit"
	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
)

// SweepStale returns in-progress tasks whose last heartbeat (or start) is
// older than the stale threshold to pending and frees their worker slot. A
// task that changed after it was listed is left alone.
func (r *Reconciler) SweepStale(ctx context.Context) (int, error) {
	if r.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-r.staleAfter)
	stale, err := r.m.store.ListStaleTasks(ctx, cutoff)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "reconciler", "stale sweep", "list stale tasks", err)
	}
	reset := 0
	for _, listed := range stale {
		ok, err := r.resetStale(ctx, listed, cutoff)
		if err != nil {
			if ctx.Err() != nil {
				return reset, ctx.Err()
			}
			logging.WarnWithContext(r.logger, "stale task reset failed", "stale_reset_failed",
				append(logging.TaskAttrs(listed.ID, listed.WorkflowID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "task keeps its worker slot until the next sweep"),
				)...,
			)
			continue
		}
		if ok {
			reset++
		}
	}
	if reset > 0 {
		r.logger.Info("reclaimed stale tasks", logging.Int("count", reset))
	}
	return reset, nil
}

func (r *Reconciler) resetStale(ctx context.Context, listed *store.Task, cutoff time.Time) (bool, error) {
	ctx = services.WithWorkflowID(services.WithTaskID(ctx, listed.ID), listed.WorkflowID)
	err := r.m.store.WithTx(ctx, func(tx *store.Tx) error {
		task := *listed
		worker := task.AssignedTo
		lastSeen := task.LastHeartbeat
		if lastSeen == nil {
			lastSeen = task.StartedAt
		}
		if worker != "" {
			if err := r.m.workers.ReleaseTx(ctx, tx, worker); err != nil {
				return err
			}
		}
		task.Status = store.TaskPending
		task.ClearAssignment()
		if err := tx.UpdateTask(ctx, &task); err != nil {
			return err
		}
		details := map[string]any{
			"worker_id": worker,
			"cutoff":    cutoff.UTC().Format(time.RFC3339),
		}
		if lastSeen != nil {
			details["last_seen"] = lastSeen.UTC().Format(time.RFC3339)
		}
		if err := r.m.audit.Append(ctx, tx, audit.Entry{
			TaskID:      task.ID,
			WorkflowID:  task.WorkflowID,
			Action:      audit.ActionStaleReset,
			PerformedBy: reconcilerActor,
			Details:     details,
		}); err != nil {
			return err
		}
		_, err := r.m.recompute(ctx, tx, task.WorkflowID)
		return err
	})
	if errors.Is(err, store.ErrStaleVersion) {
		return false, nil
	}
	return err == nil, err
}
