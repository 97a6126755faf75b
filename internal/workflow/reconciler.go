package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sermonflow/internal/audit"
	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
)

const reconcilerActor = "reconciler"

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	StaleReset int `json:"stale_reset"`
	Requeued   int `json:"requeued"`
	Assigned   int `json:"assigned"`
	Unassigned int `json:"unassigned"`
}

// Reconciler runs the stale-task and retry sweeps on an interval.
type Reconciler struct {
	m          *Manager
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	last    SweepResult
}

// NewReconciler builds a Reconciler. A non-positive staleAfter disables the
// stale sweep.
func NewReconciler(m *Manager, interval, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		m:          m,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logging.NewComponentLogger(logger, "reconciler"),
	}
}

// SweepRetries re-queues failed tasks that still have retries left, then
// offers every pending task of an active workflow to the engine.
func (r *Reconciler) SweepRetries(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	ctx = services.WithActor(ctx, reconcilerActor)

	failed, err := r.m.store.ListRetryableFailed(ctx)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "reconciler", "retry sweep", "list failed tasks", err)
	}
	for _, listed := range failed {
		ok, err := r.requeue(ctx, listed)
		if err != nil {
			logging.WarnWithContext(r.logger, "requeue failed", "requeue_failed",
				append(logging.TaskAttrs(listed.ID, listed.WorkflowID), logging.Error(err))...,
			)
			continue
		}
		if ok {
			result.Requeued++
		}
	}

	pending, err := r.m.store.ListAssignablePending(ctx)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "reconciler", "retry sweep", "list pending tasks", err)
	}
	for _, task := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		_, err := r.m.assignAndDispatch(ctx, AssignRequest{TaskID: task.ID, PerformedBy: reconcilerActor})
		switch {
		case err == nil:
			result.Assigned++
		case errors.Is(err, services.ErrNoEligibleWorkers),
			errors.Is(err, services.ErrValidation),
			errors.Is(err, services.ErrConflict),
			errors.Is(err, services.ErrExternalService):
			result.Unassigned++
		default:
			result.Unassigned++
			logging.WarnWithContext(r.logger, "sweep assignment failed", "sweep_assign_failed",
				append(logging.TaskAttrs(task.ID, task.WorkflowID), logging.Error(err))...,
			)
		}
	}
	return result, nil
}

func (r *Reconciler) requeue(ctx context.Context, listed *store.Task) (bool, error) {
	err := r.m.store.WithTx(ctx, func(tx *store.Tx) error {
		task := *listed
		task.Status = store.TaskPending
		task.ClearAssignment()
		task.CompletedAt = nil
		if err := tx.UpdateTask(ctx, &task); err != nil {
			return err
		}
		if err := r.m.audit.Append(ctx, tx, audit.Entry{
			TaskID:     task.ID,
			WorkflowID: task.WorkflowID,
			Action:     audit.ActionRequeued,
			Details:    map[string]any{"retry_count": task.RetryCount, "max_retries": task.MaxRetries},
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

// RunOnce performs one full pass: stale sweep, then retry sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (SweepResult, error) {
	stale, staleErr := r.SweepStale(ctx)
	result, retryErr := r.SweepRetries(ctx)
	result.StaleReset = stale
	err := errors.Join(staleErr, retryErr)

	r.mu.Lock()
	r.last = result
	r.lastErr = err
	r.mu.Unlock()

	if result.StaleReset+result.Requeued+result.Assigned > 0 {
		r.logger.Info("reconciliation pass",
			logging.Int("stale_reset", result.StaleReset),
			logging.Int("requeued", result.Requeued),
			logging.Int("assigned", result.Assigned),
			logging.Int("unassigned", result.Unassigned),
		)
	}
	return result, err
}

// Start runs RunOnce every interval until Stop or ctx ends.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("reconciler interval must be positive")
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("reconciler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(runCtx)
	return nil
}

// Stop cancels the loop and waits for the current pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Running reports whether the loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastPass returns the result and error of the latest pass.
func (r *Reconciler) LastPass() (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.lastErr
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("reconciliation pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "reconcile_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
