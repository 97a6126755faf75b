package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertWorker registers a worker. An empty ID is replaced with a new UUID.
func (s *Store) InsertWorker(ctx context.Context, w *Worker) (*Worker, error) {
	if w == nil {
		return nil, errors.New("insert worker: nil worker")
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.MaxConcurrent <= 0 {
		w.MaxConcurrent = 1
	}
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		w.ID,
		w.Name,
		encodeStrings(w.Skills),
		boolInt(w.IsActive),
		boolInt(w.IsAvailable),
		w.MaxConcurrent,
		w.Performance.CompletedCount,
		w.Performance.AvgCompletionSeconds,
		w.Performance.Rating,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("insert worker: %w", err)
	}
	return s.GetWorker(ctx, w.ID)
}

// GetWorker fetches a worker by id.
func (s *Store) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return getWorker(ensureContext(ctx), s.db, id)
}

// ListWorkers returns workers ordered by id.
func (s *Store) ListWorkers(ctx context.Context, filter WorkerFilter) ([]*Worker, error) {
	return listWorkers(ensureContext(ctx), s.db, filter)
}

// ReserveWorker atomically takes one capacity slot. It reports false when the
// worker is inactive, unavailable, at capacity or unknown.
func (s *Store) ReserveWorker(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var ok bool
	err := retryOnBusy(ctx, func() error {
		var err error
		ok, err = reserveWorker(ctx, s.db, id)
		return err
	})
	return ok, err
}

// ReleaseWorker returns one capacity slot, never dropping below zero.
func (s *Store) ReleaseWorker(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return releaseWorker(ctx, s.db, id)
	})
}

// SetWorkerActive soft-activates or deactivates a worker. Deactivated workers
// keep their rows so in-flight tasks still resolve their reference.
func (s *Store) SetWorkerActive(ctx context.Context, id string, active bool) error {
	return s.updateWorkerField(ctx, id, "is_active", boolInt(active))
}

// SetWorkerAvailable toggles whether the worker accepts new assignments.
func (s *Store) SetWorkerAvailable(ctx context.Context, id string, available bool) error {
	return s.updateWorkerField(ctx, id, "is_available", boolInt(available))
}

// SetWorkerRating overwrites the operator-supplied performance rating.
func (s *Store) SetWorkerRating(ctx context.Context, id string, rating float64) error {
	return s.updateWorkerField(ctx, id, "rating", rating)
}

func (s *Store) updateWorkerField(ctx context.Context, id, column string, value any) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE workers SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update worker %s: %w", column, err)
	}
	return requireAffected(res, "worker", id)
}

// UpdateWorkerProfile changes name, skills and capacity. Capacity may not drop
// below the worker's current load.
func (s *Store) UpdateWorkerProfile(ctx context.Context, id, name string, skills []string, maxConcurrent int) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE workers
            SET name = ?, skills_json = ?, max_concurrent = ?, updated_at = ?
          WHERE id = ? AND current_load <= ?`,
		name, encodeStrings(skills), maxConcurrent, formatTime(time.Now()), id, maxConcurrent,
	)
	if err != nil {
		return fmt.Errorf("update worker profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetWorker(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("worker %s: max_concurrent %d below current load", id, maxConcurrent)
	}
	return nil
}

// GetWorker fetches a worker inside the transaction.
func (t *Tx) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return getWorker(ctx, t.tx, id)
}

// ReserveWorker takes one capacity slot inside the transaction.
func (t *Tx) ReserveWorker(ctx context.Context, id string) (bool, error) {
	return reserveWorker(ctx, t.tx, id)
}

// ReleaseWorker returns one capacity slot inside the transaction.
func (t *Tx) ReleaseWorker(ctx context.Context, id string) error {
	return releaseWorker(ctx, t.tx, id)
}

// RecordWorkerCompletion bumps completed_count and folds the duration into the
// running average.
func (t *Tx) RecordWorkerCompletion(ctx context.Context, id string, duration time.Duration) error {
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	_, err := t.tx.ExecContext(ctx,
		`UPDATE workers
            SET avg_completion_seconds = (avg_completion_seconds * completed_count + ?) / (completed_count + 1),
                completed_count = completed_count + 1,
                updated_at = ?
          WHERE id = ?`,
		seconds, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("record worker completion: %w", err)
	}
	return nil
}

func getWorker(ctx context.Context, q querier, id string) (*Worker, error) {
	row := q.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	worker, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return worker, nil
}

func listWorkers(ctx context.Context, q querier, filter WorkerFilter) ([]*Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	switch {
	case filter.Assignable:
		query += ` WHERE is_active = 1 AND is_available = 1 AND current_load < max_concurrent`
	case filter.ActiveOnly:
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func reserveWorker(ctx context.Context, q querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE workers
            SET current_load = current_load + 1, updated_at = ?
          WHERE id = ?
            AND current_load < max_concurrent
            AND is_active = 1
            AND is_available = 1`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("reserve worker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func releaseWorker(ctx context.Context, q querier, id string) error {
	if id == "" {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`UPDATE workers SET current_load = MAX(current_load - 1, 0), updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("release worker: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
