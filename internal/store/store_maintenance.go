package store

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Summary aggregates task, workflow and worker counts for status output.
func (s *Store) Summary(ctx context.Context) (StatusSummary, error) {
	ctx = ensureContext(ctx)
	summary := StatusSummary{
		Tasks:     make(map[TaskStatus]int),
		Workflows: make(map[WorkflowStatus]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("task stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return summary, err
		}
		summary.Tasks[TaskStatus(status)] = count
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM workflows GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("workflow stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return summary, err
		}
		summary.Workflows[WorkflowStatus(status)] = count
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(current_load), 0), COALESCE(SUM(max_concurrent), 0)
           FROM workers WHERE is_active = 1`,
	).Scan(&summary.ActiveWorkers, &summary.TotalLoad, &summary.TotalCapacity); err != nil {
		return summary, fmt.Errorf("worker stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_log`).Scan(&summary.AuditEntries); err != nil {
		return summary, fmt.Errorf("audit stats: %w", err)
	}
	return summary, nil
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err == nil {
		health.DatabaseExists = true
	} else if !errors.Is(err, os.ErrNotExist) {
		health.Error = err.Error()
		return health, nil
	}

	if err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&health.SchemaVersion); err != nil {
		health.Error = fmt.Sprintf("read schema version: %v", err)
		return health, nil
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		health.Error = fmt.Sprintf("integrity check: %v", err)
		return health, nil
	}
	health.IntegrityCheck = integrity == "ok"
	return health, nil
}

// CheckLoadConsistency reports workers whose current_load differs from the
// number of tasks holding one of their slots.
func (s *Store) CheckLoadConsistency(ctx context.Context) (map[string][2]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.current_load, COUNT(t.id)
           FROM workers w
           LEFT JOIN tasks t ON t.assigned_to = w.id AND t.status IN (?, ?, ?)
          GROUP BY w.id, w.current_load
         HAVING w.current_load != COUNT(t.id)`,
		string(TaskAssigned), string(TaskInProgress), string(TaskReviewRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("load consistency: %w", err)
	}
	defer rows.Close()

	mismatches := make(map[string][2]int)
	for rows.Next() {
		var id string
		var load, held int
		if err := rows.Scan(&id, &load, &held); err != nil {
			return nil, err
		}
		mismatches[id] = [2]int{load, held}
	}
	return mismatches, rows.Err()
}
