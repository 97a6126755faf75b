package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const auditColumns = "id, task_id, workflow_id, action, performed_by, details_json, timestamp"

// InsertAudit appends an entry inside the transaction.
func (t *Tx) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	return insertAudit(ctx, t.tx, entry)
}

// InsertAudit appends an entry outside any transaction.
func (s *Store) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return insertAudit(ctx, s.db, entry)
	})
}

// ListAudit returns matching entries oldest first. A positive Limit keeps the
// newest Limit entries.
func (s *Store) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	ctx = ensureContext(ctx)
	where := ` WHERE 1 = 1`
	var args []any
	if filter.TaskID != "" {
		where += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.WorkflowID != "" {
		where += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	if filter.Action != "" {
		where += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		where += ` AND timestamp >= ?`
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		where += ` AND timestamp <= ?`
		args = append(args, formatTime(filter.Until))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log` + where + ` ORDER BY id`
	if filter.Limit > 0 {
		query = `SELECT * FROM (SELECT ` + auditColumns + ` FROM audit_log` + where +
			` ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			taskID     *string
			workflowID *string
			details    *string
			tsRaw      string
		)
		if err := rows.Scan(&entry.ID, &taskID, &workflowID, &entry.Action, &entry.PerformedBy, &details, &tsRaw); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if taskID != nil {
			entry.TaskID = *taskID
		}
		if workflowID != nil {
			entry.WorkflowID = *workflowID
		}
		if details != nil && *details != "" {
			if err := json.Unmarshal([]byte(*details), &entry.Details); err != nil {
				entry.Details = map[string]any{"raw": *details}
			}
		}
		entry.Timestamp = parseTime(tsRaw)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func insertAudit(ctx context.Context, q querier, entry *AuditEntry) error {
	if entry == nil {
		return errors.New("insert audit: nil entry")
	}
	if entry.Action == "" {
		return errors.New("insert audit: action is required")
	}
	if entry.PerformedBy == "" {
		entry.PerformedBy = "system"
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	var details any
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(data)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (task_id, workflow_id, action, performed_by, details_json, timestamp)
         VALUES (?, ?, ?, ?, ?, ?)`,
		nullableString(entry.TaskID),
		nullableString(entry.WorkflowID),
		entry.Action,
		entry.PerformedBy,
		details,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}
