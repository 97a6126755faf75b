// Package audit records engine events in the append-only audit log.
//
// Entries written through Append share the caller's transaction, so an event
// is visible if and only if the state change it describes committed. The
// store rejects UPDATE and DELETE on the table.
package audit

import (
	"context"
	"log/slog"
	"time"

	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
)

// Actions recorded by the engine.
const (
	ActionWorkflowCreated       = "workflow_created"
	ActionWorkflowStarted       = "workflow_started"
	ActionWorkflowStatusChanged = "workflow_status_changed"
	ActionWorkflowCancelled     = "workflow_cancelled"
	ActionWorkflowFailed        = "workflow_failed"
	ActionAssigned              = "assigned"
	ActionAssignmentFailed      = "assignment_failed"
	ActionStatusChanged         = "status_changed"
	ActionRetryScheduled        = "retry_scheduled"
	ActionTaskCancelled         = "task_cancelled"
	ActionStaleReset            = "stale_reset"
	ActionRequeued              = "requeued"
	ActionDispatched            = "dispatched"
	ActionDispatchFailed        = "dispatch_failed"
)

// Entry is one audit record.
type Entry = store.AuditEntry

// Filter narrows List results.
type Filter = store.AuditFilter

// Log appends and queries audit entries.
type Log struct {
	store  *store.Store
	logger *slog.Logger
}

// New constructs a Log over st.
func New(st *store.Store, logger *slog.Logger) *Log {
	return &Log{store: st, logger: logging.NewComponentLogger(logger, "audit")}
}

// Append writes entry inside tx. PerformedBy defaults to the actor carried by ctx.
func (l *Log) Append(ctx context.Context, tx *store.Tx, entry Entry) error {
	l.prepare(ctx, &entry)
	if err := tx.InsertAudit(ctx, &entry); err != nil {
		return err
	}
	l.trace(ctx, entry)
	return nil
}

// Record writes entry in its own statement. Use it for events that do not
// accompany a state change, such as a failed assignment attempt.
func (l *Log) Record(ctx context.Context, entry Entry) error {
	l.prepare(ctx, &entry)
	if err := l.store.InsertAudit(ctx, &entry); err != nil {
		return services.Wrap(services.ErrTransient, "audit", "record", entry.Action, err)
	}
	l.trace(ctx, entry)
	return nil
}

// List returns entries matching filter, oldest first.
func (l *Log) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return nil, services.Validation("audit", "list", "until precedes since")
	}
	if filter.Limit < 0 {
		return nil, services.Validation("audit", "list", "limit must be >= 0")
	}
	return l.store.ListAudit(ctx, filter)
}

func (l *Log) prepare(ctx context.Context, entry *Entry) {
	if entry.PerformedBy == "" {
		entry.PerformedBy = services.ActorFromContext(ctx)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.TaskID == "" {
		if id, ok := services.TaskIDFromContext(ctx); ok {
			entry.TaskID = id
		}
	}
	if entry.WorkflowID == "" {
		if id, ok := services.WorkflowIDFromContext(ctx); ok {
			entry.WorkflowID = id
		}
	}
}

func (l *Log) trace(ctx context.Context, entry Entry) {
	logging.WithContext(ctx, l.logger).Debug("audit entry",
		logging.String(logging.FieldEventType, entry.Action),
		logging.String(logging.FieldActor, entry.PerformedBy),
	)
}
