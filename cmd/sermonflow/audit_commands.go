package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sermonflow/internal/audit"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	auditCmd.AddCommand(newAuditListCommand(ctx))
	return auditCmd
}

func newAuditListCommand(ctx *commandContext) *cobra.Command {
	var filter audit.Filter
	var since string
	var until string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries oldest first; --limit keeps the most recent",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if filter.Since, err = parseTimeFlag("since", since); err != nil {
				return err
			}
			if filter.Until, err = parseTimeFlag("until", until); err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				entries, err := env.audit.List(c, filter)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []*audit.Entry{}
				}
				return ctx.emit(cmd, entries, func() string { return renderAuditTable(entries) })
			})
		},
	}
	cmd.Flags().StringVar(&filter.TaskID, "task", "", "Only entries for this task")
	cmd.Flags().StringVarP(&filter.WorkflowID, "workflow", "w", "", "Only entries for this workflow")
	cmd.Flags().StringVar(&filter.Action, "action", "", "Only entries with this action")
	cmd.Flags().StringVar(&since, "since", "", "Earliest timestamp (RFC3339) or a duration such as 2h")
	cmd.Flags().StringVar(&until, "until", "", "Latest timestamp (RFC3339)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum entries; 0 for all")
	return cmd
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration relative to now.
func parseTimeFlag(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("--%s must be RFC3339 or a duration, got %q", name, raw)
}

func renderAuditTable(entries []*audit.Entry) string {
	if len(entries) == 0 {
		return "No audit entries"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		ts := e.Timestamp
		rows = append(rows, []string{
			formatTime(&ts),
			e.Action,
			dash(shortID(e.WorkflowID)),
			dash(shortID(e.TaskID)),
			e.PerformedBy,
			renderDetails(e.Details),
		})
	}
	return renderTable(
		[]string{"Time", "Action", "Workflow", "Task", "By", "Details"},
		rows,
		nil,
	)
}

func renderDetails(details map[string]any) string {
	if len(details) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
