package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/internal/assignment"
	"sermonflow/internal/store"
	"sermonflow/internal/workflow"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	wfCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Create and manage workflows",
	}
	wfCmd.AddCommand(newWorkflowCreateCommand(ctx))
	wfCmd.AddCommand(newWorkflowListCommand(ctx))
	wfCmd.AddCommand(newWorkflowShowCommand(ctx))
	wfCmd.AddCommand(newWorkflowStartCommand(ctx))
	wfCmd.AddCommand(newWorkflowCancelCommand(ctx))
	wfCmd.AddCommand(newWorkflowFailCommand(ctx))
	wfCmd.AddCommand(newWorkflowProgressCommand(ctx))
	return wfCmd
}

func newWorkflowCreateCommand(ctx *commandContext) *cobra.Command {
	var taskTypes []string
	var entityRef string
	var priority int
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workflow with one task per --task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := workflow.CreateRequest{
				Name:      args[0],
				EntityRef: entityRef,
				TaskTypes: taskTypes,
				Priority:  priority,
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				wf, err := env.manager.CreateWorkflow(c, req)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, wf, func() string { return renderWorkflowDetail(wf) })
			})
		},
	}
	cmd.Flags().StringSliceVarP(&taskTypes, "task", "t", nil, "Task type to add (repeatable, comma separated)")
	cmd.Flags().StringVar(&entityRef, "entity", "", "Reference to the media entity being processed")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority 1-5, 5 most urgent (default 3)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget per task (default assignment.default_max_retries)")
	return cmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []store.WorkflowStatus
			for _, raw := range statusFlags {
				status, ok := store.ParseWorkflowStatus(raw)
				if !ok {
					return fmt.Errorf("unknown workflow status %q", raw)
				}
				statuses = append(statuses, status)
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				list, err := env.manager.ListWorkflows(c, statuses...)
				if err != nil {
					return err
				}
				if list == nil {
					list = []*store.Workflow{}
				}
				return ctx.emit(cmd, list, func() string { return renderWorkflowTable(list) })
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				wf, err := env.manager.GetWorkflow(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, wf, func() string { return renderWorkflowDetail(wf) })
			})
		},
	}
}

func newWorkflowStartCommand(ctx *commandContext) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Start a workflow and assign its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseStrategyFlag(strategy)
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				res, err := env.manager.StartWorkflow(c, args[0], kind)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, res, func() string { return renderStartResult(res) })
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "Assignment strategy: ai, skill_match, workload, random (default from config)")
	return cmd
}

func newWorkflowCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a workflow and all of its open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				wf, err := env.manager.CancelWorkflow(c, args[0], ctx.actor())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, wf, func() string {
					return fmt.Sprintf("Workflow %s cancelled", wf.ID)
				})
			})
		},
	}
}

func newWorkflowFailCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <workflow-id>",
		Short: "Mark a workflow failed and cancel its open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				wf, err := env.manager.FailWorkflow(c, args[0], reason, ctx.actor())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, wf, func() string {
					return fmt.Sprintf("Workflow %s failed: %s", wf.ID, dash(wf.Error))
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded on the workflow")
	return cmd
}

func newWorkflowProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <workflow-id>",
		Short: "Show task counts for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				p, err := env.manager.Progress(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, p, func() string { return renderProgress(p) })
			})
		},
	}
}

func parseStrategyFlag(raw string) (assignment.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return assignment.ParseKind(raw)
}

func renderWorkflowTable(list []*store.Workflow) string {
	if len(list) == 0 {
		return "No workflows"
	}
	rows := make([][]string, 0, len(list))
	for _, wf := range list {
		rows = append(rows, []string{
			wf.ID,
			wf.Name,
			string(wf.Status),
			strconv.Itoa(wf.Priority),
			dash(wf.EntityRef),
			formatTime(&wf.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Status", "Pri", "Entity", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func renderWorkflowDetail(wf *store.Workflow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s\n", wf.ID)
	fmt.Fprintf(&b, "  Name:      %s\n", wf.Name)
	fmt.Fprintf(&b, "  Status:    %s\n", wf.Status)
	fmt.Fprintf(&b, "  Priority:  %d\n", wf.Priority)
	fmt.Fprintf(&b, "  Entity:    %s\n", dash(wf.EntityRef))
	fmt.Fprintf(&b, "  Started:   %s\n", formatTime(wf.StartedAt))
	fmt.Fprintf(&b, "  Completed: %s\n", formatTime(wf.CompletedAt))
	if wf.Error != "" {
		fmt.Fprintf(&b, "  Error:     %s\n", wf.Error)
	}
	if len(wf.Tasks) > 0 {
		b.WriteString(renderTaskTable(wf.Tasks))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStartResult(res workflow.StartResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Started: %d assigned, %d waiting for a worker\n", res.Assigned, res.Unassigned)
	for _, r := range res.Results {
		if r.Success {
			fmt.Fprintf(&b, "  %s -> %s (%s)\n", shortID(r.TaskID), r.WorkerID, r.Strategy)
			continue
		}
		fmt.Fprintf(&b, "  %s unassigned: %s\n", shortID(r.TaskID), r.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderProgress(p store.Progress) string {
	return fmt.Sprintf("%d/%d completed (%.0f%%): %d in progress, %d pending, %d failed, %d cancelled",
		p.Completed, p.Total, p.Percentage, p.InProgress, p.Pending, p.Failed, p.Cancelled)
}
