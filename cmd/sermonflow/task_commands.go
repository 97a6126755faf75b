package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/internal/store"
	"sermonflow/internal/workflow"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and drive individual tasks",
	}
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskAssignCommand(ctx))
	taskCmd.AddCommand(newTaskStatusCommand(ctx))
	taskCmd.AddCommand(newTaskCancelCommand(ctx))
	taskCmd.AddCommand(newTaskHeartbeatCommand(ctx))
	return taskCmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var workflowID string
	var assignedTo string
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{WorkflowID: workflowID, AssignedTo: assignedTo}
			for _, raw := range statusFlags {
				status, ok := store.ParseTaskStatus(raw)
				if !ok {
					return fmt.Errorf("unknown task status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				tasks, err := env.manager.ListTasks(c, filter)
				if err != nil {
					return err
				}
				if tasks == nil {
					tasks = []*store.Task{}
				}
				return ctx.emit(cmd, tasks, func() string {
					if len(tasks) == 0 {
						return "No tasks"
					}
					return renderTaskTable(tasks)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "Only tasks of this workflow")
	cmd.Flags().StringVar(&assignedTo, "worker", "", "Only tasks assigned to this worker")
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				task, err := env.manager.GetTask(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, task, func() string { return renderTaskDetail(task) })
			})
		},
	}
}

func newTaskAssignCommand(ctx *commandContext) *cobra.Command {
	var strategy string
	var workerID string

	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a pending task now; --worker forces a manual assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseStrategyFlag(strategy)
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				res, err := env.manager.ForceAssign(c, workflow.AssignRequest{
					TaskID:      args[0],
					Strategy:    kind,
					WorkerID:    workerID,
					PerformedBy: ctx.actor(),
				})
				if err != nil {
					if ctx.jsonOutput() && res.TaskID != "" {
						_ = writeJSON(cmd, res)
					}
					return err
				}
				return ctx.emit(cmd, res, func() string {
					line := fmt.Sprintf("Task %s assigned to %s via %s", res.TaskID, res.WorkerID, res.Strategy)
					if res.Score != nil {
						line += fmt.Sprintf(" (score %.3f)", *res.Score)
					}
					if len(res.Errors) > 0 {
						line += "\n  fallbacks: " + strings.Join(res.Errors, "; ")
					}
					return line
				})
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "Assignment strategy: ai, skill_match, workload, random, manual")
	cmd.Flags().StringVar(&workerID, "worker", "", "Worker id for manual assignment")
	return cmd
}

func newTaskStatusCommand(ctx *commandContext) *cobra.Command {
	var resultJSON string
	var errMsg string
	var jobHandle string

	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Report a task status as the job queue would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := workflow.StatusUpdate{
				TaskID:      args[0],
				Status:      store.TaskStatus(args[1]),
				Error:       errMsg,
				PerformedBy: ctx.actor(),
				JobHandle:   jobHandle,
			}
			if resultJSON != "" {
				if !json.Valid([]byte(resultJSON)) {
					return fmt.Errorf("--result must be valid JSON")
				}
				upd.Result = json.RawMessage(resultJSON)
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				res, err := env.manager.UpdateTaskStatus(c, upd)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, res, func() string { return renderUpdateResult(res) })
			})
		},
	}
	cmd.Flags().StringVar(&resultJSON, "result", "", "JSON result payload")
	cmd.Flags().StringVar(&errMsg, "error", "", "Error message for a failed status")
	cmd.Flags().StringVar(&jobHandle, "job-handle", "", "Only apply if this is still the task's current job")
	return cmd
}

func newTaskCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				res, err := env.manager.CancelTask(c, args[0], ctx.actor())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, res, func() string { return renderUpdateResult(res) })
			})
		},
	}
}

func newTaskHeartbeatCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <task-id>",
		Short: "Refresh the liveness stamp of an assigned or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				task, err := env.manager.Heartbeat(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, task, func() string {
					return fmt.Sprintf("Heartbeat recorded for %s at %s", task.ID, formatTime(task.LastHeartbeat))
				})
			})
		},
	}
}

func renderTaskTable(tasks []*store.Task) string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		score := "-"
		if task.AssignmentScore != nil {
			score = strconv.FormatFloat(*task.AssignmentScore, 'f', 3, 64)
		}
		rows = append(rows, []string{
			task.ID,
			task.TaskType,
			string(task.Status),
			dash(task.AssignedTo),
			dash(task.AssignmentStrategy),
			score,
			fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
		})
	}
	return renderTable(
		[]string{"ID", "Type", "Status", "Worker", "Strategy", "Score", "Retries"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func renderTaskDetail(task *store.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", task.ID)
	fmt.Fprintf(&b, "  Workflow:  %s\n", task.WorkflowID)
	fmt.Fprintf(&b, "  Type:      %s\n", task.TaskType)
	fmt.Fprintf(&b, "  Status:    %s\n", task.Status)
	fmt.Fprintf(&b, "  Skills:    %s\n", strings.Join(task.RequiredSkills, ", "))
	fmt.Fprintf(&b, "  Worker:    %s\n", dash(task.AssignedTo))
	if task.AssignmentStrategy != "" {
		fmt.Fprintf(&b, "  Strategy:  %s\n", task.AssignmentStrategy)
		fmt.Fprintf(&b, "  Reason:    %s\n", dash(task.AssignmentReason))
	}
	fmt.Fprintf(&b, "  Retries:   %d/%d\n", task.RetryCount, task.MaxRetries)
	fmt.Fprintf(&b, "  Job:       %s\n", dash(task.JobHandle))
	fmt.Fprintf(&b, "  Assigned:  %s\n", formatTime(task.AssignedAt))
	fmt.Fprintf(&b, "  Started:   %s\n", formatTime(task.StartedAt))
	fmt.Fprintf(&b, "  Heartbeat: %s\n", formatTime(task.LastHeartbeat))
	fmt.Fprintf(&b, "  Completed: %s\n", formatTime(task.CompletedAt))
	if task.Error != "" {
		fmt.Fprintf(&b, "  Error:     %s\n", task.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderUpdateResult(res workflow.UpdateResult) string {
	switch {
	case res.Stale:
		return fmt.Sprintf("Task %s ignored a report from an earlier attempt; still %s", res.Task.ID, res.Task.Status)
	case !res.Changed:
		return fmt.Sprintf("Task %s already %s", res.Task.ID, res.Task.Status)
	case res.Retried:
		return fmt.Sprintf("Task %s failed and was re-queued (retry %d/%d); workflow %s",
			res.Task.ID, res.Task.RetryCount, res.Task.MaxRetries, res.WorkflowStatus)
	default:
		return fmt.Sprintf("Task %s is now %s; workflow %s", res.Task.ID, res.Task.Status, res.WorkflowStatus)
	}
}
