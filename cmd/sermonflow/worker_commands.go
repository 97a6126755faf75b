package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/internal/store"
	"sermonflow/internal/workers"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Register and manage workers",
	}
	workerCmd.AddCommand(newWorkerAddCommand(ctx))
	workerCmd.AddCommand(newWorkerListCommand(ctx))
	workerCmd.AddCommand(newWorkerShowCommand(ctx))
	workerCmd.AddCommand(newWorkerUpdateCommand(ctx))
	workerCmd.AddCommand(newWorkerActivationCommand(ctx, "deactivate"))
	workerCmd.AddCommand(newWorkerActivationCommand(ctx, "activate"))
	workerCmd.AddCommand(newWorkerAvailabilityCommand(ctx))
	workerCmd.AddCommand(newWorkerRatingCommand(ctx))
	return workerCmd
}

func newWorkerAddCommand(ctx *commandContext) *cobra.Command {
	var id string
	var skillNames []string
	var maxConcurrent int
	var rating float64
	var unavailable bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				worker, err := env.workers.Register(c, workers.RegisterRequest{
					ID:            id,
					Name:          args[0],
					Skills:        skillNames,
					MaxConcurrent: maxConcurrent,
					Rating:        rating,
					Unavailable:   unavailable,
				})
				if err != nil {
					return err
				}
				return ctx.emit(cmd, worker, func() string {
					return fmt.Sprintf("Registered worker %s (%s)", worker.Name, worker.ID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Worker id (default generated)")
	cmd.Flags().StringSliceVar(&skillNames, "skill", nil, "Skill held by the worker (repeatable, comma separated)")
	cmd.Flags().IntVar(&maxConcurrent, "max", 1, "Maximum concurrent tasks")
	cmd.Flags().Float64Var(&rating, "rating", 0, "Operator rating between 0 and 5")
	cmd.Flags().BoolVar(&unavailable, "unavailable", false, "Register without accepting assignments")
	return cmd
}

func newWorkerListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				list, err := env.workers.List(c, activeOnly)
				if err != nil {
					return err
				}
				if list == nil {
					list = []*store.Worker{}
				}
				return ctx.emit(cmd, list, func() string { return renderWorkerTable(list) })
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active workers")
	return cmd
}

func newWorkerShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <worker-id>",
		Short: "Show one worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				worker, err := env.workers.Get(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, worker, func() string { return renderWorkerDetail(worker) })
			})
		},
	}
}

func newWorkerUpdateCommand(ctx *commandContext) *cobra.Command {
	var name string
	var skillNames []string
	var maxConcurrent int

	cmd := &cobra.Command{
		Use:   "update <worker-id>",
		Short: "Change a worker's name, skills or capacity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				current, err := env.workers.Get(c, args[0])
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("name") {
					name = current.Name
				}
				if !cmd.Flags().Changed("skill") {
					skillNames = current.Skills
				}
				if !cmd.Flags().Changed("max") {
					maxConcurrent = current.MaxConcurrent
				}
				if err := env.workers.UpdateProfile(c, current.ID, name, skillNames, maxConcurrent); err != nil {
					return err
				}
				updated, err := env.workers.Get(c, current.ID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, updated, func() string { return renderWorkerDetail(updated) })
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().StringSliceVar(&skillNames, "skill", nil, "Replace the skill list (repeatable)")
	cmd.Flags().IntVar(&maxConcurrent, "max", 0, "New maximum concurrent tasks")
	return cmd
}

func newWorkerActivationCommand(ctx *commandContext, verb string) *cobra.Command {
	short := "Deactivate a worker; in-flight tasks keep running"
	if verb == "activate" {
		short = "Re-activate a deactivated worker"
	}
	return &cobra.Command{
		Use:   verb + " <worker-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				var err error
				if verb == "activate" {
					err = env.workers.Activate(c, args[0])
				} else {
					err = env.workers.Deactivate(c, args[0])
				}
				if err != nil {
					return err
				}
				worker, err := env.workers.Get(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, worker, func() string {
					return fmt.Sprintf("Worker %s active: %s", worker.ID, yesNo(worker.IsActive))
				})
			})
		},
	}
}

func newWorkerAvailabilityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "availability <worker-id> <true|false>",
		Short: "Toggle whether a worker accepts new assignments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			available, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("availability must be true or false, got %q", args[1])
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				if err := env.workers.SetAvailability(c, args[0], available); err != nil {
					return err
				}
				worker, err := env.workers.Get(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, worker, func() string {
					return fmt.Sprintf("Worker %s available: %s", worker.ID, yesNo(worker.IsAvailable))
				})
			})
		},
	}
}

func newWorkerRatingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rating <worker-id> <0-5>",
		Short: "Record an operator rating for a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("rating must be a number, got %q", args[1])
			}
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				if err := env.workers.SetRating(c, args[0], rating); err != nil {
					return err
				}
				worker, err := env.workers.Get(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, worker, func() string {
					return fmt.Sprintf("Worker %s rating: %.1f", worker.ID, worker.Performance.Rating)
				})
			})
		},
	}
}

func renderWorkerTable(list []*store.Worker) string {
	if len(list) == 0 {
		return "No workers"
	}
	rows := make([][]string, 0, len(list))
	for _, w := range list {
		rows = append(rows, []string{
			w.ID,
			w.Name,
			strings.Join(w.Skills, ", "),
			fmt.Sprintf("%d/%d", w.CurrentLoad, w.MaxConcurrent),
			yesNo(w.IsActive),
			yesNo(w.IsAvailable),
			strconv.FormatFloat(w.Performance.Rating, 'f', 1, 64),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Skills", "Load", "Active", "Available", "Rating"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)
}

func renderWorkerDetail(w *store.Worker) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Worker %s\n", w.ID)
	fmt.Fprintf(&b, "  Name:       %s\n", w.Name)
	fmt.Fprintf(&b, "  Skills:     %s\n", dash(strings.Join(w.Skills, ", ")))
	fmt.Fprintf(&b, "  Load:       %d/%d\n", w.CurrentLoad, w.MaxConcurrent)
	fmt.Fprintf(&b, "  Active:     %s\n", yesNo(w.IsActive))
	fmt.Fprintf(&b, "  Available:  %s\n", yesNo(w.IsAvailable))
	fmt.Fprintf(&b, "  Completed:  %d (avg %.0fs)\n", w.Performance.CompletedCount, w.Performance.AvgCompletionSeconds)
	fmt.Fprintf(&b, "  Rating:     %.1f", w.Performance.Rating)
	return b.String()
}
