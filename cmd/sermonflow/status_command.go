package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/internal/daemonctl"
	"sermonflow/internal/preflight"
	"sermonflow/internal/store"
)

type statusReport struct {
	Daemon struct {
		Running bool   `json:"running"`
		PID     int    `json:"pid,omitempty"`
		APIBind string `json:"api_bind,omitempty"`
	} `json:"daemon"`
	Database        store.DatabaseHealth `json:"database"`
	Summary         store.StatusSummary  `json:"summary"`
	DefaultStrategy string               `json:"default_strategy"`
	AIEnabled       bool                 `json:"ai_enabled"`
	LoadMismatches  map[string][2]int    `json:"load_mismatches,omitempty"`
	Preflight       []preflight.Result   `json:"preflight,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var runPreflight bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, database and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(c context.Context, env *engineEnv) error {
				var report statusReport
				running, pid, err := daemonctl.Running(env.cfg)
				if err != nil {
					return err
				}
				report.Daemon.Running = running
				report.Daemon.PID = pid
				if running {
					report.Daemon.APIBind = env.cfg.Paths.APIBind
				}
				if report.Database, err = env.store.CheckHealth(c); err != nil {
					return err
				}
				if report.Summary, err = env.store.Summary(c); err != nil {
					return err
				}
				if report.LoadMismatches, err = env.store.CheckLoadConsistency(c); err != nil {
					return err
				}
				report.DefaultStrategy = env.cfg.Assignment.DefaultStrategy
				report.AIEnabled = env.cfg.AIEnabled()
				if runPreflight {
					report.Preflight = preflight.RunAll(c, env.cfg)
				}

				return ctx.emit(cmd, report, func() string {
					return renderStatusReport(report, shouldColorize(cmd.OutOrStdout()))
				})
			})
		},
	}
	cmd.Flags().BoolVar(&runPreflight, "preflight", false, "Also probe directories, the skill catalog and remote services")
	return cmd
}

func renderStatusReport(r statusReport, colorize bool) string {
	var lines []string

	lines = append(lines, renderSectionHeader("System", colorize)...)
	if r.Daemon.Running {
		msg := fmt.Sprintf("pid %d", r.Daemon.PID)
		if r.Daemon.APIBind != "" {
			msg += ", api " + r.Daemon.APIBind
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, msg, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	switch {
	case r.Database.Error != "":
		lines = append(lines, renderStatusLine("Database", statusError, r.Database.Error, colorize))
	case !r.Database.IntegrityCheck:
		lines = append(lines, renderStatusLine("Database", statusError, "integrity check failed", colorize))
	default:
		lines = append(lines, renderStatusLine("Database", statusOK,
			fmt.Sprintf("schema v%d at %s", r.Database.SchemaVersion, r.Database.DBPath), colorize))
	}
	aiMsg := "disabled"
	if r.AIEnabled {
		aiMsg = "enabled"
	}
	lines = append(lines, renderStatusLine("Strategy", statusInfo,
		fmt.Sprintf("%s (AI %s)", r.DefaultStrategy, aiMsg), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Workers", colorize)...)
	workerKind := statusOK
	if r.Summary.ActiveWorkers == 0 {
		workerKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Active", workerKind, fmt.Sprintf("%d", r.Summary.ActiveWorkers), colorize))
	lines = append(lines, renderStatusLine("Load", statusInfo,
		fmt.Sprintf("%d of %d slots", r.Summary.TotalLoad, r.Summary.TotalCapacity), colorize))
	if len(r.LoadMismatches) > 0 {
		ids := make([]string, 0, len(r.LoadMismatches))
		for id, pair := range r.LoadMismatches {
			ids = append(ids, fmt.Sprintf("%s load=%d held=%d", id, pair[0], pair[1]))
		}
		sort.Strings(ids)
		lines = append(lines, renderStatusLine("Load drift", statusError, strings.Join(ids, "; "), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Workflows", colorize)...)
	lines = append(lines, renderCounts(workflowCounts(r.Summary.Workflows), colorize)...)

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Tasks", colorize)...)
	lines = append(lines, renderCounts(taskCounts(r.Summary.Tasks), colorize)...)

	if len(r.Preflight) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Preflight", colorize)...)
		for _, check := range r.Preflight {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderStatusLine("Audit entries", statusInfo, fmt.Sprintf("%d", r.Summary.AuditEntries), colorize))
	return strings.Join(lines, "\n")
}

type countLine struct {
	label string
	n     int
	kind  statusKind
}

func renderCounts(counts []countLine, colorize bool) []string {
	lines := make([]string, 0, len(counts))
	for _, c := range counts {
		kind := statusInfo
		if c.n > 0 {
			kind = c.kind
		}
		lines = append(lines, renderStatusLine(c.label, kind, fmt.Sprintf("%d", c.n), colorize))
	}
	return lines
}

func workflowCounts(m map[store.WorkflowStatus]int) []countLine {
	return []countLine{
		{"Created", m[store.WorkflowCreated], statusInfo},
		{"Processing", m[store.WorkflowProcessing], statusOK},
		{"Completed", m[store.WorkflowCompleted], statusOK},
		{"Partial failure", m[store.WorkflowPartialFailure], statusWarn},
		{"Failed", m[store.WorkflowFailed], statusError},
		{"Cancelled", m[store.WorkflowCancelled], statusInfo},
	}
}

func taskCounts(m map[store.TaskStatus]int) []countLine {
	return []countLine{
		{"Pending", m[store.TaskPending], statusWarn},
		{"Assigned", m[store.TaskAssigned], statusOK},
		{"In progress", m[store.TaskInProgress], statusOK},
		{"Review required", m[store.TaskReviewRequired], statusWarn},
		{"Completed", m[store.TaskCompleted], statusOK},
		{"Failed", m[store.TaskFailed], statusError},
		{"Cancelled", m[store.TaskCancelled], statusInfo},
	}
}
