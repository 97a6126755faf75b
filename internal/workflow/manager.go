package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sermonflow/internal/assignment"
	"sermonflow/internal/audit"
	"sermonflow/internal/config"
	"sermonflow/internal/dispatch"
	"sermonflow/internal/logging"
	"sermonflow/internal/scoring"
	"sermonflow/internal/services"
	"sermonflow/internal/skills"
	"sermonflow/internal/store"
	"sermonflow/internal/workers"
)

// staleRetryAttempts bounds how often a task mutation is re-run after losing
// an optimistic version check.
const staleRetryAttempts = 5

// Dependencies are the collaborators a Manager uses. Nil fields are built
// from the config and store.
type Dependencies struct {
	Skills  *skills.Registry
	Workers *workers.Registry
	Audit   *audit.Log
	Engine  *assignment.Engine
	Bridge  dispatch.Bridge
}

// Manager coordinates workflow and task lifecycles.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	skills  *skills.Registry
	workers *workers.Registry
	audit   *audit.Log
	engine  *assignment.Engine
	bridge  dispatch.Bridge
	logger  *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(cfg *config.Config, st *store.Store, deps Dependencies, logger *slog.Logger) *Manager {
	if deps.Skills == nil {
		deps.Skills = skills.NewRegistry(logger)
	}
	if deps.Workers == nil {
		deps.Workers = workers.New(st, logger)
	}
	if deps.Audit == nil {
		deps.Audit = audit.New(st, logger)
	}
	if deps.Engine == nil {
		deps.Engine = assignment.NewEngine(st, deps.Workers, scoring.New(scoring.WeightsFromConfig(cfg.Scoring)),
			deps.Audit, logger, assignment.OptionsFromConfig(cfg)...)
	}
	if deps.Bridge == nil {
		deps.Bridge = dispatch.NewBridge(cfg, logger)
	}
	return &Manager{
		cfg:     cfg,
		store:   st,
		skills:  deps.Skills,
		workers: deps.Workers,
		audit:   deps.Audit,
		engine:  deps.Engine,
		bridge:  deps.Bridge,
		logger:  logging.NewComponentLogger(logger, "workflow"),
	}
}

// Engine exposes the assignment engine, mainly for its stats.
func (m *Manager) Engine() *assignment.Engine {
	return m.engine
}

// CreateWorkflow builds a CREATED workflow with one pending task per entry in
// req.TaskTypes. Required skills come from the skill registry.
func (m *Manager) CreateWorkflow(ctx context.Context, req CreateRequest) (*store.Workflow, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, services.Validation("workflow", "create", "name is required")
	}
	if len(req.TaskTypes) == 0 {
		return nil, services.Validation("workflow", "create", "at least one task type is required")
	}
	priority := req.Priority
	if priority == 0 {
		priority = 3
	}
	if priority < 1 || priority > 5 {
		return nil, services.Validation("workflow", "create", "priority must be between 1 and 5")
	}
	maxRetries := m.cfg.Assignment.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 {
		return nil, services.Validation("workflow", "create", "max_retries must be >= 0")
	}

	wf := &store.Workflow{
		Name:      name,
		EntityRef: strings.TrimSpace(req.EntityRef),
		Status:    store.WorkflowCreated,
		Priority:  priority,
	}
	for _, raw := range req.TaskTypes {
		taskType := skills.NormalizeName(raw)
		if !m.skills.Known(taskType) {
			return nil, services.Validation("workflow", "create", fmt.Sprintf("unknown task type %q", raw))
		}
		wf.Tasks = append(wf.Tasks, &store.Task{
			TaskType:       taskType,
			Status:         store.TaskPending,
			RequiredSkills: m.skills.SkillsFor(taskType),
			MaxRetries:     maxRetries,
		})
	}

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertWorkflow(ctx, wf); err != nil {
			return err
		}
		types := make([]string, 0, len(wf.Tasks))
		for _, task := range wf.Tasks {
			types = append(types, task.TaskType)
		}
		return m.audit.Append(ctx, tx, audit.Entry{
			WorkflowID: wf.ID,
			Action:     audit.ActionWorkflowCreated,
			Details: map[string]any{
				"name":       wf.Name,
				"entity_ref": wf.EntityRef,
				"priority":   wf.Priority,
				"task_types": types,
			},
		})
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "create", "store workflow", err)
	}
	m.logger.Info("workflow created",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String("entity_ref", wf.EntityRef),
		logging.Int("tasks", len(wf.Tasks)),
		logging.Int("priority", wf.Priority),
	)
	return wf, nil
}

// StartWorkflow moves a CREATED workflow to PROCESSING and offers every
// pending task to the engine. Tasks that cannot be assigned stay pending for
// the reconciliation sweep; that does not fail the start.
func (m *Manager) StartWorkflow(ctx context.Context, id string, strategy assignment.Kind) (StartResult, error) {
	ctx = services.WithWorkflowID(ctx, id)
	var result StartResult
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.TransitionWorkflow(ctx, id, []store.WorkflowStatus{store.WorkflowCreated}, store.WorkflowProcessing, "")
		if err != nil {
			return err
		}
		if !ok {
			wf, err := tx.GetWorkflow(ctx, id)
			if err != nil {
				return err
			}
			return services.Validation("workflow", "start", fmt.Sprintf("workflow %s is %s, not created", id, wf.Status))
		}
		return m.audit.Append(ctx, tx, audit.Entry{
			WorkflowID: id,
			Action:     audit.ActionWorkflowStarted,
			Details:    map[string]any{"strategy": string(strategy)},
		})
	})
	if err != nil {
		return result, m.mapStoreErr("start", err)
	}
	result.Started = true

	tasks, err := m.store.ListTasks(ctx, store.TaskFilter{WorkflowID: id, Statuses: []store.TaskStatus{store.TaskPending}})
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "workflow", "start", "list pending tasks", err)
	}
	logger := logging.WithContext(ctx, m.logger)
	for _, task := range tasks {
		res, err := m.assignAndDispatch(ctx, AssignRequest{TaskID: task.ID, Strategy: strategy})
		result.Results = append(result.Results, res)
		if err != nil {
			result.Unassigned++
			logger.Info("task not assigned at start",
				logging.Args(append(logging.TaskAttrs(task.ID, id),
					logging.String("reason", res.Reason),
					logging.Error(err),
				)...)...,
			)
			continue
		}
		result.Assigned++
	}
	logger.Info("workflow started",
		logging.Int("assigned", result.Assigned),
		logging.Int("unassigned", result.Unassigned),
	)
	return result, nil
}

// ForceAssign runs the engine for one pending task and dispatches it on
// success. A worker id without a strategy means manual assignment.
func (m *Manager) ForceAssign(ctx context.Context, req AssignRequest) (assignment.Result, error) {
	if req.Strategy == "" && req.WorkerID != "" {
		req.Strategy = assignment.KindManual
	}
	task, err := m.GetTask(ctx, req.TaskID)
	if err != nil {
		return assignment.Result{TaskID: req.TaskID}, err
	}
	wf, err := m.store.GetWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return assignment.Result{TaskID: req.TaskID}, m.mapStoreErr("assign", err)
	}
	if !wf.Status.IsActive() {
		return assignment.Result{TaskID: req.TaskID}, services.Validation("workflow", "assign",
			fmt.Sprintf("workflow %s is %s; start it first", wf.ID, wf.Status))
	}
	return m.assignAndDispatch(ctx, req)
}

func (m *Manager) assignAndDispatch(ctx context.Context, req AssignRequest) (assignment.Result, error) {
	res, err := m.engine.Assign(ctx, assignment.Request{
		TaskID:      req.TaskID,
		Strategy:    req.Strategy,
		WorkerID:    req.WorkerID,
		PerformedBy: req.PerformedBy,
	})
	if err != nil {
		return res, err
	}
	if err := m.dispatch(ctx, res.Task); err != nil {
		res.Success = false
		res.Reason = "dispatch failed"
		res.Errors = append(res.Errors, err.Error())
		return res, err
	}
	return res, nil
}

// GetWorkflow returns a workflow with its tasks.
func (m *Manager) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	wf, err := m.store.GetWorkflowWithTasks(ctx, id)
	if err != nil {
		return nil, m.mapStoreErr("get", err)
	}
	return wf, nil
}

// ListWorkflows returns workflows, newest first.
func (m *Manager) ListWorkflows(ctx context.Context, statuses ...store.WorkflowStatus) ([]*store.Workflow, error) {
	wfs, err := m.store.ListWorkflows(ctx, statuses...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "list", "list workflows", err)
	}
	return wfs, nil
}

// GetTask returns one task.
func (m *Manager) GetTask(ctx context.Context, id string) (*store.Task, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, m.mapStoreErr("get task", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter.
func (m *Manager) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	tasks, err := m.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "list tasks", "list tasks", err)
	}
	return tasks, nil
}

// Progress summarizes a workflow's task counts.
func (m *Manager) Progress(ctx context.Context, id string) (store.Progress, error) {
	if _, err := m.store.GetWorkflow(ctx, id); err != nil {
		return store.Progress{}, m.mapStoreErr("progress", err)
	}
	counts, err := m.store.TaskCounts(ctx, id)
	if err != nil {
		return store.Progress{}, services.Wrap(services.ErrTransient, "workflow", "progress", "count tasks", err)
	}
	return store.ProgressFromCounts(counts), nil
}

// withTaskTx runs fn in a transaction, re-running it when a task version
// check fails.
func (m *Manager) withTaskTx(ctx context.Context, fn func(tx *store.Tx) error) error {
	var err error
	for attempt := 0; attempt < staleRetryAttempts; attempt++ {
		err = m.store.WithTx(ctx, fn)
		if !errors.Is(err, store.ErrStaleVersion) {
			return err
		}
	}
	return services.Wrap(services.ErrConflict, "workflow", "update", "task kept changing", err)
}

// recompute derives the workflow status from its tasks and persists a change.
// Only processing and partially failed workflows are recomputed.
func (m *Manager) recompute(ctx context.Context, tx *store.Tx, workflowID string) (store.WorkflowStatus, error) {
	wf, err := tx.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if !wf.Status.IsActive() {
		return wf.Status, nil
	}
	counts, err := tx.TaskCounts(ctx, workflowID)
	if err != nil {
		return "", err
	}
	next := deriveWorkflowStatus(counts)
	if next == wf.Status {
		return wf.Status, nil
	}
	ok, err := tx.TransitionWorkflow(ctx, workflowID, []store.WorkflowStatus{wf.Status}, next, "")
	if err != nil || !ok {
		return wf.Status, err
	}
	progress := store.ProgressFromCounts(counts)
	if err := m.audit.Append(ctx, tx, audit.Entry{
		WorkflowID: workflowID,
		Action:     audit.ActionWorkflowStatusChanged,
		Details: map[string]any{
			"from":      string(wf.Status),
			"to":        string(next),
			"completed": progress.Completed,
			"failed":    progress.Failed,
			"total":     progress.Total,
		},
	}); err != nil {
		return wf.Status, err
	}
	logging.WithContext(ctx, m.logger).Info("workflow status changed",
		logging.String(logging.FieldWorkflowID, workflowID),
		logging.String("from", string(wf.Status)),
		logging.String("to", string(next)),
	)
	return next, nil
}

func (m *Manager) mapStoreErr(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrExternalService):
		return err
	case errors.Is(err, store.ErrNotFound):
		return services.Wrap(services.ErrNotFound, "workflow", operation, "not found", err)
	case errors.Is(err, store.ErrStaleVersion):
		return services.Wrap(services.ErrConflict, "workflow", operation, "concurrent update", err)
	default:
		return services.Wrap(services.ErrTransient, "workflow", operation, "store error", err)
	}
}

func now() time.Time {
	return time.Now().UTC()
}
