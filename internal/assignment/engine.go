// Package assignment chooses a worker for a pending task and commits the
// choice.
//
// A request names a strategy. Automatic strategies run as a chain: the named
// one first, then every strategy after it in the order ai, skill_match,
// workload, random. A strategy that errors is skipped. Manual requests never
// fall back. The chosen worker's slot is reserved, the task is moved to
// assigned and the audit entry is written in one transaction, so a failure at
// any step leaves no load behind.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"sermonflow/internal/audit"
	"sermonflow/internal/logging"
	"sermonflow/internal/scoring"
	"sermonflow/internal/services"
	"sermonflow/internal/store"
	"sermonflow/internal/workers"
)

const (
	defaultMaxAttempts = 3
	defaultAITimeout   = 20 * time.Second

	// ReasonNoEligibleWorkers is reported when no worker can take the task.
	ReasonNoEligibleWorkers = "no eligible workers"
)

// errLostReservation means the chosen worker filled up between listing and
// reserving.
var errLostReservation = errors.New("worker reservation lost")

// Request asks the engine to assign one task.
type Request struct {
	TaskID string
	// Strategy selects the first strategy in the chain. Empty means the
	// engine default.
	Strategy Kind
	// WorkerID is required for manual assignment and ignored otherwise.
	WorkerID    string
	PerformedBy string
}

// Result describes the outcome of an assignment.
type Result struct {
	Success  bool     `json:"success"`
	TaskID   string   `json:"task_id"`
	WorkerID string   `json:"worker_id,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Reason   string   `json:"reason"`
	Strategy Kind     `json:"strategy,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	// Task is the committed task when Success is true.
	Task *store.Task `json:"-"`
}

// Engine assigns tasks to workers.
type Engine struct {
	store   *store.Store
	workers *workers.Registry
	scorer  *scoring.Scorer
	audit   *audit.Log
	logger  *slog.Logger

	strategies  map[Kind]Strategy
	defaultKind Kind
	maxAttempts int
	stats       *counters
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	suggester   Suggester
	rng         *rand.Rand
	maxAttempts int
	aiTimeout   time.Duration
	defaultKind Kind
}

// WithSuggester enables the AI strategy. Without one the AI strategy always
// falls through.
func WithSuggester(s Suggester) Option {
	return func(o *engineOptions) { o.suggester = s }
}

// WithRand fixes the random strategy's source.
func WithRand(rng *rand.Rand) Option {
	return func(o *engineOptions) { o.rng = rng }
}

// WithMaxAttempts bounds how many reservations may be lost before giving up.
func WithMaxAttempts(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithAITimeout bounds each call to the suggester.
func WithAITimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.aiTimeout = d
		}
	}
}

// WithDefaultStrategy sets the strategy used when a request names none.
func WithDefaultStrategy(kind Kind) Option {
	return func(o *engineOptions) {
		if kind != "" && kind != KindManual {
			o.defaultKind = kind
		}
	}
}

// NewEngine wires an Engine.
func NewEngine(st *store.Store, registry *workers.Registry, scorer *scoring.Scorer, auditLog *audit.Log, logger *slog.Logger, opts ...Option) *Engine {
	o := engineOptions{
		maxAttempts: defaultMaxAttempts,
		aiTimeout:   defaultAITimeout,
		defaultKind: KindAI,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if scorer == nil {
		scorer = scoring.New(scoring.DefaultWeights())
	}
	return &Engine{
		store:   st,
		workers: registry,
		scorer:  scorer,
		audit:   auditLog,
		logger:  logging.NewComponentLogger(logger, "assignment"),
		strategies: map[Kind]Strategy{
			KindAI:         &aiStrategy{suggester: o.suggester, timeout: o.aiTimeout},
			KindSkillMatch: skillMatchStrategy{},
			KindWorkload:   workloadStrategy{},
			KindRandom:     newRandomStrategy(o.rng),
		},
		defaultKind: o.defaultKind,
		maxAttempts: o.maxAttempts,
		stats:       newCounters(),
	}
}

// DefaultStrategy returns the strategy used when a request names none.
func (e *Engine) DefaultStrategy() Kind {
	return e.defaultKind
}

// Assign runs the strategy chain for req.TaskID and commits the first
// successful choice. On failure the returned Result still explains what was
// tried.
func (e *Engine) Assign(ctx context.Context, req Request) (Result, error) {
	result := Result{TaskID: req.TaskID}
	kind := req.Strategy
	if kind == "" {
		kind = e.defaultKind
	}
	result.Strategy = kind
	if req.PerformedBy != "" {
		ctx = services.WithActor(ctx, req.PerformedBy)
	}

	task, err := e.store.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return result, services.Wrap(services.ErrNotFound, "assignment", "assign", fmt.Sprintf("task %s not found", req.TaskID), err)
		}
		return result, services.Wrap(services.ErrTransient, "assignment", "assign", "load task", err)
	}
	ctx = services.WithWorkflowID(services.WithTaskID(ctx, task.ID), task.WorkflowID)
	logger := logging.WithContext(ctx, e.logger)

	if task.Status != store.TaskPending {
		result.Reason = fmt.Sprintf("task is %s", task.Status)
		return result, services.Validation("assignment", "assign", fmt.Sprintf("task %s is %s, not pending", task.ID, task.Status))
	}

	if kind == KindManual {
		return e.assignManual(ctx, logger, task, req.WorkerID, result)
	}
	if _, ok := e.strategies[kind]; !ok {
		return result, services.Validation("assignment", "assign", fmt.Sprintf("unknown strategy %q", kind))
	}

	pool, err := e.workers.Eligible(ctx, task.RequiredSkills)
	if err != nil {
		return result, err
	}
	chain := Chain(kind)

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if len(pool) == 0 {
			break
		}
		candidate := Candidate{
			Task:   task,
			Pool:   pool,
			Ranked: e.scorer.Rank(pool, task.RequiredSkills),
		}
		used, choice, chosen := e.runChain(ctx, logger, chain, candidate, &result)
		if !chosen {
			break
		}
		committed, err := e.commit(ctx, task.ID, used, kind, choice)
		switch {
		case err == nil:
			score := choice.Score
			result.Success = true
			result.WorkerID = choice.WorkerID
			result.Score = &score
			result.Reason = choice.Reason
			result.Strategy = used
			result.Task = committed
			e.stats.success(used, used != kind)
			logger.Info("task assigned",
				logging.Args(append(logging.DecisionAttrsWithScore("assignment", choice.WorkerID, choice.Reason, choice.Score),
					logging.String(logging.FieldWorkerID, choice.WorkerID),
					logging.String(logging.FieldStrategy, string(used)),
					logging.Int("attempt", attempt),
				)...)...,
			)
			return result, nil
		case errors.Is(err, errLostReservation):
			e.stats.lostReservation()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: reservation of %s lost", used, choice.WorkerID))
			logger.Debug("reservation lost",
				logging.String(logging.FieldWorkerID, choice.WorkerID),
				logging.Int("attempt", attempt),
			)
			pool = slices.DeleteFunc(pool, func(w *store.Worker) bool { return w.ID == choice.WorkerID })
		default:
			result.Reason = err.Error()
			return result, err
		}
	}

	if len(pool) == 0 {
		result.Reason = ReasonNoEligibleWorkers
		e.stats.noEligible()
		e.recordFailure(ctx, logger, task, kind, result)
		return result, services.Wrap(services.ErrNoEligibleWorkers, "assignment", "assign",
			fmt.Sprintf("task %s requires %v", task.ID, task.RequiredSkills), nil)
	}
	result.Reason = "no strategy produced a committable worker"
	e.recordFailure(ctx, logger, task, kind, result)
	return result, services.Wrap(services.ErrConflict, "assignment", "assign", result.Reason, nil)
}

// runChain tries each strategy in turn and returns the first choice.
func (e *Engine) runChain(ctx context.Context, logger *slog.Logger, chain []Kind, c Candidate, result *Result) (Kind, Choice, bool) {
	for i, kind := range chain {
		choice, err := e.strategies[kind].Choose(ctx, c)
		if err == nil {
			return kind, choice, true
		}
		if kind == KindAI {
			e.stats.aiError()
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", kind, err))
		next := "none"
		if i+1 < len(chain) {
			next = string(chain[i+1])
		}
		logger.Info("strategy fallback",
			logging.Args(append(logging.DecisionAttrs("assignment_strategy", "fallback", err.Error()),
				logging.String(logging.FieldStrategy, string(kind)),
				logging.String("next_strategy", next),
			)...)...,
		)
	}
	return "", Choice{}, false
}

func (e *Engine) assignManual(ctx context.Context, logger *slog.Logger, task *store.Task, workerID string, result Result) (Result, error) {
	if workerID == "" {
		return result, services.Validation("assignment", "manual", "worker_id is required for manual assignment")
	}
	worker, err := e.workers.Get(ctx, workerID)
	if err != nil {
		result.Reason = err.Error()
		return result, err
	}
	if err := workers.CheckAssignable(worker); err != nil {
		result.Reason = err.Error()
		return result, err
	}
	choice := Choice{
		WorkerID: worker.ID,
		Score:    e.scorer.Score(worker, task.RequiredSkills).Overall,
		Reason:   "manual assignment",
	}
	committed, err := e.commit(ctx, task.ID, KindManual, KindManual, choice)
	if errors.Is(err, errLostReservation) {
		e.stats.lostReservation()
		err = services.Validation("assignment", "manual", fmt.Sprintf("worker %s reached capacity", worker.ID))
	}
	if err != nil {
		result.Reason = err.Error()
		return result, err
	}
	score := choice.Score
	result.Success = true
	result.WorkerID = worker.ID
	result.Score = &score
	result.Reason = choice.Reason
	result.Task = committed
	e.stats.success(KindManual, false)
	logger.Info("task assigned",
		logging.Args(append(logging.DecisionAttrsWithScore("assignment", worker.ID, choice.Reason, choice.Score),
			logging.String(logging.FieldWorkerID, worker.ID),
			logging.String(logging.FieldStrategy, string(KindManual)),
		)...)...,
	)
	return result, nil
}

// commit reserves the worker, moves the task to assigned and appends the
// audit entry in one transaction.
func (e *Engine) commit(ctx context.Context, taskID string, used, requested Kind, choice Choice) (*store.Task, error) {
	var committed *store.Task
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != store.TaskPending {
			return services.Wrap(services.ErrConflict, "assignment", "commit",
				fmt.Sprintf("task %s became %s", task.ID, task.Status), nil)
		}
		ok, err := e.workers.ReserveTx(ctx, tx, choice.WorkerID)
		if err != nil {
			return err
		}
		if !ok {
			return errLostReservation
		}
		now := time.Now().UTC()
		score := choice.Score
		task.Status = store.TaskAssigned
		task.AssignedTo = choice.WorkerID
		task.AssignmentScore = &score
		task.AssignmentReason = choice.Reason
		task.AssignmentStrategy = string(used)
		task.AssignedAt = &now
		task.Error = ""
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		details := map[string]any{
			"worker_id": choice.WorkerID,
			"strategy":  string(used),
			"score":     choice.Score,
			"reason":    choice.Reason,
		}
		if used != requested {
			details["requested_strategy"] = string(requested)
		}
		if err := e.audit.Append(ctx, tx, audit.Entry{
			TaskID:     task.ID,
			WorkflowID: task.WorkflowID,
			Action:     audit.ActionAssigned,
			Details:    details,
		}); err != nil {
			return err
		}
		committed = task
		return nil
	})
	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, errLostReservation),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrValidation):
		return nil, err
	case errors.Is(err, store.ErrStaleVersion):
		return nil, services.Wrap(services.ErrConflict, "assignment", "commit", "task changed concurrently", err)
	case errors.Is(err, store.ErrNotFound):
		return nil, services.Wrap(services.ErrNotFound, "assignment", "commit", "task or worker not found", err)
	default:
		return nil, services.Wrap(services.ErrTransient, "assignment", "commit", "store transaction", err)
	}
}

func (e *Engine) recordFailure(ctx context.Context, logger *slog.Logger, task *store.Task, kind Kind, result Result) {
	details := map[string]any{
		"strategy": string(kind),
		"reason":   result.Reason,
	}
	if len(result.Errors) > 0 {
		details["errors"] = result.Errors
	}
	if e.repeatsLastFailure(ctx, task.ID, result.Reason) {
		logger.Debug("task still unassignable", logging.String("reason", result.Reason))
		return
	}
	if err := e.audit.Record(ctx, audit.Entry{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		Action:     audit.ActionAssignmentFailed,
		Details:    details,
	}); err != nil {
		logging.WarnWithContext(logger, "assignment failure not audited", "audit_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "audit log is missing an assignment_failed entry"),
		)
	}
	logger.Info("task left pending",
		logging.Args(append(logging.DecisionAttrs("assignment", "unassigned", result.Reason),
			logging.String(logging.FieldStrategy, string(kind)),
			logging.String("required_skills", fmt.Sprint(task.RequiredSkills)),
		)...)...,
	)
}

// repeatsLastFailure reports whether the newest audit entry for the task is
// already an assignment_failed with the same reason. Sweeps retry unplaceable
// tasks every pass and only the first failure of a streak is recorded.
func (e *Engine) repeatsLastFailure(ctx context.Context, taskID, reason string) bool {
	last, err := e.audit.List(ctx, audit.Filter{TaskID: taskID, Limit: 1})
	if err != nil || len(last) == 0 {
		return false
	}
	prev := last[0]
	return prev.Action == audit.ActionAssignmentFailed && prev.Details["reason"] == reason
}
