// Package workers manages worker records and their capacity slots.
//
// Capacity only changes through Reserve and Release, which map to single
// conditional UPDATE statements in the store. The Tx variants let the
// assignment and workflow code fold a slot change into a wider transaction.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/skills"
	"sermonflow/internal/store"
)

// Registry provides worker lookups and capacity accounting.
type Registry struct {
	store  *store.Store
	logger *slog.Logger
}

// New constructs a Registry over st.
func New(st *store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logging.NewComponentLogger(logger, "workers")}
}

// RegisterRequest describes a new worker.
type RegisterRequest struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Skills        []string `json:"skills"`
	MaxConcurrent int      `json:"max_concurrent"`
	Rating        float64  `json:"rating"`
	Unavailable   bool     `json:"unavailable"`
}

// Register validates and stores a new active worker.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*store.Worker, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, services.Validation("workers", "register", "name is required")
	}
	if req.MaxConcurrent < 0 {
		return nil, services.Validation("workers", "register", "max_concurrent must be positive")
	}
	if req.MaxConcurrent == 0 {
		req.MaxConcurrent = 1
	}
	worker, err := r.store.InsertWorker(ctx, &store.Worker{
		ID:            strings.TrimSpace(req.ID),
		Name:          name,
		Skills:        skills.NormalizeNames(req.Skills),
		IsActive:      true,
		IsAvailable:   !req.Unavailable,
		MaxConcurrent: req.MaxConcurrent,
		Performance:   store.Performance{Rating: req.Rating},
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workers", "register", "store worker", err)
	}
	r.logger.Info("worker registered",
		logging.String(logging.FieldWorkerID, worker.ID),
		logging.String("skills", strings.Join(worker.Skills, ",")),
		logging.Int("max_concurrent", worker.MaxConcurrent),
	)
	return worker, nil
}

// Get returns the worker with id.
func (r *Registry) Get(ctx context.Context, id string) (*store.Worker, error) {
	worker, err := r.store.GetWorker(ctx, id)
	if err != nil {
		return nil, mapStoreErr("get", err)
	}
	return worker, nil
}

// List returns all workers, or only active ones.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]*store.Worker, error) {
	return r.store.ListWorkers(ctx, store.WorkerFilter{ActiveOnly: activeOnly})
}

// Eligible returns active, available workers under capacity whose skills
// intersect requiredSkills. An empty requirement admits every such worker.
// The result is ordered by id; callers rank it.
func (r *Registry) Eligible(ctx context.Context, requiredSkills []string) ([]*store.Worker, error) {
	candidates, err := r.store.ListWorkers(ctx, store.WorkerFilter{Assignable: true})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workers", "eligible", "list workers", err)
	}
	required := skills.NormalizeNames(requiredSkills)
	if len(required) == 0 {
		return candidates, nil
	}
	eligible := candidates[:0]
	for _, worker := range candidates {
		if Intersects(worker.Skills, required) {
			eligible = append(eligible, worker)
		}
	}
	return eligible, nil
}

// Reserve takes one slot on workerID. False means the worker is full,
// inactive or unavailable.
func (r *Registry) Reserve(ctx context.Context, workerID string) (bool, error) {
	return r.store.ReserveWorker(ctx, workerID)
}

// Release returns one slot on workerID.
func (r *Registry) Release(ctx context.Context, workerID string) error {
	return r.store.ReleaseWorker(ctx, workerID)
}

// ReserveTx takes a slot inside tx.
func (r *Registry) ReserveTx(ctx context.Context, tx *store.Tx, workerID string) (bool, error) {
	return tx.ReserveWorker(ctx, workerID)
}

// ReleaseTx returns a slot inside tx.
func (r *Registry) ReleaseTx(ctx context.Context, tx *store.Tx, workerID string) error {
	return tx.ReleaseWorker(ctx, workerID)
}

// RecordCompletion updates performance statistics inside tx.
func (r *Registry) RecordCompletion(ctx context.Context, tx *store.Tx, workerID string, took time.Duration) error {
	return tx.RecordWorkerCompletion(ctx, workerID, took)
}

// Deactivate soft-deletes a worker. Its in-flight tasks keep their reference
// and still release load when they finish.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	if err := r.store.SetWorkerActive(ctx, id, false); err != nil {
		return mapStoreErr("deactivate", err)
	}
	r.logger.Info("worker deactivated", logging.String(logging.FieldWorkerID, id))
	return nil
}

// Activate re-enables a deactivated worker.
func (r *Registry) Activate(ctx context.Context, id string) error {
	return mapStoreErr("activate", r.store.SetWorkerActive(ctx, id, true))
}

// SetAvailability toggles whether the worker accepts new assignments.
func (r *Registry) SetAvailability(ctx context.Context, id string, available bool) error {
	return mapStoreErr("set availability", r.store.SetWorkerAvailable(ctx, id, available))
}

// SetRating records an operator rating between 0 and 5.
func (r *Registry) SetRating(ctx context.Context, id string, rating float64) error {
	if rating < 0 || rating > 5 {
		return services.Validation("workers", "set rating", "rating must be between 0 and 5")
	}
	return mapStoreErr("set rating", r.store.SetWorkerRating(ctx, id, rating))
}

// UpdateProfile changes a worker's name, skills and capacity.
func (r *Registry) UpdateProfile(ctx context.Context, id, name string, skillNames []string, maxConcurrent int) error {
	if strings.TrimSpace(name) == "" || maxConcurrent <= 0 {
		return services.Validation("workers", "update", "name and positive max_concurrent are required")
	}
	err := r.store.UpdateWorkerProfile(ctx, id, strings.TrimSpace(name), skills.NormalizeNames(skillNames), maxConcurrent)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return services.Wrap(services.ErrConflict, "workers", "update", "profile rejected", err)
	}
	return mapStoreErr("update", err)
}

// CheckAssignable explains why worker cannot take a manual assignment, or
// returns nil when it can.
func CheckAssignable(worker *store.Worker) error {
	switch {
	case worker == nil:
		return services.Validation("workers", "check", "worker is required")
	case !worker.IsActive:
		return services.Validation("workers", "check", fmt.Sprintf("worker %s is not active", worker.ID))
	case !worker.IsAvailable:
		return services.Validation("workers", "check", fmt.Sprintf("worker %s is not available", worker.ID))
	case !worker.HasCapacity():
		return services.Validation("workers", "check", fmt.Sprintf("worker %s is at capacity (%d/%d)", worker.ID, worker.CurrentLoad, worker.MaxConcurrent))
	}
	return nil
}

// Intersects reports whether the worker holds at least one of required.
func Intersects(workerSkills, required []string) bool {
	held := make(map[string]struct{}, len(workerSkills))
	for _, name := range workerSkills {
		held[skills.NormalizeName(name)] = struct{}{}
	}
	for _, name := range required {
		if _, ok := held[skills.NormalizeName(name)]; ok {
			return true
		}
	}
	return false
}

func mapStoreErr(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return services.Wrap(services.ErrNotFound, "workers", operation, "worker not found", err)
	default:
		return services.Wrap(services.ErrTransient, "workers", operation, "store error", err)
	}
}
