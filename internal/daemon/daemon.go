package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"sermonflow/internal/assignment"
	"sermonflow/internal/audit"
	"sermonflow/internal/config"
	"sermonflow/internal/dispatch"
	"sermonflow/internal/logging"
	"sermonflow/internal/preflight"
	"sermonflow/internal/scoring"
	"sermonflow/internal/skills"
	"sermonflow/internal/store"
	"sermonflow/internal/workers"
	"sermonflow/internal/workflow"
)

// Daemon owns the engine components and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	skills     *skills.Registry
	workers    *workers.Registry
	audit      *audit.Log
	manager    *workflow.Manager
	reconciler *workflow.Reconciler
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                `json:"running"`
	PID          int                 `json:"pid"`
	DatabasePath string              `json:"database_path"`
	LockFilePath string              `json:"lock_file_path"`
	APIAddress   string              `json:"api_address,omitempty"`
	Reconciling  bool                `json:"reconciling"`
	Summary      store.StatusSummary `json:"summary"`
	Assignment   assignment.Stats    `json:"assignment"`
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	bridge    dispatch.Bridge
	suggester assignment.Suggester
}

// WithBridge replaces the configured dispatch bridge.
func WithBridge(b dispatch.Bridge) Option {
	return func(o *options) { o.bridge = b }
}

// WithSuggester replaces the configured AI-matching client.
func WithSuggester(s assignment.Suggester) Option {
	return func(o *options) { o.suggester = s }
}

// New constructs a daemon with initialized dependencies. A configured skill
// catalog is loaded here so a broken file fails fast.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	skillReg := skills.NewRegistry(logger)
	if cfg.Skills.CatalogPath != "" {
		if err := skillReg.LoadCatalog(cfg.Skills.CatalogPath); err != nil {
			return nil, fmt.Errorf("load skill catalog: %w", err)
		}
	}
	workerReg := workers.New(st, logger)
	auditLog := audit.New(st, logger)

	engineOpts := assignment.OptionsFromConfig(cfg)
	if o.suggester != nil {
		engineOpts = append(engineOpts, assignment.WithSuggester(o.suggester))
	}
	engine := assignment.NewEngine(st, workerReg, scoring.New(scoring.WeightsFromConfig(cfg.Scoring)), auditLog, logger, engineOpts...)
	if o.bridge == nil {
		o.bridge = dispatch.NewBridge(cfg, logger)
	}

	manager := workflow.NewManager(cfg, st, workflow.Dependencies{
		Skills:  skillReg,
		Workers: workerReg,
		Audit:   auditLog,
		Engine:  engine,
		Bridge:  o.bridge,
	}, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		skills:   skillReg,
		workers:  workerReg,
		audit:    auditLog,
		manager:  manager,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if cfg.Reconciliation.Enabled {
		d.reconciler = workflow.NewReconciler(manager, cfg.SweepInterval(), cfg.StaleTaskThreshold(), logger)
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, then starts the catalog watcher, the
// reconciliation loop and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sermonflow daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.startServices(d.ctx); err != nil {
		d.cancel()
		d.stopServices()
		_ = d.lock.Unlock()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("sermonflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
		logging.Bool("reconciliation", d.reconciler != nil),
	)
	go d.logPreflight(d.ctx)
	return nil
}

// logPreflight reports failed readiness checks without blocking start.
func (d *Daemon) logPreflight(ctx context.Context) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration or service and restart the daemon"),
		)
	}
}

func (d *Daemon) startServices(ctx context.Context) error {
	if d.cfg.Skills.CatalogPath != "" && d.cfg.Skills.Watch {
		if err := d.skills.Watch(ctx, d.cfg.Skills.CatalogPath); err != nil {
			return fmt.Errorf("watch skill catalog: %w", err)
		}
	}
	if d.reconciler != nil {
		if err := d.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("start reconciler: %w", err)
		}
	}
	if err := d.api.start(ctx); err != nil {
		return err
	}
	return nil
}

func (d *Daemon) stopServices() {
	if d.reconciler != nil {
		d.reconciler.Stop()
	}
	d.api.stop()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopServices()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("sermonflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Manager exposes the workflow manager.
func (d *Daemon) Manager() *workflow.Manager {
	return d.manager
}

// Reconciler returns the reconciliation loop, or nil when disabled.
func (d *Daemon) Reconciler() *workflow.Reconciler {
	return d.reconciler
}

// APIAddress returns the bound API address, or "" when the API is off or not
// yet listening.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.APIAddress(),
		Assignment:   d.manager.Engine().Stats(),
	}
	if d.reconciler != nil {
		status.Reconciling = d.reconciler.Running()
	}
	summary, err := d.store.Summary(ctx)
	if err != nil {
		d.logger.Warn("status summary unavailable", logging.Error(err))
	} else {
		status.Summary = summary
	}
	return status
}
