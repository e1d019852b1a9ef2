package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"evalplane/internal/api"
	"evalplane/internal/config"
	"evalplane/internal/logging"
	"evalplane/internal/preflight"
	"evalplane/internal/store"
	"evalplane/internal/workflow"
)

// Daemon coordinates the run workers and the API server and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	workflow *workflow.Manager
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon. The router options supply the API services; the
// daemon fills in the status callback itself.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wf *workflow.Manager, router api.RouterOptions) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	router.Status = d.Status
	if router.Token == "" {
		router.Token = cfg.Paths.APIToken
	}
	if router.Logger == nil {
		router.Logger = logger
	}
	d.server = newAPIServer(cfg.Paths.APIBind, api.NewRouter(router), logger)
	return d, nil
}

// Start acquires the daemon lock, resumes the workflow, and begins serving
// the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another evalplane daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("evalplane daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("api_address", d.server.addr()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
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
	d.server.stop()
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("evalplane daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stop"),
	)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr reports the address the API server is bound to, or "" when stopped.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	summary := d.workflow.Status(ctx)
	checks := preflight.CheckSystemDeps(ctx, d.cfg)
	dependencies := make([]api.DependencyStatus, 0, len(checks))
	for _, dep := range checks {
		dependencies = append(dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Workflow:     api.FromStatusSummary(summary),
		Dependencies: dependencies,
	}
}
