package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"evalplane/internal/config"
	"evalplane/internal/jobspec"
	"evalplane/internal/logging"
	"evalplane/internal/orchestrator"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

// Store is the queue surface the manager needs.
type Store interface {
	ClaimNextQueued(ctx context.Context) (*store.Run, error)
	FailInterrupted(ctx context.Context, reason string) (int64, error)
	MarkFailed(ctx context.Context, id, reason string, exitCode *int) error
	CountRunsByStatus(ctx context.Context) (map[store.RunStatus]int, error)
}

// Executor drives one claimed run to a terminal status.
type Executor interface {
	ExecuteClaimed(ctx context.Context, runID string, spec *jobspec.JobSpec) error
}

// Manager coordinates the run queue workers.
type Manager struct {
	cfg      *config.Config
	store    Store
	executor Executor
	logger   *slog.Logger

	workers       int
	pollInterval  time.Duration
	retryInterval time.Duration
	wake          chan struct{}
	busy          atomic.Int32

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastRunID string
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st Store, executor Executor, logger *slog.Logger) *Manager {
	workers := cfg.Workflow.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		cfg:           cfg,
		store:         st,
		executor:      executor,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		workers:       workers,
		pollInterval:  cfg.QueuePollInterval(),
		retryInterval: cfg.ErrorRetryInterval(),
		wake:          make(chan struct{}, workers),
	}
}

// Start fails runs interrupted by a previous daemon and begins processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}

	interrupted, err := m.store.FailInterrupted(ctx, orchestrator.ReasonDaemonStopped)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if interrupted > 0 {
		logging.WarnWithContext(m.logger, "failed runs interrupted by previous daemon",
			"interrupted_runs_failed",
			logging.Int64("runs", interrupted),
			logging.String(logging.FieldErrorHint, "resubmit the affected runs"),
			logging.String(logging.FieldImpact, "runs left running at shutdown were marked failed"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	m.mu.Unlock()

	for i := 1; i <= m.workers; i++ {
		go m.runWorker(services.WithWorker(runCtx, i), i)
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("workers", m.workers),
	)
	return nil
}

// Stop cancels in-flight runs and waits for every worker to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Notify wakes an idle worker to check the queue immediately.
func (m *Manager) Notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	defer m.wg.Done()
	logger := logging.WithContext(ctx, m.logger)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, err := m.store.ClaimNextQueued(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if run == nil {
			m.waitForRunOrShutdown(ctx)
			continue
		}

		m.processRun(ctx, logger, run)
	}
}

func (m *Manager) processRun(ctx context.Context, logger *slog.Logger, run *store.Run) {
	m.busy.Add(1)
	defer m.busy.Add(-1)
	m.setLastRun(run.ID)
	runLogger := logger.With(logging.String(logging.FieldRunID, run.ID))

	spec, err := jobspec.Decode(run.JobSpec)
	if err != nil {
		reason := "invalid stored job specification: " + err.Error()
		if markErr := m.store.MarkFailed(context.WithoutCancel(ctx), run.ID, reason, nil); markErr != nil {
			m.setLastError(markErr)
		}
		logging.ErrorWithContext(runLogger, "claimed run has unreadable job specification", "run_decode_failed",
			logging.Error(err),
		)
		return
	}

	err = m.executor.ExecuteClaimed(ctx, run.ID, spec)
	var runErr *orchestrator.RunError
	switch {
	case err == nil:
	case errors.As(err, &runErr):
		runLogger.Debug("run ended in failure", logging.String("reason", runErr.Reason))
	default:
		m.setLastError(err)
		logging.ErrorWithContext(runLogger, "run execution error", "run_execute_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.ErrorHint(err)),
		)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next queued run",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}

func (m *Manager) waitForRunOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-time.After(m.pollInterval):
	}
}
