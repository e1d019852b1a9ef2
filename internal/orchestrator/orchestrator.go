package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"evalplane/internal/config"
	"evalplane/internal/engine"
	"evalplane/internal/ingest"
	"evalplane/internal/jobspec"
	"evalplane/internal/logging"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

// ReasonDaemonStopped is recorded when shutdown interrupts a run.
const ReasonDaemonStopped = "daemon stopped"

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListPackTasks(ctx context.Context, packID string) ([]store.PackTask, error)
	FindPlugin(ctx context.Context, name, version string) (*store.Plugin, error)
	ClaimRun(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string, exitCode *int) error
	MarkCompleted(ctx context.Context, id string) error
}

// Ingester records engine output for a finished run.
type Ingester interface {
	Ingest(ctx context.Context, runID string, spec *jobspec.JobSpec) (*ingest.Summary, error)
}

// Orchestrator executes runs against the configured engine.
type Orchestrator struct {
	cfg      *config.Config
	store    Store
	ingester Ingester
	executor engine.Executor
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithExecutor replaces the process executor, typically with a test stub.
func WithExecutor(exec engine.Executor) Option {
	return func(o *Orchestrator) {
		if exec != nil {
			o.executor = exec
		}
	}
}

// New constructs an Orchestrator.
func New(cfg *config.Config, st Store, ingester Ingester, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		ingester: ingester,
		executor: engine.CommandExecutor{},
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunError is returned by Execute when the run ended in failed.
type RunError struct {
	RunID    string
	Reason   string
	ExitCode *int
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Reason)
}

func (e *RunError) Unwrap() error { return e.Err }

// Execute claims the queued run runID and drives it to completed or failed.
// A run that is unknown or no longer queued is refused without launching the
// engine: a not-found error or a services.ErrConflict. The returned error is a
// *RunError when the run was marked failed.
func (o *Orchestrator) Execute(ctx context.Context, runID string, spec *jobspec.JobSpec) error {
	ctx, logger, run, err := o.load(ctx, runID, spec)
	if err != nil {
		return err
	}
	if err := o.store.ClaimRun(ctx, runID); err != nil {
		if !store.IsNoRowsAffected(err) {
			return fmt.Errorf("claim run: %w", err)
		}
		status := "gone"
		if current, getErr := o.store.GetRun(ctx, runID); getErr == nil && current != nil {
			status = string(current.Status)
		}
		return services.Wrap(services.ErrConflict, "orchestrator", "claim run",
			fmt.Sprintf("run %s is %s, not queued", runID, status), nil)
	}
	return o.execute(ctx, logger, run, spec)
}

// ExecuteClaimed drives a run the caller already moved to running, the way
// workflow workers do with ClaimNextQueued.
func (o *Orchestrator) ExecuteClaimed(ctx context.Context, runID string, spec *jobspec.JobSpec) error {
	ctx, logger, run, err := o.load(ctx, runID, spec)
	if err != nil {
		return err
	}
	if run.Status != store.RunRunning {
		return services.Wrap(services.ErrConflict, "orchestrator", "execute claimed",
			fmt.Sprintf("run %s is %s, not claimed", runID, run.Status), nil)
	}
	return o.execute(ctx, logger, run, spec)
}

func (o *Orchestrator) load(ctx context.Context, runID string, spec *jobspec.JobSpec) (context.Context, *slog.Logger, *store.Run, error) {
	if spec == nil {
		return ctx, nil, nil, services.Wrap(services.ErrValidation, "orchestrator", "execute", "job specification required", nil)
	}
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, o.logger)

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return ctx, nil, nil, err
	}
	if run == nil {
		return ctx, nil, nil, services.Wrap(services.ErrNotFound, "orchestrator", "load run", "run "+runID+" not found", nil)
	}
	return ctx, logger, run, nil
}

// execute runs the engine for a run owned by the caller.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, run *store.Run, spec *jobspec.JobSpec) error {
	runID := run.ID
	plugins, err := o.resolvePlugins(ctx, logger, run.PackID, spec)
	if err != nil {
		return o.fail(ctx, logger, runID, "resolve plugins: "+err.Error(), nil, err)
	}

	outputDir := spec.Artifacts.OutputDir
	if outputDir == "" {
		outputDir = run.OutputDir
	}
	inv, err := engine.BuildEvalInvocation(spec, engine.EvalOptions{
		Binary:           o.cfg.EngineBinary(),
		OutputDir:        outputDir,
		PluginURIs:       plugins,
		ScoringModeEnv:   o.cfg.Engine.ScoringModeEnv,
		ScoringConfigEnv: o.cfg.Engine.ScoringConfigEnv,
	})
	if err != nil {
		return o.fail(ctx, logger, runID, err.Error(), nil, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return o.fail(ctx, logger, runID, "create output directory: "+err.Error(), nil, err)
	}

	started := o.now()
	logger.Info("engine started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("command", engine.FormatCommand(inv.Argv())),
		logging.String("output_dir", outputDir),
		logging.Int("plugins", len(plugins)),
	)

	runCtx := ctx
	if timeout := o.cfg.EvalTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := o.executor.Run(runCtx, inv); err != nil {
		switch {
		case ctx.Err() != nil:
			return o.fail(ctx, logger, runID, ReasonDaemonStopped, nil, err)
		case runCtx.Err() != nil:
			reason := fmt.Sprintf("engine timed out after %s", o.cfg.EvalTimeout())
			return o.fail(ctx, logger, runID, reason, nil, services.Wrap(services.ErrTimeout, "orchestrator", "engine", reason, err))
		}
		if code, ok := engine.ExitCode(err); ok {
			return o.fail(ctx, logger, runID, err.Error(), &code, err)
		}
		return o.fail(ctx, logger, runID, err.Error(), nil, err)
	}

	summary, err := o.ingester.Ingest(ctx, runID, spec)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(ctx, logger, runID, ReasonDaemonStopped, nil, err)
		}
		return o.fail(ctx, logger, runID, "ingest results: "+err.Error(), nil, err)
	}
	if err := o.store.MarkCompleted(ctx, runID); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Duration("duration", o.now().Sub(started)),
	}
	if summary.Skipped() {
		attrs = append(attrs, logging.Bool("results_found", false))
	} else if summary.PackScore != nil {
		attrs = append(attrs, logging.Float64("pack_score", *summary.PackScore))
	}
	logger.Info("run completed", logging.Args(attrs...)...)
	return nil
}

// fail persists the failure with a context that survives shutdown so the
// terminal status is written even when ctx is already canceled.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, runID, reason string, exitCode *int, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	if err := o.store.MarkFailed(writeCtx, runID, reason, exitCode); err != nil {
		return errors.Join(fmt.Errorf("mark run failed: %w", err), cause)
	}
	attrs := []logging.Attr{
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, services.ErrorHint(cause)),
	}
	if exitCode != nil {
		attrs = append(attrs, logging.Int("exit_code", *exitCode))
	}
	logging.ErrorWithContext(logger, "run failed", "run_failed", attrs...)
	return &RunError{RunID: runID, Reason: reason, ExitCode: exitCode, Err: cause}
}
