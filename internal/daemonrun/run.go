package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"evalplane/internal/api"
	"evalplane/internal/config"
	"evalplane/internal/daemon"
	"evalplane/internal/engine"
	"evalplane/internal/ingest"
	"evalplane/internal/logging"
	"evalplane/internal/orchestrator"
	"evalplane/internal/preflight"
	"evalplane/internal/store"
	"evalplane/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the evalplane daemon and blocks until cmdCtx is canceled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("evalplane-%s.log", stamp))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update evalplane.log link: %v\n", err)
	}

	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "evalplane.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open run store", "store_open_failed", logging.Error(err))
		return err
	}

	catalog := engine.NewCatalog(cfg.EngineBinary())
	pipeline := ingest.NewPipeline(st, logger)
	runner := orchestrator.New(cfg, st, pipeline, logger)
	manager := workflow.NewManager(cfg, st, runner, logger)

	d, err := daemon.New(cfg, st, logger, manager, api.RouterOptions{
		Runs:    api.NewRunService(st, pipeline, manager),
		Catalog: api.NewCatalogService(st, catalog, logger),
		Logger:  logger,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check that no other daemon holds the lock and the API bind address is free"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("evalplane daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
	)
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "evalplane.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("engine_binary", cfg.EngineBinary()),
		logging.Int("worker_count", cfg.Workflow.WorkerCount),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
	}
	for _, dep := range preflight.CheckSystemDeps(ctx, cfg) {
		key := strings.ReplaceAll(strings.ToLower(dep.Name), " ", "_")
		attrs = append(attrs, logging.Bool(key+"_available", dep.Available))
		if dep.Version != "" {
			attrs = append(attrs, logging.String(key+"_version", dep.Version))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
