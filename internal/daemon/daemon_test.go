package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"evalplane/internal/api"
	"evalplane/internal/config"
	"evalplane/internal/daemon"
	"evalplane/internal/jobspec"
	"evalplane/internal/logging"
	"evalplane/internal/store"
	"evalplane/internal/testsupport"
	"evalplane/internal/workflow"
)

type idleExecutor struct{}

func (idleExecutor) ExecuteClaimed(context.Context, string, *jobspec.JobSpec) error { return nil }

func newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return newDaemonWith(t, cfg, testsupport.MustOpenStore(t, cfg))
}

func newDaemonWith(t *testing.T, cfg *config.Config, st *store.Store) *daemon.Daemon {
	t.Helper()
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, st, idleExecutor{}, logger)
	d, err := daemon.New(cfg, st, logger, mgr, api.RouterOptions{
		Runs:    api.NewRunService(st, nil, mgr),
		Catalog: api.NewCatalogService(st, nil, logger),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, logging.NewNop(), nil, api.RouterOptions{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestDaemonStartStop(t *testing.T) {
	d := newDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if !status.Workflow.Running {
		t.Fatal("expected workflow to report running")
	}
	if status.PID == 0 || status.LockFilePath == "" || status.DatabasePath == "" {
		t.Fatalf("incomplete status: %+v", status)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.Addr() != "" {
		t.Fatalf("expected no listener after stop, got %q", d.Addr())
	}
}

func TestSecondDaemonSharingLockFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := newDaemonWith(t, cfg, st)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	second := newDaemonWith(t, cfg, st)
	err := second.Start(ctx)
	if err == nil {
		t.Fatal("expected second daemon to fail acquiring the lock")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDaemonServesAPI(t *testing.T) {
	d := newDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	base := "http://" + d.Addr()

	resp, err := client.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = client.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected API status to report running")
	}
	if got := status.Workflow.QueueStats[string(store.RunQueued)]; got != 0 {
		t.Fatalf("expected empty queue, got %d queued", got)
	}
}
