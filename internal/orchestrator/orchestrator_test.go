package orchestrator_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"evalplane/internal/config"
	"evalplane/internal/engine"
	"evalplane/internal/ingest"
	"evalplane/internal/jobspec"
	"evalplane/internal/logging"
	"evalplane/internal/orchestrator"
	"evalplane/internal/services"
	"evalplane/internal/store"
	"evalplane/internal/testsupport"
)

type stubExecutor struct {
	mu      sync.Mutex
	calls   []engine.Invocation
	results map[string]any
	err     error
	block   bool
	t       *testing.T
	st      *store.Store
	runID   string
	status  store.RunStatus
}

func (s *stubExecutor) Run(ctx context.Context, inv engine.Invocation) error {
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	s.mu.Unlock()
	if s.st != nil {
		run, err := s.st.GetRun(ctx, s.runID)
		if err == nil && run != nil {
			s.status = run.Status
		}
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.results != nil {
		outputDir := ""
		for i, arg := range inv.Args {
			if arg == "--output-dir" && i+1 < len(inv.Args) {
				outputDir = inv.Args[i+1]
			}
		}
		testsupport.WriteResults(s.t, outputDir, "model", "1", s.results)
	}
	return s.err
}

type fixture struct {
	cfg  *config.Config
	st   *store.Store
	pack *store.Pack
	run  *store.Run
	spec *jobspec.JobSpec
}

func newFixture(t *testing.T, overrides string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	pack := testsupport.SeedPack(t, st, "core", "em",
		testsupport.PackTask{TaskSpec: "gsm8k|0", Weight: 1, Overrides: overrides},
	)
	outputDir := filepath.Join(testsupport.BaseDir(cfg), "out")
	run := testsupport.SeedRun(t, st, pack.ID, "model-a", outputDir)
	spec := &jobspec.JobSpec{
		Version:         "1",
		BenchmarkPackID: pack.ID,
		NumFewshotSeeds: 1,
		Backend:         jobspec.Backend{Type: "openai_compatible", ModelName: "model-a"},
		Tasks:           []jobspec.Task{{ID: "gsm8k", Fewshot: 0}},
		Artifacts:       jobspec.Artifacts{OutputDir: outputDir},
	}
	return fixture{cfg: cfg, st: st, pack: pack, run: run, spec: spec}
}

func (f fixture) orchestrator(exec engine.Executor) *orchestrator.Orchestrator {
	pipeline := ingest.NewPipeline(f.st, logging.NewNop())
	return orchestrator.New(f.cfg, f.st, pipeline, logging.NewNop(), orchestrator.WithExecutor(exec))
}

func TestExecuteCompletesAndIngests(t *testing.T) {
	f := newFixture(t, "")
	exec := &stubExecutor{
		t:       t,
		st:      f.st,
		runID:   f.run.ID,
		results: map[string]any{"results": map[string]any{"gsm8k|0": map[string]any{"em": 0.75}}},
	}

	if err := f.orchestrator(exec).Execute(context.Background(), f.run.ID, f.spec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.status != store.RunRunning {
		t.Fatalf("expected running during engine execution, got %s", exec.status)
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunCompleted || run.FinishedAt == nil || run.StartedAt == nil {
		t.Fatalf("unexpected run after completion: %#v", run)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", run.ExitCode)
	}
	scores, _ := f.st.GetScores(context.Background(), f.run.ID)
	if scores == nil || scores.PackScore == nil || *scores.PackScore != 0.75 {
		t.Fatalf("unexpected scores: %#v", scores)
	}
	if got := strings.Join(exec.calls[0].Args, " "); !strings.Contains(got, "--tasks gsm8k|0") {
		t.Fatalf("unexpected args %s", got)
	}
}

func TestExecuteNonZeroExitFails(t *testing.T) {
	f := newFixture(t, "")
	exec := &stubExecutor{
		t:       t,
		err:     &engine.ExitError{Code: 2},
		results: map[string]any{"results": map[string]any{"gsm8k|0": map[string]any{"em": 0.5}}},
	}

	err := f.orchestrator(exec).Execute(context.Background(), f.run.ID, f.spec)
	var runErr *orchestrator.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %v", err)
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunFailed || run.FinishedAt == nil {
		t.Fatalf("expected failed run, got %#v", run)
	}
	if run.ExitCode == nil || *run.ExitCode != 2 || run.ErrorMessage != "engine exited with code 2" {
		t.Fatalf("unexpected failure record: %q %v", run.ErrorMessage, run.ExitCode)
	}
	if scores, _ := f.st.GetScores(context.Background(), f.run.ID); scores != nil {
		t.Fatal("failed run must not be ingested")
	}
	if artifacts, err := f.st.GetArtifacts(context.Background(), f.run.ID); err != nil || artifacts != nil {
		t.Fatalf("failed run must not record artifacts, got %#v (err %v)", artifacts, err)
	}
	if metrics, _ := f.st.ListTaskMetrics(context.Background(), f.run.ID); len(metrics) != 0 {
		t.Fatalf("failed run must not record metrics, got %d", len(metrics))
	}
}

func TestExecuteRefusesRunClaimedByWorker(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	claimed, err := f.st.ClaimNextQueued(ctx)
	if err != nil || claimed == nil || claimed.ID != f.run.ID {
		t.Fatalf("ClaimNextQueued: %v %#v", err, claimed)
	}
	exec := &stubExecutor{t: t}

	err = f.orchestrator(exec).Execute(ctx, f.run.ID, f.spec)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for worker-owned run, got %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("engine launched %d times for a run owned elsewhere", len(exec.calls))
	}
	run, _ := f.st.GetRun(ctx, f.run.ID)
	if run.Status != store.RunRunning || run.ErrorMessage != "" {
		t.Fatalf("refused execution must leave the owner's run alone, got %s %q", run.Status, run.ErrorMessage)
	}
}

func TestExecuteTwiceLaunchesEngineOnce(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	exec := &stubExecutor{t: t}
	o := f.orchestrator(exec)

	if err := o.Execute(ctx, f.run.ID, f.spec); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if err := o.Execute(ctx, f.run.ID, f.spec); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for completed run, got %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected one engine launch, got %d", len(exec.calls))
	}
}

func TestExecuteClaimedDrivesWorkerClaimedRun(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	if _, err := f.st.ClaimNextQueued(ctx); err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	exec := &stubExecutor{
		t:       t,
		results: map[string]any{"results": map[string]any{"gsm8k|0": map[string]any{"em": 0.5}}},
	}

	if err := f.orchestrator(exec).ExecuteClaimed(ctx, f.run.ID, f.spec); err != nil {
		t.Fatalf("ExecuteClaimed: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected one engine launch, got %d", len(exec.calls))
	}
	run, _ := f.st.GetRun(ctx, f.run.ID)
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestExecuteClaimedRejectsQueuedRun(t *testing.T) {
	f := newFixture(t, "")
	exec := &stubExecutor{t: t}

	err := f.orchestrator(exec).ExecuteClaimed(context.Background(), f.run.ID, f.spec)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for unclaimed run, got %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("engine launched for unclaimed run")
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunQueued {
		t.Fatalf("expected run to stay queued, got %s", run.Status)
	}
}

func TestExecuteLaunchErrorFails(t *testing.T) {
	f := newFixture(t, "")
	exec := &stubExecutor{t: t, err: errors.New("exec: \"lighteval\": executable file not found in $PATH")}

	if err := f.orchestrator(exec).Execute(context.Background(), f.run.ID, f.spec); err == nil {
		t.Fatal("expected failure")
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunFailed || run.ExitCode != nil {
		t.Fatalf("expected failed run without exit code, got %#v", run)
	}
	if !strings.Contains(run.ErrorMessage, "executable file not found") {
		t.Fatalf("expected launch error text, got %q", run.ErrorMessage)
	}
}

func TestExecuteIngestErrorFails(t *testing.T) {
	f := newFixture(t, "")
	testsupport.WriteFile(t, filepath.Join(f.spec.Artifacts.OutputDir, "results_broken.json"), []byte("[]"))
	exec := &stubExecutor{t: t}

	if err := f.orchestrator(exec).Execute(context.Background(), f.run.ID, f.spec); err == nil {
		t.Fatal("expected ingest failure")
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunFailed || !strings.HasPrefix(run.ErrorMessage, "ingest results:") {
		t.Fatalf("unexpected run: %s %q", run.Status, run.ErrorMessage)
	}
}

func TestExecuteWithoutResultsStillCompletes(t *testing.T) {
	f := newFixture(t, "")
	if err := f.orchestrator(&stubExecutor{t: t}).Execute(context.Background(), f.run.ID, f.spec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestExecuteResolvesPlugins(t *testing.T) {
	f := newFixture(t, `{"judge_plugin_name":"judge","judge_plugin_version":"1.0"}`)
	ctx := context.Background()
	if _, err := f.st.RegisterPlugin(ctx, "judge", "1.0", "/plugins/judge.py"); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	if _, err := f.st.RegisterPlugin(ctx, "extra", "2", "/plugins/extra.py"); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	f.spec.CustomPlugins = []jobspec.PluginRef{
		{Name: "judge", Version: "1.0"},
		{Name: "extra", Version: "2"},
		{Name: "missing", Version: "9"},
	}
	exec := &stubExecutor{t: t}

	if err := f.orchestrator(exec).Execute(ctx, f.run.ID, f.spec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var custom []string
	args := exec.calls[0].Args
	for i, arg := range args {
		if arg == "--custom-tasks" {
			custom = append(custom, args[i+1])
		}
	}
	if strings.Join(custom, ",") != "/plugins/judge.py,/plugins/extra.py" {
		t.Fatalf("unexpected plugin args: %v", custom)
	}
}

func TestExecuteMalformedOverridesIgnored(t *testing.T) {
	f := newFixture(t, "{not json")
	exec := &stubExecutor{t: t}
	if err := f.orchestrator(exec).Execute(context.Background(), f.run.ID, f.spec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, arg := range exec.calls[0].Args {
		if arg == "--custom-tasks" {
			t.Fatal("malformed overrides must not resolve a plugin")
		}
	}
}

func TestExecuteCancelMarksDaemonStopped(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	exec := &stubExecutor{t: t, block: true}

	done := make(chan error, 1)
	go func() { done <- f.orchestrator(exec).Execute(ctx, f.run.ID, f.spec) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected failure on cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunFailed || run.ErrorMessage != orchestrator.ReasonDaemonStopped {
		t.Fatalf("unexpected run: %s %q", run.Status, run.ErrorMessage)
	}
}

func TestExecuteTimeout(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.Engine.EvalTimeout = 1
	exec := &stubExecutor{t: t, block: true}

	if err := f.orchestrator(exec).Execute(context.Background(), f.run.ID, f.spec); err == nil {
		t.Fatal("expected timeout failure")
	}
	run, _ := f.st.GetRun(context.Background(), f.run.ID)
	if run.Status != store.RunFailed || !strings.Contains(run.ErrorMessage, "timed out") {
		t.Fatalf("unexpected run: %s %q", run.Status, run.ErrorMessage)
	}
}

func TestExecuteUnknownRun(t *testing.T) {
	f := newFixture(t, "")
	if err := f.orchestrator(&stubExecutor{t: t}).Execute(context.Background(), "missing", f.spec); err == nil {
		t.Fatal("expected not found error")
	}
}
