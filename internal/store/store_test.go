package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"evalplane/internal/store"
	"evalplane/internal/testsupport"
)

func floatPtr(v float64) *float64 { return &v }

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if st.Path() != cfg.DatabasePath() {
		t.Fatalf("expected path %q, got %q", cfg.DatabasePath(), st.Path())
	}
	reopened, err := store.OpenPath(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.Close()
}

func TestCreateRunDefaultsAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em", testsupport.PackTask{TaskSpec: "gsm8k|0", Weight: 1})

	run, err := st.CreateRun(ctx, store.NewRun{
		PackID:      pack.ID,
		ModelName:   "model-a",
		BackendType: "openai_compatible",
		OutputDir:   "/tmp/out",
		JobSpec:     "{}",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != store.RunQueued {
		t.Fatalf("expected queued, got %s", run.Status)
	}
	if run.NumFewshotSeeds != 1 || run.ScoringMode != "deterministic" {
		t.Fatalf("unexpected defaults: seeds=%d mode=%s", run.NumFewshotSeeds, run.ScoringMode)
	}
	if string(run.ScoringConfig) != "{}" || string(run.GenerationConfig) != "{}" {
		t.Fatalf("expected empty config objects, got %s %s", run.ScoringConfig, run.GenerationConfig)
	}
	if run.RequestedModelName != "model-a" {
		t.Fatalf("expected requested model name, got %q", run.RequestedModelName)
	}

	missing, err := st.GetRun(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown run, got %#v", missing)
	}
}

func TestCreateRunRejectsUnknownPack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, err := st.CreateRun(context.Background(), store.NewRun{
		PackID:    "missing",
		ModelName: "m",
		JobSpec:   "{}",
	})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown pack")
	}
}

func TestRunLifecycleTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")
	run := testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())

	if err := st.ClaimRun(ctx, run.ID); err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}
	got, _ := st.GetRun(ctx, run.ID)
	if got.Status != store.RunRunning || got.StartedAt == nil {
		t.Fatalf("expected running with started_at, got %#v", got)
	}
	if err := st.ClaimRun(ctx, run.ID); !store.IsNoRowsAffected(err) {
		t.Fatalf("expected second claim of a running run to be refused, got %v", err)
	}

	code := 3
	if err := st.MarkFailed(ctx, run.ID, "engine exited with code 3", &code); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = st.GetRun(ctx, run.ID)
	if got.Status != store.RunFailed || got.FinishedAt == nil {
		t.Fatalf("expected failed with finished_at, got %#v", got)
	}
	if got.ErrorMessage != "engine exited with code 3" || got.ExitCode == nil || *got.ExitCode != 3 {
		t.Fatalf("unexpected failure details: %q %v", got.ErrorMessage, got.ExitCode)
	}

	if err := st.ClaimRun(ctx, run.ID); !store.IsNoRowsAffected(err) {
		t.Fatalf("expected no rows affected for failed run, got %v", err)
	}
	if err := st.MarkCompleted(ctx, "unknown"); !store.IsNoRowsAffected(err) {
		t.Fatalf("expected no rows affected for unknown run, got %v", err)
	}
}

func TestClaimNextQueuedIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")

	const total = 6
	for i := 0; i < total; i++ {
		testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				run, err := st.ClaimNextQueued(ctx)
				if err != nil {
					t.Errorf("ClaimNextQueued: %v", err)
					return
				}
				if run == nil {
					return
				}
				mu.Lock()
				claimed[run.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != total {
		t.Fatalf("expected %d claimed runs, got %d", total, len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("run %s claimed %d times", id, n)
		}
	}
	counts, err := st.CountRunsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountRunsByStatus: %v", err)
	}
	if counts[store.RunRunning] != total || counts[store.RunQueued] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestClaimRunRefusesWorkerClaimedRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")
	run := testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())

	claimed, err := st.ClaimNextQueued(ctx)
	if err != nil || claimed == nil || claimed.ID != run.ID {
		t.Fatalf("ClaimNextQueued: %v %#v", err, claimed)
	}
	if err := st.ClaimRun(ctx, run.ID); !store.IsNoRowsAffected(err) {
		t.Fatalf("expected claim of worker-owned run to be refused, got %v", err)
	}
	if err := st.ClaimRun(ctx, "unknown"); !store.IsNoRowsAffected(err) {
		t.Fatalf("expected no rows affected for unknown run, got %v", err)
	}
}

func TestFailInterruptedOnlyTouchesRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")
	queued := testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())
	running := testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())
	if err := st.ClaimRun(ctx, running.ID); err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}

	n, err := st.FailInterrupted(ctx, "daemon stopped")
	if err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 interrupted run, got %d", n)
	}
	got, _ := st.GetRun(ctx, running.ID)
	if got.Status != store.RunFailed || got.ErrorMessage != "daemon stopped" {
		t.Fatalf("unexpected interrupted run: %#v", got)
	}
	got, _ = st.GetRun(ctx, queued.ID)
	if got.Status != store.RunQueued {
		t.Fatalf("queued run should be untouched, got %s", got.Status)
	}
}

func TestReplaceRunResultsIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")
	run := testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())

	examples := "abc"
	rows := int64(12)
	results := store.RunResults{
		Artifacts: store.Artifacts{ResultsJSONURI: "/out/results_1.json", ResultsJSON: "{}", LightevalSHA: "sha1"},
		Metrics: []store.TaskMetric{
			{TaskKey: "gsm8k|0", MetricName: "em", MetricValue: 0.5},
			{TaskKey: "gsm8k|0", MetricName: "em_stderr", MetricValue: 0.01},
		},
		Hashes:      []store.TaskHash{{TaskKey: "gsm8k|0", HashExamples: &examples}},
		Scores:      store.Scores{PackScore: floatPtr(0.5), AllMetrics: []byte(`{"em":0.5}`)},
		DetailFiles: []store.DetailFile{{TaskKey: "gsm8k|0", ParquetURI: "/out/details/x.parquet", NumRows: &rows}},
	}
	for i := 0; i < 2; i++ {
		if err := st.ReplaceRunResults(ctx, run.ID, results); err != nil {
			t.Fatalf("ReplaceRunResults #%d: %v", i, err)
		}
	}

	detail, err := st.GetRunDetail(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunDetail: %v", err)
	}
	if len(detail.TaskMetrics) != 2 || len(detail.TaskHashes) != 1 || len(detail.DetailFiles) != 1 {
		t.Fatalf("expected replaced rows, got metrics=%d hashes=%d details=%d",
			len(detail.TaskMetrics), len(detail.TaskHashes), len(detail.DetailFiles))
	}
	if detail.TaskHashes[0].HashFullPrompts != nil {
		t.Fatalf("expected missing hash to stay nil")
	}
	if detail.Scores == nil || detail.Scores.PackScore == nil || *detail.Scores.PackScore != 0.5 {
		t.Fatalf("unexpected scores: %#v", detail.Scores)
	}
	if detail.Artifacts == nil || detail.Artifacts.LightevalSHA != "sha1" {
		t.Fatalf("unexpected artifacts: %#v", detail.Artifacts)
	}
	if detail.Pack == nil || detail.Pack.ID != pack.ID {
		t.Fatalf("expected pack attached, got %#v", detail.Pack)
	}

	// An emptied result set clears stale child rows.
	if err := st.ReplaceRunResults(ctx, run.ID, store.RunResults{}); err != nil {
		t.Fatalf("ReplaceRunResults empty: %v", err)
	}
	metrics, _ := st.ListTaskMetrics(ctx, run.ID)
	files, _ := st.ListDetailFiles(ctx, run.ID)
	if len(metrics) != 0 || len(files) != 0 {
		t.Fatalf("expected cleared rows, got metrics=%d files=%d", len(metrics), len(files))
	}
	scores, _ := st.GetScores(ctx, run.ID)
	if scores.PackScore != nil || string(scores.AllMetrics) != "{}" {
		t.Fatalf("expected null score and empty metrics, got %#v", scores)
	}
}

func TestReplaceRunResultsRollsBackOnFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")
	run := testsupport.SeedRun(t, st, pack.ID, "m", t.TempDir())

	first := store.RunResults{
		Metrics: []store.TaskMetric{{TaskKey: "a", MetricName: "em", MetricValue: 1}},
		Scores:  store.Scores{PackScore: floatPtr(1)},
	}
	if err := st.ReplaceRunResults(ctx, run.ID, first); err != nil {
		t.Fatalf("ReplaceRunResults: %v", err)
	}

	// Duplicate detail keys violate the unique index after metrics were replaced.
	bad := store.RunResults{
		Metrics: []store.TaskMetric{{TaskKey: "b", MetricName: "em", MetricValue: 0}},
		DetailFiles: []store.DetailFile{
			{TaskKey: "b", ParquetURI: "one.parquet"},
			{TaskKey: "b", ParquetURI: "two.parquet"},
		},
	}
	if err := st.ReplaceRunResults(ctx, run.ID, bad); err == nil {
		t.Fatal("expected unique constraint failure")
	}

	metrics, err := st.ListTaskMetrics(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListTaskMetrics: %v", err)
	}
	if len(metrics) != 1 || metrics[0].TaskKey != "a" {
		t.Fatalf("expected original metrics after rollback, got %#v", metrics)
	}
}

func TestUpsertBenchmarkKeepsIdentity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := st.UpsertBenchmark(ctx, store.Benchmark{Key: "gsm8k", SourceType: store.SourceLightevalBuiltin})
	if err != nil {
		t.Fatalf("UpsertBenchmark: %v", err)
	}
	second, err := st.UpsertBenchmark(ctx, store.Benchmark{
		Key:              "gsm8k",
		Suite:            "lighteval",
		SourceType:       store.SourceLightevalBuiltin,
		ScoringMode:      "judge",
		EvaluationSplits: []string{"test"},
	})
	if err != nil {
		t.Fatalf("UpsertBenchmark update: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable id, got %s and %s", first.ID, second.ID)
	}
	if second.ScoringMode != "judge" || len(second.EvaluationSplits) != 1 {
		t.Fatalf("expected updated fields, got %#v", second)
	}
	if first.TaskName != "gsm8k" || first.Suite != "lighteval" {
		t.Fatalf("expected defaulted task name and suite, got %#v", first)
	}
}

func TestListBenchmarksFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	for _, b := range []store.Benchmark{
		{Key: "gsm8k", Suite: "lighteval"},
		{Key: "mmlu:anatomy", Suite: "lighteval", ScoringMode: "judge"},
		{Key: "mmlu:law", Suite: "custom"},
	} {
		if _, err := st.UpsertBenchmark(ctx, b); err != nil {
			t.Fatalf("UpsertBenchmark %s: %v", b.Key, err)
		}
	}

	cases := []struct {
		name   string
		filter store.BenchmarkFilter
		want   int
	}{
		{"all", store.BenchmarkFilter{}, 3},
		{"query", store.BenchmarkFilter{Query: "mmlu"}, 2},
		{"suite", store.BenchmarkFilter{Suite: "custom"}, 1},
		{"scoring", store.BenchmarkFilter{ScoringMode: "judge"}, 1},
		{"limit", store.BenchmarkFilter{Limit: 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := st.ListBenchmarks(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListBenchmarks: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("expected %d benchmarks, got %d", tc.want, len(got))
			}
		})
	}
}

func TestImportPackReplacesTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	bench, err := st.UpsertBenchmark(ctx, store.Benchmark{Key: "gsm8k"})
	if err != nil {
		t.Fatalf("UpsertBenchmark: %v", err)
	}

	params := store.NewPack{
		Name:          "Reasoning Core",
		Version:       "1.0",
		PrimaryMetric: "em",
		Tasks: []store.NewPackTask{
			{BenchmarkID: bench.ID, TaskSpec: "gsm8k|0", Weight: 1},
			{TaskSpec: "truthfulqa:mc|0", Weight: 2, DisplayOrder: 1},
		},
	}
	first, err := st.ImportPack(ctx, params)
	if err != nil {
		t.Fatalf("ImportPack: %v", err)
	}
	if first.TaskCount != 2 || first.Aggregation != "weighted_mean" {
		t.Fatalf("unexpected pack: %#v", first)
	}

	params.Tasks = params.Tasks[:1]
	second, err := st.ImportPack(ctx, params)
	if err != nil {
		t.Fatalf("ImportPack again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable pack id")
	}
	tasks, err := st.ListPackTasks(ctx, second.ID)
	if err != nil {
		t.Fatalf("ListPackTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Benchmark == nil || tasks[0].Benchmark.Key != "gsm8k" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if tasks[0].Overrides != "{}" {
		t.Fatalf("expected default overrides, got %q", tasks[0].Overrides)
	}

	packs, err := st.ListPacks(ctx)
	if err != nil {
		t.Fatalf("ListPacks: %v", err)
	}
	if len(packs) != 1 || packs[0].TaskCount != 1 {
		t.Fatalf("unexpected packs: %#v", packs)
	}
}

func TestImportPackRejectsNegativeWeight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, err := st.ImportPack(context.Background(), store.NewPack{
		Name:          "p",
		Version:       "1",
		PrimaryMetric: "em",
		Tasks:         []store.NewPackTask{{TaskSpec: "a|0", Weight: -1}},
	})
	if err == nil {
		t.Fatal("expected check constraint failure")
	}
}

func TestPluginRegistry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.RegisterPlugin(ctx, "judge", "1.0", "/plugins/judge_v1.py"); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	updated, err := st.RegisterPlugin(ctx, "judge", "1.0", "/plugins/judge_v1b.py")
	if err != nil {
		t.Fatalf("RegisterPlugin update: %v", err)
	}
	if updated.StorageURI != "/plugins/judge_v1b.py" {
		t.Fatalf("expected replaced uri, got %q", updated.StorageURI)
	}
	missing, err := st.FindPlugin(ctx, "judge", "2.0")
	if err != nil {
		t.Fatalf("FindPlugin: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown version")
	}
	plugins, err := st.ListPlugins(ctx)
	if err != nil || len(plugins) != 1 {
		t.Fatalf("ListPlugins: %v %d", err, len(plugins))
	}
	if _, err := st.RegisterPlugin(ctx, "", "1", "x"); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestLeaderboardExcludesNullScores(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	pack := testsupport.SeedPack(t, st, "core", "em")

	scores := []*float64{floatPtr(0.4), nil, floatPtr(0.9), floatPtr(0.7)}
	for i, score := range scores {
		run := testsupport.SeedRun(t, st, pack.ID, fmt.Sprintf("model-%d", i), t.TempDir())
		if err := st.ReplaceRunResults(ctx, run.ID, store.RunResults{Scores: store.Scores{PackScore: score}}); err != nil {
			t.Fatalf("ReplaceRunResults: %v", err)
		}
	}
	testsupport.SeedRun(t, st, pack.ID, "unscored", t.TempDir())

	entries, err := st.Leaderboard(ctx, pack.ID, "")
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []float64{0.9, 0.7, 0.4}
	for i, e := range entries {
		if e.Rank != i+1 || e.PackScore != want[i] {
			t.Fatalf("entry %d: rank=%d score=%v", i, e.Rank, e.PackScore)
		}
	}

	judged, err := st.Leaderboard(ctx, pack.ID, "judge")
	if err != nil {
		t.Fatalf("Leaderboard judge: %v", err)
	}
	if len(judged) != 0 {
		t.Fatalf("expected no judge entries, got %d", len(judged))
	}
}

func TestListRunsFiltersAndAttachesScores(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	packA := testsupport.SeedPack(t, st, "a", "em")
	packB := testsupport.SeedPack(t, st, "b", "em")
	runA := testsupport.SeedRun(t, st, packA.ID, "m", t.TempDir())
	testsupport.SeedRun(t, st, packB.ID, "m", t.TempDir())
	if err := st.ReplaceRunResults(ctx, runA.ID, store.RunResults{Scores: store.Scores{PackScore: floatPtr(0.3)}}); err != nil {
		t.Fatalf("ReplaceRunResults: %v", err)
	}

	all, err := st.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(all))
	}
	byPack, err := st.ListRuns(ctx, store.RunFilter{PackID: packA.ID})
	if err != nil {
		t.Fatalf("ListRuns pack: %v", err)
	}
	if len(byPack) != 1 || byPack[0].Scores == nil || *byPack[0].Scores.PackScore != 0.3 {
		t.Fatalf("unexpected filtered runs: %#v", byPack)
	}
	none, err := st.ListRuns(ctx, store.RunFilter{Status: store.RunCompleted})
	if err != nil {
		t.Fatalf("ListRuns status: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no completed runs, got %d", len(none))
	}
}
