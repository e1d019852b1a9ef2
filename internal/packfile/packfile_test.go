package packfile_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"evalplane/internal/packfile"
	"evalplane/internal/services"
	"evalplane/internal/store"
	"evalplane/internal/testsupport"
)

const samplePack = `
name: Reasoning Core v1
version: "1.0"
primary_metric: em
aggregation: mean
tags: [reasoning]
tasks:
  - task_spec: gsm8k
    fewshot: 5
    weight: 2
  - task_spec: truthfulqa:mc|0
    benchmark_key: truthfulqa
    overrides:
      judge_plugin_name: judges
      judge_plugin_version: "1.2"
      rubric:
        strict: true
`

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"missing name", "version: '1'\nprimary_metric: em\ntasks: [{task_spec: a}]", "name is required"},
		{"missing version", "name: p\nprimary_metric: em\ntasks: [{task_spec: a}]", "version is required"},
		{"missing metric", "name: p\nversion: '1'\ntasks: [{task_spec: a}]", "primary_metric is required"},
		{"no tasks", "name: p\nversion: '1'\nprimary_metric: em", "tasks must not be empty"},
		{"negative weight", "name: p\nversion: '1'\nprimary_metric: em\ntasks: [{task_spec: a, weight: -1}]", "weight must be >= 0"},
		{"duplicate spec", "name: p\nversion: '1'\nprimary_metric: em\ntasks: [{task_spec: a}, {task_spec: 'a|0'}]", "repeats task spec a|0"},
		{"bad aggregation", "name: p\nversion: '1'\nprimary_metric: em\naggregation: median\ntasks: [{task_spec: a}]", "aggregation"},
		{"unknown field", "name: p\nversion: '1'\nprimary_metric: em\ncolour: red\ntasks: [{task_spec: a}]", "invalid YAML"},
		{"empty", "", "empty pack file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := packfile.Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestApplyImportsPackAndRegistersBenchmarks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	existing, err := st.UpsertBenchmark(ctx, store.Benchmark{Key: "truthfulqa", TaskName: "truthfulqa:mc", SourceType: store.SourceLightevalBuiltin})
	if err != nil {
		t.Fatalf("UpsertBenchmark: %v", err)
	}

	f, err := packfile.Parse([]byte(samplePack))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pack, err := packfile.Apply(ctx, st, f)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if pack.Name != "Reasoning Core v1" || pack.Aggregation != "mean" || pack.TaskCount != 2 {
		t.Fatalf("unexpected pack: %+v", pack)
	}

	tasks, err := st.ListPackTasks(ctx, pack.ID)
	if err != nil {
		t.Fatalf("ListPackTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	gsm := tasks[0]
	if gsm.TaskSpec != "gsm8k|5" || gsm.Fewshot != 5 || gsm.Weight != 2 || gsm.DisplayOrder != 0 {
		t.Fatalf("unexpected gsm8k task: %+v", gsm)
	}
	if gsm.Benchmark == nil || gsm.Benchmark.SourceType != store.SourcePackfile || gsm.Benchmark.TaskName != "gsm8k" {
		t.Fatalf("expected packfile benchmark for gsm8k, got %+v", gsm.Benchmark)
	}

	tqa := tasks[1]
	if tqa.Weight != 1 || tqa.DisplayOrder != 1 {
		t.Fatalf("expected default weight and order, got %+v", tqa)
	}
	if tqa.BenchmarkID != existing.ID {
		t.Fatalf("expected existing benchmark %s, got %s", existing.ID, tqa.BenchmarkID)
	}
	overrides := store.ParseOverrides(tqa.Overrides)
	name, version, ok := overrides.JudgePlugin()
	if !ok || name != "judges" || version != "1.2" {
		t.Fatalf("unexpected judge plugin: %q %q %v", name, version, ok)
	}
	if _, ok := overrides.Extra["rubric"]; !ok {
		t.Fatalf("expected rubric key kept in extra overrides: %v", overrides.Extra)
	}
}

func TestApplyReimportKeepsPackID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	f, err := packfile.Parse([]byte(samplePack))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	first, err := packfile.Apply(ctx, st, f)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	f.Tasks = f.Tasks[:1]
	second, err := packfile.Apply(ctx, st, f)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("pack id changed across imports: %s -> %s", first.ID, second.ID)
	}
	if second.TaskCount != 1 {
		t.Fatalf("expected task list replaced, got %d tasks", second.TaskCount)
	}
}

func TestLoadBundledPack(t *testing.T) {
	f, err := packfile.Load(filepath.Join("..", "..", "packs", "reasoning-core-v1.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.PrimaryMetric != "em" || len(f.Tasks) != 2 {
		t.Fatalf("unexpected bundled pack: %+v", f)
	}
	if f.Tasks[1].Spec() != "truthfulqa:mc|0" {
		t.Fatalf("unexpected spec %s", f.Tasks[1].Spec())
	}
}
