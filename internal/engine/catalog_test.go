package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"evalplane/internal/engine"
)

type stubRunner struct {
	outputs map[string][]byte
	errs    map[string]error
	calls   [][]string
}

func (s *stubRunner) Output(_ context.Context, inv engine.Invocation) ([]byte, error) {
	s.calls = append(s.calls, inv.Argv())
	key := inv.Args[1]
	if len(inv.Args) > 2 && inv.Args[1] == "inspect" {
		key = inv.Args[2]
	}
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	return s.outputs[key], nil
}

func TestListTasksFallsBackToTaskName(t *testing.T) {
	runner := &stubRunner{outputs: map[string][]byte{
		"list": []byte(`[{"name":"gsm8k","suite":"lighteval"},{"task_name":"mmlu"},{"description":"anonymous"}]`),
	}}
	catalog := engine.NewCatalogWithRunner("lighteval", runner)

	tasks, err := catalog.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Name != "gsm8k" || tasks[1].Name != "mmlu" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if !reflect.DeepEqual(runner.calls[0], []string{"lighteval", "tasks", "list", "--json"}) {
		t.Fatalf("unexpected argv: %v", runner.calls[0])
	}
}

func TestListTasksNonArray(t *testing.T) {
	runner := &stubRunner{outputs: map[string][]byte{"list": []byte(`{"tasks":[]}`)}}
	tasks, err := engine.NewCatalogWithRunner("", runner).ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}

	runner.outputs["list"] = []byte("not json")
	if _, err := engine.NewCatalogWithRunner("", runner).ListTasks(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInspectTask(t *testing.T) {
	raw := `{"name":"gsm8k","config":{"dataset":{"hf_repo":"openai/gsm8k","evaluation_splits":["test"]},"default_fewshot":5,"metrics":[{"name":"em"}]}}`
	runner := &stubRunner{
		outputs: map[string][]byte{"gsm8k": []byte(raw + "\n")},
		errs:    map[string]error{"broken": errors.New("boom")},
	}
	catalog := engine.NewCatalogWithRunner("lighteval", runner)

	inspection, err := catalog.InspectTask(context.Background(), "gsm8k")
	if err != nil {
		t.Fatalf("InspectTask: %v", err)
	}
	if inspection.Config == nil || inspection.Config.Dataset == nil || inspection.Config.Dataset.HFRepo != "openai/gsm8k" {
		t.Fatalf("unexpected inspection: %#v", inspection)
	}
	if inspection.Config.DefaultFewshot == nil || *inspection.Config.DefaultFewshot != 5 {
		t.Fatalf("expected default fewshot 5")
	}
	if string(inspection.Raw) != raw {
		t.Fatalf("unexpected raw document: %s", inspection.Raw)
	}
	if _, err := catalog.InspectTask(context.Background(), "broken"); err == nil {
		t.Fatal("expected runner error to propagate")
	}
}

func TestScoringModeFromMetrics(t *testing.T) {
	cases := []struct {
		metrics string
		want    string
	}{
		{`[{"name":"em"}]`, "deterministic"},
		{`[{"name":"llm_judge_gpt4"}]`, "judge"},
		{`[{"name":"Judge"},{"name":"JURY_vote"}]`, "jury"},
		{`{"name":"judge"}`, "deterministic"},
		{``, "deterministic"},
	}
	for _, tc := range cases {
		if got := engine.ScoringModeFromMetrics(json.RawMessage(tc.metrics)); got != tc.want {
			t.Fatalf("ScoringModeFromMetrics(%s) = %s, want %s", tc.metrics, got, tc.want)
		}
	}
}
