package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"evalplane/internal/services"
)

// OutputRunner runs a short-lived engine subcommand and returns its stdout.
type OutputRunner interface {
	Output(ctx context.Context, inv Invocation) ([]byte, error)
}

type captureRunner struct{}

// Output captures stdout and, on a non-zero exit, reports stderr in the error.
func (captureRunner) Output(ctx context.Context, inv Invocation) ([]byte, error) {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...) //nolint:gosec
	cmd.Env = inv.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, services.Wrap(services.ErrExternalTool, "engine", strings.Join(inv.Args, " "),
				fmt.Sprintf("failed with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())), nil)
		}
		return nil, services.Wrap(services.ErrExternalTool, "engine", strings.Join(inv.Args, " "), "failed to start "+inv.Binary, err)
	}
	return stdout.Bytes(), nil
}

// TaskSummary is one entry of `tasks list --json`.
type TaskSummary struct {
	Name        string `json:"name"`
	Suite       string `json:"suite,omitempty"`
	Description string `json:"description,omitempty"`
}

// TaskDataset describes where a task's data lives.
type TaskDataset struct {
	HFRepo           string   `json:"hf_repo,omitempty"`
	HFSubset         string   `json:"hf_subset,omitempty"`
	EvaluationSplits []string `json:"evaluation_splits,omitempty"`
	HFRevision       string   `json:"hf_revision,omitempty"`
}

// TaskConfig is the config section of a task inspection.
type TaskConfig struct {
	Dataset        *TaskDataset    `json:"dataset,omitempty"`
	DefaultFewshot *int            `json:"default_fewshot,omitempty"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
}

// TaskInspection is the output of `tasks inspect <name> --json`. Raw keeps
// the document as the engine printed it.
type TaskInspection struct {
	Name         string          `json:"name,omitempty"`
	Suite        string          `json:"suite,omitempty"`
	Description  string          `json:"description,omitempty"`
	Config       *TaskConfig     `json:"config,omitempty"`
	Requirements []string        `json:"requirements,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Catalog queries the engine's built-in task registry.
type Catalog struct {
	binary string
	runner OutputRunner
}

// NewCatalog constructs a Catalog for the engine binary.
func NewCatalog(binary string) *Catalog {
	return NewCatalogWithRunner(binary, nil)
}

// NewCatalogWithRunner allows injecting a custom runner for testing.
func NewCatalogWithRunner(binary string, runner OutputRunner) *Catalog {
	if runner == nil {
		runner = captureRunner{}
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "lighteval"
	}
	return &Catalog{binary: binary, runner: runner}
}

// ListTasks returns the engine's task list. Entries without a name or
// task_name are dropped; a non-array document yields no tasks.
func (c *Catalog) ListTasks(ctx context.Context) ([]TaskSummary, error) {
	out, err := c.runner.Output(ctx, Invocation{Binary: c.binary, Args: []string{"tasks", "list", "--json"}})
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(out, &entries); err != nil {
		var probe any
		if json.Unmarshal(out, &probe) == nil {
			return []TaskSummary{}, nil
		}
		return nil, services.Wrap(services.ErrExternalTool, "engine", "tasks list", "unparseable JSON output", err)
	}
	tasks := make([]TaskSummary, 0, len(entries))
	for _, raw := range entries {
		var entry struct {
			TaskSummary
			TaskName string `json:"task_name"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = entry.TaskName
		}
		if entry.Name == "" {
			continue
		}
		tasks = append(tasks, entry.TaskSummary)
	}
	return tasks, nil
}

// InspectTask returns the engine's detailed description of one task.
func (c *Catalog) InspectTask(ctx context.Context, name string) (*TaskInspection, error) {
	out, err := c.runner.Output(ctx, Invocation{Binary: c.binary, Args: []string{"tasks", "inspect", name, "--json"}})
	if err != nil {
		return nil, err
	}
	var inspection TaskInspection
	if err := json.Unmarshal(out, &inspection); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "engine", "tasks inspect", "unparseable JSON output for "+name, err)
	}
	inspection.Raw = json.RawMessage(bytes.TrimSpace(out))
	return &inspection, nil
}

// ScoringModeFromMetrics classifies a task from its serialized metric list:
// any mention of jury wins over judge, which wins over deterministic.
func ScoringModeFromMetrics(metrics json.RawMessage) string {
	trimmed := bytes.TrimSpace(metrics)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return "deterministic"
	}
	serialized := strings.ToLower(string(trimmed))
	switch {
	case strings.Contains(serialized, "jury"):
		return "jury"
	case strings.Contains(serialized, "judge"):
		return "judge"
	default:
		return "deterministic"
	}
}
