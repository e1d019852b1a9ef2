// Package packfile loads benchmark pack definitions from YAML and imports
// them into the store.
package packfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"evalplane/internal/jobspec"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

// Aggregations accepted in pack files. Both score as a weighted mean.
const (
	AggregationWeightedMean = "weighted_mean"
	AggregationMean         = "mean"
)

// File is one pack definition document.
type File struct {
	Name          string   `yaml:"name"`
	Version       string   `yaml:"version"`
	Description   string   `yaml:"description"`
	PrimaryMetric string   `yaml:"primary_metric"`
	Aggregation   string   `yaml:"aggregation"`
	Tags          []string `yaml:"tags"`
	Tasks         []Task   `yaml:"tasks"`
}

// Task is one weighted task entry. TaskSpec without a "|<fewshot>" suffix
// gets one from Fewshot. BenchmarkKey defaults to the normalized task spec.
type Task struct {
	TaskSpec     string         `yaml:"task_spec"`
	Fewshot      int            `yaml:"fewshot"`
	Weight       *float64       `yaml:"weight"`
	DisplayOrder *int           `yaml:"display_order"`
	BenchmarkKey string         `yaml:"benchmark_key"`
	Overrides    map[string]any `yaml:"overrides"`
}

// Load reads and validates a pack file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pack file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a pack document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, services.Wrap(services.ErrValidation, "packfile", "parse", "empty pack file", nil)
		}
		return nil, services.Wrap(services.ErrValidation, "packfile", "parse", "invalid YAML", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks required fields, weights, and task spec uniqueness.
func (f *File) Validate() error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrValidation, "packfile", "validate", msg, nil)
	}
	if strings.TrimSpace(f.Name) == "" {
		return fail("name is required")
	}
	if strings.TrimSpace(f.Version) == "" {
		return fail("version is required")
	}
	if strings.TrimSpace(f.PrimaryMetric) == "" {
		return fail("primary_metric is required")
	}
	switch f.Aggregation {
	case "", AggregationWeightedMean, AggregationMean:
	default:
		return fail(fmt.Sprintf("aggregation %q is not one of weighted_mean, mean", f.Aggregation))
	}
	if len(f.Tasks) == 0 {
		return fail("tasks must not be empty")
	}
	seen := make(map[string]int, len(f.Tasks))
	for i, task := range f.Tasks {
		if strings.TrimSpace(task.TaskSpec) == "" {
			return fail(fmt.Sprintf("tasks[%d].task_spec is required", i))
		}
		if task.Fewshot < 0 {
			return fail(fmt.Sprintf("tasks[%d].fewshot must be >= 0", i))
		}
		if task.Weight != nil && *task.Weight < 0 {
			return fail(fmt.Sprintf("tasks[%d].weight must be >= 0", i))
		}
		spec := task.Spec()
		if prev, dup := seen[spec]; dup {
			return fail(fmt.Sprintf("tasks[%d] repeats task spec %s from tasks[%d]", i, spec, prev))
		}
		seen[spec] = i
	}
	return nil
}

// Spec returns the normalized engine task key.
func (t Task) Spec() string {
	return jobspec.NormalizeTaskSpec(strings.TrimSpace(t.TaskSpec), t.Fewshot)
}

// Store is the persistence surface Apply needs.
type Store interface {
	GetBenchmarkByKey(ctx context.Context, key string) (*store.Benchmark, error)
	UpsertBenchmark(ctx context.Context, b store.Benchmark) (*store.Benchmark, error)
	ImportPack(ctx context.Context, params store.NewPack) (*store.Pack, error)
}

// Apply imports the pack and its tasks. Benchmark keys not yet in the catalog
// are registered with source type packfile.
func Apply(ctx context.Context, st Store, f *File) (*store.Pack, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	params := store.NewPack{
		Name:          strings.TrimSpace(f.Name),
		Version:       strings.TrimSpace(f.Version),
		Description:   f.Description,
		PrimaryMetric: f.PrimaryMetric,
		Aggregation:   f.Aggregation,
		Tags:          f.Tags,
	}
	for i, task := range f.Tasks {
		spec := task.Spec()
		benchmark, err := ensureBenchmark(ctx, st, task, spec)
		if err != nil {
			return nil, err
		}
		overrides, err := encodeOverrides(task.Overrides)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "packfile", "overrides", "tasks["+spec+"] overrides not encodable", err)
		}
		weight := 1.0
		if task.Weight != nil {
			weight = *task.Weight
		}
		order := i
		if task.DisplayOrder != nil {
			order = *task.DisplayOrder
		}
		params.Tasks = append(params.Tasks, store.NewPackTask{
			BenchmarkID:  benchmark.ID,
			TaskSpec:     spec,
			Fewshot:      fewshotOf(spec, task.Fewshot),
			Weight:       weight,
			DisplayOrder: order,
			Overrides:    overrides,
		})
	}
	pack, err := st.ImportPack(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("import pack %s %s: %w", params.Name, params.Version, err)
	}
	return pack, nil
}

func ensureBenchmark(ctx context.Context, st Store, task Task, spec string) (*store.Benchmark, error) {
	key := strings.TrimSpace(task.BenchmarkKey)
	if key == "" {
		key = spec
	}
	existing, err := st.GetBenchmarkByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up benchmark %s: %w", key, err)
	}
	if existing != nil {
		return existing, nil
	}
	created, err := st.UpsertBenchmark(ctx, store.Benchmark{
		Key:        key,
		TaskName:   taskName(spec),
		SourceType: store.SourcePackfile,
	})
	if err != nil {
		return nil, fmt.Errorf("register benchmark %s: %w", key, err)
	}
	return created, nil
}

// taskName strips the trailing "|<fewshot>" from a normalized spec.
func taskName(spec string) string {
	if idx := strings.LastIndex(spec, "|"); idx > 0 {
		return spec[:idx]
	}
	return spec
}

// fewshotOf prefers the count embedded in the task spec over the declared one.
func fewshotOf(spec string, declared int) int {
	idx := strings.LastIndex(spec, "|")
	if idx < 0 {
		return declared
	}
	var n int
	if _, err := fmt.Sscanf(spec[idx+1:], "%d", &n); err != nil {
		return declared
	}
	return n
}

func encodeOverrides(values map[string]any) (string, error) {
	if len(values) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
