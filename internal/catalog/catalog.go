// Package catalog mirrors the engine's built-in task registry into the
// benchmark table.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"evalplane/internal/engine"
	"evalplane/internal/logging"
	"evalplane/internal/store"
)

// Engine is the part of engine.Catalog that sync needs.
type Engine interface {
	ListTasks(ctx context.Context) ([]engine.TaskSummary, error)
	InspectTask(ctx context.Context, name string) (*engine.TaskInspection, error)
}

// Store persists synced benchmarks.
type Store interface {
	UpsertBenchmark(ctx context.Context, b store.Benchmark) (*store.Benchmark, error)
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Listed        int `json:"listed"`
	Upserted      int `json:"upserted"`
	InspectFailed int `json:"inspect_failed"`
}

// Syncer refreshes builtin benchmarks from the engine.
type Syncer struct {
	engine Engine
	store  Store
	logger *slog.Logger
}

// NewSyncer constructs a Syncer.
func NewSyncer(eng Engine, st Store, logger *slog.Logger) *Syncer {
	return &Syncer{
		engine: eng,
		store:  st,
		logger: logging.NewComponentLogger(logger, "catalog"),
	}
}

// Sync lists every engine task, inspects each one, and upserts it as a
// lighteval_builtin benchmark. A failed inspect downgrades that task to the
// list data; a failed list or upsert aborts the pass.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	tasks, err := s.engine.ListTasks(ctx)
	if err != nil {
		return result, fmt.Errorf("list engine tasks: %w", err)
	}
	result.Listed = len(tasks)

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		inspection, err := s.engine.InspectTask(ctx, task.Name)
		if err != nil {
			result.InspectFailed++
			logging.WarnWithContext(s.logger, "task inspect failed; using list data", "catalog_inspect_failed",
				logging.String("task", task.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "benchmark recorded without dataset details"),
			)
			inspection = nil
		}
		if _, err := s.store.UpsertBenchmark(ctx, benchmarkFrom(task, inspection)); err != nil {
			return result, fmt.Errorf("upsert benchmark %s: %w", task.Name, err)
		}
		result.Upserted++
	}

	s.logger.Info("catalog sync complete",
		logging.String(logging.FieldEventType, "catalog_sync_complete"),
		logging.Int("listed", result.Listed),
		logging.Int("upserted", result.Upserted),
		logging.Int("inspect_failed", result.InspectFailed),
	)
	return result, nil
}

func benchmarkFrom(task engine.TaskSummary, inspection *engine.TaskInspection) store.Benchmark {
	b := store.Benchmark{
		Key:         task.Name,
		TaskName:    task.Name,
		SourceType:  store.SourceLightevalBuiltin,
		ScoringMode: "deterministic",
		Description: task.Description,
	}
	if inspection == nil {
		b.Suite = firstNonEmpty(task.Suite, "lighteval")
		return b
	}
	b.Suite = firstNonEmpty(task.Suite, inspection.Suite, "lighteval")
	b.Description = firstNonEmpty(inspection.Description, task.Description)
	if cfg := inspection.Config; cfg != nil {
		b.ScoringMode = engine.ScoringModeFromMetrics(cfg.Metrics)
		b.DefaultFewshot = cfg.DefaultFewshot
		if ds := cfg.Dataset; ds != nil {
			b.HFRepo = ds.HFRepo
			b.HFSubset = ds.HFSubset
			b.HFRevision = ds.HFRevision
			b.EvaluationSplits = ds.EvaluationSplits
		}
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
