package api

import (
	"context"
	"log/slog"
	"strings"

	"evalplane/internal/engine"
	"evalplane/internal/logging"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

const benchmarkListLimit = 100

// CatalogStore abstracts the benchmark and pack reads.
type CatalogStore interface {
	ListBenchmarks(ctx context.Context, filter store.BenchmarkFilter) ([]*store.Benchmark, error)
	GetBenchmarkByKey(ctx context.Context, key string) (*store.Benchmark, error)
	ListPacks(ctx context.Context) ([]*store.Pack, error)
	GetPack(ctx context.Context, id string) (*store.Pack, error)
	ListPackTasks(ctx context.Context, packID string) ([]store.PackTask, error)
	Leaderboard(ctx context.Context, packID, scoringMode string) ([]store.LeaderboardEntry, error)
}

// TaskInspector queries the engine for a live task description.
type TaskInspector interface {
	InspectTask(ctx context.Context, name string) (*engine.TaskInspection, error)
}

// CatalogService exposes benchmarks, packs and leaderboards.
type CatalogService struct {
	store     CatalogStore
	inspector TaskInspector
	logger    *slog.Logger
}

// NewCatalogService constructs a CatalogService. inspector may be nil, in
// which case inspections always report null.
func NewCatalogService(st CatalogStore, inspector TaskInspector, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		store:     st,
		inspector: inspector,
		logger:    logging.NewComponentLogger(logger, "api"),
	}
}

// Benchmarks lists up to 100 benchmarks, newest first.
func (s *CatalogService) Benchmarks(ctx context.Context, filter store.BenchmarkFilter) ([]*store.Benchmark, error) {
	filter.Limit = benchmarkListLimit
	return s.store.ListBenchmarks(ctx, filter)
}

// Benchmark returns the benchmark with key.
func (s *CatalogService) Benchmark(ctx context.Context, key string) (*store.Benchmark, error) {
	b, err := s.store.GetBenchmarkByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "benchmark", key, nil)
	}
	return b, nil
}

// Inspect pairs a benchmark with the engine's live inspection. An engine
// failure is logged and reported as a null inspection.
func (s *CatalogService) Inspect(ctx context.Context, key string) (*BenchmarkInspection, error) {
	b, err := s.Benchmark(ctx, key)
	if err != nil {
		return nil, err
	}
	result := &BenchmarkInspection{Benchmark: b}
	if s.inspector == nil {
		return result, nil
	}
	inspection, err := s.inspector.InspectTask(ctx, b.Key)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "engine inspect failed", "benchmark_inspect_failed",
			logging.String("benchmark_key", b.Key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "served catalog snapshot without live inspection"),
		)
		return result, nil
	}
	if len(inspection.Raw) > 0 {
		result.Inspect = inspection.Raw
	}
	return result, nil
}

// Packs lists packs newest first.
func (s *CatalogService) Packs(ctx context.Context) ([]PackSummary, error) {
	packs, err := s.store.ListPacks(ctx)
	if err != nil {
		return nil, err
	}
	return FromPacks(packs), nil
}

// Pack returns a pack with its ordered tasks.
func (s *CatalogService) Pack(ctx context.Context, packID string) (*PackDetail, error) {
	pack, err := s.requirePack(ctx, packID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListPackTasks(ctx, pack.ID)
	if err != nil {
		return nil, err
	}
	detail := FromPackDetail(pack, tasks)
	return &detail, nil
}

// Leaderboard ranks the scored runs of a pack.
func (s *CatalogService) Leaderboard(ctx context.Context, packID, scoringMode string) (*LeaderboardResponse, error) {
	pack, err := s.requirePack(ctx, packID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Leaderboard(ctx, pack.ID, strings.TrimSpace(scoringMode))
	if err != nil {
		return nil, err
	}
	resp := FromLeaderboard(pack, entries)
	return &resp, nil
}

func (s *CatalogService) requirePack(ctx context.Context, packID string) (*store.Pack, error) {
	pack, err := s.store.GetPack(ctx, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "pack", packID, nil)
	}
	return pack, nil
}
