package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evalplane/internal/details"
	"evalplane/internal/ingest"
	"evalplane/internal/jobspec"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

// Paging bounds for per-sample details.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	runListLimit    = 50
)

// ErrUnknownPack marks a submission whose benchmark_pack_id matches no pack.
var ErrUnknownPack = errors.New("pack not found")

// RunStore abstracts the run persistence the service needs.
type RunStore interface {
	GetPack(ctx context.Context, id string) (*store.Pack, error)
	CreateRun(ctx context.Context, params store.NewRun) (*store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
	GetRunDetail(ctx context.Context, id string) (*store.RunDetail, error)
	GetScores(ctx context.Context, runID string) (*store.Scores, error)
	ListTaskMetrics(ctx context.Context, runID string) ([]store.TaskMetric, error)
	GetDetailFile(ctx context.Context, runID, taskKey string) (*store.DetailFile, error)
}

// Ingester re-reads a run's engine output.
type Ingester interface {
	Ingest(ctx context.Context, runID string, spec *jobspec.JobSpec) (*ingest.Summary, error)
}

// Notifier is told when a run has been queued.
type Notifier interface {
	Notify()
}

// RowReader pages rows out of a detail file.
type RowReader func(path string, offset, limit int64) ([]map[string]any, error)

// RunService implements run submission and inspection.
type RunService struct {
	store    RunStore
	ingester Ingester
	notifier Notifier
	readRows RowReader
}

// NewRunService constructs a RunService. ingester and notifier may be nil;
// re-ingestion is then unavailable and submissions wait for the next poll.
func NewRunService(st RunStore, ingester Ingester, notifier Notifier) *RunService {
	return &RunService{store: st, ingester: ingester, notifier: notifier, readRows: details.ReadRows}
}

// WithRowReader replaces the parquet reader, for tests.
func (s *RunService) WithRowReader(fn RowReader) *RunService {
	if fn != nil {
		s.readRows = fn
	}
	return s
}

// Submit validates a raw job specification and queues a run for it.
func (s *RunService) Submit(ctx context.Context, raw []byte) (*store.Run, error) {
	spec, err := jobspec.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.SubmitSpec(ctx, spec)
}

// SubmitSpec queues a run for an already parsed job specification.
func (s *RunService) SubmitSpec(ctx context.Context, spec *jobspec.JobSpec) (*store.Run, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	pack, err := s.store.GetPack(ctx, spec.BenchmarkPackID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, services.Wrap(ErrUnknownPack, "api", "submit", "benchmark_pack_id "+spec.BenchmarkPackID, nil)
	}

	encoded, err := spec.Encode()
	if err != nil {
		return nil, err
	}
	backend, err := json.Marshal(spec.Backend)
	if err != nil {
		return nil, fmt.Errorf("encode backend: %w", err)
	}
	scoring, _, err := spec.ScoringConfigJSON()
	if err != nil {
		return nil, err
	}
	generation := ""
	if spec.Generation != nil {
		data, err := json.Marshal(spec.Generation)
		if err != nil {
			return nil, fmt.Errorf("encode generation: %w", err)
		}
		generation = string(data)
	}

	run, err := s.store.CreateRun(ctx, store.NewRun{
		PackID:           pack.ID,
		RunName:          spec.RunName,
		ModelName:        spec.Backend.ModelName,
		BackendType:      spec.Backend.Type,
		BackendConfig:    string(backend),
		MaxSamples:       spec.MaxSamples,
		NumFewshotSeeds:  spec.NumFewshotSeeds,
		SaveDetails:      spec.Artifacts.SaveDetails,
		OutputDir:        spec.Artifacts.OutputDir,
		ScoringMode:      string(spec.EffectiveScoringMode()),
		ScoringConfig:    scoring,
		GenerationConfig: generation,
		JobSpec:          encoded,
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return run, nil
}

// List returns the newest runs matching filter, with scores attached.
func (s *RunService) List(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	if filter.Limit <= 0 || filter.Limit > runListLimit {
		filter.Limit = runListLimit
	}
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return runs, nil
}

// Describe returns a run with every related record.
func (s *RunService) Describe(ctx context.Context, runID string) (*store.RunDetail, error) {
	detail, err := s.store.GetRunDetail(ctx, runID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "describe run", "Run not found", nil)
	}
	return detail, nil
}

// Compare loads two runs with their scores and task metrics.
func (s *RunService) Compare(ctx context.Context, runIDA, runIDB string) (*CompareResponse, error) {
	if strings.TrimSpace(runIDA) == "" || strings.TrimSpace(runIDB) == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "compare", "runIdA and runIdB are required", nil)
	}
	a, err := s.comparedRun(ctx, runIDA)
	if err != nil {
		return nil, err
	}
	b, err := s.comparedRun(ctx, runIDB)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "compare", "One or both runs not found", nil)
	}
	return &CompareResponse{RunA: a, RunB: b}, nil
}

func (s *RunService) comparedRun(ctx context.Context, runID string) (*ComparedRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		return nil, err
	}
	if run.Scores, err = s.store.GetScores(ctx, runID); err != nil {
		return nil, err
	}
	metrics, err := s.store.ListTaskMetrics(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &ComparedRun{Run: *run, TaskMetrics: metrics}, nil
}

// Ingest re-reads the engine output of an existing run. The run status is
// left untouched.
func (s *RunService) Ingest(ctx context.Context, runID string) (*IngestResponse, error) {
	if s.ingester == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "ingest", "ingestion unavailable", nil)
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "ingest", "Run not found", nil)
	}
	spec, err := jobspec.Decode(run.JobSpec)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "api", "ingest", "stored job specification unreadable", err)
	}
	summary, err := s.ingester.Ingest(ctx, runID, spec)
	if err != nil {
		return nil, err
	}
	resp := &IngestResponse{RunID: runID, Skipped: summary.Skipped()}
	if summary != nil {
		resp.ResultsPath = summary.ResultsPath
		resp.Metrics = summary.Metrics
		resp.Hashes = summary.Hashes
		resp.DetailFiles = summary.DetailFiles
		resp.PackScore = summary.PackScore
	}
	return resp, nil
}

// Details returns one page of per-sample rows, paged per ClampPage.
func (s *RunService) Details(ctx context.Context, runID, taskKey string, page, pageSize int) (*DetailsPage, error) {
	page, pageSize = ClampPage(page, pageSize)
	file, err := s.store.GetDetailFile(ctx, runID, taskKey)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "details", "Details not found for this run and task", nil)
	}
	offset := int64(page-1) * int64(pageSize)
	rows, err := s.readRows(file.ParquetURI, offset, int64(pageSize))
	if err != nil {
		return nil, fmt.Errorf("read details %s: %w", file.ParquetURI, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &DetailsPage{
		RunID:    runID,
		TaskKey:  taskKey,
		Page:     page,
		PageSize: pageSize,
		Rows:     rows,
		HasMore:  len(rows) == pageSize,
	}, nil
}

// ClampPage applies the paging defaults and bounds. A zero pageSize means
// unset and takes the default.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = DefaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}
