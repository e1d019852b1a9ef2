package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"evalplane/internal/details"
	"evalplane/internal/jobspec"
	"evalplane/internal/logging"
	"evalplane/internal/services"
	"evalplane/internal/store"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	GetPack(ctx context.Context, id string) (*store.Pack, error)
	ListPackTasks(ctx context.Context, packID string) ([]store.PackTask, error)
	ReplaceRunResults(ctx context.Context, runID string, results store.RunResults) error
}

// RowCounter reports the number of rows in a detail file.
type RowCounter func(path string) (int64, error)

// Summary describes what one ingestion wrote.
type Summary struct {
	ResultsPath  string
	ExtraResults []string
	Metrics      int
	Hashes       int
	DetailFiles  int
	PackScore    *float64
}

// Skipped reports whether no results file was found.
func (s *Summary) Skipped() bool {
	return s == nil || s.ResultsPath == ""
}

// Pipeline ingests engine output for runs.
type Pipeline struct {
	store    Store
	logger   *slog.Logger
	rowCount RowCounter
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRowCounter replaces the parquet footer reader.
func WithRowCounter(fn RowCounter) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.rowCount = fn
		}
	}
}

// NewPipeline constructs a Pipeline writing through st.
func NewPipeline(st Store, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		rowCount: details.RowCount,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest reads the output directory of spec and replaces the run's result
// rows. A missing results file returns a skipped Summary and no error.
func (p *Pipeline) Ingest(ctx context.Context, runID string, spec *jobspec.JobSpec) (*Summary, error) {
	logger := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldRunID, runID))

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, services.Wrap(services.ErrNotFound, "ingest", "load run", "run "+runID+" not found", nil)
	}
	outputDir := run.OutputDir
	if spec != nil && spec.Artifacts.OutputDir != "" {
		outputDir = spec.Artifacts.OutputDir
	}

	found := Discover(outputDir)
	if len(found.ResultsFiles) == 0 {
		logger.Info("no results file found; nothing to ingest",
			logging.String(logging.FieldEventType, "ingest_skipped"),
			logging.String("output_dir", outputDir),
		)
		return &Summary{}, nil
	}
	resultsPath := found.ResultsFiles[0]
	summary := &Summary{ResultsPath: resultsPath, ExtraResults: found.ResultsFiles[1:]}
	if len(summary.ExtraResults) > 0 {
		logging.WarnWithContext(logger, "multiple results files; using the first",
			"ingest_multiple_results",
			logging.String("results_path", resultsPath),
			logging.Int("ignored", len(summary.ExtraResults)),
			logging.String(logging.FieldErrorHint, "give each run its own output directory"),
			logging.String(logging.FieldImpact, "metrics from the other files are not recorded"),
		)
	}

	data, err := os.ReadFile(resultsPath)
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}
	payload, err := ParsePayload(data)
	if err != nil {
		return nil, err
	}

	pack, err := p.store.GetPack(ctx, run.PackID)
	if err != nil {
		return nil, err
	}
	var tasks []store.PackTask
	if pack != nil {
		if tasks, err = p.store.ListPackTasks(ctx, pack.ID); err != nil {
			return nil, err
		}
	}

	results := store.RunResults{
		Artifacts: store.Artifacts{
			ResultsJSONURI:   resultsPath,
			ResultsJSON:      string(payload.Raw),
			LightevalSHA:     payload.ConfigString("lighteval_sha"),
			ModelSHA:         payload.ConfigString("model_sha"),
			TotalEvalSeconds: payload.ConfigNumber("total_evaluation_time_secondes"),
		},
		Metrics:     collectMetrics(payload),
		Hashes:      collectHashes(payload),
		DetailFiles: p.collectDetailFiles(logger, found.ParquetFiles),
	}
	if len(found.ParquetFiles) > 0 {
		results.Artifacts.DetailsBaseURI = filepath.Join(outputDir, "details")
	}
	var primaryMetric string
	if pack != nil {
		primaryMetric = pack.PrimaryMetric
	}
	results.Scores = store.Scores{
		PackScore:  PackScore(payload, primaryMetric, tasks),
		AllMetrics: payload.AllMetrics(),
	}

	if err := p.store.ReplaceRunResults(ctx, runID, results); err != nil {
		return nil, fmt.Errorf("store run results: %w", err)
	}

	summary.Metrics = len(results.Metrics)
	summary.Hashes = len(results.Hashes)
	summary.DetailFiles = len(results.DetailFiles)
	summary.PackScore = results.Scores.PackScore
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "ingest_complete"),
		logging.String("results_path", resultsPath),
		logging.Int("metrics", summary.Metrics),
		logging.Int("hashes", summary.Hashes),
		logging.Int("detail_files", summary.DetailFiles),
	}
	if summary.PackScore != nil {
		attrs = append(attrs, logging.Float64("pack_score", *summary.PackScore))
	}
	logger.Info("ingested run results", logging.Args(attrs...)...)
	return summary, nil
}

func collectMetrics(payload *Payload) []store.TaskMetric {
	var metrics []store.TaskMetric
	for _, key := range payload.TaskKeys() {
		values, ok := payload.TaskMetrics(key)
		if !ok {
			continue
		}
		for _, name := range sortedMetricNames(values) {
			metrics = append(metrics, store.TaskMetric{TaskKey: key, MetricName: name, MetricValue: values[name]})
		}
	}
	return metrics
}

func collectHashes(payload *Payload) []store.TaskHash {
	hashes := payload.Hashes()
	rows := make([]store.TaskHash, 0, len(hashes))
	for _, key := range sortedKeys(payload.SummaryTasks) {
		h, ok := hashes[key]
		if !ok {
			continue
		}
		rows = append(rows, store.TaskHash{
			TaskKey:         key,
			HashExamples:    h.Examples,
			HashFullPrompts: h.FullPrompts,
			HashInputTokens: h.InputTokens,
			HashContTokens:  h.ContTokens,
		})
	}
	return rows
}

// collectDetailFiles maps parquet files to task keys. When two files share a
// key the lexically last path wins.
func (p *Pipeline) collectDetailFiles(logger *slog.Logger, paths []string) []store.DetailFile {
	index := make(map[string]int)
	var files []store.DetailFile
	for _, path := range paths {
		key, ok := DetailTaskKey(filepath.Base(path))
		if !ok {
			continue
		}
		file := store.DetailFile{TaskKey: key, ParquetURI: path}
		if n, err := p.rowCount(path); err != nil {
			logger.Debug("detail file row count unavailable",
				logging.String("parquet_uri", path),
				logging.Error(err),
			)
		} else {
			file.NumRows = &n
		}
		if i, seen := index[key]; seen {
			files[i] = file
			continue
		}
		index[key] = len(files)
		files = append(files, file)
	}
	return files
}
