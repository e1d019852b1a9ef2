package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const benchmarkColumns = "benchmark_id, benchmark_key, suite, task_name, source_type, scoring_mode, description, hf_repo, hf_subset, evaluation_splits, hf_revision, default_fewshot, tags, created_at, updated_at"

func scanBenchmark(scanner rowScanner) (*Benchmark, error) {
	var (
		b           Benchmark
		description sql.NullString
		hfRepo      sql.NullString
		hfSubset    sql.NullString
		splits      sql.NullString
		hfRevision  sql.NullString
		fewshot     sql.NullInt64
		tags        sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&b.ID,
		&b.Key,
		&b.Suite,
		&b.TaskName,
		&b.SourceType,
		&b.ScoringMode,
		&description,
		&hfRepo,
		&hfSubset,
		&splits,
		&hfRevision,
		&fewshot,
		&tags,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	b.Description = description.String
	b.HFRepo = hfRepo.String
	b.HFSubset = hfSubset.String
	b.EvaluationSplits = decodeStrings(splits)
	b.HFRevision = hfRevision.String
	b.DefaultFewshot = intPtrFromNull(fewshot)
	b.Tags = decodeStrings(tags)
	b.CreatedAt = timeFromNull(createdRaw)
	b.UpdatedAt = timeFromNull(updatedRaw)
	return &b, nil
}

// UpsertBenchmark inserts or updates the benchmark with b.Key. The existing
// benchmark id, tags and created_at survive an update.
func (s *Store) UpsertBenchmark(ctx context.Context, b Benchmark) (*Benchmark, error) {
	key := strings.TrimSpace(b.Key)
	if key == "" {
		return nil, errors.New("upsert benchmark: key required")
	}
	if b.Suite == "" {
		b.Suite = "lighteval"
	}
	if b.TaskName == "" {
		b.TaskName = key
	}
	if b.SourceType == "" {
		b.SourceType = SourceManual
	}
	if b.ScoringMode == "" {
		b.ScoringMode = "deterministic"
	}
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO benchmarks (
            benchmark_id, benchmark_key, suite, task_name, source_type, scoring_mode,
            description, hf_repo, hf_subset, evaluation_splits, hf_revision,
            default_fewshot, tags, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(benchmark_key) DO UPDATE SET
            suite = excluded.suite,
            task_name = excluded.task_name,
            source_type = excluded.source_type,
            scoring_mode = excluded.scoring_mode,
            description = excluded.description,
            hf_repo = excluded.hf_repo,
            hf_subset = excluded.hf_subset,
            evaluation_splits = excluded.evaluation_splits,
            hf_revision = excluded.hf_revision,
            default_fewshot = excluded.default_fewshot,
            updated_at = excluded.updated_at`,
		uuid.NewString(),
		key,
		b.Suite,
		b.TaskName,
		b.SourceType,
		b.ScoringMode,
		nullableString(b.Description),
		nullableString(b.HFRepo),
		nullableString(b.HFSubset),
		encodeStrings(b.EvaluationSplits),
		nullableString(b.HFRevision),
		nullableInt(b.DefaultFewshot),
		encodeStrings(b.Tags),
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("upsert benchmark %s: %w", key, err)
	}
	return s.GetBenchmarkByKey(ctx, key)
}

// GetBenchmarkByKey returns nil, nil when no benchmark has the key.
func (s *Store) GetBenchmarkByKey(ctx context.Context, key string) (*Benchmark, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+benchmarkColumns+" FROM benchmarks WHERE benchmark_key = ?", key)
	b, err := scanBenchmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get benchmark: %w", err)
	}
	return b, nil
}

// GetBenchmark returns nil, nil when no benchmark has the id.
func (s *Store) GetBenchmark(ctx context.Context, id string) (*Benchmark, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+benchmarkColumns+" FROM benchmarks WHERE benchmark_id = ?", id)
	b, err := scanBenchmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get benchmark: %w", err)
	}
	return b, nil
}

// ListBenchmarks returns benchmarks newest first.
func (s *Store) ListBenchmarks(ctx context.Context, filter BenchmarkFilter) ([]*Benchmark, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if q := strings.TrimSpace(filter.Query); q != "" {
		clauses = append(clauses, "instr(benchmark_key, ?) > 0")
		args = append(args, q)
	}
	if filter.Suite != "" {
		clauses = append(clauses, "suite = ?")
		args = append(args, filter.Suite)
	}
	if filter.ScoringMode != "" {
		clauses = append(clauses, "scoring_mode = ?")
		args = append(args, filter.ScoringMode)
	}
	query := "SELECT " + benchmarkColumns + " FROM benchmarks"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list benchmarks: %w", err)
	}
	defer rows.Close()
	benchmarks := []*Benchmark{}
	for rows.Next() {
		b, err := scanBenchmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan benchmark: %w", err)
		}
		benchmarks = append(benchmarks, b)
	}
	return benchmarks, rows.Err()
}
