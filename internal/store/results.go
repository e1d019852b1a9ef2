package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReplaceRunResults upserts the artifacts and score rows of a run and replaces
// its metric, hash and detail-file rows, all in one transaction. Child tables
// are always cleared first, so re-ingesting yields exactly the new rows.
func (s *Store) ReplaceRunResults(ctx context.Context, runID string, results RunResults) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		a := results.Artifacts
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_artifacts (
                run_id, results_json_uri, details_base_uri, logs_uri, results_json,
                lighteval_sha, model_sha, total_eval_seconds, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(run_id) DO UPDATE SET
                results_json_uri = excluded.results_json_uri,
                details_base_uri = excluded.details_base_uri,
                logs_uri = excluded.logs_uri,
                results_json = excluded.results_json,
                lighteval_sha = excluded.lighteval_sha,
                model_sha = excluded.model_sha,
                total_eval_seconds = excluded.total_eval_seconds,
                updated_at = excluded.updated_at`,
			runID,
			nullableString(a.ResultsJSONURI),
			nullableString(a.DetailsBaseURI),
			nullableString(a.LogsURI),
			nullableString(a.ResultsJSON),
			nullableString(a.LightevalSHA),
			nullableString(a.ModelSHA),
			nullableFloat(a.TotalEvalSeconds),
			now,
		); err != nil {
			return fmt.Errorf("upsert run artifacts: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM run_task_metrics WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear task metrics: %w", err)
		}
		for _, m := range results.Metrics {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO run_task_metrics (run_id, task_key, metric_name, metric_value) VALUES (?, ?, ?, ?)",
				runID, m.TaskKey, m.MetricName, m.MetricValue,
			); err != nil {
				return fmt.Errorf("insert task metric %s/%s: %w", m.TaskKey, m.MetricName, err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM run_task_hashes WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear task hashes: %w", err)
		}
		for _, h := range results.Hashes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_task_hashes (
                    run_id, task_key, hash_examples, hash_full_prompts, hash_input_tokens, hash_cont_tokens
                ) VALUES (?, ?, ?, ?, ?, ?)`,
				runID, h.TaskKey,
				nullableStringPtr(h.HashExamples),
				nullableStringPtr(h.HashFullPrompts),
				nullableStringPtr(h.HashInputTokens),
				nullableStringPtr(h.HashContTokens),
			); err != nil {
				return fmt.Errorf("insert task hash %s: %w", h.TaskKey, err)
			}
		}

		sc := results.Scores
		allMetrics := string(sc.AllMetrics)
		if allMetrics == "" {
			allMetrics = "{}"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_scores (run_id, pack_score, pack_score_stderr, all_metrics, updated_at)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(run_id) DO UPDATE SET
                pack_score = excluded.pack_score,
                pack_score_stderr = excluded.pack_score_stderr,
                all_metrics = excluded.all_metrics,
                updated_at = excluded.updated_at`,
			runID, nullableFloat(sc.PackScore), nullableFloat(sc.PackScoreStderr), allMetrics, now,
		); err != nil {
			return fmt.Errorf("upsert run scores: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM run_detail_files WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear detail files: %w", err)
		}
		for _, d := range results.DetailFiles {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO run_detail_files (run_id, task_key, parquet_uri, num_rows) VALUES (?, ?, ?, ?)",
				runID, d.TaskKey, d.ParquetURI, nullableInt64(d.NumRows),
			); err != nil {
				return fmt.Errorf("insert detail file %s: %w", d.TaskKey, err)
			}
		}
		return nil
	})
}

// GetArtifacts returns the artifacts row of a run, or nil when none was ingested.
func (s *Store) GetArtifacts(ctx context.Context, runID string) (*Artifacts, error) {
	var (
		a             Artifacts
		resultsURI    sql.NullString
		detailsURI    sql.NullString
		logsURI       sql.NullString
		resultsJSON   sql.NullString
		lightevalSHA  sql.NullString
		modelSHA      sql.NullString
		totalEvalSecs sql.NullFloat64
		updatedRaw    sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT run_id, results_json_uri, details_base_uri, logs_uri, results_json,
                lighteval_sha, model_sha, total_eval_seconds, updated_at
         FROM run_artifacts WHERE run_id = ?`, runID,
	).Scan(&a.RunID, &resultsURI, &detailsURI, &logsURI, &resultsJSON, &lightevalSHA, &modelSHA, &totalEvalSecs, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run artifacts: %w", err)
	}
	a.ResultsJSONURI = resultsURI.String
	a.DetailsBaseURI = detailsURI.String
	a.LogsURI = logsURI.String
	a.ResultsJSON = resultsJSON.String
	a.LightevalSHA = lightevalSHA.String
	a.ModelSHA = modelSHA.String
	a.TotalEvalSeconds = floatPtrFromNull(totalEvalSecs)
	a.UpdatedAt = timeFromNull(updatedRaw)
	return &a, nil
}

// GetScores returns the score row of a run, or nil when none was ingested.
func (s *Store) GetScores(ctx context.Context, runID string) (*Scores, error) {
	var (
		sc         Scores
		packScore  sql.NullFloat64
		stderr     sql.NullFloat64
		allMetrics sql.NullString
		updatedRaw sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT run_id, pack_score, pack_score_stderr, all_metrics, updated_at FROM run_scores WHERE run_id = ?", runID,
	).Scan(&sc.RunID, &packScore, &stderr, &allMetrics, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run scores: %w", err)
	}
	sc.PackScore = floatPtrFromNull(packScore)
	sc.PackScoreStderr = floatPtrFromNull(stderr)
	sc.AllMetrics = rawObject(allMetrics)
	sc.UpdatedAt = timeFromNull(updatedRaw)
	return &sc, nil
}

// ListTaskMetrics returns a run's metric rows in insertion order.
func (s *Store) ListTaskMetrics(ctx context.Context, runID string) ([]TaskMetric, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT task_key, metric_name, metric_value FROM run_task_metrics WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list task metrics: %w", err)
	}
	defer rows.Close()
	metrics := []TaskMetric{}
	for rows.Next() {
		var m TaskMetric
		if err := rows.Scan(&m.TaskKey, &m.MetricName, &m.MetricValue); err != nil {
			return nil, fmt.Errorf("scan task metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// ListTaskHashes returns a run's hash rows in insertion order.
func (s *Store) ListTaskHashes(ctx context.Context, runID string) ([]TaskHash, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT task_key, hash_examples, hash_full_prompts, hash_input_tokens, hash_cont_tokens
         FROM run_task_hashes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list task hashes: %w", err)
	}
	defer rows.Close()
	hashes := []TaskHash{}
	for rows.Next() {
		var (
			h                                TaskHash
			examples, prompts, inputs, conts sql.NullString
		)
		if err := rows.Scan(&h.TaskKey, &examples, &prompts, &inputs, &conts); err != nil {
			return nil, fmt.Errorf("scan task hash: %w", err)
		}
		h.HashExamples = stringPtrFromNull(examples)
		h.HashFullPrompts = stringPtrFromNull(prompts)
		h.HashInputTokens = stringPtrFromNull(inputs)
		h.HashContTokens = stringPtrFromNull(conts)
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ListDetailFiles returns a run's detail-file rows ordered by task key.
func (s *Store) ListDetailFiles(ctx context.Context, runID string) ([]DetailFile, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT task_key, parquet_uri, num_rows FROM run_detail_files WHERE run_id = ? ORDER BY task_key", runID)
	if err != nil {
		return nil, fmt.Errorf("list detail files: %w", err)
	}
	defer rows.Close()
	files := []DetailFile{}
	for rows.Next() {
		var (
			d       DetailFile
			numRows sql.NullInt64
		)
		if err := rows.Scan(&d.TaskKey, &d.ParquetURI, &numRows); err != nil {
			return nil, fmt.Errorf("scan detail file: %w", err)
		}
		d.NumRows = int64PtrFromNull(numRows)
		files = append(files, d)
	}
	return files, rows.Err()
}

// GetDetailFile returns the detail file of one task of a run, or nil when absent.
func (s *Store) GetDetailFile(ctx context.Context, runID, taskKey string) (*DetailFile, error) {
	var (
		d       DetailFile
		numRows sql.NullInt64
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT task_key, parquet_uri, num_rows FROM run_detail_files WHERE run_id = ? AND task_key = ?",
		runID, taskKey,
	).Scan(&d.TaskKey, &d.ParquetURI, &numRows)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get detail file: %w", err)
	}
	d.NumRows = int64PtrFromNull(numRows)
	return &d, nil
}

// GetRunDetail loads a run with its pack and every result record. It returns
// nil, nil when the run does not exist.
func (s *Store) GetRunDetail(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil || run == nil {
		return nil, err
	}
	detail := &RunDetail{Run: *run}
	if detail.Pack, err = s.GetPack(ctx, run.PackID); err != nil {
		return nil, err
	}
	if detail.Artifacts, err = s.GetArtifacts(ctx, runID); err != nil {
		return nil, err
	}
	if detail.Scores, err = s.GetScores(ctx, runID); err != nil {
		return nil, err
	}
	if detail.TaskMetrics, err = s.ListTaskMetrics(ctx, runID); err != nil {
		return nil, err
	}
	if detail.TaskHashes, err = s.ListTaskHashes(ctx, runID); err != nil {
		return nil, err
	}
	if detail.DetailFiles, err = s.ListDetailFiles(ctx, runID); err != nil {
		return nil, err
	}
	return detail, nil
}
