package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const runColumns = "run_id, pack_id, run_name, status, model_name, requested_model_name, backend_type, backend_config, max_samples, num_fewshot_seeds, save_details, output_dir, scoring_mode, scoring_config, generation_config, job_spec, tags, notes, error_message, exit_code, created_at, updated_at, started_at, finished_at"

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		run              Run
		runName          sql.NullString
		status           string
		backendConfig    sql.NullString
		maxSamples       sql.NullInt64
		saveDetails      int64
		scoringConfig    sql.NullString
		generationConfig sql.NullString
		tags             sql.NullString
		notes            sql.NullString
		errorMessage     sql.NullString
		exitCode         sql.NullInt64
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		startedRaw       sql.NullString
		finishedRaw      sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.PackID,
		&runName,
		&status,
		&run.ModelName,
		&run.RequestedModelName,
		&run.BackendType,
		&backendConfig,
		&maxSamples,
		&run.NumFewshotSeeds,
		&saveDetails,
		&run.OutputDir,
		&run.ScoringMode,
		&scoringConfig,
		&generationConfig,
		&run.JobSpec,
		&tags,
		&notes,
		&errorMessage,
		&exitCode,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.RunName = runName.String
	run.Status = RunStatus(status)
	run.BackendConfig = rawObject(backendConfig)
	run.MaxSamples = intPtrFromNull(maxSamples)
	run.SaveDetails = saveDetails != 0
	run.ScoringConfig = rawObject(scoringConfig)
	run.GenerationConfig = rawObject(generationConfig)
	run.Tags = decodeStrings(tags)
	run.Notes = notes.String
	run.ErrorMessage = errorMessage.String
	run.ExitCode = intPtrFromNull(exitCode)
	run.CreatedAt = timeFromNull(createdRaw)
	run.UpdatedAt = timeFromNull(updatedRaw)
	run.StartedAt = timePtrFromNull(startedRaw)
	run.FinishedAt = timePtrFromNull(finishedRaw)
	return &run, nil
}

// CreateRun records a new queued run. The referenced pack must exist.
func (s *Store) CreateRun(ctx context.Context, params NewRun) (*Run, error) {
	if strings.TrimSpace(params.PackID) == "" {
		return nil, errors.New("create run: pack id required")
	}
	if strings.TrimSpace(params.JobSpec) == "" {
		return nil, errors.New("create run: job spec required")
	}
	seeds := params.NumFewshotSeeds
	if seeds <= 0 {
		seeds = 1
	}
	scoringMode := params.ScoringMode
	if scoringMode == "" {
		scoringMode = "deterministic"
	}
	id := uuid.NewString()
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO runs (
            run_id, pack_id, run_name, status, model_name, requested_model_name, backend_type,
            backend_config, max_samples, num_fewshot_seeds, save_details, output_dir,
            scoring_mode, scoring_config, generation_config, job_spec, tags, notes,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		params.PackID,
		nullableString(params.RunName),
		RunQueued,
		params.ModelName,
		params.ModelName,
		params.BackendType,
		objectOrDefault(params.BackendConfig),
		nullableInt(params.MaxSamples),
		seeds,
		boolToInt(params.SaveDetails),
		params.OutputDir,
		scoringMode,
		objectOrDefault(params.ScoringConfig),
		objectOrDefault(params.GenerationConfig),
		params.JobSpec,
		encodeStrings(params.Tags),
		nullableString(params.Notes),
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches a run by id. It returns nil, nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+runColumns+" FROM runs WHERE run_id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with their score rows attached.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	ctx = ensureContext(ctx)
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.PackID != "" {
		clauses = append(clauses, "pack_id = ?")
		args = append(args, filter.PackID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ScoringMode != "" {
		clauses = append(clauses, "scoring_mode = ?")
		args = append(args, filter.ScoringMode)
	}
	query := "SELECT " + runColumns + " FROM runs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	for _, run := range runs {
		scores, err := s.GetScores(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Scores = scores
	}
	return runs, nil
}

// ClaimNextQueued atomically moves the oldest queued run to running and returns
// it. It returns nil, nil when the queue is empty. Concurrent callers never
// receive the same run.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Run, error) {
	ctx = ensureContext(ctx)
	var run *Run
	err := retryOnBusy(ctx, func() error {
		now := nowString()
		row := s.db.QueryRowContext(ctx,
			`UPDATE runs SET status = ?, started_at = ?, updated_at = ?
             WHERE run_id = (
                 SELECT run_id FROM runs WHERE status = ? ORDER BY created_at, rowid LIMIT 1
             ) AND status = ?
             RETURNING `+runColumns,
			RunRunning, now, now, RunQueued, RunQueued,
		)
		claimed, err := scanRun(row)
		if err != nil {
			return err
		}
		run = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queued run: %w", err)
	}
	return run, nil
}

// ClaimRun moves one queued run to running for a caller that executes it
// directly. It fails with a no-rows-affected error when the run is unknown or
// no longer queued, so at most one caller ever owns a run.
func (s *Store) ClaimRun(ctx context.Context, id string) error {
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, started_at = ?, updated_at = ?, error_message = NULL, exit_code = NULL
         WHERE run_id = ? AND status = ?`,
		RunRunning, now, now, id, RunQueued,
	)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	return requireAffected(res, "claim run", id)
}

// MarkFailed records a terminal failure with its reason and, when the engine
// exited, its exit code.
func (s *Store) MarkFailed(ctx context.Context, id, reason string, exitCode *int) error {
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, updated_at = ?, error_message = ?, exit_code = ?
         WHERE run_id = ?`,
		RunFailed, now, now, nullableString(reason), nullableInt(exitCode), id,
	)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return requireAffected(res, "mark run failed", id)
}

// MarkCompleted records successful completion after ingestion.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, updated_at = ?, exit_code = 0, error_message = NULL
         WHERE run_id = ?`,
		RunCompleted, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	return requireAffected(res, "mark run completed", id)
}

// FailInterrupted fails every run still marked running, used at daemon start
// when no engine process can still be attached to them.
func (s *Store) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, updated_at = ?, error_message = ?
         WHERE status = ?`,
		RunFailed, now, now, nullableString(reason), RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// CountRunsByStatus returns the number of runs in each status.
func (s *Store) CountRunsByStatus(ctx context.Context) (map[RunStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT status, COUNT(1) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()
	counts := make(map[RunStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		counts[RunStatus(status)] = count
	}
	return counts, rows.Err()
}

var errNoRowsAffected = errors.New("no rows affected")

func requireAffected(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", operation, id, errNoRowsAffected)
	}
	return nil
}

// IsNoRowsAffected reports whether err came from an update that matched no run.
func IsNoRowsAffected(err error) bool {
	return errors.Is(err, errNoRowsAffected)
}
