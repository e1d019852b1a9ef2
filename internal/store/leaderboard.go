package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Leaderboard ranks a pack's runs by pack score, highest first. Runs without a
// score are left out. An empty scoringMode matches every mode.
func (s *Store) Leaderboard(ctx context.Context, packID, scoringMode string) ([]LeaderboardEntry, error) {
	query := `SELECT r.run_id, r.model_name, sc.pack_score, sc.pack_score_stderr, r.scoring_mode, r.backend_type, r.created_at
         FROM runs r JOIN run_scores sc ON sc.run_id = r.run_id
         WHERE r.pack_id = ? AND sc.pack_score IS NOT NULL`
	args := []any{packID}
	if scoringMode != "" {
		query += " AND r.scoring_mode = ?"
		args = append(args, scoringMode)
	}
	query += " ORDER BY sc.pack_score DESC, r.created_at, r.rowid"

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()
	entries := []LeaderboardEntry{}
	for rows.Next() {
		var (
			e          LeaderboardEntry
			stderr     sql.NullFloat64
			createdRaw sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.ModelName, &e.PackScore, &stderr, &e.ScoringMode, &e.BackendType, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		e.PackScoreStderr = floatPtrFromNull(stderr)
		e.CreatedAt = timeFromNull(createdRaw)
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
