package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewPack carries a pack definition and its full task list for ImportPack.
type NewPack struct {
	Name          string
	Version       string
	Description   string
	PrimaryMetric string
	Aggregation   string
	Tags          []string
	Tasks         []NewPackTask
}

// NewPackTask is one task of a NewPack. BenchmarkID may be empty.
type NewPackTask struct {
	BenchmarkID  string
	TaskSpec     string
	Fewshot      int
	Weight       float64
	DisplayOrder int
	Overrides    string
}

const packColumns = "p.pack_id, p.name, p.version, p.description, p.primary_metric, p.aggregation, p.tags, p.created_at, p.updated_at, (SELECT COUNT(1) FROM pack_tasks pt WHERE pt.pack_id = p.pack_id)"

func scanPack(scanner rowScanner) (*Pack, error) {
	var (
		p           Pack
		description sql.NullString
		tags        sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&p.ID,
		&p.Name,
		&p.Version,
		&description,
		&p.PrimaryMetric,
		&p.Aggregation,
		&tags,
		&createdRaw,
		&updatedRaw,
		&p.TaskCount,
	); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.Tags = decodeStrings(tags)
	p.CreatedAt = timeFromNull(createdRaw)
	p.UpdatedAt = timeFromNull(updatedRaw)
	return &p, nil
}

// ImportPack upserts the pack keyed by name and version and replaces its task
// list in one transaction. The pack id is stable across re-imports so existing
// runs keep pointing at it.
func (s *Store) ImportPack(ctx context.Context, params NewPack) (*Pack, error) {
	name := strings.TrimSpace(params.Name)
	version := strings.TrimSpace(params.Version)
	if name == "" || version == "" {
		return nil, errors.New("import pack: name and version required")
	}
	if strings.TrimSpace(params.PrimaryMetric) == "" {
		return nil, errors.New("import pack: primary metric required")
	}
	aggregation := params.Aggregation
	if aggregation == "" {
		aggregation = "weighted_mean"
	}
	ctx = ensureContext(ctx)
	var packID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		row := tx.QueryRowContext(ctx,
			`INSERT INTO packs (pack_id, name, version, description, primary_metric, aggregation, tags, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(name, version) DO UPDATE SET
                description = excluded.description,
                primary_metric = excluded.primary_metric,
                aggregation = excluded.aggregation,
                tags = excluded.tags,
                updated_at = excluded.updated_at
             RETURNING pack_id`,
			uuid.NewString(), name, version, nullableString(params.Description),
			params.PrimaryMetric, aggregation, encodeStrings(params.Tags), now, now,
		)
		if err := row.Scan(&packID); err != nil {
			return fmt.Errorf("upsert pack: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pack_tasks WHERE pack_id = ?", packID); err != nil {
			return fmt.Errorf("clear pack tasks: %w", err)
		}
		for _, task := range params.Tasks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO pack_tasks (pack_task_id, pack_id, benchmark_id, task_spec, fewshot, weight, display_order, overrides)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), packID, nullableString(task.BenchmarkID), task.TaskSpec,
				task.Fewshot, task.Weight, task.DisplayOrder, objectOrDefault(task.Overrides),
			); err != nil {
				return fmt.Errorf("insert pack task %s: %w", task.TaskSpec, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPack(ctx, packID)
}

// GetPack returns nil, nil when the pack does not exist.
func (s *Store) GetPack(ctx context.Context, id string) (*Pack, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+packColumns+" FROM packs p WHERE p.pack_id = ?", id)
	p, err := scanPack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pack: %w", err)
	}
	return p, nil
}

// ListPacks returns packs newest first with their task counts.
func (s *Store) ListPacks(ctx context.Context) ([]*Pack, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT "+packColumns+" FROM packs p ORDER BY p.created_at DESC, p.rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()
	packs := []*Pack{}
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

// ListPackTasks returns the current tasks of a pack in display order, each
// with its linked benchmark when one is set.
func (s *Store) ListPackTasks(ctx context.Context, packID string) ([]PackTask, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT pack_task_id, pack_id, benchmark_id, task_spec, fewshot, weight, display_order, overrides
         FROM pack_tasks WHERE pack_id = ? ORDER BY display_order, rowid`, packID)
	if err != nil {
		return nil, fmt.Errorf("list pack tasks: %w", err)
	}
	defer rows.Close()
	tasks := []PackTask{}
	for rows.Next() {
		var (
			t           PackTask
			benchmarkID sql.NullString
			overrides   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.PackID, &benchmarkID, &t.TaskSpec, &t.Fewshot, &t.Weight, &t.DisplayOrder, &overrides); err != nil {
			return nil, fmt.Errorf("scan pack task: %w", err)
		}
		t.BenchmarkID = benchmarkID.String
		t.Overrides = objectOrDefault(overrides.String)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pack tasks: %w", err)
	}
	rows.Close()

	for i := range tasks {
		if tasks[i].BenchmarkID == "" {
			continue
		}
		b, err := s.GetBenchmark(ctx, tasks[i].BenchmarkID)
		if err != nil {
			return nil, err
		}
		tasks[i].Benchmark = b
	}
	return tasks, nil
}
