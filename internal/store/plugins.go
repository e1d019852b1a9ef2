package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func scanPlugin(scanner rowScanner) (*Plugin, error) {
	var (
		p          Plugin
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&p.ID, &p.Name, &p.Version, &p.StorageURI, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p.CreatedAt = timeFromNull(createdRaw)
	p.UpdatedAt = timeFromNull(updatedRaw)
	return &p, nil
}

// RegisterPlugin records a custom-task module. Registering an existing
// name and version replaces its storage URI.
func (s *Store) RegisterPlugin(ctx context.Context, name, version, storageURI string) (*Plugin, error) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	storageURI = strings.TrimSpace(storageURI)
	if name == "" || version == "" || storageURI == "" {
		return nil, errors.New("register plugin: name, version and storage uri required")
	}
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO plugins (plugin_id, name, version, storage_uri, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(name, version) DO UPDATE SET
            storage_uri = excluded.storage_uri,
            updated_at = excluded.updated_at`,
		uuid.NewString(), name, version, storageURI, now, now,
	); err != nil {
		return nil, fmt.Errorf("register plugin %s@%s: %w", name, version, err)
	}
	return s.FindPlugin(ctx, name, version)
}

// FindPlugin looks a plugin up by exact name and version. It returns nil, nil
// when none matches.
func (s *Store) FindPlugin(ctx context.Context, name, version string) (*Plugin, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT plugin_id, name, version, storage_uri, created_at, updated_at FROM plugins WHERE name = ? AND version = ?",
		name, version,
	)
	p, err := scanPlugin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find plugin: %w", err)
	}
	return p, nil
}

// ListPlugins returns plugins ordered by name and version.
func (s *Store) ListPlugins(ctx context.Context) ([]*Plugin, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT plugin_id, name, version, storage_uri, created_at, updated_at FROM plugins ORDER BY name, version")
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()
	plugins := []*Plugin{}
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plugin: %w", err)
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}
