package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore implements Store using the metadata_archives table.
//
// One row is kept per category; recording an archive replaces the row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite archive store.
//
// Parameters:
//   - db: Open SQLite connection with the metadata_archives table migrated
//
// Returns:
//   - *SQLiteStore: Store instance ready for use
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Record stores a as the current archive of its category.
func (s *SQLiteStore) Record(ctx context.Context, a Archive) error {
	if a.Category.Count() != 1 {
		return fmt.Errorf("archive must have exactly one category, got %s", a.Category)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata_archives (category, version, source, path, loaded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(category) DO UPDATE SET
		   version = excluded.version,
		   source = excluded.source,
		   path = excluded.path,
		   loaded_at = excluded.loaded_at`,
		int(a.Category), int64(a.Version), a.Source, a.Path, a.LoadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording archive: %w", err)
	}
	return nil
}

// Delete removes the stored archive of every category in c.
func (s *SQLiteStore) Delete(ctx context.Context, c Categories) error {
	for cat := range c.Each() {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM metadata_archives WHERE category = ?`, int(cat),
		); err != nil {
			return fmt.Errorf("deleting archive %s: %w", categoryName(cat), err)
		}
	}
	return nil
}

// Restore returns every stored archive ordered by category.
func (s *SQLiteStore) Restore(ctx context.Context) ([]Archive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, version, source, path, loaded_at FROM metadata_archives ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("querying archives: %w", err)
	}
	defer rows.Close()

	var out []Archive
	for rows.Next() {
		var (
			cat      int
			version  int64
			a        Archive
			loadedAt string
		)
		if err := rows.Scan(&cat, &version, &a.Source, &a.Path, &loadedAt); err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		a.Category = Categories(cat)
		a.Version = uint64(version)
		if a.LoadedAt, err = time.Parse(time.RFC3339Nano, loadedAt); err != nil {
			return nil, fmt.Errorf("parsing loaded_at %q: %w", loadedAt, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archives: %w", err)
	}
	return out, nil
}
