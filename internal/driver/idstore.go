package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDStore maps driver configuration keys to stable device IDs.
//
// A key seen for the first time is given a fresh random ID; every later call
// with the same key returns that ID, so a device keeps its identity across
// reconnects and restarts. Lookup never allocates; it reports false for a
// key that has not been seen.
type IDStore interface {
	GetOrCreate(ctx context.Context, key string) (uuid.UUID, error)
	Lookup(ctx context.Context, key string) (uuid.UUID, bool, error)
}

// MemoryIDStore is an IDStore that lives for the process lifetime.
type MemoryIDStore struct {
	mu  sync.Mutex
	ids map[string]uuid.UUID
}

// NewMemoryIDStore creates an empty in-memory store.
func NewMemoryIDStore() *MemoryIDStore {
	return &MemoryIDStore{ids: make(map[string]uuid.UUID)}
}

// GetOrCreate returns the ID for key, allocating one if needed.
func (s *MemoryIDStore) GetOrCreate(_ context.Context, key string) (uuid.UUID, error) {
	if key == "" {
		return uuid.Nil, fmt.Errorf("device key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[key]; ok {
		return id, nil
	}
	id := uuid.New()
	s.ids[key] = id
	return id, nil
}

// Lookup returns the ID already assigned to key.
func (s *MemoryIDStore) Lookup(_ context.Context, key string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ids[key]
	return id, ok, nil
}

// SQLiteIDStore implements IDStore using the device_ids table.
type SQLiteIDStore struct {
	db *sql.DB
}

// NewSQLiteIDStore creates a new SQLite-backed ID store.
//
// Parameters:
//   - db: Open SQLite connection with the device_ids table migrated
//
// Returns:
//   - *SQLiteIDStore: Store instance ready for use
func NewSQLiteIDStore(db *sql.DB) *SQLiteIDStore {
	return &SQLiteIDStore{db: db}
}

// GetOrCreate returns the persisted ID for key, inserting a new one if the
// key has never been seen. Concurrent first calls for the same key agree on
// a single ID.
func (s *SQLiteIDStore) GetOrCreate(ctx context.Context, key string) (uuid.UUID, error) {
	if key == "" {
		return uuid.Nil, fmt.Errorf("device key is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO device_ids (config_key, device_id, created_at) VALUES (?, ?, ?)`,
		key, uuid.NewString(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting device id: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT device_id FROM device_ids WHERE config_key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("device id for %q vanished after insert", key)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("querying device id: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing stored device id %q: %w", raw, err)
	}
	return id, nil
}

// Lookup returns the persisted ID for key without inserting one.
func (s *SQLiteIDStore) Lookup(ctx context.Context, key string) (uuid.UUID, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id FROM device_ids WHERE config_key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("querying device id: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parsing stored device id %q: %w", raw, err)
	}
	return id, true, nil
}
