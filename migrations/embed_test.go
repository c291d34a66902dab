package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
)

func TestEmbeddedMigrationsApply(t *testing.T) {
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "devicehub.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"device_ids", "metadata_archives"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// Every up migration ships with a down migration.
	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d after Migrate", len(pending))
	}
	for db.MigrateDown(ctx) == nil {
		applied, _, err := db.GetMigrationStatus(ctx)
		if err != nil {
			t.Fatalf("GetMigrationStatus() error = %v", err)
		}
		if len(applied) == 0 {
			return
		}
	}
	t.Error("MigrateDown() failed before all migrations were rolled back")
}
