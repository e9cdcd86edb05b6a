package store

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func setupMigrator(t *testing.T) (*sql.DB, *Migrator) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewMigrator(db)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	return db, m
}

func TestMigratorUp(t *testing.T) {
	db, m := setupMigrator(t)

	if err := m.Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version < 1 {
		t.Errorf("Expected schema version >= 1, got %d", version)
	}

	// All offline tables must exist after migration.
	for _, table := range []string{"courses", "progress", "sync_queue", "conflicts", "dead_letters", "assets"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	_, m := setupMigrator(t)

	if err := m.Up(); err != nil {
		t.Fatalf("Failed first Up: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Failed second Up: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	seen := make(map[int]bool)
	for _, mig := range applied {
		if seen[mig.Version] {
			t.Errorf("Migration V%d recorded twice", mig.Version)
		}
		seen[mig.Version] = true
		if len(mig.Checksum) != 64 {
			t.Errorf("Expected 64-char checksum, got %d chars", len(mig.Checksum))
		}
	}
}

func TestMigratorDown(t *testing.T) {
	db, m := setupMigrator(t)

	if err := m.Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	before, _ := m.CurrentVersion()

	if err := m.Down(); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	after, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if after != before-1 {
		t.Errorf("Expected version %d after rollback, got %d", before-1, after)
	}

	if before == 1 {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='courses'`).Scan(&name)
		if err != sql.ErrNoRows {
			t.Errorf("Expected courses table dropped after rollback, err = %v", err)
		}
	}
}
