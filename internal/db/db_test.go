package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PeacheyByte/sellventory-companion/internal/db"
)

func TestMigrateCreatesItemsTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "sellventory.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	applied, err := database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'`).Scan(&count); err != nil {
		t.Fatalf("could not query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected items table, got count %d", count)
	}

	// Second run is a no-op
	applied, err = database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected no migrations on second run, got %v", applied)
	}
}

func TestMigrationStatusFreshDB(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	defer database.Close()

	applied, pending, err := database.MigrationStatus()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected no applied migrations, got %v", applied)
	}
	if len(pending) == 0 {
		t.Error("expected pending migrations on a fresh database")
	}

	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	_, pending, err = database.MigrationStatus()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending migrations, got %v", pending)
	}
}

func TestOpenReadOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "incoming.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	database.Close()

	ro, err := db.OpenReadOnly(dbPath)
	if err != nil {
		t.Fatalf("OpenReadOnly failed: %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Error("expected ReadOnly() to be true")
	}
	if _, err := ro.Exec(`INSERT INTO items (id, name) VALUES ('a', 'x')`); err == nil {
		t.Error("expected write to a read-only database to fail")
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.db")
	if _, err := db.OpenReadOnly(missing); err == nil {
		t.Fatal("expected error for missing database")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("OpenReadOnly must not create the database file")
	}
}
