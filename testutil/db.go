package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/chatlens/db"
)

// SetupTestDB opens a migrated SQLite database in a temp directory.
func SetupTestDB(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	return setup(t, filepath.Join(t.TempDir(), "jobs.db"))
}

// SetupPostgres opens and migrates the database at TEST_PG_DSN, skipping the test when unset.
func SetupPostgres(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, dialect := setup(t, dsn)
	if _, err := database.Exec(`DELETE FROM jobs`); err != nil {
		t.Fatalf("failed to clean jobs table: %v", err)
	}
	return database, dialect
}

func setup(t *testing.T, dsn string) (*sql.DB, db.Dialect) {
	t.Helper()
	database, dialect, err := db.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.RunMigrations(database, dialect); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database, dialect
}
