package testutil

import (
	"testing"
	"time"

	"pmr-go/internal/database"
	"pmr-go/internal/pmr"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied.
// The database is automatically closed when the test completes.
// A nil clock uses the wall clock.
func NewTestDatabase(t *testing.T, clock pmr.Clock) pmr.Database {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB, clock, time.Hour)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
