package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"workspace", "workspace_sync", "workspace_tag", "operation", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestGetStatus(t *testing.T) {
	db := openTestDB(t)

	before, err := GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if before.Current != 0 || before.Pending() != before.Latest {
		t.Errorf("GetStatus() before migration = %+v, want nothing applied", before)
	}
	if before.Latest < 1 {
		t.Errorf("Latest = %d, want at least 1", before.Latest)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	after, err := GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if after.Current != after.Latest || after.Dirty || after.Pending() != 0 {
		t.Errorf("GetStatus() after migration = %+v, want current == latest", after)
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO workspace_sync (workspace_id, started_at, status) VALUES (42, 0, 1)`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_TagTripleUnique(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO workspace (url, created_at) VALUES ('https://example.com/r.git', 0)`); err != nil {
		t.Fatalf("Failed to insert workspace: %v", err)
	}

	insert := `INSERT INTO workspace_tag (workspace_id, name, commit_id) VALUES (1, 'v1.0', ?)`
	if _, err := db.Exec(insert, "aaaa"); err != nil {
		t.Fatalf("Failed to insert first tag: %v", err)
	}
	if _, err := db.Exec(insert, "aaaa"); err == nil {
		t.Error("Expected unique constraint violation for duplicate tag, but insert succeeded")
	}

	// Same name at a different commit is a distinct triple.
	if _, err := db.Exec(insert, "bbbb"); err != nil {
		t.Errorf("Insert of same name with different commit failed: %v", err)
	}
}

func TestSchema_SyncMessageColumn(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO workspace (url, created_at) VALUES ('https://example.com/r.git', 0)`); err != nil {
		t.Fatalf("Failed to insert workspace: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO workspace_sync (workspace_id, started_at, status, message) VALUES (1, 0, 2, 'boom')`); err != nil {
		t.Fatalf("Failed to insert sync with message: %v", err)
	}

	var message string
	if err := db.QueryRow(`SELECT message FROM workspace_sync WHERE id = 1`).Scan(&message); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if message != "boom" {
		t.Errorf("message = %q, want %q", message, "boom")
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
