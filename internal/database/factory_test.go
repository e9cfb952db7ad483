package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pmr-go/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewDatabaseFromConfig(cfg, "test-instance", time.Hour)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewDatabaseFromConfig(cfg, "test-instance", time.Hour)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}

		if _, err := got.AddWorkspace(context.Background(), "https://example.com/a.git", "a", ""); err != nil {
			t.Fatalf("AddWorkspace() error = %v", err)
		}
		got.Close()

		// Reopening sees the same catalog and does not re-run migrations.
		reopened, err := NewDatabaseFromConfig(cfg, "test-instance", time.Hour)
		if err != nil {
			t.Fatalf("reopen error = %v", err)
		}
		defer reopened.Close()

		workspaces, err := reopened.ListWorkspaces(context.Background())
		if err != nil {
			t.Fatalf("ListWorkspaces() error = %v", err)
		}
		if len(workspaces) != 1 {
			t.Errorf("len(workspaces) = %d, want 1", len(workspaces))
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewDatabaseFromConfig(cfg, "test-instance", time.Hour)

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "postgres"}
		got, err := NewDatabaseFromConfig(cfg, "test-instance", time.Hour)

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})
}

func TestDatabasePath(t *testing.T) {
	got, err := DatabasePath(config.DatabaseConfig{Type: "sqlite", DataDir: "/var/lib/pmr"}, "i1")
	if err != nil {
		t.Fatalf("DatabasePath() error = %v", err)
	}
	if got != "/var/lib/pmr/i1.db" {
		t.Errorf("DatabasePath() = %q, want %q", got, "/var/lib/pmr/i1.db")
	}

	if _, err := DatabasePath(config.DatabaseConfig{Type: "memory"}, "i1"); err == nil {
		t.Error("DatabasePath() expected error for memory database")
	}
}
