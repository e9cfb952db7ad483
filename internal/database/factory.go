package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pmr-go/internal/config"
	"pmr-go/internal/database/migrations"
	"pmr-go/internal/pmr"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// The schema is migrated to the latest version before the database is returned.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, instanceID string, staleAfter time.Duration) (pmr.Database, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		path = filepath.Join(cfg.DataDir, instanceID+".db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path, nil, staleAfter)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db.db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

// DatabasePath returns the file a sqlite config stores the catalog in.
func DatabasePath(cfg config.DatabaseConfig, instanceID string) (string, error) {
	if cfg.Type != "sqlite" {
		return "", fmt.Errorf("database type %q has no file", cfg.Type)
	}
	if cfg.DataDir == "" {
		return "", fmt.Errorf("data_dir required for sqlite database")
	}
	return filepath.Join(cfg.DataDir, instanceID+".db"), nil
}
