package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pmr-go/internal/database/migrations"
	"pmr-go/internal/model"
	"pmr-go/internal/pmr"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultStaleAfter is how long a Running sync attempt blocks new attempts
// for the same workspace.
const DefaultStaleAfter = time.Hour

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db         *sql.DB
	path       string
	clock      pmr.Clock
	staleAfter time.Duration
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
// A nil clock uses the wall clock; staleAfter <= 0 means a Running attempt
// never stops blocking.
func NewSQLiteDatabase(path string, clock pmr.Clock, staleAfter time.Duration) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	s := NewSQLiteDatabaseFromDB(db, clock, staleAfter)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock pmr.Clock, staleAfter time.Duration) *SQLiteDatabase {
	if clock == nil {
		clock = pmr.RealClock{}
	}
	return &SQLiteDatabase{
		db:         db,
		clock:      clock,
		staleAfter: staleAfter,
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: PRAGMAs are per connection and every connection to
	// ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Another process (a concurrent sync) may hold the write lock.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Workspace operations

func (s *SQLiteDatabase) AddWorkspace(ctx context.Context, url, description, longDescription string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace (url, description, long_description, created_at) VALUES (?, ?, ?, ?)`,
		url, nullString(description), nullString(longDescription), s.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("inserting workspace: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading workspace id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) UpdateWorkspace(ctx context.Context, id int64, description, longDescription string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspace SET description = ?, long_description = ? WHERE id = ?`,
		nullString(description), nullString(longDescription), id)
	if err != nil {
		return false, fmt.Errorf("updating workspace %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating workspace %d: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteDatabase) ListWorkspaces(ctx context.Context) ([]*model.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, description, long_description, created_at FROM workspace ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var result []*model.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, description, long_description, created_at FROM workspace WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", pmr.ErrWorkspaceNotFound, id)
		}
		return nil, fmt.Errorf("getting workspace %d: %w", id, err)
	}
	return w, nil
}

// Sync ledger operations

// BeginSync inserts a Running attempt unless a non-stale Running attempt for
// the workspace exists. Check and insert are one statement, so the guard
// holds across processes sharing the database file.
func (s *SQLiteDatabase) BeginSync(ctx context.Context, workspaceID int64) (int64, error) {
	now := s.clock.Now()
	cutoff := int64(-1)
	if s.staleAfter > 0 {
		cutoff = now.Add(-s.staleAfter).Unix()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_sync (workspace_id, started_at, status)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM workspace_sync
			WHERE workspace_id = ? AND status = ? AND started_at > ?
		)`,
		workspaceID, now.Unix(), int64(model.SyncRunning),
		workspaceID, int64(model.SyncRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("inserting sync attempt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("inserting sync attempt: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: workspace %d", pmr.ErrSyncInProgress, workspaceID)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sync attempt id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) CompleteSync(ctx context.Context, id int64, status model.SyncStatus, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspace_sync SET ended_at = ?, status = ?, message = ? WHERE id = ?`,
		s.clock.Now().Unix(), int64(status), nullString(message), id)
	if err != nil {
		return fmt.Errorf("completing sync attempt %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing sync attempt %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("completing sync attempt %d: no such attempt", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListSyncs(ctx context.Context, workspaceID int64) ([]*model.SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, started_at, ended_at, status, message
		FROM workspace_sync WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing sync attempts: %w", err)
	}
	defer rows.Close()

	var result []*model.SyncAttempt
	for rows.Next() {
		var (
			a       model.SyncAttempt
			started int64
			ended   sql.NullInt64
			status  int64
			message sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &started, &ended, &status, &message); err != nil {
			return nil, fmt.Errorf("scanning sync attempt: %w", err)
		}
		a.StartedAt = time.Unix(started, 0).UTC()
		a.EndedAt = timePtr(ended)
		a.Status = model.SyncStatusFromInt(status)
		a.Message = message.String
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync attempts: %w", err)
	}
	return result, nil
}

// Tag operations

// IndexTag inserts the triple if absent and returns the id of the stored row.
func (s *SQLiteDatabase) IndexTag(ctx context.Context, workspaceID int64, name, commitID string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_tag (workspace_id, name, commit_id) VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, name, commit_id) DO NOTHING`,
		workspaceID, name, commitID); err != nil {
		return 0, fmt.Errorf("inserting tag %s: %w", name, err)
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM workspace_tag WHERE workspace_id = ? AND name = ? AND commit_id = ?`,
		workspaceID, name, commitID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading tag %s: %w", name, err)
	}
	return id, nil
}

func (s *SQLiteDatabase) ListTags(ctx context.Context, workspaceID int64) ([]*model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, commit_id
		FROM workspace_tag WHERE workspace_id = ? ORDER BY name, commit_id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var result []*model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.CommitID); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return result, nil
}

// Operation history

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string) (*model.Operation, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operation (operation, parameters, status, started_at) VALUES (?, ?, 'running', ?)`,
		operation, parameters, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &model.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  time.Unix(now.Unix(), 0).UTC(),
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE operation SET status = ?, finished_at = ? WHERE id = ?`,
		status, s.clock.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, status, started_at, finished_at
		FROM operation ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*model.Operation
	for rows.Next() {
		var (
			op       model.Operation
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = time.Unix(started, 0).UTC()
		op.FinishedAt = timePtr(finished)
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) MaxOperationID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM operation`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path, empty for wrapped connections.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is at the latest migration version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*model.Workspace, error) {
	var (
		w        model.Workspace
		desc     sql.NullString
		longDesc sql.NullString
		created  int64
	)
	if err := row.Scan(&w.ID, &w.URL, &desc, &longDesc, &created); err != nil {
		return nil, err
	}
	w.Description = desc.String
	w.LongDescription = longDesc.String
	w.CreatedAt = time.Unix(created, 0).UTC()
	return &w, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// Compile-time check that SQLiteDatabase implements pmr.Database interface
var _ pmr.Database = (*SQLiteDatabase)(nil)
