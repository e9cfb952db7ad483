package pmr

import (
	"context"

	"pmr-go/internal/model"
)

// WorkspaceStore holds the registry of workspaces.
type WorkspaceStore interface {
	// AddWorkspace registers a remote URL and returns the new workspace id.
	AddWorkspace(ctx context.Context, url, description, longDescription string) (int64, error)

	// UpdateWorkspace replaces the description fields. It returns false when
	// no workspace has the given id.
	UpdateWorkspace(ctx context.Context, id int64, description, longDescription string) (bool, error)

	// ListWorkspaces returns all workspaces ordered by id.
	ListWorkspaces(ctx context.Context) ([]*model.Workspace, error)

	// GetWorkspace returns the workspace with the given id, or an error
	// wrapping ErrWorkspaceNotFound.
	GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error)
}

// SyncLedger records the lifecycle of synchronization attempts.
// Rows are only ever appended and completed, never deleted.
type SyncLedger interface {
	// BeginSync opens a Running attempt for the workspace and returns its id.
	// It fails with ErrSyncInProgress while another attempt for the same
	// workspace is Running and not yet stale.
	BeginSync(ctx context.Context, workspaceID int64) (int64, error)

	// CompleteSync stamps the end time and terminal status of an attempt.
	// message is stored for Error attempts and may be empty.
	CompleteSync(ctx context.Context, id int64, status model.SyncStatus, message string) error

	// ListSyncs returns the attempts of a workspace, oldest first.
	ListSyncs(ctx context.Context, workspaceID int64) ([]*model.SyncAttempt, error)
}

// TagStore is the durable tag index.
type TagStore interface {
	// IndexTag inserts the (workspace, name, commit) triple. Inserting an
	// existing triple is a no-op that returns the existing id.
	IndexTag(ctx context.Context, workspaceID int64, name, commitID string) (int64, error)

	// ListTags returns the tags of a workspace ordered by name.
	ListTags(ctx context.Context, workspaceID int64) ([]*model.Tag, error)
}

// OperationLog records catalog-mutating commands.
type OperationLog interface {
	CreateOperation(ctx context.Context, operation, parameters string) (*model.Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)
	MaxOperationID(ctx context.Context) (int64, error)
}

// Database is the full persistence surface used by the application layer.
// The service itself only depends on the narrow stores above.
type Database interface {
	WorkspaceStore
	SyncLedger
	TagStore
	OperationLog

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	Close() error
}
