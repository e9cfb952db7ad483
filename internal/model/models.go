package model

import (
	"fmt"
	"time"
)

// Workspace is a registered remote repository tracked by the catalog.
// Only the description fields may change after registration.
type Workspace struct {
	ID              int64
	URL             string
	Description     string // empty when never set
	LongDescription string
	CreatedAt       time.Time
}

func (w *Workspace) String() string {
	desc := w.Description
	if desc == "" {
		desc = "<empty>"
	}
	return fmt.Sprintf("%d - %s - %s", w.ID, w.URL, desc)
}

// SyncStatus is the lifecycle state of a synchronization attempt.
// The numeric values are what the ledger stores.
type SyncStatus int64

const (
	SyncCompleted SyncStatus = 0
	SyncRunning   SyncStatus = 1
	SyncError     SyncStatus = 2
	SyncUnknown   SyncStatus = -1
)

// SyncStatusFromInt decodes a stored status. Values outside the known range
// decode to SyncUnknown.
func SyncStatusFromInt(v int64) SyncStatus {
	switch s := SyncStatus(v); s {
	case SyncCompleted, SyncRunning, SyncError:
		return s
	default:
		return SyncUnknown
	}
}

func (s SyncStatus) String() string {
	switch s {
	case SyncCompleted:
		return "Completed"
	case SyncRunning:
		return "Running"
	case SyncError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is expected.
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncError
}

// SyncAttempt is one row of the sync ledger.
type SyncAttempt struct {
	ID          int64
	WorkspaceID int64
	StartedAt   time.Time
	EndedAt     *time.Time // nil while the attempt is open
	Status      SyncStatus
	Message     string // failure reason for Error attempts
}

func (a *SyncAttempt) String() string {
	end := "<nil>"
	if a.EndedAt != nil {
		end = a.EndedAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s - %s - %s", a.StartedAt.UTC().Format(time.RFC3339), end, a.Status)
}

// Tag maps a tag name in a workspace to the commit it designates.
// (WorkspaceID, Name, CommitID) is unique.
type Tag struct {
	ID          int64
	WorkspaceID int64
	Name        string
	CommitID    string // hex object id
}

func (t *Tag) String() string {
	return fmt.Sprintf("%s - %s", t.CommitID, t.Name)
}

// Operation records a catalog-mutating CLI command. Its ID doubles as the
// version of the catalog snapshot uploaded after the command.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}
