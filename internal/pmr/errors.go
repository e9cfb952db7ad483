package pmr

import "errors"

// Errors returned by the service. Check them with errors.Is:
//
//	if errors.Is(err, pmr.ErrInvalidMirror) {
//	    // the mirror directory needs manual attention; retrying will not help
//	}
var (
	// ErrWorkspaceNotFound is returned when no workspace has the given id.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrSyncInProgress is returned when another synchronization of the same
	// workspace is still running.
	ErrSyncInProgress = errors.New("synchronization already in progress")

	// ErrTransport wraps clone and fetch failures (network, auth, protocol).
	ErrTransport = errors.New("remote transfer failed")

	// ErrInvalidMirror is returned when the mirror path holds something other
	// than a bare repository. It is never repaired by cloning over it.
	ErrInvalidMirror = errors.New("invalid local data, expected bare repository")

	// ErrMirrorNotFound is returned when an operation needs a synchronized
	// mirror and none exists yet.
	ErrMirrorNotFound = errors.New("mirror not synchronized")

	// ErrRevisionNotFound is returned when a revision specification names
	// no object.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrNotCommit is returned when a reference resolves to something other
	// than a commit.
	ErrNotCommit = errors.New("reference does not refer to a commit")

	// ErrPathNotFound is returned when a path does not exist in a tree.
	ErrPathNotFound = errors.New("path not found in tree")

	// ErrNotBlob is returned when raw content is requested for a non-blob.
	ErrNotBlob = errors.New("target is not a blob")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Transport failures and a concurrent sync are transient; corrupt mirrors
// and bad references are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrSyncInProgress)
}
