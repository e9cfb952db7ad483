package pmr

import (
	"context"
	"errors"
	"fmt"

	"pmr-go/internal/model"
)

// Synchronize brings the mirror of a workspace up to date with its remote.
//
// Every call records exactly one ledger attempt, opened before any network
// I/O. An existing bare mirror is fetched from origin, a missing one is
// cloned, and anything else at the mirror path fails the attempt without
// being touched. Failures close the attempt as Error before they propagate.
// On success the attempt is closed as Completed and tags are re-indexed;
// indexing problems are logged and never undo the Completed status.
func (s *Service) Synchronize(ctx context.Context, workspace *model.Workspace) error {
	path := s.mirrors.Path(workspace.ID)
	s.logger.Info("syncing mirror", "workspace", workspace.ID, "path", path, "url", workspace.URL)

	syncID, err := s.ledger.BeginSync(ctx, workspace.ID)
	if err != nil {
		return fmt.Errorf("beginning sync: %w", err)
	}
	started := s.clock.Now()

	repo, err := s.mirrors.Open(workspace.ID)
	switch {
	case err == nil:
		s.logger.Info("found existing mirror, fetching", "workspace", workspace.ID, "path", path)
		if err := s.mirrors.Fetch(ctx, repo); err != nil {
			return s.failSync(ctx, syncID, fmt.Errorf("failed to synchronize: %w: %w", ErrTransport, err))
		}
	case errors.Is(err, ErrMirrorNotFound):
		s.logger.Info("cloning new mirror", "workspace", workspace.ID, "path", path)
		if _, err := s.mirrors.Clone(ctx, workspace.ID, workspace.URL); err != nil {
			return s.failSync(ctx, syncID, fmt.Errorf("failed to clone: %w: %w", ErrTransport, err))
		}
	default:
		return s.failSync(ctx, syncID, err)
	}

	// The mirror is already updated; an interrupt must not strand the attempt.
	if err := s.ledger.CompleteSync(context.WithoutCancel(ctx), syncID, model.SyncCompleted, ""); err != nil {
		return s.failSync(ctx, syncID, fmt.Errorf("completing sync %d: %w", syncID, err))
	}
	s.logger.Info("mirror synchronized", "workspace", workspace.ID, "sync", syncID,
		"elapsed", s.clock.Now().Sub(started).String())

	if err := s.IndexTags(ctx, workspace); err != nil {
		s.logger.Warn("tag indexing failed", "workspace", workspace.ID, "error", err)
	}
	return nil
}

// failSync closes an attempt as Error and returns cause. If the ledger
// cannot be updated both errors are reported.
func (s *Service) failSync(ctx context.Context, syncID int64, cause error) error {
	s.logger.Error("sync failed", "sync", syncID, "error", cause)
	// The ledger write must not be skipped because the caller gave up.
	if err := s.ledger.CompleteSync(context.WithoutCancel(ctx), syncID, model.SyncError, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("recording sync %d failure: %w", syncID, err))
	}
	return cause
}
