package pmr

import (
	"context"
	"fmt"
	"strings"

	"pmr-go/internal/model"
)

// DefaultTagConcurrency bounds the number of in-flight tag upserts.
const DefaultTagConcurrency = 8

// Service is the orchestration layer that coordinates the workspace
// registry, the sync ledger, the tag index and the mirrors on disk.
type Service struct {
	workspaces     WorkspaceStore
	ledger         SyncLedger
	tags           TagStore
	mirrors        *Directory
	logger         Logger
	clock          Clock
	tagConcurrency int
}

// NewService creates a new Service with the provided dependencies.
// A nil logger discards output and a nil clock uses the wall clock.
func NewService(workspaces WorkspaceStore, ledger SyncLedger, tags TagStore, mirrors *Directory, logger Logger, clock Clock) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Service{
		workspaces:     workspaces,
		ledger:         ledger,
		tags:           tags,
		mirrors:        mirrors,
		logger:         logger,
		clock:          clock,
		tagConcurrency: DefaultTagConcurrency,
	}
}

// SetTagConcurrency bounds concurrent tag upserts. Values below 1 mean
// unbounded.
func (s *Service) SetTagConcurrency(n int) {
	s.tagConcurrency = n
}

// Mirrors returns the mirror directory the service operates on.
func (s *Service) Mirrors() *Directory {
	return s.mirrors
}

// RegisterWorkspace adds a remote repository to the catalog.
func (s *Service) RegisterWorkspace(ctx context.Context, url, description, longDescription string) (int64, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0, fmt.Errorf("workspace url is required")
	}

	id, err := s.workspaces.AddWorkspace(ctx, url, description, longDescription)
	if err != nil {
		return 0, fmt.Errorf("registering workspace: %w", err)
	}

	s.logger.Info("workspace registered", "id", id, "url", url)
	return id, nil
}

// UpdateWorkspace replaces the description fields of a workspace.
func (s *Service) UpdateWorkspace(ctx context.Context, id int64, description, longDescription string) error {
	ok, err := s.workspaces.UpdateWorkspace(ctx, id, description, longDescription)
	if err != nil {
		return fmt.Errorf("updating workspace: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrWorkspaceNotFound, id)
	}

	s.logger.Info("workspace updated", "id", id)
	return nil
}

// ListWorkspaces returns every registered workspace ordered by id.
func (s *Service) ListWorkspaces(ctx context.Context) ([]*model.Workspace, error) {
	workspaces, err := s.workspaces.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return workspaces, nil
}

// GetWorkspace fetches one workspace by id.
func (s *Service) GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error) {
	workspace, err := s.workspaces.GetWorkspace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting workspace: %w", err)
	}
	return workspace, nil
}

// ListSyncs returns the sync attempts of a workspace, oldest first.
func (s *Service) ListSyncs(ctx context.Context, workspace *model.Workspace) ([]*model.SyncAttempt, error) {
	attempts, err := s.ledger.ListSyncs(ctx, workspace.ID)
	if err != nil {
		return nil, fmt.Errorf("listing sync attempts: %w", err)
	}
	return attempts, nil
}

// ListTags returns the indexed tags of a workspace.
func (s *Service) ListTags(ctx context.Context, workspace *model.Workspace) ([]*model.Tag, error) {
	tags, err := s.tags.ListTags(ctx, workspace.ID)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return tags, nil
}
