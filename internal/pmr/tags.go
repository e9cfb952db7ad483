package pmr

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	"pmr-go/internal/model"
)

// maxTagDepth bounds how many annotated tags are followed when peeling.
const maxTagDepth = 8

// TagRef is a tag found in a mirror.
type TagRef struct {
	Name     string // short name, e.g. "v1.0"
	CommitID string // hex id of the commit the tag designates
}

// IndexTags records every tag of a synchronized mirror in the tag index.
//
// Upserts run concurrently and are all attempted; a failed upsert is logged
// and does not affect the others or the result. Only an unreadable mirror
// is reported as an error.
func (s *Service) IndexTags(ctx context.Context, workspace *model.Workspace) error {
	repo, err := s.mirrors.Open(workspace.ID)
	if err != nil {
		return fmt.Errorf("opening mirror: %w", err)
	}

	refs, err := listTags(repo, s.logger)
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}

	var g errgroup.Group
	if s.tagConcurrency > 0 {
		g.SetLimit(s.tagConcurrency)
	}
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := s.tags.IndexTag(ctx, workspace.ID, ref.Name, ref.CommitID); err != nil {
				s.logger.Warn("tagging error", "workspace", workspace.ID, "tag", ref.Name, "error", err)
				return nil
			}
			s.logger.Debug("indexed tag", "workspace", workspace.ID, "tag", ref.Name, "commit", ref.CommitID)
			return nil
		})
	}
	g.Wait()

	s.logger.Info("tags indexed", "workspace", workspace.ID, "count", len(refs))
	return nil
}

// listTags enumerates refs/tags/* in a repository, peeling annotated tags
// to their commit. Tags that do not lead to a commit are skipped.
func listTags(repo *git.Repository, logger Logger) ([]TagRef, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var refs []TagRef
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		commit, ok := peelToCommit(repo, ref.Hash())
		if !ok {
			logger.Warn("skipping tag without commit target", "tag", ref.Name().Short(), "target", ref.Hash().String())
			return nil
		}
		refs = append(refs, TagRef{Name: ref.Name().Short(), CommitID: commit.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// peelToCommit follows annotated tags until it reaches a commit.
// Lightweight tags point directly at a commit.
func peelToCommit(repo *git.Repository, hash plumbing.Hash) (plumbing.Hash, bool) {
	if hash == plumbing.ZeroHash {
		return plumbing.ZeroHash, false
	}
	if _, err := repo.CommitObject(hash); err == nil {
		return hash, true
	}
	cur := hash
	for range maxTagDepth {
		tag, err := repo.TagObject(cur)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		switch tag.TargetType {
		case plumbing.CommitObject:
			return tag.Target, true
		case plumbing.TagObject:
			cur = tag.Target
		default:
			return plumbing.ZeroHash, false
		}
	}
	return plumbing.ZeroHash, false
}
