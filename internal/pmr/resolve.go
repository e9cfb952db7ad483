package pmr

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"pmr-go/internal/model"
)

// DefaultRevision is resolved when no commit reference is given. In a mirror
// it follows the remote's default branch.
const DefaultRevision = "HEAD"

// refRevParseRules is the order in which a short name is expanded to a
// reference, as git rev-parse does it.
var refRevParseRules = []string{
	"%s",
	"refs/%s",
	"refs/tags/%s",
	"refs/heads/%s",
	"refs/remotes/%s",
	"refs/remotes/%s/HEAD",
}

// ResolvedObject binds a commit, a path inside it and the object found at
// that path. It owns the repository handle every derived object reads from,
// so it stays valid for as long as the caller holds it.
type ResolvedObject struct {
	repo   *git.Repository
	commit *object.Commit
	path   string
	target object.Object
}

// Commit returns the resolved commit.
func (o *ResolvedObject) Commit() *object.Commit { return o.commit }

// Path returns the requested path; empty means the repository root.
func (o *ResolvedObject) Path() string { return o.path }

// Target returns the object found at Path.
func (o *ResolvedObject) Target() object.Object { return o.target }

// Kind returns the type of the target object.
func (o *ResolvedObject) Kind() plumbing.ObjectType { return o.target.Type() }

// Info describes the target. It returns nil, without error, for kinds that
// have no description (annotated tags).
func (o *ResolvedObject) Info() (ObjectInfo, error) {
	return describe(o.target)
}

// CommitInfo describes the resolved commit.
func (o *ResolvedObject) CommitInfo() *CommitInfo {
	return commitInfo(o.commit)
}

// WriteContent streams the raw bytes of a blob target to w.
// Any other kind fails with ErrNotBlob.
func (o *ResolvedObject) WriteContent(w io.Writer) (int64, error) {
	blob, ok := o.target.(*object.Blob)
	if !ok {
		return 0, fmt.Errorf("%w: %s is a %s", ErrNotBlob, displayPath(o.path), o.target.Type())
	}

	r, err := blob.Reader()
	if err != nil {
		return 0, fmt.Errorf("opening blob %s: %w", blob.Hash, err)
	}
	defer r.Close()

	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("reading blob %s: %w", blob.Hash, err)
	}
	return n, nil
}

// Resolve locates the object reached by commitRef and path in the mirror of
// a workspace. An empty commitRef means DefaultRevision and an empty path
// means the root tree of the commit.
func (s *Service) Resolve(ctx context.Context, workspace *model.Workspace, commitRef, path string) (*ResolvedObject, error) {
	repo, err := s.mirrors.Open(workspace.ID)
	if err != nil {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}
	return resolvePath(repo, commitRef, path)
}

// ObjectSummary names an object found by Lookup.
type ObjectSummary struct {
	Kind string `yaml:"kind"`
	ID   string `yaml:"id"`
}

// Lookup finds the object named by an arbitrary revision specification,
// whatever its kind. "<rev>:<path>" names the object at path in rev.
func (s *Service) Lookup(ctx context.Context, workspace *model.Workspace, spec string) (*ObjectSummary, error) {
	repo, err := s.mirrors.Open(workspace.ID)
	if err != nil {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}

	var obj object.Object
	if rev, path, ok := strings.Cut(spec, ":"); ok {
		resolved, err := resolvePath(repo, rev, path)
		if err != nil {
			return nil, err
		}
		obj = resolved.target
	} else {
		obj, err = resolveObject(repo, spec)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("found object", "kind", obj.Type().String(), "id", obj.ID().String())
	return &ObjectSummary{Kind: obj.Type().String(), ID: obj.ID().String()}, nil
}

func resolvePath(repo *git.Repository, commitRef, path string) (*ResolvedObject, error) {
	if commitRef == "" {
		commitRef = DefaultRevision
	}

	obj, err := resolveObject(repo, commitRef)
	if err != nil {
		return nil, err
	}
	commit, ok := obj.(*object.Commit)
	if !ok {
		return nil, fmt.Errorf("'%s': %w (found %s)", commitRef, ErrNotCommit, obj.Type())
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of commit %s: %w", commit.Hash, err)
	}

	clean := strings.Trim(path, "/")
	resolved := &ResolvedObject{repo: repo, commit: commit, path: clean, target: tree}
	if clean == "" {
		return resolved, nil
	}

	entry, err := findEntry(tree, clean)
	if err != nil {
		if errors.Is(err, ErrPathNotFound) {
			return nil, fmt.Errorf("'%s' in %s: %w", clean, commit.Hash, ErrPathNotFound)
		}
		return nil, fmt.Errorf("looking up '%s' in %s: %w", clean, commit.Hash, err)
	}

	target, err := repo.Object(plumbing.AnyObject, entry.Hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			// Submodule entries point at commits of another repository.
			return nil, fmt.Errorf("'%s' in %s: %w (object %s not in mirror)", clean, commit.Hash, ErrPathNotFound, entry.Hash)
		}
		return nil, fmt.Errorf("loading '%s': %w", clean, err)
	}
	resolved.target = target
	return resolved, nil
}

// findEntry walks path one component at a time. Only directory entries are
// descended into, so a path running through a file is not found.
func findEntry(tree *object.Tree, path string) (*object.TreeEntry, error) {
	names := strings.Split(path, "/")
	for i, name := range names {
		var entry *object.TreeEntry
		for j := range tree.Entries {
			if tree.Entries[j].Name == name {
				entry = &tree.Entries[j]
				break
			}
		}
		if entry == nil {
			return nil, ErrPathNotFound
		}
		if i == len(names)-1 {
			return entry, nil
		}
		if entry.Mode != filemode.Dir {
			return nil, ErrPathNotFound
		}

		sub, err := tree.Tree(name)
		if err != nil {
			return nil, fmt.Errorf("reading tree '%s': %w", strings.Join(names[:i+1], "/"), err)
		}
		tree = sub
	}
	return nil, ErrPathNotFound
}

// resolveObject interprets a revision specification and loads the object it
// names with its own kind, so an annotated tag name yields the tag object.
// Plain reference names and full ids are handled here; anything else
// (abbreviated ids, ~ and ^ suffixes) goes through go-git, which only ever
// yields commits.
func resolveObject(repo *git.Repository, rev string) (object.Object, error) {
	hash, ok := lookupReference(repo, rev)
	if !ok && isFullHash(rev) {
		hash, ok = plumbing.NewHash(rev), true
	}
	if !ok {
		h, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return nil, fmt.Errorf("'%s': %w", rev, ErrRevisionNotFound)
		}
		hash = *h
	}

	obj, err := repo.Object(plumbing.AnyObject, hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("'%s': %w", rev, ErrRevisionNotFound)
		}
		return nil, fmt.Errorf("loading object %s: %w", hash, err)
	}
	return obj, nil
}

func lookupReference(repo *git.Repository, rev string) (plumbing.Hash, bool) {
	if rev == "" {
		return plumbing.ZeroHash, false
	}
	for _, rule := range refRevParseRules {
		ref, err := repo.Reference(plumbing.ReferenceName(fmt.Sprintf(rule, rev)), true)
		if err == nil {
			return ref.Hash(), true
		}
	}
	return plumbing.ZeroHash, false
}

func isFullHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func displayPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
