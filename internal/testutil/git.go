package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// SourceRepo is a non-bare repository on local disk used as the remote of a
// workspace in tests. Its Path can be passed as a workspace URL.
type SourceRepo struct {
	t    *testing.T
	Path string
	Repo *git.Repository
	when time.Time
}

// NewSourceRepo initializes an empty repository in a temporary directory.
func NewSourceRepo(t *testing.T) *SourceRepo {
	t.Helper()

	path := filepath.Join(t.TempDir(), "source")
	repo, err := git.PlainInit(path, false)
	if err != nil {
		t.Fatalf("PlainInit(%q) error = %v", path, err)
	}
	return &SourceRepo{
		t:    t,
		Path: path,
		Repo: repo,
		when: SourceEpoch,
	}
}

// Signature is the identity used for every commit and tag in the fixture.
func (r *SourceRepo) Signature() *object.Signature {
	return &object.Signature{Name: "Test User", Email: "test@example.com", When: r.when}
}

// Commit writes files (path to contents) into the worktree, stages them and
// commits. Parent directories are created as needed.
func (r *SourceRepo) Commit(message string, files map[string]string) plumbing.Hash {
	r.t.Helper()

	wt, err := r.Repo.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree() error = %v", err)
	}

	for name, contents := range files {
		f, err := wt.Filesystem.Create(name)
		if err != nil {
			r.t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := f.Write([]byte(contents)); err != nil {
			f.Close()
			r.t.Fatalf("writing %s: %v", name, err)
		}
		if err := f.Close(); err != nil {
			r.t.Fatalf("closing %s: %v", name, err)
		}
		if _, err := wt.Add(name); err != nil {
			r.t.Fatalf("Add(%q) error = %v", name, err)
		}
	}

	// Distinct timestamps keep commit ids distinct for identical trees.
	r.when = r.when.Add(time.Minute)
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author:            r.Signature(),
		Committer:         r.Signature(),
		AllowEmptyCommits: len(files) == 0,
	})
	if err != nil {
		r.t.Fatalf("Commit(%q) error = %v", message, err)
	}
	return hash
}

// Tag creates a lightweight tag.
func (r *SourceRepo) Tag(name string, target plumbing.Hash) {
	r.t.Helper()

	if _, err := r.Repo.CreateTag(name, target, nil); err != nil {
		r.t.Fatalf("CreateTag(%q) error = %v", name, err)
	}
}

// AnnotatedTag creates an annotated tag object pointing at target, which may
// be any kind of object, and returns the id of the tag object.
func (r *SourceRepo) AnnotatedTag(name string, target plumbing.Hash, message string) plumbing.Hash {
	r.t.Helper()

	ref, err := r.Repo.CreateTag(name, target, &git.CreateTagOptions{
		Tagger:  r.Signature(),
		Message: message,
	})
	if err != nil {
		r.t.Fatalf("CreateTag(%q) error = %v", name, err)
	}
	return ref.Hash()
}

// TreeOf returns the root tree id of a commit.
func (r *SourceRepo) TreeOf(commit plumbing.Hash) plumbing.Hash {
	r.t.Helper()

	c, err := r.Repo.CommitObject(commit)
	if err != nil {
		r.t.Fatalf("CommitObject(%s) error = %v", commit, err)
	}
	return c.TreeHash
}

// Head returns the commit HEAD points at.
func (r *SourceRepo) Head() plumbing.Hash {
	r.t.Helper()

	ref, err := r.Repo.Head()
	if err != nil {
		r.t.Fatalf("Head() error = %v", err)
	}
	return ref.Hash()
}

// URL returns the address to clone the repository from. It names the git
// directory itself so it can be served in-process.
func (r *SourceRepo) URL() string {
	return filepath.Join(r.Path, ".git")
}
