package pmr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
)

// OriginName is the remote every mirror fetches from.
const OriginName = "origin"

// Directory maps workspace ids to bare mirrors on disk:
//
//	<root>/
//	  <workspace id>/   (bare repository)
//
// Nothing else under root is owned by the catalog.
type Directory struct {
	root string
}

// NewDirectory returns a Directory rooted at root. The root is created on
// first clone, not here.
func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

// Root returns the directory holding all mirrors.
func (d *Directory) Root() string {
	return d.root
}

// Path returns the mirror path of a workspace.
func (d *Directory) Path(workspaceID int64) string {
	return filepath.Join(d.root, strconv.FormatInt(workspaceID, 10))
}

// MirrorState is what Probe found at a mirror path.
type MirrorState int

const (
	// MirrorAbsent means nothing usable exists yet: no path, or an empty
	// directory. A clone may be created there.
	MirrorAbsent MirrorState = iota
	// MirrorPresent means the path holds a bare repository.
	MirrorPresent
)

func (s MirrorState) String() string {
	switch s {
	case MirrorAbsent:
		return "absent"
	case MirrorPresent:
		return "present"
	default:
		return "unknown"
	}
}

// Probe inspects the mirror path of a workspace without modifying it.
// Anything other than an absent path or a bare repository yields an error
// wrapping ErrInvalidMirror.
func (d *Directory) Probe(workspaceID int64) (MirrorState, error) {
	_, state, err := d.open(workspaceID)
	return state, err
}

// Open opens the mirror of a workspace.
// It returns an error wrapping ErrMirrorNotFound when the mirror is absent,
// and one wrapping ErrInvalidMirror when the path holds anything other than
// a bare repository.
func (d *Directory) Open(workspaceID int64) (*git.Repository, error) {
	repo, state, err := d.open(workspaceID)
	if err != nil {
		return nil, err
	}
	if state == MirrorAbsent {
		return nil, fmt.Errorf("%w: %s", ErrMirrorNotFound, d.Path(workspaceID))
	}
	return repo, nil
}

func (d *Directory) open(workspaceID int64) (*git.Repository, MirrorState, error) {
	path := d.Path(workspaceID)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, MirrorAbsent, nil
	}
	if err != nil {
		return nil, MirrorAbsent, fmt.Errorf("checking mirror path %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, MirrorAbsent, fmt.Errorf("%w: %s is not a directory", ErrInvalidMirror, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, MirrorAbsent, fmt.Errorf("reading mirror path %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, MirrorAbsent, nil
	}

	storage := filesystem.NewStorage(osfs.New(path), cache.NewObjectLRUDefault())
	repo, err := git.Open(storage, nil)
	if err != nil {
		return nil, MirrorAbsent, fmt.Errorf("%w: %s: %v", ErrInvalidMirror, path, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return nil, MirrorAbsent, fmt.Errorf("%w: %s: reading config: %v", ErrInvalidMirror, path, err)
	}
	if !cfg.Core.IsBare {
		return nil, MirrorAbsent, fmt.Errorf("%w: %s is not bare", ErrInvalidMirror, path)
	}

	return repo, MirrorPresent, nil
}

// Clone creates the mirror of a workspace from url. Every ref of the remote
// is mapped into the mirror and later fetches overwrite them.
// A remote without any refs yields an empty mirror that later fetches fill.
// A failed clone leaves nothing behind at the mirror path.
func (d *Directory) Clone(ctx context.Context, workspaceID int64, url string) (*git.Repository, error) {
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return nil, fmt.Errorf("creating git root: %w", err)
	}

	path := d.Path(workspaceID)
	repo, err := git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
		URL:        url,
		RemoteName: OriginName,
		Mirror:     true,
	})
	if err != nil {
		os.RemoveAll(path)
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, err
		}
		empty, lerr := remoteIsEmpty(ctx, url)
		if lerr != nil || !empty {
			return nil, err
		}
		return d.initEmpty(path, url)
	}
	return repo, nil
}

// mirrorRefSpec maps every ref of origin onto the same name in the mirror.
const mirrorRefSpec = config.RefSpec("+refs/*:refs/*")

// initEmpty creates a bare mirror with nothing fetched yet, configured the
// way a mirror clone would be. Used for remotes that have no refs.
func (d *Directory) initEmpty(path, url string) (*git.Repository, error) {
	repo, err := git.PlainInit(path, true)
	if err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("initializing empty mirror: %w", err)
	}
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name:   OriginName,
		URLs:   []string{url},
		Fetch:  []config.RefSpec{mirrorRefSpec},
		Mirror: true,
	})
	if err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("configuring %s remote: %w", OriginName, err)
	}
	return repo, nil
}

// remoteIsEmpty reports whether url advertises no refs besides a symbolic HEAD.
func remoteIsEmpty(ctx context.Context, url string) (bool, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: OriginName,
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		if ref.Type() == plumbing.HashReference {
			return false, nil
		}
	}
	return true, nil
}

// Fetch updates a mirror from its origin using the remote's configured
// refspecs. An up-to-date mirror or a remote that is still empty is not an
// error.
func (d *Directory) Fetch(ctx context.Context, repo *git.Repository) error {
	switch err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: OriginName}); err {
	case nil, git.NoErrAlreadyUpToDate, transport.ErrEmptyRemoteRepository:
		return nil
	default:
		return err
	}
}
