package pmr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// binarySniffLen is how much of a blob is inspected by the binary heuristic.
const binarySniffLen = 8000

// ObjectInfo describes a resolved object. It is one of *FileInfo, *TreeInfo
// or *CommitInfo.
type ObjectInfo interface {
	objectInfo()
}

// FileInfo describes a blob.
type FileInfo struct {
	Size   int64 `yaml:"size"`
	Binary bool  `yaml:"binary"`
}

// TreeInfo describes a tree and lists its immediate children in tree order.
type TreeInfo struct {
	FileCount int             `yaml:"filecount"`
	Entries   []TreeEntryInfo `yaml:"entries"`
}

// TreeEntryInfo is one child of a tree.
type TreeEntryInfo struct {
	FileMode string `yaml:"filemode"` // octal, e.g. "100644" or "40000"
	Kind     string `yaml:"kind"`     // blob, tree or commit
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
}

// CommitInfo describes a commit. Identities are formatted "Name <email>".
type CommitInfo struct {
	CommitID  string `yaml:"commit_id"`
	Author    string `yaml:"author"`
	Committer string `yaml:"committer"`
}

func (*FileInfo) objectInfo()   {}
func (*TreeInfo) objectInfo()   {}
func (*CommitInfo) objectInfo() {}

// describe projects a git object. Tags and other kinds yield nil without
// an error.
func describe(obj object.Object) (ObjectInfo, error) {
	switch o := obj.(type) {
	case *object.Blob:
		binary, err := isBinary(o)
		if err != nil {
			return nil, fmt.Errorf("reading blob %s: %w", o.Hash, err)
		}
		return &FileInfo{Size: o.Size, Binary: binary}, nil
	case *object.Tree:
		entries := make([]TreeEntryInfo, len(o.Entries))
		for i, e := range o.Entries {
			entries[i] = TreeEntryInfo{
				FileMode: strconv.FormatUint(uint64(e.Mode), 8),
				Kind:     entryKind(e.Mode),
				ID:       e.Hash.String(),
				Name:     e.Name,
			}
		}
		return &TreeInfo{FileCount: len(entries), Entries: entries}, nil
	case *object.Commit:
		return commitInfo(o), nil
	default:
		return nil, nil
	}
}

func commitInfo(c *object.Commit) *CommitInfo {
	return &CommitInfo{
		CommitID:  c.Hash.String(),
		Author:    c.Author.String(),
		Committer: c.Committer.String(),
	}
}

// entryKind maps a tree entry mode to the kind of object it points at.
func entryKind(mode filemode.FileMode) string {
	switch mode {
	case filemode.Dir:
		return "tree"
	case filemode.Submodule:
		return "commit"
	default:
		return "blob"
	}
}

// isBinary guesses whether a blob holds binary content: a NUL byte in the
// first binarySniffLen bytes, or invalid UTF-8 when the whole blob fits in
// that window. It is a heuristic, not an encoding analysis.
func isBinary(blob *object.Blob) (bool, error) {
	r, err := blob.Reader()
	if err != nil {
		return false, err
	}
	defer r.Close()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	buf = buf[:n]

	if bytes.IndexByte(buf, 0) >= 0 {
		return true, nil
	}
	if blob.Size <= binarySniffLen && !utf8.Valid(buf) {
		return true, nil
	}
	return false, nil
}
