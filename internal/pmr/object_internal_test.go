package pmr

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"
)

func TestDescribe_Commit(t *testing.T) {
	when := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	commit := &object.Commit{
		Hash:      plumbing.NewHash("0123456789abcdef0123456789abcdef01234567"),
		Author:    object.Signature{Name: "Ada", Email: "ada@example.com", When: when},
		Committer: object.Signature{Name: "Grace", Email: "grace@example.com", When: when},
	}

	info, err := describe(commit)
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	want := &CommitInfo{
		CommitID:  "0123456789abcdef0123456789abcdef01234567",
		Author:    "Ada <ada@example.com>",
		Committer: "Grace <grace@example.com>",
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("describe() mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe_Tree(t *testing.T) {
	tree := &object.Tree{Entries: []object.TreeEntry{
		{Name: "run.sh", Mode: filemode.Executable, Hash: plumbing.NewHash("1111111111111111111111111111111111111111")},
		{Name: "link", Mode: filemode.Symlink, Hash: plumbing.NewHash("2222222222222222222222222222222222222222")},
		{Name: "vendor", Mode: filemode.Submodule, Hash: plumbing.NewHash("3333333333333333333333333333333333333333")},
	}}

	info, err := describe(tree)
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	want := &TreeInfo{
		FileCount: 3,
		Entries: []TreeEntryInfo{
			{FileMode: "100755", Kind: "blob", ID: "1111111111111111111111111111111111111111", Name: "run.sh"},
			{FileMode: "120000", Kind: "blob", ID: "2222222222222222222222222222222222222222", Name: "link"},
			{FileMode: "160000", Kind: "commit", ID: "3333333333333333333333333333333333333333", Name: "vendor"},
		},
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("describe() mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe_Tag(t *testing.T) {
	info, err := describe(&object.Tag{Name: "v1"})
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	if info != nil {
		t.Errorf("describe(tag) = %#v, want nil", info)
	}
}

func TestIsFullHash(t *testing.T) {
	tests := map[string]bool{
		"0123456789abcdef0123456789abcdef01234567": true,
		"0123456789ABCDEF0123456789ABCDEF01234567": true,
		"0123456":                                  false,
		"master":                                   false,
		"g123456789abcdef0123456789abcdef01234567": false,
	}
	for in, want := range tests {
		if got := isFullHash(in); got != want {
			t.Errorf("isFullHash(%q) = %v, want %v", in, got, want)
		}
	}
}
