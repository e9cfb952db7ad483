package pmr_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"

	"pmr-go/internal/model"
	"pmr-go/internal/pmr"
	"pmr-go/internal/testutil"
)

func TestService_Synchronize(t *testing.T) {
	ctx := context.Background()

	t.Run("clones a missing mirror", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.register(t, src.URL())

		if err := f.svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("Synchronize() error = %v", err)
		}

		state, err := f.mirrors.Probe(w.ID)
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if state != pmr.MirrorPresent {
			t.Errorf("Probe() = %v, want present", state)
		}

		attempts := f.syncs(t, w)
		if len(attempts) != 1 {
			t.Fatalf("len(syncs) = %d, want 1", len(attempts))
		}
		if attempts[0].Status != model.SyncCompleted || attempts[0].EndedAt == nil {
			t.Errorf("attempt = %+v, want closed Completed", attempts[0])
		}
	})

	t.Run("mirror is bare and tracks origin", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.synced(t, src.SourceRepo)

		repo, err := git.PlainOpen(f.mirrors.Path(w.ID))
		if err != nil {
			t.Fatalf("PlainOpen() error = %v", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			t.Fatalf("Config() error = %v", err)
		}
		if !cfg.Core.IsBare {
			t.Error("mirror is not bare")
		}
		remote, ok := cfg.Remotes[pmr.OriginName]
		if !ok {
			t.Fatalf("mirror has no %q remote", pmr.OriginName)
		}
		if len(remote.URLs) != 1 || remote.URLs[0] != src.URL() {
			t.Errorf("origin URLs = %v, want [%s]", remote.URLs, src.URL())
		}
	})

	t.Run("fetches into an existing mirror", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.synced(t, src.SourceRepo)

		third := src.Commit("update readme", map[string]string{"README.md": "hello again\n"})

		if err := f.svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("second Synchronize() error = %v", err)
		}

		resolved, err := f.svc.Resolve(ctx, w, "", "")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got := resolved.Commit().Hash; got != third {
			t.Errorf("HEAD after fetch = %s, want %s", got, third)
		}

		attempts := f.syncs(t, w)
		if len(attempts) != 2 {
			t.Fatalf("len(syncs) = %d, want 2", len(attempts))
		}
		for _, a := range attempts {
			if a.Status != model.SyncCompleted {
				t.Errorf("attempt %d status = %v, want Completed", a.ID, a.Status)
			}
		}
	})

	t.Run("up to date mirror is not an error", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.synced(t, src.SourceRepo)

		if err := f.svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("second Synchronize() error = %v", err)
		}
		if attempts := f.syncs(t, w); attempts[1].Status != model.SyncCompleted {
			t.Errorf("second attempt status = %v, want Completed", attempts[1].Status)
		}
	})

	t.Run("indexes tags after sync", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.synced(t, src.SourceRepo)

		tags, err := f.svc.ListTags(ctx, w)
		if err != nil {
			t.Fatalf("ListTags() error = %v", err)
		}
		if len(tags) != 2 {
			t.Fatalf("len(tags) = %d, want 2: %v", len(tags), tags)
		}
	})

	t.Run("unreachable remote records Error and leaves nothing behind", func(t *testing.T) {
		f := newFixture(t)
		w := f.register(t, filepath.Join(t.TempDir(), "missing"))

		err := f.svc.Synchronize(ctx, w)
		if !errors.Is(err, pmr.ErrTransport) {
			t.Fatalf("Synchronize() error = %v, want ErrTransport", err)
		}
		if !pmr.IsRetryable(err) {
			t.Error("IsRetryable() = false for transport failure")
		}
		if !strings.Contains(err.Error(), "failed to clone") {
			t.Errorf("error = %q, want clone context", err)
		}

		attempts := f.syncs(t, w)
		if len(attempts) != 1 || attempts[0].Status != model.SyncError {
			t.Fatalf("syncs = %v, want one Error attempt", attempts)
		}
		if attempts[0].EndedAt == nil || attempts[0].Message == "" {
			t.Errorf("attempt = %+v, want end time and message", attempts[0])
		}

		state, err := f.mirrors.Probe(w.ID)
		if err != nil || state != pmr.MirrorAbsent {
			t.Errorf("Probe() = %v, %v, want absent", state, err)
		}
	})

	t.Run("file at mirror path is never overwritten", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.register(t, src.URL())

		path := f.mirrors.Path(w.ID)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("not a repository"), 0644); err != nil {
			t.Fatal(err)
		}

		err := f.svc.Synchronize(ctx, w)
		if !errors.Is(err, pmr.ErrInvalidMirror) {
			t.Fatalf("Synchronize() error = %v, want ErrInvalidMirror", err)
		}
		if pmr.IsRetryable(err) {
			t.Error("IsRetryable() = true for invalid mirror")
		}

		attempts := f.syncs(t, w)
		if len(attempts) != 1 || attempts[0].Status != model.SyncError {
			t.Fatalf("syncs = %v, want one Error attempt", attempts)
		}
		if !strings.Contains(attempts[0].Message, "expected bare repository") {
			t.Errorf("Message = %q", attempts[0].Message)
		}

		data, err := os.ReadFile(path)
		if err != nil || string(data) != "not a repository" {
			t.Errorf("mirror path contents = %q, %v; want untouched", data, err)
		}
	})

	t.Run("non-bare repository at mirror path", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.register(t, src.URL())

		if _, err := git.PlainInit(f.mirrors.Path(w.ID), false); err != nil {
			t.Fatalf("PlainInit() error = %v", err)
		}

		err := f.svc.Synchronize(ctx, w)
		if !errors.Is(err, pmr.ErrInvalidMirror) {
			t.Fatalf("Synchronize() error = %v, want ErrInvalidMirror", err)
		}
		if attempts := f.syncs(t, w); attempts[0].Status != model.SyncError {
			t.Errorf("status = %v, want Error", attempts[0].Status)
		}
	})

	t.Run("empty directory at mirror path is cloned into", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.register(t, src.URL())

		if err := os.MkdirAll(f.mirrors.Path(w.ID), 0755); err != nil {
			t.Fatal(err)
		}

		if err := f.svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("Synchronize() error = %v", err)
		}
		if state, _ := f.mirrors.Probe(w.ID); state != pmr.MirrorPresent {
			t.Errorf("Probe() = %v, want present", state)
		}
	})

	t.Run("running attempt blocks a second sync", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.register(t, src.URL())

		if _, err := f.db.BeginSync(ctx, w.ID); err != nil {
			t.Fatalf("BeginSync() error = %v", err)
		}

		err := f.svc.Synchronize(ctx, w)
		if !errors.Is(err, pmr.ErrSyncInProgress) {
			t.Fatalf("Synchronize() error = %v, want ErrSyncInProgress", err)
		}
		if !pmr.IsRetryable(err) {
			t.Error("IsRetryable() = false for sync in progress")
		}
		if len(f.syncs(t, w)) != 1 {
			t.Error("blocked sync recorded an attempt")
		}
		if state, _ := f.mirrors.Probe(w.ID); state != pmr.MirrorAbsent {
			t.Error("blocked sync touched the mirror path")
		}
	})

	t.Run("stale running attempt no longer blocks", func(t *testing.T) {
		f := newFixture(t)
		src := newSampleSource(t)
		w := f.register(t, src.URL())

		if _, err := f.db.BeginSync(ctx, w.ID); err != nil {
			t.Fatalf("BeginSync() error = %v", err)
		}
		f.clock.Set(testutil.SourceEpoch.Add(2 * time.Hour))

		if err := f.svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("Synchronize() error = %v", err)
		}
		attempts := f.syncs(t, w)
		if len(attempts) != 2 || attempts[1].Status != model.SyncCompleted {
			t.Errorf("syncs = %+v, want the second attempt Completed", attempts)
		}
	})

	t.Run("tag indexing failure does not fail the sync", func(t *testing.T) {
		clock := testutil.FixedClock()
		db := testutil.NewTestDatabase(t, clock)
		mirrors := pmr.NewDirectory(filepath.Join(t.TempDir(), "git"))
		tags := &failingTagStore{TagStore: db, fail: func(string) bool { return true }}
		svc := pmr.NewService(db, db, tags, mirrors, nil, clock)

		src := newSampleSource(t)
		id, err := svc.RegisterWorkspace(ctx, src.URL(), "", "")
		if err != nil {
			t.Fatalf("RegisterWorkspace() error = %v", err)
		}
		w, _ := svc.GetWorkspace(ctx, id)

		if err := svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("Synchronize() error = %v", err)
		}
		attempts, _ := svc.ListSyncs(ctx, w)
		if attempts[0].Status != model.SyncCompleted {
			t.Errorf("status = %v, want Completed", attempts[0].Status)
		}
	})
}

// interruptingLedger cancels the caller's context as the attempt is being
// closed, and fails Completed writes when failCompleted is set.
type interruptingLedger struct {
	pmr.SyncLedger
	cancel        context.CancelFunc
	failCompleted bool
}

func (l *interruptingLedger) CompleteSync(ctx context.Context, id int64, status model.SyncStatus, message string) error {
	l.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.failCompleted && status == model.SyncCompleted {
		return errors.New("database is locked")
	}
	return l.SyncLedger.CompleteSync(ctx, id, status, message)
}

func TestService_SynchronizeLedgerClose(t *testing.T) {
	newService := func(t *testing.T, failCompleted bool) (*pmr.Service, pmr.Database, context.Context) {
		t.Helper()
		clock := testutil.FixedClock()
		db := testutil.NewTestDatabase(t, clock)
		mirrors := pmr.NewDirectory(filepath.Join(t.TempDir(), "git"))
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		ledger := &interruptingLedger{SyncLedger: db, cancel: cancel, failCompleted: failCompleted}
		return pmr.NewService(db, ledger, db, mirrors, nil, clock), db, ctx
	}

	t.Run("interrupt after transfer still records Completed", func(t *testing.T) {
		svc, db, ctx := newService(t, false)
		src := newSampleSource(t)
		id, err := svc.RegisterWorkspace(ctx, src.URL(), "", "")
		if err != nil {
			t.Fatalf("RegisterWorkspace() error = %v", err)
		}
		w, _ := svc.GetWorkspace(ctx, id)

		if err := svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("Synchronize() error = %v", err)
		}

		attempts, err := db.ListSyncs(context.Background(), id)
		if err != nil {
			t.Fatalf("ListSyncs() error = %v", err)
		}
		if len(attempts) != 1 || attempts[0].Status != model.SyncCompleted || attempts[0].EndedAt == nil {
			t.Fatalf("syncs = %+v, want one closed Completed attempt", attempts)
		}
	})

	t.Run("failed Completed write closes the attempt as Error", func(t *testing.T) {
		svc, db, ctx := newService(t, true)
		src := newSampleSource(t)
		id, err := svc.RegisterWorkspace(ctx, src.URL(), "", "")
		if err != nil {
			t.Fatalf("RegisterWorkspace() error = %v", err)
		}
		w, _ := svc.GetWorkspace(ctx, id)

		err = svc.Synchronize(ctx, w)
		if err == nil || !strings.Contains(err.Error(), "database is locked") {
			t.Fatalf("Synchronize() error = %v, want ledger failure", err)
		}

		attempts, err := db.ListSyncs(context.Background(), id)
		if err != nil {
			t.Fatalf("ListSyncs() error = %v", err)
		}
		if len(attempts) != 1 || attempts[0].Status != model.SyncError || attempts[0].EndedAt == nil {
			t.Fatalf("syncs = %+v, want one closed Error attempt", attempts)
		}

		if _, err := db.BeginSync(context.Background(), id); err != nil {
			t.Errorf("BeginSync() after failed close error = %v, want no attempt left Running", err)
		}
	})
}

func TestService_SynchronizeEmptyRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := testutil.NewSourceRepo(t)
	w := f.register(t, src.URL())

	if err := f.svc.Synchronize(ctx, w); err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}

	attempts := f.syncs(t, w)
	if len(attempts) != 1 || attempts[0].Status != model.SyncCompleted {
		t.Fatalf("syncs = %+v, want one Completed attempt", attempts)
	}
	if state, err := f.mirrors.Probe(w.ID); err != nil || state != pmr.MirrorPresent {
		t.Fatalf("Probe() = %v, %v, want present", state, err)
	}
	tags, err := f.svc.ListTags(ctx, w)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}

	repo, err := git.PlainOpen(f.mirrors.Path(w.ID))
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	origin, ok := cfg.Remotes[pmr.OriginName]
	if !ok || !cfg.Core.IsBare {
		t.Fatalf("mirror bare=%v remotes=%v, want bare with origin", cfg.Core.IsBare, cfg.Remotes)
	}
	if len(origin.Fetch) != 1 || origin.Fetch[0] != config.RefSpec("+refs/*:refs/*") {
		t.Errorf("origin fetch = %v, want [+refs/*:refs/*]", origin.Fetch)
	}

	t.Run("later commits arrive on the next sync", func(t *testing.T) {
		first := src.Commit("first", map[string]string{"a.txt": "a\n"})
		src.Tag("v0.1", first)

		if err := f.svc.Synchronize(ctx, w); err != nil {
			t.Fatalf("Synchronize() error = %v", err)
		}
		resolved, err := f.svc.Resolve(ctx, w, "refs/heads/master", "a.txt")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got := resolved.Commit().Hash; got != first {
			t.Errorf("Commit() = %s, want %s", got, first)
		}
		if tags, _ := f.svc.ListTags(ctx, w); len(tags) != 1 {
			t.Errorf("tags = %v, want v0.1", tags)
		}
	})
}

func TestService_RegisterWorkspace(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty url", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.svc.RegisterWorkspace(ctx, "   ", "", ""); err == nil {
			t.Error("RegisterWorkspace() expected error for empty url")
		}
	})

	t.Run("update unknown workspace", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.UpdateWorkspace(ctx, 5, "d", "")
		if !errors.Is(err, pmr.ErrWorkspaceNotFound) {
			t.Errorf("UpdateWorkspace() error = %v, want ErrWorkspaceNotFound", err)
		}
	})

	t.Run("update then list", func(t *testing.T) {
		f := newFixture(t)
		w := f.register(t, "https://example.com/r.git")

		if err := f.svc.UpdateWorkspace(ctx, w.ID, "renamed", "longer"); err != nil {
			t.Fatalf("UpdateWorkspace() error = %v", err)
		}
		list, err := f.svc.ListWorkspaces(ctx)
		if err != nil {
			t.Fatalf("ListWorkspaces() error = %v", err)
		}
		if len(list) != 1 || list[0].Description != "renamed" || list[0].LongDescription != "longer" {
			t.Errorf("ListWorkspaces() = %+v", list)
		}
	})
}
