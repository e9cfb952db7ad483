package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"pmr-go/internal/config"
	"pmr-go/internal/database"
	"pmr-go/internal/encryption"
	"pmr-go/internal/model"
	"pmr-go/internal/pmr"
	"pmr-go/internal/vault"
)

// PMRApp is the application layer between the CLI and pmr.Service.
// It constructs all dependencies from config, records catalog-mutating
// commands in the operation log, and uploads a catalog snapshot on Close.
type PMRApp struct {
	cfg       *config.Config
	db        pmr.Database
	vault     pmr.Vault
	encryptor pmr.Encryptor
	service   *pmr.Service
	logger    *slog.Logger
	logFile   io.Closer
	op        *Operation
}

// deps are the collaborators NewPMRApp builds from config.
type deps struct {
	db        pmr.Database
	vault     pmr.Vault
	encryptor pmr.Encryptor
	ids       pmr.IDGenerator
	console   io.Writer
}

// NewPMRApp creates a fully wired PMRApp from the given config.
// operation names the CLI command being run (e.g. "register", "sync").
// The caller must call Close when done.
func NewPMRApp(ctx context.Context, cfg *config.Config, operation string) (*PMRApp, error) {
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	staleAfter, err := cfg.Sync.StaleAfterDuration(database.DefaultStaleAfter)
	if err != nil {
		return nil, err
	}
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID, staleAfter)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	return newPMRApp(ctx, cfg, operation, deps{
		db:        db,
		vault:     v,
		encryptor: enc,
		ids:       pmr.UUIDGenerator{},
		console:   os.Stderr,
	})
}

// newPMRApp takes ownership of d.db and closes it on failure.
func newPMRApp(ctx context.Context, cfg *config.Config, operation string, d deps) (_ *PMRApp, err error) {
	defer func() {
		if err != nil {
			d.db.Close()
		}
	}()

	if err := d.db.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// A newer snapshot in the vault means another run mutated the catalog
	// after this copy was taken; uploading over it would lose that work.
	remoteVersion, err := d.vault.GetMetadataVersion(ctx, cfg.InstanceID, pmr.SnapshotName)
	if err != nil {
		return nil, fmt.Errorf("checking remote catalog version: %w", err)
	}
	localMax, err := d.db.MaxOperationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking local catalog version: %w", err)
	}
	if remoteVersion > localMax {
		return nil, fmt.Errorf("local catalog is behind the vault (local=%d, remote=%d): run `pmr catalog restore` or re-initialize", localMax, remoteVersion)
	}

	logger, logFile, err := newLogger(cfg.LogDir, d.ids.New(), cfg.LogLevel, d.console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := pmr.NewService(d.db, d.db, d.db, pmr.NewDirectory(cfg.GitRoot), &slogAdapter{l: logger}, pmr.RealClock{})
	if n := cfg.Sync.TagConcurrency; n != 0 {
		svc.SetTagConcurrency(n)
	}

	return &PMRApp{
		cfg:       cfg,
		db:        d.db,
		vault:     d.vault,
		encryptor: d.encryptor,
		service:   svc,
		logger:    logger,
		logFile:   logFile,
		op:        NewOperation(operation, ""),
	}, nil
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. Only catalog-mutating commands call it.
func (a *PMRApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// workspace loads a workspace by id.
func (a *PMRApp) workspace(ctx context.Context, id int64) (*model.Workspace, error) {
	return a.service.GetWorkspace(ctx, id)
}

// Register adds a remote repository to the catalog and returns its id.
func (a *PMRApp) Register(ctx context.Context, url, description, longDescription string) (int64, error) {
	if err := a.persistOperation(ctx, url); err != nil {
		return 0, err
	}
	id, err := a.service.RegisterWorkspace(ctx, url, description, longDescription)
	return id, a.op.Record(err)
}

// Update replaces the description fields of a workspace.
func (a *PMRApp) Update(ctx context.Context, id int64, description, longDescription string) error {
	if err := a.persistOperation(ctx, strconv.FormatInt(id, 10)); err != nil {
		return err
	}
	return a.op.Record(a.service.UpdateWorkspace(ctx, id, description, longDescription))
}

// List returns every registered workspace.
func (a *PMRApp) List(ctx context.Context) ([]*model.Workspace, error) {
	return a.service.ListWorkspaces(ctx)
}

// Sync brings the mirror of a workspace up to date and re-indexes its tags.
// A failed sync still mutates the catalog, so the operation is always kept.
func (a *PMRApp) Sync(ctx context.Context, id int64) error {
	w, err := a.workspace(ctx, id)
	if err != nil {
		return err
	}
	if err := a.persistOperation(ctx, strconv.FormatInt(id, 10)); err != nil {
		return err
	}
	return a.op.Record(a.service.Synchronize(ctx, w))
}

// IndexTags re-indexes the tags of an already synchronized workspace.
func (a *PMRApp) IndexTags(ctx context.Context, id int64) error {
	w, err := a.workspace(ctx, id)
	if err != nil {
		return err
	}
	if err := a.persistOperation(ctx, strconv.FormatInt(id, 10)); err != nil {
		return err
	}
	return a.op.Record(a.service.IndexTags(ctx, w))
}

// Tags returns the indexed tags of a workspace.
func (a *PMRApp) Tags(ctx context.Context, id int64) ([]*model.Tag, error) {
	w, err := a.workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.service.ListTags(ctx, w)
}

// Syncs returns the sync attempts of a workspace, oldest first.
func (a *PMRApp) Syncs(ctx context.Context, id int64) ([]*model.SyncAttempt, error) {
	w, err := a.workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.service.ListSyncs(ctx, w)
}

// Resolve finds the object at path in the given revision of a workspace.
func (a *PMRApp) Resolve(ctx context.Context, id int64, commitRef, path string) (*pmr.ResolvedObject, error) {
	w, err := a.workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.service.Resolve(ctx, w, commitRef, path)
}

// Lookup resolves a "rev[:path]" spec to an object kind and id.
func (a *PMRApp) Lookup(ctx context.Context, id int64, spec string) (*pmr.ObjectSummary, error) {
	w, err := a.workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.service.Lookup(ctx, w, spec)
}

// History returns the most recent catalog operations, newest first.
func (a *PMRApp) History(ctx context.Context, limit int) ([]*model.Operation, error) {
	ops, err := a.db.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Close finalizes the operation and closes all resources.
// For persisted operations it finishes the operation record, snapshots the
// catalog, encrypts it and uploads it with version = operation id.
func (a *PMRApp) Close() error {
	ctx := context.Background()
	var errs []error

	if !a.op.Persisted() {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		return a.closeLog(errs)
	}

	if err := a.db.FinishOperation(ctx, a.op.ID, a.op.Status); err != nil {
		errs = append(errs, fmt.Errorf("finishing operation: %w", err))
	}

	snapshot, err := a.snapshot()
	if err != nil {
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if snapshot != "" {
		defer os.Remove(snapshot)
		if err := a.uploadSnapshot(ctx, snapshot, a.op.ID); err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Info("catalog snapshot uploaded", "version", a.op.ID)
		}
	}
	return a.closeLog(errs)
}

func (a *PMRApp) closeLog(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("closing", "error", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// snapshot copies the catalog to a temp file and returns its path.
func (a *PMRApp) snapshot() (string, error) {
	tmp, err := os.CreateTemp("", "pmr-catalog-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for catalog snapshot: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	// VACUUM INTO refuses to overwrite a non-empty file, CreateTemp leaves an empty one.
	if err := a.db.BackupTo(path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("snapshotting catalog: %w", err)
	}
	return path, nil
}

// uploadSnapshot encrypts the file at path and stores it in the vault.
func (a *PMRApp) uploadSnapshot(ctx context.Context, path string, version int64) error {
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys missing: run `pmr config keygen`")
	}

	plain, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening catalog snapshot: %w", err)
	}
	defer plain.Close()

	sealed, err := os.CreateTemp("", "pmr-catalog-*.enc")
	if err != nil {
		return fmt.Errorf("creating temp file for encrypted snapshot: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	if err := a.encryptor.Encrypt(plain, sealed); err != nil {
		return fmt.Errorf("encrypting catalog snapshot: %w", err)
	}
	size, err := sealed.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing encrypted snapshot: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding encrypted snapshot: %w", err)
	}

	if err := a.vault.PutMetadata(ctx, a.cfg.InstanceID, pmr.SnapshotName, sealed, size, version); err != nil {
		return fmt.Errorf("uploading catalog snapshot: %w", err)
	}
	return nil
}

// RestoreCatalog downloads the latest catalog snapshot from the first vault,
// decrypts it and writes it to dest. dest must not exist. It returns the
// snapshot version.
func RestoreCatalog(ctx context.Context, cfg *config.Config, dest, passphrase string) (int64, error) {
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	return restoreCatalog(ctx, v, enc, cfg.InstanceID, dest, passphrase)
}

func restoreCatalog(ctx context.Context, v pmr.Vault, enc pmr.Encryptor, instanceID, dest, passphrase string) (int64, error) {
	if _, err := os.Stat(dest); err == nil {
		return 0, fmt.Errorf("restore destination %s already exists", dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("checking restore destination: %w", err)
	}

	version, err := v.GetMetadataVersion(ctx, instanceID, pmr.SnapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking remote catalog version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("no catalog snapshot in vault for instance %s", instanceID)
	}

	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking encryption key: %w", err)
	}

	sealed, err := os.CreateTemp("", "pmr-restore-*.enc")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for download: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	if err := v.GetMetadata(ctx, instanceID, pmr.SnapshotName, sealed); err != nil {
		return 0, fmt.Errorf("downloading catalog snapshot: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding downloaded snapshot: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return 0, fmt.Errorf("creating restore destination: %w", err)
	}
	if err := dc.Decrypt(sealed, out); err != nil {
		out.Close()
		os.Remove(dest)
		return 0, fmt.Errorf("decrypting catalog snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing restore destination: %w", err)
	}
	return version, nil
}
