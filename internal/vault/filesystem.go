package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pmr-go/internal/pmr"
)

// FileSystemVault stores snapshots in a directory, typically a mounted
// backup drive:
//
//	<root>/
//	  metadata/
//	    <instanceID>/
//	      <name>           (snapshot bytes)
//	      <name>.version   (decimal version)
type FileSystemVault struct {
	name        string
	root        string
	metadataDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	metadataDir := filepath.Join(root, "metadata")
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, metadataDir: metadataDir}, nil
}

func (v *FileSystemVault) itemPath(instanceID, name string) (string, error) {
	for _, part := range []string{instanceID, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid vault item name %q", part)
		}
	}
	return filepath.Join(v.metadataDir, instanceID, name), nil
}

// PutMetadata writes the item and then its version file, each atomically.
// A reader never sees a version newer than the data beside it.
func (v *FileSystemVault) PutMetadata(ctx context.Context, instanceID, name string, r io.Reader, size int64, version int64) error {
	path, err := v.itemPath(instanceID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	if err := writeFile(path, r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return writeFile(path+".version", strings.NewReader(versionData), int64(len(versionData)))
}

func (v *FileSystemVault) GetMetadata(ctx context.Context, instanceID, name string, w io.Writer) error {
	path, err := v.itemPath(instanceID, name)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("metadata %q not found for instance: %s", name, instanceID)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// GetMetadataVersion returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(ctx context.Context, instanceID, name string) (int64, error) {
	path, err := v.itemPath(instanceID, name)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path + ".version")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile copies r to destPath through a temp file in the same directory.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ pmr.Vault = (*FileSystemVault)(nil)
