package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"pmr-go/internal/pmr"
)

// MemoryVault keeps snapshots in memory. Safe for concurrent use; used in tests.
type MemoryVault struct {
	name    string
	mu      sync.RWMutex
	items   map[string][]byte // "instanceID/name" -> data
	version map[string]int64
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		items:   make(map[string][]byte),
		version: make(map[string]int64),
	}
}

func itemKey(instanceID, name string) string {
	return instanceID + "/" + name
}

func (m *MemoryVault) PutMetadata(ctx context.Context, instanceID, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(instanceID, name)
	m.items[key] = data
	m.version[key] = version
	return nil
}

func (m *MemoryVault) GetMetadata(ctx context.Context, instanceID, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.items[itemKey(instanceID, name)]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("metadata %q not found for instance: %s", name, instanceID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (m *MemoryVault) GetMetadataVersion(ctx context.Context, instanceID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version[itemKey(instanceID, name)], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ pmr.Vault = (*MemoryVault)(nil)
