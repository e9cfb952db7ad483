package pmr

import (
	"context"
	"io"
)

// SnapshotName is the vault item holding the encrypted catalog database.
const SnapshotName = "catalog"

// Vault stores versioned catalog snapshots off the host. Items are keyed by
// instance id and name; each put replaces the previous item and its version.
type Vault interface {
	// PutMetadata stores an item. size is the number of bytes that will be
	// read from r.
	PutMetadata(ctx context.Context, instanceID, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a stored item to w.
	GetMetadata(ctx context.Context, instanceID, name string, w io.Writer) error

	// GetMetadataVersion returns the version stored with an item, or 0 if
	// the item does not exist.
	GetMetadataVersion(ctx context.Context, instanceID, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// Encryptor protects snapshots before they leave the host.
// Encryption needs no secret; decryption needs Unlock.
type Encryptor interface {
	// Setup performs one-time key generation protected by passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext, failing on a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether Setup has been done.
	IsConfigured() bool

	// NeedsPassphrase reports whether Unlock uses its passphrase.
	NeedsPassphrase() bool
}

// DecryptionContext holds unlocked key material for one session.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
