package encryption

import (
	"fmt"
	"io"

	"pmr-go/internal/pmr"
)

// NoneEncryptor uploads snapshots as plaintext. Useful when the vault is
// already private, e.g. a local directory.
type NoneEncryptor struct{}

var _ pmr.Encryptor = NoneEncryptor{}

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (NoneEncryptor) Unlock(string) (pmr.DecryptionContext, error) { return plaintext{}, nil }

func (NoneEncryptor) IsConfigured() bool    { return true }
func (NoneEncryptor) NeedsPassphrase() bool { return false }

type plaintext struct{}

func (plaintext) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
