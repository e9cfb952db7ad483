package testutil

import (
	"pmr-go/internal/encryption"
	"pmr-go/internal/pmr"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() pmr.Encryptor {
	return encryption.NewTestEncryptor()
}
