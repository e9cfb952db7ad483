package vault

import (
	"context"
	"fmt"
	"testing"

	"pmr-go/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.VaultConfig
		want    string
		wantErr bool
	}{
		{
			name: "memory vault",
			cfg:  config.VaultConfig{Type: "memory", Name: "test-memory"},
			want: "*vault.MemoryVault",
		},
		{
			name: "filesystem vault",
			cfg:  config.VaultConfig{Type: "filesystem", Name: "test-fs", FSVaultRoot: t.TempDir()},
			want: "*vault.FileSystemVault",
		},
		{
			name:    "filesystem vault without root",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "test-fs"},
			wantErr: true,
		},
		{
			name: "s3 vault",
			cfg: config.VaultConfig{
				Type:              "s3",
				Name:              "test-s3",
				S3Bucket:          "my-bucket",
				S3Region:          "us-east-1",
				S3Endpoint:        "http://127.0.0.1:1",
				S3AccessKeyID:     "key",
				S3SecretAccessKey: "secret",
			},
			want: "*vault.S3Vault",
		},
		{
			name:    "s3 vault without bucket",
			cfg:     config.VaultConfig{Type: "s3", Name: "test-s3"},
			wantErr: true,
		},
		{
			name:    "unknown vault type",
			cfg:     config.VaultConfig{Type: "unknown", Name: "test-unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewVaultFromConfig(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewVaultFromConfig() = %T, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVaultFromConfig() error = %v", err)
			}
			if typ := fmt.Sprintf("%T", got); typ != tt.want {
				t.Errorf("type = %s, want %s", typ, tt.want)
			}
		})
	}
}
