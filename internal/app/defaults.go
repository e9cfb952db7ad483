package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PMR_CONFIG_PATH: config file location (default: ~/.config/pmr.toml)
//   - PMR_HOME: base directory for pmr data (default: ~/.local/share/pmr)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("PMR_CONFIG_PATH", ".config", "pmr.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome("PMR_HOME", ".local", "share", "pmr")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"git_root":    filepath.Join(baseDir, "git"),
	}, nil
}

// envOrHome returns $env when set, otherwise the path under the home directory.
func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
