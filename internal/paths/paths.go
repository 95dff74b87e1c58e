// Package paths resolves where erpdb keeps its configuration and its data
// files.
//
// The configuration directory holds config.yaml. The data directory holds
// the parts database, the category taxonomy, the view settings and the
// prompt library; relative file names in config.yaml are taken relative to
// it.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "erpdb"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "ERPDB_CONFIG_DIR"
	EnvDataDir   = "ERPDB_DATA_DIR"
)

// Default file names inside the data directory.
const (
	DefaultDatabase = "parts.json"
	DefaultTaxonomy = "categories.json"
	DefaultSettings = "settings.json"
	DefaultPrompts  = "prompts.json"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the platform-specific configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/erpdb (fallback ~/.config/erpdb)
// macOS:   ~/Library/Application Support/erpdb
// Windows: %APPDATA%/erpdb
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveConfigDir applies the precedence flag > ERPDB_CONFIG_DIR >
// DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies the precedence flag > config.yaml data_dir >
// ERPDB_DATA_DIR > the working directory.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, v := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	return platformDir.getwd()
}

// DataFile resolves a configured file name against dataDir. An empty name
// selects fallback; an absolute name is returned unchanged.
func DataFile(dataDir, name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dataDir, name)
}
