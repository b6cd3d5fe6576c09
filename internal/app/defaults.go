package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "SGCARS_CONFIG_PATH"
	EnvHome       = "SGCARS_HOME"
)

// Paths are the locations sgcars uses when the config does not say otherwise.
type Paths struct {
	// ConfigPath is the TOML config file.
	ConfigPath string
	// BaseDir holds the database, change cache, scratch space and keys.
	BaseDir string
	LogDir  string
}

// DefaultPaths resolves Paths from the environment:
//   - config file: $SGCARS_CONFIG_PATH, else $XDG_CONFIG_HOME/sgcars.toml,
//     else ~/.config/sgcars.toml
//   - data: $SGCARS_HOME, else $XDG_DATA_HOME/sgcars, else ~/.local/share/sgcars
func DefaultPaths() (*Paths, error) {
	return resolvePaths(os.Getenv, os.UserHomeDir)
}

func resolvePaths(getenv func(string) string, home func() (string, error)) (*Paths, error) {
	configPath, err := configPath(getenv, home)
	if err != nil {
		return nil, err
	}
	baseDir, err := baseDir(getenv, home)
	if err != nil {
		return nil, err
	}
	return &Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// configPath prefers SGCARS_CONFIG_PATH, then the XDG config directory.
func configPath(getenv func(string) string, home func() (string, error)) (string, error) {
	if p := getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	if dir := getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sgcars.toml"), nil
	}
	h, err := home()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(h, ".config", "sgcars.toml"), nil
}

// baseDir prefers SGCARS_HOME, then the XDG data directory.
func baseDir(getenv func(string) string, home func() (string, error)) (string, error) {
	if p := getenv(EnvHome); p != "" {
		return p, nil
	}
	if dir := getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "sgcars"), nil
	}
	h, err := home()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(h, ".local", "share", "sgcars"), nil
}
