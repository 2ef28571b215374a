package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment overrides for Paths.
const (
	EnvConfigPath = "WPSYNC_CONFIG_PATH"
	EnvHome       = "WPSYNC_HOME"
)

// Paths are where wpsync keeps its config file and data when nothing in the
// config says otherwise.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// DefaultPaths resolves Paths from the environment. The config file is
// $WPSYNC_CONFIG_PATH, else $XDG_CONFIG_HOME/wpsync.toml, else
// ~/.config/wpsync.toml. Data lives in $WPSYNC_HOME, else
// $XDG_DATA_HOME/wpsync, else ~/.local/share/wpsync.
func DefaultPaths() (Paths, error) {
	configPath, err := resolve(EnvConfigPath, "XDG_CONFIG_HOME", "wpsync.toml", ".config")
	if err != nil {
		return Paths{}, fmt.Errorf("resolving config path: %w", err)
	}
	baseDir, err := resolve(EnvHome, "XDG_DATA_HOME", "wpsync", ".local", "share")
	if err != nil {
		return Paths{}, fmt.Errorf("resolving data dir: %w", err)
	}
	return Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolve returns $override verbatim, or name under $xdg, or name under
// the home-relative fallback dirs.
func resolve(override, xdg, name string, fallback ...string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), name)...), nil
}
