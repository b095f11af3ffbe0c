// Package config loads client configuration from an optional TOML file,
// layered over defaults and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration
type Config struct {
	ServerURL      string `toml:"server_url"`
	PageSize       int    `toml:"page_size"`       // threads per directory page
	HistoryLimit   int    `toml:"history_limit"`   // messages loaded when opening a thread
	TimeoutSeconds int    `toml:"timeout_seconds"` // per-request HTTP timeout
	Debug          bool   `toml:"debug"`
	StatePath      string `toml:"state_path"` // SQLite local state database
	LogDir         string `toml:"log_dir"`
}

// Default returns the built-in configuration, with state under the user's
// home directory when resolvable.
func Default() Config {
	cfg := Config{
		ServerURL:      "http://localhost:3000",
		PageSize:       20,
		HistoryLimit:   100,
		TimeoutSeconds: 300,
		StatePath:      "arcadechat.db",
		LogDir:         "logs",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.StatePath = filepath.Join(home, ".arcadechat", "state.db")
		cfg.LogDir = filepath.Join(home, ".arcadechat", "logs")
	}
	return cfg
}

// Load reads the TOML file at path over the defaults. An empty path falls
// back to the default location; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".arcadechat", "config.toml")
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}
