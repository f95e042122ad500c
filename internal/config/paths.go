package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ServiceName names the per-user config and data directories.
const ServiceName = "spare"

// ConfigDir is ~/.config/spare unless SPARE_CONFIG_DIR is set.
func ConfigDir() string {
	return dirFromEnv("SPARE_CONFIG_DIR", ".config")
}

// DataDir is ~/.local/share/spare unless SPARE_DATA_DIR is set.
func DataDir() string {
	return dirFromEnv("SPARE_DATA_DIR", filepath.Join(".local", "share"))
}

func FilePath() string  { return filepath.Join(ConfigDir(), "config.toml") }
func LogPath() string   { return filepath.Join(DataDir(), ServiceName+".log") }
func TokenPath() string { return filepath.Join(DataDir(), "token.json") }

// Initialize creates the config and data directories and an empty config file.
func Initialize() error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.MkdirAll(DataDir(), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(FilePath(), os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touch config file: %w", err)
	}
	return f.Close()
}

func dirFromEnv(key, homeRel string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, homeRel, ServiceName)
}
