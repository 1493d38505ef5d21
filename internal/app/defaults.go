package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths zd uses when the config does not name them.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the default paths. ZD_CONFIG_PATH overrides the
// config file (~/.config/zd.toml) and ZD_HOME the data directory
// (~/.local/share/zd).
func GetDefaults() (Defaults, error) {
	return defaultsFrom(os.Getenv, os.UserHomeDir)
}

func defaultsFrom(getenv func(string) string, home func() (string, error)) (Defaults, error) {
	configPath := getenv("ZD_CONFIG_PATH")
	baseDir := getenv("ZD_HOME")

	if configPath == "" || baseDir == "" {
		homeDir, err := home()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "zd.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "zd")
		}
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}
