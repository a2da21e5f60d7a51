package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv names the environment variable that overrides the home directory.
const HomeEnv = "TASKPILOT_HOME"

// GetHome returns the taskpilot home directory, creating it when missing.
// Priority order:
//  1. TASKPILOT_HOME environment variable (if set)
//  2. .taskpilot under the current working directory
func GetHome() (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".taskpilot")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create taskpilot home directory: %w", err)
	}
	return home, nil
}

// ConfigPath returns $TASKPILOT_HOME/config.yaml.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.yaml")
}

// LoadFromHome loads the config file of home and resolves relative paths
// against it.
func LoadFromHome(home string) (*Config, error) {
	cfg, err := LoadConfig(ConfigPath(home))
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(home)
	return cfg, nil
}

// ResolvePaths makes the store and data directory paths absolute under
// base. Absolute paths and the in-memory database are left alone.
func (c *Config) ResolvePaths(base string) {
	c.Store.DBPath = resolve(base, c.Store.DBPath)
	c.Fallback.DataDir = resolve(base, c.Fallback.DataDir)
	c.Validation.RulesFile = resolve(base, c.Validation.RulesFile)
	c.Validation.PatternsFile = resolve(base, c.Validation.PatternsFile)
}

func resolve(base, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
