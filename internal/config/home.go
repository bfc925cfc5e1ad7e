package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// homeDirName is the per-project state directory holding config, history
// and logs
const homeDirName = ".testpilot"

// Home returns the testpilot state directory for a project root
// Priority order:
//  1. TESTPILOT_HOME environment variable (if set)
//  2. <root>/.testpilot
//
// The directory is created if it doesn't exist
func Home(root string) (string, error) {
	// Try env var first
	if home := os.Getenv("TESTPILOT_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create testpilot home directory: %w", err)
		}
		return home, nil
	}

	home := filepath.Join(root, homeDirName)
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create testpilot home directory: %w", err)
	}
	return home, nil
}

// FindProjectRoot walks up from dir looking for an existing .testpilot
// directory and returns the directory containing it. Running against a
// subtree still picks up the project-level configuration that way. If no
// marker is found the starting directory itself is the root.
func FindProjectRoot(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}

	current := abs
	for {
		marker := filepath.Join(current, homeDirName)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return current
		}

		// Move up one directory
		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root
			break
		}
		current = parent
	}

	return abs
}

// HistoryDBPath resolves the configured history database location for a
// project root. Relative paths land under the testpilot home.
func (c *Config) HistoryDBPath(root string) (string, error) {
	if filepath.IsAbs(c.History.DBPath) {
		return c.History.DBPath, nil
	}

	home, err := Home(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, c.History.DBPath), nil
}

// ResolvedLogDir resolves the configured log directory for a project root
// and creates it. Relative paths land under the testpilot home.
func (c *Config) ResolvedLogDir(root string) (string, error) {
	dir := c.LogDir
	if !filepath.IsAbs(dir) {
		home, err := Home(root)
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	return dir, nil
}

// ResolvedOutputDir anchors the run output directory at the project root.
// Run artifacts sit next to the tree they describe, not inside the home.
func (c *Config) ResolvedOutputDir(root string) string {
	if filepath.IsAbs(c.OutputDirectory) {
		return c.OutputDirectory
	}
	return filepath.Join(root, c.OutputDirectory)
}

// ResolvedManifestPath anchors a relative manifest path at the project
// root. An empty configured path stays empty, meaning no manifest.
func (c *Config) ResolvedManifestPath(root string) string {
	if c.ManifestPath == "" || filepath.IsAbs(c.ManifestPath) {
		return c.ManifestPath
	}
	return filepath.Join(root, c.ManifestPath)
}
