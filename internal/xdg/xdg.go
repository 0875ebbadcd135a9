// Package xdg resolves on-disk locations for the yggdrasil token cache.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "yggdrasil"

// CacheDir returns the default token cache directory.
//
// The launcher convention is followed where one exists: the Minecraft data
// directory on Windows and macOS. Elsewhere XDG_STATE_HOME is honored,
// falling back to ~/.minecraft (the legacy launcher layout).
func CacheDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ".minecraft", appName)
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "minecraft", appName)
		}
	}
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appName
	}
	return filepath.Join(home, ".minecraft", appName)
}

// ConfigDir returns the XDG config directory for yggdrasil.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
