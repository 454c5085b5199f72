// Package defaults resolves the canvas data directory and seeds it with the
// embedded default configuration.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/Canvas/
//	Windows: %AppData%\Canvas\
//	Linux:   ~/.config/canvas/
//
// Override with the CANVAS_DATA_DIR environment variable.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dotcanvas/*
var defaultFiles embed.FS

// File names inside the data directory.
const (
	ConfigFile = "config.yaml"
	SocketFile = "daemon.sock"
	LockFile   = "daemon.lock"
	LogFile    = "daemon.log"
)

// DataDir returns the platform-appropriate data directory.
func DataDir() (string, error) {
	if dir := os.Getenv("CANVAS_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "canvas"), nil
	}
	return filepath.Join(configDir, "Canvas"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist
// and copies default files if they're missing.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := copyDefaults(dir, false); err != nil {
		return "", err
	}
	return dir, nil
}

// Reset replaces the config files in dir with the embedded defaults.
func Reset(dir string) error {
	return copyDefaults(dir, true)
}

func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, "dotcanvas", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "dotcanvas" {
			return nil
		}

		// embed.FS always uses forward slashes.
		relPath := strings.TrimPrefix(path, "dotcanvas/")
		destPath := filepath.Join(dir, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0o700)
		}
		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// GetDefault returns the content of a default file by name.
func GetDefault(name string) ([]byte, error) {
	return defaultFiles.ReadFile("dotcanvas/" + name)
}

// ListDefaults returns the names of all default files.
func ListDefaults() ([]string, error) {
	var files []string
	err := fs.WalkDir(defaultFiles, "dotcanvas", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, strings.TrimPrefix(path, "dotcanvas/"))
		}
		return nil
	})
	return files, err
}

// SocketPath is where the daemon listens inside dir.
func SocketPath(dir string) string { return filepath.Join(dir, SocketFile) }

// LockPath is the single-instance lock file inside dir.
func LockPath(dir string) string { return filepath.Join(dir, LockFile) }

// LogPath is the daemon log file inside dir.
func LogPath(dir string) string { return filepath.Join(dir, LogFile) }
