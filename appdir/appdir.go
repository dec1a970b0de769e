// Package appdir computes the per-user qharbor data root where managed
// services keep their working directories by default.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const productDir = "qharbor"

// Dir returns the platform data root:
// macOS ~/Library/Application Support/qharbor, Linux
// $XDG_DATA_HOME/qharbor (falling back to ~/.local/share/qharbor),
// Windows %LOCALAPPDATA%\qharbor.
func Dir() (string, error) {
	return dirFor(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

// Ensure returns Dir, creating the directory if needed.
func Ensure() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// ServiceDir returns the default app dir for one named service.
func ServiceDir(serviceName string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, serviceName), nil
}

func dirFor(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	switch goos {
	case "darwin":
		h, err := home()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(h, "Library", "Application Support", productDir), nil
	case "windows":
		localAppData := getenv("LOCALAPPDATA")
		if localAppData == "" {
			return "", fmt.Errorf("LOCALAPPDATA is not set")
		}
		return filepath.Join(localAppData, productDir), nil
	case "linux":
		if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, productDir), nil
		}
		h, err := home()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(h, ".local", "share", productDir), nil
	default:
		return "", fmt.Errorf("unsupported platform: %s", goos)
	}
}
