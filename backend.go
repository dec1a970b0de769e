package servicemanager

import (
	"context"
	"fmt"
)

// Backend translates lifecycle verbs into one platform's native service
// facility. Verbs are raw: pre-condition checks and post-condition
// confirmation live in Manager so all platforms expose identical
// semantics and error behavior.
type Backend interface {
	// Status derives the current triple by querying the native registry.
	// A missing artifact or registration reads as the zero Status, never
	// as an error.
	Status(ctx context.Context) (Status, error)

	// Install renders the native artifact for args and version, persists
	// it to the platform location and registers it with the OS facility.
	// It neither enables nor starts the service.
	Install(ctx context.Context, args []string, version Version) error

	// Uninstall removes the registration and deletes the artifact. Absent
	// pieces are skipped, not errors.
	Uninstall(ctx context.Context) error

	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// InstalledVersion reads the version metadata embedded in the live
	// artifact. ok is false when the service is not installed or the
	// artifact carries no version.
	InstalledVersion(ctx context.Context) (v Version, ok bool, err error)

	// ArtifactPath reports where the native artifact lives, best effort.
	ArtifactPath() string
}

func backendFor(goos string, cfg ServiceConfig, run CommandRunner) (Backend, error) {
	switch goos {
	case "linux":
		return newSystemdBackend(cfg, run), nil
	case "darwin":
		return newLaunchdBackend(cfg, run), nil
	case "windows":
		return newSchtasksBackend(cfg, run), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}
