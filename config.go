// Package servicemanager installs and manages user-level background
// services as native services on Linux (systemd user units), macOS
// (launchd agents) and Windows (scheduled tasks), without administrative
// privileges. All durable state lives in the operating system's own
// service registry; the library re-probes it on every status read.
package servicemanager

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
)

// serviceNameRE matches names that are safe as a filename, a systemd unit
// name, a launchd label fragment and a Windows task name.
var serviceNameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ServiceConfig describes one manageable service. Build it with NewConfig;
// a hand-assembled value is validated again by New.
type ServiceConfig struct {
	// Name identifies the service in every platform registry.
	Name string

	// AppDir is the absolute working directory of the service process and
	// the root for any logs the platform produces. The directory is owned
	// by the caller; Uninstall never removes it.
	AppDir string

	// ProgramArguments is the launch command. Element 0 must be an
	// absolute path to the executable.
	ProgramArguments []string

	// Version is informational metadata embedded in the rendered artifact.
	// It drives no upgrade logic.
	Version Version
}

// NewConfig validates and returns an immutable service configuration.
func NewConfig(name, appDir string, programArguments []string, version Version) (ServiceConfig, error) {
	cfg := ServiceConfig{
		Name:             name,
		AppDir:           appDir,
		ProgramArguments: append([]string(nil), programArguments...),
		Version:          version,
	}
	if err := cfg.Validate(); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c ServiceConfig) Validate() error {
	if !serviceNameRE.MatchString(c.Name) {
		return fmt.Errorf("invalid service name %q: letters, digits, '-', '_' and '.' only, at most 64 characters", c.Name)
	}
	if !filepath.IsAbs(c.AppDir) {
		return fmt.Errorf("app dir %q is not an absolute path", c.AppDir)
	}
	return validateProgramArguments(c.ProgramArguments)
}

func validateProgramArguments(args []string) error {
	if len(args) == 0 {
		return errors.New("program arguments must not be empty")
	}
	if !filepath.IsAbs(args[0]) {
		return fmt.Errorf("executable %q is not an absolute path", args[0])
	}
	return nil
}
