package servicemanager

import (
	"errors"
	"fmt"
	"strings"
)

// Operation names a lifecycle operation in errors and journal entries.
type Operation string

const (
	OpInstall   Operation = "install"
	OpUninstall Operation = "uninstall"
	OpEnable    Operation = "enable"
	OpDisable   Operation = "disable"
	OpStart     Operation = "start"
	OpStop      Operation = "stop"
	OpStatus    Operation = "status"
	OpVersion   Operation = "version"
)

// Sentinel errors signalling a no-op attempted against a state that
// already satisfies the request. Callers match them with errors.Is to
// build idempotent ensure-style logic.
var (
	ErrAlreadyInstalled   = errors.New("service is already installed")
	ErrAlreadyEnabled     = errors.New("service is already enabled")
	ErrAlreadyDisabled    = errors.New("service is already disabled")
	ErrAlreadyStarted     = errors.New("service is already started")
	ErrAlreadyStopped     = errors.New("service is already stopped")
	ErrAlreadyUninstalled = errors.New("service is already uninstalled")

	// ErrNotInstalled is returned when enable, disable, start or stop is
	// attempted against a service that is not installed.
	ErrNotInstalled = errors.New("service is not installed")

	// ErrUnsupportedPlatform is returned by New on hosts without a native
	// service facility backend.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// OperationError reports a failed native command, a failed artifact write
// or an unmet post-condition.
type OperationError struct {
	// Op is the lifecycle operation that failed.
	Op Operation
	// Command is the native command line that failed, empty when no
	// subprocess was involved.
	Command string
	// Output is the command's captured combined output, trimmed.
	Output string
	// Err is the underlying cause.
	Err error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("operation %s failed", e.Op)
	if e.Command != "" {
		msg += ": " + e.Command
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" && (e.Err == nil || !strings.Contains(e.Err.Error(), e.Output)) {
		msg += ": " + e.Output
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(op Operation, command, output string, err error) *OperationError {
	return &OperationError{Op: op, Command: command, Output: output, Err: err}
}

func opErrorf(op Operation, format string, args ...any) *OperationError {
	return &OperationError{Op: op, Err: fmt.Errorf(format, args...)}
}
