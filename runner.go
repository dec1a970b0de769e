package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds every native tool invocation so a hung tool cannot
// hang the caller.
const commandTimeout = 10 * time.Second

// CommandRunner invokes one native service-control command and returns its
// trimmed combined output. It is the library's only subprocess boundary;
// tests install fakes through WithRunner.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// runCommand is the default CommandRunner.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	msg := strings.TrimSpace(string(out))
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return msg, fmt.Errorf("timed out after %s: %w", commandTimeout, context.DeadlineExceeded)
	}
	return msg, err
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
