package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// systemdBackend manages a systemd user unit through systemctl --user.
type systemdBackend struct {
	cfg ServiceConfig
	run CommandRunner

	// home resolves the user's home directory; tests point it elsewhere.
	home func() (string, error)
}

func newSystemdBackend(cfg ServiceConfig, run CommandRunner) *systemdBackend {
	return &systemdBackend{cfg: cfg, run: run, home: os.UserHomeDir}
}

func (b *systemdBackend) unitName() string { return b.cfg.Name + ".service" }

func (b *systemdBackend) unitPath() (string, error) {
	home, err := b.home()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", b.unitName()), nil
}

func (b *systemdBackend) ArtifactPath() string {
	path, err := b.unitPath()
	if err != nil {
		return ""
	}
	return path
}

func (b *systemdBackend) Install(ctx context.Context, args []string, version Version) error {
	unitPath, err := b.unitPath()
	if err != nil {
		return opError(OpInstall, "", "", err)
	}
	if err := os.MkdirAll(b.cfg.AppDir, 0o755); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("create app dir: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("create systemd user directory: %w", err))
	}

	unit, err := renderSystemdUnit(b.cfg.Name, b.cfg.AppDir, args, version)
	if err != nil {
		return opError(OpInstall, "", "", err)
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("write user unit: %w", err))
	}
	return b.systemctl(ctx, OpInstall, "daemon-reload")
}

func (b *systemdBackend) Uninstall(ctx context.Context) error {
	unitPath, err := b.unitPath()
	if err != nil {
		return opError(OpUninstall, "", "", err)
	}
	if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return opError(OpUninstall, "", "", fmt.Errorf("remove user unit: %w", err))
	}
	return b.systemctl(ctx, OpUninstall, "daemon-reload")
}

func (b *systemdBackend) Enable(ctx context.Context) error {
	return b.systemctl(ctx, OpEnable, "enable", b.unitName())
}

func (b *systemdBackend) Disable(ctx context.Context) error {
	return b.systemctl(ctx, OpDisable, "disable", b.unitName())
}

func (b *systemdBackend) Start(ctx context.Context) error {
	return b.systemctl(ctx, OpStart, "start", b.unitName())
}

func (b *systemdBackend) Stop(ctx context.Context) error {
	return b.systemctl(ctx, OpStop, "stop", b.unitName())
}

func (b *systemdBackend) Status(ctx context.Context) (Status, error) {
	unitPath, err := b.unitPath()
	if err != nil {
		return Status{}, opError(OpStatus, "", "", err)
	}
	if _, err := os.Stat(unitPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{}, nil
		}
		return Status{}, opError(OpStatus, "", "", fmt.Errorf("stat user unit: %w", err))
	}

	st := Status{Installed: true}
	enabled, err := b.readState(ctx, "is-enabled")
	if err != nil {
		return Status{}, err
	}
	st.Enabled = enabled == "enabled"

	active, err := b.readState(ctx, "is-active")
	if err != nil {
		return Status{}, err
	}
	st.Running = active == "active"
	return st, nil
}

func (b *systemdBackend) InstalledVersion(ctx context.Context) (Version, bool, error) {
	unitPath, err := b.unitPath()
	if err != nil {
		return Version{}, false, opError(OpVersion, "", "", err)
	}
	data, err := os.ReadFile(unitPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Version{}, false, nil
		}
		return Version{}, false, opError(OpVersion, "", "", fmt.Errorf("read user unit: %w", err))
	}
	match := unitVersionRE.FindStringSubmatch(string(data))
	if match == nil {
		return Version{}, false, nil
	}
	v, err := ParseVersion(match[1])
	if err != nil {
		return Version{}, false, nil
	}
	return v, true, nil
}

var unitVersionRE = regexp.MustCompile(`Environment="VERSION=([^"]+)"`)

func (b *systemdBackend) systemctl(ctx context.Context, op Operation, args ...string) error {
	full := append([]string{"--user"}, args...)
	out, err := b.run(ctx, "systemctl", full...)
	if err != nil {
		return opError(op, commandLine("systemctl", full), out, err)
	}
	return nil
}

// readState runs an is-enabled/is-active query. Both subcommands exit
// non-zero for every negative state, so a failure with a recognizable
// one-word state is a valid answer; only a broken bus connection or
// unreadable output becomes an error.
func (b *systemdBackend) readState(ctx context.Context, query string) (string, error) {
	full := []string{"--user", query, b.unitName()}
	out, err := b.run(ctx, "systemctl", full...)
	state := strings.TrimSpace(out)
	if err == nil {
		return state, nil
	}
	lower := strings.ToLower(state)
	switch {
	case strings.Contains(lower, "could not be found"):
		return "not-found", nil
	case state != "" && !strings.ContainsAny(state, " \n"):
		return state, nil
	default:
		return "", opError(OpStatus, commandLine("systemctl", full), out, err)
	}
}

func renderSystemdUnit(name, workingDir string, args []string, version Version) (string, error) {
	execStart, err := quotePOSIXCommand(args)
	if err != nil {
		return "", err
	}
	versionLine := ""
	if !version.IsZero() {
		versionLine = fmt.Sprintf("Environment=\"VERSION=%s\"\n", version)
	}
	return fmt.Sprintf(`[Unit]
Description=%s service
After=network.target

[Service]
Type=simple
ExecStart=%s
WorkingDirectory=%s
Restart=always
RestartSec=5
%s
[Install]
WantedBy=default.target
`, name, execStart, workingDir, versionLine), nil
}

// quotePOSIXCommand joins args into a shell-safe command line.
func quotePOSIXCommand(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote argument %q: %w", arg, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}
