package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"howett.net/plist"
)

// launchdLabelPrefix is the reverse-domain prefix for agent labels.
const launchdLabelPrefix = "com.qharbor."

// launchdAgent is the property list written for one agent.
type launchdAgent struct {
	Label             string   `plist:"Label"`
	ProgramArguments  []string `plist:"ProgramArguments"`
	WorkingDirectory  string   `plist:"WorkingDirectory"`
	KeepAlive         bool     `plist:"KeepAlive"`
	RunAtLoad         bool     `plist:"RunAtLoad"`
	ThrottleInterval  int      `plist:"ThrottleInterval"`
	StandardOutPath   string   `plist:"StandardOutPath"`
	StandardErrorPath string   `plist:"StandardErrorPath"`
	Version           string   `plist:"Version,omitempty"`
}

// launchdBackend manages a LaunchAgent through launchctl in the user's
// gui domain.
type launchdBackend struct {
	cfg ServiceConfig
	run CommandRunner

	home func() (string, error)
	uid  func() int
}

func newLaunchdBackend(cfg ServiceConfig, run CommandRunner) *launchdBackend {
	return &launchdBackend{cfg: cfg, run: run, home: os.UserHomeDir, uid: os.Getuid}
}

func (b *launchdBackend) label() string { return launchdLabelPrefix + b.cfg.Name }

func (b *launchdBackend) domainTarget() string { return fmt.Sprintf("gui/%d", b.uid()) }

func (b *launchdBackend) jobTarget() string { return b.domainTarget() + "/" + b.label() }

func (b *launchdBackend) logDir() string {
	return filepath.Join(b.cfg.AppDir, b.cfg.Name+"_logs")
}

func (b *launchdBackend) plistPath() (string, error) {
	home, err := b.home()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", b.label()+".plist"), nil
}

func (b *launchdBackend) ArtifactPath() string {
	path, err := b.plistPath()
	if err != nil {
		return ""
	}
	return path
}

func (b *launchdBackend) Install(ctx context.Context, args []string, version Version) error {
	path, err := b.plistPath()
	if err != nil {
		return opError(OpInstall, "", "", err)
	}
	logDir := b.logDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("create log dir: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("create LaunchAgents directory: %w", err))
	}

	content, err := renderLaunchdAgent(b.label(), b.cfg.AppDir, logDir, args, version)
	if err != nil {
		return opError(OpInstall, "", "", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("write agent plist: %w", err))
	}
	return nil
}

func (b *launchdBackend) Uninstall(ctx context.Context) error {
	path, err := b.plistPath()
	if err != nil {
		return opError(OpUninstall, "", "", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return opError(OpUninstall, "", "", fmt.Errorf("remove agent plist: %w", err))
	}
	return nil
}

func (b *launchdBackend) Enable(ctx context.Context) error {
	return b.launchctl(ctx, OpEnable, "enable", b.jobTarget())
}

func (b *launchdBackend) Disable(ctx context.Context) error {
	return b.launchctl(ctx, OpDisable, "disable", b.jobTarget())
}

// Start bootstraps the agent into the gui domain. A bootstrap that fails
// because the job is already loaded counts as success; the manager's
// re-probe verifies the running state either way.
func (b *launchdBackend) Start(ctx context.Context) error {
	path, err := b.plistPath()
	if err != nil {
		return opError(OpStart, "", "", err)
	}
	if err := b.launchctl(ctx, OpStart, "bootstrap", b.domainTarget(), path); err != nil {
		if loaded, _, stErr := b.readJobState(ctx); stErr == nil && loaded {
			return nil
		}
		return err
	}
	return nil
}

// Stop boots the job out of the gui domain. Already-gone jobs count as
// stopped.
func (b *launchdBackend) Stop(ctx context.Context) error {
	if err := b.launchctl(ctx, OpStop, "bootout", b.jobTarget()); err != nil {
		if loaded, _, stErr := b.readJobState(ctx); stErr == nil && !loaded {
			return nil
		}
		return err
	}
	return nil
}

func (b *launchdBackend) Status(ctx context.Context) (Status, error) {
	path, err := b.plistPath()
	if err != nil {
		return Status{}, opError(OpStatus, "", "", err)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{}, nil
		}
		return Status{}, opError(OpStatus, "", "", fmt.Errorf("stat agent plist: %w", err))
	}

	st := Status{Installed: true}
	enabled, err := b.readEnabled(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Enabled = enabled

	_, running, err := b.readJobState(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Running = running
	return st, nil
}

func (b *launchdBackend) InstalledVersion(ctx context.Context) (Version, bool, error) {
	path, err := b.plistPath()
	if err != nil {
		return Version{}, false, opError(OpVersion, "", "", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Version{}, false, nil
		}
		return Version{}, false, opError(OpVersion, "", "", fmt.Errorf("read agent plist: %w", err))
	}
	var agent launchdAgent
	if _, err := plist.Unmarshal(data, &agent); err != nil {
		return Version{}, false, opError(OpVersion, "", "", fmt.Errorf("parse agent plist: %w", err))
	}
	if agent.Version == "" {
		return Version{}, false, nil
	}
	v, err := ParseVersion(agent.Version)
	if err != nil {
		return Version{}, false, nil
	}
	return v, true, nil
}

func (b *launchdBackend) launchctl(ctx context.Context, op Operation, args ...string) error {
	out, err := b.run(ctx, "launchctl", args...)
	if err != nil {
		return opError(op, commandLine("launchctl", args), out, err)
	}
	return nil
}

// readEnabled parses `launchctl print-disabled` for the user's gui domain.
// A label absent from the disabled list is enabled.
func (b *launchdBackend) readEnabled(ctx context.Context) (bool, error) {
	args := []string{"print-disabled", b.domainTarget()}
	out, err := b.run(ctx, "launchctl", args...)
	if err != nil {
		return false, opError(OpStatus, commandLine("launchctl", args), out, err)
	}
	match := disabledEntryRE(b.label()).FindStringSubmatch(out)
	if match == nil {
		return true, nil
	}
	switch match[1] {
	case "disabled", "true":
		return false, nil
	case "enabled", "false":
		return true, nil
	default:
		return false, opError(OpStatus, commandLine("launchctl", args), out,
			fmt.Errorf("unknown enablement state %q", match[1]))
	}
}

func disabledEntryRE(label string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(label) + `"\s*=>\s*(\w+)`)
}

// readJobState parses `launchctl print` for the job target. A job that
// launchctl cannot find is simply not loaded; any other failure is a real
// error.
func (b *launchdBackend) readJobState(ctx context.Context) (loaded, running bool, err error) {
	args := []string{"print", b.jobTarget()}
	out, runErr := b.run(ctx, "launchctl", args...)
	if runErr != nil {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "could not find service") || strings.Contains(lower, "no such process") {
			return false, false, nil
		}
		return false, false, opError(OpStatus, commandLine("launchctl", args), out, runErr)
	}
	return true, launchdStateRE.MatchString(out), nil
}

var launchdStateRE = regexp.MustCompile(`state\s*=\s*running`)

func renderLaunchdAgent(label, workingDir, logDir string, args []string, version Version) ([]byte, error) {
	agent := launchdAgent{
		Label:             label,
		ProgramArguments:  args,
		WorkingDirectory:  workingDir,
		KeepAlive:         true,
		RunAtLoad:         true,
		ThrottleInterval:  60,
		StandardOutPath:   filepath.Join(logDir, "out.log"),
		StandardErrorPath: filepath.Join(logDir, "err.log"),
	}
	if !version.IsZero() {
		agent.Version = version.String()
	}
	content, err := plist.MarshalIndent(agent, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("marshal agent plist: %w", err)
	}
	return content, nil
}
