package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// schtasksBackend manages a Windows scheduled task through schtasks.exe.
// The task runs at user logon with RunLevel LeastPrivilege, so neither
// registration nor execution prompts for elevation, and launches the
// configured command through a wscript wrapper so no console window
// appears.
type schtasksBackend struct {
	cfg ServiceConfig
	run CommandRunner
}

func newSchtasksBackend(cfg ServiceConfig, run CommandRunner) *schtasksBackend {
	return &schtasksBackend{cfg: cfg, run: run}
}

func (b *schtasksBackend) taskName() string { return b.cfg.Name }

func (b *schtasksBackend) wrapperPath() string {
	return filepath.Join(b.cfg.AppDir, "run.vbs")
}

// ArtifactPath reports the hidden-window wrapper script; the task
// definition itself lives inside the task scheduler registry.
func (b *schtasksBackend) ArtifactPath() string { return b.wrapperPath() }

func (b *schtasksBackend) Install(ctx context.Context, args []string, version Version) error {
	if err := os.MkdirAll(b.cfg.AppDir, 0o755); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("create app dir: %w", err))
	}

	userID, userSID, err := b.currentUser(ctx)
	if err != nil {
		return err
	}

	if err := os.WriteFile(b.wrapperPath(), []byte(renderHiddenWindowWrapper(args)), 0o644); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("write wrapper script: %w", err))
	}

	xmlPath := filepath.Join(b.cfg.AppDir, "task.xml")
	taskXML := renderScheduledTaskXML(b.taskName(), userID, userSID, b.wrapperPath(), version)
	if err := os.WriteFile(xmlPath, []byte(taskXML), 0o644); err != nil {
		return opError(OpInstall, "", "", fmt.Errorf("write task definition: %w", err))
	}
	defer func() { _ = os.Remove(xmlPath) }()

	return b.schtasks(ctx, OpInstall, "/Create", "/TN", b.taskName(), "/XML", xmlPath, "/F")
}

func (b *schtasksBackend) Uninstall(ctx context.Context) error {
	if err := b.schtasks(ctx, OpUninstall, "/Delete", "/TN", b.taskName(), "/F"); err != nil {
		return err
	}
	if err := os.Remove(b.wrapperPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return opError(OpUninstall, "", "", fmt.Errorf("remove wrapper script: %w", err))
	}
	return nil
}

func (b *schtasksBackend) Enable(ctx context.Context) error {
	return b.schtasks(ctx, OpEnable, "/Change", "/TN", b.taskName(), "/ENABLE")
}

func (b *schtasksBackend) Disable(ctx context.Context) error {
	return b.schtasks(ctx, OpDisable, "/Change", "/TN", b.taskName(), "/DISABLE")
}

func (b *schtasksBackend) Start(ctx context.Context) error {
	return b.schtasks(ctx, OpStart, "/Run", "/TN", b.taskName())
}

// Stop ends the task, which terminates the process tree the task started.
func (b *schtasksBackend) Stop(ctx context.Context) error {
	return b.schtasks(ctx, OpStop, "/End", "/TN", b.taskName())
}

func (b *schtasksBackend) Status(ctx context.Context) (Status, error) {
	out, err := b.queryTask(ctx, OpStatus)
	if err != nil {
		return Status{}, err
	}
	if out == "" {
		return Status{}, nil
	}

	st := Status{Installed: true}
	if match := taskStatusRE.FindStringSubmatch(out); match != nil {
		st.Running = strings.Contains(match[1], "Running")
	}
	if match := taskStateRE.FindStringSubmatch(out); match != nil {
		st.Enabled = strings.TrimSpace(match[1]) == "Enabled"
	}
	return st, nil
}

func (b *schtasksBackend) InstalledVersion(ctx context.Context) (Version, bool, error) {
	out, err := b.queryTask(ctx, OpVersion)
	if err != nil || out == "" {
		return Version{}, false, err
	}
	match := taskVersionRE.FindStringSubmatch(out)
	if match == nil {
		return Version{}, false, nil
	}
	v, err := ParseVersion(match[1])
	if err != nil {
		return Version{}, false, nil
	}
	return v, true, nil
}

var (
	taskStatusRE  = regexp.MustCompile(`Status:\s*(.*)`)
	taskStateRE   = regexp.MustCompile(`Scheduled Task State:\s*(.*)`)
	taskVersionRE = regexp.MustCompile(`version=(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)`)
)

// queryTask returns the verbose task listing, or "" when the task does not
// exist at all.
func (b *schtasksBackend) queryTask(ctx context.Context, op Operation) (string, error) {
	args := []string{"/Query", "/TN", b.taskName(), "/FO", "LIST", "/V"}
	out, err := b.run(ctx, "schtasks", args...)
	if err != nil {
		if taskNotFoundOutput(out) {
			return "", nil
		}
		return "", opError(op, commandLine("schtasks", args), out, err)
	}
	if !strings.Contains(out, "TaskName:") {
		return "", nil
	}
	return out, nil
}

func taskNotFoundOutput(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "cannot find the file") ||
		strings.Contains(lower, "does not exist")
}

func (b *schtasksBackend) schtasks(ctx context.Context, op Operation, args ...string) error {
	out, err := b.run(ctx, "schtasks", args...)
	if err != nil {
		return opError(op, commandLine("schtasks", args), out, err)
	}
	return nil
}

// currentUser resolves the logged-in user's account name and SID for the
// task principal and logon trigger.
func (b *schtasksBackend) currentUser(ctx context.Context) (userID, userSID string, err error) {
	args := []string{"/user", "/fo", "csv", "/nh"}
	out, runErr := b.run(ctx, "whoami", args...)
	if runErr != nil {
		return "", "", opError(OpInstall, commandLine("whoami", args), out, runErr)
	}
	parts := strings.Split(strings.TrimSpace(out), ",")
	if len(parts) < 2 {
		return "", "", opError(OpInstall, commandLine("whoami", args), out,
			errors.New("unexpected whoami output"))
	}
	userID = strings.TrimSpace(strings.Trim(parts[0], `"`))
	userSID = strings.TrimSpace(strings.Trim(parts[1], `"`))
	if userID == "" || userSID == "" {
		return "", "", opError(OpInstall, commandLine("whoami", args), out,
			errors.New("empty user name or SID"))
	}
	return userID, userSID, nil
}

// renderHiddenWindowWrapper builds the VBScript that launches the command
// with no visible window (the 0 window-style argument).
func renderHiddenWindowWrapper(args []string) string {
	return "Dim objShell\n" +
		"Set objShell=CreateObject(\"WScript.Shell\")\n" +
		"objShell.Run \"" + vbsCommandLine(args) + "\",0,true\n"
}

// vbsCommandLine quotes args for the shell command line and escapes the
// result for embedding in a VBScript string literal, where a quote is
// written as a doubled quote.
func vbsCommandLine(args []string) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = windowsArg(arg)
	}
	return strings.ReplaceAll(strings.Join(parts, " "), `"`, `""`)
}

func windowsArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"") {
		return arg
	}
	return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
}

func renderScheduledTaskXML(taskName, userID, userSID, wrapperPath string, version Version) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Task version="1.3" xmlns="http://schemas.microsoft.com/windows/2004/02/mit/task">
  <RegistrationInfo>
    <Description>Service %[1]s
version=%[2]s</Description>
    <URI>\%[1]s</URI>
  </RegistrationInfo>
  <Triggers>
    <LogonTrigger>
      <Enabled>true</Enabled>
      <UserId>%[3]s</UserId>
    </LogonTrigger>
  </Triggers>
  <Principals>
    <Principal id="Author">
      <UserId>%[4]s</UserId>
      <LogonType>InteractiveToken</LogonType>
      <RunLevel>LeastPrivilege</RunLevel>
    </Principal>
  </Principals>
  <Settings>
    <MultipleInstancesPolicy>IgnoreNew</MultipleInstancesPolicy>
    <DisallowStartIfOnBatteries>false</DisallowStartIfOnBatteries>
    <StopIfGoingOnBatteries>false</StopIfGoingOnBatteries>
    <AllowHardTerminate>true</AllowHardTerminate>
    <StartWhenAvailable>false</StartWhenAvailable>
    <RunOnlyIfNetworkAvailable>false</RunOnlyIfNetworkAvailable>
    <IdleSettings>
      <Duration>PT10M</Duration>
      <WaitTimeout>PT1H</WaitTimeout>
      <StopOnIdleEnd>true</StopOnIdleEnd>
      <RestartOnIdle>false</RestartOnIdle>
    </IdleSettings>
    <AllowStartOnDemand>true</AllowStartOnDemand>
    <Enabled>true</Enabled>
    <Hidden>false</Hidden>
    <RunOnlyIfIdle>false</RunOnlyIfIdle>
    <DisallowStartOnRemoteAppSession>false</DisallowStartOnRemoteAppSession>
    <UseUnifiedSchedulingEngine>true</UseUnifiedSchedulingEngine>
    <WakeToRun>false</WakeToRun>
    <ExecutionTimeLimit>PT0S</ExecutionTimeLimit>
    <Priority>7</Priority>
    <RestartOnFailure>
      <Interval>PT1M</Interval>
      <Count>10</Count>
    </RestartOnFailure>
  </Settings>
  <Actions Context="Author">
    <Exec>
      <Command>wscript.exe</Command>
      <Arguments>%[5]s</Arguments>
    </Exec>
  </Actions>
</Task>
`, xmlEscape(taskName), xmlEscape(version.String()), xmlEscape(userID), xmlEscape(userSID), xmlEscape(wrapperPath))
}

func xmlEscape(raw string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(raw)
}
