package servicemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// scriptedRunner replays canned responses keyed by the full command line
// and records every invocation in order.
type scriptedRunner struct {
	responses map[string]scriptedResponse
	calls     []string
}

type scriptedResponse struct {
	out string
	err error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{responses: map[string]scriptedResponse{}}
}

func (r *scriptedRunner) respond(command, out string, err error) {
	r.responses[command] = scriptedResponse{out: out, err: err}
}

func (r *scriptedRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	line := commandLine(name, args)
	r.calls = append(r.calls, line)
	resp, ok := r.responses[line]
	if !ok {
		return "", nil
	}
	return resp.out, resp.err
}

func (r *scriptedRunner) called(command string) bool {
	for _, call := range r.calls {
		if call == command {
			return true
		}
	}
	return false
}

func testSystemdBackend(t *testing.T) (*systemdBackend, *scriptedRunner, string) {
	t.Helper()
	home := t.TempDir()
	cfg := ServiceConfig{
		Name:             "qdrive",
		AppDir:           filepath.Join(home, "apps", "qdrive"),
		ProgramArguments: []string{filepath.Join(home, "bin", "qdrive"), "--port", "8004"},
	}
	runner := newScriptedRunner()
	b := newSystemdBackend(cfg, runner.run)
	b.home = func() (string, error) { return home, nil }
	return b, runner, home
}

func TestSystemdInstallWritesUnitAndReloads(t *testing.T) {
	t.Parallel()

	b, runner, home := testSystemdBackend(t)
	err := b.Install(context.Background(), b.cfg.ProgramArguments, MustParseVersion("2.1.0"))
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	unitPath := filepath.Join(home, ".config", "systemd", "user", "qdrive.service")
	data, err := os.ReadFile(unitPath)
	if err != nil {
		t.Fatalf("unit file not written: %v", err)
	}
	unit := string(data)
	for _, want := range []string{
		"ExecStart=" + b.cfg.ProgramArguments[0] + " --port 8004",
		"WorkingDirectory=" + b.cfg.AppDir,
		"Restart=always",
		`Environment="VERSION=2.1.0"`,
		"WantedBy=default.target",
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit missing %q:\n%s", want, unit)
		}
	}
	if !runner.called("systemctl --user daemon-reload") {
		t.Fatalf("daemon-reload not issued, calls: %v", runner.calls)
	}
	if _, err := os.Stat(b.cfg.AppDir); err != nil {
		t.Fatalf("app dir not created: %v", err)
	}
}

func TestSystemdStatusNotInstalled(t *testing.T) {
	t.Parallel()

	b, runner, _ := testSystemdBackend(t)
	st, err := b.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st != (Status{}) {
		t.Fatalf("Status() = %s, want all false", st)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("status probed systemctl without a unit file: %v", runner.calls)
	}
}

func TestSystemdStatusParsesStates(t *testing.T) {
	t.Parallel()

	b, runner, home := testSystemdBackend(t)
	unitPath := filepath.Join(home, ".config", "systemd", "user", "qdrive.service")
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(unitPath, []byte("[Unit]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner.respond("systemctl --user is-enabled qdrive.service", "enabled", nil)
	runner.respond("systemctl --user is-active qdrive.service", "active", nil)
	st, err := b.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !st.Installed || !st.Enabled || !st.Running {
		t.Fatalf("Status() = %s, want all true", st)
	}

	// Negative states arrive with a non-zero exit.
	runner.respond("systemctl --user is-enabled qdrive.service", "disabled", errors.New("exit status 1"))
	runner.respond("systemctl --user is-active qdrive.service", "inactive", errors.New("exit status 3"))
	st, err = b.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !st.Installed || st.Enabled || st.Running {
		t.Fatalf("Status() = %s, want installed only", st)
	}
}

func TestSystemdReadStateTreatsMissingUnitAsNotFound(t *testing.T) {
	t.Parallel()

	b, runner, _ := testSystemdBackend(t)
	runner.respond("systemctl --user is-enabled qdrive.service",
		"Unit qdrive.service could not be found.", errors.New("exit status 1"))
	state, err := b.readState(context.Background(), "is-enabled")
	if err != nil {
		t.Fatalf("readState() error: %v", err)
	}
	if state != "not-found" {
		t.Fatalf("readState() = %q, want %q", state, "not-found")
	}
}

func TestSystemdReadStateSurfacesRealFailures(t *testing.T) {
	t.Parallel()

	b, runner, _ := testSystemdBackend(t)
	runner.respond("systemctl --user is-active qdrive.service",
		"Failed to connect to bus: No such file or directory extra words", errors.New("exit status 1"))
	if _, err := b.readState(context.Background(), "is-active"); err == nil {
		t.Fatal("readState() succeeded on a bus failure, want error")
	}
}

func TestSystemdUninstallRemovesUnit(t *testing.T) {
	t.Parallel()

	b, runner, home := testSystemdBackend(t)
	unitPath := filepath.Join(home, ".config", "systemd", "user", "qdrive.service")
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(unitPath, []byte("[Unit]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall() error: %v", err)
	}
	if _, err := os.Stat(unitPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unit file still present after uninstall")
	}
	if !runner.called("systemctl --user daemon-reload") {
		t.Fatalf("daemon-reload not issued, calls: %v", runner.calls)
	}

	// A second uninstall with nothing on disk still succeeds.
	if err := b.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall() on clean host error: %v", err)
	}
}

func TestSystemdVerbsUseUserScope(t *testing.T) {
	t.Parallel()

	b, runner, _ := testSystemdBackend(t)
	ctx := context.Background()
	if err := b.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"systemctl --user enable qdrive.service",
		"systemctl --user disable qdrive.service",
		"systemctl --user start qdrive.service",
		"systemctl --user stop qdrive.service",
	}
	for i, call := range want {
		if runner.calls[i] != call {
			t.Fatalf("call %d = %q, want %q", i, runner.calls[i], call)
		}
	}
}

func TestSystemdInstalledVersionReadsUnit(t *testing.T) {
	t.Parallel()

	b, _, _ := testSystemdBackend(t)
	ctx := context.Background()

	if _, ok, err := b.InstalledVersion(ctx); err != nil || ok {
		t.Fatalf("InstalledVersion() on clean host = ok=%t err=%v", ok, err)
	}

	if err := b.Install(ctx, b.cfg.ProgramArguments, MustParseVersion("3.0.1-rc.1")); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	v, ok, err := b.InstalledVersion(ctx)
	if err != nil {
		t.Fatalf("InstalledVersion() error: %v", err)
	}
	if !ok || v.String() != "3.0.1-rc.1" {
		t.Fatalf("InstalledVersion() = %s ok=%t", v, ok)
	}
}

func TestRenderSystemdUnitQuotesArguments(t *testing.T) {
	t.Parallel()

	unit, err := renderSystemdUnit("svc", "/opt/svc", []string{"/opt/my app/bin/svc", "--name", "a b"}, Version{})
	if err != nil {
		t.Fatalf("renderSystemdUnit() error: %v", err)
	}
	if !strings.Contains(unit, `ExecStart='/opt/my app/bin/svc' --name 'a b'`) {
		t.Fatalf("ExecStart not quoted:\n%s", unit)
	}
	if strings.Contains(unit, "VERSION=") {
		t.Fatalf("zero version rendered into unit:\n%s", unit)
	}
}
