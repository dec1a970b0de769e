package servicemanager

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

const (
	statusWaitTimeout  = 10 * time.Second
	statusPollInterval = 300 * time.Millisecond
)

// OperationRecorder receives the outcome of each completed operation.
// Recording is informational only: status is always probed live from the
// OS and never read back from a recorder.
type OperationRecorder interface {
	Record(ctx context.Context, service, operation, outcome, detail string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner replaces the native command runner. Tests use it to script
// every subprocess the backends would spawn.
func WithRunner(run CommandRunner) Option {
	return func(m *Manager) { m.run = run }
}

// WithRecorder attaches an operation journal.
func WithRecorder(rec OperationRecorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

// WithBackend pins a backend instead of selecting one for the host OS.
func WithBackend(b Backend) Option {
	return func(m *Manager) { m.backend = b }
}

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager is the uniform lifecycle façade over one platform backend. It
// owns the shared rule table: every mutating operation probes the live
// status first, fails with the matching "already in state" sentinel when
// the request is a no-op, issues the native verbs, then re-probes until
// the post-condition holds.
type Manager struct {
	cfg      ServiceConfig
	backend  Backend
	run      CommandRunner
	recorder OperationRecorder
	log      *slog.Logger

	waitTimeout  time.Duration
	pollInterval time.Duration
	sleep        func(time.Duration)
}

// New builds a Manager bound to the host platform's backend.
func New(cfg ServiceConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:          cfg,
		run:          runCommand,
		log:          slog.Default().With("service", cfg.Name),
		waitTimeout:  statusWaitTimeout,
		pollInterval: statusPollInterval,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.backend == nil {
		backend, err := backendFor(runtime.GOOS, cfg, m.run)
		if err != nil {
			return nil, err
		}
		m.backend = backend
	}
	return m, nil
}

// Name returns the configured service name.
func (m *Manager) Name() string { return m.cfg.Name }

// Config returns a copy of the bound configuration.
func (m *Manager) Config() ServiceConfig {
	cfg := m.cfg
	cfg.ProgramArguments = append([]string(nil), m.cfg.ProgramArguments...)
	return cfg
}

// ArtifactPath reports where the host backend keeps the native artifact.
func (m *Manager) ArtifactPath() string { return m.backend.ArtifactPath() }

// Status returns the current lifecycle triple. "Not installed" is a valid
// status, never an error.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	return m.backend.Status(ctx)
}

// InstalledVersion reads the version metadata embedded in the installed
// artifact. ok is false when the service is not installed or the artifact
// carries no version.
func (m *Manager) InstalledVersion(ctx context.Context) (Version, bool, error) {
	return m.backend.InstalledVersion(ctx)
}

// InstallOptions control Install.
type InstallOptions struct {
	// ProgramArguments overrides the config's launch command when
	// non-empty.
	ProgramArguments []string
	// Version overrides the config's version when non-zero.
	Version Version
	// SkipIfInstalled treats an installed service as a no-op success
	// instead of failing with ErrAlreadyInstalled. This is the only
	// caller-controlled relaxation of the "already in state" errors.
	SkipIfInstalled bool
}

// Install renders and persists the native artifact, registers it with the
// OS facility, enables the service and starts it. On success the service
// reads (installed=true, enabled=true, running=true).
func (m *Manager) Install(ctx context.Context, opts InstallOptions) (Status, error) {
	args := opts.ProgramArguments
	if len(args) == 0 {
		args = m.cfg.ProgramArguments
	}
	if err := validateProgramArguments(args); err != nil {
		return Status{}, err
	}
	version := opts.Version
	if version.IsZero() {
		version = m.cfg.Version
	}

	st, err := m.backend.Status(ctx)
	if err != nil {
		return Status{}, m.fail(ctx, OpInstall, err)
	}
	if st.Installed {
		if !opts.SkipIfInstalled {
			m.record(ctx, OpInstall, "rejected", ErrAlreadyInstalled.Error())
			return Status{}, ErrAlreadyInstalled
		}
		m.log.Debug("already installed, skipping install")
		m.record(ctx, OpInstall, "noop", "already installed")
		return st, nil
	}

	m.log.Info("installing service", "version", version.String(), "artifact", m.backend.ArtifactPath())
	if err := m.installSteps(ctx, args, version); err != nil {
		m.rollbackInstall(ctx)
		return Status{}, m.fail(ctx, OpInstall, err)
	}
	st, err = m.awaitStatus(ctx, OpInstall, func(s Status) bool {
		return s.Installed && s.Enabled && s.Running
	})
	if err != nil {
		m.rollbackInstall(ctx)
		return Status{}, m.fail(ctx, OpInstall, err)
	}
	m.log.Info("service installed", "version", version.String())
	m.record(ctx, OpInstall, "ok", "version "+version.String())
	return st, nil
}

func (m *Manager) installSteps(ctx context.Context, args []string, version Version) error {
	if err := m.backend.Install(ctx, args, version); err != nil {
		return err
	}
	if err := m.backend.Enable(ctx); err != nil {
		return err
	}
	return m.backend.Start(ctx)
}

// rollbackInstall undoes a partial install so a failed install does not
// leave a half-registered service behind.
func (m *Manager) rollbackInstall(ctx context.Context) {
	if err := m.backend.Stop(ctx); err != nil {
		m.log.Debug("install rollback: stop", "err", err)
	}
	if err := m.backend.Disable(ctx); err != nil {
		m.log.Debug("install rollback: disable", "err", err)
	}
	if err := m.backend.Uninstall(ctx); err != nil {
		m.log.Warn("install rollback: uninstall", "err", err)
	}
}

// Enable marks the service to start at login without changing whether it
// is currently running. Returns ErrAlreadyEnabled when it already is.
func (m *Manager) Enable(ctx context.Context) (Status, error) {
	st, err := m.backend.Status(ctx)
	if err != nil {
		return Status{}, m.fail(ctx, OpEnable, err)
	}
	if !st.Installed {
		return Status{}, ErrNotInstalled
	}
	if st.Enabled {
		m.record(ctx, OpEnable, "rejected", ErrAlreadyEnabled.Error())
		return Status{}, ErrAlreadyEnabled
	}

	wasRunning := st.Running
	if err := m.backend.Enable(ctx); err != nil {
		return Status{}, m.fail(ctx, OpEnable, err)
	}
	st, err = m.awaitStatus(ctx, OpEnable, func(s Status) bool {
		return s.Installed && s.Enabled && s.Running == wasRunning
	})
	if err != nil {
		return Status{}, m.fail(ctx, OpEnable, err)
	}
	m.record(ctx, OpEnable, "ok", "")
	return st, nil
}

// Disable stops the service if it is running and removes the start-at-login
// registration. Returns ErrAlreadyDisabled when it already is disabled.
func (m *Manager) Disable(ctx context.Context) (Status, error) {
	st, err := m.backend.Status(ctx)
	if err != nil {
		return Status{}, m.fail(ctx, OpDisable, err)
	}
	if !st.Installed {
		return Status{}, ErrNotInstalled
	}
	if !st.Enabled {
		m.record(ctx, OpDisable, "rejected", ErrAlreadyDisabled.Error())
		return Status{}, ErrAlreadyDisabled
	}

	if st.Running {
		if err := m.backend.Stop(ctx); err != nil {
			return Status{}, m.fail(ctx, OpDisable, err)
		}
	}
	if err := m.backend.Disable(ctx); err != nil {
		return Status{}, m.fail(ctx, OpDisable, err)
	}
	st, err = m.awaitStatus(ctx, OpDisable, func(s Status) bool {
		return s.Installed && !s.Enabled && !s.Running
	})
	if err != nil {
		return Status{}, m.fail(ctx, OpDisable, err)
	}
	m.record(ctx, OpDisable, "ok", "")
	return st, nil
}

// Start launches the service. Enablement is never touched: starting a
// disabled service is attempted as-is, and a platform that refuses to
// start a disabled job (launchd does) surfaces that refusal as an
// OperationError. Returns ErrAlreadyStarted when it is already running.
func (m *Manager) Start(ctx context.Context) (Status, error) {
	st, err := m.backend.Status(ctx)
	if err != nil {
		return Status{}, m.fail(ctx, OpStart, err)
	}
	if !st.Installed {
		return Status{}, ErrNotInstalled
	}
	if st.Running {
		m.record(ctx, OpStart, "rejected", ErrAlreadyStarted.Error())
		return Status{}, ErrAlreadyStarted
	}

	wasEnabled := st.Enabled
	if err := m.backend.Start(ctx); err != nil {
		return Status{}, m.fail(ctx, OpStart, err)
	}
	st, err = m.awaitStatus(ctx, OpStart, func(s Status) bool {
		return s.Installed && s.Running && s.Enabled == wasEnabled
	})
	if err != nil {
		return Status{}, m.fail(ctx, OpStart, err)
	}
	m.record(ctx, OpStart, "ok", "")
	return st, nil
}

// Stop halts the running service without changing enablement. Returns
// ErrAlreadyStopped when it is not running.
func (m *Manager) Stop(ctx context.Context) (Status, error) {
	st, err := m.backend.Status(ctx)
	if err != nil {
		return Status{}, m.fail(ctx, OpStop, err)
	}
	if !st.Installed {
		return Status{}, ErrNotInstalled
	}
	if !st.Running {
		m.record(ctx, OpStop, "rejected", ErrAlreadyStopped.Error())
		return Status{}, ErrAlreadyStopped
	}

	wasEnabled := st.Enabled
	if err := m.backend.Stop(ctx); err != nil {
		return Status{}, m.fail(ctx, OpStop, err)
	}
	st, err = m.awaitStatus(ctx, OpStop, func(s Status) bool {
		return s.Installed && !s.Running && s.Enabled == wasEnabled
	})
	if err != nil {
		return Status{}, m.fail(ctx, OpStop, err)
	}
	m.record(ctx, OpStop, "ok", "")
	return st, nil
}

// Uninstall stops and disables the service as needed, removes the OS
// registration and deletes the native artifact. Returns
// ErrAlreadyUninstalled when nothing is installed.
func (m *Manager) Uninstall(ctx context.Context) (Status, error) {
	st, err := m.backend.Status(ctx)
	if err != nil {
		return Status{}, m.fail(ctx, OpUninstall, err)
	}
	if !st.Installed {
		m.record(ctx, OpUninstall, "rejected", ErrAlreadyUninstalled.Error())
		return Status{}, ErrAlreadyUninstalled
	}

	if st.Running {
		if err := m.backend.Stop(ctx); err != nil {
			return Status{}, m.fail(ctx, OpUninstall, err)
		}
	}
	if st.Enabled {
		if err := m.backend.Disable(ctx); err != nil {
			return Status{}, m.fail(ctx, OpUninstall, err)
		}
	}
	if err := m.backend.Uninstall(ctx); err != nil {
		return Status{}, m.fail(ctx, OpUninstall, err)
	}
	st, err = m.awaitStatus(ctx, OpUninstall, func(s Status) bool {
		return !s.Installed && !s.Enabled && !s.Running
	})
	if err != nil {
		return Status{}, m.fail(ctx, OpUninstall, err)
	}
	m.log.Info("service uninstalled")
	m.record(ctx, OpUninstall, "ok", "")
	return st, nil
}

// awaitStatus polls the backend until want holds or the wait budget is
// exhausted. Operations never trust the command's exit status alone: the
// post-condition must be observable in the registry.
func (m *Manager) awaitStatus(ctx context.Context, op Operation, want func(Status) bool) (Status, error) {
	deadline := time.Now().Add(m.waitTimeout)
	for {
		st, err := m.backend.Status(ctx)
		if err != nil {
			return Status{}, err
		}
		if want(st) {
			return st, nil
		}
		if time.Now().After(deadline) {
			return Status{}, opErrorf(op, "post-condition not reached within %s (last status %s)", m.waitTimeout, st)
		}
		if err := ctx.Err(); err != nil {
			return Status{}, opError(op, "", "", err)
		}
		m.sleep(m.pollInterval)
	}
}

func (m *Manager) fail(ctx context.Context, op Operation, err error) error {
	m.log.Warn("operation failed", "op", op, "err", err)
	m.record(ctx, op, "error", err.Error())
	return err
}

func (m *Manager) record(ctx context.Context, op Operation, outcome, detail string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, m.cfg.Name, string(op), outcome, detail); err != nil {
		m.log.Warn("operation journal write failed", "op", op, "err", err)
	}
}
