package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	servicemanager "github.com/qharbor/service-manager"
	"github.com/qharbor/service-manager/appdir"
	"github.com/qharbor/service-manager/journal"
)

// serviceManager is the slice of *servicemanager.Manager the CLI drives.
type serviceManager interface {
	Status(ctx context.Context) (servicemanager.Status, error)
	Install(ctx context.Context, opts servicemanager.InstallOptions) (servicemanager.Status, error)
	Uninstall(ctx context.Context) (servicemanager.Status, error)
	Enable(ctx context.Context) (servicemanager.Status, error)
	Disable(ctx context.Context) (servicemanager.Status, error)
	Start(ctx context.Context) (servicemanager.Status, error)
	Stop(ctx context.Context) (servicemanager.Status, error)
	InstalledVersion(ctx context.Context) (servicemanager.Version, bool, error)
}

type operationJournal interface {
	Record(ctx context.Context, service, operation, outcome, detail string) error
	List(ctx context.Context, service string, limit int) ([]journal.Entry, error)
	Close() error
}

var (
	loadDefinitionFn = loadDefinition
	newManagerFn     = newManager
	openJournalFn    = openJournal
	currentVersionFn = currentVersion
)

const (
	cmdHelp       = "help"
	flagHelpShort = "-h"
	flagHelpLong  = "--help"
)

func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func writeln(w io.Writer, args ...any) {
	_, _ = fmt.Fprintln(w, args...)
}

type commandContext struct {
	stdout io.Writer
	stderr io.Writer
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	ctx := commandContext{stdout: stdout, stderr: stderr}

	if len(args) == 0 {
		printRootHelp(stderr)
		return 2
	}

	switch args[0] {
	case "-v", "--version":
		writef(stdout, "svcman version %s\n", currentVersionFn())
		return 0
	case "install":
		return runInstallCommand(ctx, args[1:])
	case "uninstall":
		return runUninstallCommand(ctx, args[1:])
	case "enable":
		return runToggleCommand(ctx, "enable", args[1:])
	case "disable":
		return runToggleCommand(ctx, "disable", args[1:])
	case "start":
		return runToggleCommand(ctx, "start", args[1:])
	case "stop":
		return runToggleCommand(ctx, "stop", args[1:])
	case "status":
		return runStatusCommand(ctx, args[1:])
	case "version":
		return runVersionCommand(ctx, args[1:])
	case "journal":
		return runJournalCommand(ctx, args[1:])
	case cmdHelp, flagHelpShort, flagHelpLong:
		printRootHelp(stdout)
		return 0
	default:
		writef(stderr, "unknown command: %s\n\n", args[0])
		printRootHelp(stderr)
		return 2
	}
}

// commonFlags are the flags shared by every service-touching command.
type commonFlags struct {
	def       string
	noJournal bool
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.def, "def", "", "path to the TOML service definition")
	fs.BoolVar(&cf.noJournal, "no-journal", false, "do not record this operation in the journal")
	return cf
}

// openManager loads the definition and wires a Manager, optionally with
// the operation journal attached. The returned close func is always safe
// to call.
func openManager(cf *commonFlags) (serviceManager, servicemanager.ServiceConfig, func(), error) {
	cfg, err := loadDefinitionFn(cf.def)
	if err != nil {
		return nil, servicemanager.ServiceConfig{}, func() {}, err
	}

	var opts []servicemanager.Option
	closeFn := func() {}
	if !cf.noJournal {
		jnl, err := openJournalFn()
		if err != nil {
			return nil, servicemanager.ServiceConfig{}, closeFn, err
		}
		opts = append(opts, servicemanager.WithRecorder(jnl))
		closeFn = func() { _ = jnl.Close() }
	}

	mgr, err := newManagerFn(cfg, opts...)
	if err != nil {
		closeFn()
		return nil, servicemanager.ServiceConfig{}, func() {}, err
	}
	return mgr, cfg, closeFn, nil
}

func newManager(cfg servicemanager.ServiceConfig, opts ...servicemanager.Option) (serviceManager, error) {
	return servicemanager.New(cfg, opts...)
}

func openJournal() (operationJournal, error) {
	root, err := appdir.Ensure()
	if err != nil {
		return nil, err
	}
	return journal.Open(filepath.Join(root, "operations.db"))
}

func runInstallCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	cf := registerCommonFlags(fs)
	failIfInstalled := fs.Bool("fail-if-installed", false, "fail when the service is already installed")
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printInstallHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printInstallHelp(ctx.stderr)
		return 2
	}

	mgr, cfg, closeFn, err := openManager(cf)
	if err != nil {
		writef(ctx.stderr, "install failed: %v\n", err)
		return 1
	}
	defer closeFn()

	status, err := mgr.Install(context.Background(), servicemanager.InstallOptions{
		SkipIfInstalled: !*failIfInstalled,
	})
	if err != nil {
		writef(ctx.stderr, "install failed: %v\n", err)
		return 1
	}
	writef(ctx.stdout, "service %s installed: %s\n", cfg.Name, status)
	return 0
}

func runUninstallCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("uninstall", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	cf := registerCommonFlags(fs)
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printUninstallHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printUninstallHelp(ctx.stderr)
		return 2
	}

	mgr, cfg, closeFn, err := openManager(cf)
	if err != nil {
		writef(ctx.stderr, "uninstall failed: %v\n", err)
		return 1
	}
	defer closeFn()

	status, err := mgr.Uninstall(context.Background())
	switch {
	case err == nil:
		writef(ctx.stdout, "service %s uninstalled: %s\n", cfg.Name, status)
		return 0
	case errors.Is(err, servicemanager.ErrAlreadyUninstalled):
		writef(ctx.stdout, "service %s is not installed, nothing to do\n", cfg.Name)
		return 0
	default:
		writef(ctx.stderr, "uninstall failed: %v\n", err)
		return 1
	}
}

func runToggleCommand(ctx commandContext, name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	cf := registerCommonFlags(fs)
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printToggleHelp(ctx.stdout, name)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printToggleHelp(ctx.stderr, name)
		return 2
	}

	mgr, cfg, closeFn, err := openManager(cf)
	if err != nil {
		writef(ctx.stderr, "%s failed: %v\n", name, err)
		return 1
	}
	defer closeFn()

	var (
		status servicemanager.Status
		done   string
	)
	switch name {
	case "enable":
		status, err = mgr.Enable(context.Background())
		done = "enabled"
	case "disable":
		status, err = mgr.Disable(context.Background())
		done = "disabled"
	case "start":
		status, err = mgr.Start(context.Background())
		done = "started"
	case "stop":
		status, err = mgr.Stop(context.Background())
		done = "stopped"
	}
	if err != nil {
		writef(ctx.stderr, "%s failed: %v\n", name, err)
		return 1
	}
	writef(ctx.stdout, "service %s %s: %s\n", cfg.Name, done, status)
	return 0
}

func runStatusCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	cf := registerCommonFlags(fs)
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printStatusHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printStatusHelp(ctx.stderr)
		return 2
	}

	cf.noJournal = true
	mgr, cfg, closeFn, err := openManager(cf)
	if err != nil {
		writef(ctx.stderr, "status failed: %v\n", err)
		return 1
	}
	defer closeFn()

	status, err := mgr.Status(context.Background())
	if err != nil {
		writef(ctx.stderr, "status failed: %v\n", err)
		return 1
	}
	writef(ctx.stdout, "service: %s\n", cfg.Name)
	writef(ctx.stdout, "installed: %t\n", status.Installed)
	writef(ctx.stdout, "enabled: %t\n", status.Enabled)
	writef(ctx.stdout, "running: %t\n", status.Running)
	return 0
}

func runVersionCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	cf := registerCommonFlags(fs)
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printVersionHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printVersionHelp(ctx.stderr)
		return 2
	}

	cf.noJournal = true
	mgr, cfg, closeFn, err := openManager(cf)
	if err != nil {
		writef(ctx.stderr, "version failed: %v\n", err)
		return 1
	}
	defer closeFn()

	version, ok, err := mgr.InstalledVersion(context.Background())
	if err != nil {
		writef(ctx.stderr, "version failed: %v\n", err)
		return 1
	}
	if !ok {
		writef(ctx.stdout, "service %s has no recorded version\n", cfg.Name)
		return 0
	}
	writef(ctx.stdout, "service %s version %s\n", cfg.Name, version)
	return 0
}

func runJournalCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	def := fs.String("def", "", "path to the TOML service definition")
	limit := fs.Int("limit", 20, "maximum entries to print")
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printJournalHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printJournalHelp(ctx.stderr)
		return 2
	}

	cfg, err := loadDefinitionFn(*def)
	if err != nil {
		writef(ctx.stderr, "journal failed: %v\n", err)
		return 1
	}

	jnl, err := openJournalFn()
	if err != nil {
		writef(ctx.stderr, "journal failed: %v\n", err)
		return 1
	}
	defer func() { _ = jnl.Close() }()

	entries, err := jnl.List(context.Background(), cfg.Name, *limit)
	if err != nil {
		writef(ctx.stderr, "journal failed: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		writef(ctx.stdout, "no journal entries for service %s\n", cfg.Name)
		return 0
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%s\t%s\t%s", entry.CreatedAt.Format(time.RFC3339), entry.Operation, entry.Outcome)
		if entry.Detail != "" {
			line += "\t" + entry.Detail
		}
		writeln(ctx.stdout, line)
	}
	return 0
}

func printRootHelp(w io.Writer) {
	writeln(w, "svcman manages qharbor user-level services")
	writeln(w, "")
	writeln(w, "Usage:")
	writeln(w, "  svcman <command> -def service.toml [flags]")
	writeln(w, "")
	writeln(w, "Commands:")
	writeln(w, "  install    Install, enable and start the service")
	writeln(w, "  uninstall  Stop, disable and remove the service")
	writeln(w, "  enable     Enable the service at login")
	writeln(w, "  disable    Disable the service (stops it first if running)")
	writeln(w, "  start      Start the service")
	writeln(w, "  stop       Stop the service")
	writeln(w, "  status     Print the installed/enabled/running probe")
	writeln(w, "  version    Print the installed service version")
	writeln(w, "  journal    Print recent operations for the service")
}

func printInstallHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  svcman install -def service.toml [-fail-if-installed] [-no-journal]")
}

func printUninstallHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  svcman uninstall -def service.toml [-no-journal]")
}

func printToggleHelp(w io.Writer, name string) {
	writeln(w, "Usage:")
	writef(w, "  svcman %s -def service.toml [-no-journal]\n", name)
}

func printStatusHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  svcman status -def service.toml")
}

func printVersionHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  svcman version -def service.toml")
}

func printJournalHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  svcman journal -def service.toml [-limit 20]")
}

func currentVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		if strings.TrimSpace(bi.Main.Version) != "" && bi.Main.Version != "(devel)" {
			return bi.Main.Version
		}
	}
	return "dev"
}
