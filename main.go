// cargo-proc-debug instruments the procedural macro crates of a Rust
// workspace, builds it, and restores every rewritten file afterwards.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/config"
	"github.com/phobologic/procdebug/internal/discover"
	"github.com/phobologic/procdebug/internal/logging"
	"github.com/phobologic/procdebug/internal/procerr"
	"github.com/phobologic/procdebug/internal/workspace"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(procerr.ExitCode(err))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	return a.execute(ctx, args)
}

// app carries what every subcommand shares. The loader and builder default
// to the cargo subprocesses; tests replace them.
type app struct {
	stdout io.Writer
	stderr io.Writer

	dir       string
	lookupEnv func(string) (string, bool)
	loader    workspace.Loader
	builder   workspace.Builder

	configPath string
	debug      bool

	cfg *config.Config
	log *zap.Logger
}

func (a *app) execute(ctx context.Context, args []string) error {
	if a.lookupEnv == nil {
		a.lookupEnv = os.LookupEnv
	}
	if a.dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		a.dir = wd
	}

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.ExecuteContext(ctx)
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cargo",
		Short:         "Cargo subcommand host for proc-debug",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newProcDebugCmd(a))
	return root
}

// setup loads configuration and the logger. It runs before every
// proc-debug subcommand.
func (a *app) setup() error {
	cfg, err := config.Load(a.dir, a.configPath)
	if err != nil {
		return err
	}
	if cfg.Support.Version == "" {
		cfg.Support.Version = version
	}
	level := cfg.Log.Level
	if a.debug {
		level = "debug"
	}
	log, err := logging.New(level, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	if used := config.Used(a.dir); a.configPath == "" && used != "" {
		log.Debug("using config", zap.String("path", used))
	}
	return nil
}

// manifest returns the workspace manifest: explicit when given, otherwise
// the nearest one above the working directory.
func (a *app) manifest(explicit string) (string, error) {
	if explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(a.dir, explicit)
		}
		return explicit, nil
	}
	path, err := discover.FindManifest(a.dir)
	if err != nil {
		return "", procerr.WithPath(procerr.Resolution, "finding manifest from", a.dir, err)
	}
	return path, nil
}

func (a *app) metadataLoader() workspace.Loader {
	if a.loader != nil {
		return a.loader
	}
	return &workspace.CargoLoader{Cargo: a.cfg.Cargo, Timeout: a.cfg.MetadataTimeout, Log: a.log}
}

func (a *app) cargoBuilder() workspace.Builder {
	if a.builder != nil {
		return a.builder
	}
	return &workspace.CargoBuilder{Cargo: a.cfg.Cargo, Stdout: a.stdout, Stderr: a.stderr, Log: a.log}
}

func (a *app) support() workspace.Support {
	return workspace.Support{
		Name:    a.cfg.Support.Name,
		Version: a.cfg.Support.Version,
		Path:    a.cfg.Support.Path,
	}
}
