package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phobologic/procdebug/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the proc-debug configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(a))
	return cmd
}

// newConfigInitCmd implements `cargo proc-debug config init`, which writes
// the default configuration to .proc-debug.yaml or the given path.
func newConfigInitCmd(a *app) *cobra.Command {
	var dryRun, force bool
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration",
		Long: `Writes the built-in configuration as YAML so it can be edited. PATH defaults
to .proc-debug.yaml in the working directory. An existing file is kept unless
--force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Support.Version = version

			// --dry-run: just print the file itself.
			if dryRun {
				data, err := config.Encode(cfg)
				if err != nil {
					return err
				}
				_, _ = a.stdout.Write(data)
				return nil
			}

			path := filepath.Join(a.dir, config.FileName)
			if len(args) > 0 {
				path = args[0]
				if !filepath.IsAbs(path) {
					path = filepath.Join(a.dir, path)
				}
			}
			if err := config.Write(path, cfg, force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stderr, "wrote configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the configuration without writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
