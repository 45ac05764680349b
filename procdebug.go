package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/graph"
	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/patch"
	"github.com/phobologic/procdebug/internal/procerr"
	"github.com/phobologic/procdebug/internal/query"
	"github.com/phobologic/procdebug/internal/toon"
	"github.com/phobologic/procdebug/internal/workspace"
)

// options holds the flags of one proc-debug run.
type options struct {
	sel workspace.Selection

	paths   []string
	not     []string
	depth   uint
	count   uint
	all     bool
	verbose bool
	dryRun  bool
}

func newProcDebugCmd(a *app) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "proc-debug [flags] [KEYWORDS...]",
		Short: "Show the input and output of procedural macro calls during a build",
		Long: `Instruments every procedural macro crate the selected build units depend on,
runs cargo check with the filter below, and restores all rewritten files.

Invocations are shown when their macro path matches a --path pattern or any
field contains one of KEYWORDS. Without filters every invocation is shown.`,
		Version: version,
		Args:    cobra.ArbitraryArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			q := o.query(cmd, args)
			if o.dryRun {
				return a.plan(cmd.Context(), o)
			}
			return a.instrument(cmd.Context(), o, q)
		},
	}
	cmd.SetVersionTemplate("cargo-proc-debug {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&o.sel.ManifestPath, "manifest-path", "m", "", "path to Cargo.toml")
	pf.StringVar(&a.configPath, "config", "", "configuration file (default .proc-debug.yaml)")
	pf.BoolVar(&a.debug, "debug", false, "log at debug level")

	f := cmd.Flags()
	f.SortFlags = false
	f.BoolP("version", "V", false, "print version and exit")
	f.StringArrayVarP(&o.sel.Packages, "package", "p", nil, "package to build")
	f.BoolVar(&o.sel.Lib, "lib", false, "build only this package's library")
	f.BoolVar(&o.sel.Bins, "bins", false, "build all binaries")
	f.StringArrayVar(&o.sel.Bin, "bin", nil, "build only the specified binary")
	f.BoolVar(&o.sel.Examples, "examples", false, "build all examples")
	f.StringArrayVar(&o.sel.Example, "example", nil, "build only the specified example")
	f.BoolVar(&o.sel.Tests, "tests", false, "build all tests")
	f.StringArrayVar(&o.sel.Test, "test", nil, "build only the specified test target")
	f.BoolVar(&o.sel.Benches, "benches", false, "build all benches")
	f.StringArrayVar(&o.sel.Bench, "bench", nil, "build only the specified bench target")
	f.StringVarP(&o.sel.Features, "features", "F", "", "space or comma separated list of features to activate")
	f.BoolVar(&o.sel.AllFeatures, "all-features", false, "activate all available features")
	f.BoolVar(&o.sel.NoDefaultFeatures, "no-default-features", false, "do not activate the default feature")
	f.StringVar(&o.sel.Target, "target", "", "build for the target triple")
	f.StringArrayVarP(&o.paths, "path", "P", nil, "full or partial path of macro definition")
	f.StringArrayVarP(&o.not, "not", "n", nil, "hide invocations containing this text")
	f.UintVarP(&o.depth, "depth", "d", 0, "depth to show in macro output")
	f.UintVarP(&o.count, "count", "c", 0, "number of invocations to show")
	f.BoolVarP(&o.all, "all", "a", false, "show every invocation")
	f.BoolVar(&o.verbose, "verbose", false, "show macro output without truncation")
	f.BoolVar(&o.dryRun, "dry-run", false, "print the instrumentation plan without touching any file")

	cmd.AddCommand(newRestoreCmd(a, o), newInspectCmd(a), newConfigCmd(a))
	return cmd
}

// query builds the filter forwarded to the build. Without a path or keyword
// every invocation is shown: through match-all when nothing is excluded, and
// through an empty keyword, which every field contains, otherwise.
func (o *options) query(cmd *cobra.Command, terms []string) *query.Query {
	q := &query.Query{
		All:     o.all,
		Not:     o.not,
		Paths:   o.paths,
		Terms:   terms,
		Verbose: o.verbose,
	}
	if cmd.Flags().Changed("depth") {
		d := int(o.depth)
		q.Depth = &d
	}
	if cmd.Flags().Changed("count") {
		c := int(o.count)
		q.Count = &c
	}
	if q.Empty() {
		if len(q.Not) > 0 {
			q.Terms = []string{""}
		} else {
			q.All = true
		}
	}
	return q
}

// resolve loads the package graph and picks the packages to instrument.
func (a *app) resolve(ctx context.Context, o *options) (*model.Graph, string, []*model.Package, error) {
	manifest, err := a.manifest(o.sel.ManifestPath)
	if err != nil {
		return nil, "", nil, err
	}
	g, supportDir, err := workspace.Resolve(ctx, a.metadataLoader(), manifest, o.sel, a.support())
	if err != nil {
		return nil, "", nil, err
	}
	if g.WorkspaceRoot == "" {
		g.WorkspaceRoot = filepath.Dir(manifest)
	}

	support := graph.PackagesNamed(g, a.cfg.Support.Name)
	if len(support) == 0 {
		a.log.Warn("support library missing from the package graph", zap.String("name", a.cfg.Support.Name))
	}
	if roots := graph.BuildRoots(g, o.sel.Packages); len(roots) > 0 {
		g = graph.Prune(g, append(roots, support...))
	} else if len(o.sel.Packages) > 0 {
		a.log.Warn("no package matches --package", zap.Strings("specs", o.sel.Packages))
	}
	targets := graph.SelectTargets(g, support, graph.NameFilter(o.paths))
	for _, p := range targets {
		a.log.Info("selected", zap.String("package", p.String()))
	}
	return g, supportDir, targets, nil
}

// instrument patches every selected package, runs the build with q and
// rolls everything back, whatever the outcome.
func (a *app) instrument(ctx context.Context, o *options, q *query.Query) (err error) {
	_, supportDir, targets, err := a.resolve(ctx, o)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		a.log.Warn("no procedural macro crates selected")
	}

	guard := patch.NewEngine(a.cfg.BackupSuffix, a.log).NewGuard()
	defer func() {
		if rerr := guard.Rollback(); rerr != nil {
			a.log.Error("files left patched; run `cargo proc-debug restore`", zap.Error(rerr))
			if err == nil {
				err = rerr
			}
		}
	}()

	for _, p := range targets {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted: %w", err)
		}
		if err := patch.Instrument(guard, p, a.cfg.Support.Attribute, a.cfg.Support.Name, supportDir); err != nil {
			if procerr.KindOf(err) == 0 {
				err = procerr.WithPath(procerr.Patch, "instrumenting", p.String(), err)
			}
			return err
		}
		a.log.Info("instrumented", zap.String("package", p.String()))
	}

	env := []string{a.cfg.FlagsEnv + "=" + q.Encode()}
	a.log.Debug("query", zap.String("env", env[0]))
	return a.cargoBuilder().Build(ctx, o.sel.CheckArgs(), env)
}

// plan prints what a run would instrument without touching any file.
func (a *app) plan(ctx context.Context, o *options) error {
	g, supportDir, targets, err := a.resolve(ctx, o)
	if err != nil {
		return err
	}

	files := make([]string, len(targets))
	for i, p := range targets {
		files[i], _ = p.LibrarySource()
	}
	found := scanProviders(ctx, files, a.log)

	plan := &model.Plan{Workspace: g.WorkspaceRoot, Support: supportDir}
	for i, p := range targets {
		plan.Packages = append(plan.Packages, model.PlanEntry{
			ID:        p.ID,
			Name:      p.Name,
			Version:   p.Version,
			Source:    files[i],
			Manifest:  p.ManifestPath,
			Providers: found[i],
		})
	}
	_, _ = fmt.Fprintln(a.stdout, toon.EncodePlan(plan))
	return nil
}
