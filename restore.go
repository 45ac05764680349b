package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/discover"
	"github.com/phobologic/procdebug/internal/graph"
	"github.com/phobologic/procdebug/internal/patch"
	"github.com/phobologic/procdebug/internal/procerr"
	"github.com/phobologic/procdebug/internal/workspace"
)

func newRestoreCmd(a *app, o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore files left patched by an interrupted run",
		Long: `Moves every backup left by an interrupted run back over the file it was
taken from. Backups are looked up next to the manifest and library entry point
of every package in the graph, and anywhere under the workspace root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.restore(cmd.Context(), o.sel.ManifestPath)
		},
	}
}

func (a *app) restore(ctx context.Context, explicit string) error {
	manifest, err := a.manifest(explicit)
	if err != nil {
		return err
	}
	engine := patch.NewEngine(a.cfg.BackupSuffix, a.log)

	candidates := make(map[string]struct{})
	g, err := a.metadataLoader().Load(ctx, manifest, workspace.Selection{})
	if err != nil {
		a.log.Warn("package graph unavailable, only searching the workspace", zap.Error(err))
	} else {
		for _, p := range g.Packages {
			candidates[p.ManifestPath] = struct{}{}
			if src, ok := p.LibrarySource(); ok {
				candidates[src] = struct{}{}
			}
		}
	}

	root := filepath.Dir(manifest)
	if g != nil && g.WorkspaceRoot != "" {
		root = g.WorkspaceRoot
	}
	swept, err := discover.Backups(root, engine.Suffix())
	if err != nil {
		return fmt.Errorf("searching %s for backups: %w", root, err)
	}
	for _, path := range swept {
		candidates[path] = struct{}{}
	}

	restored := 0
	var errs []error
	for _, path := range graph.SortedKeys(candidates) {
		if _, err := os.Lstat(engine.BackupPath(path)); err != nil {
			continue
		}
		if err := engine.Unpatch(path); err != nil {
			a.log.Error("restore failed", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		a.log.Info("restored", zap.String("path", path))
		restored++
	}

	_, _ = fmt.Fprintf(a.stdout, "restored %d file(s)\n", restored)
	if len(errs) > 0 {
		return procerr.New(procerr.Rollback, "restoring", errors.Join(errs...))
	}
	return nil
}
