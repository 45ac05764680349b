// Package workspace loads the package graph from the host build tool and
// runs the build.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/procerr"
)

// DefaultTimeout bounds one metadata query.
const DefaultTimeout = 2 * time.Minute

// Loader loads the resolved package graph of a manifest.
type Loader interface {
	Load(ctx context.Context, manifest string, sel Selection) (*model.Graph, error)
}

// CargoLoader runs `cargo metadata`.
type CargoLoader struct {
	Cargo   string
	Timeout time.Duration
	Log     *zap.Logger
}

// Load runs the metadata query for manifest and parses its output.
func (l *CargoLoader) Load(ctx context.Context, manifest string, sel Selection) (*model.Graph, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := sel.MetadataArgs(manifest)
	if l.Log != nil {
		l.Log.Debug("loading metadata", zap.String("cargo", l.Cargo), zap.Strings("args", args))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.Cargo, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, procerr.WithPath(procerr.Resolution, "loading metadata of", manifest, err)
	}
	g, err := ParseMetadata(out, sel.DevUnits())
	if err != nil {
		return nil, procerr.WithPath(procerr.Resolution, "parsing metadata of", manifest, err)
	}
	return g, nil
}

// ParseMetadata builds a graph from `cargo metadata --format-version 1`
// output. Dev-dependency edges are kept only when devUnits is set.
func ParseMetadata(data []byte, devUnits bool) (*model.Graph, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("metadata is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	resolve := doc.Get("resolve")
	if !resolve.Exists() || resolve.Type == gjson.Null {
		return nil, errors.New("metadata has no dependency resolution")
	}

	g := model.NewGraph()
	g.TargetDir = doc.Get("target_directory").String()
	g.WorkspaceRoot = doc.Get("workspace_root").String()
	g.Members = ids(doc.Get("workspace_members"))
	switch root := resolve.Get("root"); {
	case root.Type == gjson.String && root.String() != "":
		g.Roots = []string{root.String()}
	case doc.Get("workspace_default_members").Exists():
		g.Roots = ids(doc.Get("workspace_default_members"))
	default:
		g.Roots = g.Members
	}

	for _, p := range doc.Get("packages").Array() {
		pkg := &model.Package{
			ID:           p.Get("id").String(),
			Name:         p.Get("name").String(),
			Version:      p.Get("version").String(),
			ManifestPath: p.Get("manifest_path").String(),
		}
		for _, t := range p.Get("targets").Array() {
			target := model.Target{Name: t.Get("name").String(), SrcPath: t.Get("src_path").String()}
			for _, k := range t.Get("kind").Array() {
				target.Kinds = append(target.Kinds, model.TargetKind(k.String()))
			}
			pkg.Targets = append(pkg.Targets, target)
		}
		if pkg.ID == "" {
			return nil, fmt.Errorf("package %q has no id", pkg.Name)
		}
		g.Packages[pkg.ID] = pkg
	}

	for _, node := range resolve.Get("nodes").Array() {
		pkg := g.Packages[node.Get("id").String()]
		if pkg == nil {
			continue
		}
		deps := node.Get("deps")
		if !deps.Exists() {
			for _, d := range node.Get("dependencies").Array() {
				pkg.Deps = append(pkg.Deps, d.String())
			}
			continue
		}
		for _, d := range deps.Array() {
			if activeEdge(d.Get("dep_kinds"), devUnits) {
				pkg.Deps = append(pkg.Deps, d.Get("pkg").String())
			}
		}
	}
	return g, nil
}

// activeEdge reports whether any kind of a dependency edge is built for this
// run. A missing kind list means a normal dependency.
func activeEdge(kinds gjson.Result, devUnits bool) bool {
	if !kinds.Exists() || len(kinds.Array()) == 0 {
		return true
	}
	for _, k := range kinds.Array() {
		if k.Get("kind").String() != "dev" || devUnits {
			return true
		}
	}
	return false
}

func ids(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}
