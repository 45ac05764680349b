// Package graph selects the macro provider packages that must be instrumented.
package graph

import (
	"sort"
	"strings"

	"github.com/phobologic/procdebug/internal/model"
)

// Closure returns seeds plus every package reachable from them over
// dependency edges. Expansion is breadth first over sets and stops once a
// round discovers nothing new, so cycles and duplicate edges are harmless.
func Closure(g *model.Graph, seeds []string) map[string]struct{} {
	visited := make(map[string]struct{}, len(seeds))
	frontier := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		frontier[id] = struct{}{}
	}

	for len(frontier) > 0 {
		next := make(map[string]struct{})
		for id := range frontier {
			visited[id] = struct{}{}
		}
		for id := range frontier {
			p := g.Packages[id]
			if p == nil {
				continue
			}
			for _, dep := range p.Deps {
				if _, ok := visited[dep]; !ok {
					next[dep] = struct{}{}
				}
			}
		}
		frontier = next
	}
	return visited
}

// BuildRoots returns the IDs of the packages a build selecting specs starts
// from. Without specs these are the graph's roots. A spec is NAME,
// NAME@VERSION or NAME:VERSION; specs matching nothing are ignored.
func BuildRoots(g *model.Graph, specs []string) []string {
	if len(specs) == 0 {
		return append([]string(nil), g.Roots...)
	}
	var roots []string
	for id, p := range g.Packages {
		for _, spec := range specs {
			if matchesSpec(p, spec) {
				roots = append(roots, id)
				break
			}
		}
	}
	sort.Strings(roots)
	return roots
}

func matchesSpec(p *model.Package, spec string) bool {
	name, version, ok := strings.Cut(spec, "@")
	if !ok {
		name, version, _ = strings.Cut(spec, ":")
	}
	if p.Name != name {
		return false
	}
	return version == "" || p.Version == version || strings.HasPrefix(p.Version, version+".")
}

// Prune returns a graph holding only the packages reachable from roots.
// An empty roots list leaves g as is.
func Prune(g *model.Graph, roots []string) *model.Graph {
	if len(roots) == 0 {
		return g
	}
	out := model.NewGraph()
	out.TargetDir = g.TargetDir
	out.WorkspaceRoot = g.WorkspaceRoot
	out.Roots = g.Roots
	out.Members = g.Members
	for id := range Closure(g, roots) {
		if p, ok := g.Packages[id]; ok {
			out.Packages[id] = p
		}
	}
	return out
}

// PackagesNamed returns the IDs of every package called name, sorted.
func PackagesNamed(g *model.Graph, name string) []string {
	var ids []string
	for id, p := range g.Packages {
		if p.Name == name {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// NameFilter extracts package names from absolute path patterns. A pattern
// such as `::my_crate::m::f` restricts instrumentation to `my_crate`;
// relative patterns do not restrict anything.
func NameFilter(paths []string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, p := range paths {
		if !strings.HasPrefix(p, "::") {
			continue
		}
		first, _, _ := strings.Cut(strings.TrimPrefix(p, "::"), "::")
		if first != "" {
			names[first] = struct{}{}
		}
	}
	return names
}

// matchesName reports whether a package name passes the filter. Package
// names may use `-` where paths use `_`.
func matchesName(name string, filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return true
	}
	if _, ok := filter[name]; ok {
		return true
	}
	_, ok := filter[strings.ReplaceAll(name, "-", "_")]
	return ok
}

// SelectTargets returns the macro provider packages passing the name filter,
// minus the support packages and everything they depend on. The result is
// sorted by ID.
func SelectTargets(g *model.Graph, support []string, names map[string]struct{}) []*model.Package {
	excluded := Closure(g, support)

	var selected []*model.Package
	for id, p := range g.Packages {
		if _, ok := excluded[id]; ok {
			continue
		}
		if !p.IsMacroProvider() || !matchesName(p.Name, names) {
			continue
		}
		selected = append(selected, p)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].ID < selected[j].ID })
	return selected
}

// SortedKeys returns the keys of a set in ascending order.
func SortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
