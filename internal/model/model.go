// Package model defines core data structures for procdebug.
package model

import (
	"fmt"
	"path/filepath"
)

// TargetKind is the kind of a build target declared by a package.
type TargetKind string

const (
	Library    TargetKind = "lib"
	ProcMacro  TargetKind = "proc-macro"
	Binary     TargetKind = "bin"
	Example    TargetKind = "example"
	Test       TargetKind = "test"
	Bench      TargetKind = "bench"
	BuildBuild TargetKind = "custom-build"
)

// Target is one declared target of a package.
type Target struct {
	Name    string
	Kinds   []TargetKind
	SrcPath string
}

// Has reports whether the target carries kind k.
func (t Target) Has(k TargetKind) bool {
	for _, tk := range t.Kinds {
		if tk == k {
			return true
		}
	}
	return false
}

// IsLibrary reports whether the target is the package's library target.
// A proc-macro crate's library target is of kind proc-macro only.
func (t Target) IsLibrary() bool {
	return t.Has(ProcMacro) || t.Has(Library) || t.Has("rlib") || t.Has("dylib") ||
		t.Has("cdylib") || t.Has("staticlib")
}

// Package is a node of the resolved dependency graph.
type Package struct {
	ID           string
	Name         string
	Version      string
	ManifestPath string
	Targets      []Target
	// Deps holds the IDs of direct dependencies active for this run.
	Deps []string
}

// Library returns the library target, if any.
func (p *Package) Library() (Target, bool) {
	for _, t := range p.Targets {
		if t.IsLibrary() {
			return t, true
		}
	}
	return Target{}, false
}

// LibrarySource returns the path of the library entry point. Relative
// source paths are taken relative to the manifest directory.
func (p *Package) LibrarySource() (string, bool) {
	lib, ok := p.Library()
	if !ok {
		return "", false
	}
	if filepath.IsAbs(lib.SrcPath) {
		return lib.SrcPath, true
	}
	return filepath.Join(filepath.Dir(p.ManifestPath), lib.SrcPath), true
}

// IsMacroProvider reports whether the library target exports macro-provider capability.
func (p *Package) IsMacroProvider() bool {
	lib, ok := p.Library()
	return ok && lib.Has(ProcMacro)
}

func (p *Package) String() string {
	return fmt.Sprintf("%s v%s", p.Name, p.Version)
}

// Graph is the resolved package graph of one run. Read-only once loaded.
type Graph struct {
	Packages map[string]*Package
	// TargetDir is the build output directory reported by the host tool.
	TargetDir string
	// WorkspaceRoot is the directory of the workspace manifest.
	WorkspaceRoot string
	// Roots holds the IDs of the packages a build without --package covers.
	Roots []string
	// Members holds the IDs of every workspace member.
	Members []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{Packages: make(map[string]*Package)}
}

// Merge adds every package of other that is not already present. Roots and
// members of other are not merged.
func (g *Graph) Merge(other *Graph) {
	for id, p := range other.Packages {
		if _, ok := g.Packages[id]; !ok {
			g.Packages[id] = p
		}
	}
	if g.TargetDir == "" {
		g.TargetDir = other.TargetDir
	}
}

// MacroKind is how a macro provider is invoked.
type MacroKind string

const (
	FunctionLike  MacroKind = "function"
	AttributeLike MacroKind = "attribute"
	DeriveLike    MacroKind = "derive"
	UnknownKind   MacroKind = "unknown"
)

// ParseMacroKind maps the wrapper's kind string to a MacroKind.
func ParseMacroKind(s string) MacroKind {
	switch MacroKind(s) {
	case FunctionLike, AttributeLike, DeriveLike:
		return MacroKind(s)
	}
	return UnknownKind
}

// Provider is one macro-provider declaration found in a library source file.
type Provider struct {
	Name      string
	Kind      MacroKind
	Line      int
	File      string
	Signature string
}

// ModificationRecord identifies one rewritten file and its backup.
type ModificationRecord struct {
	Path   string
	Backup string
	// Preexisting is set when the backup was left behind by an earlier unfinished run.
	Preexisting bool
}

// InvocationEntry is one observed macro-provider call.
type InvocationEntry struct {
	Label      string
	File       string
	Line       int
	ModulePath string
	Kind       MacroKind
	MacroName  string
	Inputs     []string
}

// QualifiedName returns MODULE::NAME.
func (e *InvocationEntry) QualifiedName() string {
	return e.ModulePath + "::" + e.MacroName
}

// Location returns FILE:LINE.
func (e *InvocationEntry) Location() string {
	return fmt.Sprintf("%s:%d", e.File, e.Line)
}

// PlanEntry describes one package selected for instrumentation.
type PlanEntry struct {
	ID        string
	Name      string
	Version   string
	Source    string
	Manifest  string
	Providers []Provider
}

// Plan is the full instrumentation plan of a run, ready for serialization.
type Plan struct {
	Workspace string
	Support   string
	Packages  []PlanEntry
}
