package graph

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/phobologic/procdebug/internal/model"
)

// pkg builds a package; macro packages get a proc-macro library target.
func pkg(name string, macro bool, deps ...string) *model.Package {
	kind := model.Library
	if macro {
		kind = model.ProcMacro
	}
	return &model.Package{
		ID:      name + " 0.1.0",
		Name:    name,
		Version: "0.1.0",
		Targets: []model.Target{{Name: name, Kinds: []model.TargetKind{kind}, SrcPath: "src/lib.rs"}},
		Deps:    ids(deps...),
	}
}

func ids(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + " 0.1.0"
	}
	return out
}

func build(pkgs ...*model.Package) *model.Graph {
	g := model.NewGraph()
	for _, p := range pkgs {
		g.Packages[p.ID] = p
	}
	return g
}

func names(pkgs []*model.Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.Name)
	}
	return out
}

func TestClosure(t *testing.T) {
	t.Parallel()

	g := build(
		pkg("a", false, "b", "c"),
		pkg("b", false, "d"),
		pkg("c", false, "d"),
		pkg("d", false),
		pkg("e", false),
	)
	got := SortedKeys(Closure(g, ids("a")))
	want := ids("a", "b", "c", "d")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Closure = %v, want %v", got, want)
	}
}

func TestClosureCycle(t *testing.T) {
	t.Parallel()

	g := build(
		pkg("a", false, "b"),
		pkg("b", false, "c"),
		pkg("c", false, "a", "a"),
	)
	got := SortedKeys(Closure(g, ids("b", "b")))
	want := ids("a", "b", "c")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Closure = %v, want %v", got, want)
	}
}

func TestClosureUnknownSeed(t *testing.T) {
	t.Parallel()

	got := Closure(build(), []string{"ghost"})
	if len(got) != 1 {
		t.Errorf("Closure = %v, want just the seed", got)
	}
}

func TestSelectTargets(t *testing.T) {
	t.Parallel()

	g := build(
		pkg("app", false, "answer", "proc-debug"),
		pkg("answer", true, "syn"),
		pkg("derive-more", true),
		pkg("proc-debug", false, "proc-debug-macro", "syn"),
		pkg("proc-debug-macro", true, "syn"),
		pkg("syn", false),
	)

	tests := []struct {
		name   string
		filter map[string]struct{}
		want   []string
	}{
		{"no filter", nil, []string{"answer", "derive-more"}},
		{"name filter", NameFilter([]string{"::answer::m::f"}), []string{"answer"}},
		{"underscore name", NameFilter([]string{"::derive_more::x"}), []string{"derive-more"}},
		{"relative paths ignored", NameFilter([]string{"m::f"}), []string{"answer", "derive-more"}},
		{"support macro never selected", NameFilter([]string{"::proc-debug-macro"}), []string{}},
	}

	support := PackagesNamed(g, "proc-debug")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := names(SelectTargets(g, support, tt.filter))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SelectTargets = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPruneToBuildRoots(t *testing.T) {
	t.Parallel()

	// devmacro is reachable only through a dev edge, which the loader
	// already dropped; other is a workspace member app does not use.
	g := build(
		pkg("app", false, "answer"),
		pkg("answer", true, "syn"),
		pkg("devmacro", true),
		pkg("other", false, "othermacro"),
		pkg("othermacro", true),
		pkg("syn", false),
	)
	g.Roots = ids("app", "other")
	g.Members = ids("app", "other", "devmacro")

	tests := []struct {
		name  string
		specs []string
		want  []string
	}{
		{"default roots", nil, []string{"answer", "othermacro"}},
		{"package", []string{"app"}, []string{"answer"}},
		{"package with version", []string{"other@0.1.0"}, []string{"othermacro"}},
		{"legacy version separator", []string{"other:0.1"}, []string{"othermacro"}},
		{"wrong version", []string{"other@0.2.0"}, []string{"answer", "devmacro", "othermacro"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pruned := Prune(g, BuildRoots(g, tt.specs))
			got := names(SelectTargets(pruned, nil, nil))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SelectTargets = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPruneKeepsSupport(t *testing.T) {
	t.Parallel()

	g := build(
		pkg("app", false),
		pkg("proc-debug", false, "proc-debug-macro"),
		pkg("proc-debug-macro", true),
	)
	support := PackagesNamed(g, "proc-debug")
	pruned := Prune(g, append(ids("app"), support...))
	if len(pruned.Packages) != 3 {
		t.Fatalf("pruned graph has %d packages, want 3", len(pruned.Packages))
	}
	if got := SelectTargets(pruned, support, nil); len(got) != 0 {
		t.Errorf("SelectTargets = %v, want none", names(got))
	}
	if Prune(g, nil) != g {
		t.Error("Prune without roots returned a copy")
	}
}

func TestNameFilter(t *testing.T) {
	t.Parallel()

	got := SortedKeys(NameFilter([]string{"::a::b", "::c", "d::e", "::", "::a"}))
	want := []string{"a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NameFilter = %v, want %v", got, want)
	}
}

// TestSelectionExcludesSupportClosure checks random graphs, cycles included.
func TestSelectionExcludesSupportClosure(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(1))
	for round := 0; round < 200; round++ {
		n := 2 + r.Intn(12)
		var pkgs []*model.Package
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < n; j++ {
				if j != i && r.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("p%d", j))
				}
			}
			pkgs = append(pkgs, pkg(fmt.Sprintf("p%d", i), r.Intn(2) == 0, deps...))
		}
		g := build(pkgs...)
		support := ids(fmt.Sprintf("p%d", r.Intn(n)))
		excluded := Closure(g, support)

		for _, p := range SelectTargets(g, support, nil) {
			if _, ok := excluded[p.ID]; ok {
				t.Fatalf("round %d: selected %s which the support library depends on", round, p.ID)
			}
			if !p.IsMacroProvider() {
				t.Fatalf("round %d: selected non-macro package %s", round, p.ID)
			}
		}
		for id, p := range g.Packages {
			_, out := excluded[id]
			if p.IsMacroProvider() && !out && !contains(names(SelectTargets(g, support, nil)), p.Name) {
				t.Fatalf("round %d: macro package %s missing from selection", round, id)
			}
		}
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
