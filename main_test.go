package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/phobologic/procdebug/internal/config"
	"github.com/phobologic/procdebug/internal/discover"
	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/procerr"
	"github.com/phobologic/procdebug/internal/query"
	"github.com/phobologic/procdebug/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

const answerLib = `use proc_macro::TokenStream;

// Expands to 42.
#[proc_macro]
pub fn answer(_input: TokenStream) -> TokenStream {
    "42".parse().unwrap()
}
`

const answerManifest = `[package]
name = "answer"
version = "0.1.0"

[lib]
proc-macro = true
`

// loaderFunc serves a fresh graph per manifest so runs never share state.
type loaderFunc map[string]func() *model.Graph

func (l loaderFunc) Load(_ context.Context, manifest string, _ workspace.Selection) (*model.Graph, error) {
	build, ok := l[manifest]
	if !ok {
		return nil, procerr.WithPath(procerr.Resolution, "loading metadata of", manifest, os.ErrNotExist)
	}
	return build(), nil
}

// recordingBuilder snapshots the watched files while the build runs.
type recordingBuilder struct {
	mu     sync.Mutex
	watch  []string
	code   int
	calls  int
	args   []string
	env    []string
	during map[string]string
}

func (b *recordingBuilder) Build(_ context.Context, args, env []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.args = args
	b.env = env
	b.during = make(map[string]string)
	for _, p := range b.watch {
		if data, err := os.ReadFile(p); err == nil {
			b.during[p] = string(data)
		}
	}
	if b.code != 0 {
		return &procerr.Error{Kind: procerr.Build, Op: "build failed", Code: b.code}
	}
	return nil
}

type fixture struct {
	root     string
	lib      string
	manifest string
	main     string
	support  string
	env      map[string]string
	loader   loaderFunc
	builder  *recordingBuilder
}

// newFixture lays out a workspace with one binary using one function-like
// macro crate, plus the support library under the target directory. The
// support library depends on a macro crate of its own, which must never be
// instrumented.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{root: root, env: map[string]string{}}

	writeTestFile(t, root, "Cargo.toml", "[workspace]\nmembers = [\"app\", \"answer\"]\n")
	writeTestFile(t, root, config.FileName, "color: false\nlog:\n  level: warn\n")
	writeTestFile(t, root, "app/Cargo.toml", "[package]\nname = \"app\"\nversion = \"0.1.0\"\n")
	f.main = writeTestFile(t, root, "app/src/main.rs", "fn main() {\n    println!(\"{}\", answer::answer!());\n}\n")
	f.manifest = writeTestFile(t, root, "answer/Cargo.toml", answerManifest)
	f.lib = writeTestFile(t, root, "answer/src/lib.rs", answerLib)

	target := filepath.Join(root, "target")
	f.support = filepath.Join(target, workspace.SupportRoot, "proc-debug-"+version)
	writeTestFile(t, f.support, "Cargo.toml", "[package]\nname = \"proc-debug\"\n")

	f.loader = loaderFunc{
		filepath.Join(root, "Cargo.toml"): func() *model.Graph {
			g := model.NewGraph()
			g.TargetDir = target
			g.WorkspaceRoot = root
			g.Packages["app"] = &model.Package{
				ID: "app", Name: "app", Version: "0.1.0",
				ManifestPath: filepath.Join(root, "app", "Cargo.toml"),
				Targets:      []model.Target{{Name: "app", Kinds: []model.TargetKind{model.Binary}, SrcPath: f.main}},
				Deps:         []string{"answer"},
			}
			g.Packages["answer"] = &model.Package{
				ID: "answer", Name: "answer", Version: "0.1.0",
				ManifestPath: f.manifest,
				Targets:      []model.Target{{Name: "answer", Kinds: []model.TargetKind{model.ProcMacro}, SrcPath: "src/lib.rs"}},
			}
			return g
		},
		filepath.Join(f.support, "Cargo.toml"): func() *model.Graph {
			g := model.NewGraph()
			g.TargetDir = target
			g.Packages["proc-debug"] = &model.Package{
				ID: "proc-debug", Name: "proc-debug", Version: version,
				ManifestPath: filepath.Join(f.support, "Cargo.toml"),
				Targets:      []model.Target{{Name: "proc_debug", Kinds: []model.TargetKind{model.Library}}},
				Deps:         []string{"proc-debug-macro"},
			}
			g.Packages["proc-debug-macro"] = &model.Package{
				ID: "proc-debug-macro", Name: "proc-debug-macro", Version: version,
				ManifestPath: filepath.Join(f.support, "macro", "Cargo.toml"),
				Targets:      []model.Target{{Name: "proc_debug_macro", Kinds: []model.TargetKind{model.ProcMacro}}},
			}
			return g
		},
	}
	f.builder = &recordingBuilder{watch: []string{f.lib, f.manifest}}
	return f
}

func (f *fixture) run(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	a := &app{
		stdout: &stdout,
		stderr: &stderr,
		dir:    f.root,
		lookupEnv: func(k string) (string, bool) {
			v, ok := f.env[k]
			return v, ok
		},
		loader:  f.loader,
		builder: f.builder,
	}
	err := a.execute(ctx, append([]string{"proc-debug"}, args...))
	return stdout.String(), stderr.String(), err
}

func (f *fixture) assertPristine(t *testing.T) {
	t.Helper()
	if got := readTestFile(t, f.lib); got != answerLib {
		t.Errorf("library source not restored:\n%s", got)
	}
	if got := readTestFile(t, f.manifest); got != answerManifest {
		t.Errorf("manifest not restored:\n%s", got)
	}
	left, err := discover.Backups(f.root, "proc-debug-bak")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("backups left behind: %v", left)
	}
}

func TestRunInstrumentsAndRestores(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, stderr, err := f.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}

	b := f.builder
	if b.calls != 1 {
		t.Fatalf("build ran %d times, want 1", b.calls)
	}
	if strings.Join(b.args, " ") != "check" {
		t.Errorf("build args = %v", b.args)
	}
	if len(b.env) != 1 || b.env[0] != "PROC_DEBUG_FLAGS=--all" {
		t.Errorf("build env = %v", b.env)
	}

	lib := b.during[f.lib]
	if !strings.Contains(lib, "#[::proc_debug::proc_debug]\n#[proc_macro]") {
		t.Errorf("library not instrumented during build:\n%s", lib)
	}
	if strings.Contains(lib, "Expands to 42") {
		t.Errorf("comments kept in instrumented source:\n%s", lib)
	}
	manifest := b.during[f.manifest]
	if !strings.Contains(manifest, "[dependencies.proc-debug]") || !strings.Contains(manifest, f.support) {
		t.Errorf("manifest not instrumented during build:\n%s", manifest)
	}

	f.assertPristine(t)
}

func TestRunForwardsFilters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		args         []string
		wantArgs     string
		wantEnv      string
		instrumented bool
	}{
		{
			name:         "path and keyword",
			args:         []string{"-P", "::answer::answer", "-d", "2", "--lib", "foo"},
			wantArgs:     "check --lib",
			wantEnv:      "PROC_DEBUG_FLAGS=--path ::answer::answer --depth 2 -- foo",
			instrumented: true,
		},
		{
			name:         "exclusion only",
			args:         []string{"-n", "skip me", "-p", "app"},
			wantArgs:     "check --package app",
			wantEnv:      "PROC_DEBUG_FLAGS=--not 'skip me' -- ''",
			instrumented: true,
		},
		{
			name:         "explicit all with count",
			args:         []string{"-a", "-c", "3", "-P", "answer"},
			wantArgs:     "check",
			wantEnv:      "PROC_DEBUG_FLAGS=--all --path answer --count 3",
			instrumented: true,
		},
		{
			name:         "other crate",
			args:         []string{"-P", "::other::thing"},
			wantArgs:     "check",
			wantEnv:      "PROC_DEBUG_FLAGS=--path ::other::thing",
			instrumented: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			_, stderr, err := f.run(context.Background(), tt.args...)
			if err != nil {
				t.Fatalf("run: %v\nstderr: %s", err, stderr)
			}
			b := f.builder
			if got := strings.Join(b.args, " "); got != tt.wantArgs {
				t.Errorf("build args = %q, want %q", got, tt.wantArgs)
			}
			if len(b.env) != 1 || b.env[0] != tt.wantEnv {
				t.Errorf("build env = %q, want %q", b.env, tt.wantEnv)
			}
			got := strings.Contains(b.during[f.lib], "proc_debug::proc_debug")
			if got != tt.instrumented {
				t.Errorf("instrumented = %v, want %v", got, tt.instrumented)
			}
			f.assertPristine(t)
		})
	}
}

func TestRunExclusionOnlyShowsTheRest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, stderr, err := f.run(context.Background(), "--not", "skip me")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if len(f.builder.env) != 1 {
		t.Fatalf("build env = %q", f.builder.env)
	}
	raw, ok := strings.CutPrefix(f.builder.env[0], query.DefaultEnv+"=")
	if !ok {
		t.Fatalf("build env = %q", f.builder.env)
	}
	args, err := query.Split(raw)
	if err != nil {
		t.Fatal(err)
	}
	q, err := query.Parse(args)
	if err != nil {
		t.Fatal(err)
	}

	e := &model.InvocationEntry{Label: "build", File: "src/main.rs", ModulePath: "app", MacroName: "answer"}
	if !q.Evaluate(e, 1) {
		t.Errorf("%q hides an unrelated invocation", raw)
	}
	e.File = "skip me.rs"
	if q.Evaluate(e, 1) {
		t.Errorf("%q shows an excluded invocation", raw)
	}
}

func TestRunBuildFailureRestores(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.builder.code = 101

	_, _, err := f.run(context.Background())
	if err == nil {
		t.Fatal("expected build error")
	}
	if code := procerr.ExitCode(err); code != 101 {
		t.Errorf("exit code = %d, want 101", code)
	}
	f.assertPristine(t)
}

func TestRunRestoresLeftoverBackup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	leftover := "#[::proc_debug::proc_debug]\n" + answerLib
	writeTestFile(t, f.root, "answer/src/lib.rs.proc-debug-bak", answerLib)
	writeTestFile(t, f.root, "answer/src/lib.rs", leftover)

	_, stderr, err := f.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	if got := f.builder.during[f.lib]; got != leftover {
		t.Errorf("leftover patch was rewritten again:\n%s", got)
	}
	f.assertPristine(t)
}

func TestRunInterrupted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := f.run(ctx)
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("expected interruption, got %v", err)
	}
	if f.builder.calls != 0 {
		t.Error("build ran after interruption")
	}
	f.assertPristine(t)
}

func TestRunMissingSupport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := os.RemoveAll(f.support); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.run(context.Background())
	if procerr.KindOf(err) != procerr.Resolution {
		t.Fatalf("expected resolution error, got %v", err)
	}
	if f.builder.calls != 0 {
		t.Error("build ran without support library")
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	stdout, stderr, err := f.run(context.Background(), "--dry-run")
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{
		"workspace: " + f.root,
		"packages[1]{name,version,source,manifest}:",
		"  answer,0.1.0," + f.lib + "," + f.manifest,
		"providers[1]{package,name,kind,line,signature}:",
		"  answer,answer,function,5,",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("plan missing %q:\n%s", want, stdout)
		}
	}
	if f.builder.calls != 0 {
		t.Error("dry run started a build")
	}
	f.assertPristine(t)
}

func TestRestoreCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mainSrc := readTestFile(t, f.main)
	writeTestFile(t, f.root, "answer/src/lib.rs.proc-debug-bak", answerLib)
	writeTestFile(t, f.root, "answer/src/lib.rs", "patched")
	writeTestFile(t, f.root, "app/src/main.rs.proc-debug-bak", mainSrc)
	writeTestFile(t, f.root, "app/src/main.rs", "patched")

	stdout, stderr, err := f.run(context.Background(), "restore")
	if err != nil {
		t.Fatalf("restore: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "restored 2 file(s)") {
		t.Errorf("unexpected output: %q", stdout)
	}
	if got := readTestFile(t, f.main); got != mainSrc {
		t.Errorf("main.rs not restored: %q", got)
	}
	f.assertPristine(t)
}

func TestInspect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	out := writeTestFile(t, t.TempDir(), "out.rs", "impl Answer { fn answer() -> u8 { 42 } }")

	stdout, stderr, err := f.run(context.Background(), "inspect",
		"--kind", "derive", "--name", "Answer", "--module", "answer",
		"--file", "src/main.rs", "--line", "3",
		"--input", "Answer", "--input", "struct S;", "--emit", out)
	if err != nil {
		t.Fatalf("inspect: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{
		"input of answer::Answer (src/main.rs:3)",
		"#[derive(Answer)]",
		"output of answer::Answer (src/main.rs:3)",
		"impl Answer { fn answer () -> u8 { 42 } }",
		"emitted by answer::Answer",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestInspectRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	out := writeTestFile(t, t.TempDir(), "out.rs", "struct S;")

	stdout, _, err := f.run(context.Background(), "inspect", "--kind", "bang", "--name", "answer", out)
	if err == nil || !strings.Contains(err.Error(), `invalid --kind "bang"`) {
		t.Fatalf("err = %v, want invalid --kind", err)
	}
	if stdout != "" {
		t.Errorf("rejected invocation was displayed:\n%s", stdout)
	}
}

func TestInspectFiltered(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.env["PROC_DEBUG_FLAGS"] = "--path other"
	out := writeTestFile(t, t.TempDir(), "out.rs", "struct S;")

	stdout, _, err := f.run(context.Background(), "inspect", "--name", "answer", out)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if stdout != "" {
		t.Errorf("filtered invocation was displayed:\n%s", stdout)
	}
}

func TestInspectQueryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   string
		wantErr bool
		stderr  string
	}{
		{"help", "--help", false, "Usage: proc-debug"},
		{"malformed", "--depth x", true, `Set PROC_DEBUG_FLAGS="--help" for more information.`},
		{"unbalanced quote", `"open`, true, `Set PROC_DEBUG_FLAGS="--help" for more information.`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.env["PROC_DEBUG_FLAGS"] = tt.flags
			out := writeTestFile(t, t.TempDir(), "out.rs", "struct S;")

			stdout, stderr, err := f.run(context.Background(), "inspect", "--name", "answer", out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && procerr.KindOf(err) != procerr.Query {
				t.Errorf("error kind = %v, want query", procerr.KindOf(err))
			}
			if !strings.Contains(stderr, tt.stderr) {
				t.Errorf("stderr missing %q:\n%s", tt.stderr, stderr)
			}
			if stdout != "" {
				t.Errorf("nothing should be displayed, got:\n%s", stdout)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	stdout, _, err := f.run(context.Background(), "-V")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := fmt.Sprintf("cargo-proc-debug %s\n", version); stdout != want {
		t.Errorf("version output = %q, want %q", stdout, want)
	}
}

func TestConfigInit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	run := func(args ...string) (string, error) {
		var stdout, stderr bytes.Buffer
		a := &app{stdout: &stdout, stderr: &stderr, dir: dir}
		err := a.execute(context.Background(), append([]string{"proc-debug", "config", "init"}, args...))
		return stdout.String(), err
	}

	out, err := run("--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out, "backup_suffix: proc-debug-bak") {
		t.Errorf("unexpected dry run output:\n%s", out)
	}

	if _, err := run("custom.yaml"); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load(dir, filepath.Join(dir, "custom.yaml"))
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Support.Version != version {
		t.Errorf("support version = %q, want %q", cfg.Support.Version, version)
	}

	if _, err := run("custom.yaml"); err == nil {
		t.Error("expected refusal to overwrite")
	}
	if _, err := run("--force", "custom.yaml"); err != nil {
		t.Errorf("forced init: %v", err)
	}
}

func TestScanProviders(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	files := []string{
		writeTestFile(t, dir, "a.rs", answerLib),
		"",
		filepath.Join(dir, "missing.rs"),
		writeTestFile(t, dir, "b.rs", "#[proc_macro_derive(B)]\npub fn b(i: TokenStream) -> TokenStream { i }\nfn helper() {}\n"),
		writeTestFile(t, dir, "generated.in", answerLib),
	}

	found := scanProviders(context.Background(), files, zaptest.NewLogger(t))
	if len(found) != len(files) {
		t.Fatalf("got %d results, want %d", len(found), len(files))
	}
	if len(found[0]) != 1 || found[0][0].Name != "answer" || found[0][0].Line != 5 {
		t.Errorf("a.rs providers = %+v", found[0])
	}
	if len(found[1]) != 0 || len(found[2]) != 0 {
		t.Errorf("expected no providers for empty and missing paths: %+v %+v", found[1], found[2])
	}
	if len(found[3]) != 1 || found[3][0].Kind != model.DeriveLike {
		t.Errorf("b.rs providers = %+v", found[3])
	}
	if len(found[4]) != 0 {
		t.Errorf("non-Rust source scanned: %+v", found[4])
	}
}
