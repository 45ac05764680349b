package patch

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/phobologic/procdebug/internal/lang"
	"github.com/phobologic/procdebug/internal/model"
)

// DefaultAttribute is the capture wrapper attribute inserted in front of
// every provider declaration.
const DefaultAttribute = "::proc_debug::proc_debug"

var providerMarkers = []string{"#[proc_macro]", "#[proc_macro_attribute]", "#[proc_macro_derive"}

// RustSource returns a transform that strips comments and inserts
// `#[attr]` on its own line before each provider declaration marker.
func RustSource(attr string) Transform {
	pairs := make([]string, 0, 2*len(providerMarkers))
	for _, m := range providerMarkers {
		pairs = append(pairs, m, "#["+attr+"]\n"+m)
	}
	r := strings.NewReplacer(pairs...)

	return func(content []byte) ([]byte, error) {
		stripped, err := lang.StripComments(content)
		if err != nil {
			return nil, fmt.Errorf("removing comments: %w", err)
		}
		lines := strings.Split(string(stripped), "\n")
		for i, l := range lines {
			lines[i] = r.Replace(l)
		}
		return []byte(strings.Join(lines, "\n")), nil
	}
}

var bareKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Manifest returns a transform that appends a path dependency on the
// support library called name, unless the manifest already depends on it.
func Manifest(name, path string) Transform {
	return func(content []byte) ([]byte, error) {
		var doc map[string]any
		if err := toml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
		if declares(doc, name) {
			return content, nil
		}

		value, err := toml.Marshal(map[string]string{"path": filepath.ToSlash(path)})
		if err != nil {
			return nil, err
		}
		key := name
		if !bareKey.MatchString(key) {
			key = fmt.Sprintf("%q", key)
		}

		var b bytes.Buffer
		b.Write(content)
		if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\n[dependencies.%s]\n", key)
		b.Write(value)

		var check map[string]any
		if err := toml.Unmarshal(b.Bytes(), &check); err != nil {
			return nil, fmt.Errorf("manifest invalid after adding dependency: %w", err)
		}
		return b.Bytes(), nil
	}
}

// declares reports whether the manifest lists name under [dependencies].
func declares(doc map[string]any, name string) bool {
	deps, ok := doc["dependencies"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = deps[name]
	return ok
}

// Instrument patches the library entry point and the manifest of p through g.
func Instrument(g *Guard, p *model.Package, attr, supportName, supportPath string) error {
	src, ok := p.LibrarySource()
	if !ok {
		return fmt.Errorf("package %s has no library target", p)
	}
	if resolved, err := filepath.EvalSymlinks(src); err == nil {
		src = resolved
	}

	if err := g.Patch(src, RustSource(attr)); err != nil {
		return err
	}
	return g.Patch(p.ManifestPath, Manifest(supportName, supportPath))
}
