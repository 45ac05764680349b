package workspace

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/procerr"
)

// SupportRoot is the directory under the build output directory that holds
// downloaded copies of the support library.
const SupportRoot = "proc-debug-root"

// Support identifies the instrumentation support library.
type Support struct {
	Name    string
	Version string
	// Path overrides the default location under the target directory.
	Path string
}

// Dir returns the support library directory for a workspace whose build
// output goes to targetDir.
func (s Support) Dir(targetDir string) string {
	if s.Path != "" {
		return s.Path
	}
	return filepath.Join(targetDir, SupportRoot, s.Name+"-"+s.Version)
}

// Resolve loads the workspace graph of manifest, locates the support library
// and merges the support library's own graph into the result. It returns the
// merged graph and the support library directory.
func Resolve(ctx context.Context, l Loader, manifest string, sel Selection, s Support) (*model.Graph, string, error) {
	g, err := l.Load(ctx, manifest, sel)
	if err != nil {
		return nil, "", err
	}

	dir, err := filepath.Abs(s.Dir(g.TargetDir))
	if err != nil {
		return nil, "", procerr.New(procerr.Resolution, "locating support library", err)
	}
	supportManifest := filepath.Join(dir, "Cargo.toml")
	if _, err := os.Stat(supportManifest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = errors.New("support library not found; set support.path or place it there")
		}
		return nil, "", procerr.WithPath(procerr.Resolution, "locating support library at", dir, err)
	}

	sg, err := l.Load(ctx, supportManifest, Selection{})
	if err != nil {
		return nil, "", err
	}
	g.Merge(sg)
	return g, dir, nil
}
