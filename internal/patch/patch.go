// Package patch rewrites files with a restorable backup next to each one.
//
// The backup at `<file>.<suffix>` is the only record of a rewrite. Its
// presence means the file is patched; restoring it means moving it back over
// the file.
package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/procerr"
)

// DefaultSuffix is the backup file suffix.
const DefaultSuffix = "proc-debug-bak"

// Transform produces new file content from the current content.
type Transform func(content []byte) ([]byte, error)

// Engine patches and restores single files.
type Engine struct {
	suffix string
	log    *zap.Logger

	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewEngine returns an Engine using backup suffix suffix.
func NewEngine(suffix string, log *zap.Logger) *Engine {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{suffix: suffix, log: log, writeFile: os.WriteFile}
}

// Suffix returns the backup suffix, without the leading dot.
func (e *Engine) Suffix() string {
	return e.suffix
}

// BackupPath returns the backup location of path.
func (e *Engine) BackupPath(path string) string {
	return path + "." + e.suffix
}

// Patch rewrites path with transform, moving the original to its backup.
// If a backup already exists the file is left alone and the returned record
// is marked Preexisting. If the new content cannot be written the original
// is moved back before the error is returned.
func (e *Engine) Patch(path string, transform Transform) (model.ModificationRecord, error) {
	rec := model.ModificationRecord{Path: path, Backup: e.BackupPath(path)}

	if _, err := os.Lstat(rec.Backup); err == nil {
		rec.Preexisting = true
		e.log.Warn("backup from an earlier run found, leaving file as is",
			zap.String("path", path), zap.String("backup", rec.Backup))
		return rec, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return rec, procerr.WithPath(procerr.Patch, "checking backup of", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return rec, procerr.WithPath(procerr.Patch, "reading", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return rec, procerr.WithPath(procerr.Patch, "reading", path, err)
	}
	modified, err := transform(content)
	if err != nil {
		return rec, procerr.WithPath(procerr.Patch, "transforming", path, err)
	}

	if err := os.Rename(path, rec.Backup); err != nil {
		return rec, procerr.WithPath(procerr.Patch, "backing up", path, err)
	}
	if err := e.writeFile(path, modified, info.Mode().Perm()); err != nil {
		if rerr := e.restore(path, rec.Backup); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return rec, procerr.WithPath(procerr.Patch, "writing", path, err)
	}
	e.log.Debug("patched", zap.String("path", path))
	return rec, nil
}

// Unpatch moves the backup of path back into place. A missing backup means
// there is nothing to restore and is not an error; the file is not touched.
func (e *Engine) Unpatch(path string) error {
	backup := e.BackupPath(path)
	if _, err := os.Lstat(backup); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := e.restore(path, backup); err != nil {
		return procerr.WithPath(procerr.Rollback, "restoring", path, err)
	}
	e.log.Debug("restored", zap.String("path", path))
	return nil
}

func (e *Engine) restore(path, backup string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing patched file: %w", err)
	}
	return os.Rename(backup, path)
}
