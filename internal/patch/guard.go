package patch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/procerr"
)

// Guard records every patch made during a run so that all of them can be
// reversed when the run ends. Callers defer Rollback right after creating
// the Guard. A Guard is not safe for concurrent use.
type Guard struct {
	engine  *Engine
	records []model.ModificationRecord
}

// NewGuard returns an empty Guard patching through e.
func (e *Engine) NewGuard() *Guard {
	return &Guard{engine: e}
}

// Patch patches path and records it for rollback. Files that were already
// patched by an earlier run are recorded too, so the run restores them.
func (g *Guard) Patch(path string, transform Transform) error {
	rec, err := g.engine.Patch(path, transform)
	if err != nil {
		return err
	}
	g.records = append(g.records, rec)
	return nil
}

// Records returns the files patched so far.
func (g *Guard) Records() []model.ModificationRecord {
	out := make([]model.ModificationRecord, len(g.records))
	copy(out, g.records)
	return out
}

// Rollback restores every recorded file, newest first. A failure on one file
// does not stop the others. Every failure is logged and the joined failures
// are returned; callers are expected to log rather than propagate them.
func (g *Guard) Rollback() error {
	var errs []error
	for i := len(g.records) - 1; i >= 0; i-- {
		rec := g.records[i]
		if err := g.engine.Unpatch(rec.Path); err != nil {
			g.engine.log.Error("rollback failed",
				zap.String("path", rec.Path),
				zap.String("backup", rec.Backup),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	g.records = nil
	if len(errs) > 0 {
		return procerr.New(procerr.Rollback, "rolling back", errors.Join(errs...))
	}
	return nil
}
