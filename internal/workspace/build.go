package workspace

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/procerr"
)

// Builder runs the build step.
type Builder interface {
	Build(ctx context.Context, args, env []string) error
}

// CargoBuilder runs cargo with the given arguments, adding env to the
// inherited environment.
type CargoBuilder struct {
	Cargo  string
	Stdout io.Writer
	Stderr io.Writer
	Log    *zap.Logger
}

// Build runs the build and waits for it. A non-zero exit becomes a Build
// error carrying the exit code.
func (b *CargoBuilder) Build(ctx context.Context, args, env []string) error {
	cmd := exec.CommandContext(ctx, b.Cargo, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	if b.Log != nil {
		b.Log.Info("building", zap.String("cargo", b.Cargo), zap.Strings("args", args))
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return &procerr.Error{Kind: procerr.Build, Op: "build failed", Code: exit.ExitCode(), Cause: err}
	}
	return procerr.New(procerr.Build, "running build", err)
}
