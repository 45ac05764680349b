// Package procerr defines the error taxonomy of an instrumented build run.
package procerr

import (
	"errors"
	"fmt"
)

// Kind is the category of an error.
type Kind int

const (
	// Resolution errors: the package graph or a manifest cannot be loaded.
	// Nothing has been touched yet.
	Resolution Kind = iota + 1
	// Patch errors: a file could not be rewritten. The file has already been
	// restored when one is returned.
	Patch
	// Rollback errors: a backup could not be put back. Logged, never fatal.
	Rollback
	// Query errors: the filter query is malformed.
	Query
	// Build errors: the build subprocess failed.
	Build
)

func (k Kind) String() string {
	switch k {
	case Resolution:
		return "resolution"
	case Patch:
		return "patch"
	case Rollback:
		return "rollback"
	case Query:
		return "query"
	case Build:
		return "build"
	}
	return "unknown"
}

// Error is a categorized error.
type Error struct {
	Kind Kind
	Op   string
	Path string
	// Code is the exit status of a failed build.
	Code  int
	Cause error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns an error of kind k.
func New(k Kind, op string, cause error) *Error {
	return &Error{Kind: k, Op: op, Cause: cause}
}

// WithPath returns an error of kind k about path.
func WithPath(k Kind, op, path string, cause error) *Error {
	return &Error{Kind: k, Op: op, Path: path, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == Build && e.Code > 0 {
		return e.Code
	}
	return 1
}

// Sentinels for errors.Is checks by kind.
var (
	ErrResolution = &Error{Kind: Resolution}
	ErrPatch      = &Error{Kind: Patch}
	ErrRollback   = &Error{Kind: Rollback}
	ErrQuery      = &Error{Kind: Query}
	ErrBuild      = &Error{Kind: Build}
)
