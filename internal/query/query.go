// Package query parses and evaluates the filter that decides which macro
// invocations are displayed.
package query

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/shlex"
	"github.com/spf13/pflag"

	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/truncate"
)

// DefaultEnv is the variable that carries the query into the build.
const DefaultEnv = "PROC_DEBUG_FLAGS"

// ErrHelp is returned by Parse when help was requested.
var ErrHelp = pflag.ErrHelp

// Query is an immutable, parsed filter.
type Query struct {
	All     bool
	Not     []string
	Paths   []string
	Terms   []string
	Depth   *int
	Count   *int
	Verbose bool
}

func newFlagSet(q *Query, out io.Writer) (*pflag.FlagSet, *uint, *uint) {
	fs := pflag.NewFlagSet("proc-debug", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false
	fs.BoolVarP(&q.All, "all", "a", false, "debug all macros")
	fs.StringArrayVarP(&q.Not, "not", "n", nil, "hide outputs matching this text")
	fs.StringArrayVarP(&q.Paths, "path", "p", nil, "full or partial path of macro definition")
	depth := fs.UintP("depth", "d", 0, "depth to show in macro output")
	count := fs.UintP("count", "c", 0, "count to show in display")
	fs.BoolVarP(&q.Verbose, "verbose", "v", false, "verbose")
	return fs, depth, count
}

// Parse parses query arguments. Remaining positional arguments are free-text
// terms.
func Parse(args []string) (*Query, error) {
	q := &Query{}
	fs, depth, count := newFlagSet(q, io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.Changed("depth") {
		d := int(*depth)
		q.Depth = &d
	}
	if fs.Changed("count") {
		c := int(*count)
		q.Count = &c
	}
	q.Terms = fs.Args()
	return q, nil
}

// Split tokenizes a query string using shell quoting rules.
func Split(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("splitting query: %w", err)
	}
	return args, nil
}

// FromEnv reads the query from the named variable. ok is false when the
// variable is not set at all.
func FromEnv(name string, lookup func(string) (string, bool)) (q *Query, ok bool, err error) {
	raw, ok := lookup(name)
	if !ok {
		return nil, false, nil
	}
	args, err := Split(raw)
	if err != nil {
		return nil, true, err
	}
	q, err = Parse(args)
	return q, true, err
}

// Usage returns the help text listing every query option.
func Usage() string {
	fs, _, _ := newFlagSet(&Query{}, io.Discard)
	var b bytes.Buffer
	fmt.Fprintf(&b, "Usage: proc-debug [options] [QUERIES...]\n\nPositional arguments:\n  QUERIES  search queries to show debug\n\nOptions:\n")
	b.WriteString(fs.FlagUsages())
	return b.String()
}

// IsHelp reports whether err is a help request.
func IsHelp(err error) bool {
	return errors.Is(err, ErrHelp)
}

// DepthLimit returns the truncation depth the query asks for.
func (q *Query) DepthLimit() int {
	return truncate.DepthFor(q.Depth, q.Verbose)
}

// Empty reports whether the query selects nothing on its own: no match-all,
// no path patterns and no free-text terms.
func (q *Query) Empty() bool {
	return !q.All && len(q.Paths) == 0 && len(q.Terms) == 0
}

// Evaluate reports whether the n-th invocation e passes the query.
func (q *Query) Evaluate(e *model.InvocationEntry, n int) bool {
	if q.Count != nil && n > *q.Count {
		return false
	}
	if q.All {
		return true
	}
	fields := [...]string{e.Label, e.File, e.ModulePath, e.MacroName}
	if containsAny(fields[:], q.Not) {
		return false
	}
	qualified := e.QualifiedName()
	for _, p := range q.Paths {
		if matchPath(qualified, p) {
			return true
		}
	}
	return containsAny(fields[:], q.Terms)
}

// matchPath reports whether pattern equals qualified or is a whole-segment
// prefix or suffix of it.
func matchPath(qualified, pattern string) bool {
	return qualified == pattern ||
		strings.HasPrefix(qualified, pattern+"::") ||
		strings.HasSuffix(qualified, "::"+pattern)
}

func containsAny(fields, needles []string) bool {
	for _, f := range fields {
		for _, n := range needles {
			if strings.Contains(f, n) {
				return true
			}
		}
	}
	return false
}

// Args returns the argument list that Parse turns back into q.
func (q *Query) Args() []string {
	var args []string
	if q.All {
		args = append(args, "--all")
	}
	for _, n := range q.Not {
		args = append(args, "--not", n)
	}
	for _, p := range q.Paths {
		args = append(args, "--path", p)
	}
	if q.Depth != nil {
		args = append(args, "--depth", fmt.Sprint(*q.Depth))
	}
	if q.Count != nil {
		args = append(args, "--count", fmt.Sprint(*q.Count))
	}
	if q.Verbose {
		args = append(args, "--verbose")
	}
	if len(q.Terms) > 0 {
		args = append(args, "--")
		args = append(args, q.Terms...)
	}
	return args
}

// Encode renders q as a shell-quoted string suitable for the query variable.
func (q *Query) Encode() string {
	return shellescape.QuoteCommand(q.Args())
}
