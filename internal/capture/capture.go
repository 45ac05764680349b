// Package capture wraps macro provider calls so their input and output can be
// observed during a build.
package capture

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/classify"
	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/query"
	"github.com/phobologic/procdebug/internal/render"
	"github.com/phobologic/procdebug/internal/tokentree"
	"github.com/phobologic/procdebug/internal/truncate"
)

// Runtime is the run-scoped state shared by every wrapped call.
type Runtime struct {
	mu sync.Mutex
	n  int

	query      *query.Query
	classifier *classify.Classifier
	printer    *render.Printer
	log        *zap.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for render failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithPrinter sets where blocks are printed. The default prints to stdout
// with color.
func WithPrinter(p *render.Printer) Option {
	return func(r *Runtime) { r.printer = p }
}

// New returns a Runtime filtering with q. A nil q makes every wrapped call
// transparent.
func New(q *query.Query, opts ...Option) (*Runtime, error) {
	c, err := classify.New(classify.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}
	r := &Runtime{query: q, classifier: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.printer == nil {
		r.printer = render.New(os.Stdout, true)
	}
	return r, nil
}

// Next returns the next sequence number, starting at 1.
func (r *Runtime) Next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return r.n
}

// Wrap runs thunk for the invocation entry and returns its output. When the
// runtime has no query the output is returned untouched. An empty label
// matches as MODULE::NAME; entry itself is not modified. When the
// invocation passes the query its input and truncated output are printed and
// the canonical re-emission of the output is returned.
func (r *Runtime) Wrap(entry *model.InvocationEntry, thunk func() tokentree.Stream) tokentree.Stream {
	n := r.Next()
	out := thunk()
	if r.query == nil {
		return out
	}
	e := *entry
	if e.Label == "" {
		e.Label = e.QualifiedName()
	}
	if !r.query.Evaluate(&e, n) {
		return out
	}

	res := r.classifier.Classify(out, e.Kind)
	shown := truncate.Restore(truncate.Truncate(out, r.query.DepthLimit()))
	if err := r.printer.Pair(&e, FormatInputs(&e), shown.String()); err != nil {
		r.log.Debug("printing invocation failed",
			zap.Int("seq", n),
			zap.String("macro", e.QualifiedName()),
			zap.Error(err))
	}
	r.log.Debug("invocation shown",
		zap.Int("seq", n),
		zap.String("macro", e.QualifiedName()),
		zap.Stringer("category", res.Category))
	return res.Emit(out)
}

// FormatInputs renders the call site of e the way it appears in source.
func FormatInputs(e *model.InvocationEntry) string {
	in := func(i int) string {
		if i < len(e.Inputs) {
			return e.Inputs[i]
		}
		return ""
	}
	switch e.Kind {
	case model.FunctionLike:
		return fmt.Sprintf("%s!{%s}", e.MacroName, in(0))
	case model.AttributeLike:
		return fmt.Sprintf("#[%s(%s)]\n%s", e.MacroName, in(0), in(1))
	case model.DeriveLike:
		return fmt.Sprintf("#[derive(%s)]\n%s", in(0), in(1))
	}
	return strings.Join(e.Inputs, ",")
}

// LoadQuery reads the query from the variable env. It returns nil when the
// variable is unset. A help request prints usage and calls exit(0); a
// malformed query prints the error and calls exit(1).
func LoadQuery(env string, lookup func(string) (string, bool), stderr io.Writer, exit func(int)) *query.Query {
	q, ok, err := query.FromEnv(env, lookup)
	if !ok {
		return nil
	}
	if err == nil {
		return q
	}
	warn := render.New(stderr, true)
	if query.IsHelp(err) {
		_ = warn.Warn(query.Usage())
		exit(0)
		return nil
	}
	_ = warn.Warn(fmt.Sprintf("%v \n\n Set %s=\"--help\" for more information.", err, env))
	exit(1)
	return nil
}
