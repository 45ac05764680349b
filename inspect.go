package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/phobologic/procdebug/internal/capture"
	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/procerr"
	"github.com/phobologic/procdebug/internal/render"
	"github.com/phobologic/procdebug/internal/tokentree"
)

type inspectOptions struct {
	entry model.InvocationEntry
	kind  string
	emit  bool
}

func newInspectCmd(a *app) *cobra.Command {
	o := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect [flags] OUTPUT",
		Short: "Replay one captured macro output through the display pipeline",
		Long: `Reads the token text of one macro output from OUTPUT ("-" for stdin) and
treats it as an invocation described by the flags. The filter is read from the
variable named by flags_env (PROC_DEBUG_FLAGS); when it is unset every
invocation is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.inspect(o, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.kind, "kind", string(model.FunctionLike), "macro kind: function, attribute or derive")
	f.StringVar(&o.entry.MacroName, "name", "", "macro name")
	f.StringVar(&o.entry.ModulePath, "module", "", "module path of the macro definition")
	f.StringVar(&o.entry.File, "file", "", "file of the call site")
	f.IntVar(&o.entry.Line, "line", 0, "line of the call site")
	f.StringVar(&o.entry.Label, "label", "", "label shown for the invocation (default MODULE::NAME)")
	f.StringArrayVar(&o.entry.Inputs, "input", nil, "macro input, repeat for attribute and derive macros")
	f.BoolVar(&o.emit, "emit", false, "print the re-emitted output after the display")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) inspect(o *inspectOptions, source string) error {
	kind := model.ParseMacroKind(o.kind)
	if kind == model.UnknownKind {
		return fmt.Errorf("invalid --kind %q: want function, attribute or derive", o.kind)
	}

	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return fmt.Errorf("reading output: %w", err)
	}
	out, err := tokentree.Parse(string(data))
	if err != nil {
		return fmt.Errorf("parsing output: %w", err)
	}

	lookup := func(name string) (string, bool) {
		if v, ok := a.lookupEnv(name); ok {
			return v, true
		}
		return "--all", true
	}
	code := -1
	q := capture.LoadQuery(a.cfg.FlagsEnv, lookup, a.stderr, func(c int) { code = c })
	switch code {
	case 0:
		return nil
	case 1:
		return procerr.New(procerr.Query, "invalid "+a.cfg.FlagsEnv, nil)
	}

	printer := render.New(a.stdout, a.cfg.Color)
	rt, err := capture.New(q, capture.WithLogger(a.log), capture.WithPrinter(printer))
	if err != nil {
		return err
	}
	e := o.entry
	e.Kind = kind
	if e.ModulePath == "" {
		e.ModulePath = e.MacroName
	}
	emitted := rt.Wrap(&e, func() tokentree.Stream { return out })
	if o.emit {
		return printer.Block("emitted by "+e.QualifiedName(), emitted.String())
	}
	return nil
}
