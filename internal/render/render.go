// Package render prints captured macro input and output as labeled,
// highlighted blocks.
package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/phobologic/procdebug/internal/model"
)

const pointer = "👉"

var (
	bannerBg = lipgloss.Color("6") // cyan
	warnBg   = lipgloss.Color("3") // yellow
	bannerFg = lipgloss.Color("0") // black
)

// Printer writes blocks to one stream. Blocks written by concurrent callers
// never interleave.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	banner lipgloss.Style
	warn   lipgloss.Style
	lexer  chroma.Lexer
	format chroma.Formatter
	style  *chroma.Style
}

// New returns a Printer writing to w. When color is false the output is
// plain text.
func New(w io.Writer, color bool) *Printer {
	profile := termenv.Ascii
	if color {
		profile = termenv.ANSI
	}
	r := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	r.SetColorProfile(profile)

	lexer := lexers.Get("rust")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return &Printer{
		w:      w,
		color:  color,
		banner: r.NewStyle().Background(bannerBg).Foreground(bannerFg).Bold(true),
		warn:   r.NewStyle().Background(warnBg).Foreground(bannerFg).Bold(true),
		lexer:  chroma.Coalesce(lexer),
		format: formatters.Get("terminal16"),
		style:  styles.Get("monokai"),
	}
}

// InputTitle is the banner text above an invocation's input.
func InputTitle(e *model.InvocationEntry) string {
	return fmt.Sprintf("input of %s (%s)", e.QualifiedName(), e.Location())
}

// OutputTitle is the banner text above an invocation's output.
func OutputTitle(e *model.InvocationEntry) string {
	return fmt.Sprintf("output of %s (%s)", e.QualifiedName(), e.Location())
}

// Indent prefixes every line of s with two spaces.
func Indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

// Block writes one banner followed by the indented, highlighted code and a
// blank line.
func (p *Printer) Block(title, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.block(title, code)
}

// Pair writes the input block and the output block of one invocation
// without letting another block in between.
func (p *Printer) Pair(e *model.InvocationEntry, input, output string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.block(InputTitle(e), input); err != nil {
		return err
	}
	return p.block(OutputTitle(e), output)
}

// Warn writes msg under a warning banner style.
func (p *Printer) Warn(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, p.warn.Render(msg))
	return err
}

func (p *Printer) block(title, code string) error {
	var buf bytes.Buffer
	buf.WriteString(p.banner.Render(pointer + " " + title))
	buf.WriteByte('\n')
	if err := p.highlight(&buf, Indent(code)); err != nil {
		return err
	}
	buf.WriteString("\n\n")
	_, err := p.w.Write(buf.Bytes())
	return err
}

func (p *Printer) highlight(buf *bytes.Buffer, code string) error {
	if !p.color || p.format == nil || p.style == nil {
		buf.WriteString(code)
		return nil
	}
	it, err := p.lexer.Tokenise(nil, code)
	if err != nil {
		return fmt.Errorf("highlighting: %w", err)
	}
	return p.format.Format(buf, p.style, it)
}
