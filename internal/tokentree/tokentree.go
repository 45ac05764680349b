// Package tokentree models captured macro input and output as token trees.
//
// A Stream is a sequence of nodes. Each node is either a Leaf (identifier,
// punctuation character or literal) or a Group (a delimiter plus a nested
// Stream). Streams are only built by Parse, which rejects unbalanced input,
// or by transformations that copy group boundaries, so groups are always
// balanced.
package tokentree

import "strings"

// Delimiter is the bracket kind of a Group.
type Delimiter int

const (
	None Delimiter = iota
	Parenthesis
	Brace
	Bracket
)

func (d Delimiter) open() string {
	switch d {
	case Parenthesis:
		return "("
	case Brace:
		return "{"
	case Bracket:
		return "["
	}
	return ""
}

func (d Delimiter) close() string {
	switch d {
	case Parenthesis:
		return ")"
	case Brace:
		return "}"
	case Bracket:
		return "]"
	}
	return ""
}

// LeafKind is the lexical class of a Leaf.
type LeafKind int

const (
	Ident LeafKind = iota
	Punct
	Literal
)

func (k LeafKind) String() string {
	switch k {
	case Ident:
		return "ident"
	case Punct:
		return "punct"
	case Literal:
		return "literal"
	}
	return "unknown"
}

// Position is a location in the text a node was lexed from.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// Node is a Leaf or a Group.
type Node interface {
	node()
	Position() Position
}

// Leaf is an opaque lexical unit.
type Leaf struct {
	Kind LeafKind
	Text string
	Pos  Position
	// Joint is set on a punctuation character immediately followed by another one.
	Joint bool
}

// Group is a delimited, nested stream.
type Group struct {
	Delim  Delimiter
	Stream Stream
	Pos    Position
}

func (Leaf) node()  {}
func (Group) node() {}

func (l Leaf) Position() Position  { return l.Pos }
func (g Group) Position() Position { return g.Pos }

// Stream is a sequence of nodes.
type Stream []Node

// NewIdent returns an identifier leaf.
func NewIdent(text string, pos Position) Leaf {
	return Leaf{Kind: Ident, Text: text, Pos: pos}
}

// NewPunct returns a punctuation leaf.
func NewPunct(ch byte, joint bool, pos Position) Leaf {
	return Leaf{Kind: Punct, Text: string(ch), Pos: pos, Joint: joint}
}

// IsIdent reports whether n is the identifier text.
func IsIdent(n Node, text string) bool {
	l, ok := n.(Leaf)
	return ok && l.Kind == Ident && l.Text == text
}

// IsPunct reports whether n is the punctuation character ch.
func IsPunct(n Node, ch byte) bool {
	l, ok := n.(Leaf)
	return ok && l.Kind == Punct && len(l.Text) == 1 && l.Text[0] == ch
}

// Equal reports whether a and b have the same structure and text, ignoring positions.
func Equal(a, b Stream) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		switch x := a[i].(type) {
		case Leaf:
			y, ok := b[i].(Leaf)
			if !ok || x.Kind != y.Kind || x.Text != y.Text {
				return false
			}
		case Group:
			y, ok := b[i].(Group)
			if !ok || x.Delim != y.Delim || !Equal(x.Stream, y.Stream) {
				return false
			}
		}
	}
	return true
}

// Span is the byte range a top-level node occupies in rendered text.
type Span struct {
	Start, End int
}

// String renders the stream the way the host tool's token printer does:
// nodes separated by one space, no space after a joint punctuation
// character, and brace groups padded on the inside.
func (s Stream) String() string {
	text, _ := Render(s)
	return text
}

// Render renders s and reports the span of every top-level node.
func Render(s Stream) (string, []Span) {
	var b strings.Builder
	spans := make([]Span, len(s))
	writeStream(&b, s, spans)
	return b.String(), spans
}

func writeStream(b *strings.Builder, s Stream, spans []Span) {
	for i, n := range s {
		if i > 0 {
			if prev, ok := s[i-1].(Leaf); !ok || !prev.Joint {
				b.WriteByte(' ')
			}
		}
		start := b.Len()
		switch v := n.(type) {
		case Leaf:
			b.WriteString(v.Text)
		case Group:
			writeGroup(b, v)
		}
		if spans != nil {
			spans[i] = Span{Start: start, End: b.Len()}
		}
	}
}

func writeGroup(b *strings.Builder, g Group) {
	b.WriteString(g.Delim.open())
	if g.Delim == Brace {
		b.WriteByte(' ')
	}
	writeStream(b, g.Stream, nil)
	if g.Delim == Brace && len(g.Stream) > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(g.Delim.close())
}
