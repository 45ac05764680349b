package tokentree

import (
	"fmt"
	"strings"
)

// SyntaxError reports input that cannot be lexed into a balanced token tree.
type SyntaxError struct {
	Pos Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

const punctChars = "+-*/%^!&|=<>@.,;:#$?~\\'"

// Parse lexes text into a Stream. Whitespace and comments are dropped.
func Parse(text string) (Stream, error) {
	l := &lexer{src: text, line: 1, col: 1}
	s, closer, err := l.stream(0)
	if err != nil {
		return nil, err
	}
	if closer != 0 {
		return nil, &SyntaxError{Pos: l.pos(), Msg: fmt.Sprintf("unexpected %q", closer)}
	}
	return s, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(text string) Stream {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func (l *lexer) pos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.off}
}

func (l *lexer) peek(n int) byte {
	if l.off+n < len(l.src) {
		return l.src[l.off+n]
	}
	return 0
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

// stream lexes until EOF or a closing delimiter, which it consumes and returns.
func (l *lexer) stream(depth int) (Stream, byte, error) {
	var out Stream
	for {
		if err := l.skipTrivia(); err != nil {
			return nil, 0, err
		}
		if l.off >= len(l.src) {
			return out, 0, nil
		}
		start := l.pos()
		c := l.src[l.off]
		switch c {
		case '(', '[', '{':
			l.advance(1)
			inner, closer, err := l.stream(depth + 1)
			if err != nil {
				return nil, 0, err
			}
			d := delimFor(c)
			if closer != d.close()[0] {
				return nil, 0, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unclosed %q", c)}
			}
			out = append(out, Group{Delim: d, Stream: inner, Pos: start})
		case ')', ']', '}':
			if depth == 0 {
				return nil, 0, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected %q", c)}
			}
			l.advance(1)
			return out, c, nil
		default:
			leaves, err := l.leaf()
			if err != nil {
				return nil, 0, err
			}
			out = append(out, leaves...)
		}
	}
}

func delimFor(c byte) Delimiter {
	switch c {
	case '(':
		return Parenthesis
	case '[':
		return Bracket
	}
	return Brace
}

func (l *lexer) skipTrivia() error {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.advance(1)
		case c == '/' && l.peek(1) == '/':
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance(1)
			}
		case c == '/' && l.peek(1) == '*':
			start := l.pos()
			l.advance(2)
			nest := 1
			for nest > 0 {
				if l.off >= len(l.src) {
					return &SyntaxError{Pos: start, Msg: "unterminated block comment"}
				}
				switch {
				case l.src[l.off] == '/' && l.peek(1) == '*':
					nest++
					l.advance(2)
				case l.src[l.off] == '*' && l.peek(1) == '/':
					nest--
					l.advance(2)
				default:
					l.advance(1)
				}
			}
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentContinue(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isPunct(c byte) bool {
	return c != 0 && strings.IndexByte(punctChars, c) >= 0
}

// leaf lexes one lexical unit. Lifetimes yield two leaves.
func (l *lexer) leaf() ([]Node, error) {
	start := l.pos()
	c := l.src[l.off]

	switch {
	case c == '$' && strings.HasPrefix(l.src[l.off:], "$crate") && !isIdentContinue(l.peek(6)):
		l.advance(6)
		return []Node{NewIdent("$crate", start)}, nil
	case c == '"':
		return l.literal(l.quoted(0, '"'))
	case c == 'r' && (l.peek(1) == '"' || (l.peek(1) == '#' && (l.peek(2) == '"' || l.peek(2) == '#'))):
		return l.literal(l.raw(1))
	case (c == 'b' || c == 'c') && l.peek(1) == '"':
		return l.literal(l.quoted(1, '"'))
	case (c == 'b' || c == 'c') && l.peek(1) == 'r' && (l.peek(2) == '"' || l.peek(2) == '#'):
		return l.literal(l.raw(2))
	case c == 'b' && l.peek(1) == '\'':
		return l.literal(l.quoted(1, '\''))
	case c == 'r' && l.peek(1) == '#' && isIdentStart(l.peek(2)):
		n := 2
		for isIdentContinue(l.peek(n)) {
			n++
		}
		text := l.src[l.off : l.off+n]
		l.advance(n)
		return []Node{NewIdent(text, start)}, nil
	case isIdentStart(c):
		n := 1
		for isIdentContinue(l.peek(n)) {
			n++
		}
		text := l.src[l.off : l.off+n]
		l.advance(n)
		return []Node{NewIdent(text, start)}, nil
	case c >= '0' && c <= '9':
		return []Node{l.number(start)}, nil
	case c == '\'':
		if l.isCharLiteral() {
			return l.literal(l.quoted(0, '\''))
		}
		l.advance(1)
		return []Node{NewPunct('\'', true, start)}, nil
	case isPunct(c):
		l.advance(1)
		return []Node{NewPunct(c, isPunct(l.peek(0)), start)}, nil
	}
	return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", c)}
}

// literal consumes a literal of n bytes plus any suffix. It is called before
// advancing, so the current position is the literal's start.
func (l *lexer) literal(n int, err error) ([]Node, error) {
	if err != nil {
		return nil, err
	}
	start := l.pos()
	n += l.suffix(n)
	text := l.src[l.off : l.off+n]
	l.advance(n)
	return []Node{Leaf{Kind: Literal, Text: text, Pos: start}}, nil
}

// quoted measures a quoted literal whose opening quote is at offset prefix.
func (l *lexer) quoted(prefix int, q byte) (int, error) {
	n := prefix + 1
	for {
		c := l.peek(n)
		switch {
		case l.off+n >= len(l.src):
			return 0, &SyntaxError{Pos: l.pos(), Msg: "unterminated literal"}
		case c == '\\':
			n += 2
		case c == q:
			return n + 1, nil
		default:
			n++
		}
	}
}

// raw measures a raw string literal whose 'r' ends at offset prefix.
func (l *lexer) raw(prefix int) (int, error) {
	n := prefix
	hashes := 0
	for l.peek(n) == '#' {
		hashes++
		n++
	}
	if l.peek(n) != '"' {
		return 0, &SyntaxError{Pos: l.pos(), Msg: "malformed raw string"}
	}
	closing := "\"" + strings.Repeat("#", hashes)
	idx := strings.Index(l.src[l.off+n+1:], closing)
	if idx < 0 {
		return 0, &SyntaxError{Pos: l.pos(), Msg: "unterminated raw string"}
	}
	return n + 1 + idx + len(closing), nil
}

// suffix measures a literal suffix such as the `u8` in `1u8`.
func (l *lexer) suffix(at int) int {
	if !isIdentStart(l.peek(at)) {
		return 0
	}
	n := 1
	for isIdentContinue(l.peek(at + n)) {
		n++
	}
	return n
}

// isCharLiteral distinguishes 'x' and '\n' from a lifetime 'a.
func (l *lexer) isCharLiteral() bool {
	if l.peek(1) == '\\' {
		return true
	}
	if l.peek(1) == 0 {
		return false
	}
	// Skip one UTF-8 encoded character.
	n := 1
	for n < 5 && l.off+n+1 < len(l.src) && l.peek(n+1)&0xC0 == 0x80 {
		n++
	}
	return l.peek(n+1) == '\''
}

func (l *lexer) number(start Position) Node {
	n := 1
	for {
		c := l.peek(n)
		switch {
		case isIdentContinue(c):
			n++
			// exponent sign
			if (c == 'e' || c == 'E') && (l.peek(n) == '+' || l.peek(n) == '-') && !strings.HasPrefix(l.src[l.off:], "0x") {
				n++
			}
		case c == '.' && l.peek(n+1) >= '0' && l.peek(n+1) <= '9' && !strings.Contains(l.src[l.off:l.off+n], "."):
			n++
		default:
			text := l.src[l.off : l.off+n]
			l.advance(n)
			return Leaf{Kind: Literal, Text: text, Pos: start}
		}
	}
}
