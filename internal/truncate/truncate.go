// Package truncate bounds the nesting depth of a token tree with reversible
// placeholder calls.
//
// Truncate is lossy below the cut depth: Restore only turns the placeholder
// calls back into the markers they stand for, it never recovers the content
// that was dropped.
package truncate

import (
	"math"

	"github.com/phobologic/procdebug/internal/tokentree"
)

const (
	// EllipsisName is the placeholder call that stands for dropped content.
	EllipsisName = "__proc_debug_ellipsis"
	// DollarCrateName is the placeholder call that stands for `$crate`.
	DollarCrateName = "__proc_debug_dollar_crate"

	dollarCrate = "$crate"

	// DefaultDepth is used when no depth is configured.
	DefaultDepth = 4
	// Unlimited disables truncation.
	Unlimited = math.MaxInt
)

// DepthFor returns the effective depth for a configured depth and verbose flag.
func DepthFor(depth *int, verbose bool) int {
	if verbose {
		return Unlimited
	}
	if depth == nil {
		return DefaultDepth
	}
	return *depth
}

// placeholder returns the three nodes of `name! {}`.
func placeholder(name string, pos tokentree.Position) tokentree.Stream {
	return tokentree.Stream{
		tokentree.NewIdent(name, pos),
		tokentree.NewPunct('!', false, pos),
		tokentree.Group{Delim: tokentree.Brace, Pos: pos},
	}
}

// Truncate returns s with nesting beyond depth replaced by an ellipsis
// placeholder. Each group consumes one level. Within one level, after depth
// `;` terminators the rest of the level is dropped and a placeholder is
// appended. Every `$crate` is replaced by its own placeholder so the result
// survives a round trip through a text renderer.
func Truncate(s tokentree.Stream, depth int) tokentree.Stream {
	if depth <= 0 {
		return placeholder(EllipsisName, tokentree.Position{})
	}

	out := make(tokentree.Stream, 0, len(s))
	terminators := 0
	for _, n := range s {
		switch v := n.(type) {
		case tokentree.Group:
			out = append(out, tokentree.Group{
				Delim:  v.Delim,
				Stream: Truncate(v.Stream, depth-1),
				Pos:    v.Pos,
			})
		case tokentree.Leaf:
			switch {
			case tokentree.IsPunct(v, ';'):
				terminators++
				out = append(out, v)
				if terminators >= depth {
					return append(out, placeholder(EllipsisName, v.Pos)...)
				}
			case tokentree.IsIdent(v, dollarCrate):
				out = append(out, placeholder(DollarCrateName, v.Pos)...)
			default:
				out = append(out, v)
			}
		}
	}
	return out
}

// Restore replaces placeholder calls produced by Truncate with the markers
// they stand for: `...` for the ellipsis and `$crate` for the self reference.
// It recurses into groups. Other `name! {}` calls are left untouched.
func Restore(s tokentree.Stream) tokentree.Stream {
	out := make(tokentree.Stream, 0, len(s))
	for i := 0; i < len(s); i++ {
		if name, ok := placeholderAt(s, i); ok {
			pos := s[i].Position()
			switch name {
			case EllipsisName:
				out = append(out,
					tokentree.NewPunct('.', true, pos),
					tokentree.NewPunct('.', true, pos),
					tokentree.NewPunct('.', false, pos),
				)
				i += 2
				continue
			case DollarCrateName:
				out = append(out, tokentree.NewIdent(dollarCrate, pos))
				i += 2
				continue
			}
		}
		if g, ok := s[i].(tokentree.Group); ok {
			out = append(out, tokentree.Group{Delim: g.Delim, Stream: Restore(g.Stream), Pos: g.Pos})
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// placeholderAt reports whether s[i:] starts with `ident ! { ... }`.
func placeholderAt(s tokentree.Stream, i int) (string, bool) {
	if i+2 >= len(s) {
		return "", false
	}
	ident, ok := s[i].(tokentree.Leaf)
	if !ok || ident.Kind != tokentree.Ident {
		return "", false
	}
	if !tokentree.IsPunct(s[i+1], '!') {
		return "", false
	}
	g, ok := s[i+2].(tokentree.Group)
	if !ok || g.Delim != tokentree.Brace {
		return "", false
	}
	return ident.Text, true
}
