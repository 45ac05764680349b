// Package classify assigns a syntax category to captured macro output and
// re-emits it canonically.
package classify

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/procdebug/internal/lang"
	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/tokentree"
)

// Category is the syntax category of a captured output.
type Category int

const (
	Opaque Category = iota
	Expression
	Type
	ImplMembers
	TraitMembers
	ForeignItems
	Items
	Statements
)

func (c Category) String() string {
	switch c {
	case Expression:
		return "expression"
	case Type:
		return "type"
	case ImplMembers:
		return "impl-members"
	case TraitMembers:
		return "trait-members"
	case ForeignItems:
		return "foreign-items"
	case Items:
		return "items"
	case Statements:
		return "statements"
	}
	return "opaque"
}

// Member is a half-open range of top-level token indices forming one member.
type Member struct {
	Start, End int
}

// Result is the outcome of classifying one stream.
type Result struct {
	Category Category
	Members  []Member
}

// Emit re-emits s according to the classification: the single node for an
// expression or type, the concatenation of every member for a list
// category, and s unchanged for opaque output.
func (r Result) Emit(s tokentree.Stream) tokentree.Stream {
	if r.Category == Opaque {
		return s
	}
	out := make(tokentree.Stream, 0, len(s))
	for _, m := range r.Members {
		out = append(out, s[m.Start:m.End]...)
	}
	return out
}

// DefaultCacheSize bounds the number of memoized classifications.
const DefaultCacheSize = 512

// Classifier classifies token streams. It is safe for concurrent use.
type Classifier struct {
	parsers sync.Pool
	cache   *lru.Cache[string, Result]
}

// New returns a Classifier memoizing up to size results.
func New(size int) (*Classifier, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		return nil, err
	}
	c := &Classifier{cache: cache}
	c.parsers.New = func() any { return lang.Rust().NewParser() }
	return c, nil
}

// Classify determines the category of s produced by a macro of the given
// kind. Grammars are tried in a fixed order and the first one that accepts
// the whole stream wins; nothing accepting means Opaque.
func (c *Classifier) Classify(s tokentree.Stream, kind model.MacroKind) Result {
	text, spans := tokentree.Render(parseable(s))
	key := string(kind) + "\x00" + text
	if r, ok := c.cache.Get(key); ok {
		return r
	}

	r := Result{Category: Opaque}
	for _, g := range grammars {
		if g.functionLikeOnly && kind != model.FunctionLike {
			continue
		}
		if members, ok := g.match(c, s, text, spans); ok {
			r = Result{Category: g.category, Members: members}
			break
		}
	}
	c.cache.Add(key, r)
	return r
}

type grammar struct {
	category         Category
	functionLikeOnly bool
	match            func(c *Classifier, s tokentree.Stream, text string, spans []tokentree.Span) ([]Member, bool)
}

var grammars = []grammar{
	{Expression, true, bareName(false)},
	{Type, true, bareName(true)},
	{Type, true, wholeType},
	{ImplMembers, false, list("impl __ProcDebug {\n", "\n}", implBody, implMembers)},
	{TraitMembers, false, list("trait __ProcDebug {\n", "\n}", traitBody, traitMembers)},
	{ForeignItems, false, list("extern \"C\" {\n", "\n}", foreignBody, foreignMembers)},
	{Items, false, list("", "", sourceFile, itemKinds)},
	{Statements, false, list("fn __proc_debug() {\n", "\n}", fnBody, nil)},
}

// bareName accepts a single identifier. Identifiers starting with an upper
// case letter are types, everything else an expression.
func bareName(upper bool) func(*Classifier, tokentree.Stream, string, []tokentree.Span) ([]Member, bool) {
	return func(_ *Classifier, s tokentree.Stream, _ string, _ []tokentree.Span) ([]Member, bool) {
		if len(s) != 1 {
			return nil, false
		}
		l, ok := s[0].(tokentree.Leaf)
		if !ok || l.Kind != tokentree.Ident || keywords[l.Text] {
			return nil, false
		}
		r, _ := utf8.DecodeRuneInString(l.Text)
		if unicode.IsUpper(r) != upper {
			return nil, false
		}
		return []Member{{0, 1}}, true
	}
}

func wholeType(c *Classifier, s tokentree.Stream, text string, _ []tokentree.Span) ([]Member, bool) {
	if len(s) == 0 {
		return nil, false
	}
	const prefix = "type __ProcDebug = "
	ok := c.parse(prefix+text+";", func(root *sitter.Node) bool {
		if root.NamedChildCount() != 1 {
			return false
		}
		item := root.NamedChild(0)
		if item.Type() != "type_item" {
			return false
		}
		ty := item.ChildByFieldName("type")
		return ty != nil &&
			int(ty.StartByte()) == len(prefix) &&
			int(ty.EndByte()) == len(prefix)+len(text)
	})
	if !ok {
		return nil, false
	}
	return []Member{{0, len(s)}}, true
}

// list accepts streams that parse, inside the given wrapper, as a non-empty
// sequence of allowed member nodes covering every token.
func list(prefix, suffix string, container func(*sitter.Node) *sitter.Node, allowed map[string]bool) func(*Classifier, tokentree.Stream, string, []tokentree.Span) ([]Member, bool) {
	return func(c *Classifier, s tokentree.Stream, text string, spans []tokentree.Span) ([]Member, bool) {
		if len(s) == 0 {
			return nil, false
		}
		var members []Member
		ok := c.parse(prefix+text+suffix, func(root *sitter.Node) bool {
			body := container(root)
			if body == nil {
				return false
			}
			var nodes []*sitter.Node
			for i := 0; i < int(body.NamedChildCount()); i++ {
				n := body.NamedChild(i)
				// `foo!();` in a declaration list ends in its own empty statement.
				if n.Type() == "empty_statement" && allowed != nil && len(nodes) > 0 &&
					nodes[len(nodes)-1].Type() != "attribute_item" {
					continue
				}
				if !memberAllowed(n, allowed) {
					return false
				}
				nodes = append(nodes, n)
			}
			if len(nodes) == 0 || nodes[len(nodes)-1].Type() == "attribute_item" {
				return false
			}
			var ok bool
			members, ok = align(nodes, len(prefix), s, spans)
			return ok
		})
		return members, ok
	}
}

func memberAllowed(n *sitter.Node, allowed map[string]bool) bool {
	if allowed == nil {
		return true
	}
	kind := n.Type()
	if kind == "expression_statement" && n.NamedChildCount() == 1 && n.NamedChild(0).Type() == "macro_invocation" {
		kind = "macro_invocation"
	}
	return allowed[kind]
}

// align maps member nodes onto top-level token ranges. Attributes are folded
// into the member that follows them, and stray `;` tokens between members
// are folded into the member before them.
func align(nodes []*sitter.Node, offset int, s tokentree.Stream, spans []tokentree.Span) ([]Member, bool) {
	starts := make(map[int]int, len(spans))
	ends := make(map[int]int, len(spans))
	for i, sp := range spans {
		starts[sp.Start] = i
		ends[sp.End] = i + 1
	}

	var members []Member
	next := 0
	pending := -1
	for _, n := range nodes {
		start, ok := starts[int(n.StartByte())-offset]
		if !ok {
			return nil, false
		}
		end, ok := ends[int(n.EndByte())-offset]
		if !ok {
			return nil, false
		}
		if pending < 0 {
			pending = start
		}
		if n.Type() == "attribute_item" {
			continue
		}
		if pending != next {
			if len(members) == 0 || !onlySemicolons(s[next:pending]) {
				return nil, false
			}
			members[len(members)-1].End = pending
		}
		members = append(members, Member{Start: pending, End: end})
		next = end
		pending = -1
	}
	if next != len(s) {
		if len(members) == 0 || !onlySemicolons(s[next:]) {
			return nil, false
		}
		members[len(members)-1].End = len(s)
	}
	return members, true
}

func onlySemicolons(s tokentree.Stream) bool {
	for _, n := range s {
		if !tokentree.IsPunct(n, ';') {
			return false
		}
	}
	return true
}

// parse runs check against the syntax tree of src. Trees with syntax errors
// are rejected before check is called.
func (c *Classifier) parse(src string, check func(root *sitter.Node) bool) bool {
	p := c.parsers.Get().(*sitter.Parser)
	defer c.parsers.Put(p)

	tree, err := p.ParseCtx(context.Background(), nil, []byte(src))
	if err != nil {
		return false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return false
	}
	return check(root)
}

// parseable swaps `$crate` for an identifier of the same width so the text
// is valid outside a macro definition without moving any span.
func parseable(s tokentree.Stream) tokentree.Stream {
	out := make(tokentree.Stream, len(s))
	for i, n := range s {
		switch v := n.(type) {
		case tokentree.Leaf:
			if v.Kind == tokentree.Ident && v.Text == "$crate" {
				v.Text = "crate_"
			}
			out[i] = v
		case tokentree.Group:
			out[i] = tokentree.Group{Delim: v.Delim, Stream: parseable(v.Stream), Pos: v.Pos}
		}
	}
	return out
}

func firstItem(root *sitter.Node, kind string) *sitter.Node {
	if root.NamedChildCount() != 1 {
		return nil
	}
	item := root.NamedChild(0)
	if item.Type() != kind {
		return nil
	}
	return item.ChildByFieldName("body")
}

func implBody(root *sitter.Node) *sitter.Node    { return firstItem(root, "impl_item") }
func traitBody(root *sitter.Node) *sitter.Node   { return firstItem(root, "trait_item") }
func foreignBody(root *sitter.Node) *sitter.Node { return firstItem(root, "foreign_mod_item") }
func fnBody(root *sitter.Node) *sitter.Node      { return firstItem(root, "function_item") }
func sourceFile(root *sitter.Node) *sitter.Node  { return root }

func set(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

var (
	implMembers = set("attribute_item", "function_item", "const_item", "type_item", "macro_invocation")

	traitMembers = set("attribute_item", "function_item", "function_signature_item", "const_item",
		"associated_type", "macro_invocation")

	foreignMembers = set("attribute_item", "function_signature_item", "static_item", "associated_type",
		"macro_invocation")

	itemKinds = set("attribute_item", "inner_attribute_item", "const_item", "static_item", "macro_invocation",
		"macro_definition", "mod_item", "foreign_mod_item", "struct_item", "union_item", "enum_item",
		"type_item", "function_item", "impl_item", "trait_item", "use_declaration",
		"extern_crate_declaration")
)

var keywords = set(strings.Fields(`
	_ as async await break const continue crate dyn else enum extern false fn for
	if impl in let loop match mod move mut pub ref return self Self static struct
	super trait true type unsafe use where while abstract become box do final
	macro override priv typeof unsized virtual yield try`)...)
