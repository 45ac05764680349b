package lang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/phobologic/procdebug/internal/model"
)

func init() {
	Languages["rust"] = &Language{
		Name:             "rust",
		Extensions:       []string{".rs"},
		lang:             rust.GetLanguage(),
		ProviderKind:     rustProviderKind,
		ExtractSignature: rustExtractSignature,
	}
}

// Rust returns the registered Rust language.
func Rust() *Language {
	return Languages["rust"]
}

// providerAttributes maps the attribute paths that declare a macro provider
// to the kind of macro they declare.
var providerAttributes = map[string]model.MacroKind{
	"proc_macro":           model.FunctionLike,
	"proc_macro_attribute": model.AttributeLike,
	"proc_macro_derive":    model.DeriveLike,
}

// rustProviderKind walks the attributes directly in front of a function_item.
func rustProviderKind(node *sitter.Node, source []byte) (model.MacroKind, bool) {
	for sib := node.PrevNamedSibling(); sib != nil; sib = sib.PrevNamedSibling() {
		switch sib.Type() {
		case "attribute_item":
			if kind, ok := providerAttributes[AttributePath(NodeText(sib, source))]; ok {
				return kind, true
			}
		case "line_comment", "block_comment":
		default:
			return "", false
		}
	}
	return "", false
}

// AttributePath returns the path of an outer attribute, e.g. "proc_macro_derive"
// for `#[proc_macro_derive(Foo)]`.
func AttributePath(attr string) string {
	s := strings.TrimSpace(attr)
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if i := strings.IndexAny(s, "(=]"); i >= 0 {
		s = s[:i]
	}
	return strings.Join(strings.Fields(s), "")
}

func rustExtractSignature(node *sitter.Node, source []byte) string {
	var sig string
	if name := node.ChildByFieldName("name"); name != nil {
		sig = NodeText(name, source)
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		sig += CollapseWhitespace(NodeText(params, source))
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		sig += " -> " + CollapseWhitespace(NodeText(ret, source))
	}
	return sig
}

// StripComments removes every line and block comment from Rust source.
// Newlines inside removed comments are kept so line numbers do not move.
// String and character literals are left alone, including ones that contain
// comment markers.
func StripComments(source []byte) ([]byte, error) {
	parser := Rust().NewParser()
	defer parser.Close()

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing rust source: %w", err)
	}
	defer tree.Close()

	var ranges [][2]uint32
	collectComments(tree.RootNode(), &ranges)
	if len(ranges) == 0 {
		return source, nil
	}

	out := make([]byte, 0, len(source))
	var last uint32
	for _, r := range ranges {
		out = append(out, source[last:r[0]]...)
		for _, b := range source[r[0]:r[1]] {
			if b == '\n' {
				out = append(out, b)
			}
		}
		last = r[1]
	}
	return append(out, source[last:]...), nil
}

func collectComments(node *sitter.Node, ranges *[][2]uint32) {
	switch node.Type() {
	case "line_comment", "block_comment":
		*ranges = append(*ranges, [2]uint32{node.StartByte(), node.EndByte()})
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectComments(node.Child(i), ranges)
	}
}
