// Package parse extracts macro provider declarations from source files using
// tree-sitter.
package parse

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/procdebug/internal/lang"
	"github.com/phobologic/procdebug/internal/model"
)

// ExtractProviders parses a source file and returns every function declared
// as a macro provider, in source order.
// The parser must be created for l. file is used only for Provider.File.
func ExtractProviders(l *lang.Language, parser *sitter.Parser, query *sitter.Query, source []byte, file string) []model.Provider {
	if len(source) == 0 {
		return nil
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	var providers []model.Provider
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var nameNode, defNode *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "name":
				nameNode = c.Node
			case "definition.function":
				defNode = c.Node
			}
		}
		if nameNode == nil || defNode == nil {
			continue
		}

		kind, ok := l.ProviderKind(defNode, source)
		if !ok {
			continue
		}
		providers = append(providers, model.Provider{
			Name:      lang.NodeText(nameNode, source),
			Kind:      kind,
			Line:      int(nameNode.StartPoint().Row) + 1,
			File:      file,
			Signature: l.ExtractSignature(defNode, source),
		})
	}
	return providers
}
