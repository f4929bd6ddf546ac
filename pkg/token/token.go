// Package token extracts the leaf-only token stream from a parsed source
// tree (C2). The token stream drives fingerprinting (C3): it is the
// sequence of grammar leaf types in source order, each carrying the byte
// span it came from.
package token

import (
	"github.com/plagscan/engine/pkg/lang"
)

// Token is one leaf node of the concrete syntax tree, reduced to the
// fields fingerprinting needs: its grammar type and source span.
type Token struct {
	Type      string
	StartByte uint32
	EndByte   uint32
	Start     lang.Position
	End       lang.Position
}

// Extract walks tree in pre-order and returns every leaf node as a
// Token, in source order. Leaf here means "has no named children", which
// for tree-sitter grammars is identifiers, literals, and operators, not
// whitespace or comments (those are anonymous or filtered by the
// grammar already).
func Extract(tree *lang.Tree) []Token {
	if tree == nil || tree.Root == nil {
		return nil
	}

	var out []Token

	var walk func(n *lang.Node)

	walk = func(n *lang.Node) {
		if n.IsLeaf() {
			out = append(out, Token{
				Type:      n.Type,
				StartByte: n.StartByte,
				EndByte:   n.EndByte,
				Start:     n.Start,
				End:       n.End,
			})

			return
		}

		for _, child := range n.Children {
			walk(child)
		}
	}

	walk(tree.Root)

	return out
}

// Types returns just the type strings of toks, in order. Fingerprinting
// hashes over this projection.
func Types(toks []Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}

	return out
}
