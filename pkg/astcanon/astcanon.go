// Package astcanon canonicalizes a parsed syntax tree into a multiset of
// subtree hashes (C4), the structural fingerprint the AST similarity
// stage (C7) compares.
package astcanon

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/plagscan/engine/pkg/lang"
)

// DefaultMinDepth is D_min from spec §4.4: subtrees are only collected
// once their leaf-depth reaches this height.
const DefaultMinDepth = 3

// Multiset maps an AST subtree hash to its multiplicity.
type Multiset map[uint64]int

// Cardinality returns the total element count (with multiplicity),
// |A| in the Jaccard formula of §4.7.
func (m Multiset) Cardinality() int {
	total := 0
	for _, n := range m {
		total += n
	}

	return total
}

// stackFrame tracks a node awaiting its children's hashes during the
// iterative post-order walk, and the height seen so far.
type stackFrame struct {
	node       *lang.Node
	childHash  []uint64
	maxHeight  int
	visited    bool
}

// Compute walks tree post-order and returns the multiset of hashes for
// every subtree whose height-to-leaf is at least minDepth. The walk is
// iterative with an explicit stack so arbitrarily deep trees cannot blow
// the call stack (spec §9).
func Compute(tree *lang.Tree, minDepth int) Multiset {
	out := Multiset{}

	if tree == nil || tree.Root == nil {
		return out
	}

	if minDepth <= 0 {
		minDepth = DefaultMinDepth
	}

	stack := []*stackFrame{{node: tree.Root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if !top.visited {
			top.visited = true

			if len(top.node.Children) > 0 {
				top.childHash = make([]uint64, len(top.node.Children))

				for _, child := range top.node.Children {
					stack = append(stack, &stackFrame{node: child})
				}

				continue
			}
		}

		// All children (if any) have been processed; pop and finalize.
		stack = stack[:len(stack)-1]

		var height int

		if len(top.node.Children) == 0 {
			height = 1
		} else {
			height = top.maxHeight + 1
		}

		h := stableHash(top.node.Type, top.childHash)

		if len(stack) > 0 {
			parent := stack[len(stack)-1]

			for i, c := range parent.node.Children {
				if c == top.node {
					parent.childHash[i] = h
					break
				}
			}

			if height > parent.maxHeight {
				parent.maxHeight = height
			}
		}

		if height >= minDepth {
			out[h]++
		}
	}

	return out
}

// stableHash implements §3's H(node) = stable_hash(type ++ "(" ++
// join(",", children) ++ ")"). xxhash is the deterministic, cross
// -process digest the Open Question in §9 mandates: it is never the
// language-supplied map/string hash.
func stableHash(nodeType string, childHashes []uint64) uint64 {
	var b strings.Builder

	b.WriteString(nodeType)
	b.WriteByte('(')

	for i, h := range childHashes {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.FormatUint(h, 10))
	}

	b.WriteByte(')')

	return xxhash.Sum64String(b.String())
}

// Intersect returns |A ∩ B| under multiset semantics: min multiplicity
// per shared key.
func Intersect(a, b Multiset) int {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	total := 0

	for h, n := range small {
		if m, ok := large[h]; ok {
			if n < m {
				total += n
			} else {
				total += m
			}
		}
	}

	return total
}

// Jaccard computes |A ∩ B| / |A ∪ B| with |A ∪ B| = |A| + |B| − |A ∩ B|,
// per spec §4.7. Returns 0 when both sets are empty.
func Jaccard(a, b Multiset) float64 {
	ca, cb := a.Cardinality(), b.Cardinality()
	if ca == 0 && cb == 0 {
		return 0
	}

	inter := Intersect(a, b)
	union := ca + cb - inter

	if union == 0 {
		return 0
	}

	return float64(inter) / float64(union)
}
