// Package match assembles positional token-hash occurrences into merged
// source-region matches (C8).
package match

import (
	"sort"

	"github.com/plagscan/engine/pkg/alg/interval"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/lang"
)

// Defaults per spec §4.8.
const (
	DefaultGapLines = 1
	DefaultGapCols  = 5
)

// Pair is one matched anchor pair on each side, before merging.
type Pair struct {
	A fingerprint.Anchor
	B fingerprint.Anchor
}

// Region is a merged run of adjacent/overlapping anchor pairs.
type Region struct {
	A           fingerprint.Anchor
	B           fingerprint.Anchor
	AnchorCount int
}

// Mode selects which side(s) the merge adjacency predicate tests.
type Mode int

const (
	// ModeBothSides extends the previous region only when the adjacency
	// predicate holds on both A and B — the production default spec
	// §4.8 specifies.
	ModeBothSides Mode = iota
	// ModeSideAOnly tests adjacency on side A alone while still
	// extending both sides on merge, matching the reference
	// implementation's documented behavior (`merge_adjacent_matches` in
	// _examples/original_source/src/plagiarism/analyzer.py:188-211 and
	// worker/redis_cache.py:327-356 both key every comparison off
	// `file1`/side A and never inspect `file2`/side B's gap). Spec §9's
	// open question asks for this variant behind a flag so it can be
	// cross-compared against the reference in tests; it is not the
	// production default.
	ModeSideAOnly
)

// Config tunes the merge adjacency gaps and predicate mode.
type Config struct {
	GapLines uint32
	GapCols  uint32
	Mode     Mode
}

// DefaultConfig returns spec's G_line=1, G_col=5, both-side predicate.
func DefaultConfig() Config {
	return Config{GapLines: DefaultGapLines, GapCols: DefaultGapCols, Mode: ModeBothSides}
}

// Assemble pairs positional occurrences of shared hashes one-to-one
// (spec §4.8: "this one-to-one pairing prevents combinatorial
// explosion") then merges adjacent pairs into Regions.
//
// aPositions/bPositions are keyed by the same shared hash set (the
// intersection the similarity engine already computed); for each hash,
// anchors on both sides are sorted by (start_line, start_col, end_line,
// end_col) and paired by index up to the shorter list.
func Assemble(shared map[uint64]struct{}, aPositions, bPositions map[uint64][]fingerprint.Anchor, cfg Config) []Region {
	pairs := make([]Pair, 0, len(shared))

	for h := range shared {
		aAnchors := append([]fingerprint.Anchor(nil), aPositions[h]...)
		bAnchors := append([]fingerprint.Anchor(nil), bPositions[h]...)

		sortAnchors(aAnchors)
		sortAnchors(bAnchors)

		n := len(aAnchors)
		if len(bAnchors) < n {
			n = len(bAnchors)
		}

		for i := 0; i < n; i++ {
			pairs = append(pairs, Pair{A: aAnchors[i], B: bAnchors[i]})
		}
	}

	return merge(pairs, cfg)
}

func sortAnchors(a []fingerprint.Anchor) {
	sort.Slice(a, func(i, j int) bool {
		return less(a[i], a[j])
	})
}

func less(x, y fingerprint.Anchor) bool {
	if x.Start.Line != y.Start.Line {
		return x.Start.Line < y.Start.Line
	}

	if x.Start.Column != y.Start.Column {
		return x.Start.Column < y.Start.Column
	}

	if x.End.Line != y.End.Line {
		return x.End.Line < y.End.Line
	}

	return x.End.Column < y.End.Column
}

// merge implements spec §4.8: sort all pairs by A.start, then extend
// the previous region iff the adjacency predicate holds — on *both*
// sides under ModeBothSides (the production default), or on side A
// alone under ModeSideAOnly (the reference implementation's documented
// behavior, kept for the cross-validation spec §9 asks for). Either
// way, extend widens both sides by max.
func merge(pairs []Pair, cfg Config) []Region {
	if len(pairs) == 0 {
		return nil
	}

	sort.Slice(pairs, func(i, j int) bool {
		return less(pairs[i].A, pairs[j].A)
	})

	regions := make([]Region, 0, len(pairs))
	cur := Region{A: pairs[0].A, B: pairs[0].B, AnchorCount: 1}

	for _, p := range pairs[1:] {
		if mergeable(cur, p, cfg) {
			cur.A = extend(cur.A, p.A)
			cur.B = extend(cur.B, p.B)
			cur.AnchorCount++

			continue
		}

		regions = append(regions, cur)
		cur = Region{A: p.A, B: p.B, AnchorCount: 1}
	}

	regions = append(regions, cur)

	return checkNoOverlap(regions)
}

// mergeable applies cfg.Mode's adjacency predicate to the candidate
// pair against the region under construction.
func mergeable(cur Region, p Pair, cfg Config) bool {
	if cfg.Mode == ModeSideAOnly {
		return adjacent(cur.A, p.A, cfg)
	}

	return adjacent(cur.A, p.A, cfg) && adjacent(cur.B, p.B, cfg)
}

// adjacent reports whether next.Start is within the gap of last.End on
// one side of a pair, per spec §4.8's predicate: start_line <=
// last.end_line + G_line and start_col - last.end_col <= G_col.
func adjacent(last, next fingerprint.Anchor, cfg Config) bool {
	if next.Start.Line > last.End.Line+cfg.GapLines {
		return false
	}

	if next.Start.Line == last.End.Line && next.Start.Column > last.End.Column &&
		next.Start.Column-last.End.Column > cfg.GapCols {
		return false
	}

	return true
}

// extend widens a region's span to cover next, taking the max of each
// endpoint as spec §4.8 specifies.
func extend(cur, next fingerprint.Anchor) fingerprint.Anchor {
	out := cur

	if maxPos(next.End, out.End) == next.End {
		out.End = next.End
	}

	return out
}

func maxPos(a, b lang.Position) lang.Position {
	if a.Line != b.Line {
		if a.Line > b.Line {
			return a
		}

		return b
	}

	if a.Column > b.Column {
		return a
	}

	return b
}

// checkNoOverlap is a post-merge audit built on the generic augmented
// interval tree kept from the teacher's algorithm package, repurposed
// here from a commit-range lookup structure into an overlap auditor. It
// inserts each region's side-A line span and leaves out of the tree any
// region whose span overlaps one already inserted. Spans are compared by
// line only, so regions on the same line (for example two regions split
// under ModeBothSides because side B was not adjacent) count as
// overlapping. Nothing is reported; the regions are returned unchanged.
func checkNoOverlap(regions []Region) []Region {
	tree := interval.New[uint32, int]()

	for i, r := range regions {
		if overlaps := tree.QueryOverlap(r.A.Start.Line, r.A.End.Line); len(overlaps) > 0 {
			// Overlapping line span: keep it out of the tree; the region
			// itself is still returned.
			continue
		}

		tree.Insert(r.A.Start.Line, r.A.End.Line, i)
	}

	return regions
}
