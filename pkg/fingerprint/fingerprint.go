// Package fingerprint computes rolling k-gram hashes over a token stream
// and winnows them down to a sparse, stable anchor set (C3).
package fingerprint

import (
	"math/big"

	"github.com/cespare/xxhash/v2"

	"github.com/plagscan/engine/pkg/lang"
	"github.com/plagscan/engine/pkg/token"
)

// Default tunables, per spec §6. Callers override via Config.
const (
	DefaultK      = 6
	DefaultWindow = 5

	// base is the rolling hash's polynomial base.
	base uint64 = 257

	// modulus is 2^61-1, a Mersenne prime recommended for the rewrite
	// over the reference implementation's 10^9+7 (kept in a comment only
	// for readers cross-validating against the original, not used here).
	modulus uint64 = (1 << 61) - 1
)

// Config tunes the fingerprinter. Compute replaces a K or Window that is
// zero or negative with its default; DefaultConfig returns both defaults.
type Config struct {
	K      int
	Window int
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{K: DefaultK, Window: DefaultWindow}
}

// Anchor is the positional span a Fingerprint's hash was computed over:
// from the first token of the k-gram to the last.
type Anchor struct {
	Start lang.Position
	End   lang.Position
}

// Fingerprint is one winnowed hash with its anchor.
type Fingerprint struct {
	Hash  uint64
	Start lang.Position
	End   lang.Position
}

// Set is a file's fingerprint set: hash to its anchor list (duplicates
// retained for positional recovery), plus the length of the underlying
// winnowed sequence — the total weight used as a similarity denominator,
// not the size of the deduplicated hash set.
type Set struct {
	Positions    map[uint64][]Anchor
	TotalWeight  int
}

// sigma is a stable 64-bit digest of a token type string. xxhash is used
// deliberately instead of any language-provided hash: §9's Open Question
// mandates a digest that is byte-identical across processes and
// platforms, which a randomized string hash cannot guarantee.
func sigma(s string) uint64 {
	return xxhash.Sum64String(s)
}

// windowHash computes the rolling polynomial hash of K consecutive token
// types, per spec §4.3: h = (Σ σ(t_{i+j}) · base^{K-1-j}) mod M.
func windowHash(types []string, k int) uint64 {
	var h uint64

	for j := 0; j < k; j++ {
		pow := modPow(base, uint64(k-1-j))
		h = (h + mulMod(sigma(types[j]), pow)) % modulus
	}

	return h
}

var modulusBig = new(big.Int).SetUint64(modulus)

// mulMod computes a*b mod modulus. a*b can exceed 64 bits at these
// magnitudes, so the multiplication is done in arbitrary precision and
// reduced back down; K and the token count per file keep the number of
// calls small enough that this is not a hot loop.
func mulMod(a, b uint64) uint64 {
	x := new(big.Int).SetUint64(a)
	y := new(big.Int).SetUint64(b)
	x.Mul(x, y)
	x.Mod(x, modulusBig)

	return x.Uint64()
}

func modPow(b, e uint64) uint64 {
	result := uint64(1)
	b %= modulus

	for e > 0 {
		if e&1 == 1 {
			result = mulMod(result, b)
		}

		b = mulMod(b, b)
		e >>= 1
	}

	return result
}

// denseHash is one rolling-hash value positioned at its source window.
type denseHash struct {
	hash  uint64
	index int
	start lang.Position
	end   lang.Position
}

// Compute builds the dense rolling-hash sequence, then winnows it into
// the sparse fingerprint set (C3's two stages combined, since winnowing
// only ever consumes the dense sequence it was just built from).
func Compute(cfg Config, toks []token.Token) Set {
	k := cfg.K
	if k <= 0 {
		k = DefaultK
	}

	w := cfg.Window
	if w <= 0 {
		w = DefaultWindow
	}

	if len(toks) < k {
		return Set{Positions: map[uint64][]Anchor{}}
	}

	types := make([]string, len(toks))
	for i, t := range toks {
		types[i] = t.Type
	}

	dense := make([]denseHash, 0, len(toks)-k+1)

	for i := 0; i+k <= len(toks); i++ {
		h := windowHash(types[i:i+k], k)
		dense = append(dense, denseHash{
			hash:  h,
			index: i,
			start: toks[i].Start,
			end:   toks[i+k-1].End,
		})
	}

	return winnow(dense, w)
}

// winnow implements spec §4.3's winnowing rule: scan with a window of
// size W over the dense sequence, in each window pick the minimum hash;
// among ties pick the rightmost; emit it only if it differs from the
// last emitted hash (this is what collapses duplicate anchors produced
// by overlapping windows of equal minima, not a general dedup).
func winnow(dense []denseHash, w int) Set {
	out := Set{Positions: map[uint64][]Anchor{}}

	if len(dense) == 0 {
		return out
	}

	if w > len(dense) {
		w = len(dense)
	}

	var lastEmitted uint64

	haveLast := false

	for i := 0; i+w <= len(dense); i++ {
		window := dense[i : i+w]

		minIdx := 0
		for j := 1; j < len(window); j++ {
			if window[j].hash <= window[minIdx].hash {
				minIdx = j
			}
		}

		sel := window[minIdx]

		if haveLast && sel.hash == lastEmitted {
			continue
		}

		out.Positions[sel.hash] = append(out.Positions[sel.hash], Anchor{Start: sel.start, End: sel.end})
		out.TotalWeight++
		lastEmitted = sel.hash
		haveLast = true
	}

	return out
}

// Hashes returns the set of distinct hashes in s, for C6 indexing.
func (s Set) Hashes() []uint64 {
	out := make([]uint64, 0, len(s.Positions))
	for h := range s.Positions {
		out = append(out, h)
	}

	return out
}

// Count returns the number of anchors stored under hash h (§4.7's
// count_a(h)/count_b(h), which is len(positions(h)) by the Open Question
// decision to preserve position-count weighting).
func (s Set) Count(h uint64) int {
	return len(s.Positions[h])
}

// HashSet returns the distinct hashes in s as a membership set, the
// shape C6's Query expects.
func (s Set) HashSet() map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(s.Positions))
	for h := range s.Positions {
		out[h] = struct{}{}
	}

	return out
}
