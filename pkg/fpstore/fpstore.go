// Package fpstore defines the Fingerprint Store contract (C5): the
// per-content-hash persistence of winnowed token fingerprints, AST
// subtree multisets, and cached pair results, plus the set-intersection
// primitives the similarity engine (C7) is built on.
package fpstore

import (
	"context"
	"errors"
	"time"

	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
)

// ErrUnavailable is FingerprintStoreUnavailable from spec §7. The badger
// and gRPC stores in internal/store wrap their failures in it; no caller
// in this module retries on it or falls back to in-process compute, so
// the error is returned to the caller as is.
var ErrUnavailable = errors.New("fpstore: store unavailable")

// ErrNotFound names a lookup of a content hash that was never put. The
// stores in this module do not return it: their lookups report such a
// hash with found=false and a nil error.
var ErrNotFound = errors.New("fpstore: content hash not found")

// PairResult is the cached output of a compare(a, b) call: the AST
// similarity and the assembled matches. Token similarity is
// deliberately not part of this cached shape, per DESIGN.md's Open
// Question decision.
type PairResult struct {
	ASTSim  float64
	Matches []byte // caller-serialized match list (pkg/match owns the shape)
}

// Store is the C5 contract. Every method is keyed by content hash,
// §3's sole cache key. Implementations must be safe for concurrent use.
type Store interface {
	// Put persists fingerprints and ast hashes for h, idempotently, and
	// refreshes the TTL. Empty ast multisets are not cached (a parser
	// degenerate case per spec §4.5) — Put on such input is a no-op for
	// the AST side and returns nil.
	Put(ctx context.Context, h string, fp fingerprint.Set, ast astcanon.Multiset, ttl time.Duration) error

	HasToken(ctx context.Context, h string) (bool, error)
	HasAST(ctx context.Context, h string) (bool, error)

	// GetFingerprints returns found=false if h was never put.
	GetFingerprints(ctx context.Context, h string) (fingerprint.Set, bool, error)
	GetAST(ctx context.Context, h string) (astcanon.Multiset, bool, error)

	// IntersectTokenHashes returns the set of hashes present in both
	// h1's and h2's fingerprint sets, computed as a single store-side
	// primitive rather than a client-side loop over two materialized
	// sets (spec §4.5).
	IntersectTokenHashes(ctx context.Context, h1, h2 string) (map[uint64]struct{}, error)

	// IntersectAST returns |A ∩ B| under multiset semantics.
	IntersectAST(ctx context.Context, h1, h2 string) (int, error)

	// CardAST returns the cached cardinality of h's AST multiset.
	CardAST(ctx context.Context, h string) (int, error)

	// Positions batch-looks-up anchor lists for a set of hashes within
	// h's fingerprint set.
	Positions(ctx context.Context, h string, hashes map[uint64]struct{}) (map[uint64][]fingerprint.Anchor, error)

	// CachePair/GetPair key on the sorted pair (h1, h2).
	CachePair(ctx context.Context, h1, h2 string, result PairResult) error
	GetPair(ctx context.Context, h1, h2 string) (PairResult, bool, error)
}

// SortPair returns h1, h2 in a deterministic order so CachePair/GetPair
// always key on the same pair regardless of call order.
func SortPair(h1, h2 string) (string, string) {
	if h1 > h2 {
		return h2, h1
	}

	return h1, h2
}
