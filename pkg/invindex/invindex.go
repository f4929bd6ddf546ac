// Package invindex implements the corpus-wide inverted index (C6): an
// exact per-language hash-to-content-hash map used as the candidate
// filter before the expensive similarity pipeline runs, plus a MinHash
// /LSH sublinear pre-filter for corpora too large to scan exactly.
package invindex

import (
	"math"
	"sync"

	"github.com/plagscan/engine/pkg/alg/lsh"
	"github.com/plagscan/engine/pkg/alg/minhash"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/task"
)

// DefaultOverlapThreshold is theta from spec §4.6.
const DefaultOverlapThreshold = 0.15

// Index is one language partition of the inverted index: inv[hash] ->
// set of content hashes, and files[content_hash] -> set of hashes (the
// latter is what makes Remove a clean O(|files[h]|) operation instead
// of a full index scan).
type Index struct {
	mu    sync.RWMutex
	inv   map[uint64]map[string]struct{}
	files map[string]map[uint64]struct{}

	// sig/lsh back the sublinear pre-filter: a MinHash signature per
	// content hash and an LSH index over those signatures, mirroring
	// the teacher's clone detector (internal/analyzers/clones/analyzer.go)
	// repurposed here as a corpus-scale short-list before the exact
	// candidate count in Query runs.
	sig    map[string]*minhash.Signature
	lshIdx *lsh.Index
}

// Config tunes the MinHash/LSH pre-filter.
type Config struct {
	NumHashes int
	Bands     int
	Rows      int
}

// DefaultConfig mirrors the teacher's clone detector defaults
// (128 hashes, 16 bands x 8 rows).
func DefaultConfig() Config {
	return Config{NumHashes: 128, Bands: 16, Rows: 8}
}

// New constructs an empty index partition for one language.
func New(cfg Config) *Index {
	if cfg.NumHashes <= 0 {
		cfg = DefaultConfig()
	}

	lshIdx, err := lsh.New(cfg.Bands, cfg.Rows)
	if err != nil {
		// Bands/Rows come from DefaultConfig or a validated config;
		// only an invalid (<=0) value reaches here.
		lshIdx, _ = lsh.New(DefaultConfig().Bands, DefaultConfig().Rows)
	}

	return &Index{
		inv:    map[uint64]map[string]struct{}{},
		files:  map[string]map[uint64]struct{}{},
		sig:    map[string]*minhash.Signature{},
		lshIdx: lshIdx,
	}
}

// Add inserts a file's fingerprint set into the index, keyed by content
// hash. It is idempotent: re-adding the same content hash first removes
// its prior entries.
func (idx *Index) Add(contentHash string, fp fingerprint.Set) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(contentHash)

	hashes := make(map[uint64]struct{}, len(fp.Positions))

	for h := range fp.Positions {
		hashes[h] = struct{}{}

		bucket, ok := idx.inv[h]
		if !ok {
			bucket = map[string]struct{}{}
			idx.inv[h] = bucket
		}

		bucket[contentHash] = struct{}{}
	}

	idx.files[contentHash] = hashes

	sig, err := minhash.New(128)
	if err != nil {
		return
	}

	for h := range hashes {
		sig.Add(uint64ToBytes(h))
	}

	idx.sig[contentHash] = sig
	_ = idx.lshIdx.Insert(contentHash, sig)
}

// Remove deletes contentHash from the index.
func (idx *Index) Remove(contentHash string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(contentHash)
}

func (idx *Index) removeLocked(contentHash string) {
	hashes, ok := idx.files[contentHash]
	if !ok {
		return
	}

	for h := range hashes {
		if bucket, ok := idx.inv[h]; ok {
			delete(bucket, contentHash)

			if len(bucket) == 0 {
				delete(idx.inv, h)
			}
		}
	}

	delete(idx.files, contentHash)
	delete(idx.sig, contentHash)
}

// Query returns the content hashes whose overlap count with the query
// set Q meets or exceeds ceil(|Q| * theta), per spec §4.6. Counting is
// exact: it does not rely on the MinHash/LSH pre-filter, which only
// narrows the scan for corpora where iterating every inv[h] bucket
// would be too expensive (see QueryApprox).
func (idx *Index) Query(q map[uint64]struct{}, theta float64) map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if theta <= 0 {
		theta = DefaultOverlapThreshold
	}

	counts := map[string]int{}

	for h := range q {
		for candidate := range idx.inv[h] {
			counts[candidate]++
		}
	}

	threshold := int(math.Ceil(float64(len(q)) * theta))

	out := map[string]struct{}{}

	for candidate, n := range counts {
		if n >= threshold {
			out[candidate] = struct{}{}
		}
	}

	return out
}

// QueryApprox uses the MinHash/LSH pre-filter to short-list candidates
// for contentHash in sublinear time, then re-scores each with Query's
// exact overlap count so the returned set still satisfies the theta
// guarantee. It degrades to Query's exact behavior if contentHash has
// no recorded signature (e.g. it was added before the index existed).
func (idx *Index) QueryApprox(contentHash string, theta float64) map[string]struct{} {
	idx.mu.RLock()
	sig, ok := idx.sig[contentHash]
	q := idx.files[contentHash]
	idx.mu.RUnlock()

	if !ok {
		return idx.Query(q, theta)
	}

	candidateIDs, err := idx.lshIdx.Query(sig)
	if err != nil {
		return idx.Query(q, theta)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if theta <= 0 {
		theta = DefaultOverlapThreshold
	}

	threshold := int(math.Ceil(float64(len(q)) * theta))

	out := map[string]struct{}{}

	for _, id := range candidateIDs {
		if id == contentHash {
			continue
		}

		other, ok := idx.files[id]
		if !ok {
			continue
		}

		overlap := 0

		for h := range q {
			if _, ok := other[h]; ok {
				overlap++
			}
		}

		if overlap >= threshold {
			out[id] = struct{}{}
		}
	}

	return out
}

func uint64ToBytes(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * i))
	}

	return b
}

// Registry is one Index per language, the partitioning spec §4.6
// requires ("Partitioned by language").
type Registry struct {
	mu      sync.Mutex
	indexes map[task.Language]*Index
	cfg     Config
}

// NewRegistry builds an empty per-language registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{indexes: map[task.Language]*Index{}, cfg: cfg}
}

// For returns (creating if needed) the Index for language l.
func (r *Registry) For(l task.Language) *Index {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.indexes[l]
	if !ok {
		idx = New(r.cfg)
		r.indexes[l] = idx
	}

	return idx
}
