package fpstore

import (
	"context"
	"sync"
	"time"

	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
)

// entry is one content hash's stored state, mirroring the teacher's
// BlobCache[T] value shape (internal/cache/cache.go) but with an
// expiry, since fingerprints here carry a TTL the teacher's blob cache
// never needed.
type entry struct {
	fp        fingerprint.Set
	hasFP     bool
	ast       astcanon.Multiset
	hasAST    bool
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Mem is an in-memory Store, used by tests, the one-shot CLI commands
// and serve's default backend. It follows the teacher's
// BlobCache[T]/HashSet locking idiom: one RWMutex guarding a plain map.
type Mem struct {
	mu    sync.RWMutex
	byKey map[string]*entry
	pairs map[string]PairResult
}

// NewMem constructs an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		byKey: make(map[string]*entry),
		pairs: make(map[string]PairResult),
	}
}

var _ Store = (*Mem)(nil)

func (m *Mem) getLocked(h string) (*entry, bool) {
	e, ok := m.byKey[h]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}

	return e, true
}

// Put implements Store.
func (m *Mem) Put(_ context.Context, h string, fp fingerprint.Set, ast astcanon.Multiset, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byKey[h]
	if !ok {
		e = &entry{}
		m.byKey[h] = e
	}

	e.fp = fp
	e.hasFP = true

	if len(ast) > 0 {
		e.ast = ast
		e.hasAST = true
	}

	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	return nil
}

// HasToken implements Store.
func (m *Mem) HasToken(_ context.Context, h string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.getLocked(h)

	return ok && e.hasFP, nil
}

// HasAST implements Store.
func (m *Mem) HasAST(_ context.Context, h string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.getLocked(h)

	return ok && e.hasAST, nil
}

// GetFingerprints implements Store.
func (m *Mem) GetFingerprints(_ context.Context, h string) (fingerprint.Set, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.getLocked(h)
	if !ok || !e.hasFP {
		return fingerprint.Set{}, false, nil
	}

	return e.fp, true, nil
}

// GetAST implements Store.
func (m *Mem) GetAST(_ context.Context, h string) (astcanon.Multiset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.getLocked(h)
	if !ok || !e.hasAST {
		return nil, false, nil
	}

	return e.ast, true, nil
}

// IntersectTokenHashes implements Store as the set-intersection
// primitive spec §4.5 requires: computed store-side over the two
// already-resident fingerprint sets, not by a caller materializing both
// sets and looping.
func (m *Mem) IntersectTokenHashes(_ context.Context, h1, h2 string) (map[uint64]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, aok := m.getLocked(h1)
	b, bok := m.getLocked(h2)

	out := map[uint64]struct{}{}
	if !aok || !bok || !a.hasFP || !b.hasFP {
		return out, nil
	}

	small, large := a.fp.Positions, b.fp.Positions
	if len(b.fp.Positions) < len(a.fp.Positions) {
		small, large = b.fp.Positions, a.fp.Positions
	}

	for h := range small {
		if _, ok := large[h]; ok {
			out[h] = struct{}{}
		}
	}

	return out, nil
}

// IntersectAST implements Store.
func (m *Mem) IntersectAST(_ context.Context, h1, h2 string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, aok := m.getLocked(h1)
	b, bok := m.getLocked(h2)

	if !aok || !bok || !a.hasAST || !b.hasAST {
		return 0, nil
	}

	return astcanon.Intersect(a.ast, b.ast), nil
}

// CardAST implements Store.
func (m *Mem) CardAST(_ context.Context, h string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.getLocked(h)
	if !ok || !e.hasAST {
		return 0, nil
	}

	return e.ast.Cardinality(), nil
}

// Positions implements Store.
func (m *Mem) Positions(_ context.Context, h string, hashes map[uint64]struct{}) (map[uint64][]fingerprint.Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[uint64][]fingerprint.Anchor{}

	e, ok := m.getLocked(h)
	if !ok || !e.hasFP {
		return out, nil
	}

	for hash := range hashes {
		if anchors, found := e.fp.Positions[hash]; found {
			out[hash] = anchors
		}
	}

	return out, nil
}

func pairKey(h1, h2 string) string {
	a, b := SortPair(h1, h2)

	return a + "\x00" + b
}

// CachePair implements Store.
func (m *Mem) CachePair(_ context.Context, h1, h2 string, result PairResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pairs[pairKey(h1, h2)] = result

	return nil
}

// GetPair implements Store.
func (m *Mem) GetPair(_ context.Context, h1, h2 string) (PairResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.pairs[pairKey(h1, h2)]

	return r, ok, nil
}
