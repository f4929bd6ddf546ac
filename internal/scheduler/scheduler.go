// Package scheduler implements the Pair Scheduler (C9): per-task file
// ingestion, intra/cross-task pair enumeration, bounded-parallelism
// dispatch to the similarity engine, idempotent result persistence, and
// batched progress publication.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/plagscan/engine/internal/observability"
	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/fpstore"
	"github.com/plagscan/engine/pkg/invindex"
	"github.com/plagscan/engine/pkg/lang"
	"github.com/plagscan/engine/pkg/similarity"
	"github.com/plagscan/engine/pkg/task"
	"github.com/plagscan/engine/pkg/token"
)

// ErrUnsupportedLanguage fails the whole task, per spec §7.
var ErrUnsupportedLanguage = errors.New("scheduler: unsupported language")

// ErrEmptyFileSet fails the whole task, per spec §7.
var ErrEmptyFileSet = errors.New("scheduler: empty file set after filtering")

// Status mirrors spec §3's task lifecycle: queued -> processing ->
// completed|failed.
type Status string

// Lifecycle states.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Config tunes the scheduler per spec §6.
type Config struct {
	WorkerConcurrency int
	PairTimeout       time.Duration
	ProgressBatch     int
	FingerprintTTL    time.Duration
	Fingerprint       fingerprint.Config
	ASTMinDepth       int
	CandidateOverlap  float64
	Similarity        similarity.Config
}

// DefaultConfig returns spec's defaults.
func DefaultConfig() Config {
	return Config{
		WorkerConcurrency: 4,
		PairTimeout:       300 * time.Second,
		ProgressBatch:     10,
		FingerprintTTL:    7 * 24 * time.Hour,
		Fingerprint:       fingerprint.DefaultConfig(),
		ASTMinDepth:       astcanon.DefaultMinDepth,
		CandidateOverlap:  invindex.DefaultOverlapThreshold,
		Similarity:        similarity.DefaultConfig(),
	}
}

// FileLister is the "existing-file listing" read-port from spec §6.
type FileLister interface {
	ListFiles(ctx context.Context, excludeTaskID uuid.UUID) ([]task.FileDescriptor, error)
}

// BlobFetcher is the blob fetch read-port from spec §6.
type BlobFetcher interface {
	Fetch(ctx context.Context, blobLocator string) ([]byte, error)
}

// ProgressSink is the task/result write-ports from spec §6.
type ProgressSink interface {
	UpdateTask(ctx context.Context, taskID uuid.UUID, status Status, totalPairs, processedPairs int, taskErr error)
	SavePairResult(ctx context.Context, result task.PairResult) error
}

// Scheduler wires every collaborator C9 needs. It holds no process-wide
// singletons (§9's "re-architect as an injected context struct").
// New replaces the whole Config with DefaultConfig when
// WorkerConcurrency is not positive; nil collaborators are not replaced.
type Scheduler struct {
	store    fpstore.Store
	index    *invindex.Registry
	files    FileLister
	blobs    BlobFetcher
	progress ProgressSink
	cfg      Config
	metrics  *observability.AnalysisMetrics
}

// New constructs a scheduler over its collaborators.
func New(store fpstore.Store, index *invindex.Registry, files FileLister, blobs BlobFetcher, progress ProgressSink, cfg Config) *Scheduler {
	if cfg.WorkerConcurrency <= 0 {
		cfg = DefaultConfig()
	}

	return &Scheduler{store: store, index: index, files: files, blobs: blobs, progress: progress, cfg: cfg}
}

// WithMetrics attaches per-run analysis metrics; nil-safe if never called,
// since observability.AnalysisMetrics.RecordRun no-ops on a nil receiver.
func (s *Scheduler) WithMetrics(m *observability.AnalysisMetrics) *Scheduler {
	s.metrics = m

	return s
}

// ensure implements similarity.Ingestor: parse -> tokenize -> fingerprint
// -> AST -> C5.put (lazily, only if not already cached).
type ensureAdapter struct {
	sched *Scheduler
	lang  task.Language
	// content carries raw bytes for content hashes ingested in this
	// task run, keyed by content hash, so Ensure can compute fresh
	// fingerprints without a second blob fetch.
	content map[string][]byte
}

func (a *ensureAdapter) Ensure(ctx context.Context, contentHash string) error {
	if ok, err := a.sched.store.HasToken(ctx, contentHash); err == nil && ok {
		return nil
	}

	raw, ok := a.content[contentHash]
	if !ok {
		return fmt.Errorf("scheduler: no source bytes cached for %s", contentHash)
	}

	return a.sched.ingestOne(ctx, a.lang, contentHash, raw)
}

// ingestOne runs C1-C4 and writes the result to C5+C6, spec §4.9 step 2.
func (s *Scheduler) ingestOne(ctx context.Context, l task.Language, contentHash string, content []byte) error {
	tree, err := lang.Parse(ctx, l, content)
	if err != nil {
		return fmt.Errorf("scheduler: parse %s: %w", contentHash, err)
	}
	defer tree.Close()

	toks := token.Extract(tree)
	fp := fingerprint.Compute(s.cfg.Fingerprint, toks)
	ast := astcanon.Compute(tree, s.cfg.ASTMinDepth)

	if err := s.store.Put(ctx, contentHash, fp, ast, s.cfg.FingerprintTTL); err != nil {
		return fmt.Errorf("scheduler: put %s: %w", contentHash, err)
	}

	s.index.For(l).Add(contentHash, fp)

	return nil
}

// Run executes a task per spec §4.9's seven steps.
func (s *Scheduler) Run(ctx context.Context, t task.TaskDescriptor) error {
	if !t.Language.Valid() {
		s.progress.UpdateTask(ctx, t.TaskID, StatusFailed, 0, 0, ErrUnsupportedLanguage)

		return ErrUnsupportedLanguage
	}

	if len(t.Files) == 0 {
		s.progress.UpdateTask(ctx, t.TaskID, StatusFailed, 0, 0, ErrEmptyFileSet)

		return ErrEmptyFileSet
	}

	s.progress.UpdateTask(ctx, t.TaskID, StatusProcessing, 0, 0, nil)

	adapter := &ensureAdapter{sched: s, lang: t.Language, content: map[string][]byte{}}

	var filesIngested int64

	for _, f := range t.Files {
		adapter.content[f.ContentHash] = f.Content

		if ok, err := s.store.HasToken(ctx, f.ContentHash); err != nil || !ok {
			if err := s.ingestOne(ctx, t.Language, f.ContentHash, f.Content); err != nil {
				// Parse failures fail the pair, not the task (§7). The
				// file is not indexed, so it yields no cross-task pairs;
				// its intra-task pairs stay scheduled and each one fails
				// with the parse error when Compare calls Ensure.
				continue
			}

			filesIngested++
		}
	}

	intra := intraPairs(t)
	cross, fanout, err := s.crossPairsWithFanout(ctx, t)
	if err != nil {
		return fmt.Errorf("scheduler: cross pairs: %w", err)
	}

	allPairs := append(intra, cross...)
	total := len(allPairs)

	s.progress.UpdateTask(ctx, t.TaskID, StatusProcessing, total, 0, nil)

	durations := s.execute(ctx, t, adapter, allPairs)

	s.progress.UpdateTask(ctx, t.TaskID, StatusCompleted, total, total, nil)

	s.metrics.RecordRun(ctx, observability.AnalysisStats{
		PairsTotal:      int64(total),
		FilesIngested:   filesIngested,
		PairDurations:   durations,
		CandidateCounts: fanout,
	})

	return nil
}

type pairWork struct {
	fileA, fileB task.FileDescriptor
}

// intraPairs enumerates C(|files|, 2), spec §4.9 step 3, and is
// processed before cross-task pairs (§5's ordering guarantee).
func intraPairs(t task.TaskDescriptor) []pairWork {
	out := make([]pairWork, 0, len(t.Files)*(len(t.Files)-1)/2)

	for i := 0; i < len(t.Files); i++ {
		for j := i + 1; j < len(t.Files); j++ {
			out = append(out, pairWork{fileA: t.Files[i], fileB: t.Files[j]})
		}
	}

	return out
}

// crossPairsWithFanout asks C6 for candidates across the corpus for each
// new file, per spec §4.9 step 4, de-duplicating so (a,b) and (b,a) are
// never both emitted and (a,a) is never emitted. The candidate lookup
// itself runs through the index's MinHash/LSH short-list (QueryApprox)
// rather than a full inv[h] bucket scan, then re-scores every
// short-listed candidate with the same exact overlap count Query uses,
// so the theta threshold from spec §4.6 is never relaxed by the
// pre-filter. It also returns, for each queried file, the candidate-set
// size returned before de-duplication — the per-run fanout distribution
// internal/observability's AnalysisMetrics reports to flag an
// under-selective C6 overlap threshold.
func (s *Scheduler) crossPairsWithFanout(ctx context.Context, t task.TaskDescriptor) ([]pairWork, []int, error) {
	existing, err := s.files.ListFiles(ctx, t.TaskID)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: list existing files: %w", err)
	}

	byHash := make(map[string]task.FileDescriptor, len(existing))
	for _, f := range existing {
		byHash[f.ContentHash] = f
	}

	seenPair := map[string]struct{}{}
	seenNew := map[string]struct{}{}

	for _, f := range t.Files {
		seenNew[f.ContentHash] = struct{}{}
	}

	idx := s.index.For(t.Language)

	var (
		out    []pairWork
		fanout []int
	)

	for _, f := range t.Files {
		_, ok, err := s.store.GetFingerprints(ctx, f.ContentHash)
		if err != nil || !ok {
			continue
		}

		candidates := idx.QueryApprox(f.ContentHash, s.cfg.CandidateOverlap)
		fanout = append(fanout, len(candidates))

		for candidateHash := range candidates {
			if candidateHash == f.ContentHash {
				continue
			}

			if _, isNew := seenNew[candidateHash]; isNew {
				// Intra-task pairs already cover new-new combinations.
				continue
			}

			other, ok := byHash[candidateHash]
			if !ok {
				continue
			}

			key := pairDedupKey(f.ContentHash, candidateHash)
			if _, seen := seenPair[key]; seen {
				continue
			}

			seenPair[key] = struct{}{}
			out = append(out, pairWork{fileA: f, fileB: other})
		}
	}

	return out, fanout, nil
}

func pairDedupKey(a, b string) string {
	if a > b {
		a, b = b, a
	}

	return a + "\x00" + b
}

// execute runs pairs with bounded parallelism P (spec §4.9 step 6),
// persisting each PairResult with idempotency, and publishes progress
// every F completions (step 7). golang.org/x/sync/semaphore bounds the
// fan-out; the teacher's own worker-pool idiom is hand-rolled channels
// (pkg/gitlib/worker.go), but this fan-out is corpus-wide rather than a
// single CGO worker, so a semaphore over goroutines fits better.
func (s *Scheduler) execute(ctx context.Context, t task.TaskDescriptor, ingest similarity.Ingestor, pairs []pairWork) []time.Duration {
	sem := semaphore.NewWeighted(int64(s.cfg.WorkerConcurrency))
	engine := similarity.New(s.store, ingest, s.cfg.Similarity)

	var (
		wg        sync.WaitGroup
		completed int64
		durMu     sync.Mutex
		durations = make([]time.Duration, 0, len(pairs))
	)

	batch := s.cfg.ProgressBatch
	if batch <= 0 {
		batch = 10
	}

	for _, p := range pairs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)

		go func(p pairWork) {
			defer wg.Done()
			defer sem.Release(1)

			d := s.runPair(ctx, t, engine, p)

			durMu.Lock()
			durations = append(durations, d)
			durMu.Unlock()

			n := atomic.AddInt64(&completed, 1)
			if n%int64(batch) == 0 {
				s.progress.UpdateTask(ctx, t.TaskID, StatusProcessing, len(pairs), int(n), nil)
			}
		}(p)
	}

	wg.Wait()

	return durations
}

func (s *Scheduler) runPair(ctx context.Context, t task.TaskDescriptor, engine *similarity.Engine, p pairWork) time.Duration {
	start := time.Now()

	pairCtx, cancel := context.WithTimeout(ctx, s.cfg.PairTimeout)
	defer cancel()

	result, err := engine.Compare(pairCtx, p.fileA.ContentHash, p.fileB.ContentHash)

	key := task.NewPairKey(t.TaskID, p.fileA.FileID, p.fileB.FileID)

	pr := task.PairResult{
		TaskID:     key.TaskID,
		FileAID:    key.FileAID,
		FileBID:    key.FileBID,
		ComputedAt: time.Now(),
	}

	if err != nil {
		pr.Err = err.Error()
	} else {
		pr.TokenSim = result.TokenSim
		pr.ASTSim = result.ASTSim
		pr.Matches = withFileIDs(result.Matches, p.fileA.FileID, p.fileB.FileID)
	}

	// Saves are idempotent per pair key (spec §7). The scheduler neither
	// inspects nor logs a SavePairResult error; it is discarded.
	_ = s.progress.SavePairResult(ctx, pr)

	return time.Since(start)
}

func withFileIDs(matches []task.RegionMatch, a, b uuid.UUID) []task.RegionMatch {
	out := make([]task.RegionMatch, len(matches))

	for i, m := range matches {
		m.LeftFileID = a
		m.RightFileID = b
		out[i] = m
	}

	return out
}
