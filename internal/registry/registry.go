// Package registry provides an in-process corpus registry: the
// FileLister/ProgressSink read/write-ports the scheduler needs to find
// existing files for cross-task candidate pairs and to record task and
// pair outcomes. It follows the same RWMutex-over-plain-map idiom as
// pkg/fpstore.Mem.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plagscan/engine/internal/scheduler"
	"github.com/plagscan/engine/pkg/task"
)

// TaskRecord is a task's lifecycle state as the registry tracks it.
type TaskRecord struct {
	Status         scheduler.Status
	TotalPairs     int
	ProcessedPairs int
	Err            string
	UpdatedAt      time.Time
}

// Registry is the in-process corpus backing a single plagscan server
// instance: every file ever ingested by a completed or in-flight task,
// plus per-task progress and per-pair results. It holds no external
// connection, so restart loses history; durable deployments should
// back C5 with internal/store.Badger instead, which persists
// fingerprints independently of this index.
type Registry struct {
	mu    sync.RWMutex
	files map[string]task.FileDescriptor // by content hash
	tasks map[uuid.UUID]*TaskRecord
	pairs map[task.PairKey]task.PairResult
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		files: make(map[string]task.FileDescriptor),
		tasks: make(map[uuid.UUID]*TaskRecord),
		pairs: make(map[task.PairKey]task.PairResult),
	}
}

// Observe records a task's files as part of the corpus, so later tasks
// can find them as cross-task candidates. Content bytes are dropped;
// only the metadata survives for ListFiles/Fetch.
func (r *Registry) Observe(t task.TaskDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range t.Files {
		f.Content = nil
		r.files[f.ContentHash] = f
	}
}

// ListFiles implements scheduler.FileLister: every previously observed
// file, regardless of which task it arrived with.
func (r *Registry) ListFiles(_ context.Context, _ uuid.UUID) ([]task.FileDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]task.FileDescriptor, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}

	return out, nil
}

// Fetch implements scheduler.BlobFetcher by treating the blob locator
// as a content hash already resident in the registry; the reference
// deployment never round-trips to external blob storage, since
// TaskEnvelope.Files already carries raw bytes inline (spec §5/§6).
func (r *Registry) Fetch(_ context.Context, blobLocator string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.files[blobLocator].Content, nil
}

// UpdateTask implements scheduler.ProgressSink.
func (r *Registry) UpdateTask(_ context.Context, taskID uuid.UUID, status scheduler.Status, totalPairs, processedPairs int, taskErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[taskID]
	if !ok {
		rec = &TaskRecord{}
		r.tasks[taskID] = rec
	}

	rec.Status = status
	rec.TotalPairs = totalPairs
	rec.ProcessedPairs = processedPairs
	rec.UpdatedAt = time.Now()

	if taskErr != nil {
		rec.Err = taskErr.Error()
	}
}

// SavePairResult implements scheduler.ProgressSink. Later writes for
// the same key overwrite earlier ones, the idempotency spec §7 asks
// for when a pair is recomputed.
func (r *Registry) SavePairResult(_ context.Context, result task.PairResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := task.PairKey{TaskID: result.TaskID, FileAID: result.FileAID, FileBID: result.FileBID}
	r.pairs[key] = result

	return nil
}

// Task returns the current record for taskID, if any.
func (r *Registry) Task(taskID uuid.UUID) (TaskRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tasks[taskID]
	if !ok {
		return TaskRecord{}, false
	}

	return *rec, true
}

var _ scheduler.FileLister = (*Registry)(nil)
var _ scheduler.BlobFetcher = (*Registry)(nil)
var _ scheduler.ProgressSink = (*Registry)(nil)
