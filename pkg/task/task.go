// Package task defines the data model shared by every stage of the
// plagiarism detection pipeline: file descriptors, task descriptors, and
// the result types the scheduler persists.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Language identifies a supported source language. The parser adapter
// dispatches on this value, not on file extension, so the bus contract
// can be explicit about what a producer claims a file to be.
type Language string

// Supported languages.
const (
	LanguagePython Language = "python"
	LanguageCPP    Language = "cpp"
)

// ErrUnsupportedLanguage is returned when a Language value has no
// registered parser.
var ErrUnsupportedLanguage = errors.New("task: unsupported language")

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case LanguagePython, LanguageCPP:
		return true
	default:
		return false
	}
}

// FileDescriptor identifies one source file submitted for comparison.
// ContentHash is the SHA-256 hex digest of the raw file bytes and is the
// sole cache key into the fingerprint store (§3); FileID is a
// per-submission identity used only by the result store.
type FileDescriptor struct {
	FileID       uuid.UUID `json:"id"`
	ContentHash  string    `json:"hash"`
	BlobLocator  string    `json:"path"`
	Filename     string    `json:"filename"`
	Content      []byte    `json:"-"`
}

// TaskDescriptor names a unit of comparison work submitted to the
// scheduler: one set of files, all in the same language, to fingerprint,
// index, and compare pairwise.
type TaskDescriptor struct {
	TaskID      uuid.UUID        `json:"task_id"`
	Language    Language         `json:"language"`
	SubmittedAt time.Time        `json:"-"`
	Files       []FileDescriptor `json:"files"`
}

// RegionSpan is a half-open byte range within a file, with the
// corresponding 0-based line/column start and end for display.
type RegionSpan struct {
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartLine uint32 `json:"start_line"`
	StartCol  uint32 `json:"start_col"`
	EndLine   uint32 `json:"end_line"`
	EndCol    uint32 `json:"end_col"`
}

// RegionMatch is one merged matching region between two files, produced
// by the match assembler (C8).
type RegionMatch struct {
	LeftFileID  uuid.UUID  `json:"left_file_id"`
	RightFileID uuid.UUID  `json:"right_file_id"`
	LeftSpan    RegionSpan `json:"left_span"`
	RightSpan   RegionSpan `json:"right_span"`
	AnchorCount int        `json:"anchor_count"`
}

// PairResult is the final output of comparing two files: the filter-stage
// token similarity (not persisted, per DESIGN.md's Open Question
// decision), the AST similarity score, and the assembled matches.
type PairResult struct {
	TaskID      uuid.UUID     `json:"task_id"`
	FileAID     uuid.UUID     `json:"file_a_id"`
	FileBID     uuid.UUID     `json:"file_b_id"`
	TokenSim    float64       `json:"-"`
	ASTSim      float64       `json:"ast_sim"`
	Matches     []RegionMatch `json:"matches"`
	Err         string        `json:"error,omitempty"`
	ComputedAt  time.Time     `json:"computed_at"`
}

// PairKey uniquely identifies an unordered pair of files within a task,
// normalized so (a, b) and (b, a) produce the same key: FileAID is
// always the lexicographically smaller UUID (§3's total order). It is
// the idempotency key the scheduler deduplicates and persists results
// on (§4.9, §8 no-duplicate-result).
type PairKey struct {
	TaskID  uuid.UUID
	FileAID uuid.UUID
	FileBID uuid.UUID
}

// NewPairKey normalizes two file IDs into a canonical PairKey.
func NewPairKey(taskID, a, b uuid.UUID) PairKey {
	if a.String() > b.String() {
		a, b = b, a
	}

	return PairKey{TaskID: taskID, FileAID: a, FileBID: b}
}
