package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/plagscan/engine/pkg/task"
)

// FileEnvelope is one file entry in a task envelope, matching spec §6's
// wire field names exactly.
type FileEnvelope struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// TaskEnvelope is the task envelope spec §6 defines:
//
//	{ "task_id": "<uuid>", "language": "python"|"cpp",
//	  "files": [ {"id":"<uuid>", "hash":"<sha256-hex>",
//	              "path":"<blob-locator>", "filename":"<str>"} ] }
type TaskEnvelope struct {
	TaskID   string         `json:"task_id"`
	Language string         `json:"language"`
	Files    []FileEnvelope `json:"files"`
}

// Decode validates raw against the envelope schema, then unmarshals it.
func Decode(raw []byte) (TaskEnvelope, error) {
	if err := ValidateEnvelope(raw); err != nil {
		return TaskEnvelope{}, err
	}

	var env TaskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TaskEnvelope{}, fmt.Errorf("bus: decode envelope: %w", err)
	}

	return env, nil
}

// ToTaskDescriptor converts a validated envelope into the internal
// TaskDescriptor the scheduler consumes, parsing the UUID fields the
// schema only checked were non-empty strings.
func (e TaskEnvelope) ToTaskDescriptor() (task.TaskDescriptor, error) {
	taskID, err := uuid.Parse(e.TaskID)
	if err != nil {
		return task.TaskDescriptor{}, fmt.Errorf("bus: invalid task_id: %w", err)
	}

	files := make([]task.FileDescriptor, len(e.Files))

	for i, f := range e.Files {
		fileID, err := uuid.Parse(f.ID)
		if err != nil {
			return task.TaskDescriptor{}, fmt.Errorf("bus: invalid file id %q: %w", f.ID, err)
		}

		files[i] = task.FileDescriptor{
			FileID:      fileID,
			ContentHash: f.Hash,
			BlobLocator: f.Path,
			Filename:    f.Filename,
		}
	}

	return task.TaskDescriptor{
		TaskID:   taskID,
		Language: task.Language(e.Language),
		Files:    files,
	}, nil
}
