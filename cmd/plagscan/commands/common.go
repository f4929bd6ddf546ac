package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/lang"
	"github.com/plagscan/engine/pkg/task"
	"github.com/plagscan/engine/pkg/token"
)

// ingested is the in-memory result of running C1-C4 over one file,
// everything the CLI's offline analyze/fingerprint commands need
// without a fingerprint store round-trip.
type ingested struct {
	contentHash string
	tree        *lang.Tree
	tokens      []token.Token
	fp          fingerprint.Set
	ast         astcanon.Multiset
}

func ingestFile(ctx context.Context, path string, l task.Language, fpCfg fingerprint.Config, astMinDepth int) (*ingested, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sum := sha256.Sum256(content)

	tree, err := lang.Parse(ctx, l, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	toks := token.Extract(tree)
	fp := fingerprint.Compute(fpCfg, toks)
	ast := astcanon.Compute(tree, astMinDepth)

	return &ingested{
		contentHash: hex.EncodeToString(sum[:]),
		tree:        tree,
		tokens:      toks,
		fp:          fp,
		ast:         ast,
	}, nil
}

// detectLanguage infers a language from a file extension when the
// caller did not pass --language explicitly.
func detectLanguage(explicit, path string) (task.Language, error) {
	if explicit != "" {
		l := task.Language(explicit)
		if !l.Valid() {
			return "", fmt.Errorf("%w: %s", task.ErrUnsupportedLanguage, explicit)
		}

		return l, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return task.LanguagePython, nil
	case ".cpp", ".cc", ".cxx", ".hpp", ".hh", ".h":
		return task.LanguageCPP, nil
	default:
		return "", fmt.Errorf("%w: cannot infer language from %s, pass --language", task.ErrUnsupportedLanguage, path)
	}
}

// errorPayload is the {error} shape spec §6 mandates for CLI failures.
type errorPayload struct {
	Error string `json:"error"`
}

func writeError(err error) {
	b, _ := json.Marshal(errorPayload{Error: err.Error()})
	fmt.Fprintln(os.Stdout, string(b))
	os.Exit(1)
}

func writeJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		writeError(fmt.Errorf("marshal output: %w", err))
	}

	fmt.Fprintln(os.Stdout, string(b))
}
