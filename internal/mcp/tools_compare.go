package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plagscan/engine/internal/config"
	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/fpstore"
	"github.com/plagscan/engine/pkg/lang"
	"github.com/plagscan/engine/pkg/similarity"
	"github.com/plagscan/engine/pkg/task"
	"github.com/plagscan/engine/pkg/token"
)

const compareTTL = 24 * time.Hour

// compareOutput is the JSON shape returned by plagscan_compare. It has
// the `analyze` CLI command's similarity and similarity_ratio fields;
// matches are task.RegionMatch values rather than the CLI's
// left/right position objects, and file1/file2/language are omitted.
type compareOutput struct {
	Similarity      float64        `json:"similarity"`
	SimilarityRatio float64        `json:"similarity_ratio"`
	Matches         []task.RegionMatch `json:"matches"`
}

// inlineIngestor satisfies similarity.Ingestor: both content hashes are
// always put into the scratch store before Compare runs, so Ensure is
// just a presence check, mirroring the CLI's noopIngestor.
type inlineIngestor struct{ store fpstore.Store }

func (n inlineIngestor) Ensure(ctx context.Context, contentHash string) error {
	ok, err := n.store.HasToken(ctx, contentHash)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("plagscan: %s was not pre-ingested", contentHash)
	}

	return nil
}

// handleCompare processes plagscan_compare tool calls.
func handleCompare(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input CompareInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateCodeInput(input.CodeA, input.Language); err != nil {
		return errorResult(err)
	}

	if err := validateCodeInput(input.CodeB, input.Language); err != nil {
		return errorResult(err)
	}

	l := task.Language(input.Language)
	if !l.Valid() {
		return errorResult(fmt.Errorf("%w: %s", ErrUnsupportedLanguage, input.Language))
	}

	fpCfg := fingerprint.DefaultConfig()

	store := fpstore.NewMem()

	hashA, err := ingestInto(ctx, store, l, []byte(input.CodeA), fpCfg)
	if err != nil {
		return errorResult(fmt.Errorf("ingest code_a: %w", err))
	}

	hashB, err := ingestInto(ctx, store, l, []byte(input.CodeB), fpCfg)
	if err != nil {
		return errorResult(fmt.Errorf("ingest code_b: %w", err))
	}

	cfg := similarity.DefaultConfig()
	if input.ASTThreshold > 0 {
		cfg.ASTThreshold = input.ASTThreshold
	}

	engine := similarity.New(store, inlineIngestor{store: store}, cfg)

	result, err := engine.Compare(ctx, hashA, hashB)
	if err != nil {
		return errorResult(fmt.Errorf("compare: %w", err))
	}

	const percent = 100

	return jsonResult(compareOutput{
		Similarity:      result.ASTSim,
		SimilarityRatio: result.ASTSim * percent,
		Matches:         result.Matches,
	})
}

// ingestInto runs C1-C4 over content and stores its fingerprints/AST
// multiset under its content hash, returning that hash.
func ingestInto(ctx context.Context, store fpstore.Store, l task.Language, content []byte, fpCfg fingerprint.Config) (string, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	tree, err := lang.Parse(ctx, l, content)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	toks := token.Extract(tree)
	fp := fingerprint.Compute(fpCfg, toks)
	ast := astcanon.Compute(tree, config.DefaultASTMinDepth)

	if err := store.Put(ctx, hash, fp, ast, compareTTL); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}

	return hash, nil
}
