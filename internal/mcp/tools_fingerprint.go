package mcp

import (
	"context"
	"fmt"
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plagscan/engine/internal/config"
	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/lang"
	"github.com/plagscan/engine/pkg/task"
	"github.com/plagscan/engine/pkg/token"
)

// fingerprintOutput is the JSON shape returned by plagscan_fingerprint:
// the `fingerprint` CLI command's ast_hashes, fingerprint_count and
// token_count fields. The CLI's fingerprint and token lists are not
// included.
type fingerprintOutput struct {
	ASTHashes        []uint64 `json:"ast_hashes"`
	FingerprintCount int      `json:"fingerprint_count"`
	TokenCount       int      `json:"token_count"`
}

// handleFingerprint processes plagscan_fingerprint tool calls.
func handleFingerprint(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input FingerprintInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validateCodeInput(input.Code, input.Language)
	if err != nil {
		return errorResult(err)
	}

	l := task.Language(input.Language)
	if !l.Valid() {
		return errorResult(fmt.Errorf("%w: %s", ErrUnsupportedLanguage, input.Language))
	}

	tree, err := lang.Parse(ctx, l, []byte(input.Code))
	if err != nil {
		return errorResult(fmt.Errorf("parse code: %w", err))
	}
	defer tree.Close()

	toks := token.Extract(tree)
	fp := fingerprint.Compute(fingerprint.DefaultConfig(), toks)
	ast := astcanon.Compute(tree, config.DefaultASTMinDepth)

	return jsonResult(fingerprintOutput{
		ASTHashes:        sortedASTHashes(ast),
		FingerprintCount: len(fp.Positions),
		TokenCount:       len(toks),
	})
}

func sortedASTHashes(ms astcanon.Multiset) []uint64 {
	out := make([]uint64, 0, len(ms))
	for h := range ms {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
