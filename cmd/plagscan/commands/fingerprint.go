package commands

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/plagscan/engine/internal/config"
	"github.com/plagscan/engine/pkg/astcanon"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/token"
)

// fingerprintResult is the JSON shape spec §6 mandates for `fingerprint`.
type fingerprintResult struct {
	Fingerprints     []fingerprintJSON `json:"fingerprints"`
	ASTHashes        []uint64          `json:"ast_hashes"`
	Tokens           []tokenJSON       `json:"tokens"`
	TokenCount       int               `json:"token_count"`
	FingerprintCount int               `json:"fingerprint_count"`
}

type fingerprintJSON struct {
	Hash  uint64       `json:"hash"`
	Start positionJSON `json:"start"`
	End   positionJSON `json:"end"`
}

type tokenJSON struct {
	Type  string       `json:"type"`
	Start positionJSON `json:"start"`
	End   positionJSON `json:"end"`
}

// FingerprintCmd implements `fingerprint <file> [--language L]`, spec
// §6's offline CLI path over C1-C3 (plus C4's AST hashes).
func FingerprintCmd() *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "fingerprint <file>",
		Short: "Extract tokens, fingerprints, and AST hashes from a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			runFingerprint(args[0], language)

			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "source language (python|cpp); inferred from extension if omitted")

	return cmd
}

func runFingerprint(path, language string) {
	ctx := context.Background()

	l, err := detectLanguage(language, path)
	if err != nil {
		writeError(err)

		return
	}

	ing, err := ingestFile(ctx, path, l, fingerprint.DefaultConfig(), config.DefaultASTMinDepth)
	if err != nil {
		writeError(err)

		return
	}
	defer ing.tree.Close()

	out := fingerprintResult{
		Fingerprints:     toFingerprintJSON(ing.fp),
		ASTHashes:        sortedASTHashes(ing.ast),
		Tokens:           toTokenJSON(ing.tokens),
		TokenCount:       len(ing.tokens),
		FingerprintCount: len(ing.fp.Positions),
	}

	writeJSON(out)
}

func toFingerprintJSON(fp fingerprint.Set) []fingerprintJSON {
	out := make([]fingerprintJSON, 0, len(fp.Positions))

	for h, anchors := range fp.Positions {
		for _, a := range anchors {
			out = append(out, fingerprintJSON{
				Hash:  h,
				Start: positionJSON{Line: a.Start.Line, Column: a.Start.Column},
				End:   positionJSON{Line: a.End.Line, Column: a.End.Column},
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Line != out[j].Start.Line {
			return out[i].Start.Line < out[j].Start.Line
		}

		return out[i].Start.Column < out[j].Start.Column
	})

	return out
}

func sortedASTHashes(ms astcanon.Multiset) []uint64 {
	out := make([]uint64, 0, len(ms))
	for h := range ms {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

func toTokenJSON(toks []token.Token) []tokenJSON {
	out := make([]tokenJSON, len(toks))

	for i, t := range toks {
		out[i] = tokenJSON{
			Type:  t.Type,
			Start: positionJSON{Line: t.Start.Line, Column: t.Start.Column},
			End:   positionJSON{Line: t.End.Line, Column: t.End.Column},
		}
	}

	return out
}
