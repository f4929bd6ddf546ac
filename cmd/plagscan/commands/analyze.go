package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/plagscan/engine/internal/config"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/fpstore"
	"github.com/plagscan/engine/pkg/match"
	"github.com/plagscan/engine/pkg/similarity"
	"github.com/plagscan/engine/pkg/task"
)

const analyzePercent = 100

// analyzeResult is the JSON shape spec §6 mandates for `analyze`.
type analyzeResult struct {
	Similarity      float64            `json:"similarity"`
	SimilarityRatio float64            `json:"similarity_ratio"`
	Matches         []matchJSON        `json:"matches"`
	File1           string             `json:"file1"`
	File2           string             `json:"file2"`
	Language        string             `json:"language"`
}

type matchJSON struct {
	LeftStart   positionJSON `json:"left_start"`
	LeftEnd     positionJSON `json:"left_end"`
	RightStart  positionJSON `json:"right_start"`
	RightEnd    positionJSON `json:"right_end"`
	AnchorCount int          `json:"anchor_count"`
}

type positionJSON struct {
	Line   uint32 `json:"line"`
	Column uint32 `json:"column"`
}

// noopIngestor satisfies similarity.Ingestor for the CLI, where both
// sides are always ingested eagerly before Compare runs.
type noopIngestor struct{ store fpstore.Store }

func (n noopIngestor) Ensure(ctx context.Context, contentHash string) error {
	ok, err := n.store.HasToken(ctx, contentHash)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("plagscan: %s was not pre-ingested", contentHash)
	}

	return nil
}

// AnalyzeCmd implements `analyze <file1> <file2> [--language L]
// [--ast-threshold τ]`, spec §6's offline CLI path over C1-C4, C7-C8.
func AnalyzeCmd() *cobra.Command {
	var (
		language       string
		astThreshold   float64
		format         string
		mergeSideAOnly bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file1> <file2>",
		Short: "Compare two source files for structural similarity",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			runAnalyze(args[0], args[1], language, astThreshold, format, mergeSideAOnly)

			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "source language (python|cpp); inferred from extension if omitted")
	cmd.Flags().Float64Var(&astThreshold, "ast-threshold", similarity.DefaultASTThreshold, "AST Jaccard threshold for match assembly")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json|text")
	cmd.Flags().BoolVar(&mergeSideAOnly, "merge-side-a-only", false,
		"test merge adjacency on side A alone, matching the reference implementation's merge_adjacent_matches, instead of both sides")

	return cmd
}

func runAnalyze(file1, file2, language string, astThreshold float64, format string, mergeSideAOnly bool) {
	ctx := context.Background()

	l, err := detectLanguage(language, file1)
	if err != nil {
		writeError(err)

		return
	}

	fpCfg := fingerprint.DefaultConfig()

	a, err := ingestFile(ctx, file1, l, fpCfg, config.DefaultASTMinDepth)
	if err != nil {
		writeError(err)

		return
	}
	defer a.tree.Close()

	b, err := ingestFile(ctx, file2, l, fpCfg, config.DefaultASTMinDepth)
	if err != nil {
		writeError(err)

		return
	}
	defer b.tree.Close()

	store := fpstore.NewMem()

	const ttl = 7 * 24 * time.Hour

	if err := store.Put(ctx, a.contentHash, a.fp, a.ast, ttl); err != nil {
		writeError(err)

		return
	}

	if err := store.Put(ctx, b.contentHash, b.fp, b.ast, ttl); err != nil {
		writeError(err)

		return
	}

	cfg := similarity.DefaultConfig()
	cfg.ASTThreshold = astThreshold

	if mergeSideAOnly {
		cfg.Match.Mode = match.ModeSideAOnly
	}

	engine := similarity.New(store, noopIngestor{store: store}, cfg)

	result, err := engine.Compare(ctx, a.contentHash, b.contentHash)
	if err != nil {
		writeError(err)

		return
	}

	out := analyzeResult{
		Similarity:      result.ASTSim,
		SimilarityRatio: result.ASTSim * analyzePercent,
		Matches:         toMatchJSON(result.Matches),
		File1:           file1,
		File2:           file2,
		Language:        string(l),
	}

	if format == "text" {
		renderAnalyzeText(out)

		return
	}

	writeJSON(out)
}

func toMatchJSON(matches []task.RegionMatch) []matchJSON {
	out := make([]matchJSON, len(matches))

	for i, m := range matches {
		out[i] = matchJSON{
			LeftStart:   positionJSON{Line: m.LeftSpan.StartLine, Column: m.LeftSpan.StartCol},
			LeftEnd:     positionJSON{Line: m.LeftSpan.EndLine, Column: m.LeftSpan.EndCol},
			RightStart:  positionJSON{Line: m.RightSpan.StartLine, Column: m.RightSpan.StartCol},
			RightEnd:    positionJSON{Line: m.RightSpan.EndLine, Column: m.RightSpan.EndCol},
			AnchorCount: m.AnchorCount,
		}
	}

	return out
}

func renderAnalyzeText(out analyzeResult) {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintf(os.Stdout, "%s vs %s (%s)\n", out.File1, out.File2, out.Language)

	scoreColor := color.New(color.FgGreen)
	if out.Similarity >= similarity.DefaultASTThreshold {
		scoreColor = color.New(color.FgRed, color.Bold)
	}

	scoreColor.Fprintf(os.Stdout, "ast_sim: %.4f (%.1f%%)\n", out.Similarity, out.SimilarityRatio)

	if len(out.Matches) == 0 {
		fmt.Fprintln(os.Stdout, "no matching regions")

		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"left", "right", "anchors"})

	for _, m := range out.Matches {
		tbl.AppendRow(table.Row{
			fmt.Sprintf("%d:%d-%d:%d", m.LeftStart.Line, m.LeftStart.Column, m.LeftEnd.Line, m.LeftEnd.Column),
			fmt.Sprintf("%d:%d-%d:%d", m.RightStart.Line, m.RightStart.Column, m.RightEnd.Line, m.RightEnd.Column),
			m.AnchorCount,
		})
	}

	tbl.Render()
}
