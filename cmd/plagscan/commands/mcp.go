package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/plagscan/engine/internal/mcp"
	"github.com/plagscan/engine/internal/observability"
)

// MCPCmd implements `mcp`, exposing the fingerprint/compare pipeline as
// Model Context Protocol tools over stdio, the integration surface spec
// §6 describes for AI-agent callers alongside the CLI and `serve` API.
func MCPCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP server exposing fingerprint/compare tools over stdio",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes the plagiarism-detection pipeline as tools that AI
agents can discover and invoke:
  - plagscan_fingerprint: extract tokens, fingerprints, and AST hashes from one file
  - plagscan_compare: compare two files for structural similarity`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			meter := otel.GetMeterProvider().Meter("plagscan")

			red, err := observability.NewREDMetrics(meter)
			if err != nil {
				return err //nolint:wrapcheck
			}

			deps := mcp.ServerDeps{
				Logger:  logger,
				Metrics: red,
				Tracer:  otel.GetTracerProvider().Tracer("plagscan"),
			}

			srv := mcp.NewServer(deps)

			return srv.Run(cobraCmd.Context()) //nolint:wrapcheck
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	return cmd
}
