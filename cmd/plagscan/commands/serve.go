package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/plagscan/engine/internal/bus"
	"github.com/plagscan/engine/internal/config"
	"github.com/plagscan/engine/internal/observability"
	"github.com/plagscan/engine/internal/registry"
	"github.com/plagscan/engine/internal/scheduler"
	"github.com/plagscan/engine/internal/store"
	"github.com/plagscan/engine/pkg/fingerprint"
	"github.com/plagscan/engine/pkg/fpstore"
	"github.com/plagscan/engine/pkg/invindex"
	"github.com/plagscan/engine/pkg/match"
	"github.com/plagscan/engine/pkg/similarity"
)

const (
	serverReadTimeout  = 30 * time.Second
	serverWriteTimeout = 60 * time.Second
	serverIdleTimeout  = 120 * time.Second
	busBuffer          = 256
)

// ServeCmd implements `serve`, the long-running worker mode spec §5/§6
// describe: a task bus intake, the C9 scheduler running against the
// configured C5 store and an in-memory C6 index, and a
// health/readiness/metrics surface for operators.
func ServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		diagAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plagscan worker: task intake, scheduling, and diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, addr, diagAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file (default is $HOME/.plagscan.yaml)")
	cmd.Flags().StringVar(&addr, "addr", ":8088", "address for the task-submission HTTP API")
	cmd.Flags().StringVar(&diagAddr, "diag-addr", ":8089", "address for /healthz, /readyz, /metrics")

	return cmd
}

func runServe(ctx context.Context, configPath, addr, diagAddr string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fpStore, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	index := invindex.NewRegistry(invindex.DefaultConfig())
	corpus := registry.New()

	meter := otel.GetMeterProvider().Meter("plagscan")

	analysisMetrics, err := observability.NewAnalysisMetrics(meter)
	if err != nil {
		return fmt.Errorf("build analysis metrics: %w", err)
	}

	sched := scheduler.New(fpStore, index, corpus, corpus, corpus, schedulerConfig(cfg)).WithMetrics(analysisMetrics)

	msgBus := bus.New(logger, busBuffer)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go msgBus.Run(ctx, func(runCtx context.Context, env bus.TaskEnvelope) error {
		t, convErr := env.ToTaskDescriptor()
		if convErr != nil {
			return fmt.Errorf("decode task envelope: %w", convErr)
		}

		corpus.Observe(t)

		return sched.Run(runCtx, t)
	})

	go logDeadLetters(ctx, logger, msgBus)

	diag, err := observability.NewDiagnosticsServer(diagAddr, meter)
	if err != nil {
		return fmt.Errorf("start diagnostics server: %w", err)
	}
	defer diag.Close()

	submit := newSubmitServer(addr, msgBus)

	logger.Info("plagscan server listening", "diagnostics_addr", diag.Addr(), "submit_addr", addr+"/v1/tasks")

	srvErr := make(chan error, 1)

	go func() {
		srvErr <- submit.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverWriteTimeout)
		defer cancel()

		return submit.Shutdown(shutdownCtx) //nolint:wrapcheck
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("submit server: %w", err)
		}

		return nil
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	mergeMode := match.ModeBothSides
	if cfg.Similarity.MergeSideAOnly {
		mergeMode = match.ModeSideAOnly
	}

	return scheduler.Config{
		WorkerConcurrency: cfg.Scheduler.WorkerConcurrency,
		PairTimeout:       time.Duration(cfg.Scheduler.PairTimeoutSeconds) * time.Second,
		ProgressBatch:     cfg.Scheduler.ProgressBatch,
		FingerprintTTL:    time.Duration(cfg.Store.FingerprintTTLSeconds) * time.Second,
		Fingerprint:       fingerprint.Config{K: cfg.Fingerprint.KGram, Window: cfg.Fingerprint.Window},
		ASTMinDepth:       cfg.Fingerprint.ASTMinDepth,
		CandidateOverlap:  cfg.Similarity.CandidateOverlap,
		Similarity: similarity.Config{
			TokenThreshold: cfg.Similarity.TokenThreshold,
			ASTThreshold:   cfg.Similarity.ASTThreshold,
			Match: match.Config{
				GapLines: uint32(cfg.Similarity.MergeGapLines),
				GapCols:  uint32(cfg.Similarity.MergeGapCols),
				Mode:     mergeMode,
			},
		},
	}
}

// openStore builds the fpstore.Store named by cfg.Backend, per spec
// §4.5's pluggable-backend contract: memory for tests/dev, badger for a
// single durable node, grpc for a remote shared store.
func openStore(cfg config.StoreConfig) (fpstore.Store, func(), error) {
	switch cfg.Backend {
	case "badger":
		b, err := store.OpenBadger(cfg.BadgerDir, cfg.BadgerExpectedFiles,
			store.WithTTL(time.Duration(cfg.FingerprintTTLSeconds)*time.Second))
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}

		return b, func() { _ = b.Close() }, nil
	case "grpc":
		c, err := store.DialClient(cfg.GRPCAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("dial store: %w", err)
		}

		return c, func() { _ = c.Close() }, nil
	default:
		return fpstore.NewMem(), func() {}, nil
	}
}

func logDeadLetters(ctx context.Context, logger *slog.Logger, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case dl := <-b.DeadLetters():
			logger.Warn("task envelope rejected", "error", dl.Err)
		}
	}
}

// submitServer is the HTTP intake for task envelopes, the external
// entry point spec §6 describes for "submit a task" before the bus
// dispatches it to the scheduler.
type submitServer struct {
	*http.Server
}

func newSubmitServer(addr string, b *bus.Bus) *submitServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks", handleSubmitTask(b))

	return &submitServer{Server: &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}}
}

func handleSubmitTask(b *bus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

			return
		}

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)

			return
		}

		acked := make(chan error, 1)

		b.Publish(raw, func(ackErr error) { acked <- ackErr })

		select {
		case ackErr := <-acked:
			writeSubmitResponse(w, ackErr)
		case <-r.Context().Done():
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
	}
}

func writeSubmitResponse(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if err != nil {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(errorPayload{Error: err.Error()})

		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
	}{Status: "accepted"})
}
