package config

import "errors"

// Config is the top-level configuration struct for the detection engine.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Similarity  SimilarityConfig  `mapstructure:"similarity"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Store       StoreConfig       `mapstructure:"store"`
}

// FingerprintConfig holds C3/C4 tunables (spec §6: K_GRAM, WINDOW,
// AST_MIN_DEPTH).
type FingerprintConfig struct {
	KGram       int `mapstructure:"k_gram"`
	Window      int `mapstructure:"window"`
	ASTMinDepth int `mapstructure:"ast_min_depth"`
}

// SimilarityConfig holds C7/C6 thresholds (spec §6: TOKEN_THRESHOLD,
// AST_THRESHOLD, CANDIDATE_OVERLAP_THRESHOLD).
type SimilarityConfig struct {
	TokenThreshold   float64 `mapstructure:"token_threshold"`
	ASTThreshold     float64 `mapstructure:"ast_threshold"`
	CandidateOverlap float64 `mapstructure:"candidate_overlap_threshold"`
	MergeGapLines    int     `mapstructure:"merge_gap_lines"`
	MergeGapCols     int     `mapstructure:"merge_gap_cols"`
	// MergeSideAOnly selects match.ModeSideAOnly (adjacency tested on
	// side A alone) instead of the production-default ModeBothSides,
	// per spec §9's "emit both variants behind a flag" open question.
	MergeSideAOnly bool `mapstructure:"merge_side_a_only"`
}

// SchedulerConfig holds C9 tunables (spec §6: WORKER_CONCURRENCY,
// PAIR_TIMEOUT_SECONDS), plus the progress-publication batch size.
type SchedulerConfig struct {
	WorkerConcurrency   int `mapstructure:"worker_concurrency"`
	PairTimeoutSeconds  int `mapstructure:"pair_timeout_seconds"`
	ProgressBatch       int `mapstructure:"progress_batch"`
}

// StoreConfig holds C5's backend selection and connection settings.
// Backend is one of "memory", "badger", or "grpc".
type StoreConfig struct {
	Backend              string `mapstructure:"backend"`
	FingerprintTTLSeconds int   `mapstructure:"fingerprint_ttl_seconds"`
	BadgerDir            string `mapstructure:"badger_dir"`
	BadgerExpectedFiles  uint   `mapstructure:"badger_expected_files"`
	GRPCAddress          string `mapstructure:"grpc_address"`
}

// Sentinel errors for configuration validation.
var (
	ErrInvalidKGram              = errors.New("fingerprint.k_gram must be positive")
	ErrInvalidWindow             = errors.New("fingerprint.window must be positive")
	ErrInvalidASTMinDepth        = errors.New("fingerprint.ast_min_depth must be non-negative")
	ErrInvalidTokenThreshold     = errors.New("similarity.token_threshold must be between 0 and 1")
	ErrInvalidASTThreshold       = errors.New("similarity.ast_threshold must be between 0 and 1")
	ErrInvalidCandidateOverlap   = errors.New("similarity.candidate_overlap_threshold must be between 0 and 1")
	ErrInvalidMergeGap           = errors.New("similarity.merge_gap_lines and merge_gap_cols must be non-negative")
	ErrInvalidWorkerConcurrency  = errors.New("scheduler.worker_concurrency must be positive")
	ErrInvalidPairTimeout        = errors.New("scheduler.pair_timeout_seconds must be positive")
	ErrInvalidProgressBatch      = errors.New("scheduler.progress_batch must be positive")
	ErrInvalidFingerprintTTL     = errors.New("store.fingerprint_ttl_seconds must be positive")
	ErrUnknownStoreBackend       = errors.New("store.backend must be one of memory, badger, grpc")
)

// unitInterval is the upper bound for similarity ratio settings.
const unitInterval = 1.0

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateFingerprint(); err != nil {
		return err
	}

	if err := c.validateSimilarity(); err != nil {
		return err
	}

	if err := c.validateScheduler(); err != nil {
		return err
	}

	return c.validateStore()
}

func (c *Config) validateFingerprint() error {
	if c.Fingerprint.KGram <= 0 {
		return ErrInvalidKGram
	}

	if c.Fingerprint.Window <= 0 {
		return ErrInvalidWindow
	}

	if c.Fingerprint.ASTMinDepth < 0 {
		return ErrInvalidASTMinDepth
	}

	return nil
}

func (c *Config) validateSimilarity() error {
	if c.Similarity.TokenThreshold < 0 || c.Similarity.TokenThreshold > unitInterval {
		return ErrInvalidTokenThreshold
	}

	if c.Similarity.ASTThreshold < 0 || c.Similarity.ASTThreshold > unitInterval {
		return ErrInvalidASTThreshold
	}

	if c.Similarity.CandidateOverlap < 0 || c.Similarity.CandidateOverlap > unitInterval {
		return ErrInvalidCandidateOverlap
	}

	if c.Similarity.MergeGapLines < 0 || c.Similarity.MergeGapCols < 0 {
		return ErrInvalidMergeGap
	}

	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.WorkerConcurrency <= 0 {
		return ErrInvalidWorkerConcurrency
	}

	if c.Scheduler.PairTimeoutSeconds <= 0 {
		return ErrInvalidPairTimeout
	}

	if c.Scheduler.ProgressBatch <= 0 {
		return ErrInvalidProgressBatch
	}

	return nil
}

func (c *Config) validateStore() error {
	if c.Store.FingerprintTTLSeconds <= 0 {
		return ErrInvalidFingerprintTTL
	}

	switch c.Store.Backend {
	case "memory", "badger", "grpc":
	default:
		return ErrUnknownStoreBackend
	}

	return nil
}
