package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plagscan/engine/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Fingerprint: config.FingerprintConfig{
			KGram:       6,
			Window:      5,
			ASTMinDepth: 3,
		},
		Similarity: config.SimilarityConfig{
			TokenThreshold:   0.15,
			ASTThreshold:     0.30,
			CandidateOverlap: 0.15,
			MergeGapLines:    1,
			MergeGapCols:     5,
		},
		Scheduler: config.SchedulerConfig{
			WorkerConcurrency:  4,
			PairTimeoutSeconds: 300,
			ProgressBatch:      10,
		},
		Store: config.StoreConfig{
			Backend:               "memory",
			FingerprintTTLSeconds: 604800,
		},
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	t.Parallel()

	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestConfig_Validate_InvalidKGram(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Fingerprint.KGram = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidKGram)
}

func TestConfig_Validate_InvalidWindow(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Fingerprint.Window = -1
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidWindow)
}

func TestConfig_Validate_InvalidASTMinDepth(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Fingerprint.ASTMinDepth = -1
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidASTMinDepth)
}

func TestConfig_Validate_InvalidTokenThreshold(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Similarity.TokenThreshold = 1.5
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidTokenThreshold)
}

func TestConfig_Validate_InvalidASTThreshold(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Similarity.ASTThreshold = -0.1
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidASTThreshold)
}

func TestConfig_Validate_InvalidCandidateOverlap(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Similarity.CandidateOverlap = 2
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidCandidateOverlap)
}

func TestConfig_Validate_InvalidMergeGap(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Similarity.MergeGapLines = -1
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidMergeGap)
}

func TestConfig_Validate_MergeSideAOnly_NoRangeCheck(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Similarity.MergeSideAOnly = true
	require.NoError(t, c.Validate())
}

func TestConfig_Validate_InvalidWorkerConcurrency(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Scheduler.WorkerConcurrency = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidWorkerConcurrency)
}

func TestConfig_Validate_InvalidPairTimeout(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Scheduler.PairTimeoutSeconds = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidPairTimeout)
}

func TestConfig_Validate_InvalidProgressBatch(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Scheduler.ProgressBatch = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidProgressBatch)
}

func TestConfig_Validate_InvalidFingerprintTTL(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Store.FingerprintTTLSeconds = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalidFingerprintTTL)
}

func TestConfig_Validate_UnknownStoreBackend(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Store.Backend = "sqlite"
	assert.ErrorIs(t, c.Validate(), config.ErrUnknownStoreBackend)
}
