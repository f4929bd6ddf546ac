package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plagscan/engine/internal/config"
)

func TestLoadConfig_DefaultsOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)

	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultKGram, cfg.Fingerprint.KGram)
	assert.Equal(t, config.DefaultWindow, cfg.Fingerprint.Window)
	assert.Equal(t, config.DefaultASTMinDepth, cfg.Fingerprint.ASTMinDepth)
	assert.InDelta(t, config.DefaultTokenThreshold, cfg.Similarity.TokenThreshold, 0)
	assert.InDelta(t, config.DefaultASTThreshold, cfg.Similarity.ASTThreshold, 0)
	assert.Equal(t, config.DefaultWorkerConcurrency, cfg.Scheduler.WorkerConcurrency)
	assert.Equal(t, config.DefaultStoreBackend, cfg.Store.Backend)
	assert.False(t, cfg.Similarity.MergeSideAOnly)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PLAGSCAN_FINGERPRINT_K_GRAM", "9")
	t.Setenv("PLAGSCAN_STORE_BACKEND", "badger")

	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)

	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Fingerprint.KGram)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")

	yaml := "fingerprint:\n  k_gram: 8\nstore:\n  backend: grpc\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Fingerprint.KGram)
	assert.Equal(t, "grpc", cfg.Store.Backend)
}

func TestLoadConfig_InvalidFileFailsValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")

	yaml := "fingerprint:\n  k_gram: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := config.LoadConfig(path)
	require.Error(t, err)
}
