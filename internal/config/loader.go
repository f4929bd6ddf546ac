package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".plagscan"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for engine settings
// (spec §6: every tunable is also settable as PLAGSCAN_<KEY>).
const envPrefix = "PLAGSCAN"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Defaults per spec §6.
const (
	DefaultKGram             = 6
	DefaultWindow            = 5
	DefaultASTMinDepth       = 3
	DefaultTokenThreshold    = 0.15
	DefaultASTThreshold      = 0.30
	DefaultCandidateOverlap  = 0.15
	DefaultMergeGapLines     = 1
	DefaultMergeGapCols      = 5
	DefaultFingerprintTTLSec = 604800
	DefaultWorkerConcurrency = 4
	DefaultPairTimeoutSec    = 300
	DefaultProgressBatch     = 10
	DefaultStoreBackend      = "memory"
	DefaultBadgerDir         = "./plagscan-data"
	DefaultBadgerExpected    = 100000
	DefaultGRPCAddress       = ""
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("fingerprint.k_gram", DefaultKGram)
	viperCfg.SetDefault("fingerprint.window", DefaultWindow)
	viperCfg.SetDefault("fingerprint.ast_min_depth", DefaultASTMinDepth)

	viperCfg.SetDefault("similarity.token_threshold", DefaultTokenThreshold)
	viperCfg.SetDefault("similarity.ast_threshold", DefaultASTThreshold)
	viperCfg.SetDefault("similarity.candidate_overlap_threshold", DefaultCandidateOverlap)
	viperCfg.SetDefault("similarity.merge_gap_lines", DefaultMergeGapLines)
	viperCfg.SetDefault("similarity.merge_gap_cols", DefaultMergeGapCols)
	viperCfg.SetDefault("similarity.merge_side_a_only", false)

	viperCfg.SetDefault("scheduler.worker_concurrency", DefaultWorkerConcurrency)
	viperCfg.SetDefault("scheduler.pair_timeout_seconds", DefaultPairTimeoutSec)
	viperCfg.SetDefault("scheduler.progress_batch", DefaultProgressBatch)

	viperCfg.SetDefault("store.backend", DefaultStoreBackend)
	viperCfg.SetDefault("store.fingerprint_ttl_seconds", DefaultFingerprintTTLSec)
	viperCfg.SetDefault("store.badger_dir", DefaultBadgerDir)
	viperCfg.SetDefault("store.badger_expected_files", DefaultBadgerExpected)
	viperCfg.SetDefault("store.grpc_address", DefaultGRPCAddress)
}
