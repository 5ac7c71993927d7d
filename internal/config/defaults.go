package config

import (
	"github.com/mrz1836/conductor/internal/constants"
)

// DefaultConfig returns a new Config with the built-in default values.
// These defaults are the base layer that config files, environment
// variables, and CLI flags override.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxRetries:     constants.DefaultMaxRetries,
			DefaultTimeout: 0,
			MaxParallel:    0,
			AutoRetry:      true,
		},
		Store: StoreConfig{
			Backend: BackendFile,
		},
		Executor: ExecutorConfig{
			Shell:   "sh",
			Timeout: constants.DefaultExecutorTimeout,
		},
		Log: LogConfig{
			MaxSizeMB:  constants.LogMaxSizeMB,
			MaxBackups: constants.LogMaxBackups,
			MaxAgeDays: constants.LogMaxAgeDays,
			Compress:   constants.LogCompress,
		},
	}
}
