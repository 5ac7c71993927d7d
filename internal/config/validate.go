package config

import (
	"time"

	"github.com/mrz1836/conductor/internal/errors"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing the first validation failure found.
//
// Validation rules:
//   - engine.max_retries must be between 0 and 100
//   - engine.default_timeout and engine.max_parallel cannot be negative
//   - store.backend must be file, sqlite or memory
//   - executor.shell must not be empty
//   - executor.timeout must be positive and at most 24h
//   - log sizes and counts cannot be negative
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ErrConfigNil
	}

	if err := validateEngineConfig(&cfg.Engine); err != nil {
		return err
	}
	if err := validateStoreConfig(&cfg.Store); err != nil {
		return err
	}
	if err := validateExecutorConfig(&cfg.Executor); err != nil {
		return err
	}
	return validateLogConfig(&cfg.Log)
}

func validateEngineConfig(cfg *EngineConfig) error {
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 100 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.max_retries must be between 0 and 100, got %d", cfg.MaxRetries)
	}
	if cfg.DefaultTimeout < 0 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.default_timeout cannot be negative, got %s", cfg.DefaultTimeout)
	}
	if cfg.MaxParallel < 0 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.max_parallel cannot be negative, got %d", cfg.MaxParallel)
	}
	return nil
}

func validateStoreConfig(cfg *StoreConfig) error {
	switch cfg.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
		return nil
	default:
		return errors.Wrapf(errors.ErrConfigInvalidStore,
			"store.backend must be one of file, sqlite, memory, got %q", cfg.Backend)
	}
}

func validateExecutorConfig(cfg *ExecutorConfig) error {
	if cfg.Shell == "" {
		return errors.Wrap(errors.ErrConfigInvalidExecutor,
			"executor.shell must not be empty")
	}

	maxTimeout := 24 * time.Hour
	if cfg.Timeout <= 0 || cfg.Timeout > maxTimeout {
		return errors.Wrapf(errors.ErrConfigInvalidExecutor,
			"executor.timeout must be positive and at most %s, got %s", maxTimeout, cfg.Timeout)
	}
	return nil
}

func validateLogConfig(cfg *LogConfig) error {
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		return errors.Wrap(errors.ErrValueOutOfRange,
			"log.max_size_mb, log.max_backups and log.max_age_days cannot be negative")
	}
	return nil
}
