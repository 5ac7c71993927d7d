// Package config provides configuration management for conductor with layered precedence.
//
// Configuration sources are loaded in the following order (highest precedence first):
//  1. CLI flags (passed via LoadWithOverrides)
//  2. Environment variables (CONDUCTOR_* prefix)
//  3. Project config (.conductor/config.yaml)
//  4. Global config (~/.conductor/config.yaml)
//  5. Built-in defaults
//
// Each higher level completely overrides the lower level for the same key.
//
// IMPORTANT: This package may import internal/constants and internal/errors,
// but MUST NOT import internal/domain or other internal packages.
package config

import "time"

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the root configuration structure for conductor.
type Config struct {
	// Engine contains scheduler settings.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Store selects and locates the plan store backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Executor contains settings for the shell command executor.
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// Log contains settings for the rotating CLI log file.
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

// EngineConfig contains scheduler settings.
type EngineConfig struct {
	// MaxRetries is the retry budget for tasks that do not declare one.
	// Default: 2
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// DefaultTimeout bounds executor invocations of tasks without a timeout.
	// Default: 0 (no limit)
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`

	// MaxParallel caps concurrent invocations per plan.
	// Default: 0 (no cap)
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel"`

	// AutoRetry re-queues failed tasks that still have retries left.
	// Default: true
	AutoRetry bool `yaml:"auto_retry" mapstructure:"auto_retry"`
}

// StoreConfig selects and locates the plan store backend.
type StoreConfig struct {
	// Backend is one of "file", "sqlite" or "memory".
	// Default: "file"
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Dir is the file backend's root directory.
	// Default: empty, meaning ~/.conductor/plans
	Dir string `yaml:"dir" mapstructure:"dir"`

	// SQLitePath is the sqlite backend's database file.
	// Default: empty, meaning ~/.conductor/conductor.db
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ExecutorConfig contains settings for the shell command executor.
type ExecutorConfig struct {
	// Shell runs task commands as `<shell> -c <command>`.
	// Default: "sh"
	Shell string `yaml:"shell" mapstructure:"shell"`

	// WorkDir is the directory commands run in when a task sets none.
	// Default: empty, meaning the current directory
	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`

	// Timeout bounds a command when neither the task nor the engine sets one.
	// Default: 30 minutes
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LogConfig contains settings for the rotating CLI log file.
type LogConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}
