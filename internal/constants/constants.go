// Package constants provides centralized constant values used throughout conductor.
// This package is the single source of truth for all shared constants and MUST NOT
// import any other internal packages.
package constants

import "time"

// File names used by conductor for state persistence.
const (
	// PlanFileName is the name of the JSON snapshot of a plan's status projection.
	PlanFileName = "plan.json"

	// EventLogFileName is the name of the append-only JSON-lines event log of a plan.
	EventLogFileName = "events.jsonl"

	// SQLiteFileName is the default database file name for the sqlite store backend.
	SQLiteFileName = "conductor.db"
)

// Directory names and paths used by conductor for organizing data.
const (
	// ConductorHome is the hidden directory name where conductor stores all its data.
	// This directory is created in the user's home directory.
	ConductorHome = ".conductor"

	// PlansDir is the directory name where plan state is stored.
	PlansDir = "plans"

	// LogsDir is the directory name where log files are stored.
	LogsDir = "logs"
)

// Engine defaults.
const (
	// DefaultMaxRetries is how many times a failed task is retried before it is blocked.
	DefaultMaxRetries = 2

	// DefaultExecutorTimeout bounds a single shell executor invocation when the task
	// declares no timeout of its own.
	DefaultExecutorTimeout = 30 * time.Minute

	// LockTimeout is the maximum duration to wait for acquiring a plan file lock.
	LockTimeout = 5 * time.Second

	// LockRetryInterval is the pause between file lock attempts.
	LockRetryInterval = 50 * time.Millisecond
)

// Log rotation defaults for the CLI log file.
const (
	LogMaxSizeMB   = 10
	LogMaxBackups  = 3
	LogMaxAgeDays  = 28
	LogCompress    = true
	CLILogFileName = "conductor.log"
)

// Configuration file names.
const (
	// GlobalConfigName is the name of the global configuration file in ConductorHome.
	GlobalConfigName = "config.yaml"

	// ProjectConfigDir is the project-level configuration directory.
	ProjectConfigDir = ".conductor"
)

// PlanSchemaVersion is the current version of the persisted plan JSON schema.
const PlanSchemaVersion = 1
