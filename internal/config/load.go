package config

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/mrz1836/conductor/internal/errors"
)

// newViperInstance creates a new Viper instance with the standard environment
// prefix (CONDUCTOR_), key replacer, and defaults.
func newViperInstance() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// isConfigNotFoundError returns true if the error is a viper config file not found error.
func isConfigNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var configNotFoundErr viper.ConfigFileNotFoundError
	return stderrors.As(err, &configNotFoundErr)
}

// unmarshalAndValidate unmarshals viper config into Config struct and validates it.
func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// Load reads configuration from all available sources with proper precedence.
// Missing config files are not an error.
func Load(ctx context.Context) (*Config, error) {
	v := newViperInstance()

	if err := loadGlobalConfig(v); err != nil {
		return nil, err
	}
	if err := loadProjectConfig(v); err != nil {
		return nil, err
	}

	cfg, err := unmarshalAndValidate(v)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().Str("component", "config").Logger()
	logger.Debug().
		Str("store.backend", cfg.Store.Backend).
		Int("engine.max_retries", cfg.Engine.MaxRetries).
		Int("engine.max_parallel", cfg.Engine.MaxParallel).
		Dur("engine.default_timeout", cfg.Engine.DefaultTimeout).
		Msg("configuration loaded")

	return cfg, nil
}

// LoadFile loads configuration from one explicit file (the --config flag)
// layered over the defaults and under environment variables.
func LoadFile(_ context.Context, path string) (*Config, error) {
	v := newViperInstance()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}
	return unmarshalAndValidate(v)
}

// loadGlobalConfig attempts to load the global config file (~/.conductor/config.yaml).
// Returns nil if the file doesn't exist or home directory cannot be determined.
func loadGlobalConfig(v *viper.Viper) error {
	path, err := GlobalConfigPath()
	if err != nil || !fileExists(path) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrap(err, "failed to read global config file")
	}
	return nil
}

// loadProjectConfig attempts to load the project config file (.conductor/config.yaml).
// Returns nil if the file doesn't exist.
func loadProjectConfig(v *viper.Viper) error {
	path := ProjectConfigPath()
	if !fileExists(path) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrap(err, "failed to read project config file")
	}
	return nil
}

// fileExists returns true if the file at path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadWithOverrides loads configuration and applies CLI flag overrides.
// Only non-zero values in overrides are applied.
func LoadWithOverrides(ctx context.Context, overrides *Config) (*Config, error) {
	cfg, err := Load(ctx)
	if err != nil {
		return nil, err
	}

	if overrides != nil {
		applyOverrides(cfg, overrides)
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration after overrides")
	}
	return cfg, nil
}

// LoadFromPaths loads configuration from specific file paths for testing.
// Either path can be empty to skip that level.
func LoadFromPaths(_ context.Context, projectConfigPath, globalConfigPath string) (*Config, error) {
	v := newViperInstance()

	if globalConfigPath != "" {
		v.SetConfigFile(globalConfigPath)
		if err := v.ReadInConfig(); err != nil && !isConfigNotFoundError(err) && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read global config: %s", globalConfigPath)
		}
	}

	if projectConfigPath != "" {
		v.SetConfigFile(projectConfigPath)
		if err := v.MergeInConfig(); err != nil && !isConfigNotFoundError(err) && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read project config: %s", projectConfigPath)
		}
	}

	return unmarshalAndValidate(v)
}

// setDefaults configures all default values on the Viper instance.
// Keys must match the mapstructure tag names exactly.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("engine.max_retries", d.Engine.MaxRetries)
	v.SetDefault("engine.default_timeout", d.Engine.DefaultTimeout.String())
	v.SetDefault("engine.max_parallel", d.Engine.MaxParallel)
	v.SetDefault("engine.auto_retry", d.Engine.AutoRetry)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.sqlite_path", "")

	v.SetDefault("executor.shell", d.Executor.Shell)
	v.SetDefault("executor.work_dir", "")
	v.SetDefault("executor.timeout", d.Executor.Timeout.String())

	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// applyOverrides merges non-zero override values into the config.
//
// IMPORTANT: AutoRetry cannot be overridden to false here because false is
// the zero value. The CLI applies that flag itself when it was changed.
func applyOverrides(cfg, overrides *Config) {
	if overrides.Engine.MaxRetries != 0 {
		cfg.Engine.MaxRetries = overrides.Engine.MaxRetries
	}
	if overrides.Engine.DefaultTimeout != 0 {
		cfg.Engine.DefaultTimeout = overrides.Engine.DefaultTimeout
	}
	if overrides.Engine.MaxParallel != 0 {
		cfg.Engine.MaxParallel = overrides.Engine.MaxParallel
	}

	if overrides.Store.Backend != "" {
		cfg.Store.Backend = overrides.Store.Backend
	}
	if overrides.Store.Dir != "" {
		cfg.Store.Dir = overrides.Store.Dir
	}
	if overrides.Store.SQLitePath != "" {
		cfg.Store.SQLitePath = overrides.Store.SQLitePath
	}

	if overrides.Executor.Shell != "" {
		cfg.Executor.Shell = overrides.Executor.Shell
	}
	if overrides.Executor.WorkDir != "" {
		cfg.Executor.WorkDir = overrides.Executor.WorkDir
	}
	if overrides.Executor.Timeout != 0 {
		cfg.Executor.Timeout = overrides.Executor.Timeout
	}
}

// viperDecoderOption returns the decoder options for Viper unmarshal.
// This configures mapstructure to handle time.Duration conversion from strings.
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	)
}
