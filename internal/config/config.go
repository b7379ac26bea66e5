package config

import (
	"fmt"
	"strings"

	"guildmirror/internal/constants"
	"guildmirror/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingSourceToken = models.ConfigError{Message: "missing source token"}
	ErrMissingSourceGuild = models.ConfigError{Message: "missing source guild id"}
	ErrMissingMirrorToken = models.ConfigError{Message: "missing mirror token"}
	ErrMissingMirrorGuild = models.ConfigError{Message: "missing mirror guild id"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
)

// Load reads config.yaml (plus an optional .env file) with environment
// variable overrides, fills defaults and validates the result.
func Load(path string) (*models.Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "guildmirror.db")
	v.SetDefault("log_level", "info")

	v.SetDefault("relay.max_attachment_bytes", constants.DefaultMaxAttachmentBytes)
	v.SetDefault("relay.max_batch_bytes", constants.DefaultMaxBatchBytes)
	v.SetDefault("relay.throttle_spacing_ms", constants.DefaultThrottleSpacingMs)
	v.SetDefault("relay.dispatch_timeout_sec", constants.DefaultDispatchTimeoutSec)
	v.SetDefault("relay.download_timeout_sec", constants.DefaultDownloadTimeoutSec)

	v.SetDefault("sync.max_failures_before_blacklist", constants.DefaultMaxFailuresBeforeBlacklist)
	v.SetDefault("sync.blacklist_cutoff_hour_utc", constants.DefaultBlacklistCutoffHourUTC)
	v.SetDefault("sync.reconcile_cron", constants.DefaultReconcileCronSpec)
	v.SetDefault("sync.sweep_cron", constants.DefaultSweepCronSpec)
	v.SetDefault("sync.reconcile_on_startup", true)
	v.SetDefault("sync.history_retention_days", constants.DefaultHistoryRetentionDays)

	v.SetDefault("retry.initial_backoff_ms", constants.DefaultRetryInitialBackoffMs)
	v.SetDefault("retry.max_backoff_ms", constants.DefaultRetryMaxBackoffMs)
	v.SetDefault("retry.max_attempts", constants.DefaultRetryMaxAttempts)

	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)

	v.SetDefault("tracing.service_name", "guildmirror")
	v.SetDefault("tracing.sample_rate", 1.0)
}

func validate(c *models.Config) error {
	if c.Source.Token == "" {
		return ErrMissingSourceToken
	}
	if c.Source.GuildID == "" {
		return ErrMissingSourceGuild
	}
	if c.Mirror.Token == "" {
		return ErrMissingMirrorToken
	}
	if c.Mirror.GuildID == "" {
		return ErrMissingMirrorGuild
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Sync.BlacklistCutoffHourUTC < 0 || c.Sync.BlacklistCutoffHourUTC > 23 {
		return models.ConfigError{Message: fmt.Sprintf("blacklist cutoff hour %d out of range", c.Sync.BlacklistCutoffHourUTC)}
	}
	if c.Relay.MaxAttachmentBytes <= 0 || c.Relay.MaxBatchBytes <= 0 {
		return models.ConfigError{Message: "attachment size ceilings must be positive"}
	}
	if c.Relay.MaxAttachmentBytes > c.Relay.MaxBatchBytes {
		return models.ConfigError{Message: "per-attachment ceiling exceeds per-batch ceiling"}
	}
	return nil
}
