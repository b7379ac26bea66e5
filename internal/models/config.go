package models

// Config holds the application configuration
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Database DatabaseConfig `mapstructure:"database"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Server   ServerConfig   `mapstructure:"server"`
	LogLevel string         `mapstructure:"log_level"`
}

// SourceConfig describes the observed guild connection.
type SourceConfig struct {
	Token   string `mapstructure:"token"`
	GuildID string `mapstructure:"guild_id"`
}

// MirrorConfig describes the operator-controlled destination guild.
type MirrorConfig struct {
	Token   string `mapstructure:"token"`
	GuildID string `mapstructure:"guild_id"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RelayConfig bounds the message relay pipeline.
type RelayConfig struct {
	MaxAttachmentBytes int64 `mapstructure:"max_attachment_bytes"`
	MaxBatchBytes      int64 `mapstructure:"max_batch_bytes"`
	ThrottleSpacingMs  int   `mapstructure:"throttle_spacing_ms"`
	DispatchTimeoutSec int   `mapstructure:"dispatch_timeout_sec"`
	DownloadTimeoutSec int   `mapstructure:"download_timeout_sec"`
}

// SyncConfig bounds the structural reconciliation engine.
type SyncConfig struct {
	MaxFailuresBeforeBlacklist int      `mapstructure:"max_failures_before_blacklist"`
	BlacklistCutoffHourUTC     int      `mapstructure:"blacklist_cutoff_hour_utc"`
	ReconcileCronSpec          string   `mapstructure:"reconcile_cron"`
	SweepCronSpec              string   `mapstructure:"sweep_cron"`
	ReconcileOnStartup         bool     `mapstructure:"reconcile_on_startup"`
	ProtectedChannels          []string `mapstructure:"protected_channels"`
	HistoryRetentionDays       int      `mapstructure:"history_retention_days"`
}

// RetryConfig holds retry/backoff related configuration
type RetryConfig struct {
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `mapstructure:"max_backoff_ms"`
	MaxAttempts      int `mapstructure:"max_attempts"`
}

// TracingConfig holds OpenTelemetry related configuration
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	UseStdout    bool    `mapstructure:"use_stdout"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	ReadTimeoutSec int `mapstructure:"read_timeout_sec"`
}

// ConfigError represents a configuration validation failure.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
