package constants

// Default synchronization configuration values
const (
	DefaultMaxFailuresBeforeBlacklist = 2
	DefaultBlacklistCutoffHourUTC     = 4
	DefaultReconcileCronSpec          = "0 5 * * *"
	DefaultSweepCronSpec              = "5 4 * * *"
	DefaultHistoryRetentionDays       = 30
	DefaultHistoryMaxRows             = 50000
)

// Default dispatch configuration values
const (
	DefaultMaxAttachmentBytes = 8 * 1024 * 1024
	DefaultMaxBatchBytes      = 25 * 1024 * 1024
	DefaultThrottleSpacingMs  = 350
	DefaultDispatchTimeoutSec = 30
	DefaultDownloadTimeoutSec = 30
)

// Discord payload limits
const (
	MaxContentLength          = 2000
	MaxEmbedTitleLength       = 256
	MaxEmbedDescriptionLength = 4096
	MaxEmbedFieldNameLength   = 256
	MaxEmbedFieldValueLength  = 1024
	MaxEmbedFooterLength      = 2048
	MaxEmbedAuthorLength      = 256
	MaxEmbedsPerMessage       = 10
	MaxReplyExcerptLength     = 120
)

// Default retry configuration values
const (
	DefaultRetryInitialBackoffMs = 500
	DefaultRetryMaxBackoffMs     = 30000
	DefaultRetryMaxAttempts      = 3
	DefaultDatabaseRetryAttempts = 3
)

// Default server and shutdown values
const (
	DefaultServerPort           = 8082
	DefaultServerReadTimeoutSec = 15
	DefaultGracefulShutdownSec  = 30
	ServerErrorChannelSize      = 1
)

// TruncationMarker is appended wherever content is cut to fit a platform limit.
const TruncationMarker = "…"
