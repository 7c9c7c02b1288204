package constants

import "time"

// Message length limits for different platforms
const (
	// MaxSlackMessageLength is Slack's recommended message character limit
	MaxSlackMessageLength = 4000
	// MaxDiscordMessageLength is Discord's message character limit
	MaxDiscordMessageLength = 2000
	// MaxTelegramMessageLength is Telegram's message character limit
	MaxTelegramMessageLength = 4096
	// MaxFeishuMessageLength is Feishu's message character limit
	MaxFeishuMessageLength = 20000
)

// Reference cache defaults
const (
	// DefaultCacheSize is the default maximum number of resident cache entries
	DefaultCacheSize = 1000
	// DefaultCacheTTL is the default maximum age of a cache entry
	DefaultCacheTTL = time.Hour
	// CacheStatsInterval is the number of resolutions between hit-rate reports
	CacheStatsInterval = 1000
)

// Timeouts and delays
const (
	// DefaultPollTimeout is the timeout for long polling operations
	DefaultPollTimeout = 60 * time.Second
	// DefaultEventServerShutdownTimeout bounds the HTTP callback server shutdown
	DefaultEventServerShutdownTimeout = 5 * time.Second
)

// Secret masking
const (
	// MinSecretLengthForMasking is the minimum secret length to apply masking
	MinSecretLengthForMasking = 10
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 7
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)
