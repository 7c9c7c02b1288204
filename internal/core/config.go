package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/keepmind9/chatbridge/pkg/constants"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel       = "info"
	DefaultLogMaxBackups  = 5
	DefaultSlackPort      = 3000
	DefaultCacheTTLString = "1h"
	DefaultCacheSize      = constants.DefaultCacheSize
)

// Config is the top-level configuration loaded from YAML.
//
// Example:
//
//	platforms:
//	  slack:
//	    enabled: true
//	    bot_token: "${SLACK_BOT_TOKEN}"
//	    app_token: "${SLACK_APP_TOKEN}"
//	    socket_mode: true
//	    cache_size: 1000
//	    cache_ttl: "1h"
//	  discord:
//	    enabled: true
//	    token: "${DISCORD_TOKEN}"
//	    guild_id: "123456789"
//	logging:
//	  level: "info"
//	  file: "logs/chatbridge.log"
type Config struct {
	Platforms map[string]PlatformConfig `yaml:"platforms"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// PlatformConfig holds one platform's credentials and tuning knobs. Only
// the fields relevant to the platform are read.
type PlatformConfig struct {
	Enabled bool `yaml:"enabled"`

	// Slack
	BotToken   string `yaml:"bot_token"`
	AppToken   string `yaml:"app_token"`
	SocketMode bool   `yaml:"socket_mode"`
	Port       int    `yaml:"port"`

	// Discord / Telegram
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`

	// Feishu
	AppID             string `yaml:"app_id"`
	AppSecret         string `yaml:"app_secret"`
	EncryptKey        string `yaml:"encrypt_key"`
	VerificationToken string `yaml:"verification_token"`

	// Reference cache tuning for platforms that keep one
	CacheSize int    `yaml:"cache_size"`
	CacheTTL  string `yaml:"cache_ttl"` // duration string, e.g. "1h"
}

// LoggingConfig mirrors the logger package configuration.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	File         string `yaml:"file"`
	MaxSize      int    `yaml:"max_size"`
	MaxBackups   int    `yaml:"max_backups"`
	MaxAge       int    `yaml:"max_age"`
	Compress     bool   `yaml:"compress"`
	EnableStdout bool   `yaml:"enable_stdout"`
}

// LoadConfig loads configuration from file and expands environment
// variables.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// validateConfig performs basic validation and fills in defaults.
func validateConfig(config *Config) error {
	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = constants.DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = constants.DefaultLogMaxAge
	}

	enabled := 0
	for name, platform := range config.Platforms {
		if !platform.Enabled {
			continue
		}
		enabled++

		if platform.CacheSize == 0 {
			platform.CacheSize = DefaultCacheSize
		}
		if platform.CacheSize < 0 {
			return fmt.Errorf("cache_size for %s must be positive (got %d)", name, platform.CacheSize)
		}
		if platform.CacheTTL == "" {
			platform.CacheTTL = DefaultCacheTTLString
		}
		if _, err := time.ParseDuration(platform.CacheTTL); err != nil {
			return fmt.Errorf("invalid cache_ttl for %s: %w", name, err)
		}

		switch name {
		case "slack":
			if platform.BotToken == "" {
				return fmt.Errorf("slack requires bot_token")
			}
			if platform.SocketMode && platform.AppToken == "" {
				return fmt.Errorf("slack socket_mode requires app_token")
			}
			if !platform.SocketMode && platform.Port == 0 {
				platform.Port = DefaultSlackPort
			}
		case "discord":
			if platform.Token == "" {
				return fmt.Errorf("discord requires token")
			}
		case "telegram":
			if platform.Token == "" {
				return fmt.Errorf("telegram requires token")
			}
		case "feishu":
			if platform.AppID == "" || platform.AppSecret == "" {
				return fmt.Errorf("feishu requires app_id and app_secret")
			}
		default:
			return fmt.Errorf("unknown platform %q", name)
		}

		config.Platforms[name] = platform
	}

	if enabled == 0 {
		return fmt.Errorf("at least one platform must be enabled")
	}
	return nil
}

// GetPlatformConfig retrieves the configuration for an enabled platform.
func (c *Config) GetPlatformConfig(platform string) (PlatformConfig, error) {
	cfg, exists := c.Platforms[platform]
	if !exists {
		return PlatformConfig{}, fmt.Errorf("platform %s not found in configuration", platform)
	}
	if !cfg.Enabled {
		return PlatformConfig{}, fmt.Errorf("platform %s is disabled", platform)
	}
	return cfg, nil
}

// CacheTTLDuration returns the parsed cache TTL, falling back to the
// default when unset or malformed.
func (p PlatformConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(p.CacheTTL)
	if err != nil || d <= 0 {
		return constants.DefaultCacheTTL
	}
	return d
}
