// Package config provides YAML-based configuration loading for the
// Slack Socket-Mode runtime.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// AckMode selects how the Handler Pipeline auto-acknowledges slash commands
// before the registered handler finishes.
type AckMode string

const (
	AckModeSilent    AckMode = "silent"
	AckModeEphemeral AckMode = "ephemeral"
	AckModeCustom    AckMode = "custom"
)

// Config is the immutable snapshot consumed by every subsystem. It is
// loaded from YAML, then held by the runtime's Config Store
// (internal/configstore) behind an atomic pointer — components never
// cache fields across a suspension point, since a reload can replace
// the whole snapshot between awaits.
type Config struct {
	AppToken string `yaml:"app_token"` // xapp-...
	BotToken string `yaml:"bot_token"` // xoxb-...

	InstanceName    string `yaml:"instance_name"`
	TelemetryPrefix string `yaml:"telemetry_prefix"`

	AckMode AckMode `yaml:"ack_mode"`

	CacheSync   CacheSyncConfig   `yaml:"cache_sync"`
	EventBuffer EventBufferConfig `yaml:"event_buffer"`
	UserCache   UserCacheConfig   `yaml:"user_cache"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	HTTP        HTTPConfig        `yaml:"http"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`

	// Assigns is a free-form bag of values threaded through to handlers,
	// mirroring the source's per-instance assigns map.
	Assigns map[string]any `yaml:"assigns"`
}

// CacheSyncConfig controls the background users/channels sync pagers.
type CacheSyncConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Kinds           []string `yaml:"kinds"` // subset of "users", "channels"
	IntervalMS      int      `yaml:"interval_ms"`
	PageLimit       int      `yaml:"page_limit"`
	IncludePresence bool     `yaml:"include_presence"`
	// JanitorCron optionally overrides the fixed IntervalMS ticker with a
	// 5-field cron expression for the TTL-pruning janitor sweep.
	JanitorCron string `yaml:"janitor_cron"`
}

// EventBufferConfig selects and configures the dedupe store adapter.
type EventBufferConfig struct {
	Adapter string `yaml:"adapter"` // "memory" (default), "redis", "sql"
	TTLMS   int    `yaml:"ttl_ms"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	SQLDriver string `yaml:"sql_driver"` // "sqlite" or "mysql"
	SQLDSN    string `yaml:"sql_dsn"`
}

// UserCacheConfig controls per-user entry expiry in the Cache.
type UserCacheConfig struct {
	TTLMS             int `yaml:"ttl_ms"`
	CleanupIntervalMS int `yaml:"cleanup_interval_ms"`
}

// DiagnosticsConfig controls the ring buffer and its HTTP exposure.
type DiagnosticsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// HTTPConfig controls the read-only introspection HTTP surface
// (healthz/metrics/diagnostics) — never a general gateway.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RateLimiterConfig tunes the dual rate limiter.
type RateLimiterConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
}

// TTL returns the event buffer TTL as a time.Duration.
func (c EventBufferConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// TTL returns the user cache TTL as a time.Duration.
func (c UserCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.InstanceName == "" {
		c.InstanceName = "slackcore"
	}
	if c.TelemetryPrefix == "" {
		c.TelemetryPrefix = "slackcore"
	}
	if c.AckMode == "" {
		c.AckMode = AckModeSilent
	}

	if c.CacheSync.IntervalMS == 0 {
		c.CacheSync.IntervalMS = 5 * 60 * 1000
	}
	if c.CacheSync.PageLimit == 0 {
		c.CacheSync.PageLimit = 200
	}
	if len(c.CacheSync.Kinds) == 0 {
		c.CacheSync.Kinds = []string{"users", "channels"}
	}

	if c.EventBuffer.Adapter == "" {
		c.EventBuffer.Adapter = "memory"
	}
	if c.EventBuffer.TTLMS == 0 {
		c.EventBuffer.TTLMS = 5 * 60 * 1000
	}
	if c.EventBuffer.SQLDriver == "" {
		c.EventBuffer.SQLDriver = "sqlite"
	}

	if c.UserCache.TTLMS == 0 {
		c.UserCache.TTLMS = 60 * 60 * 1000
	}
	if c.UserCache.CleanupIntervalMS == 0 {
		c.UserCache.CleanupIntervalMS = 60 * 1000
	}

	if c.Diagnostics.BufferSize == 0 {
		c.Diagnostics.BufferSize = 500
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8090"
	}

	if c.RateLimiter.DefaultTimeoutMS == 0 {
		c.RateLimiter.DefaultTimeoutMS = 5000
	}

	// Resolve env vars in token fields.
	c.AppToken = resolveEnvVars(c.AppToken)
	c.BotToken = resolveEnvVars(c.BotToken)
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.AppToken == "" {
		errs = append(errs, "app_token is required")
	}
	if c.BotToken == "" {
		errs = append(errs, "bot_token is required")
	}
	switch c.AckMode {
	case AckModeSilent, AckModeEphemeral, AckModeCustom:
	default:
		errs = append(errs, fmt.Sprintf("ack_mode %q is not supported", c.AckMode))
	}
	switch c.EventBuffer.Adapter {
	case "memory", "redis", "sql":
	default:
		errs = append(errs, fmt.Sprintf("event_buffer.adapter %q is not supported (use memory, redis, or sql)", c.EventBuffer.Adapter))
	}
	if c.EventBuffer.Adapter == "redis" && c.EventBuffer.RedisAddr == "" {
		errs = append(errs, "event_buffer.redis_addr is required when adapter is redis")
	}
	if c.EventBuffer.Adapter == "sql" && c.EventBuffer.SQLDSN == "" {
		errs = append(errs, "event_buffer.sql_dsn is required when adapter is sql")
	}
	for _, k := range c.CacheSync.Kinds {
		if k != "users" && k != "channels" {
			errs = append(errs, fmt.Sprintf("cache_sync.kinds contains unsupported kind %q", k))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveEnvVars replaces ${VAR_NAME} tokens in s with the corresponding
// environment variable value. Unset variables resolve to empty string.
func resolveEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
