// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/siteverdict/siteverdict/internal/classify"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Render    RenderConfig    `mapstructure:"render"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Model     ModelConfig     `mapstructure:"model"`
	Cache     CacheConfig     `mapstructure:"cache"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	MasterKey string `mapstructure:"master_key"`
}

// RateLimitConfig bounds per-key request rates at the boundary.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RenderConfig governs the headless renderer and its retry loop.
type RenderConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	Quality        int    `mapstructure:"quality"`
	DefaultScheme  string `mapstructure:"default_scheme"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ProbeConfig toggles the pre-render reachability probe.
type ProbeConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// ClassifyConfig holds the pipeline policy knobs.
type ClassifyConfig struct {
	FallbackMode string `mapstructure:"fallback_mode"`
	DefaultLabel string `mapstructure:"default_label"`
}

// ModelConfig identifies the multimodal inference endpoint.
type ModelConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Name           string `mapstructure:"name"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CacheConfig controls the in-memory result cache.
type CacheConfig struct {
	TTLSeconds     int `mapstructure:"ttl_seconds"`
	CleanupSeconds int `mapstructure:"cleanup_seconds"`
}

// DBConfig selects and configures the persistence provider.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects the optional screenshot archive provider.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// EventsConfig selects the classification event publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLASSIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 120)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("render.timeout_seconds", 40)
	v.SetDefault("render.max_attempts", 3)
	v.SetDefault("render.retry_backoff_ms", 500)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.quality", 90)
	v.SetDefault("render.default_scheme", "https")
	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("classify.fallback_mode", string(classify.FallbackText))
	v.SetDefault("classify.default_label", string(classify.LabelNonactive))
	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.name", "gpt-4o")
	v.SetDefault("model.max_tokens", 50)
	v.SetDefault("model.timeout_seconds", 60)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.cleanup_seconds", 600)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "screenshots")
	v.SetDefault("events.provider", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("auth.master_key must be set when auth is enabled")
	}
	if c.Render.TimeoutSeconds <= 0 {
		return fmt.Errorf("render.timeout_seconds must be > 0")
	}
	if c.Render.MaxAttempts <= 0 {
		return fmt.Errorf("render.max_attempts must be > 0")
	}
	if scheme := c.Render.DefaultScheme; scheme != "http" && scheme != "https" {
		return fmt.Errorf("render.default_scheme must be http or https, got %q", scheme)
	}
	if !classify.FallbackMode(c.Classify.FallbackMode).Valid() {
		return fmt.Errorf("classify.fallback_mode must be %q or %q", classify.FallbackText, classify.FallbackFail)
	}
	if label := classify.Label(c.Classify.DefaultLabel); !label.Canonical() && label != classify.LabelFailure {
		return fmt.Errorf("classify.default_label %q is outside the result set", c.Classify.DefaultLabel)
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Archive.Provider {
	case "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required when archive.provider is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	switch c.Events.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required when events.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	return nil
}

// RenderTimeout converts the render timeout knob into a duration.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSeconds) * time.Second
}

// RetryBackoff converts the retry backoff knob into a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Render.RetryBackoffMs) * time.Millisecond
}

// CacheTTL converts the cache TTL knob into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
