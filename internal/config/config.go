// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Hard bounds on the crawl caps. Values outside the range are clamped, not
// rejected, so a misconfigured deployment still crawls politely.
const (
	MinPages   = 5
	MaxPages   = 100
	MinReviews = 200
	MaxReviews = 2500
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Cache     CacheConfig     `mapstructure:"cache"`
	KeyHealth KeyHealthConfig `mapstructure:"key_health"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the session orchestrator and page fetching.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	MaxPages          int    `mapstructure:"max_pages"`
	MaxReviews        int    `mapstructure:"max_reviews"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs     int    `mapstructure:"settle_delay_ms"`
	PoliteMeanMs      int    `mapstructure:"polite_mean_ms"`
	PoliteJitterMs    int    `mapstructure:"polite_jitter_ms"`
	PoliteFloorMs     int    `mapstructure:"polite_floor_ms"`
	RetryAttempts     int    `mapstructure:"retry_attempts"`
	RetryBaseMs       int    `mapstructure:"retry_base_ms"`
	RetryCapMs        int    `mapstructure:"retry_cap_ms"`
	Pager             string `mapstructure:"pager"` // static | rendered | auto
	RenderingHeadless bool   `mapstructure:"rendering_headless"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // memory | sqlite | postgres
	SQLitePath string `mapstructure:"sqlite_path"`
	DSN        string `mapstructure:"dsn"`
}

// GeminiConfig configures the remote summarizer. An empty API key switches
// the service to the local heuristic summarizer.
type GeminiConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// CacheConfig sets the summary cache freshness window.
type CacheConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

// KeyHealthConfig sets the credential probe cadence.
type KeyHealthConfig struct {
	IntervalHours int `mapstructure:"interval_hours"`
}

// PubSubConfig holds metadata for publish-subscribe progress notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWCRAWL")
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

	cfg.clampCaps()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "reviewlens-crawler/0.1")
	v.SetDefault("crawler.max_pages", 60)
	v.SetDefault("crawler.max_reviews", 1200)
	v.SetDefault("crawler.nav_timeout_seconds", 30)
	v.SetDefault("crawler.settle_delay_ms", 600)
	v.SetDefault("crawler.polite_mean_ms", 1200)
	v.SetDefault("crawler.polite_jitter_ms", 300)
	v.SetDefault("crawler.polite_floor_ms", 500)
	v.SetDefault("crawler.retry_attempts", 3)
	v.SetDefault("crawler.retry_base_ms", 300)
	v.SetDefault("crawler.retry_cap_ms", 2000)
	v.SetDefault("crawler.pager", "auto")
	v.SetDefault("crawler.rendering_headless", true)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlite_path", "reviewcrawler.db")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.timeout_seconds", 30)
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("key_health.interval_hours", 6)
	v.SetDefault("logging.development", true)
}

// clampCaps forces the crawl caps into their supported ranges.
func (c *Config) clampCaps() {
	c.Crawler.MaxPages = clamp(c.Crawler.MaxPages, MinPages, MaxPages)
	c.Crawler.MaxReviews = clamp(c.Crawler.MaxReviews, MinReviews, MaxReviews)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Crawler.Pager {
	case "static", "rendered", "auto":
	default:
		return fmt.Errorf("crawler.pager must be one of static, rendered, auto")
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite backend")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, sqlite, postgres")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// NavTimeout is the page-load wait bound as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Crawler.NavTimeoutSec) * time.Second
}

// CacheTTL is the summary cache freshness window as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// KeyHealthInterval is the credential probe cadence as a duration.
func (c Config) KeyHealthInterval() time.Duration {
	return time.Duration(c.KeyHealth.IntervalHours) * time.Hour
}
