// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Actor      ActorConfig      `mapstructure:"actor"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Store      StoreConfig      `mapstructure:"store"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Queue      QueueConfig      `mapstructure:"queue"`
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

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DiscoveryConfig governs the headless browser discovery engine.
type DiscoveryConfig struct {
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	SettleSec         int    `mapstructure:"settle_seconds"`
	ScrollStepPx      int    `mapstructure:"scroll_step_px"`
	ScrollIntervalMs  int    `mapstructure:"scroll_interval_ms"`
	MaxIdleSteps      int    `mapstructure:"max_idle_steps"`
	FinalWaitMs       int    `mapstructure:"final_wait_ms"`
	ResponseQueueSize int    `mapstructure:"response_queue_size"`
	DefaultMaxItems   int    `mapstructure:"default_max_items"`
}

// ActorConfig controls the managed-actor API client.
type ActorConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	Token           string  `mapstructure:"token"`
	WaitSeconds     int     `mapstructure:"wait_seconds"`
	PollIntervalMs  int     `mapstructure:"poll_interval_ms"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	InstagramActor  string  `mapstructure:"instagram_actor"`
	TikTokComments  string  `mapstructure:"tiktok_comments_actor"`
	InstaComments   string  `mapstructure:"instagram_comments_actor"`
	DatasetPageSize int     `mapstructure:"dataset_page_size"`
}

// EnrichmentConfig controls the comment enrichment pipeline.
type EnrichmentConfig struct {
	BatchSize          int `mapstructure:"batch_size"`
	MaxCommentsPerItem int `mapstructure:"max_comments_per_item"`
	InterBatchDelayMs  int `mapstructure:"inter_batch_delay_ms"`
	FetchAttempts      int `mapstructure:"fetch_attempts"`
	RetryBackoffMs     int `mapstructure:"retry_backoff_ms"`
}

// StoreConfig selects and configures the job/dedup store backend.
type StoreConfig struct {
	Provider     string `mapstructure:"provider"` // memory | postgres
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// BlobConfig selects and configures artifact persistence.
type BlobConfig struct {
	Provider    string `mapstructure:"provider"` // memory | local | gcs
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PublisherConfig holds metadata for completion notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"` // memory | pubsub
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig sizes the in-process job queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// Default returns the built-in configuration without consulting files or
// the environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOCIALCRAWLER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("discovery.headless", true)
	v.SetDefault("discovery.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("discovery.nav_timeout_seconds", 30)
	v.SetDefault("discovery.settle_seconds", 3)
	v.SetDefault("discovery.scroll_step_px", 1000)
	v.SetDefault("discovery.scroll_interval_ms", 350)
	v.SetDefault("discovery.max_idle_steps", 150)
	v.SetDefault("discovery.final_wait_ms", 1500)
	v.SetDefault("discovery.response_queue_size", 64)
	v.SetDefault("discovery.default_max_items", 100)
	v.SetDefault("actor.base_url", "https://api.apify.com")
	v.SetDefault("actor.wait_seconds", 300)
	v.SetDefault("actor.poll_interval_ms", 2000)
	v.SetDefault("actor.rps", 0.5)
	v.SetDefault("actor.burst", 1)
	v.SetDefault("actor.instagram_actor", "apify~instagram-scraper")
	v.SetDefault("actor.tiktok_comments_actor", "clockworks~tiktok-comments-scraper")
	v.SetDefault("actor.instagram_comments_actor", "apify~instagram-comment-scraper")
	v.SetDefault("actor.dataset_page_size", 1000)
	v.SetDefault("enrichment.batch_size", 50)
	v.SetDefault("enrichment.max_comments_per_item", 20)
	v.SetDefault("enrichment.inter_batch_delay_ms", 2000)
	v.SetDefault("enrichment.fetch_attempts", 3)
	v.SetDefault("enrichment.retry_backoff_ms", 1000)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.max_open_conns", 4)
	v.SetDefault("blob.provider", "memory")
	v.SetDefault("blob.local_dir", "artifacts")
	v.SetDefault("blob.prefix", "jobs")
	v.SetDefault("blob.content_type", "application/json")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("queue.depth", 64)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Discovery.NavTimeoutSec <= 0 {
		return fmt.Errorf("discovery.nav_timeout_seconds must be > 0")
	}
	if c.Discovery.ScrollIntervalMs <= 0 {
		return fmt.Errorf("discovery.scroll_interval_ms must be > 0")
	}
	if c.Discovery.MaxIdleSteps <= 0 {
		return fmt.Errorf("discovery.max_idle_steps must be > 0")
	}
	if c.Enrichment.BatchSize <= 0 {
		return fmt.Errorf("enrichment.batch_size must be > 0")
	}
	if c.Actor.PollIntervalMs <= 0 {
		return fmt.Errorf("actor.poll_interval_ms must be > 0")
	}
	switch c.Store.Provider {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.provider must be memory or postgres, got %q", c.Store.Provider)
	}
	if c.Store.Provider == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.provider is postgres")
	}
	switch c.Blob.Provider {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("blob.provider must be memory, local or gcs, got %q", c.Blob.Provider)
	}
	if c.Blob.Provider == "gcs" && c.Blob.GCSBucket == "" {
		return fmt.Errorf("blob.gcs_bucket must be set when blob.provider is gcs")
	}
	switch c.Publisher.Provider {
	case "memory", "pubsub":
	default:
		return fmt.Errorf("publisher.provider must be memory or pubsub, got %q", c.Publisher.Provider)
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	return nil
}

// NavTimeout returns the discovery navigation timeout as a duration.
func (c DiscoveryConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// SettleWait returns the post-navigation settle delay.
func (c DiscoveryConfig) SettleWait() time.Duration {
	return time.Duration(c.SettleSec) * time.Second
}

// ScrollInterval returns the pause between scroll steps.
func (c DiscoveryConfig) ScrollInterval() time.Duration {
	return time.Duration(c.ScrollIntervalMs) * time.Millisecond
}

// FinalWait returns the grace period after scrolling stops, letting
// in-flight responses land before the tab closes.
func (c DiscoveryConfig) FinalWait() time.Duration {
	return time.Duration(c.FinalWaitMs) * time.Millisecond
}

// PollInterval returns the actor run poll cadence.
func (c ActorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// WaitTimeout returns the maximum time to wait for an actor run.
func (c ActorConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitSeconds) * time.Second
}

// InterBatchDelay returns the pause between enrichment batches.
func (c EnrichmentConfig) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchDelayMs) * time.Millisecond
}

// RetryBackoff returns the initial pause before a comment fetch retry.
func (c EnrichmentConfig) RetryBackoff() time.Duration {
	if c.RetryBackoffMs <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}
