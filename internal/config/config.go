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
	Server    ServerConfig    `mapstructure:"server"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	ML        MLConfig        `mapstructure:"ml"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs the discovery sweep and orchestrator.
type CrawlConfig struct {
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	BatchSize       int    `mapstructure:"batch_size"`
	Concurrency     int    `mapstructure:"concurrency"`
	MaxGalleries    int    `mapstructure:"max_galleries"`
	SearchResults   int    `mapstructure:"search_results"`
	SpeciesTerm     string `mapstructure:"species_term"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// RateLimitConfig tunes the per-domain adaptive limiter.
type RateLimitConfig struct {
	BaseIntervalSeconds int `mapstructure:"base_interval_seconds"`
	MaxBackoffSeconds   int `mapstructure:"max_backoff_seconds"`
}

// HeadlessConfig configures the browser-fetch fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	ScrollPasses  int  `mapstructure:"scroll_passes"`
}

// QualityConfig tunes the image quality gate.
type QualityConfig struct {
	AcceptanceFloor float64 `mapstructure:"acceptance_floor"`
	MinResolution   int     `mapstructure:"min_resolution"`
}

// PipelineConfig tunes the identification pipeline thresholds.
type PipelineConfig struct {
	DetectionConfidence  float64 `mapstructure:"detection_confidence"`
	StrongMatchThreshold float64 `mapstructure:"strong_match_threshold"`
	LikelyMatchThreshold float64 `mapstructure:"likely_match_threshold"`
	TopK                 int     `mapstructure:"top_k"`
	MinSimilarity        float64 `mapstructure:"min_similarity"`
	BlobPrefix           string  `mapstructure:"blob_prefix"`
}

// TriggerConfig tunes the investigation trigger gate.
type TriggerConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	MinQuality             float64 `mapstructure:"min_quality"`
	MinConfidence          float64 `mapstructure:"min_confidence"`
	MaxPerWindow           int     `mapstructure:"max_per_window"`
	WindowMinutes          int     `mapstructure:"window_minutes"`
	FacilitySpacingMinutes int     `mapstructure:"facility_spacing_minutes"`
	MaxInFlight            int     `mapstructure:"max_in_flight"`
}

// MLConfig points at the detection/embedding/vector-search services.
type MLConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SearchConfig points at the external keyword image search.
type SearchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the blob backend. Backend is one of "local",
// "gcs" or "memory".
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to Postgres. An empty DSN selects the
// in-memory stores for local development.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds the investigation task topic. An empty project
// selects the in-memory queue.
type PubSubConfig struct {
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
	v.SetEnvPrefix("TIGERWATCH")
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
	v.SetDefault("crawl.interval_minutes", 60)
	v.SetDefault("crawl.batch_size", 10)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.max_galleries", 5)
	v.SetDefault("crawl.search_results", 20)
	v.SetDefault("crawl.species_term", "tiger")
	v.SetDefault("crawl.user_agent", "")
	v.SetDefault("crawl.timeout_seconds", 30)
	v.SetDefault("rate_limit.base_interval_seconds", 2)
	v.SetDefault("rate_limit.max_backoff_seconds", 60)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.scroll_passes", 3)
	v.SetDefault("quality.acceptance_floor", 40)
	v.SetDefault("quality.min_resolution", 200)
	v.SetDefault("pipeline.detection_confidence", 0.5)
	v.SetDefault("pipeline.strong_match_threshold", 0.90)
	v.SetDefault("pipeline.likely_match_threshold", 0.85)
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.min_similarity", 0.5)
	v.SetDefault("pipeline.blob_prefix", "discoveries")
	v.SetDefault("trigger.enabled", true)
	v.SetDefault("trigger.min_quality", 60)
	v.SetDefault("trigger.min_confidence", 0.85)
	v.SetDefault("trigger.max_per_window", 5)
	v.SetDefault("trigger.window_minutes", 60)
	v.SetDefault("trigger.facility_spacing_minutes", 60)
	v.SetDefault("trigger.max_in_flight", 32)
	v.SetDefault("ml.timeout_seconds", 60)
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.RateLimit.BaseIntervalSeconds <= 0 {
		return fmt.Errorf("rate_limit.base_interval_seconds must be > 0")
	}
	if c.RateLimit.MaxBackoffSeconds < c.RateLimit.BaseIntervalSeconds {
		return fmt.Errorf("rate_limit.max_backoff_seconds must be >= base interval")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Pipeline.StrongMatchThreshold <= 0 || c.Pipeline.StrongMatchThreshold > 1 {
		return fmt.Errorf("pipeline.strong_match_threshold must be in (0, 1]")
	}
	if c.Pipeline.LikelyMatchThreshold > c.Pipeline.StrongMatchThreshold {
		return fmt.Errorf("pipeline.likely_match_threshold must not exceed the strong match threshold")
	}
	if c.Trigger.MinConfidence < 0 || c.Trigger.MinConfidence > 1 {
		return fmt.Errorf("trigger.min_confidence must be in [0, 1]")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// CrawlInterval converts the sweep cadence into a duration.
func (c Config) CrawlInterval() time.Duration {
	return time.Duration(c.Crawl.IntervalMinutes) * time.Minute
}
