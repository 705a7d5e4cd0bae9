// Package config loads and validates scheduler configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"db"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Provider ProviderConfig `mapstructure:"provider"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// WorkerConfig governs the claim loops.
type WorkerConfig struct {
	Concurrency        int    `mapstructure:"concurrency"`
	Queue              string `mapstructure:"queue"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms"`
	JobTimeoutSeconds  int    `mapstructure:"job_timeout_seconds"`
	FreshnessTTLHours  int    `mapstructure:"freshness_ttl_hours"`
	SweepUserBatch     int    `mapstructure:"sweep_user_batch"`
	SweepDomainBatch   int    `mapstructure:"sweep_domain_batch"`
	SweepPostBatch     int    `mapstructure:"sweep_post_batch"`
}

// ProviderConfig controls the upstream content API client.
type ProviderConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// AnalysisConfig controls the models service client.
type AnalysisConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// IngestConfig tunes feed and like pagination and the media probe.
type IngestConfig struct {
	FeedPageSize        int `mapstructure:"feed_page_size"`
	LikePageSize        int `mapstructure:"like_page_size"`
	MaxFeedPages        int `mapstructure:"max_feed_pages"`
	MaxLikePages        int `mapstructure:"max_like_pages"`
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
}

// SweepConfig controls the reconciliation schedule.
type SweepConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// PubSubConfig holds metadata for event publishing. An empty project
// disables the bus and events stay in-process.
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
	v.SetEnvPrefix("SCHEDULER")
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
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.job_timeout_seconds", 300)
	v.SetDefault("worker.freshness_ttl_hours", 168)
	v.SetDefault("worker.sweep_user_batch", 20)
	v.SetDefault("worker.sweep_domain_batch", 10)
	v.SetDefault("worker.sweep_post_batch", 10)
	v.SetDefault("provider.base_url", "https://public.api.bsky.app")
	v.SetDefault("provider.timeout_seconds", 15)
	v.SetDefault("provider.rps", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("analysis.timeout_seconds", 30)
	v.SetDefault("ingest.feed_page_size", 50)
	v.SetDefault("ingest.like_page_size", 100)
	v.SetDefault("ingest.max_feed_pages", 10)
	v.SetDefault("ingest.max_like_pages", 50)
	v.SetDefault("ingest.probe_timeout_seconds", 5)
	v.SetDefault("sweep.schedule", "*/10 * * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.FreshnessTTLHours <= 0 {
		return fmt.Errorf("worker.freshness_ttl_hours must be > 0")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be > 0")
	}
	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis.base_url is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required when pubsub.project_id is set")
	}
	return nil
}
