// Package config loads and validates broker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store provider names accepted by StoreConfig.Provider.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Archive provider names accepted by ArchiveConfig.Provider.
const (
	ArchiveNoop  = "noop"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Notify provider names accepted by NotifyConfig.Provider.
const (
	NotifyNoop   = "noop"
	NotifyPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// CORSConfig controls the browser access policy on the public endpoints.
type CORSConfig struct {
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig selects and configures the persistence provider.
type StoreConfig struct {
	Provider string         `mapstructure:"provider"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig sets the embedded database location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// UpstreamConfig configures the analysis model invocation.
type UpstreamConfig struct {
	ResponsesURL string `mapstructure:"responses_url"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
}

// PublisherConfig governs homepage metadata resolution.
type PublisherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig selects where submitted documents are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// NotifyConfig holds metadata for completion notifications.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BROKER")
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
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("cors.allowed_origin", "*")
	v.SetDefault("logging.development", true)
	v.SetDefault("store.provider", StoreSQLite)
	v.SetDefault("store.sqlite.path", "data/broker.db")
	v.SetDefault("upstream.responses_url", "https://api.openai.com/v1/responses")
	v.SetDefault("upstream.model", "gpt-5")
	v.SetDefault("publisher.user_agent", "news-broker/0.1")
	v.SetDefault("publisher.timeout_seconds", 15)
	v.SetDefault("archive.provider", ArchiveNoop)
	v.SetDefault("notify.provider", NotifyNoop)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ShutdownSeconds <= 0 {
		return fmt.Errorf("server.shutdown_seconds must be > 0")
	}
	switch c.Store.Provider {
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must be set for the sqlite provider")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres provider")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.provider must be one of sqlite, postgres, memory")
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key must be set")
	}
	if c.Upstream.Model == "" {
		return fmt.Errorf("upstream.model must be set")
	}
	if c.Publisher.TimeoutSeconds <= 0 {
		return fmt.Errorf("publisher.timeout_seconds must be > 0")
	}
	switch c.Archive.Provider {
	case ArchiveNoop:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local provider")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider must be one of noop, local, gcs")
	}
	switch c.Notify.Provider {
	case NotifyNoop:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider must be one of noop, pubsub")
	}
	return nil
}

// PublisherTimeout converts the configured resolver timeout into a duration.
func (c Config) PublisherTimeout() time.Duration {
	return time.Duration(c.Publisher.TimeoutSeconds) * time.Second
}

// ShutdownTimeout converts the configured shutdown grace into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
