// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Crawler   CrawlerConfig             `mapstructure:"crawler"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Storage   StorageConfig             `mapstructure:"storage"`
	DB        DBConfig                  `mapstructure:"db"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Telemetry TelemetryConfig           `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the per-platform crawl queues and workers.
type CrawlerConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	IdleBackoff   time.Duration `mapstructure:"idle_backoff"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxDepth      int           `mapstructure:"max_depth"`
	Autostart     bool          `mapstructure:"autostart"`
}

// PlatformConfig configures one upstream platform adapter.
type PlatformConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	WebURL            string        `mapstructure:"web_url"`
	Token             string        `mapstructure:"token"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxPages          int           `mapstructure:"max_pages"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the EntityStore implementation.
type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	Migrate bool   `mapstructure:"migrate"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EntityTable     string        `mapstructure:"entity_table"`
	StatsTable      string        `mapstructure:"stats_table"`
}

// PubSubConfig holds the score event destination. Without a project ID
// events are kept in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// Exporter is "none" or "stdout".
	Exporter string `mapstructure:"exporter"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMPACT")
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
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.queue_capacity", 1000)
	v.SetDefault("crawler.idle_backoff", 100*time.Millisecond)
	v.SetDefault("crawler.error_backoff", time.Second)
	v.SetDefault("crawler.fetch_timeout", 30*time.Second)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.autostart", true)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.migrate", true)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.topic_name", "impact-scores")
	v.SetDefault("telemetry.service_name", "impact-crawler")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("telemetry.exporter", "none")

	// Platform keys need defaults so IMPACT_PLATFORMS_<NAME>_<KEY> env vars bind.
	platforms := map[string]struct {
		rps   float64
		burst int
	}{
		"github":      {rps: 1, burst: 5},
		"huggingface": {rps: 2, burst: 5},
		"reddit":      {rps: 0.5, burst: 2},
	}
	for name, p := range platforms {
		prefix := "platforms." + name + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"web_url", "")
		v.SetDefault(prefix+"token", "")
		v.SetDefault(prefix+"user_agent", "impact-crawler/1.0")
		v.SetDefault(prefix+"requests_per_second", p.rps)
		v.SetDefault(prefix+"burst", p.burst)
		v.SetDefault(prefix+"max_pages", 3)
		v.SetDefault(prefix+"timeout", 20*time.Second)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.RequestTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.New("server timeouts must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.QueueCapacity <= 0 {
		return errors.New("crawler.queue_capacity must be > 0")
	}
	if c.Crawler.IdleBackoff <= 0 || c.Crawler.ErrorBackoff <= 0 {
		return errors.New("crawler.idle_backoff and crawler.error_backoff must be > 0")
	}
	if c.Crawler.FetchTimeout <= 0 {
		return errors.New("crawler.fetch_timeout must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return errors.New("crawler.max_depth must be >= 0")
	}
	for name, p := range c.Platforms {
		if p.RequestsPerSecond < 0 {
			return fmt.Errorf("platforms.%s.requests_per_second must be >= 0", name)
		}
		if p.MaxPages < 0 {
			return fmt.Errorf("platforms.%s.max_pages must be >= 0", name)
		}
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, postgres", c.Storage.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("telemetry.exporter %q is not one of none, stdout", c.Telemetry.Exporter)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return errors.New("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// EnabledPlatforms lists the names of enabled platforms, sorted.
func (c Config) EnabledPlatforms() []string {
	var out []string
	for name, p := range c.Platforms {
		if p.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
