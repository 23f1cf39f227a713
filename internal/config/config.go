// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/autorunner/internal/detector"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Tasks       TasksConfig       `mapstructure:"tasks"`
	Driver      DriverConfig      `mapstructure:"driver"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Detector    detector.Config   `mapstructure:"detector"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Logging     LoggingConfig     `mapstructure:"logging"`
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

// WorkersConfig governs the task execution pool.
type WorkersConfig struct {
	Count        int           `mapstructure:"count"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// TasksConfig holds defaults applied to tasks submitted without limits.
type TasksConfig struct {
	MaxPagesDefault int           `mapstructure:"max_pages_default"`
	MaxDepthDefault int           `mapstructure:"max_depth_default"`
	DelayDefault    time.Duration `mapstructure:"delay_default"`
}

// DriverConfig selects and configures the browser-control backend.
type DriverConfig struct {
	// Mode is "chrome" or "http".
	Mode              string        `mapstructure:"mode"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowSize        string        `mapstructure:"window_size"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// QueueConfig selects and configures the task queue backend.
type QueueConfig struct {
	// Backend is "memory" or "pubsub".
	Backend            string `mapstructure:"backend"`
	PubSubProjectID    string `mapstructure:"pubsub_project_id"`
	PubSubTopic        string `mapstructure:"pubsub_topic"`
	PubSubSubscription string `mapstructure:"pubsub_subscription"`
}

// DatabaseConfig selects and configures the task store backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScreenshotsConfig selects and configures challenge screenshot storage.
type ScreenshotsConfig struct {
	// Backend is "memory", "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// AlertsConfig configures alert delivery.
type AlertsConfig struct {
	// Notifier is "log" or "pubsub".
	Notifier        string `mapstructure:"notifier"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
	PubSubTopic     string `mapstructure:"pubsub_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTORUNNER")
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
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("workers.max_attempts", 3)
	v.SetDefault("workers.retry_backoff", "5s")
	v.SetDefault("tasks.max_pages_default", 10)
	v.SetDefault("tasks.max_depth_default", 3)
	v.SetDefault("tasks.delay_default", "1s")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("driver.mode", "chrome")
	v.SetDefault("driver.headless", true)
	v.SetDefault("driver.user_agent", "autorunner-bot/0.1")
	v.SetDefault("driver.window_size", "1920,1080")
	v.SetDefault("driver.navigation_timeout", "45s")
	v.SetDefault("detector.threshold", 0.7)
	v.SetDefault("detector.selector_weight", 0.4)
	v.SetDefault("detector.text_weight", 0.3)
	v.SetDefault("detector.frame_weight", 0.3)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("screenshots.backend", "memory")
	v.SetDefault("screenshots.prefix", "challenges")
	v.SetDefault("alerts.notifier", "log")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	switch c.Driver.Mode {
	case "chrome", "http":
	default:
		return fmt.Errorf("driver.mode must be chrome or http, got %q", c.Driver.Mode)
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		if c.Queue.PubSubProjectID == "" || c.Queue.PubSubTopic == "" || c.Queue.PubSubSubscription == "" {
			return fmt.Errorf("queue.pubsub_project_id, queue.pubsub_topic and queue.pubsub_subscription must be set when queue.backend is pubsub")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or pubsub, got %q", c.Queue.Backend)
	}
	if c.Detector.Threshold <= 0 || c.Detector.Threshold > 1 {
		return fmt.Errorf("detector.threshold must be in (0,1]")
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.driver is postgres")
		}
	default:
		return fmt.Errorf("database.driver must be memory or postgres, got %q", c.Database.Driver)
	}
	switch c.Screenshots.Backend {
	case "memory":
	case "local":
		if c.Screenshots.BaseDir == "" {
			return fmt.Errorf("screenshots.base_dir must be set when screenshots.backend is local")
		}
	case "gcs":
		if c.Screenshots.GCSBucket == "" {
			return fmt.Errorf("screenshots.gcs_bucket must be set when screenshots.backend is gcs")
		}
	default:
		return fmt.Errorf("screenshots.backend must be memory, local or gcs, got %q", c.Screenshots.Backend)
	}
	switch c.Alerts.Notifier {
	case "log":
	case "pubsub":
		if c.Alerts.PubSubProjectID == "" || c.Alerts.PubSubTopic == "" {
			return fmt.Errorf("alerts.pubsub_project_id and alerts.pubsub_topic must be set when alerts.notifier is pubsub")
		}
	default:
		return fmt.Errorf("alerts.notifier must be log or pubsub, got %q", c.Alerts.Notifier)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
