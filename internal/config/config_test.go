package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/autorunner/internal/detector"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
workers:
  count: 8
  queue_depth: 128
  max_attempts: 5
  retry_backoff: 10s
tasks:
  max_pages_default: 50
  max_depth_default: 5
  delay_default: 2s
driver:
  mode: http
  headless: false
  user_agent: real-agent
  window_size: 1366,768
  navigation_timeout: 30s
detector:
  threshold: 0.8
database:
  driver: postgres
  dsn: postgres://localhost/autorunner
screenshots:
  backend: gcs
  gcs_bucket: bucket
  prefix: evidence
alerts:
  notifier: pubsub
  pubsub_project_id: proj
  pubsub_topic: alerts
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Workers.Count != 8 || cfg.Workers.RetryBackoff != 10*time.Second {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Workers)
	}
	if cfg.Driver.Mode != "http" || cfg.Driver.WindowSize != "1366,768" {
		t.Fatalf("expected driver overrides to apply: %+v", cfg.Driver)
	}
	if cfg.Detector.Threshold != 0.8 {
		t.Fatalf("expected detector threshold override, got %v", cfg.Detector.Threshold)
	}
	// Weights keep their defaults when the file only overrides threshold.
	if cfg.Detector.SelectorWeight != 0.4 {
		t.Fatalf("expected default selector weight, got %v", cfg.Detector.SelectorWeight)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN == "" {
		t.Fatalf("expected database overrides to apply: %+v", cfg.Database)
	}
	if cfg.Screenshots.Backend != "gcs" || cfg.Screenshots.Prefix != "evidence" {
		t.Fatalf("expected screenshot overrides to apply: %+v", cfg.Screenshots)
	}
	if cfg.Alerts.Notifier != "pubsub" || cfg.Alerts.PubSubTopic != "alerts" {
		t.Fatalf("expected alert overrides to apply: %+v", cfg.Alerts)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Workers.Count != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Driver.Mode != "chrome" || !cfg.Driver.Headless {
		t.Fatalf("unexpected driver defaults: %+v", cfg.Driver)
	}
	if cfg.Detector.Threshold != 0.7 {
		t.Fatalf("unexpected detector default: %+v", cfg.Detector)
	}
	if cfg.Database.Driver != "memory" || cfg.Screenshots.Backend != "memory" {
		t.Fatalf("unexpected storage defaults: %+v", cfg)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:      ServerConfig{Port: 8080},
		Workers:     WorkersConfig{Count: 4, QueueDepth: 64},
		Driver:      DriverConfig{Mode: "chrome"},
		Queue:       QueueConfig{Backend: "memory"},
		Detector:    detector.DefaultConfig(),
		Database:    DatabaseConfig{Driver: "memory"},
		Screenshots: ScreenshotsConfig{Backend: "memory"},
		Alerts:      AlertsConfig{Notifier: "log"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid worker count",
			cfg: func() Config {
				c := base
				c.Workers.Count = 0
				return c
			}(),
			want: "workers.count",
		},
		{
			name: "invalid driver mode",
			cfg: func() Config {
				c := base
				c.Driver.Mode = "selenium"
				return c
			}(),
			want: "driver.mode",
		},
		{
			name: "invalid threshold",
			cfg: func() Config {
				c := base
				c.Detector.Threshold = 1.5
				return c
			}(),
			want: "detector.threshold",
		},
		{
			name: "pubsub queue missing topic",
			cfg: func() Config {
				c := base
				c.Queue.Backend = "pubsub"
				return c
			}(),
			want: "queue.pubsub",
		},
		{
			name: "postgres missing dsn",
			cfg: func() Config {
				c := base
				c.Database.Driver = "postgres"
				return c
			}(),
			want: "database.dsn",
		},
		{
			name: "local shots missing base dir",
			cfg: func() Config {
				c := base
				c.Screenshots.Backend = "local"
				return c
			}(),
			want: "screenshots.base_dir",
		},
		{
			name: "pubsub missing topic",
			cfg: func() Config {
				c := base
				c.Alerts.Notifier = "pubsub"
				return c
			}(),
			want: "alerts.pubsub",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
