package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
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
crawler:
  user_agent: review-agent
  max_pages: 40
  max_reviews: 800
  pager: static
storage:
  backend: postgres
  dsn: postgres://crawler@localhost/reviews
gemini:
  api_key: test-key
  model: gemini-1.5-pro
cache:
  ttl_hours: 24
key_health:
  interval_hours: 1
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
	if cfg.Crawler.MaxPages != 40 || cfg.Crawler.MaxReviews != 800 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.Pager != "static" {
		t.Fatalf("expected static pager, got %q", cfg.Crawler.Pager)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("expected postgres storage: %+v", cfg.Storage)
	}
	if cfg.Gemini.Model != "gemini-1.5-pro" {
		t.Fatalf("expected gemini model override, got %q", cfg.Gemini.Model)
	}
	if got := cfg.CacheTTL(); got != 24*time.Hour {
		t.Fatalf("expected cache TTL 24h, got %v", got)
	}
	if got := cfg.KeyHealthInterval(); got != time.Hour {
		t.Fatalf("expected key health interval 1h, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.MaxPages != 60 || cfg.Crawler.MaxReviews != 1200 {
		t.Fatalf("unexpected default caps: %+v", cfg.Crawler)
	}
	if cfg.Crawler.NavTimeoutSec != 30 || cfg.Crawler.SettleDelayMs != 600 {
		t.Fatalf("unexpected default pacing: %+v", cfg.Crawler)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLitePath == "" {
		t.Fatalf("expected sqlite default backend: %+v", cfg.Storage)
	}
	if cfg.CacheTTL() != 168*time.Hour {
		t.Fatalf("expected 7 day cache TTL, got %v", cfg.CacheTTL())
	}
	if cfg.NavTimeout() != 30*time.Second {
		t.Fatalf("expected 30s nav timeout, got %v", cfg.NavTimeout())
	}
}

func TestLoadClampsCaps(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  max_pages: 1000
  max_reviews: 10
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.MaxPages != MaxPages {
		t.Fatalf("expected max_pages clamped to %d, got %d", MaxPages, cfg.Crawler.MaxPages)
	}
	if cfg.Crawler.MaxReviews != MinReviews {
		t.Fatalf("expected max_reviews clamped to %d, got %d", MinReviews, cfg.Crawler.MaxReviews)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Pager: "auto"},
		Storage: StorageConfig{Backend: "memory"},
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
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "unknown pager",
			cfg: func() Config {
				c := base
				c.Crawler.Pager = "teleport"
				return c
			}(),
			want: "crawler.pager",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "etcd"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "sqlite missing path",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "sqlite"
				return c
			}(),
			want: "storage.sqlite_path",
		},
		{
			name: "postgres missing dsn",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "postgres"
				return c
			}(),
			want: "storage.dsn",
		},
		{
			name: "pubsub missing topic",
			cfg: func() Config {
				c := base
				c.PubSub.Enabled = true
				c.PubSub.ProjectID = "proj"
				return c
			}(),
			want: "pubsub",
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
