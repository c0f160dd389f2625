package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: true
  level: debug
database:
  driver: sqlite
  dsn: file:ingest.db
settings:
  ttl: 10s
session:
  dir: /var/lib/tgingest
images:
  backend: local
  max_uploads: 3
  local_dir: /srv/images
  public_base_url: https://img.example.com
scheduler:
  fallback_interval: 15m
parser:
  link_mappings:
    - domain: pan.quark.cn
      display: Quark
      category_id: 2
    - domain: aliyundrive.com
      display: Aliyun
      category_id: 1
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 10*time.Second, cfg.Settings.TTL)
	require.Equal(t, int64(3), cfg.Images.MaxUploads)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.FallbackInterval)
	require.Equal(t, 2*time.Second, cfg.Scheduler.VerificationPoll)
	require.Equal(t, 300*time.Second, cfg.Scheduler.VerificationTimeout)
	require.Equal(t, "processed_messages", cfg.Database.LedgerTable)
	require.Len(t, cfg.Parser.LinkMappings, 2)
	require.Equal(t, "pan.quark.cn", cfg.Parser.LinkMappings[0].Domain)
	require.Equal(t, 1, cfg.Parser.LinkMappings[1].CategoryID)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "database.dsn")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8081},
		Database:  DatabaseConfig{Driver: "postgres", DSN: "postgres://localhost/ingest"},
		Settings:  SettingsConfig{TTL: 30 * time.Second},
		Session:   SessionConfig{Dir: "./sessions"},
		Images:    ImagesConfig{Backend: "tgstate", MaxUploads: 5},
		Scheduler: SchedulerConfig{FallbackInterval: time.Minute, VerificationPoll: 2 * time.Second, VerificationTimeout: time.Minute},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"zero ttl", func(c *Config) { c.Settings.TTL = 0 }, "settings.ttl"},
		{"zero uploads", func(c *Config) { c.Images.MaxUploads = 0 }, "images.max_uploads"},
		{"gcs without bucket", func(c *Config) { c.Images.Backend = "gcs" }, "images.gcs_bucket"},
		{"local without dir", func(c *Config) { c.Images.Backend = "local" }, "images.local_dir"},
		{"poll beyond timeout", func(c *Config) { c.Scheduler.VerificationPoll = 2 * time.Minute }, "scheduler.verification_poll"},
		{"mapping without domain", func(c *Config) {
			c.Parser.LinkMappings = []LinkMapping{{Display: "x"}}
		}, "parser.link_mappings[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateMemoryDriverNeedsNoDSN(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{Port: 8081},
		Database:  DatabaseConfig{Driver: "memory"},
		Settings:  SettingsConfig{TTL: time.Second},
		Session:   SessionConfig{Dir: "./sessions"},
		Images:    ImagesConfig{Backend: "tgstate", MaxUploads: 1},
		Scheduler: SchedulerConfig{FallbackInterval: time.Minute, VerificationPoll: time.Second, VerificationTimeout: time.Minute},
	}
	require.NoError(t, cfg.Validate())
}
