// Package config loads and validates the bootstrap configuration via Viper.
// Runtime-tunable values (channels, credentials, image settings) live in the
// datastore and are read through the settings package instead.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all bootstrap knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Session   SessionConfig   `mapstructure:"session"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Images    ImagesConfig    `mapstructure:"images"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Parser    ParserConfig    `mapstructure:"parser"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig controls access to the shared relational store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConfigTable     string        `mapstructure:"config_table"`
	LedgerTable     string        `mapstructure:"ledger_table"`
	ArticleTable    string        `mapstructure:"article_table"`
	CycleTable      string        `mapstructure:"cycle_table"`
}

// SettingsConfig controls the runtime settings cache.
type SettingsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// SessionConfig points at the directory holding persisted platform sessions.
type SessionConfig struct {
	Dir string `mapstructure:"dir"`
}

// TelegramConfig tunes platform client behavior. Credentials are not here.
type TelegramConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RPS              float64       `mapstructure:"rps"`
	Burst            int           `mapstructure:"burst"`
	HistoryBatchSize int           `mapstructure:"history_batch_size"`
}

// ImagesConfig selects the upload backend and its limits.
type ImagesConfig struct {
	Backend         string        `mapstructure:"backend"`
	MaxUploads      int64         `mapstructure:"max_uploads"`
	InternalHost    string        `mapstructure:"internal_host"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	GCSBucket       string        `mapstructure:"gcs_bucket"`
	GCSPrefix       string        `mapstructure:"gcs_prefix"`
	LocalDir        string        `mapstructure:"local_dir"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
}

// SchedulerConfig holds loop and verification timing fallbacks.
type SchedulerConfig struct {
	FallbackInterval    time.Duration `mapstructure:"fallback_interval"`
	VerificationPoll    time.Duration `mapstructure:"verification_poll"`
	VerificationTimeout time.Duration `mapstructure:"verification_timeout"`
}

// LinkMapping maps a link domain substring to display text and a category.
type LinkMapping struct {
	Domain     string `mapstructure:"domain"`
	Display    string `mapstructure:"display"`
	CategoryID int    `mapstructure:"category_id"`
}

// ParserConfig holds the ordered link mapping table.
type ParserConfig struct {
	LinkMappings []LinkMapping `mapstructure:"link_mappings"`
}

// PubSubConfig holds metadata for article notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig configures the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds how events are grouped before reaching sinks.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TGINGEST")
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
	v.SetDefault("server.port", 8081)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.config_table", "system_config")
	v.SetDefault("database.ledger_table", "processed_messages")
	v.SetDefault("database.article_table", "messages")
	v.SetDefault("database.cycle_table", "cycle_runs")
	v.SetDefault("settings.ttl", 30*time.Second)
	v.SetDefault("session.dir", "./sessions")
	v.SetDefault("telegram.request_timeout", 30*time.Second)
	v.SetDefault("telegram.rps", 2.0)
	v.SetDefault("telegram.burst", 3)
	v.SetDefault("telegram.history_batch_size", 50)
	v.SetDefault("images.backend", "tgstate")
	v.SetDefault("images.max_uploads", 5)
	v.SetDefault("images.internal_host", "tgstate")
	v.SetDefault("images.download_timeout", 60*time.Second)
	v.SetDefault("images.upload_timeout", 60*time.Second)
	v.SetDefault("images.max_upload_bytes", 20<<20)
	v.SetDefault("images.gcs_prefix", "images")
	v.SetDefault("scheduler.fallback_interval", 30*time.Minute)
	v.SetDefault("scheduler.verification_poll", 2*time.Second)
	v.SetDefault("scheduler.verification_timeout", 300*time.Second)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("telemetry.service_name", "tgingest")
	v.SetDefault("telemetry.tracing_enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" && c.Database.Driver != "memory" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Settings.TTL <= 0 {
		return fmt.Errorf("settings.ttl must be > 0")
	}
	if strings.TrimSpace(c.Session.Dir) == "" {
		return fmt.Errorf("session.dir is required")
	}
	if c.Images.MaxUploads <= 0 {
		return fmt.Errorf("images.max_uploads must be > 0")
	}
	switch c.Images.Backend {
	case "tgstate":
	case "gcs":
		if c.Images.GCSBucket == "" {
			return fmt.Errorf("images.gcs_bucket must be set for the gcs backend")
		}
		if c.Images.PublicBaseURL == "" {
			return fmt.Errorf("images.public_base_url must be set for the gcs backend")
		}
	case "local":
		if c.Images.LocalDir == "" {
			return fmt.Errorf("images.local_dir must be set for the local backend")
		}
		if c.Images.PublicBaseURL == "" {
			return fmt.Errorf("images.public_base_url must be set for the local backend")
		}
	default:
		return fmt.Errorf("images.backend must be tgstate, gcs or local, got %q", c.Images.Backend)
	}
	if c.Scheduler.VerificationPoll <= 0 || c.Scheduler.VerificationTimeout < c.Scheduler.VerificationPoll {
		return fmt.Errorf("scheduler.verification_poll must be > 0 and <= verification_timeout")
	}
	if c.Scheduler.FallbackInterval <= 0 {
		return fmt.Errorf("scheduler.fallback_interval must be > 0")
	}
	for i, m := range c.Parser.LinkMappings {
		if strings.TrimSpace(m.Domain) == "" {
			return fmt.Errorf("parser.link_mappings[%d].domain is required", i)
		}
	}
	return nil
}

// RequestTimeout returns the per-call platform timeout, falling back to 30s.
func (c Config) RequestTimeout() time.Duration {
	if c.Telegram.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.Telegram.RequestTimeout
}
