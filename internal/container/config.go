// Package container provides dependency injection and lifecycle management
// for the approval pipeline following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Lark     LarkConfig
	Server   ServerConfig
	Metrics  MetricsConfig
	Report   ReportConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate applies the embedded schema migrations on start
	AutoMigrate bool
}

// LarkConfig holds Lark notification settings.
type LarkConfig struct {
	AppID     string
	AppSecret string

	// Reviewers are open_ids notified when an approval opens
	Reviewers []string

	// Commands lets reviewers resolve approvals by messaging the bot over
	// the Lark long connection
	Commands bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// ReportConfig holds history workbook settings.
type ReportConfig struct {
	Timezone   string
	TimeFormat string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Enabled bool

	DeadlinePollInterval time.Duration
	DeadlineWindow       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/pipeline.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "ad_pipeline",
		},
		Report: ReportConfig{
			Timezone: "UTC",
		},
		Worker: WorkerConfig{
			Enabled:              true,
			DeadlinePollInterval: 10 * time.Minute,
			DeadlineWindow:       24 * time.Hour,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}
	if c.Worker.DeadlinePollInterval < 0 || c.Worker.DeadlineWindow < 0 {
		return fmt.Errorf("worker durations must not be negative")
	}
	return nil
}
