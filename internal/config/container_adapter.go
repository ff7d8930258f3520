package config

import (
	"github.com/garyjia/ad-pipeline/internal/container"
)

// ToContainerConfig converts the file-based Config loaded by viper into the
// container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			Reviewers: append([]string(nil), c.Lark.Reviewers...),
			Commands:  c.Lark.Commands,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Metrics: container.MetricsConfig{
			Enabled:   c.Metrics.Enabled,
			Namespace: c.Metrics.Namespace,
		},
		Report: container.ReportConfig{
			Timezone:   c.Report.Timezone,
			TimeFormat: c.Report.TimeFormat,
		},
		Worker: container.WorkerConfig{
			Enabled:              c.Worker.Enabled,
			DeadlinePollInterval: c.Worker.DeadlinePollInterval,
			DeadlineWindow:       c.Worker.DeadlineWindow,
		},
	}
}
