// Package main is the entry point of the approval pipeline server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/config"
	"github.com/garyjia/ad-pipeline/internal/container"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/report"
	httpServer "github.com/garyjia/ad-pipeline/internal/interfaces/http"
	"github.com/garyjia/ad-pipeline/pkg/database"
	"github.com/garyjia/ad-pipeline/pkg/utils"
)

const appName = "ad-pipeline"

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Media production approval pipeline",
		Long: `ad-pipeline moves creative deliverables through ordered workflow tasks,
gating each task on a reviewer's approval of its final version.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml",
		"Config file path (YAML); empty uses defaults and PIPELINE_* environment variables")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(configPath)
		},
	})

	var output string
	exportCmd := &cobra.Command{
		Use:   "export <deliverable-id>",
		Short: "Write a deliverable's history workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid deliverable id %q: %w", args[0], err)
			}
			return export(cmd.Context(), configPath, id, output)
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default deliverable-<id>-history.xlsx)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    appName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func startContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*container.Container, error) {
	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting approval pipeline",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("lark_enabled", cfg.Lark.Enabled()))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := startContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start container", zap.Error(err))
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown reported errors", zap.Error(err))
		}
	}()

	httpServer.Version = Version
	server, err := c.NewHTTPServer()
	if err != nil {
		return err
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Server exited successfully")
	return nil
}

func migrate(configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dbCfg := cfg.ToContainerConfig().Database
	dbCfg.AutoMigrate = false
	bundle, err := container.ProvideDatabase(&dbCfg, logger)
	if err != nil {
		return err
	}
	defer bundle.Conn.Close()

	applied, err := database.NewMigrator(bundle.Conn, logger).RunMigrations(nil)
	if err != nil {
		return err
	}

	fmt.Printf("applied %d migration(s) to %s\n", applied, cfg.Database.Path)
	return nil
}

func export(ctx context.Context, configPath string, deliverableID int64, output string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}

	cc := cfg.ToContainerConfig()
	cc.Lark = container.LarkConfig{}
	cc.Worker.Enabled = false
	cc.Metrics.Enabled = false

	c, err := container.NewContainer(cc, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	history, err := c.Services().Deliverable.History(ctx, deliverableID)
	if err != nil {
		return err
	}

	exporter := c.Exporter()
	if output == "" {
		output = exporter.FileName(history.Deliverable)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer f.Close()

	err = exporter.Write(f, report.History{
		Deliverable: history.Deliverable,
		Tasks:       history.Tasks,
		Versions:    history.Versions,
		Approvals:   history.Approvals,
	})
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", output)
	return nil
}
