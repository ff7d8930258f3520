package container

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/dispatcher"
	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/application/service"
	infraLark "github.com/garyjia/ad-pipeline/internal/infrastructure/external/lark"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/metrics"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/persistence/repository"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/report"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/worker"
	"github.com/garyjia/ad-pipeline/internal/interfaces/websocket"
	"github.com/garyjia/ad-pipeline/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflow    port.WorkflowRepository
	Deliverable port.DeliverableRepository
	Task        port.TaskRepository
	Version     port.VersionRepository
	Approval    port.ApprovalRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Workflow    service.WorkflowService
	Deliverable service.DeliverableService
	Version     service.VersionService
	Approval    service.ApprovalCycle
	Pipeline    service.PipelineService
}

// ServiceDeps holds what ProvideServices needs.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Publisher port.EventPublisher
	Logger    *zap.Logger
}

// ProvideDatabase opens the SQLite file, creating its directory if needed,
// and applies the embedded migrations when AutoMigrate is set.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(conn, logger).RunMigrations(nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(conn *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Workflow:    repository.NewWorkflowRepository(conn.DB, logger),
		Deliverable: repository.NewDeliverableRepository(conn.DB, logger),
		Task:        repository.NewTaskRepository(conn.DB, logger),
		Version:     repository.NewVersionRepository(conn.DB, logger),
		Approval:    repository.NewApprovalRepository(conn.DB, logger),
	}, nil
}

// ProvideDispatcher creates the in-process event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")})), nil
}

// ProvideServices wires the application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := deps.Repos
	logger := &zapLoggerAdapter{logger: deps.Logger}

	versions := service.NewVersionService(r.Deliverable, r.Task, r.Version, deps.TxManager, deps.Publisher, logger)
	cycle := service.NewApprovalCycle(r.Deliverable, r.Task, r.Approval, r.Version, deps.TxManager, deps.Publisher, logger)

	return &ServiceBundle{
		Workflow:    service.NewWorkflowService(r.Workflow, deps.TxManager, logger),
		Deliverable: service.NewDeliverableService(r.Workflow, r.Deliverable, r.Task, r.Version, r.Approval, deps.TxManager, deps.Publisher, logger),
		Version:     versions,
		Approval:    cycle,
		Pipeline:    service.NewPipelineService(r.Deliverable, r.Task, versions, cycle, deps.TxManager, deps.Publisher, logger),
	}, nil
}

// ProvideNotifier subscribes the Lark notifier to d. It returns nil when
// Lark credentials are not configured.
func ProvideNotifier(cfg *LarkConfig, d dispatcher.Dispatcher, logger *zap.Logger) *infraLark.Notifier {
	larkCfg := infraLark.Config{AppID: cfg.AppID, AppSecret: cfg.AppSecret}
	if !larkCfg.Enabled() {
		logger.Info("Lark credentials not configured, notifications disabled")
		return nil
	}

	client := infraLark.NewClient(larkCfg, logger)
	notifier := infraLark.NewNotifier(
		infraLark.NewMessenger(client, logger),
		infraLark.NewDirectory(client, logger),
		cfg.Reviewers,
		logger,
	)
	notifier.Register(d)

	logger.Info("Lark notifications enabled", zap.Int("reviewers", len(cfg.Reviewers)))
	return notifier
}

// ProvideLarkAdapter builds the chat command adapter, or returns nil when Lark
// or chat commands are disabled.
func ProvideLarkAdapter(cfg *LarkConfig, resolver websocket.Resolver, logger *zap.Logger) *websocket.LarkAdapter {
	larkCfg := infraLark.Config{AppID: cfg.AppID, AppSecret: cfg.AppSecret}
	if !larkCfg.Enabled() || !cfg.Commands {
		return nil
	}
	if len(cfg.Reviewers) == 0 {
		logger.Warn("Lark chat commands enabled without reviewers, every command will be refused")
	}

	client := infraLark.NewClient(larkCfg, logger)
	return websocket.NewLarkAdapter(websocket.LarkAdapterConfig{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		Reviewers: cfg.Reviewers,
	}, resolver, infraLark.NewMessenger(client, logger), logger)
}

// ProvideMetrics creates the Prometheus recorder and subscribes it to d.
// It returns nil when metrics are disabled.
func ProvideMetrics(cfg *MetricsConfig, d dispatcher.Dispatcher) *metrics.Recorder {
	if !cfg.Enabled {
		return nil
	}
	rec := metrics.NewRecorder(cfg.Namespace)
	rec.Register(d)
	return rec
}

// ProvideExporter creates the history workbook exporter.
func ProvideExporter(cfg *ReportConfig, logger *zap.Logger) (*report.HistoryExporter, error) {
	return report.NewHistoryExporter(report.Config{
		Timezone:   cfg.Timezone,
		TimeFormat: cfg.TimeFormat,
	}, logger)
}

// ProvideWorkers registers the background workers. The manager is returned
// empty when workers are disabled.
func ProvideWorkers(cfg *WorkerConfig, repos *RepositoryBundle, publisher port.EventPublisher, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)
	if !cfg.Enabled {
		logger.Info("Background workers disabled")
		return manager
	}

	manager.Register(worker.NewDeadlineWorker(worker.DeadlineWorkerConfig{
		PollInterval: cfg.DeadlinePollInterval,
		Window:       cfg.DeadlineWindow,
	}, repos.Deliverable, repos.Task, publisher, logger.Named("deadline")))
	return manager
}
