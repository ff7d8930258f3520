package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/application/dispatcher"
	"github.com/garyjia/ad-pipeline/internal/application/port"
	"github.com/garyjia/ad-pipeline/internal/domain/event"
	infraLark "github.com/garyjia/ad-pipeline/internal/infrastructure/external/lark"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/metrics"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/report"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/worker"
	httpServer "github.com/garyjia/ad-pipeline/internal/interfaces/http"
	"github.com/garyjia/ad-pipeline/internal/interfaces/websocket"
	"github.com/garyjia/ad-pipeline/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Application
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Infrastructure - Outbound
	notifier *infraLark.Notifier
	metrics  *metrics.Recorder
	exporter *report.HistoryExporter

	// Background
	workers       *worker.WorkerManager
	larkAdapter   *websocket.LarkAdapter
	adapterCancel context.CancelFunc

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Database and repositories
// 2. Event dispatcher and its subscribers (metrics, Lark)
// 3. Application services
// 4. Report exporter
// 5. Background workers and the Lark chat command adapter
func (c *Container) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDispatcher(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	if err := c.initServices(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	exporter, err := ProvideExporter(&c.config.Report, c.logger.Named("report"))
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize report exporter: %w", err)
	}
	c.exporter = exporter

	c.workers = ProvideWorkers(&c.config.Worker, c.repositories,
		&asyncPublisher{dispatcher: c.dispatcher}, c.logger.Named("worker"))
	if err := c.workers.StartAll(context.WithoutCancel(ctx)); err != nil {
		c.teardown()
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.startLarkAdapter(ctx)

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown stops the workers, then waits for in-flight async handlers before
// closing the database they may still read from.
func (c *Container) teardown() []error {
	var errs []error

	if c.larkAdapter != nil {
		c.adapterCancel()
		_ = c.larkAdapter.Stop()
		c.larkAdapter = nil
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.conn != nil {
		if err := c.conn.Ping(); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.dispatcher != nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["dispatcher"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	// Lark is optional; report it without affecting the overall status.
	if c.notifier != nil {
		status.Components["lark"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["lark"] = ComponentHealth{Healthy: true, Message: "disabled"}
	}

	if c.larkAdapter != nil {
		status.Components["lark_commands"] = ComponentHealth{Healthy: c.larkAdapter.IsRunning()}
	}

	switch {
	case c.workers == nil:
		status.Components["workers"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	case c.workers.GetWorkerCount() == 0:
		status.Components["workers"] = ComponentHealth{Healthy: true, Message: "disabled"}
	default:
		status.Components["workers"] = ComponentHealth{Healthy: c.workers.IsRunning()}
		if !c.workers.IsRunning() {
			status.Overall = false
		}
	}

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.conn, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initDispatcher() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	c.metrics = ProvideMetrics(&c.config.Metrics, disp)
	c.notifier = ProvideNotifier(&c.config.Lark, disp, c.logger.Named("lark"))
	return nil
}

// startLarkAdapter runs the long connection in the background. A connection
// failure is logged and does not stop the rest of the service.
func (c *Container) startLarkAdapter(ctx context.Context) {
	adapter := ProvideLarkAdapter(&c.config.Lark, c.services.Approval, c.logger.Named("lark_ws"))
	if adapter == nil {
		return
	}

	adapterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.larkAdapter = adapter
	c.adapterCancel = cancel

	go func() {
		if err := adapter.Start(adapterCtx); err != nil && adapterCtx.Err() == nil {
			c.logger.Error("Lark chat command adapter stopped", zap.Error(err))
			_ = adapter.Stop()
		}
	}()
}

func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Publisher: &asyncPublisher{dispatcher: c.dispatcher},
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// NewHTTPServer builds the HTTP adapter over the started container.
func (c *Container) NewHTTPServer() (*httpServer.Server, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("container not started")
	}

	services := httpServer.Services{
		Workflows:    c.services.Workflow,
		Deliverables: c.services.Deliverable,
		Versions:     c.services.Version,
		Pipeline:     c.services.Pipeline,
		Approvals:    c.services.Approval,
		Exporter:     c.exporter,
	}
	if c.metrics != nil {
		services.Metrics = c.metrics
	}

	return httpServer.NewServer(httpServer.ServerConfig{
		Host:         c.config.Server.Host,
		Port:         c.config.Server.Port,
		ReadTimeout:  c.config.Server.ReadTimeout,
		WriteTimeout: c.config.Server.WriteTimeout,
	}, services, &zapLoggerAdapter{logger: c.logger.Named("http")}), nil
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Metrics returns the recorder, or nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// Exporter returns the history workbook exporter.
func (c *Container) Exporter() *report.HistoryExporter {
	return c.exporter
}

// Workers returns the background worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// asyncPublisher hands committed events to the dispatcher without waiting
// for subscribers, so a slow notification channel never delays a request.
type asyncPublisher struct {
	dispatcher dispatcher.Dispatcher
}

func (p *asyncPublisher) Publish(ctx context.Context, events ...*event.Event) error {
	p.dispatcher.PublishAsync(ctx, events...)
	return nil
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces used
// by services, the dispatcher and the HTTP adapter.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

var _ port.EventPublisher = (*asyncPublisher)(nil)
