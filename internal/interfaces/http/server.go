// Package http provides the HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ad-pipeline/internal/application/service"
	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/infrastructure/report"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HistoryExporter renders a deliverable history as a downloadable file
type HistoryExporter interface {
	FileName(d *entity.Deliverable) string
	Write(w io.Writer, h report.History) error
}

// MetricsRecorder is the part of the metrics package the server uses
type MetricsRecorder interface {
	Middleware() gin.HandlerFunc
	Handler() http.Handler
	RecordError(err error)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Services bundles the application services exposed over HTTP.
// Exporter and Metrics are optional.
type Services struct {
	Workflows    service.WorkflowService
	Deliverables service.DeliverableService
	Versions     service.VersionService
	Pipeline     service.PipelineService
	Approvals    service.ApprovalCycle
	Exporter     HistoryExporter
	Metrics      MetricsRecorder
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.services.Metrics != nil {
		s.router.Use(s.services.Metrics.Middleware())
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.services.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.services.Metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.POST("/workflows", h.DefineWorkflow)
		api.GET("/workflows", h.ListWorkflows)
		api.GET("/workflows/:id", h.GetWorkflow)

		api.POST("/deliverables", h.CreateDeliverable)
		api.GET("/deliverables", h.ListDeliverables)
		api.GET("/deliverables/:id", h.GetDeliverable)
		api.GET("/deliverables/:id/tasks/unlocked", h.GetUnlockedTasks)
		api.POST("/deliverables/:id/versions", h.AddVersion)
		api.GET("/deliverables/:id/versions", h.ListVersions)
		api.GET("/deliverables/:id/history", h.GetHistory)
		if s.services.Exporter != nil {
			api.GET("/deliverables/:id/history.xlsx", h.ExportHistory)
		}
		api.POST("/deliverables/:id/publish", h.Publish)

		api.POST("/versions/:id/final", h.MarkFinal)

		api.POST("/tasks/:id/submit", h.SubmitForApproval)
		api.GET("/tasks/:id/approvals", h.ListApprovals)

		api.POST("/approvals/:id/resolve", h.ResolveApproval)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
