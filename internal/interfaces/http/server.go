// Package http provides the HTTP adapter over the workflow engine and
// services. It is a thin translation layer; all semantics live below it.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/engine"
	"github.com/workstream-io/workstream/internal/application/service"
)

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

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates a new HTTP server wired to the engine and services
func NewServer(
	config ServerConfig,
	eng engine.Engine,
	templates service.TemplateService,
	processes service.ProcessService,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes(eng, templates, processes)

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(eng engine.Engine, templates service.TemplateService, processes service.ProcessService) {
	handlers := NewHandlers(eng, templates, processes, s.logger)

	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api/v1")
	{
		api.POST("/templates", handlers.CreateTemplate)
		api.GET("/templates", handlers.ListTemplates)
		api.GET("/templates/:id", handlers.GetTemplate)
		api.PUT("/templates/:id/versions/:version", handlers.UpdateTemplate)
		api.POST("/templates/:id/versions/:version/publish", handlers.PublishTemplate)
		api.POST("/templates/:id/versions", handlers.NewTemplateVersion)

		api.POST("/processes", handlers.CreateProcess)
		api.GET("/processes", handlers.ListProcesses)
		api.GET("/processes/:id", handlers.GetProcess)
		api.GET("/processes/:id/steps", handlers.ListProcessSteps)
		api.GET("/processes/:id/history", handlers.GetProcessHistory)
		api.POST("/processes/:id/start", handlers.StartProcess)
		api.POST("/processes/:id/cancel", handlers.CancelProcess)

		api.POST("/steps/:id/complete", handlers.CompleteStep)
		api.POST("/steps/:id/claim", handlers.ClaimStep)
		api.POST("/steps/:id/assign", handlers.AssignStep)
		api.POST("/steps/:id/reassign", handlers.ReassignStep)
		api.POST("/steps/:id/skip", handlers.SkipStep)
		api.POST("/steps/:id/escalate", handlers.EscalateStep)

		api.POST("/maintenance/escalate-overdue", handlers.EscalateOverdue)
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

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
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
