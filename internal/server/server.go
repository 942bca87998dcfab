// Package server provides the HTTP control surface for protocold.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/orchestrator"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes project and protocol operations over HTTP.
type Server struct {
	echo   *echo.Echo
	store  store.Store
	disp   *orchestrator.Dispatcher
	logger *logging.Logger
	config *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(st store.Store, disp *orchestrator.Dispatcher, logger *logging.Logger, cfg *Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if disp == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8321,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			// Thread the request ID through to every log line handlers emit.
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		store:  st,
		disp:   disp,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/projects", s.handleCreateProject)
	v1.GET("/projects/:id", s.handleGetProject)

	v1.POST("/protocols", s.handleCreateProtocol)
	v1.GET("/protocols/:id", s.handleGetProtocol)
	v1.POST("/protocols/:id/plan", s.handlePlanProtocol)
	v1.POST("/protocols/:id/start", s.handleStartProtocol)
	v1.POST("/protocols/:id/pause", s.handlePauseProtocol)
	v1.POST("/protocols/:id/resume", s.handleResumeProtocol)
	v1.POST("/protocols/:id/cancel", s.handleCancelProtocol)
	v1.GET("/protocols/:id/feedback", s.handleListFeedback)

	v1.POST("/steps/:id/retry", s.handleRetryStep)
	v1.POST("/steps/result", s.handleStepResult)

	v1.POST("/webhooks/ci", s.handleCIWebhook)
}

// Echo exposes the underlying router so callers can mount extra routes,
// notably the metrics endpoint.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
