// Package server hosts the HTTP endpoints: the WebSocket upgrade, health
// and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	appmiddleware "github.com/nfrund/chaats/internal/middleware"
)

// HealthChecker reports whether a backing service is usable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SessionHandler serves the WebSocket endpoint and can drain its sessions.
type SessionHandler interface {
	Upgrade(c echo.Context) error
	Shutdown(ctx context.Context) error
}

// Config holds the server settings.
type Config struct {
	Addr             string
	UpgradeRateLimit float64
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	cfg      Config
	sessions SessionHandler
	health   HealthChecker
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New creates a Server and registers its routes. reg is exposed on /metrics
// and also receives the HTTP request collectors.
func New(cfg Config, sessions SessionHandler, health HealthChecker, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		E:        e,
		cfg:      cfg,
		sessions: sessions,
		health:   health,
		registry: reg,
		logger:   logger.With("component", "server"),
	}

	setupErrorHandling(e, s.logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger(s.logger))
	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.E
}

func (s *Server) healthz(c echo.Context) error {
	if s.health != nil {
		if err := s.health.Ping(c.Request().Context()); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// setupErrorHandling logs unhandled errors with a stack trace and answers
// them with a plain status. HTTP errors raised on purpose pass through.
func setupErrorHandling(e *echo.Echo, logger *slog.Logger) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if he.Internal != nil {
				logger.Warn("HTTP error", "status", he.Code, "path", c.Path(), "error", he.Internal)
			}
			_ = c.JSON(he.Code, map[string]any{"error": he.Message})
			return
		}

		logger.Error("Internal Server Error (Unhandled)",
			"path", c.Request().URL.Path,
			"error", err.Error(),
			"stack_trace", stackTrace(),
		)
		_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
	}
}
