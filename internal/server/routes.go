package server

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"

	appmiddleware "github.com/nfrund/chaats/internal/middleware"
)

const metricsPath = "/metrics"

func (s *Server) registerRoutes() {
	if s.registry != nil {
		s.E.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "chaats",
			Subsystem:  "http",
			Registerer: s.registry,
			Skipper: func(c echo.Context) bool {
				return c.Path() == metricsPath
			},
		}))
		s.E.GET(metricsPath, echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: s.registry,
		}))
	}

	s.E.GET("/healthz", s.healthz)
	if s.sessions != nil {
		s.E.GET("/ws", s.sessions.Upgrade, appmiddleware.RateLimiter(s.cfg.UpgradeRateLimit))
	}
}
