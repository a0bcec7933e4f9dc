// Package server assembles the HTTP surface: health, metrics and the audit API.
package server

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// Routes registers handlers under the API group.
type Routes interface {
	Register(g *echo.Group)
}

// Options configures New.
type Options struct {
	ServiceName string
	// Health registers its own top-level endpoints.
	Health interface{ RegisterRoutes(e *echo.Echo) }
	// Groups maps a path under /api/v1 to its routes.
	Groups map[string]Routes
}

// New builds the echo instance.
func New(opts Options, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if opts.ServiceName != "" {
		e.Use(otelecho.Middleware(opts.ServiceName))
	}
	e.Use(Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if opts.Health != nil {
		opts.Health.RegisterRoutes(e)
	}

	api := e.Group("/api/v1")
	for prefix, routes := range opts.Groups {
		routes.Register(api.Group(prefix))
	}
	return e
}
