// Package server exposes the image cache over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBodySizeLimit caps request bodies when Config.BodySizeLimit is empty.
const DefaultBodySizeLimit = "1M"

const defaultMetricsPath = "/metrics"

// reservedPrefixes are route trees the metrics endpoint may not shadow.
var reservedPrefixes = []string{"/v1", "/admin"}

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: protects /admin routes
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   string // Max request body size, e.g. "1M" (default: 1M)
}

// New creates a new HTTP server
func New(cache ImageService, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(cache)

	// Global middleware stack (order matters)
	e.Use(RequestIDMiddleware())
	e.Use(RequestLogger())
	e.Use(middleware.Recover())

	bodySizeLimit := cfg.BodySizeLimit
	if bodySizeLimit == "" {
		bodySizeLimit = DefaultBodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath(cfg.MetricsEndpoint), echo.WrapHandler(promhttp.Handler()))
	}

	// Image routes
	v1 := e.Group("/v1")
	v1.GET("/images", handler.GetImage)
	v1.GET("/images/raw", handler.GetImageRaw)
	v1.POST("/images/preload", handler.Preload)

	// Operator routes
	admin := e.Group("/admin/v1", AuthMiddleware(cfg.MasterKey))
	admin.GET("/cache/stats", handler.Stats)
	admin.DELETE("/cache", handler.Clear)
	admin.POST("/cache/sweep", handler.Sweep)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// metricsPath normalizes the configured endpoint. Paths that would shadow API
// routes fall back to the default.
func metricsPath(endpoint string) string {
	if endpoint == "" {
		return defaultMetricsPath
	}
	p := path.Clean("/" + endpoint)
	for _, prefix := range reservedPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			slog.Warn("metrics endpoint overlaps API routes, using default",
				"configured", endpoint,
				"using", defaultMetricsPath,
			)
			return defaultMetricsPath
		}
	}
	return p
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
