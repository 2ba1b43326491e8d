// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the image cache service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"imgcache/config"
	"imgcache/internal/cachestore"
	"imgcache/internal/fetcher"
	"imgcache/internal/httpclient"
	"imgcache/internal/imagecache"
	"imgcache/internal/server"
	"imgcache/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config *config.Config
	store  *cachestore.Result
	cache  *imagecache.Cache
	server *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the result of config.Load.
	AppConfig *config.LoadResult

	// Fetcher replaces the HTTP fetcher when set. Used by tests.
	Fetcher fetcher.Fetcher
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{config: appCfg}

	storeResult, err := cachestore.New(ctx, storeConfig(appCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}
	app.store = storeResult

	f := cfg.Fetcher
	if f == nil {
		client := httpclient.NewHTTPClient(clientConfig(appCfg))
		f, err = fetcher.New(client, fetcher.Config{
			MaxImageBytes: appCfg.Fetcher.MaxImageBytes,
			AllowedHosts:  appCfg.Fetcher.AllowedHosts,
			UserAgent:     appCfg.Fetcher.UserAgent,
		})
		if err != nil {
			closeErr := app.store.Close()
			return nil, errors.Join(fmt.Errorf("failed to initialize fetcher: %w", err), closeErr)
		}
	}

	cache, err := imagecache.New(ctx, storeResult.Store, f, cacheOptions(appCfg))
	if err != nil {
		closeErr := app.store.Close()
		return nil, errors.Join(fmt.Errorf("failed to initialize image cache: %w", err), closeErr)
	}
	app.cache = cache

	app.logStartupInfo()

	app.server = server.New(cache, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
	})

	return app, nil
}

func storeConfig(cfg *config.Config) cachestore.Config {
	return cachestore.Config{
		Type:      cfg.Store.Type,
		Key:       cfg.Store.Key,
		LocalPath: cfg.Store.LocalPath,
		Redis: cachestore.RedisConfig{
			URL: cfg.Store.Redis.URL,
			Key: cfg.Store.Redis.Key,
			TTL: cfg.Cache.CacheDuration,
		},
		Storage: storage.Config{
			SQLite: storage.SQLiteConfig{
				Path:          cfg.Store.SQLite.Path,
				BusyTimeoutMS: cfg.Store.SQLite.BusyTimeoutMS,
			},
			PostgreSQL: storage.PostgreSQLConfig{
				URL:      cfg.Store.PostgreSQL.URL,
				MaxConns: cfg.Store.PostgreSQL.MaxConns,
			},
			MongoDB: storage.MongoDBConfig{
				URL:      cfg.Store.MongoDB.URL,
				Database: cfg.Store.MongoDB.Database,
			},
		},
	}
}

func cacheOptions(cfg *config.Config) imagecache.Options {
	opts := imagecache.DefaultOptions()
	opts.MaxMemorySize = cfg.Cache.MaxMemorySize
	opts.MaxEntries = cfg.Cache.MaxEntries
	opts.CacheDuration = cfg.Cache.CacheDuration
	opts.CleanupInterval = cfg.Cache.CleanupInterval
	opts.PreloadConcurrency = cfg.Cache.PreloadConcurrency
	return opts
}

func clientConfig(cfg *config.Config) *httpclient.ClientConfig {
	clientCfg := httpclient.DefaultConfig()
	clientCfg.AllowPrivateNetworks = cfg.Fetcher.AllowPrivateNetworks
	if cfg.HTTP.Timeout > 0 {
		clientCfg.Timeout = time.Duration(cfg.HTTP.Timeout) * time.Second
	}
	if cfg.HTTP.ResponseHeaderTimeout > 0 {
		clientCfg.ResponseHeaderTimeout = time.Duration(cfg.HTTP.ResponseHeaderTimeout) * time.Second
	}
	return &clientCfg
}

func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("image cache ready",
		"store", a.store.Store.Name(),
		"max_memory_size", cfg.Cache.MaxMemorySize,
		"max_entries", cfg.Cache.MaxEntries,
		"cache_duration", cfg.Cache.CacheDuration,
		"cleanup_interval", cfg.Cache.CleanupInterval,
	)

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: IMGCACHE_MASTER_KEY not set - admin routes are unprotected")
	} else {
		slog.Info("authentication enabled", "mode", "master_key", "scope", "/admin")
	}

	if cfg.Fetcher.AllowPrivateNetworks {
		slog.Warn("SECURITY WARNING: fetcher.allow_private_networks is on - image URLs may reach internal addresses")
	}

	if len(cfg.Fetcher.AllowedHosts) > 0 {
		slog.Info("image host allow-list enabled", "patterns", cfg.Fetcher.AllowedHosts)
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}
}

// Cache returns the image cache.
func (a *App) Cache() *imagecache.Cache {
	return a.cache
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. Image cache close (stops the expiration sweep).
// 3. Cache store close (releases Redis or database connections).
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("image cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("cache store close error", "error", err)
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application shutdown complete")
	return nil
}
