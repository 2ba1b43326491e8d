package cachestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"imgcache/internal/storage"
)

// Type constants for snapshot backends
const (
	TypeMemory     = "memory"
	TypeLocal      = "local"
	TypeRedis      = "redis"
	TypeSQLite     = storage.TypeSQLite
	TypePostgreSQL = storage.TypePostgreSQL
	TypeMongoDB    = storage.TypeMongoDB
)

// Config selects and configures the snapshot backend.
type Config struct {
	// Type is one of memory, local, redis, sqlite, postgresql, mongodb (default: local)
	Type string

	// Key is the namespaced key the snapshot is stored under (default: imageCache)
	Key string

	// LocalPath is the JSON file used by the local backend
	LocalPath string

	// Redis configuration
	Redis RedisConfig

	// Storage configures the database connection for sqlite, postgresql and mongodb
	Storage storage.Config
}

// Result holds the initialized store and the database connection it owns.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases the store and its database connection.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the snapshot backend described by cfg.
func New(ctx context.Context, cfg Config) (*Result, error) {
	storeType := cfg.Type
	if storeType == "" {
		storeType = TypeLocal
	}

	switch storeType {
	case TypeMemory:
		slog.Info("using in-memory cache store, snapshots will not survive restarts")
		return &Result{Store: NewMemoryStore()}, nil

	case TypeLocal:
		slog.Info("using local file cache store", "path", cfg.LocalPath)
		return &Result{Store: NewLocalStore(cfg.LocalPath)}, nil

	case TypeRedis:
		redisCfg := cfg.Redis
		if redisCfg.Key == "" && cfg.Key != "" {
			redisCfg.Key = cfg.Key
		}
		store, err := NewRedisStore(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		return &Result{Store: store}, nil

	case TypeSQLite, TypePostgreSQL, TypeMongoDB:
		storageCfg := cfg.Storage
		storageCfg.Type = storeType
		conn, err := storage.New(ctx, storageCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		store, err := NewWithSharedStorage(ctx, conn, cfg.Key)
		if err != nil {
			conn.Close()
			return nil, err
		}
		slog.Info("using database cache store", "type", storeType)
		return &Result{Store: store, Storage: conn}, nil

	default:
		return nil, fmt.Errorf("unknown cache store type: %s (valid: memory, local, redis, sqlite, postgresql, mongodb)", storeType)
	}
}

// NewWithSharedStorage creates a database-backed store on an existing connection.
// The caller keeps ownership of conn.
func NewWithSharedStorage(ctx context.Context, conn storage.Storage, key string) (Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("storage is required")
	}

	switch conn.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(conn.SQLiteDB(), key)

	case storage.TypePostgreSQL:
		pool := conn.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool, key)

	case storage.TypeMongoDB:
		db := conn.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db, key)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", conn.Type())
	}
}
