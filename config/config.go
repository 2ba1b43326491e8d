// Package config provides configuration management for the application.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// with ${VAR} and ${VAR:-default} placeholders, then environment variables.
// A .env file in the working directory is loaded into the environment first
// and never overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backend names accepted in StoreConfig.Type.
const (
	StoreMemory     = "memory"
	StoreLocal      = "local"
	StoreRedis      = "redis"
	StoreSQLite     = "sqlite"
	StorePostgreSQL = "postgresql"
	StoreMongoDB    = "mongodb"
)

// defaultConfigPaths are tried in order when Load is called without a path.
var defaultConfigPaths = []string{"config/config.yaml", "config.yaml"}

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Fetcher FetcherConfig `yaml:"fetcher"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey protects the /admin routes; empty leaves them open
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit caps request bodies, in echo notation (e.g. "1M")
	BodySizeLimit string `yaml:"body_size_limit"`
}

// CacheConfig holds the image cache limits
type CacheConfig struct {
	MaxMemorySize      int64         `yaml:"max_memory_size"`
	MaxEntries         int           `yaml:"max_entries"`
	CacheDuration      time.Duration `yaml:"cache_duration"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	PreloadConcurrency int           `yaml:"preload_concurrency"`
}

// PostgreSQLMaxSnapshotBytes is the largest value a PostgreSQL TEXT column holds.
const PostgreSQLMaxSnapshotBytes = 1 << 30

// snapshotEntryOverhead approximates the JSON keys, URL and numbers stored
// next to each payload.
const snapshotEntryOverhead = 2048

// EstimatedSnapshotBytes is the worst-case size of a serialized snapshot for
// this budget. Payload size is counted as 3/4 of the data URL length, so the
// stored text is 4/3 of MaxMemorySize.
func (c CacheConfig) EstimatedSnapshotBytes() int64 {
	return c.MaxMemorySize/3*4 + int64(c.MaxEntries)*snapshotEntryOverhead
}

// StoreConfig selects where the cache snapshot is persisted
type StoreConfig struct {
	// Type is one of memory, local, redis, sqlite, postgresql, mongodb
	Type string `yaml:"type"`
	// Key is the namespaced key the snapshot is stored under
	Key        string           `yaml:"key"`
	LocalPath  string           `yaml:"local_path"`
	Redis      RedisConfig      `yaml:"redis"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// FetcherConfig controls how remote images are downloaded
type FetcherConfig struct {
	// AllowedHosts are glob patterns matched against the image host; empty allows all
	AllowedHosts  []string `yaml:"allowed_hosts"`
	MaxImageBytes int64    `yaml:"max_image_bytes"`
	UserAgent     string   `yaml:"user_agent"`

	// AllowPrivateNetworks permits fetching from loopback, private and
	// link-local addresses. Only for local development against a private CDN.
	AllowPrivateNetworks bool `yaml:"allow_private_networks"`
}

// HTTPConfig holds outbound HTTP client timeouts in seconds
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig selects the log handler
type LogConfig struct {
	// Format is "json", "text" or empty to pick by terminal detection
	Format string `yaml:"format"`
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config
	// Path is the YAML file that was read, empty when none was found
	Path string
}

// buildDefaultConfig returns the configuration used when nothing else is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
		},
		Cache: CacheConfig{
			MaxMemorySize:      200 * 1024 * 1024,
			MaxEntries:         500,
			CacheDuration:      2 * time.Hour,
			CleanupInterval:    5 * time.Minute,
			PreloadConcurrency: 8,
		},
		Store: StoreConfig{
			Type:      StoreLocal,
			Key:       "imageCache",
			LocalPath: ".cache/imageCache.json",
			SQLite: SQLiteConfig{
				Path:          ".cache/imgcache.db",
				BusyTimeoutMS: 5000,
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 4,
			},
			MongoDB: MongoDBConfig{
				Database: "imgcache",
			},
		},
		Fetcher: FetcherConfig{
			MaxImageBytes: 25 * 1024 * 1024,
			UserAgent:     "imgcache/1.0",
		},
		HTTP: HTTPConfig{
			Timeout:               60,
			ResponseHeaderTimeout: 15,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
	}
}

// Load reads configuration from .env, the YAML file at path and the environment.
// An empty path tries config/config.yaml and config.yaml; a missing default
// file is not an error, a missing explicit path is.
func Load(path string) (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := buildDefaultConfig()

	usedPath, err := readYAML(cfg, path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &LoadResult{Config: cfg, Path: usedPath}, nil
}

func readYAML(cfg *Config, path string) (string, error) {
	candidates := defaultConfigPaths
	explicit := path != ""
	if explicit {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		raw, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) && !explicit {
				continue
			}
			return "", fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := expandString(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", candidate, err)
		}
		return candidate, nil
	}
	return "", nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} placeholders.
// A variable that is unset or empty takes the default; without a default the
// placeholder is left untouched so the mistake stays visible.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]

		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides applies environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.MasterKey, "IMGCACHE_MASTER_KEY")
	setString(&cfg.Server.BodySizeLimit, "BODY_SIZE_LIMIT")

	setString(&cfg.Store.Type, "CACHE_STORE")
	setString(&cfg.Store.Key, "CACHE_STORE_KEY")
	setString(&cfg.Store.LocalPath, "CACHE_LOCAL_PATH")
	setString(&cfg.Store.Redis.URL, "REDIS_URL")
	setString(&cfg.Store.Redis.Key, "REDIS_KEY")
	setString(&cfg.Store.SQLite.Path, "SQLITE_PATH")
	setString(&cfg.Store.PostgreSQL.URL, "POSTGRES_URL")
	setString(&cfg.Store.MongoDB.URL, "MONGODB_URL")
	setString(&cfg.Store.MongoDB.Database, "MONGODB_DATABASE")

	setString(&cfg.Fetcher.UserAgent, "FETCH_USER_AGENT")
	if val := os.Getenv("FETCH_ALLOWED_HOSTS"); val != "" {
		cfg.Fetcher.AllowedHosts = splitList(val)
	}

	setString(&cfg.Metrics.Endpoint, "METRICS_ENDPOINT")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(setInt64(&cfg.Cache.MaxMemorySize, "CACHE_MAX_MEMORY_SIZE"))
	collect(setInt(&cfg.Cache.MaxEntries, "CACHE_MAX_ENTRIES"))
	collect(setDuration(&cfg.Cache.CacheDuration, "CACHE_DURATION"))
	collect(setDuration(&cfg.Cache.CleanupInterval, "CACHE_CLEANUP_INTERVAL"))
	collect(setInt(&cfg.Cache.PreloadConcurrency, "CACHE_PRELOAD_CONCURRENCY"))
	collect(setInt(&cfg.Store.SQLite.BusyTimeoutMS, "SQLITE_BUSY_TIMEOUT_MS"))
	collect(setInt(&cfg.Store.PostgreSQL.MaxConns, "POSTGRES_MAX_CONNS"))
	collect(setInt64(&cfg.Fetcher.MaxImageBytes, "FETCH_MAX_IMAGE_BYTES"))
	collect(setBool(&cfg.Fetcher.AllowPrivateNetworks, "FETCH_ALLOW_PRIVATE_NETWORKS"))
	collect(setInt(&cfg.HTTP.Timeout, "HTTP_TIMEOUT"))
	collect(setInt(&cfg.HTTP.ResponseHeaderTimeout, "HTTP_RESPONSE_HEADER_TIMEOUT"))
	collect(setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED"))

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not an integer", key, val)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not an integer", key, val)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a boolean", key, val)
	}
	*dst = b
	return nil
}

// setDuration accepts plain integers as seconds or Go duration strings ("90m").
func setDuration(dst *time.Duration, key string) error {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a duration", key, val)
	}
	*dst = d
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	if c.Cache.MaxMemorySize <= 0 {
		errs = append(errs, errors.New("cache.max_memory_size must be positive"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.CacheDuration <= 0 {
		errs = append(errs, errors.New("cache.cache_duration must be positive"))
	}
	if c.Cache.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cache.cleanup_interval must be positive"))
	}
	if c.Cache.PreloadConcurrency <= 0 {
		errs = append(errs, errors.New("cache.preload_concurrency must be positive"))
	}

	switch c.Store.Type {
	case StoreMemory, StoreLocal, StoreSQLite:
	case StoreRedis:
		if c.Store.Redis.URL == "" {
			errs = append(errs, errors.New("store.redis.url is required for the redis store"))
		}
	case StorePostgreSQL:
		if c.Store.PostgreSQL.URL == "" {
			errs = append(errs, errors.New("store.postgresql.url is required for the postgresql store"))
		}
		if size := c.Cache.EstimatedSnapshotBytes(); size > PostgreSQLMaxSnapshotBytes {
			errs = append(errs, fmt.Errorf("cache budget produces snapshots up to %d bytes, above the postgresql limit of %d; lower cache.max_memory_size", size, PostgreSQLMaxSnapshotBytes))
		}
	case StoreMongoDB:
		if c.Store.MongoDB.URL == "" {
			errs = append(errs, errors.New("store.mongodb.url is required for the mongodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.type %q (valid: memory, local, redis, sqlite, postgresql, mongodb)", c.Store.Type))
	}

	if c.Fetcher.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("fetcher.max_image_bytes must be positive"))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("metrics.endpoint must start with '/', got %q", c.Metrics.Endpoint))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q (valid: json, text)", c.Log.Format))
	}
	if c.Log.Level != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
