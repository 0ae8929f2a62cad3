package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lanternhq/lantern/pkg/observability"
)

// Storage backend types.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Decision cache backends.
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Audit sink types.
const (
	AuditNone = "none"
	AuditFile = "file"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Cache configuration for access decisions
	Cache CacheConfig

	// Audit trail configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Max accepted request body size in bytes
	MaxBodyBytes int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Trust X-Lantern-* identity headers. Development and tests only.
	TrustIdentityHeaders bool
}

// StorageConfig holds hierarchy and assignment storage configuration
type StorageConfig struct {
	Type string // "memory" or "postgres"

	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Type string // "none", "lru" or "redis"

	LRUSize int
	TTL     time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	Type string // "none" or "file"

	FilePath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	// Cron expression for the periodic invariant audit. Empty disables it.
	JanitorSchedule string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:                 getEnv("LANTERN_HOST", "0.0.0.0"),
		Port:                 getEnv("LANTERN_PORT", "8080"),
		ReadTimeout:          getEnvDuration("LANTERN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:         getEnvDuration("LANTERN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:          getEnvDuration("LANTERN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:      getEnvDuration("LANTERN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:         getEnvInt64("LANTERN_MAX_BODY_BYTES", 1<<20),
		HealthPort:           getEnv("LANTERN_HEALTH_PORT", "9090"),
		TrustIdentityHeaders: getEnvBool("LANTERN_TRUST_IDENTITY_HEADERS", false),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             getEnv("LANTERN_STORAGE_TYPE", StorageMemory),
		PostgresURL:      getEnv("LANTERN_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("LANTERN_POSTGRES_MAX_CONNS", 10),
		PostgresTimeout:  getEnvDuration("LANTERN_POSTGRES_TIMEOUT", 5*time.Second),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Type:          getEnv("LANTERN_CACHE_TYPE", CacheLRU),
		LRUSize:       getEnvInt("LANTERN_CACHE_LRU_SIZE", 4096),
		TTL:           getEnvDuration("LANTERN_CACHE_TTL", 30*time.Second),
		RedisURL:      getEnv("LANTERN_REDIS_URL", ""),
		RedisPassword: getEnv("LANTERN_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("LANTERN_REDIS_DB", 0),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Type:     getEnv("LANTERN_AUDIT_TYPE", AuditNone),
		FilePath: getEnv("LANTERN_AUDIT_PATH", "/var/log/lantern/audit"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:        observability.ParseLogLevel(getEnv("LANTERN_LOG_LEVEL", "info")),
		MetricsEnabled:  getEnvBool("LANTERN_METRICS_ENABLED", true),
		JanitorSchedule: getEnv("LANTERN_JANITOR_SCHEDULE", "@every 5m"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Cache.Type {
	case CacheNone:
	case CacheLRU:
		if c.Cache.LRUSize <= 0 {
			return fmt.Errorf("LRU cache size must be positive")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
	default:
		return fmt.Errorf("invalid cache type: %s (must be none, lru, or redis)", c.Cache.Type)
	}

	switch c.Audit.Type {
	case AuditNone:
	case AuditFile:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit path is required for file audit")
		}
	default:
		return fmt.Errorf("invalid audit type: %s (must be none or file)", c.Audit.Type)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
