package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/evertide/evertide/pkg/observability"
)

// Quota backend selection
const (
	QuotaBackendMemory = "memory"
	QuotaBackendRedis  = "redis"
)

// Tier table sources
const (
	TierSourcePostgres = "postgres"
	TierSourceFile     = "file"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Imports       ImportsConfig
	Quota         QuotaConfig
	Tiers         TiersConfig
	Janitor       JanitorConfig
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds relational store configuration
type StorageConfig struct {
	PostgresURL         string
	PostgresReplicaURLs string
	MaxConns            int
	MinConns            int
	ConnTimeout         time.Duration
}

// ImportsConfig holds admission gate settings
type ImportsConfig struct {
	// OpenImportLimit is the maximum open imports per organization
	OpenImportLimit int
}

// QuotaConfig selects and configures the quota usage store
type QuotaConfig struct {
	Backend       string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// TiersConfig selects the plan tier source
type TiersConfig struct {
	Source    string
	FilePath  string
	CacheSize int
	CacheTTL  time.Duration
}

// JanitorConfig holds the stale-import sweep settings
type JanitorConfig struct {
	Enabled  bool
	Schedule string
	StaleAge time.Duration
	// Abandon completes stale imports instead of only reporting them
	Abandon bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("EVERTIDE_HOST", "0.0.0.0"),
			Port:            getEnv("EVERTIDE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("EVERTIDE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("EVERTIDE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("EVERTIDE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("EVERTIDE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("EVERTIDE_HEALTH_PORT", "9090"),
		},
		Storage: StorageConfig{
			PostgresURL:         getEnv("EVERTIDE_POSTGRES_URL", ""),
			PostgresReplicaURLs: getEnv("EVERTIDE_POSTGRES_REPLICA_URLS", ""),
			MaxConns:            getEnvInt("EVERTIDE_POSTGRES_MAX_CONNS", 20),
			MinConns:            getEnvInt("EVERTIDE_POSTGRES_MIN_CONNS", 2),
			ConnTimeout:         getEnvDuration("EVERTIDE_POSTGRES_TIMEOUT", 5*time.Second),
		},
		Imports: ImportsConfig{
			OpenImportLimit: getEnvInt("EVERTIDE_OPEN_IMPORT_LIMIT", 1),
		},
		Quota: QuotaConfig{
			Backend:       getEnv("EVERTIDE_QUOTA_BACKEND", QuotaBackendMemory),
			RedisURL:      getEnv("EVERTIDE_REDIS_URL", ""),
			RedisPassword: getEnv("EVERTIDE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("EVERTIDE_REDIS_DB", 0),
			RedisPoolSize: getEnvInt("EVERTIDE_REDIS_POOL_SIZE", 10),
		},
		Tiers: TiersConfig{
			Source:    getEnv("EVERTIDE_TIER_SOURCE", TierSourcePostgres),
			FilePath:  getEnv("EVERTIDE_TIER_FILE", ""),
			CacheSize: getEnvInt("EVERTIDE_TIER_CACHE_SIZE", 1024),
			CacheTTL:  getEnvDuration("EVERTIDE_TIER_CACHE_TTL", 5*time.Minute),
		},
		Janitor: JanitorConfig{
			Enabled:  getEnvBool("EVERTIDE_JANITOR_ENABLED", false),
			Schedule: getEnv("EVERTIDE_JANITOR_SCHEDULE", "0 * * * *"),
			StaleAge: getEnvDuration("EVERTIDE_JANITOR_STALE_AGE", 48*time.Hour),
			Abandon:  getEnvBool("EVERTIDE_JANITOR_ABANDON", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("EVERTIDE_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("EVERTIDE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("EVERTIDE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("EVERTIDE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("EVERTIDE_OTEL_SERVICE_NAME", "evertide"),
			OTelServiceVersion: getEnv("EVERTIDE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("EVERTIDE_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
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

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Imports.OpenImportLimit < 1 {
		return fmt.Errorf("open import limit must be at least 1")
	}

	switch c.Quota.Backend {
	case QuotaBackendMemory:
	case QuotaBackendRedis:
		if c.Quota.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis quota backend")
		}
	default:
		return fmt.Errorf("invalid quota backend: %s (must be memory or redis)", c.Quota.Backend)
	}

	switch c.Tiers.Source {
	case TierSourcePostgres:
	case TierSourceFile:
		if c.Tiers.FilePath == "" {
			return fmt.Errorf("tier file path is required for the file tier source")
		}
	default:
		return fmt.Errorf("invalid tier source: %s (must be postgres or file)", c.Tiers.Source)
	}

	if c.Janitor.Enabled && c.Janitor.StaleAge <= 0 {
		return fmt.Errorf("janitor stale age must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
