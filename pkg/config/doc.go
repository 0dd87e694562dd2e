// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	EVERTIDE_HOST="0.0.0.0"
//	EVERTIDE_PORT="8080"
//	EVERTIDE_HEALTH_PORT="9090"
//	EVERTIDE_READ_TIMEOUT="15s"
//	EVERTIDE_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	EVERTIDE_POSTGRES_URL="postgres://localhost/evertide"
//	EVERTIDE_POSTGRES_REPLICA_URLS="postgres://replica1/evertide,postgres://replica2/evertide"
//	EVERTIDE_POSTGRES_MAX_CONNS="20"
//
// Import settings:
//
//	EVERTIDE_OPEN_IMPORT_LIMIT="1"
//	EVERTIDE_QUOTA_BACKEND="memory"  # memory, redis
//	EVERTIDE_REDIS_URL="redis://localhost:6379"
//
// Tier settings:
//
//	EVERTIDE_TIER_SOURCE="postgres"  # postgres, file
//	EVERTIDE_TIER_FILE="/etc/evertide/tiers.yaml"
//	EVERTIDE_TIER_CACHE_SIZE="1024"
//	EVERTIDE_TIER_CACHE_TTL="5m"
//
// Janitor settings:
//
//	EVERTIDE_JANITOR_ENABLED="false"
//	EVERTIDE_JANITOR_SCHEDULE="0 * * * *"
//	EVERTIDE_JANITOR_STALE_AGE="48h"
//
// Observability settings:
//
//	EVERTIDE_LOG_LEVEL="info"  # debug, info, warn, error
//	EVERTIDE_METRICS_ENABLED="true"
//	EVERTIDE_OTEL_ENABLED="false"
//	EVERTIDE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Quota backend: %s\n", cfg.Quota.Backend)
package config
