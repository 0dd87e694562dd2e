package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/evertide/evertide/pkg/api"
	"github.com/evertide/evertide/pkg/config"
	"github.com/evertide/evertide/pkg/events"
	"github.com/evertide/evertide/pkg/imports"
	"github.com/evertide/evertide/pkg/janitor"
	"github.com/evertide/evertide/pkg/observability"
	"github.com/evertide/evertide/pkg/pipeline"
	"github.com/evertide/evertide/pkg/platforms"
	"github.com/evertide/evertide/pkg/quota"
	"github.com/evertide/evertide/pkg/sites"
	"github.com/evertide/evertide/pkg/storage/postgres"
	"github.com/evertide/evertide/pkg/tiers"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	// Database
	connMgr, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.PostgresReplicaURLs),
		MaxConns:    cfg.Storage.MaxConns,
		MinConns:    cfg.Storage.MinConns,
		Timeout:     cfg.Storage.ConnTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := postgres.RunMigrations(ctx, connMgr.Primary(), logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	connMgr.StartHealthCheckRoutine(healthCtx, 30*time.Second)

	// Redis is only opened when the quota backend needs it
	var redisClient *redis.Client
	if cfg.Quota.Backend == config.QuotaBackendRedis {
		opts, err := redis.ParseURL(cfg.Quota.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		if cfg.Quota.RedisPassword != "" {
			opts.Password = cfg.Quota.RedisPassword
		}
		opts.DB = cfg.Quota.RedisDB
		opts.PoolSize = cfg.Quota.RedisPoolSize

		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	// Plan tier resolution, cached in front of the configured source
	var tierSource tiers.Resolver
	switch cfg.Tiers.Source {
	case config.TierSourceFile:
		fileResolver, err := tiers.NewFileResolver(cfg.Tiers.FilePath, logger)
		if err != nil {
			return fmt.Errorf("failed to load tier file: %w", err)
		}
		defer fileResolver.Close()
		tierSource = fileResolver
	default:
		tierSource = tiers.NewPostgresResolver(connMgr.Replica())
	}
	tierResolver := tiers.NewCachedResolver(tierSource, cfg.Tiers.CacheSize, cfg.Tiers.CacheTTL)

	quotas := quota.NewRegistry(func(ctx context.Context, orgID uuid.UUID) (quota.Tracker, error) {
		plan, err := tierResolver.Resolve(ctx, orgID)
		if err != nil {
			return nil, err
		}
		oldest := plan.OldestAllowedMonth(time.Now().UTC())
		if redisClient != nil {
			return quota.NewRedisTracker(redisClient, orgID, plan.MonthlyEventLimit, oldest, nil), nil
		}
		return quota.NewMemoryTracker(plan.MonthlyEventLimit, oldest, nil), nil
	})

	// Metrics and tracing
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	go func() {
		defer observability.RecoverPanic(logger, "db-stats")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-healthCtx.Done():
				return
			case <-ticker.C:
				stats := connMgr.Stats()
				metrics.DBConnectionsActive.Set(float64(stats.InUse))
				metrics.DBConnectionsIdle.Set(float64(stats.Idle))
				metrics.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
			}
		}
	}()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	// Core services
	importService := imports.NewPostgresService(connMgr.Primary(), cfg.Imports.OpenImportLimit)
	eventStore := events.NewPostgresStore(connMgr.Primary())
	siteDirectory := sites.NewPostgresDirectory(connMgr.Replica())

	importPipeline := pipeline.New(pipeline.Options{
		Imports:   importService,
		Events:    eventStore,
		Sites:     siteDirectory,
		Tiers:     tierResolver,
		Quotas:    quotas,
		Platforms: platforms.NewRegistry(),
		Logger:    logger,
		Metrics:   metrics,
	})

	// API server
	router := mux.NewRouter()
	router.Use(observability.PanicMiddleware(logger))
	router.Use(requestIDMiddleware(logger))
	router.Use(metrics.HTTPMiddleware)

	handlers := api.NewImportHandlers(importPipeline, nil, logger)
	handlers.RegisterRoutes(router)

	var apiHandler http.Handler = router
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(router, "evertide")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server on a separate port for probes
	healthChecker := observability.NewHealthChecker(connMgr.Primary(), redisClient)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/health/live", healthChecker.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/health/ready", healthChecker.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelHealth()
		return connMgr.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if cfg.Janitor.Enabled {
		sweeper := janitor.New(importService, quotas, logger, janitor.Config{
			Schedule: cfg.Janitor.Schedule,
			StaleAge: cfg.Janitor.StaleAge,
			Abandon:  cfg.Janitor.Abandon,
		})
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start janitor: %w", err)
		}
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		})
	}

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("Import API listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	return group.Wait()
}

// requestIDMiddleware assigns each request an id and a logger carrying it
func requestIDMiddleware(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := observability.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger.WithField("request_id", requestID))
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
