// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing
// for the Evertide import service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("import_id", id).Info("batch applied")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.EventsImportedTotal.WithLabelValues("ampere").Add(float64(n))
//	metrics.BatchDuration.WithLabelValues("ampere").Observe(elapsed.Seconds())
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	mux.HandleFunc("/health/ready", checker.Readiness)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/pipeline: Batch processing spans
package observability
