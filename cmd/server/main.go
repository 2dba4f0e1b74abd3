// @title           SparkCreatives Portal API
// @version         0.1.0
// @description     Reviewer data room, donor receipts and payment webhook intake for the SparkCreatives portal
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and profiling are served on a dedicated side-channel port (default: 9090) that is separate from the main server. Configure the port with SPARK_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics. pprof (if enabled via SPARK_TELEMETRY_PROFILING_ENABLED=true) is served on SPARK_TELEMETRY_PROFILING_PORT (default: 6060) at the standard /debug/pprof/ paths. Neither endpoint is served by the Gin router.

// Package main is the entry point for the portal server binary. It dispatches
// two subcommands, serve and version, via a simple switch on os.Args so the
// binary's full CLI surface is readable in one place.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is NOT served on the main listener (Gin router).

	// It only serves on a dedicated internal port when cfg.Telemetry.Profiling.Enabled=true.
	// DefaultServeMux is never passed to the Gin HTTP server.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparkcreatives/spark-portal/internal/api"
	"github.com/sparkcreatives/spark-portal/internal/cache"
	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/sparkcreatives/spark-portal/internal/storage/azure"
	_ "github.com/sparkcreatives/spark-portal/internal/storage/gcs"
	_ "github.com/sparkcreatives/spark-portal/internal/storage/local"
	_ "github.com/sparkcreatives/spark-portal/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cfg)
	case "version":
		fmt.Printf("SparkCreatives Portal v%s\n", api.Version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", store.Name())

	ctx, stopCollectors := context.WithCancel(context.Background())
	defer stopCollectors()

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c, err = cache.New(&cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		defer c.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			// Receipts fall through to storage and webhooks skip
			// de-duplication until redis answers; /ready reports it.
			slog.Warn("cache unreachable at startup", "error", err)
		} else {
			slog.Info("connected to cache")
		}
		cancel()

		// Begin exporting redis pool statistics to Prometheus.
		telemetry.StartCacheStatsCollector(ctx, c.Client())
	} else {
		slog.Warn("cache disabled")
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			// Use http.Server with timeouts (G114: bare http.ListenAndServe has no timeout support).
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start pprof endpoint on its own port (disabled by default).
	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			srv := &http.Server{ //nolint:gosec // #nosec G112 -- internal-only pprof port, long timeouts acceptable
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux, // #nosec G108 -- not the main listener; pprof-only internal port
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, store, c)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// The data-room stream closes after portal.stream_timeout at the latest,
	// which config validation keeps below WriteTimeout.
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"api_base_url", cfg.Portal.APIBaseURL,
			"storage", store.Name(),
			"cache", c != nil,
			"tls", cfg.Security.TLS.Enabled,
		)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop rate limiter goroutines and the pool collector
	bgServices.Shutdown()
	stopCollectors()

	slog.Info("server stopped gracefully")
	return nil
}
