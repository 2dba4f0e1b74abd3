// Package api wires together all HTTP routes for the SparkCreatives portal.
//
// Route grouping:
//   - System routes (/health, /ready, /version) are unauthenticated and are not
//     rate limited so orchestrator health checks never see a 429.
//   - JSON and file routes live under /api/v1/ and carry the API security
//     header profile: data-room documents, signed files, receipt and annual
//     statement PDFs, and ledger reconciliation. Receipt PDFs may be framed
//     by the portal pages.
//   - Server-rendered pages (/, /dashboard/, /reviewer/, /donations/) carry the
//     portal profile, whose CSP lets the receipt viewer frame the API origin and
//     lets the data-room panel stream from the same origin.
//   - The Square webhook has its own per-source limiter, shared through redis
//     when the cache is enabled, independent of security.rate_limiting.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/api/documents"
	"github.com/sparkcreatives/spark-portal/internal/api/files"
	"github.com/sparkcreatives/spark-portal/internal/api/receipts"
	reconapi "github.com/sparkcreatives/spark-portal/internal/api/reconciliation"
	"github.com/sparkcreatives/spark-portal/internal/api/webhooks"
	"github.com/sparkcreatives/spark-portal/internal/cache"
	"github.com/sparkcreatives/spark-portal/internal/config"
	"github.com/sparkcreatives/spark-portal/internal/dataroom"
	"github.com/sparkcreatives/spark-portal/internal/middleware"
	"github.com/sparkcreatives/spark-portal/internal/reconciliation"
	"github.com/sparkcreatives/spark-portal/internal/storage"
	"github.com/sparkcreatives/spark-portal/internal/web"
)

// Version is the application version reported by /version. Release builds
// override it with -ldflags "-X github.com/sparkcreatives/spark-portal/internal/api.Version=...".
var Version = "0.1.0"

// readinessProbeKey is a known-absent object; Exists on it exercises
// authentication and connectivity without creating state.
const readinessProbeKey = ".readiness-probe"

// BackgroundServices holds references to background resources that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. c may be nil when the
// cache is disabled; receipts are then always read from storage and webhook
// deliveries are not de-duplicated.
func NewRouter(cfg *config.Config, store storage.Storage, c *cache.Cache) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	pages, err := web.NewHandler(cfg.Portal, dataroom.NewClient(cfg.Portal.APIBaseURL, cfg.Portal.DefaultOrg, cfg.Portal.RequestTimeout))
	if err != nil {
		return nil, nil, err
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins))

	apiHeaders := middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.CORS.AllowedOrigins...))
	pageHeaders := middleware.SecurityHeadersMiddleware(middleware.PortalSecurityHeadersConfig(cfg.Portal.APIBaseURL))

	// System routes
	system := router.Group("/", apiHeaders)
	system.GET("/health", healthCheckHandler(cfg, store, c))
	system.GET("/ready", readinessHandler(store, c))
	system.GET("/version", versionHandler())

	// General request limiter for pages and API routes
	var general []gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			rlCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			rlCfg.BurstSize = cfg.Security.RateLimiting.Burst
		}
		general = append(general, middleware.RateLimitMiddleware(bg.limiter(c, rlCfg), middleware.RateLimitOptions{Scope: "portal"}))
	}

	// API v1
	v1 := router.Group("/api/v1", append([]gin.HandlerFunc{apiHeaders}, general...)...)
	{
		v1.GET("/data-room/documents", documents.ListHandler(store, cfg))

		if src, ok := store.(files.Source); ok {
			v1.GET("/files/*key", files.ServeHandler(src))
		}

		var receiptCache, statementCache receipts.Cache
		if c != nil {
			receiptCache = cache.NewReceiptStore(c, cfg.Receipts.CacheTTL)
			statementCache = cache.NewStatementStore(c, cfg.Receipts.StatementCacheTTL)
		}
		receiptHandler := receipts.NewHandler(store, receiptCache, cfg.Receipts.PathPrefix)
		v1.GET("/donations/:donationId/receipt.pdf", receiptHandler.GetReceipt)
		statementHandler := receipts.NewStatementHandler(store, statementCache, cfg.Receipts.StatementPrefix)
		v1.GET("/donors/:donorId/statement/:year", statementHandler.GetStatement)

		reconHandler := reconapi.NewHandler(reconciliation.NewService(store, cfg.Reconciliation.PathPrefix))
		v1.POST("/reconciliation/run", reconHandler.Run)
		v1.GET("/reconciliation/latest", reconHandler.Latest)
	}

	// Square webhook
	squareCfg := cfg.Webhooks.Square
	var idem webhooks.Idempotency
	if c != nil {
		idem = cache.NewIdempotency(c, "square", squareCfg.IdempotencyTTL, squareCfg.LockTTL)
	} else {
		slog.Warn("cache disabled: Square webhook deliveries will not be de-duplicated")
	}
	if squareCfg.SignatureKey == "" || squareCfg.NotificationURL == "" {
		slog.Warn("Square webhook signature verification is disabled; set webhooks.square.signature_key and notification_url")
	}
	squareHandler := webhooks.NewSquareHandler(squareCfg, idem)
	webhookLimiter := bg.limiter(c, middleware.WebhookRateLimitConfig(squareCfg.RateLimitPerMinute))
	router.POST("/api/v1/webhooks/square",
		apiHeaders,
		middleware.RateLimitMiddleware(webhookLimiter, middleware.RateLimitOptions{
			Scope:     "square",
			OnLimited: webhooks.CountRateLimited,
		}),
		squareHandler.Handle,
	)

	// Portal pages
	portal := router.Group("/", append([]gin.HandlerFunc{pageHeaders}, general...)...)
	pages.Register(portal)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		pages.NoRoute(c)
	})

	return router, bg, nil
}

// limiter returns a redis-backed limiter when the cache is available so limits
// hold across replicas, and an in-memory one otherwise.
func (bg *BackgroundServices) limiter(c *cache.Cache, rlCfg middleware.RateLimitConfig) middleware.Limiter {
	if c != nil {
		return middleware.NewRedisRateLimiter(c.Client(), c.Prefix(), rlCfg)
	}
	rl := middleware.NewRateLimiter(rlCfg)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl
}

// @Summary      Health check
// @Description  Liveness probe. Reports the environment, the active storage backend and whether the cache is enabled. Never touches external services.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: ok, checks: {env, storage, cache}"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(cfg *config.Config, store storage.Storage, c *cache.Cache) gin.HandlerFunc {
	cacheState := "disabled"
	if c != nil {
		cacheState = "enabled"
	}
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"checks": gin.H{
				"env":     cfg.Server.Env,
				"storage": store.Name(),
				"cache":   cacheState,
			},
			"time": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the storage backend and, when enabled, redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this checks the storage backend and
// the cache so that a readiness gate fails when documents or receipts would
// error.
func readinessHandler(store storage.Storage, c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}

		if _, err := store.Exists(reqCtx, readinessProbeKey); err != nil {
			slog.WarnContext(reqCtx, "readiness: storage check failed", "backend", store.Name(), "error", err)
			checks["storage"] = "unhealthy"
			ctx.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		if c != nil {
			if err := c.Ping(reqCtx); err != nil {
				slog.WarnContext(reqCtx, "readiness: cache check failed", "error", err)
				checks["cache"] = "unhealthy"
				ctx.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "cache not ready",
				})
				return
			}
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "disabled"
		}

		ctx.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current application and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
