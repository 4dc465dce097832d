// Package api wires together all HTTP routes for the devflowfix service.
//
// Route grouping philosophy:
//   - Ingest routes (/webhooks/:provider) are intentionally unauthenticated.
//     Code hosts cannot send bearer tokens; authenticity is established per
//     delivery by HMAC signature or shared-token comparison inside the
//     tracker, and the response codes follow the hosts' redelivery semantics.
//   - Everything under /api/v1 requires a bearer token. There is no anonymous
//     read surface: incident and connection data reveal which repositories an
//     organization monitors.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/devflowfix/devflowfix/internal/api/incidents"
	"github.com/devflowfix/devflowfix/internal/api/oauth"
	"github.com/devflowfix/devflowfix/internal/api/prs"
	"github.com/devflowfix/devflowfix/internal/api/repositories"
	"github.com/devflowfix/devflowfix/internal/api/runs"
	"github.com/devflowfix/devflowfix/internal/api/webhooks"
	"github.com/devflowfix/devflowfix/internal/artifacts"
	"github.com/devflowfix/devflowfix/internal/auth"
	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/internal/crypto"
	repos "github.com/devflowfix/devflowfix/internal/db/repositories"
	"github.com/devflowfix/devflowfix/internal/jobs"
	"github.com/devflowfix/devflowfix/internal/llm"
	"github.com/devflowfix/devflowfix/internal/middleware"
	"github.com/devflowfix/devflowfix/internal/oauthstate"
	"github.com/devflowfix/devflowfix/internal/safego"
	"github.com/devflowfix/devflowfix/internal/services"

	// Import artifacts backends to register them
	_ "github.com/devflowfix/devflowfix/internal/artifacts/azure"
	_ "github.com/devflowfix/devflowfix/internal/artifacts/gcs"
	_ "github.com/devflowfix/devflowfix/internal/artifacts/local"
	_ "github.com/devflowfix/devflowfix/internal/artifacts/s3"

	// Import SCM connectors to register them via init()
	_ "github.com/devflowfix/devflowfix/internal/scm/github"
	_ "github.com/devflowfix/devflowfix/internal/scm/gitlab"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	dispatcher   *services.Dispatcher
	sweeper      *jobs.RemediationSweeper
	janitor      *jobs.StateJanitor
	rateLimiters []middleware.Limiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
// The dispatcher goes last: the sweeper must stop offering work before the
// queue closes.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.janitor != nil {
		bg.janitor.Stop()
	}
	if bg.dispatcher != nil {
		bg.dispatcher.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter builds the Gin router with the full service graph behind it and
// starts the background workers. It returns an error instead of exiting so
// cmd/server owns process lifecycle.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, nil, fmt.Errorf("invalid server.trusted_proxies: %w", err)
	}

	keyring, err := loadKeyring()
	if err != nil {
		return nil, nil, err
	}

	// Repositories
	oauthConnRepo := repos.NewOAuthConnectionRepository(db)
	repoConnRepo := repos.NewRepositoryConnectionRepository(db)
	eventRepo := repos.NewWebhookEventRepository(db)
	runRepo := repos.NewWorkflowRunRepository(db)
	incidentRepo := repos.NewIncidentRepository(db)
	prRepo := repos.NewPullRequestRepository(db)

	// Log archive. Optional: without a backend the service still remediates,
	// it just cannot serve raw logs later.
	var archive artifacts.Store
	if cfg.Artifacts.Backend != "" {
		archive, err = artifacts.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := provisionArchive(context.Background(), archive); err != nil {
			return nil, nil, fmt.Errorf("provision %s archive: %w", cfg.Artifacts.Backend, err)
		}
		slog.Info("log archive initialized", "backend", cfg.Artifacts.Backend)
	} else {
		slog.Info("log archiving disabled (no artifacts backend configured)")
	}

	// Shared Redis client for OAuth state and rate limiting. Optional: a
	// single-instance deployment runs fine on in-process fallbacks.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Domain services
	connectors := services.NewConnectorSource(cfg)
	vault := services.NewTokenVault(oauthConnRepo, keyring)
	hooks := services.NewWebhookManager(cfg, repoConnRepo, keyring)

	var states oauthstate.Store
	var memoryStates *oauthstate.MemoryStore
	if redisClient != nil {
		states = oauthstate.NewRedisStore(redisClient)
	} else {
		memoryStates = oauthstate.NewMemoryStore()
		states = memoryStates
	}
	coordinator := services.NewOAuthCoordinator(oauthConnRepo, states, keyring, connectors)

	model, err := llm.New(&cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	remediator := services.NewRemediator(
		&cfg.Remediation, incidentRepo, runRepo, repoConnRepo, prRepo,
		vault, connectors, model, archive,
	)
	dispatcher := services.NewDispatcher(
		remediator, cfg.Remediation.Workers, cfg.Remediation.QueueSize, cfg.Remediation.Deadline(),
	)
	remediator.SetQueue(dispatcher)
	dispatcher.Start()

	tracker := services.NewWorkflowTracker(
		repoConnRepo, eventRepo, runRepo, incidentRepo, prRepo,
		keyring, connectors, vault, dispatcher,
	)

	stats := &services.RepoStats{Runs: runRepo, PRs: prRepo, Incidents: incidentRepo}
	connections := services.NewConnectionService(
		repoConnRepo, oauthConnRepo, vault, connectors, hooks, stats, archive,
	)

	// Background jobs. The sweeper's stale cutoff is twice the per-incident
	// deadline so a slow-but-alive worker is never expired under its feet.
	sweeper := jobs.NewRemediationSweeper(
		incidentRepo, dispatcher, cfg.Remediation.SweepInterval(), 2*cfg.Remediation.Deadline(),
	)
	safego.Go(func() { sweeper.Start(context.Background()) })

	var janitor *jobs.StateJanitor
	if memoryStates != nil {
		janitor = jobs.NewStateJanitor(memoryStates, 5*time.Minute)
		safego.Go(func() { janitor.Start(context.Background()) })
	}

	// Authentication
	authn, err := auth.NewAuthenticator(context.Background(), &cfg.Auth)
	if err != nil {
		return nil, nil, err
	}

	// Middleware stack (ordering documented in internal/middleware)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Rate limiters: GCRA on Redis when available so limits hold across
	// replicas, an in-process token bucket otherwise.
	apiLimiter := newLimiter(redisClient, "api", apiRateLimitConfig(cfg))
	oauthLimiter := newLimiter(redisClient, "oauth", middleware.OAuthRateLimitConfig())
	ingestLimiter := newLimiter(redisClient, "ingest", middleware.IngestRateLimitConfig())

	// Handlers
	webhookHandler := webhooks.NewHandler(tracker)
	oauthHandler := oauth.NewHandler(coordinator)
	repoHandler := repositories.NewHandler(connections)
	runHandler := runs.NewHandler(runRepo, tracker)
	incidentHandler := incidents.NewHandler(incidentRepo, runRepo, repoConnRepo, remediator, archive)
	prHandler := prs.NewHandler(prRepo)

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, archive))
	router.GET("/version", versionHandler())

	// Ingest endpoints. No bearer auth; each delivery authenticates itself.
	ingest := router.Group("/webhooks")
	if cfg.Security.RateLimiting.Enabled {
		ingest.Use(middleware.RateLimitMiddleware(ingestLimiter))
	}
	ingest.POST("/:provider", webhookHandler.Receive)

	apiV1 := router.Group("/api/v1")
	{
		// Legacy per-user ingest aliases. The user_id segment carried routing
		// information in older deployments; deliveries now resolve their
		// connection by repository, so the segment is accepted and ignored.
		if cfg.Ingest.LegacyUserPaths {
			legacy := apiV1.Group("/webhook")
			if cfg.Security.RateLimiting.Enabled {
				legacy.Use(middleware.RateLimitMiddleware(ingestLimiter))
			}
			legacy.POST("/:provider/:user_id", webhookHandler.Receive)
		}

		authenticated := apiV1.Group("")
		authenticated.Use(middleware.AuthMiddleware(authn))
		if cfg.Security.RateLimiting.Enabled {
			authenticated.Use(middleware.RateLimitMiddleware(apiLimiter))
		}
		{
			// Account linking. The OAuth begin/complete endpoints carry a
			// stricter limit: each begin mints server-side state and each
			// complete spends a code-host API call.
			oauthGroup := authenticated.Group("/oauth")
			{
				flowHandlers := []gin.HandlerFunc{}
				if cfg.Security.RateLimiting.Enabled {
					flowHandlers = append(flowHandlers, middleware.RateLimitMiddleware(oauthLimiter))
				}
				oauthGroup.GET("/:provider/authorize", append(flowHandlers, oauthHandler.Authorize)...)
				oauthGroup.GET("/:provider/callback", append(flowHandlers, oauthHandler.Callback)...)
				oauthGroup.DELETE("/:provider", oauthHandler.Disconnect)
				oauthGroup.GET("/connections", oauthHandler.List)
			}

			repositoriesGroup := authenticated.Group("/repositories")
			{
				repositoriesGroup.GET("/:provider/available", repoHandler.Available)
				repositoriesGroup.POST("/connect", repoHandler.Connect)
				repositoriesGroup.GET("/connections", repoHandler.List)
				repositoriesGroup.GET("/connections/:id", repoHandler.Get)
				repositoriesGroup.PATCH("/connections/:id", repoHandler.Update)
				repositoriesGroup.DELETE("/connections/:id", repoHandler.Disconnect)
				repositoriesGroup.GET("/stats", repoHandler.Stats)
			}

			authenticated.GET("/runs", runHandler.List)
			authenticated.POST("/runs/:id/rerun", runHandler.Rerun)

			authenticated.GET("/incidents", incidentHandler.List)
			authenticated.GET("/incidents/:id", incidentHandler.Get)
			authenticated.GET("/incidents/:id/logs", incidentHandler.Logs)
			authenticated.POST("/incidents/:id/remediate", incidentHandler.Remediate)

			authenticated.GET("/prs", prHandler.List)
			authenticated.GET("/prs/stats", prHandler.Stats)
		}
	}

	bg := &BackgroundServices{
		dispatcher:   dispatcher,
		sweeper:      sweeper,
		janitor:      janitor,
		rateLimiters: []middleware.Limiter{apiLimiter, oauthLimiter, ingestLimiter},
	}

	return router, bg, nil
}

// loadKeyring builds the token keyring from TOKEN_ENCRYPTION_KEY. The variable
// holds one or more comma-separated 32-byte keys; the first seals new rows,
// the rest are retired keys kept so pre-rotation rows still decrypt.
func loadKeyring() (*crypto.Keyring, error) {
	raw := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if raw == "" {
		return nil, errors.New("TOKEN_ENCRYPTION_KEY environment variable must be set")
	}

	var keys [][]byte
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, []byte(part))
		}
	}
	return crypto.NewKeyring(keys...)
}

// provisionArchive creates the archive location on backends that can. The
// local backend provisions lazily per write and matches neither assertion.
func provisionArchive(ctx context.Context, archive artifacts.Store) error {
	switch s := archive.(type) {
	case interface{ EnsureBucket(context.Context) error }:
		return s.EnsureBucket(ctx)
	case interface{ EnsureContainer(context.Context) error }:
		return s.EnsureContainer(ctx)
	}
	return nil
}

// apiRateLimitConfig applies the operator's overrides to the default API
// request budget.
func apiRateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		rl.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		rl.BurstSize = cfg.Security.RateLimiting.Burst
	}
	return rl
}

// newLimiter picks the Redis-backed limiter when a client is available and the
// in-process bucket otherwise.
func newLimiter(client *redis.Client, prefix string, rl middleware.RateLimitConfig) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisRateLimiter(client, prefix, rl)
	}
	return middleware.NewRateLimiter(rl)
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity and, when configured, the artifacts backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. Unlike the
// liveness probe (/health), this also checks the log archive so a readiness
// gate fails when archiving and log retrieval would error.
func readinessHandler(db *sqlx.DB, archive artifacts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe the archive with a known-absent sentinel path. Exists()
		// exercises authentication and network connectivity without creating
		// any state.
		if archive != nil {
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "artifacts backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		logRequest(c, latency, path, query)
	}
}

// logRequest emits one slog record per request. The output format (JSON or
// text) follows the global handler configured in telemetry.SetupLogger.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	id, _ := requestID.(string)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", id),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS for the frontend dashboard
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PATCH, DELETE, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
