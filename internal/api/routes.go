// Package api provides the HTTP API for the Infisical server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sarvex/infisical/internal/api/handlers"
	"github.com/sarvex/infisical/internal/api/middleware"
	"github.com/sarvex/infisical/internal/auth"
	"github.com/sarvex/infisical/internal/config"
	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/health"
	"github.com/sarvex/infisical/internal/licensing"
	"github.com/sarvex/infisical/internal/metrics"

	_ "github.com/sarvex/infisical/docs/api"
)

// Config holds configuration for the API router.
type Config struct {
	// Environment controls CORS strictness.
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// RedisURL backs the rate limit store when set.
	RedisURL string
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string

	// Gateway talks to the external license service. Nil disables
	// license provisioning.
	Gateway handlers.LicenseGateway
	// Mailer delivers issued license keys. Nil skips delivery.
	Mailer handlers.LicenseKeyMailer
	// Invites notifies users invited to an organization. Nil skips
	// the notification.
	Invites handlers.InviteMailer
	// Seats pushes seat counts after membership changes (optional).
	Seats handlers.SeatSynchronizer
	// Validator gates license operations. Nil means always valid.
	Validator licensing.Validator
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 300,
		RateLimitPeriod:   "1m",
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine     *gin.Engine
	logger     zerolog.Logger
	sessions   *auth.SessionStore
	db         *db.DB
	keyManager *crypto.KeyManager
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	sessions *auth.SessionStore,
	keyManager *crypto.KeyManager,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine:     gin.New(),
		logger:     logger.With().Str("component", "router").Logger(),
		sessions:   sessions,
		db:         database,
		keyManager: keyManager,
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.RequestMetrics(m))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, health.NewCollector(), logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	r.Engine.GET("/metrics", gin.WrapH(m.Handler()))

	// Swagger API documentation (no auth required)
	r.Engine.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.URL("/api/docs/doc.json"),
		ginSwagger.DefaultModelsExpandDepth(-1),
	))

	// Version endpoint (no auth required)
	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate)
	versionHandler.RegisterPublicRoutes(r.Engine)

	// Auth routes (no auth required)
	authHandler := handlers.NewAuthHandler(database, sessions, logger)
	authHandler.RegisterPublicRoutes(r.Engine)

	// API v1 routes (auth required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(sessions, logger))

	authHandler.RegisterRoutes(apiV1)

	orgsHandler := handlers.NewOrganizationsHandler(database, keyManager, cfg.Gateway, cfg.Invites, cfg.Seats, m, logger)
	orgsHandler.RegisterRoutes(apiV1)

	licensed := apiV1.Group("")
	if cfg.Validator != nil {
		licensed.Use(middleware.RequireValidLicense(cfg.Validator, logger))
	}
	licensesHandler := handlers.NewLicensesHandler(database, keyManager, cfg.Gateway, cfg.Mailer, m, logger)
	licensesHandler.RegisterRoutes(licensed)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
