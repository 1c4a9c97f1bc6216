// Package main is the entrypoint for the Infisical server.
//
// @title           Infisical API
// @version         1.0
// @description     Organization, membership, and license management API.
//
// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT
//
// @host      localhost:8080
// @BasePath  /
//
// @securityDefinitions.apikey SessionAuth
// @in cookie
// @name infisical_session
// @description Session cookie authentication
//
// @tag.name Auth
// @tag.description Registration, login, and session endpoints
// @tag.name Organizations
// @tag.description Organization and membership management
// @tag.name Licenses
// @tag.description License issuance and lookup
// @tag.name Health
// @tag.description Liveness and readiness probes
// @tag.name Version
// @tag.description Server version information
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/api"
	"github.com/sarvex/infisical/internal/api/handlers"
	"github.com/sarvex/infisical/internal/auth"
	"github.com/sarvex/infisical/internal/config"
	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/licensing"
	"github.com/sarvex/infisical/internal/metrics"
	"github.com/sarvex/infisical/internal/notifications"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Infisical server")

	// Load configuration
	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Connect to database
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Initialize crypto key manager
	masterKey, err := crypto.MasterKeyFromHex(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to decode ENCRYPTION_KEY")
		return 1
	}

	keyManager, err := crypto.NewKeyManager(masterKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize key manager")
		return 1
	}

	// Initialize session store
	isSecure := cfg.Environment == config.EnvProduction
	sessionCfg := auth.DefaultSessionConfig([]byte(cfg.SessionSecret), isSecure)
	sessionCfg.MaxAge = cfg.SessionMaxAge
	sessions, err := auth.NewSessionStore(sessionCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize session store")
		return 1
	}

	// Prometheus registry
	m := metrics.New()

	// License server gateway. Absent configuration disables license
	// provisioning rather than failing startup.
	var gateway handlers.LicenseGateway
	var reporter licensing.SeatReporter
	if cfg.LicenseGatewayConfigured() {
		gw, err := licensing.NewGateway(licensing.GatewayOptions{
			BaseURL:    cfg.LicenseServerURL,
			ServiceKey: cfg.LicenseServerKey,
			ProxyURL:   cfg.LicenseServerProxy,
			Logger:     logger,
			Metrics:    m,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize license gateway")
			return 1
		}
		gateway = gw
		reporter = gw
		logger.Info().Str("url", cfg.LicenseServerURL).Msg("License server configured")
	} else {
		logger.Info().Msg("License server not configured, provisioning disabled")
	}

	// SMTP for license key delivery and invite notifications
	var mailer handlers.LicenseKeyMailer
	var invites handlers.InviteMailer
	smtpCfg, err := config.LoadSMTPConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load SMTP configuration")
		return 1
	}
	if smtpCfg.Configured() {
		emailService, err := notifications.NewEmailService(*smtpCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize email service")
			return 1
		}
		mailer = emailService
		invites = emailService
	} else {
		logger.Info().Msg("SMTP not configured, notification emails disabled")
	}

	// Seat sync and periodic reconciliation
	var seats handlers.SeatSynchronizer
	var reconciler *licensing.Reconciler
	if reporter != nil {
		syncer := licensing.NewSeatSyncer(database, keyManager, reporter, logger, m)
		seats = syncer
		reconciler = licensing.NewReconciler(syncer, database, cfg.SeatSyncSchedule, logger)
		if err := reconciler.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start seat reconciler")
		}
	}

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		RedisURL:          cfg.RedisURL,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
		Gateway:           gateway,
		Mailer:            mailer,
		Invites:           invites,
		Seats:             seats,
		Validator:         licensing.NewStaticValidator(true),
	}

	router, err := api.NewRouter(routerCfg, database, sessions, keyManager, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	if reconciler != nil {
		<-reconciler.Stop().Done()
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
