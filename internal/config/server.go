// Package config provides configuration management for the Infisical server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment

	// Port is the HTTP listen port (default: 8080).
	Port int
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string
	// EncryptionKey is the hex-encoded 32-byte key for license key
	// encryption at rest.
	EncryptionKey string
	// SessionSecret signs the session cookie; at least 32 bytes.
	SessionSecret string
	// CORSOrigins is the comma-separated allowed origin list.
	CORSOrigins []string
	// RedisURL enables the Redis-backed rate limit store when set;
	// empty falls back to the in-memory store.
	RedisURL string
	// RateLimitRequests per RateLimitPeriod (default: 300 per 1m).
	RateLimitRequests int64
	// RateLimitPeriod is a duration string.
	RateLimitPeriod string

	// SessionMaxAge is the session lifetime in seconds (default: 86400).
	SessionMaxAge int

	// LicenseServerURL is the base URL of the external license service.
	LicenseServerURL string
	// LicenseServerKey is the service-wide API key for issuing licenses.
	LicenseServerKey string
	// LicenseServerProxy is an optional SOCKS5 proxy URL for outbound
	// license-service calls.
	LicenseServerProxy string

	// SeatSyncSchedule is the cron expression for the periodic seat
	// reconciliation sweep (default: hourly).
	SeatSyncSchedule string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	sessionMaxAge := getEnvInt("SESSION_MAX_AGE", 86400)
	if sessionMaxAge < 0 {
		sessionMaxAge = 86400
	}

	schedule := os.Getenv("SEAT_SYNC_SCHEDULE")
	if schedule == "" {
		schedule = "@hourly"
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	period := os.Getenv("RATE_LIMIT_PERIOD")
	if period == "" {
		period = "1m"
	}

	return ServerConfig{
		Environment:        env,
		Port:               getEnvInt("PORT", 8080),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		EncryptionKey:      os.Getenv("ENCRYPTION_KEY"),
		SessionSecret:      os.Getenv("SESSION_SECRET"),
		CORSOrigins:        origins,
		RedisURL:           os.Getenv("REDIS_URL"),
		RateLimitRequests:  int64(getEnvInt("RATE_LIMIT_REQUESTS", 300)),
		RateLimitPeriod:    period,
		SessionMaxAge:      sessionMaxAge,
		LicenseServerURL:   strings.TrimRight(os.Getenv("LICENSE_SERVER_URL"), "/"),
		LicenseServerKey:   os.Getenv("LICENSE_SERVER_KEY"),
		LicenseServerProxy: os.Getenv("LICENSE_SERVER_PROXY"),
		SeatSyncSchedule:   schedule,
	}
}

// LicenseGatewayConfigured reports whether license provisioning is enabled.
// Absence of the license server URL or key disables provisioning on
// organization creation; it is a feature flag, not an error.
func (c ServerConfig) LicenseGatewayConfigured() bool {
	return c.LicenseServerURL != "" && c.LicenseServerKey != ""
}

// Validate checks cross-field consistency.
func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.LicenseServerURL != "" && !strings.HasPrefix(c.LicenseServerURL, "http://") && !strings.HasPrefix(c.LicenseServerURL, "https://") {
		return fmt.Errorf("LICENSE_SERVER_URL must be an http(s) URL, got %q", c.LicenseServerURL)
	}
	return nil
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
