// Package config loads server configuration from environment variables and
// optional YAML tuning profiles.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	Environment string

	// Messaging fabric (Redis) connection.
	MessagingAPIKey string
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisTLS        bool

	// Push notification endpoint.
	PushAPIKey    string
	PushVAPIDKey  string
	PushProjectID string
	PushEndpoint  string

	// Request authorization.
	JWTSecret string
	// SkipSignatureVerification disables signed-request checks. It is only
	// honored when Environment is "development".
	SkipSignatureVerification bool

	// RetryDBPath is the sqlite file backing the push retry queue. Empty
	// selects the in-memory store.
	RetryDBPath string

	// ProfileName selects a tuning profile under the profiles directory.
	ProfileName string
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SkipSignatures reports whether signed-request verification is disabled.
// The env flag is ignored outside development so a stray variable cannot
// weaken production.
func (c *Config) SkipSignatures() bool {
	return c.SkipSignatureVerification && c.IsDevelopment()
}

// Load reads configuration from environment variables. Missing credentials
// are an error: the server must not start without them.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                      envOr("PORT", "8080"),
		LogLevel:                  envOr("LOG_LEVEL", "INFO"),
		Environment:               envOr("ENVIRONMENT", "production"),
		MessagingAPIKey:           os.Getenv("MESSAGING_API_KEY"),
		RedisHost:                 envOr("REVOCATION_HOST", "localhost"),
		RedisPort:                 envOr("REVOCATION_PORT", "6379"),
		RedisPassword:             os.Getenv("REVOCATION_PASSWORD"),
		RedisTLS:                  os.Getenv("REVOCATION_TLS") == "true",
		PushAPIKey:                os.Getenv("PUSH_API_KEY"),
		PushVAPIDKey:              os.Getenv("PUSH_VAPID_KEY"),
		PushProjectID:             os.Getenv("PUSH_PROJECT_ID"),
		PushEndpoint:              envOr("PUSH_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		SkipSignatureVerification: os.Getenv("SKIP_SIGNATURE_VERIFICATION") == "true",
		RetryDBPath:               os.Getenv("RETRY_DB_PATH"),
		ProfileName:               os.Getenv("MARQUEE_PROFILE"),
	}

	var missing []string
	if cfg.MessagingAPIKey == "" {
		missing = append(missing, "MESSAGING_API_KEY")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// RedisAddr returns the host:port of the Redis instance.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
