// Package config loads server configuration from environment variables.
//
// Every knob has a default that matches a working single-box deployment, so
// `go run ./cmd/ctoplayer` with no environment starts a usable server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings for the CTO-Player server.
type Config struct {
	// Port is the HTTP listen port (env: PORT).
	Port string

	// DataDir is the root directory for durable state. Session records live
	// under DataDir/sessions (env: DATA_DIR).
	DataDir string

	// PublicDir is the directory of the static UI bundle, served at /
	// when it exists (env: PUBLIC_DIR).
	PublicDir string

	// MaxSessions caps the number of durable session records. New identities
	// are rejected with 503 once the cap is reached (env: MAX_SESSIONS).
	MaxSessions int

	// SessionBackend selects the durable session store: "file" (default) or
	// "postgres" (env: SESSION_BACKEND).
	SessionBackend string

	// PostgresURL is the DSN for the postgres session backend
	// (env: POSTGRES_URL).
	PostgresURL string

	// RedisURL, when set, switches the rate limiter to a Redis-backed store
	// (env: REDIS_URL). Empty means in-memory.
	RedisURL string

	// SentryDSN enables Sentry error reporting when non-empty
	// (env: SENTRY_DSN).
	SentryDSN string

	// MemoryIdleTTL is how long a session may sit unused in the memory tier
	// before the eviction sweep drops it (reloadable from durable storage).
	MemoryIdleTTL time.Duration

	// DurableRetention is how long a durable session record may go untouched
	// before the retention sweep deletes it permanently.
	DurableRetention time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		Port:             getEnv("PORT", "3125"),
		DataDir:          getEnv("DATA_DIR", "./data"),
		PublicDir:        getEnv("PUBLIC_DIR", "./public"),
		MaxSessions:      getEnvInt("MAX_SESSIONS", 50),
		SessionBackend:   getEnv("SESSION_BACKEND", "file"),
		PostgresURL:      getEnv("POSTGRES_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		MemoryIdleTTL:    30 * time.Minute,
		DurableRetention: 30 * 24 * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
