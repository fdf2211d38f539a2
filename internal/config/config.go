package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingSecret is fatal at startup: without a signing secret no
// session token can be issued or verified.
var ErrMissingSecret = errors.New("FORUM_JWT_SECRET is not set")

type Config struct {
	Addr         string
	DBPath       string
	JWTSecret    string
	TokenTTL     time.Duration
	CookieSecure bool
	RateLimits   RateLimits
}

type RateLimits struct {
	AuthPerMinute int
}

func Load() (Config, error) {
	// Optional .env for local development; env vars win over the file.
	_ = godotenv.Load()

	addr := envString("FORUM_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:         addr,
		DBPath:       envString("FORUM_DB", "forum.db"),
		JWTSecret:    os.Getenv("FORUM_JWT_SECRET"),
		TokenTTL:     envDuration("FORUM_TOKEN_TTL", 30*24*time.Hour),
		CookieSecure: envBool("FORUM_COOKIE_SECURE", true),
		RateLimits: RateLimits{
			AuthPerMinute: envInt("FORUM_RL_AUTH_PER_MIN", 20),
		},
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
