package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string
	Port        string

	// LocationTTL is how long a live location survives in Redis without a
	// fresh update before it is considered gone.
	LocationTTL time.Duration

	// MetricsAddr is the listen address for /metrics. Empty disables the
	// metrics server.
	MetricsAddr string

	SeedDemoData bool
}

// Load reads the .env file (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg.JWTSecret = os.Getenv("APP_JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("APP_JWT_SECRET environment variable is required")
	}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if v := os.Getenv("LOCATION_TTL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid LOCATION_TTL_SEC: %q", v)
		}
		cfg.LocationTTL = time.Duration(sec) * time.Second
	} else {
		cfg.LocationTTL = 60 * time.Second
	}

	if v := os.Getenv("SEED_DEMO_DATA"); v == "1" || v == "true" {
		cfg.SeedDemoData = true
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
