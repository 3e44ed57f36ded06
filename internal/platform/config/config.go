package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	DistanceCache   string
	SQLiteCachePath string
	ORSAPIKey       string
	SeedPath        string
	ProofStorageDir string

	MaxRadiusMeters    int
	NearbyRadiusMeters int
	DistanceTimeout    time.Duration
	LookupConcurrency  int
	DistanceCacheTTL   time.Duration

	// How often the server runs the expiry sweep.
	SweepInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads .env when present and then the process environment.
// A missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            Get("PORT", "8080"),
		DatabaseURL:     Get("DATABASE_URL", ""),
		RedisAddr:       Get("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   Get("REDIS_PASSWORD", ""),
		DistanceCache:   strings.ToLower(Get("DISTANCE_CACHE", "none")),
		SQLiteCachePath: Get("SQLITE_CACHE_PATH", "data/distance_cache.db"),
		ORSAPIKey:       Get("ORS_API_KEY", ""),
		SeedPath:        Get("SEED_PATH", "data/seeds/network.json"),
		ProofStorageDir: Get("PROOF_STORAGE_DIR", "data/proofs"),
		LogLevel:        Get("LOG_LEVEL", "info"),
		LogFormat:       Get("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.MaxRadiusMeters, err = getInt("MAX_RADIUS_METERS", 30000); err != nil {
		return nil, err
	}
	if cfg.NearbyRadiusMeters, err = getInt("NEARBY_RADIUS_METERS", 10000); err != nil {
		return nil, err
	}
	if cfg.LookupConcurrency, err = getInt("DISTANCE_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.DistanceTimeout, err = getDuration("DISTANCE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DistanceCacheTTL, err = getDuration("DISTANCE_CACHE_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	switch cfg.DistanceCache {
	case "redis", "postgres", "sqlite", "none":
	default:
		return nil, fmt.Errorf("config: DISTANCE_CACHE must be one of redis|postgres|sqlite|none, got %q", cfg.DistanceCache)
	}

	return cfg, nil
}

// Get returns the environment value for key or fallback when unset or blank.
func Get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := Get(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := Get(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
