// Package config reads server settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	Timezone string

	// DBDriver is one of memory, sqlite or postgres.
	DBDriver    string
	DBPath      string
	DatabaseURL string

	PODDriver      string // memory or s3
	PODS3Bucket    string
	PODS3Region    string
	PODS3Endpoint  string
	PODS3PathStyle bool
	PODS3AccessKey string
	PODS3SecretKey string

	// PODDeadline is how long a RETURNED trip may wait for its POD before
	// the sweeper raises MISSING_POD.
	PODDeadline   time.Duration
	SweepInterval time.Duration
	SweepLookback int // days

	CORSOrigins []string
	Demo        bool
}

// Load reads .env files (if present) then the environment. Variables that
// are already set win over .env values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		log.Printf("[cfg] No .env file found or error loading: %v", err)
	}

	get := func(k, def string) string {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Timezone:       get("TZ", "UTC"),
		DBDriver:       strings.ToLower(get("DB_DRIVER", "sqlite")),
		DBPath:         get("DB_PATH", "dispatch.db"),
		DatabaseURL:    get("DATABASE_URL", ""),
		PODDriver:      strings.ToLower(get("POD_DRIVER", "memory")),
		PODS3Bucket:    get("POD_S3_BUCKET", ""),
		PODS3Region:    get("POD_S3_REGION", "us-east-1"),
		PODS3Endpoint:  get("POD_S3_ENDPOINT", ""),
		PODS3AccessKey: get("POD_S3_ACCESS_KEY_ID", ""),
		PODS3SecretKey: get("POD_S3_SECRET_ACCESS_KEY", ""),
		CORSOrigins:    splitList(get("CORS_ORIGINS", "*")),
	}

	var err error
	if cfg.Port, err = strconv.Atoi(get("PORT", "8080")); err != nil {
		return Config{}, fmt.Errorf("PORT: %w", err)
	}
	if cfg.PODS3PathStyle, err = strconv.ParseBool(get("POD_S3_PATH_STYLE", "false")); err != nil {
		return Config{}, fmt.Errorf("POD_S3_PATH_STYLE: %w", err)
	}
	if cfg.Demo, err = strconv.ParseBool(get("DEMO", "false")); err != nil {
		return Config{}, fmt.Errorf("DEMO: %w", err)
	}
	hours, err := strconv.ParseFloat(get("POD_DEADLINE_HOURS", "24"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("POD_DEADLINE_HOURS: %w", err)
	}
	cfg.PODDeadline = time.Duration(hours * float64(time.Hour))
	if cfg.SweepInterval, err = time.ParseDuration(get("SWEEP_INTERVAL", "15m")); err != nil {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepLookback, err = strconv.Atoi(get("SWEEP_LOOKBACK_DAYS", "7")); err != nil {
		return Config{}, fmt.Errorf("SWEEP_LOOKBACK_DAYS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.Printf("[cfg] port=%d db=%s pod=%s deadline=%s sweep=%s", cfg.Port, cfg.DBDriver, cfg.PODDriver, cfg.PODDeadline, cfg.SweepInterval)
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER %q: want memory, sqlite or postgres", c.DBDriver)
	}
	switch c.PODDriver {
	case "memory":
	case "s3":
		if c.PODS3Bucket == "" {
			return fmt.Errorf("POD_S3_BUCKET is required when POD_DRIVER=s3")
		}
	default:
		return fmt.Errorf("POD_DRIVER %q: want memory or s3", c.PODDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.PODDeadline <= 0 {
		return fmt.Errorf("POD_DEADLINE_HOURS must be positive")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}
	if c.SweepLookback < 1 {
		return fmt.Errorf("SWEEP_LOOKBACK_DAYS must be at least 1")
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("[cfg] Unknown TZ %q, using UTC: %v", c.Timezone, err)
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
