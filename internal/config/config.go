package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings, loaded from the environment.
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	EngineURL   string
	UploadDir   string
	DownloadDir string

	WorkerCount       int
	MaxAttempts       int
	ProcessingTimeout time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	SweepInterval     time.Duration

	ImageCostCents int64
	ScanCostCents  int64
}

// Load reads configuration from the environment. DATABASE_URL is required;
// everything else has a development default. A set but malformed value is an
// error, never a silent fallback.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		Port:        envString("PORT", "8080"),
		JWTSecret:   envString("JWT_SECRET", "supersecretdev"),
		EngineURL:   envString("ENGINE_URL", "http://localhost:9090"),
		UploadDir:   envString("UPLOAD_DIR", "uploads"),
		DownloadDir: envString("DOWNLOAD_DIR", "downloads"),
	}

	var err error
	if cfg.WorkerCount, err = envInt("WORKER_COUNT", 10); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = envInt("MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.ProcessingTimeout, err = envDuration("PROCESSING_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = envDuration("BACKOFF_BASE", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffCap, err = envDuration("BACKOFF_CAP", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ImageCostCents, err = envInt64("IMAGE_COST_CENTS", 5000); err != nil {
		return nil, err
	}
	if cfg.ScanCostCents, err = envInt64("SCAN_COST_CENTS", 10000); err != nil {
		return nil, err
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
