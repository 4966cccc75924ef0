package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageDriverB2         = "b2"
	StorageDriverFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	MetricsPort string
	DatabaseURL string
	DBMaxConns  int

	SupabaseJWTSecret string

	StorageDriver    string
	StoragePath      string
	B2KeyID          string
	B2ApplicationKey string
	B2BucketID       string
	B2BucketName     string
	B2AuthURL        string

	RunPodAPIKey     string
	RunPodEndpointID string
	RunPodBaseURL    string

	PublicBaseURL string
	WebhookSecret string

	RedisURL       string
	StatusCacheTTL time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	MaxUploadBytes   int64

	SweepInterval   time.Duration
	SweepStaleAfter time.Duration
	SweepBatch      int
	JobTimeout      time.Duration
}

// LoadConfig loads configuration from environment variables, applies defaults
// and validates the values every relay component depends on.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		MetricsPort:       getEnv("METRICS_PORT", "9090"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 10),
		SupabaseJWTSecret: os.Getenv("SUPABASE_JWT_SECRET"),
		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverB2)),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		B2KeyID:           os.Getenv("B2_KEY_ID"),
		B2ApplicationKey:  os.Getenv("B2_APPLICATION_KEY"),
		B2BucketID:        os.Getenv("B2_BUCKET_ID"),
		B2BucketName:      os.Getenv("B2_BUCKET_NAME"),
		B2AuthURL:         getEnv("B2_AUTH_URL", "https://api.backblazeb2.com/b2api/v2/b2_authorize_account"),
		RunPodAPIKey:      os.Getenv("RUNPOD_API_KEY"),
		RunPodEndpointID:  os.Getenv("RUNPOD_ENDPOINT_ID"),
		RunPodBaseURL:     getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"),
		PublicBaseURL:     strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		RedisURL:          os.Getenv("REDIS_URL"),
		StatusCacheTTL:    getEnvDuration("STATUS_CACHE_TTL", 3*time.Second),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 20<<20)),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		SweepStaleAfter:   getEnvDuration("SWEEP_STALE_AFTER", 2*time.Minute),
		SweepBatch:        getEnvInt("SWEEP_BATCH", 50),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 30*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing required setting in a single error.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	require("DATABASE_URL", c.DatabaseURL)
	require("SUPABASE_JWT_SECRET", c.SupabaseJWTSecret)
	require("RUNPOD_API_KEY", c.RunPodAPIKey)
	require("RUNPOD_ENDPOINT_ID", c.RunPodEndpointID)
	require("PUBLIC_BASE_URL", c.PublicBaseURL)
	require("WEBHOOK_SECRET", c.WebhookSecret)

	switch c.StorageDriver {
	case StorageDriverB2:
		require("B2_KEY_ID", c.B2KeyID)
		require("B2_APPLICATION_KEY", c.B2ApplicationKey)
		require("B2_BUCKET_ID", c.B2BucketID)
		require("B2_BUCKET_NAME", c.B2BucketName)
	case StorageDriverFilesystem:
		require("STORAGE_PATH", c.StoragePath)
	default:
		return fmt.Errorf("STORAGE_DRIVER %q is not supported", c.StorageDriver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL %q must be an absolute url", c.PublicBaseURL)
	}
	if c.JobTimeout <= c.SweepStaleAfter {
		return fmt.Errorf("JOB_TIMEOUT (%s) must exceed SWEEP_STALE_AFTER (%s)", c.JobTimeout, c.SweepStaleAfter)
	}
	return nil
}

// WebhookURL is the callback handed to RunPod for push notifications.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/v1/skin-refiner/webhook?token=" + url.QueryEscape(c.WebhookSecret)
}

// BucketName returns the logical bucket recorded in remote job input.
func (c *Config) BucketName() string {
	if c.StorageDriver == StorageDriverFilesystem {
		return "local"
	}
	return c.B2BucketName
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
