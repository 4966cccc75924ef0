package infra

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("SUPABASE_JWT_SECRET", "test-secret")
	t.Setenv("RUNPOD_API_KEY", "rp-key")
	t.Setenv("RUNPOD_ENDPOINT_ID", "endpoint-1")
	t.Setenv("PUBLIC_BASE_URL", "https://relay.example.com/")
	t.Setenv("WEBHOOK_SECRET", "hook-secret")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("B2_KEY_ID", "key-id")
	t.Setenv("B2_APPLICATION_KEY", "app-key")
	t.Setenv("B2_BUCKET_ID", "bucket-id")
	t.Setenv("B2_BUCKET_NAME", "refiner-uploads")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StorageDriver != StorageDriverB2 {
		t.Fatalf("StorageDriver = %q, want %q", cfg.StorageDriver, StorageDriverB2)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("SweepInterval = %s, want 30s", cfg.SweepInterval)
	}
	if cfg.PublicBaseURL != "https://relay.example.com" {
		t.Fatalf("PublicBaseURL = %q, trailing slash should be trimmed", cfg.PublicBaseURL)
	}
}

func TestLoadConfigReportsAllMissingKeys(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RUNPOD_API_KEY", "")
	t.Setenv("B2_BUCKET_ID", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatalf("expected error for missing keys")
	}
	for _, key := range []string{"RUNPOD_API_KEY", "B2_BUCKET_ID"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not name %s", err, key)
		}
	}
}

func TestLoadConfigFilesystemDriverSkipsB2(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORAGE_DRIVER", "filesystem")
	t.Setenv("B2_KEY_ID", "")
	t.Setenv("B2_APPLICATION_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BucketName() != "local" {
		t.Fatalf("BucketName = %q, want local", cfg.BucketName())
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORAGE_DRIVER", "s3")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadConfigRejectsTimeoutBelowStaleWindow(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SWEEP_STALE_AFTER", "10m")
	t.Setenv("JOB_TIMEOUT", "5m")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JOB_TIMEOUT <= SWEEP_STALE_AFTER")
	}
}

func TestWebhookURLCarriesToken(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEBHOOK_SECRET", "a b&c")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := "https://relay.example.com/v1/skin-refiner/webhook?token=a+b%26c"
	if got := cfg.WebhookURL(); got != want {
		t.Fatalf("WebhookURL = %q, want %q", got, want)
	}
}
