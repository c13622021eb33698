package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"API_ADDR", "IMPORT_AUTO_APPROVE_THRESHOLD", "IMPORT_MAX_UPLOAD_BYTES",
		"IMPORT_SESSION_TTL_SECONDS", "MINIO_ENDPOINT", "MEILI_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.AutoApproveThreshold != 0.9 {
		t.Fatalf("unexpected threshold %v", cfg.AutoApproveThreshold)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected max upload %d", cfg.MaxUploadBytes)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if cfg.MinIOEndpoint != "" || cfg.MeiliURL != "" {
		t.Fatal("optional backends should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMPORT_AUTO_APPROVE_THRESHOLD", "0.75")
	t.Setenv("IMPORT_ARCHIVE_RETENTION_DAYS", "7")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.AutoApproveThreshold != 0.75 {
		t.Fatalf("unexpected threshold %v", cfg.AutoApproveThreshold)
	}
	if cfg.ArchiveRetention != 7*24*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.ArchiveRetention)
	}
	if !cfg.MinIOUseSSL {
		t.Fatal("expected ssl to be enabled")
	}
}

func TestThresholdOutOfRangeFallsBack(t *testing.T) {
	for _, value := range []string{"0", "1.5", "-0.2", "high"} {
		t.Setenv("IMPORT_AUTO_APPROVE_THRESHOLD", value)
		if got := Load().AutoApproveThreshold; got != 0.9 {
			t.Errorf("threshold %q: got %v, want fallback 0.9", value, got)
		}
	}
}
