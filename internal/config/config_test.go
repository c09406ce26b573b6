package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if cfg.Signer.SocketPath != "/var/run/dexlink/signer.sock" {
		t.Errorf("unexpected socket path: %s", cfg.Signer.SocketPath)
	}

	if cfg.Gateway.Timeout() != 30*time.Second {
		t.Errorf("expected gateway timeout 30s, got %s", cfg.Gateway.Timeout())
	}

	if cfg.Outcome.Timeout() != 2*time.Minute {
		t.Errorf("expected outcome timeout 2m, got %s", cfg.Outcome.Timeout())
	}

	if cfg.Channel.Heartbeat() != 30*time.Second || cfg.Channel.BackoffInitial() != 250*time.Millisecond {
		t.Errorf("unexpected channel timing: %+v", cfg.Channel)
	}

	if cfg.Redis.Addr != "" {
		t.Errorf("expected journal disabled by default, got redis addr %s", cfg.Redis.Addr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEXLINK_ENV", "production")
	t.Setenv("DEXLINK_SIGNER_KMS_KEY_ID", "arn:aws:kms:us-east-1:123456:key/test-key")
	t.Setenv("DEXLINK_GATEWAY_BASE_URL", "https://dex.example/api")
	t.Setenv("DEXLINK_GATEWAY_RATE_PER_SEC", "2.5")
	t.Setenv("DEXLINK_OUTCOME_TIMEOUT_SEC", "45")
	t.Setenv("DEXLINK_REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}
	if cfg.Signer.KMSKeyID != "arn:aws:kms:us-east-1:123456:key/test-key" {
		t.Errorf("unexpected kms key id: %s", cfg.Signer.KMSKeyID)
	}
	if cfg.Gateway.BaseURL != "https://dex.example/api" {
		t.Errorf("unexpected base url: %s", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.RatePerSec != 2.5 {
		t.Errorf("expected rate 2.5, got %g", cfg.Gateway.RatePerSec)
	}
	if cfg.Outcome.Timeout() != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.Outcome.Timeout())
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected redis addr: %s", cfg.Redis.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("DEXLINK_OUTCOME_TIMEOUT_SEC", "0")
	t.Setenv("DEXLINK_GATEWAY_RATE_PER_SEC", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"outcome.timeout_sec", "gateway.rate_per_sec"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
