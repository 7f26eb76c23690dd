package config

import (
	"os"
	"testing"
)

func clearMailproxyEnv() {
	for _, key := range []string{
		"MAILPROXY_ENV",
		"MAILPROXY_STORE_ADDR",
		"MAILPROXY_CREDENTIALS_FILE",
		"MAILPROXY_SESSION_TTL_SECONDS",
		"MAILPROXY_KEEPALIVE_INTERVAL_SECONDS",
		"MAILPROXY_MAX_LIVE_HANDLES_PER_PROTOCOL",
		"MAILPROXY_IDLE_PROBE_THRESHOLD_SECONDS",
		"MAILPROXY_BODY_CHAR_LIMIT",
		"MAILPROXY_ATTACHMENT_CHAR_LIMIT",
		"MAILPROXY_TRACKING_HOST_PATTERNS",
		"MAILPROXY_HTTP_ADDR",
	} {
		_ = os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearMailproxyEnv()
	defer clearMailproxyEnv()
	_ = os.Setenv("MAILPROXY_ENV", "production") // skip .env loading in test

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.SessionTTLSeconds != 300 {
		t.Errorf("expected default SessionTTLSeconds 300, got %d", cfg.SessionTTLSeconds)
	}
	if cfg.KeepaliveIntervalSeconds != 25 {
		t.Errorf("expected default KeepaliveIntervalSeconds 25, got %d", cfg.KeepaliveIntervalSeconds)
	}
	if cfg.MaxLiveHandlesPerProtocol != 512 {
		t.Errorf("expected default MaxLiveHandlesPerProtocol 512, got %d", cfg.MaxLiveHandlesPerProtocol)
	}
	if cfg.BodyCharLimit != 5000 {
		t.Errorf("expected default BodyCharLimit 5000, got %d", cfg.BodyCharLimit)
	}
	if cfg.AttachmentCharLimit != 2000 {
		t.Errorf("expected default AttachmentCharLimit 2000, got %d", cfg.AttachmentCharLimit)
	}
	if len(cfg.TrackingHostPatterns) != 0 {
		t.Errorf("expected empty TrackingHostPatterns by default, got %v", cfg.TrackingHostPatterns)
	}
}

func TestLoadOverridesAndTrackingPatterns(t *testing.T) {
	clearMailproxyEnv()
	defer clearMailproxyEnv()
	_ = os.Setenv("MAILPROXY_ENV", "production")
	_ = os.Setenv("MAILPROXY_SESSION_TTL_SECONDS", "120")
	_ = os.Setenv("MAILPROXY_TRACKING_HOST_PATTERNS", "track.example.com,pixel.example.net")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.SessionTTLSeconds != 120 {
		t.Errorf("expected overridden SessionTTLSeconds 120, got %d", cfg.SessionTTLSeconds)
	}
	if len(cfg.TrackingHostPatterns) != 2 {
		t.Fatalf("expected 2 tracking host patterns, got %v", cfg.TrackingHostPatterns)
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := &Config{
		StoreAddr:                 "localhost:6379",
		CredentialsFile:           "credentials.yaml",
		SessionTTLSeconds:         0,
		KeepaliveIntervalSeconds:  25,
		MaxLiveHandlesPerProtocol: 512,
		BodyCharLimit:             5000,
		AttachmentCharLimit:       2000,
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero SessionTTLSeconds")
	}
}
