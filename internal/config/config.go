package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment
// variables, mirroring the §6 "Configuration surface" enumeration.
type Config struct {
	// Environment is the deployment environment. Defaults to "development".
	Environment string

	// StoreAddr is the external key/value store address (Redis-semantics).
	StoreAddr     string
	StoreUsername string
	StorePassword string
	StoreDB       int

	// CredentialsFile points at the YAML file mapping inbox id to upstream
	// credentials (C1's backing store). See internal/creds.
	CredentialsFile string

	// SessionTTLSeconds is the default refresh target for session records.
	SessionTTLSeconds int64
	// KeepaliveIntervalSeconds is the fixed tick interval for C5.
	KeepaliveIntervalSeconds int64
	// MaxLiveHandlesPerProtocol bounds in-memory handle count (LRU evict).
	MaxLiveHandlesPerProtocol int
	// IdleProbeThresholdSeconds is how long a handle may sit idle before a
	// checkout issues a health probe.
	IdleProbeThresholdSeconds int64

	// OwnerInstanceID identifies this proxy instance in session records
	// (best-effort metadata only, never used for locking).
	OwnerInstanceID string

	// Transformer limits (C6).
	BodyCharLimit        int
	AttachmentCharLimit  int
	TrackingHostPatterns []string

	// HTTPAddr is the thin adapter's listen address (cmd/proxyd).
	HTTPAddr string

	// EncryptionKeyBase64 decrypts any encrypted_secret entries in the
	// credentials file (internal/creds). Empty if every entry uses a plain
	// secret.
	EncryptionKeyBase64 string
}

// Load reads Config from the environment, loading a .env file first in
// non-production environments.
func Load() (*Config, error) {
	env := os.Getenv("MAILPROXY_ENV")
	if env == "" {
		env = "development"
	}

	if env != "production" {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintln(os.Stderr, "mailproxy: no .env file found, using environment variables")
		}
	}

	ttl, err := getEnvInt64OrDefault("MAILPROXY_SESSION_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	keepalive, err := getEnvInt64OrDefault("MAILPROXY_KEEPALIVE_INTERVAL_SECONDS", 25)
	if err != nil {
		return nil, err
	}
	maxHandles, err := getEnvIntOrDefault("MAILPROXY_MAX_LIVE_HANDLES_PER_PROTOCOL", 512)
	if err != nil {
		return nil, err
	}
	idleThreshold, err := getEnvInt64OrDefault("MAILPROXY_IDLE_PROBE_THRESHOLD_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	bodyLimit, err := getEnvIntOrDefault("MAILPROXY_BODY_CHAR_LIMIT", 5000)
	if err != nil {
		return nil, err
	}
	attachmentLimit, err := getEnvIntOrDefault("MAILPROXY_ATTACHMENT_CHAR_LIMIT", 2000)
	if err != nil {
		return nil, err
	}
	storeDB, err := getEnvIntOrDefault("MAILPROXY_STORE_DB", 0)
	if err != nil {
		return nil, err
	}

	owner := os.Getenv("MAILPROXY_OWNER_INSTANCE_ID")
	if owner == "" {
		hostname, hErr := os.Hostname()
		if hErr != nil {
			hostname = "unknown-instance"
		}
		owner = hostname
	}

	cfg := &Config{
		Environment:               env,
		StoreAddr:                 getEnvOrDefault("MAILPROXY_STORE_ADDR", "localhost:6379"),
		StoreUsername:             os.Getenv("MAILPROXY_STORE_USERNAME"),
		StorePassword:             os.Getenv("MAILPROXY_STORE_PASSWORD"),
		StoreDB:                   storeDB,
		CredentialsFile:           getEnvOrDefault("MAILPROXY_CREDENTIALS_FILE", "credentials.yaml"),
		SessionTTLSeconds:         ttl,
		KeepaliveIntervalSeconds:  keepalive,
		MaxLiveHandlesPerProtocol: maxHandles,
		IdleProbeThresholdSeconds: idleThreshold,
		OwnerInstanceID:           owner,
		BodyCharLimit:             bodyLimit,
		AttachmentCharLimit:       attachmentLimit,
		TrackingHostPatterns:      splitNonEmpty(os.Getenv("MAILPROXY_TRACKING_HOST_PATTERNS")),
		HTTPAddr:                  getEnvOrDefault("MAILPROXY_HTTP_ADDR", ":8080"),
		EncryptionKeyBase64:       os.Getenv("MAILPROXY_ENCRYPTION_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are present and well-formed.
func (c *Config) Validate() error {
	if c.StoreAddr == "" {
		return fmt.Errorf("MAILPROXY_STORE_ADDR is required")
	}
	if c.CredentialsFile == "" {
		return fmt.Errorf("MAILPROXY_CREDENTIALS_FILE is required")
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("MAILPROXY_SESSION_TTL_SECONDS must be positive, got %d", c.SessionTTLSeconds)
	}
	if c.KeepaliveIntervalSeconds <= 0 {
		return fmt.Errorf("MAILPROXY_KEEPALIVE_INTERVAL_SECONDS must be positive, got %d", c.KeepaliveIntervalSeconds)
	}
	if c.MaxLiveHandlesPerProtocol <= 0 {
		return fmt.Errorf("MAILPROXY_MAX_LIVE_HANDLES_PER_PROTOCOL must be positive, got %d", c.MaxLiveHandlesPerProtocol)
	}
	if c.BodyCharLimit <= 0 {
		return fmt.Errorf("MAILPROXY_BODY_CHAR_LIMIT must be positive, got %d", c.BodyCharLimit)
	}
	if c.AttachmentCharLimit <= 0 {
		return fmt.Errorf("MAILPROXY_ATTACHMENT_CHAR_LIMIT must be positive, got %d", c.AttachmentCharLimit)
	}
	return nil
}

// SessionTTL returns SessionTTLSeconds as a time.Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// KeepaliveInterval returns KeepaliveIntervalSeconds as a time.Duration.
func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalSeconds) * time.Second
}

// IdleProbeThreshold returns IdleProbeThresholdSeconds as a time.Duration.
func (c *Config) IdleProbeThreshold() time.Duration {
	return time.Duration(c.IdleProbeThresholdSeconds) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
