package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Database
	DatabasePath string

	// Logging
	LogLevel string

	// HTTP API
	HTTPAddr string

	// Twitter OAuth broker
	AuthBrokerURL string

	// Blob storage. S3 is used when S3Endpoint is set, BlobDir otherwise.
	BlobDir     string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// Site HTTP clients
	RequestTimeout time.Duration
	SiteRateLimit  float64 // requests per second per site, 0 disables throttling

	// Scheduler settings
	ScheduleSpec   string
	StatusSpec     string
	StatusProfiles []string

	// Notification settings
	DiscordWebhookURL string

	// Advertise appends the footer to descriptions.
	Advertise bool
}

// Load reads configuration from environment variables.
// It automatically loads .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:      getEnv("DATABASE_PATH", "data/multipost.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		HTTPAddr:          getEnv("HTTP_ADDR", "127.0.0.1:8420"),
		AuthBrokerURL:     getEnv("AUTH_BROKER_URL", ""),
		BlobDir:           getEnv("BLOB_DIR", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", ""),
		ScheduleSpec:      getEnv("SCHEDULE_SPEC", "@every 1m"),
		StatusSpec:        getEnv("STATUS_SPEC", "@every 30m"),
		StatusProfiles:    splitList(getEnv("STATUS_PROFILES", "")),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
	}

	var err error
	cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	cfg.SiteRateLimit, err = strconv.ParseFloat(getEnv("SITE_RATE_LIMIT", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SITE_RATE_LIMIT: %w", err)
	}

	cfg.S3UseSSL, err = strconv.ParseBool(getEnv("S3_USE_SSL", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_USE_SSL: %w", err)
	}

	cfg.Advertise, err = strconv.ParseBool(getEnv("ADVERTISE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADVERTISE: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.SiteRateLimit < 0 {
		return fmt.Errorf("SITE_RATE_LIMIT must not be negative")
	}
	if c.S3Endpoint != "" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENDPOINT is set")
	}
	return nil
}

// ValidateForPosting checks configuration needed to post submissions.
func (c *Config) ValidateForPosting() error {
	return c.Validate()
}

// ValidateForServe checks all configuration needed for serve mode.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForPosting(); err != nil {
		return err
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required for serve")
	}
	if c.DiscordWebhookURL != "" && !strings.HasPrefix(c.DiscordWebhookURL, "https://") {
		return fmt.Errorf("DISCORD_WEBHOOK_URL must be an https url")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// splitList parses a comma separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
