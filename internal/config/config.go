package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Placeholder values shipped in .env.example; treating them as configured
// credentials would burn a refresh run on guaranteed auth failures.
const (
	placeholderApifyToken = "YOUR_APIFY_API_TOKEN"
	placeholderYouTubeKey = "YOUR_YOUTUBE_API_KEY"
	placeholderOpenAIKey  = "YOUR_OPENAI_API_KEY"
)

// Config holds the full application configuration, built once from the
// environment at startup and passed to every component explicitly.
type Config struct {
	Env      string // Environment (development/production)
	LogLevel string // Log level (debug, info, warn, error)

	DatabaseURL          string // Primary Postgres connection URL
	SecondaryDatabaseURL string // Optional second shard, empty when absent

	ApifyToken    string // Bearer token for the scraping job API
	YouTubeAPIKey string // Key for the YouTube Data API
	OpenAIAPIKey  string // Key for the comment classifier

	SlackWebhookURL string // Incoming webhook; empty disables notifications
	SentryDSN       string // Sentry DSN for error tracking

	DaysThreshold int           // Metrics older than this many days are stale
	RunInterval   time.Duration // Interval between scheduled runs
	RunOnStart    bool          // Trigger a run immediately in scheduled mode

	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for the Prometheus metrics endpoint
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
}

// FromEnv builds a Config from environment variables, applying defaults
// for everything that has a sensible one.
func FromEnv() *Config {
	return &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SecondaryDatabaseURL: os.Getenv("DATABASE_URL_2"),
		ApifyToken:           os.Getenv("APIFY_API_TOKEN"),
		YouTubeAPIKey:        os.Getenv("YOUTUBE_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		SlackWebhookURL:      os.Getenv("SLACK_WEBHOOK_URL"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		DaysThreshold:        getEnvInt("DAYS_THRESHOLD", 2),
		RunInterval:          getEnvDuration("RUN_INTERVAL", 2*time.Hour),
		RunOnStart:           getEnvWithDefault("RUN_ON_START", "false") == "true",
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}
}

// Validate rejects configurations that would fail on the first network
// call. A missing or placeholder credential is a startup fault, never a
// per-post error.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ApifyToken == "" || c.ApifyToken == placeholderApifyToken {
		return fmt.Errorf("APIFY_API_TOKEN is missing or still set to the placeholder value")
	}
	if c.YouTubeAPIKey == "" || c.YouTubeAPIKey == placeholderYouTubeKey {
		return fmt.Errorf("YOUTUBE_API_KEY is missing or still set to the placeholder value")
	}
	if c.OpenAIAPIKey == "" || c.OpenAIAPIKey == placeholderOpenAIKey {
		return fmt.Errorf("OPENAI_API_KEY is missing or still set to the placeholder value")
	}
	if c.DaysThreshold < 0 {
		return fmt.Errorf("DAYS_THRESHOLD must not be negative")
	}
	if c.SlackWebhookURL == "" {
		log.Warn().Msg("SLACK_WEBHOOK_URL not configured, notifications disabled")
	}
	return nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

// getEnvDuration retrieves an environment variable as a duration ("90m", "2h")
// or returns a default value if not set or invalid
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
		return defaultValue
	}

	return result
}
