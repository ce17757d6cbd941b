// Package db is the Postgres persistence layer: tracked posts, metrics
// snapshots and extracted topics, one DB value per shard.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents a PostgreSQL database connection for one shard.
type DB struct {
	client *sql.DB
	config *Config
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DatabaseURL  string        // Connection URL
	Name         string        // Shard name used in logs and results
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
}

// New creates a new PostgreSQL database connection and initialises the
// schema.
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if config.Name == "" {
		config.Name = "primary"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	log.Info().Str("shard", config.Name).Msg("Database connection established")

	return &DB{client: client, config: config}, nil
}

// NewWithClient wraps an existing connection. Used by tests.
func NewWithClient(client *sql.DB, name string) *DB {
	return &DB{client: client, config: &Config{Name: name}}
}

// Name returns the shard name.
func (db *DB) Name() string {
	return db.config.Name
}

// Health verifies the shard is reachable.
func (db *DB) Health(ctx context.Context) error {
	if err := db.client.PingContext(ctx); err != nil {
		return fmt.Errorf("shard %s unreachable: %w", db.config.Name, err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.client.Close()
}

// setupSchema creates the required tables and indexes if they don't exist.
func setupSchema(client *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS influencer_posts (
			id TEXT PRIMARY KEY,
			post_url TEXT NOT NULL,
			platform TEXT NOT NULL,
			influencer_id TEXT,
			campaign_id TEXT,
			likes_count BIGINT NOT NULL DEFAULT 0,
			comments_count BIGINT NOT NULL DEFAULT 0,
			views_count BIGINT NOT NULL DEFAULT 0,
			engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS post_metrics (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			content_id TEXT,
			post_url TEXT,
			title TEXT,
			likes_count BIGINT NOT NULL DEFAULT 0,
			comments_count BIGINT NOT NULL DEFAULT 0,
			views_count BIGINT NOT NULL DEFAULT 0,
			engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			platform_data JSONB,
			quota_used INTEGER NOT NULL DEFAULT 0,
			api_timestamp BIGINT NOT NULL DEFAULT 0,
			api_success BOOLEAN NOT NULL DEFAULT FALSE,
			api_error TEXT,
			raw_response JSONB,
			comments_analysis JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS post_topics (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			topic_label TEXT NOT NULL,
			topic_description TEXT,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			comment_count INTEGER NOT NULL DEFAULT 0,
			sentiment_distribution JSONB,
			extracted_method TEXT,
			language_detected TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_post_metrics_post_platform
			ON post_metrics (post_id, platform)`,
		`CREATE INDEX IF NOT EXISTS idx_post_metrics_success_created
			ON post_metrics (api_success, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_post_topics_post
			ON post_topics (post_id)`,
	}

	for _, stmt := range statements {
		if _, err := client.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}
