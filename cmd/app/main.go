package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/itracker-hq/metrics-bot/internal/analysis"
	"github.com/itracker-hq/metrics-bot/internal/apify"
	"github.com/itracker-hq/metrics-bot/internal/bot"
	"github.com/itracker-hq/metrics-bot/internal/config"
	"github.com/itracker-hq/metrics-bot/internal/db"
	"github.com/itracker-hq/metrics-bot/internal/notifications"
	"github.com/itracker-hq/metrics-bot/internal/observability"
	"github.com/itracker-hq/metrics-bot/internal/openai"
	"github.com/itracker-hq/metrics-bot/internal/providers"
	"github.com/itracker-hq/metrics-bot/internal/staleness"
)

func main() {
	runOnce := flag.Bool("once", false, "run a single refresh pass and exit")
	flag.Parse()

	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := config.FromEnv()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialise Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			TracesSampleRate: func() float64 {
				if cfg.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            cfg.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", cfg.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect the primary shard, and the secondary when configured.
	primary, err := db.New(&db.Config{DatabaseURL: cfg.DatabaseURL, Name: "primary"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to primary database")
	}
	defer primary.Close()

	shards := []*db.DB{primary}
	if cfg.SecondaryDatabaseURL != "" {
		secondary, err := db.New(&db.Config{DatabaseURL: cfg.SecondaryDatabaseURL, Name: "secondary"})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to secondary database")
		}
		defer secondary.Close()
		shards = append(shards, secondary)
	}

	var metricsSrv *http.Server
	if cfg.ObservabilityEnabled {
		obsProviders, err := observability.Init(ctx, observability.Config{
			Enabled:        true,
			ServiceName:    "itracker-metrics-bot",
			Environment:    cfg.Env,
			OTLPEndpoint:   strings.TrimSpace(cfg.OTLPEndpoint),
			OTLPInsecure:   cfg.OTLPInsecure,
			MetricsAddress: cfg.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability, continuing without it")
		} else if obsProviders != nil {
			defer func() {
				if err := obsProviders.Shutdown(context.Background()); err != nil {
					log.Warn().Err(err).Msg("Observability shutdown failed")
				}
			}()

			mux := http.NewServeMux()
			mux.Handle("/metrics", obsProviders.MetricsHandler)
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				for _, shard := range shards {
					if err := shard.Health(r.Context()); err != nil {
						http.Error(w, err.Error(), http.StatusServiceUnavailable)
						return
					}
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint listening")
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("Metrics server failed")
				}
			}()
		}
	}

	selectorStores := make([]staleness.Store, len(shards))
	orchestratorStores := make([]bot.MetricsStore, len(shards))
	for i, shard := range shards {
		selectorStores[i] = shard
		orchestratorStores[i] = shard
	}

	jobClient := apify.NewClient(apify.DefaultConfig(cfg.ApifyToken))
	registry := providers.NewRegistry(
		providers.NewTikTok(jobClient),
		providers.NewInstagram(jobClient),
		providers.NewTwitter(jobClient),
		providers.NewYouTube(providers.DefaultYouTubeConfig(cfg.YouTubeAPIKey)),
	)

	classifier := openai.NewClient(openai.DefaultConfig(cfg.OpenAIAPIKey))
	analyzer := analysis.NewAnalyzer(classifier, nil)
	notifier := notifications.NewNotifier(cfg.SlackWebhookURL)
	selector := staleness.NewSelector(selectorStores...)

	botConfig := bot.DefaultConfig()
	botConfig.DaysThreshold = cfg.DaysThreshold
	orchestrator := bot.NewOrchestrator(selector, registry, orchestratorStores, analyzer, notifier, botConfig)

	if *runOnce {
		log.Info().Msg("Running single refresh pass")
		if _, err := orchestrator.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Refresh run failed")
			shutdownMetrics(metricsSrv)
			os.Exit(1)
		}
		shutdownMetrics(metricsSrv)
		return
	}

	log.Info().
		Dur("interval", cfg.RunInterval).
		Bool("run_on_start", cfg.RunOnStart).
		Msg("Starting scheduled refresh loop")

	if cfg.RunOnStart {
		if _, err := orchestrator.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Initial refresh run failed")
		}
	}

	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutdown signal received, stopping")
			shutdownMetrics(metricsSrv)
			return
		case <-ticker.C:
			if _, err := orchestrator.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Scheduled refresh run failed")
			}
		}
	}
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "itracker-metrics-bot").
			Logger()
	}
}
