// catalogd fronts the upstream board-game catalog API for the meetup app:
// it serves item lookups and fuzzy name searches through a two-tier cache
// and a coalescing batch fetcher so concurrent clients generate as little
// upstream traffic as possible.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/meeplemeet/go-catalog/pkg/audit"
	"github.com/meeplemeet/go-catalog/pkg/bgg"
	"github.com/meeplemeet/go-catalog/pkg/cache"
	"github.com/meeplemeet/go-catalog/pkg/catalog"
	"github.com/meeplemeet/go-catalog/pkg/coalesce"
	"github.com/meeplemeet/go-catalog/pkg/gateway"
	"github.com/meeplemeet/go-catalog/pkg/microservice"
)

type config struct {
	LogLevel string
	HTTPPort string

	UpstreamBaseURL     string
	UpstreamBearerToken string
	UpstreamTimeout     time.Duration
	UpstreamRPS         float64

	BatchCap         int
	DebounceInterval time.Duration

	ItemCacheTTL    time.Duration
	ItemCacheSize   int
	SearchCacheTTL  time.Duration
	SearchCacheSize int

	// CacheBackend selects the durable tier: "firestore", "redis" or
	// "none" (in-process tier only).
	CacheBackend string

	ProjectID             string
	CredentialsFile       string
	ItemCacheCollection   string
	SearchCacheCollection string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuditEnabled bool
	AuditDataset string
	AuditTable   string

	ShutdownTimeout time.Duration
}

func loadConfig() config {
	_ = godotenv.Load()

	return config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", ":8080"),

		UpstreamBaseURL:     getEnv("UPSTREAM_BASE_URL", "https://boardgamegeek.com/xmlapi2"),
		UpstreamBearerToken: getEnv("UPSTREAM_BEARER_TOKEN", ""),
		UpstreamTimeout:     getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		UpstreamRPS:         getEnvFloat("UPSTREAM_RPS", 2),

		BatchCap:         getEnvInt("BATCH_CAP", 20),
		DebounceInterval: getEnvDuration("DEBOUNCE_INTERVAL", 100*time.Millisecond),

		ItemCacheTTL:    getEnvDuration("ITEM_CACHE_TTL", 24*time.Hour),
		ItemCacheSize:   getEnvInt("ITEM_CACHE_SIZE", 5000),
		SearchCacheTTL:  getEnvDuration("SEARCH_CACHE_TTL", time.Hour),
		SearchCacheSize: getEnvInt("SEARCH_CACHE_SIZE", 1000),

		CacheBackend: getEnv("CACHE_BACKEND", "none"),

		ProjectID:             getEnv("PROJECT_ID", ""),
		CredentialsFile:       getEnv("CREDENTIALS_FILE", ""),
		ItemCacheCollection:   getEnv("ITEM_CACHE_COLLECTION", "catalog_items"),
		SearchCacheCollection: getEnv("SEARCH_CACHE_COLLECTION", "catalog_searches"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AuditEnabled: getEnvBool("AUDIT_ENABLED", false),
		AuditDataset: getEnv("AUDIT_DATASET", "catalog_ops"),
		AuditTable:   getEnv("AUDIT_TABLE", "upstream_calls"),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func main() {
	cfg := loadConfig()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "catalogd").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var firestoreClient *firestore.Client
	if cfg.CacheBackend == "firestore" {
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		firestoreClient, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore client.")
		}
		defer func() { _ = firestoreClient.Close() }()
	}

	// Audit sink: batched BigQuery inserts of every upstream call, so
	// quota consumption against the upstream's rate limits stays visible.
	var recorder audit.Recorder = audit.Nop{}
	var batchRecorder *audit.BatchRecorder
	if cfg.AuditEnabled {
		bqClient, err := audit.NewBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery client.")
		}
		defer func() { _ = bqClient.Close() }()

		sink, err := audit.NewBigQuerySink(ctx, bqClient, &audit.BigQueryConfig{
			DatasetID: cfg.AuditDataset,
			TableID:   cfg.AuditTable,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create audit sink.")
		}

		batchRecorder = audit.NewBatchRecorder(&audit.BatchRecorderConfig{}, sink, logger)
		batchRecorder.Start(ctx)
		recorder = batchRecorder
	}

	client, err := bgg.NewClient(&bgg.Config{
		BaseURL:           cfg.UpstreamBaseURL,
		BearerToken:       cfg.UpstreamBearerToken,
		RequestTimeout:    cfg.UpstreamTimeout,
		RequestsPerSecond: cfg.UpstreamRPS,
	}, recorder, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create upstream client.")
	}

	coalescer, err := coalesce.New(coalesce.Config{
		BatchCap:         cfg.BatchCap,
		DebounceInterval: cfg.DebounceInterval,
		FetchTimeout:     cfg.UpstreamTimeout,
	}, client.FetchItems, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create batch coalescer.")
	}

	itemStore := newDurableStore[catalog.Item](ctx, cfg, cfg.ItemCacheCollection, firestoreClient, logger)
	searchStore := newDurableStore[[]catalog.SearchCandidate](ctx, cfg, cfg.SearchCacheCollection, firestoreClient, logger)

	itemCache, err := cache.NewTiered[catalog.Item](&cache.TieredConfig{
		MaxSize: cfg.ItemCacheSize,
		TTL:     cfg.ItemCacheTTL,
	}, itemStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create item cache.")
	}
	searchCache, err := cache.NewTiered[[]catalog.SearchCandidate](&cache.TieredConfig{
		MaxSize: cfg.SearchCacheSize,
		TTL:     cfg.SearchCacheTTL,
	}, searchStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create search cache.")
	}

	gw, err := gateway.New(gateway.Config{MaxIDsPerRequest: cfg.BatchCap}, itemCache, searchCache, coalescer, client, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create gateway.")
	}

	router := mux.NewRouter()
	gateway.NewHandler(gw, logger).Register(router)

	server := microservice.NewServer(logger, cfg.HTTPPort, router)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}
	logger.Info().Str("port", server.GetHTTPPort()).Str("cache_backend", cfg.CacheBackend).Msg("catalogd is serving.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	if batchRecorder != nil {
		if err := batchRecorder.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Audit recorder shutdown failed.")
		}
	}
	if err := gw.Close(); err != nil {
		logger.Error().Err(err).Msg("Gateway close failed.")
	}
	logger.Info().Msg("catalogd stopped.")
}

// newDurableStore builds the configured durable tier for one cache
// instance, or nil for an in-process-only cache.
func newDurableStore[V any](ctx context.Context, cfg config, collection string, firestoreClient *firestore.Client, logger zerolog.Logger) cache.DurableStore[V] {
	switch cfg.CacheBackend {
	case "firestore":
		store, err := cache.NewFirestoreStore[V](&cache.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: collection,
		}, firestoreClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore durable tier.")
		}
		return store
	case "redis":
		store, err := cache.NewRedisStore[V](ctx, &cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Redis durable tier.")
		}
		return store
	case "none":
		return nil
	default:
		logger.Fatal().Str("cache_backend", cfg.CacheBackend).Msg("Unknown cache backend.")
		return nil
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
