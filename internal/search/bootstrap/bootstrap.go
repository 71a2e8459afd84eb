// Package bootstrap assembles the rebuild pipeline from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/adapters/db/repository"
	"github.com/tegendraads/registry/internal/search/adapters/elastic"
	"github.com/tegendraads/registry/internal/search/adapters/registry"
	"github.com/tegendraads/registry/internal/search/app/builder"
	"github.com/tegendraads/registry/internal/search/app/converter"
	"github.com/tegendraads/registry/internal/search/app/enrich"
	"github.com/tegendraads/registry/internal/search/app/service"
	"github.com/tegendraads/registry/pkg/cache"
	"github.com/tegendraads/registry/pkg/codec"
	"github.com/tegendraads/registry/pkg/config"
	"github.com/tegendraads/registry/pkg/database"
	"github.com/tegendraads/registry/pkg/events"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/telemetry"
)

// App holds every long lived dependency of the indexer.
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Telemetry *telemetry.Telemetry
	DB        *database.DB
	Redis     *redis.Client
	Publisher events.Publisher
	Builder   *builder.Builder
	Service   *service.RebuildService

	closers []func(ctx context.Context) error
}

// New wires every dependency of the indexer. On error, whatever was already
// opened is closed again.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log}
	if err := app.init(); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) init() error {
	cfg, log := a.Config, a.Logger

	var err error
	a.Telemetry, err = telemetry.New(cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.onClose(a.Telemetry.Close)

	a.DB, err = database.New(cfg.Database.ToDatabaseConfig(), log.With("component", "ledger"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.onClose(func(context.Context) error { return a.DB.Close() })
	if err := a.DB.Migrate(&indexing.IndexRun{}); err != nil {
		return fmt.Errorf("failed to migrate run ledger: %w", err)
	}

	jsonCodec := codec.Default()

	var shared cache.Cache
	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		a.onClose(func(context.Context) error { return a.Redis.Close() })
		if err := a.Redis.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		shared = cache.NewRedisCache(a.Redis, cache.Options{
			Namespace:  "dataset-indexer",
			DefaultTTL: cfg.Enrichment.CacheTTL,
			Codec:      jsonCodec,
		})
	}

	a.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.ToKafkaConfig())
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		a.Publisher = publisher
		a.onClose(func(context.Context) error { return publisher.Close() })
	}

	source, err := registry.NewClient(registry.Config{
		BaseURL:   cfg.Source.URL,
		Timeout:   cfg.Source.Timeout,
		RateLimit: cfg.Source.RateLimit,
		Burst:     cfg.Source.Burst,
		Breaker:   cfg.Source.Breaker.ToCircuitBreakerConfig("registry"),
		Codec:     jsonCodec,
	}, log.With("component", "registry"))
	if err != nil {
		return err
	}

	orgs := enrich.NewCachedOrganizations(source, enrich.Options{
		Size:   cfg.Enrichment.CacheSize,
		TTL:    cfg.Enrichment.CacheTTL,
		Shared: shared,
	}, log)

	sinks := elastic.NewSinkFactory(elastic.Config{
		Addresses:    cfg.Elasticsearch.Addresses,
		Username:     cfg.Elasticsearch.Username,
		Password:     cfg.Elasticsearch.Password,
		BulkTimeout:  cfg.Elasticsearch.BulkTimeout,
		MaxIdleConns: cfg.Elasticsearch.MaxIdleConns,
		Codec:        jsonCodec,
	}, log.With("component", "elasticsearch"))

	a.Builder, err = builder.New(
		source,
		converter.New(orgs, log),
		sinks,
		builder.Options{
			Alias:           cfg.Elasticsearch.Alias,
			IndexPrefix:     cfg.Elasticsearch.IndexPrefix,
			PageSize:        cfg.Indexer.PageSize,
			Workers:         cfg.Indexer.Workers,
			QueueSize:       cfg.Indexer.QueueSize,
			JobTimeout:      cfg.Indexer.JobTimeout,
			BuildSettings:   elastic.BuildSettings(),
			ServingSettings: elastic.ServingSettings(),
			Mapping:         elastic.Mapping(),
		},
		log.With("component", "builder"),
		a.Telemetry,
	)
	if err != nil {
		return err
	}

	a.Service = service.NewRebuildService(
		a.Builder,
		repository.NewRunRepository(a.DB),
		a.Publisher,
		service.Config{
			PushgatewayURL: cfg.Metrics.PushgatewayURL,
			MetricsJob:     cfg.Metrics.Job,
		},
		log,
	)
	a.onClose(func(context.Context) error {
		a.Service.Close()
		return nil
	})

	return nil
}

// Ping checks the database, and redis when enabled.
func (a *App) Ping(ctx context.Context) map[string]error {
	results := map[string]error{}
	if sqlDB, err := a.DB.DB.DB(); err != nil {
		results["database"] = err
	} else {
		results["database"] = sqlDB.PingContext(ctx)
	}
	if a.Redis != nil {
		results["redis"] = a.Redis.Ping(ctx).Err()
	}
	return results
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Error("Failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}
