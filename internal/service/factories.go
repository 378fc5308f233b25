package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/cache"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/config"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/database"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/events"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/memory"
	"github.com/davidleathers/interaction-analytics/internal/metrics"
	"github.com/davidleathers/interaction-analytics/internal/service/analytics"
	"github.com/davidleathers/interaction-analytics/internal/service/ingest"
)

// ServiceFactories builds services and their infrastructure from configuration
type ServiceFactories struct {
	config   *config.Config
	logger   *zap.Logger
	registry *metrics.Registry
}

// NewServiceFactories creates a new service factory collection. registry may be nil.
func NewServiceFactories(cfg *config.Config, logger *zap.Logger, registry *metrics.Registry) *ServiceFactories {
	return &ServiceFactories{config: cfg, logger: logger, registry: registry}
}

// Services is the assembled application. Close releases everything in
// reverse order of creation.
type Services struct {
	Repository interaction.Repository
	Analytics  analytics.Service
	Ingest     ingest.Service

	closers []func()
}

// Close releases connections held by the services
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build creates the store, the optional cache and NATS publisher, and both
// services. extra publishers are notified after NATS.
func (f *ServiceFactories) Build(ctx context.Context, extra ...ingest.Publisher) (*Services, error) {
	s := &Services{}

	repo, err := f.CreateRepository(ctx)
	if err != nil {
		return nil, err
	}
	s.Repository = repo
	s.closers = append(s.closers, repo.Close)

	resultCache, err := f.CreateResultCache()
	if err != nil {
		s.Close()
		return nil, err
	}
	if resultCache != nil {
		s.closers = append(s.closers, func() { _ = resultCache.Close() })
	}

	publishers, closePublishers, err := f.CreatePublishers()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closePublishers)
	publishers = append(publishers, extra...)

	if s.Analytics, err = f.CreateAnalyticsService(repo, resultCache); err != nil {
		s.Close()
		return nil, err
	}
	if s.Ingest, err = f.CreateIngestService(repo, resultCache, publishers); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// CreateRepository opens the configured event store, migrating postgres
// first when asked to
func (f *ServiceFactories) CreateRepository(ctx context.Context) (interaction.Repository, error) {
	switch f.config.Store.Driver {
	case config.StorePostgres:
		if f.config.Database.MigrateOnStart {
			if err := database.Migrate(f.config.Database.URL, f.logger); err != nil {
				return nil, err
			}
		}
		pool, err := database.NewPool(ctx, f.config.Database, f.logger)
		if err != nil {
			return nil, err
		}
		f.logger.Info("using postgres event store")
		return database.NewEventRepository(pool), nil

	case config.StoreMemory, "":
		f.logger.Info("using in-memory event store")
		return memory.NewEventStore(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", f.config.Store.Driver)
	}
}

// CreateResultCache returns nil when caching is disabled
func (f *ServiceFactories) CreateResultCache() (*cache.ResultCache, error) {
	if !f.config.Redis.Enabled {
		return nil, nil
	}
	client, err := cache.NewRedisClient(f.config.Redis, f.logger)
	if err != nil {
		return nil, err
	}
	return cache.NewResultCache(client, f.config.Redis.TTL, f.logger), nil
}

// CreatePublishers connects NATS when enabled. The returned func drains the
// connection.
func (f *ServiceFactories) CreatePublishers() ([]ingest.Publisher, func(), error) {
	if !f.config.NATS.Enabled {
		return nil, func() {}, nil
	}
	conn, err := events.Connect(f.config.NATS.URL, f.logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := conn.Drain(); err != nil {
			f.logger.Warn("failed to drain nats connection", zap.Error(err))
		}
	}
	return []ingest.Publisher{events.NewNATSPublisher(conn, f.config.NATS.SubjectPrefix, f.logger)}, closeFn, nil
}

func (f *ServiceFactories) CreateAnalyticsService(reader analytics.EventReader, resultCache *cache.ResultCache) (analytics.Service, error) {
	loc, err := f.config.Engine.TimeLocation()
	if err != nil {
		return nil, fmt.Errorf("invalid engine location: %w", err)
	}

	engineConfig := analytics.Config{
		Location:         loc,
		MaxBuckets:       f.config.Engine.MaxBuckets,
		PatternCacheSize: f.config.Engine.PatternCacheSize,
	}

	// a nil *ResultCache must not reach the interface
	if resultCache == nil {
		return analytics.NewService(f.logger, engineConfig, reader, nil, f.registry)
	}
	return analytics.NewService(f.logger, engineConfig, reader, resultCache, f.registry)
}

func (f *ServiceFactories) CreateIngestService(writer interaction.Writer, resultCache *cache.ResultCache, publishers []ingest.Publisher) (ingest.Service, error) {
	if resultCache == nil {
		return ingest.NewService(f.logger, writer, nil, publishers, f.registry)
	}
	return ingest.NewService(f.logger, writer, resultCache, publishers, f.registry)
}
