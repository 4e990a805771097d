package backend

import (
	"context"
	"errors"
	"fmt"

	"gastos/internal/amqp"
	"gastos/internal/billing"
	"gastos/internal/cache"
	applog "gastos/internal/log"
	"gastos/internal/services"
	"gastos/internal/storage"
	"gastos/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentBackend),
	}
}

// CreateBackend opens the record store and the cache and wires the services
// on top of them. On error everything opened so far is closed.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	store, err := f.createStore(ctx, config)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.Close)

	cacheStore, err := f.createCache(ctx, config)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, cacheStore.Close)

	if cleaner, ok := cacheStore.(cache.Cleaner); ok && config.CacheCleanupInterval > 0 {
		manager := cache.NewManager()
		manager.Register(cleaner)
		manager.StartCleanup(config.CacheCleanupInterval)
		closers = append(closers, func() error { manager.Stop(); return nil })
	}

	pages := cache.NewCoordinator(cacheStore, cache.CoordinatorConfig{
		Namespace: config.CacheNamespace,
		TTL:       config.CacheTTL,
		ChunkSize: config.CacheChunkSize,
	})

	var (
		invalidator cache.Invalidator = pages
		events      *amqp.Client
	)
	if config.Invalidation == EventInvalidation {
		events, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, invalidating inline",
				applog.FieldError, err)
		} else {
			closers = append(closers, events.Close)
			invalidator = amqp.NewEventInvalidator(events, pages)
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	origins := services.NewOriginResolver(config.OriginCacheTTL, billing.NewCalculator(config.BillingHolidays...))

	b := &Backend{
		Store:       store,
		CacheStore:  cacheStore,
		Pages:       pages,
		Invalidator: invalidator,
		Origins:     origins,
		Expenses:    services.NewExpenseService(store, pages, invalidator, origins),
		Bulk:        services.NewBulkLedgerMutator(store, invalidator, origins),
		Replicator:  services.NewRecurringReplicator(store, invalidator, origins, config.Replicator),
		Events:      events,
	}

	f.logger.InfoContext(ctx, "Backend ready",
		applog.FieldBackend, config.Type,
		"cache", config.Cache,
		"invalidation", invalidationLabel(events),
		"holidays", len(config.BillingHolidays))

	return &BackendResult{Backend: b, Cleanup: cleanup}, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		return repo, nil
	case PostgresBackend:
		repo, err := storage.NewPostgresRepository(ctx, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		return repo, nil
	case MemoryBackend:
		f.logger.WarnContext(ctx, "Using in-memory record store, data is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createCache(ctx context.Context, config Config) (cache.Store, error) {
	switch config.Cache {
	case RedisCache:
		rs, err := cache.NewRedisStore(ctx, config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis cache: %w", err)
		}
		return rs, nil
	case MemoryCache, "":
		size := config.CacheMaxEntries
		if size <= 0 {
			size = 10000
		}
		return cache.NewLRUCache(size, config.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", config.Cache)
	}
}

func invalidationLabel(events *amqp.Client) string {
	if events != nil {
		return string(EventInvalidation)
	}
	return string(DirectInvalidation)
}
