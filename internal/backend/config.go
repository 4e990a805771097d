package backend

import (
	"fmt"

	"gastos/internal/config"
	"gastos/internal/services"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	c := Config{
		Type: BackendType(appConfig.DataBackend),

		SQLiteDBPath: appConfig.SQLiteDBPath,
		PostgresURL:  appConfig.PostgresURL,

		Cache:           CacheType(appConfig.CacheBackend),
		RedisURL:        appConfig.RedisURL,
		CacheNamespace:  appConfig.CacheNamespace,
		CacheTTL:        appConfig.CacheTTL,
		CacheMaxEntries: appConfig.CacheMaxEntries,
		CacheChunkSize:  appConfig.CacheDeleteChunkSize,

		CacheCleanupInterval: appConfig.CacheCleanupInterval,

		Invalidation: InvalidationMode(appConfig.InvalidationMode),
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		Replicator: services.ReplicatorConfig{
			ShardIndex:         appConfig.ReplicationShardIndex,
			ShardCount:         appConfig.ReplicationShardCount,
			Concurrency:        appConfig.ReplicationConcurrency,
			BillingMonthPolicy: services.BillingMonthPolicy(appConfig.BillingMonthPolicy),
		},
		OriginCacheTTL:  appConfig.OriginCacheTTL,
		BillingHolidays: appConfig.BillingHolidays,
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s (valid: %v)", c.Type, GetBackendTypes())
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.PostgresURL == "" {
			return fmt.Errorf("Postgres URL is required for postgres backend")
		}
	}

	if c.Cache != "" && !c.Cache.IsValid() {
		return fmt.Errorf("invalid cache type: %s", c.Cache)
	}
	if c.Cache == RedisCache && c.RedisURL == "" {
		return fmt.Errorf("Redis URL is required for redis cache")
	}

	if c.Invalidation != "" && !c.Invalidation.IsValid() {
		return fmt.Errorf("invalid invalidation mode: %s", c.Invalidation)
	}
	if c.Invalidation == EventInvalidation && (c.AMQPURL == "" || c.AMQPQueue == "") {
		return fmt.Errorf("AMQP URL and queue are required for event invalidation")
	}
	// Events are applied by cache-evictor, so publisher and consumer must
	// share one cache or the publisher keeps serving its old pages.
	if c.Invalidation == EventInvalidation && !c.Cache.Shared() {
		return fmt.Errorf("event invalidation requires a shared cache (redis), got %q", c.Cache)
	}

	if p := c.Replicator.BillingMonthPolicy; p != "" && !p.IsValid() {
		return fmt.Errorf("invalid billing month policy: %s", p)
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, PostgresBackend, MemoryBackend}
}
