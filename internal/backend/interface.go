package backend

import (
	"context"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/cache"
	"gastos/internal/services"
	"gastos/internal/storage"
)

// Backend bundles the wired components every binary needs.
type Backend struct {
	Store       storage.Store
	CacheStore  cache.Store
	Pages       *cache.Coordinator
	Invalidator cache.Invalidator
	Origins     *services.OriginResolver

	Expenses   *services.ExpenseService
	Bulk       *services.BulkLedgerMutator
	Replicator *services.RecurringReplicator

	// Events is the AMQP client in events mode, nil otherwise.
	Events *amqp.Client
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string
	PostgresURL  string

	Cache           CacheType
	RedisURL        string
	CacheNamespace  string
	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheChunkSize  int
	// CacheCleanupInterval drives expiry sweeps of the in-process cache.
	CacheCleanupInterval time.Duration

	Invalidation InvalidationMode
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	Replicator      services.ReplicatorConfig
	OriginCacheTTL  time.Duration
	BillingHolidays []time.Time
}

// BackendType represents the type of record store
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// CacheType selects the month page cache.
type CacheType string

const (
	MemoryCache CacheType = "memory"
	RedisCache  CacheType = "redis"
)

func (ct CacheType) IsValid() bool {
	return ct == MemoryCache || ct == RedisCache
}

// Shared reports whether every process opening this cache sees the same
// keys. The in-process LRU is private to its process.
func (ct CacheType) Shared() bool {
	return ct == RedisCache
}

// InvalidationMode selects how mutations evict cached pages.
type InvalidationMode string

const (
	DirectInvalidation InvalidationMode = "direct"
	EventInvalidation  InvalidationMode = "events"
)

func (m InvalidationMode) IsValid() bool {
	return m == DirectInvalidation || m == EventInvalidation
}
