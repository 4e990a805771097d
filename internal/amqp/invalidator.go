package amqp

import (
	"context"

	"gastos/internal/cache"
	applog "gastos/internal/log"
)

// Publisher sends invalidation events. *Client implements it.
type Publisher interface {
	PublishInvalidation(ctx context.Context, msg *CacheInvalidationMessage) error
}

// EventInvalidator hands evictions to the cache-evictor worker instead of
// scanning the cache inline. When publishing fails it evicts through
// fallback so a broker outage never leaves stale pages behind.
type EventInvalidator struct {
	publisher Publisher
	fallback  cache.Invalidator
}

func NewEventInvalidator(publisher Publisher, fallback cache.Invalidator) *EventInvalidator {
	return &EventInvalidator{publisher: publisher, fallback: fallback}
}

// Invalidate returns 0 when the event was published: the keys are removed
// later by the consumer.
func (i *EventInvalidator) Invalidate(ctx context.Context, userID string, entries []cache.Entry) int {
	if len(entries) == 0 {
		return 0
	}

	err := i.publisher.PublishInvalidation(ctx, NewCacheInvalidationMessage(userID, entries))
	if err == nil {
		return 0
	}

	fields := applog.NewFields().WithUserID(userID).WithOperation(applog.OpInvalidate).WithError(err)
	logger().WarnContext(ctx, "Failed to publish cache invalidation, evicting inline",
		append(fields.ToSlice(), "entries", len(entries))...)
	if i.fallback == nil {
		return 0
	}
	return i.fallback.Invalidate(ctx, userID, entries)
}
