package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/cache"
	applog "gastos/internal/log"
)

// Consumer delivers invalidation events. *amqp.Client implements it.
type Consumer interface {
	ConsumeInvalidations(ctx context.Context, handler func(context.Context, *amqp.CacheInvalidationMessage) error) error
}

// EvictionWorker applies invalidation events published by the services:
// it performs the pattern scan and chunked delete the publisher skipped.
type EvictionWorker struct {
	consumer    Consumer
	invalidator cache.Invalidator

	processed atomic.Int64
	evicted   atomic.Int64
}

func NewEvictionWorker(consumer Consumer, invalidator cache.Invalidator) *EvictionWorker {
	return &EvictionWorker{
		consumer:    consumer,
		invalidator: invalidator,
	}
}

// Run consumes events until ctx is done.
func (w *EvictionWorker) Run(ctx context.Context) error {
	if w.consumer == nil || w.invalidator == nil {
		return fmt.Errorf("eviction worker not properly initialized")
	}
	logger := applog.FromContext(ctx)
	logger.InfoContext(ctx, "Eviction worker started")
	err := w.consumer.ConsumeInvalidations(ctx, w.HandleInvalidationMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Eviction worker failed",
			applog.NewFields().WithOperation(applog.OpInvalidate).WithError(err).ToSlice()...)
	}
	logger.InfoContext(ctx, "Eviction worker stopped",
		"processed", w.processed.Load(),
		"evicted", w.evicted.Load())
	return err
}

// HandleInvalidationMessage processes a single invalidation event. Invalid
// events are logged and acknowledged: redelivering them cannot succeed.
func (w *EvictionWorker) HandleInvalidationMessage(ctx context.Context, msg *amqp.CacheInvalidationMessage) error {
	logger := applog.FromContext(ctx)
	if msg.UserID == "" {
		logger.WarnContext(ctx, "Dropping invalidation message without user id",
			"entries", len(msg.Entries))
		return nil
	}

	valid := msg.Entries[:0:0]
	for _, e := range msg.Entries {
		if e.Month.IsZero() || !e.Mode.IsValid() {
			logger.WarnContext(ctx, "Skipping invalid invalidation entry",
				applog.NewFields().WithUserID(msg.UserID).WithPeriod(e.Month, e.Mode).ToSlice()...)
			continue
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return nil
	}

	removed := w.invalidator.Invalidate(ctx, msg.UserID, valid)
	w.processed.Add(1)
	w.evicted.Add(int64(removed))

	logger.InfoContext(ctx, "Processed invalidation message",
		applog.FieldUserID, msg.UserID,
		"entries", len(valid),
		"removed", removed,
		"lag", time.Since(msg.Timestamp).Round(time.Millisecond))

	return nil
}

// Stats returns the number of messages applied and keys removed so far.
func (w *EvictionWorker) Stats() (processed, evicted int64) {
	return w.processed.Load(), w.evicted.Load()
}
