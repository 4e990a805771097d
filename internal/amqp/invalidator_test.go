package amqp

import (
	"context"
	"errors"
	"testing"

	"gastos/internal/cache"
	"gastos/internal/core"
)

type stubPublisher struct {
	err  error
	sent []*CacheInvalidationMessage
}

func (p *stubPublisher) PublishInvalidation(_ context.Context, msg *CacheInvalidationMessage) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(_ context.Context, _ string, entries []cache.Entry) int {
	c.calls++
	return len(entries)
}

func TestEventInvalidator(t *testing.T) {
	entries := []cache.Entry{{Month: core.NewMonthKey(2025, 3), Mode: core.BillingView}}

	tests := []struct {
		name         string
		publishErr   error
		entries      []cache.Entry
		wantSent     int
		wantFallback int
	}{
		{"published", nil, entries, 1, 0},
		{"nothing to send", nil, nil, 0, 0},
		{"broker down", ErrCircuitOpen, entries, 0, 1},
		{"publish error", errors.New("connection reset"), entries, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &stubPublisher{err: tt.publishErr}
			fallback := &countingInvalidator{}
			inv := NewEventInvalidator(pub, fallback)

			inv.Invalidate(context.Background(), "u", tt.entries)

			if len(pub.sent) != tt.wantSent {
				t.Errorf("sent %d messages, want %d", len(pub.sent), tt.wantSent)
			}
			if fallback.calls != tt.wantFallback {
				t.Errorf("fallback called %d times, want %d", fallback.calls, tt.wantFallback)
			}
			if tt.wantSent == 1 && pub.sent[0].UserID != "u" {
				t.Errorf("message user = %q", pub.sent[0].UserID)
			}
		})
	}
}
