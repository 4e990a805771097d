package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gastos/internal/core"
)

const (
	DefaultNamespace = "gastos"
	DefaultChunkSize = 500
	DefaultScanCount = 200
	DefaultTTL       = 10 * time.Minute
)

// Entry names one cached month view: every page of it is evicted together.
type Entry struct {
	Month core.MonthKey `json:"month"`
	Mode  core.ViewMode `json:"mode"`
}

// Invalidator evicts the cached pages of the given month views of a user.
// Implementations never fail the caller; they return the number of keys
// removed, which is zero for asynchronous implementations.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string, entries []Entry) int
}

// BuildInvalidationEntries returns the calendar view of calendarMonth and
// the billing view the record appears in: its billing month, or the
// calendar month when it has none.
func BuildInvalidationEntries(calendarMonth core.MonthKey, billingMonth *core.MonthKey) []Entry {
	billing := calendarMonth
	if billingMonth != nil {
		billing = *billingMonth
	}
	return []Entry{
		{Month: calendarMonth, Mode: core.CalendarView},
		{Month: billing, Mode: core.BillingView},
	}
}

// EntriesFor returns the entries affected by the given expenses, without
// duplicates and in first-seen order.
func EntriesFor(expenses ...core.Expense) []Entry {
	set := NewEntrySet()
	for _, e := range expenses {
		set.Add(BuildInvalidationEntries(e.CalendarMonth(), e.BillingMonth)...)
	}
	return set.Entries()
}

// EntrySet accumulates entries without duplicates.
type EntrySet struct {
	seen  map[Entry]struct{}
	order []Entry
}

func NewEntrySet() *EntrySet {
	return &EntrySet{seen: make(map[Entry]struct{})}
}

func (s *EntrySet) Add(entries ...Entry) {
	for _, e := range entries {
		if _, ok := s.seen[e]; ok {
			continue
		}
		s.seen[e] = struct{}{}
		s.order = append(s.order, e)
	}
}

func (s *EntrySet) Len() int { return len(s.order) }

func (s *EntrySet) Entries() []Entry {
	return append([]Entry(nil), s.order...)
}

type CoordinatorConfig struct {
	// Namespace is the leading key segment shared by every key of this
	// deployment.
	Namespace string
	TTL       time.Duration
	// ChunkSize caps the number of keys passed to a single Del call.
	ChunkSize int
	// ScanCount is the COUNT hint of each Scan call.
	ScanCount int64
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Namespace: DefaultNamespace,
		TTL:       DefaultTTL,
		ChunkSize: DefaultChunkSize,
		ScanCount: DefaultScanCount,
	}
}

// Coordinator builds month-page keys and evicts them by pattern.
//
// Keys look like {namespace}:{mode}:{userId}:{YYYY-MM}:p{page}:l{limit}.
// Cache failures are logged and swallowed: the record store stays the
// source of truth and stale pages expire with their TTL.
//
// Read-through is not atomic with invalidation. A reader that loaded rows
// before a concurrent commit can SetPage after that commit's Invalidate
// ran, and the stale page then lives until its TTL expires.
type Coordinator struct {
	store  Store
	config CoordinatorConfig
}

func NewCoordinator(store Store, config CoordinatorConfig) *Coordinator {
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ScanCount <= 0 {
		config.ScanCount = DefaultScanCount
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Coordinator{store: store, config: config}
}

// Key returns the cache key of one page of a month view.
func (c *Coordinator) Key(userID string, month core.MonthKey, mode core.ViewMode, page, limit int) string {
	return fmt.Sprintf("%s:%s:%s:%s:p%d:l%d", c.config.Namespace, mode, userID, month, page, limit)
}

// Pattern matches every page of one month view. The user id is escaped so
// glob characters in it match literally.
func (c *Coordinator) Pattern(userID string, month core.MonthKey, mode core.ViewMode) string {
	return fmt.Sprintf("%s:%s:%s:%s:*", escapeGlob(c.config.Namespace), mode, escapeGlob(userID), month)
}

// GetPage reads a cached page. Any cache or decoding error is a miss.
func (c *Coordinator) GetPage(ctx context.Context, key string) (core.MonthPage, bool) {
	var page core.MonthPage
	b, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Cache read failed", "key", key, "error", err)
		return page, false
	}
	if !ok {
		return page, false
	}
	if err := json.Unmarshal(b, &page); err != nil {
		slog.WarnContext(ctx, "Discarding undecodable cache entry", "key", key, "error", err)
		return page, false
	}
	return page, true
}

// SetPage stores a page with the configured TTL.
func (c *Coordinator) SetPage(ctx context.Context, key string, page core.MonthPage) {
	b, err := json.Marshal(page)
	if err != nil {
		slog.WarnContext(ctx, "Failed to encode month page", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, b, c.config.TTL); err != nil {
		slog.WarnContext(ctx, "Cache write failed", "key", key, "error", err)
	}
}

// Invalidate evicts every cached page of each entry and returns the number
// of keys deleted.
func (c *Coordinator) Invalidate(ctx context.Context, userID string, entries []Entry) int {
	set := NewEntrySet()
	set.Add(entries...)

	total := 0
	for _, e := range set.Entries() {
		total += c.invalidateEntry(ctx, userID, e)
	}

	if total > 0 {
		slog.DebugContext(ctx, "Cache invalidated",
			"user_id", userID,
			"entries", set.Len(),
			"keys_deleted", total)
	}
	return total
}

func (c *Coordinator) invalidateEntry(ctx context.Context, userID string, e Entry) int {
	pattern := c.Pattern(userID, e.Month, e.Mode)

	var (
		cursor  uint64
		pending []string
		deleted int
	)
	for {
		keys, next, err := c.store.Scan(ctx, cursor, pattern, c.config.ScanCount)
		if err != nil {
			slog.WarnContext(ctx, "Cache scan failed",
				"pattern", pattern,
				"error", err)
			break
		}
		if next != 0 && next == cursor {
			slog.WarnContext(ctx, "Cache scan cursor did not advance, aborting",
				"pattern", pattern,
				"cursor", cursor)
			return deleted
		}

		pending = append(pending, keys...)
		for len(pending) >= c.config.ChunkSize {
			deleted += c.deleteChunk(ctx, pattern, pending[:c.config.ChunkSize])
			pending = pending[c.config.ChunkSize:]
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(pending) > 0 {
		deleted += c.deleteChunk(ctx, pattern, pending)
	}
	return deleted
}

func (c *Coordinator) deleteChunk(ctx context.Context, pattern string, keys []string) int {
	n, err := c.store.Del(ctx, keys...)
	if err != nil {
		slog.WarnContext(ctx, "Cache delete failed",
			"pattern", pattern,
			"keys", len(keys),
			"error", err)
		return 0
	}
	return int(n)
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
