package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gastos/internal/billing"
	"gastos/internal/cache"
	"gastos/internal/core"
	applog "gastos/internal/log"
	"gastos/internal/storage"
)

// BillingMonthPolicy decides the billing month of replicated occurrences.
type BillingMonthPolicy string

const (
	// RecomputeBillingMonth derives the billing month of each occurrence
	// from its own date and the source's origin.
	RecomputeBillingMonth BillingMonthPolicy = "recompute"
	// InheritBillingMonth keeps the source's billing month, falling back to
	// the occurrence's calendar month.
	InheritBillingMonth BillingMonthPolicy = "inherit"
)

func (p BillingMonthPolicy) IsValid() bool {
	return p == RecomputeBillingMonth || p == InheritBillingMonth
}

// ReplicatorConfig holds configuration for the recurring replicator
type ReplicatorConfig struct {
	// ShardIndex and ShardCount restrict a run to the tenants whose hash
	// falls in one shard. ShardCount <= 1 processes every tenant.
	ShardIndex int
	ShardCount int

	// Concurrency bounds the tenants processed in parallel (default: 4)
	Concurrency int

	BillingMonthPolicy BillingMonthPolicy
}

func DefaultReplicatorConfig() ReplicatorConfig {
	return ReplicatorConfig{
		ShardIndex:         0,
		ShardCount:         1,
		Concurrency:        4,
		BillingMonthPolicy: RecomputeBillingMonth,
	}
}

// ReplicationResult summarises one run.
type ReplicationResult struct {
	Tenants int
	Sources int
	Created int
	// Skipped counts occurrences whose fingerprint already existed.
	Skipped int
	// Failed counts sources left untouched because of an error.
	Failed int
}

func (r *ReplicationResult) add(o ReplicationResult) {
	r.Tenants += o.Tenants
	r.Sources += o.Sources
	r.Created += o.Created
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// RecurringReplicator creates the monthly occurrences of recurring and fixed
// expenses up to a given instant. Runs are idempotent: each source keeps a
// replication cursor and every occurrence carries a fingerprint.
type RecurringReplicator struct {
	store       storage.Store
	invalidator cache.Invalidator
	origins     *OriginResolver
	config      ReplicatorConfig
	newID       func() string
}

func NewRecurringReplicator(store storage.Store, invalidator cache.Invalidator, origins *OriginResolver, config ReplicatorConfig) *RecurringReplicator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.ShardCount <= 0 {
		config.ShardCount = 1
	}
	if config.BillingMonthPolicy == "" {
		config.BillingMonthPolicy = RecomputeBillingMonth
	}
	if origins == nil {
		origins = NewOriginResolver(0, billing.NewCalculator())
	}
	return &RecurringReplicator{
		store:       store,
		invalidator: invalidator,
		origins:     origins,
		config:      config,
		newID:       uuid.NewString,
	}
}

// InShard reports whether userID belongs to shard index of count.
func InShard(userID string, index, count int) bool {
	if count <= 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32()%uint32(count)) == index
}

// ProcessRecurringExpenses replicates every due source of the tenants in
// this replicator's shard. Tenants run concurrently; the sources of one
// tenant run oldest first, one at a time. Cache invalidation is batched per
// user and issued once all tenants are done.
func (p *RecurringReplicator) ProcessRecurringExpenses(ctx context.Context, now time.Time) (ReplicationResult, error) {
	if p.store == nil {
		return ReplicationResult{}, fmt.Errorf("replicator not properly initialized")
	}
	now = now.UTC()

	tenants, err := p.store.RecurringTenants(ctx)
	if err != nil {
		return ReplicationResult{}, fmt.Errorf("list recurring tenants: %w", err)
	}

	var (
		mu      sync.Mutex
		total   ReplicationResult
		touched = make(map[string]*cache.EntrySet)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, userID := range tenants {
		if !InShard(userID, p.config.ShardIndex, p.config.ShardCount) {
			continue
		}
		userID := userID
		g.Go(func() error {
			res, entries, err := p.processTenant(gctx, userID, now)
			mu.Lock()
			defer mu.Unlock()
			total.add(res)
			if entries.Len() > 0 {
				touched[userID] = entries
			}
			return err
		})
	}
	runErr := g.Wait()

	// Occurrences committed before a cancellation still need eviction.
	p.flush(context.WithoutCancel(ctx), touched)

	fields := applog.NewFields().
		WithOperation(applog.OpReplicate).
		WithShard(p.config.ShardIndex, p.config.ShardCount).
		WithError(runErr)
	applog.FromContext(ctx).InfoContext(ctx, "Recurring replication complete",
		append(fields.ToSlice(),
			"tenants", total.Tenants,
			"sources", total.Sources,
			"created", total.Created,
			"skipped", total.Skipped,
			"failed", total.Failed)...)

	if runErr != nil {
		return total, fmt.Errorf("process recurring expenses: %w", runErr)
	}
	return total, nil
}

// processTenant only returns an error when the context is done; failures of
// single sources are logged and counted.
func (p *RecurringReplicator) processTenant(ctx context.Context, userID string, now time.Time) (ReplicationResult, *cache.EntrySet, error) {
	res := ReplicationResult{Tenants: 1}
	entries := cache.NewEntrySet()

	sources, err := p.store.FindExpenses(ctx, storage.ExpenseFilter{
		UserID:           userID,
		RecurringSources: true,
		Order:            storage.OrderDateAsc,
	})
	if err != nil {
		if ctx.Err() != nil {
			return res, entries, ctx.Err()
		}
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to list recurring sources",
			applog.NewFields().WithUserID(userID).WithError(err).ToSlice()...)
		res.Failed++
		return res, entries, nil
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return res, entries, err
		}
		res.Sources++

		created, skipped, err := p.replicateSource(ctx, src, now)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, entries, err
			}
			res.Failed++
			fields := applog.NewFields().WithUserID(userID).WithError(err)
			applog.FromContext(ctx).ErrorContext(ctx, "Failed to replicate recurring expense",
				append(fields.ToSlice(), applog.FieldSourceID, src.ID)...)
			continue
		}
		res.Created += len(created)
		res.Skipped += skipped
		for _, c := range created {
			entries.Add(cache.BuildInvalidationEntries(c.CalendarMonth(), c.BillingMonth)...)
		}
	}
	return res, entries, nil
}

// replicateSource creates the occurrences of src due up to now and advances
// its cursor, in one transaction.
func (p *RecurringReplicator) replicateSource(ctx context.Context, src core.Expense, now time.Time) ([]core.Expense, int, error) {
	var (
		created []core.Expense
		skipped int
	)

	err := p.store.RunInTx(ctx, func(tx storage.Store) error {
		created, skipped = nil, 0

		// The listing may be stale if another run advanced the cursor.
		src, err := tx.GetExpense(ctx, src.UserID, src.ID)
		if err != nil {
			return err
		}

		cursor := src.Date
		if src.LastReplicatedAt != nil {
			cursor = *src.LastReplicatedAt
		}
		anchorDay := src.Date.UTC().Day()
		seen := make(map[string]struct{})

		next := core.AddMonthClamped(cursor, anchorDay)
		for !next.After(now) {
			occ, err := p.occurrence(ctx, tx, src, next)
			if err != nil {
				return err
			}

			_, dup := seen[occ.Fingerprint]
			if !dup {
				exists, err := tx.FingerprintExists(ctx, src.UserID, occ.Fingerprint)
				if err != nil {
					return err
				}
				dup = exists
			}
			if dup {
				skipped++
			} else {
				seen[occ.Fingerprint] = struct{}{}
				created = append(created, occ)
			}

			cursor = next
			next = core.AddMonthClamped(next, anchorDay)
		}

		if len(created) == 0 && skipped == 0 {
			return nil
		}
		if err := tx.CreateExpenses(ctx, created); err != nil {
			return err
		}
		return tx.SetLastReplicatedAt(ctx, src.UserID, src.ID, cursor)
	})
	if err != nil {
		return nil, 0, err
	}

	if len(created) > 0 {
		applog.FromContext(ctx).InfoContext(ctx, "Replicated recurring expense",
			applog.FieldUserID, src.UserID,
			applog.FieldSourceID, src.ID,
			"created", len(created),
			"skipped", skipped)
	}
	return created, skipped, nil
}

// occurrence builds the clone of src dated at.
func (p *RecurringReplicator) occurrence(ctx context.Context, tx storage.Store, src core.Expense, at time.Time) (core.Expense, error) {
	var billingMonth *core.MonthKey
	switch p.config.BillingMonthPolicy {
	case InheritBillingMonth:
		m := core.MonthOf(at)
		if src.BillingMonth != nil {
			m = *src.BillingMonth
		}
		billingMonth = &m
	default:
		bm, err := p.origins.BillingMonth(ctx, tx, src.UserID, src.OriginID, at)
		if err != nil {
			return core.Expense{}, err
		}
		billingMonth = bm
	}

	occ := core.Expense{
		ID:             p.newID(),
		UserID:         src.UserID,
		Description:    src.Description,
		Category:       src.Category,
		Amount:         src.Amount,
		Date:           at,
		OriginID:       src.OriginID,
		DebtorID:       src.DebtorID,
		SharedAmount:   src.SharedAmount,
		Recurring:      src.Recurring,
		RecurrenceType: src.RecurrenceType,
		Fixed:          src.Fixed,
		BillingMonth:   billingMonth,
		SourceID:       &src.ID,
	}
	occ.Fingerprint = FingerprintOf(occ)
	return occ, nil
}

func (p *RecurringReplicator) flush(ctx context.Context, touched map[string]*cache.EntrySet) {
	if p.invalidator == nil {
		return
	}
	for userID, set := range touched {
		p.invalidator.Invalidate(ctx, userID, set.Entries())
	}
}
