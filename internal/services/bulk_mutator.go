package services

import (
	"context"
	"fmt"
	"log/slog"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/storage"
)

// BulkPatch is the field set a bulk update may change. Nil fields are left
// alone. OriginID with a nil Value detaches the origin.
type BulkPatch struct {
	Category       *string
	OriginID       *storage.Nullable[string]
	Fixed          *bool
	Recurring      *bool
	RecurrenceType *core.RecurrenceType
}

func (p BulkPatch) IsEmpty() bool {
	return p.Category == nil && p.OriginID == nil && p.Fixed == nil &&
		p.Recurring == nil && p.RecurrenceType == nil
}

// storagePatch validates p and turns it into a storage patch that keeps
// recurring and fixed exclusive: turning recurring off clears the
// recurrence type, turning either flag on turns the other off.
func (p BulkPatch) storagePatch() (storage.ExpensePatch, error) {
	if p.IsEmpty() {
		return storage.ExpensePatch{}, core.NewValidationError("patch", "no fields to update")
	}
	if p.Category != nil && *p.Category == "" {
		return storage.ExpensePatch{}, core.NewValidationError("category", "cannot be empty")
	}

	recurring := p.Recurring != nil && *p.Recurring
	fixed := p.Fixed != nil && *p.Fixed
	if p.RecurrenceType != nil && p.Recurring == nil {
		return storage.ExpensePatch{}, core.NewValidationError("recurrenceType", "must be sent together with recurring")
	}
	if p.Recurring != nil {
		if err := core.ValidateRecurrence(recurring, p.RecurrenceType, fixed); err != nil {
			return storage.ExpensePatch{}, err
		}
	}

	out := storage.ExpensePatch{Category: p.Category, OriginID: p.OriginID}
	if p.Recurring != nil {
		out.Recurring = p.Recurring
		out.RecurrenceType = storage.NullableOf(p.RecurrenceType)
		if recurring {
			out.Fixed = new(bool)
		}
	}
	if p.Fixed != nil {
		out.Fixed = p.Fixed
		if fixed && p.Recurring == nil {
			out.Recurring = new(bool)
			out.RecurrenceType = storage.Null[core.RecurrenceType]()
		}
	}
	return out, nil
}

// BulkLedgerMutator applies one change to many records of a user. Ids the
// user does not own are dropped silently. The affected month views, before
// and after the change, are evicted once after commit.
type BulkLedgerMutator struct {
	store       storage.Store
	invalidator cache.Invalidator
	origins     *OriginResolver
}

func NewBulkLedgerMutator(store storage.Store, invalidator cache.Invalidator, origins *OriginResolver) *BulkLedgerMutator {
	if origins == nil {
		origins = NewOriginResolver(0, nil)
	}
	return &BulkLedgerMutator{store: store, invalidator: invalidator, origins: origins}
}

// BulkUpdate returns the number of records updated.
func (m *BulkLedgerMutator) BulkUpdate(ctx context.Context, userID string, ids []string, patch BulkPatch) (int64, error) {
	base, err := patch.storagePatch()
	if err != nil {
		return 0, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	entries := cache.NewEntrySet()
	var updated int64
	err = m.store.RunInTx(ctx, func(tx storage.Store) error {
		owned, err := tx.FindExpenses(ctx, storage.ExpenseFilter{UserID: userID, IDs: ids})
		if err != nil {
			return fmt.Errorf("load expenses: %w", err)
		}
		if len(owned) == 0 {
			return nil
		}
		entries.Add(cache.EntriesFor(owned...)...)

		groups, err := m.groupByBillingMonth(ctx, tx, userID, owned, base)
		if err != nil {
			return err
		}
		for _, g := range groups {
			n, err := tx.UpdateExpenses(ctx, userID, g.ids, g.patch)
			if err != nil {
				return fmt.Errorf("update expenses: %w", err)
			}
			updated += n
		}

		after := make([]core.Expense, len(owned))
		for i, e := range owned {
			groupPatchFor(groups, e.ID).Apply(&e)
			after[i] = e
		}
		entries.Add(cache.EntriesFor(after...)...)
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.invalidate(ctx, userID, entries)
	slog.InfoContext(ctx, "Bulk update applied",
		"user_id", userID,
		"requested", len(ids),
		"updated", updated,
		"periods", entries.Len())
	return updated, nil
}

// BulkDelete returns the number of records deleted. It does not cascade to
// installment siblings.
func (m *BulkLedgerMutator) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	entries := cache.NewEntrySet()
	var deleted int64
	err := m.store.RunInTx(ctx, func(tx storage.Store) error {
		owned, err := tx.FindExpenses(ctx, storage.ExpenseFilter{UserID: userID, IDs: ids})
		if err != nil {
			return fmt.Errorf("load expenses: %w", err)
		}
		if len(owned) == 0 {
			return nil
		}
		entries.Add(cache.EntriesFor(owned...)...)

		ownedIDs := make([]string, len(owned))
		for i, e := range owned {
			ownedIDs[i] = e.ID
		}
		deleted, err = tx.DeleteExpenses(ctx, userID, ownedIDs)
		if err != nil {
			return fmt.Errorf("delete expenses: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.invalidate(ctx, userID, entries)
	slog.InfoContext(ctx, "Bulk delete applied",
		"user_id", userID,
		"requested", len(ids),
		"deleted", deleted,
		"periods", entries.Len())
	return deleted, nil
}

type patchGroup struct {
	ids   []string
	patch storage.ExpensePatch
}

// groupByBillingMonth splits the update when the origin changes: every
// record gets the billing month its date falls in for the new origin, and
// records sharing a billing month are updated together.
func (m *BulkLedgerMutator) groupByBillingMonth(ctx context.Context, tx storage.Store, userID string, owned []core.Expense, patch storage.ExpensePatch) ([]patchGroup, error) {
	ids := make([]string, len(owned))
	for i, e := range owned {
		ids[i] = e.ID
	}
	if patch.OriginID == nil {
		return []patchGroup{{ids: ids, patch: patch}}, nil
	}

	origin, err := m.origins.Resolve(ctx, tx, userID, patch.OriginID.Value)
	if err != nil {
		return nil, err
	}

	var (
		groups []patchGroup
		index  = make(map[string]int)
	)
	for _, e := range owned {
		bm, err := m.origins.calc.ForOrigin(origin, e.Date)
		if err != nil {
			return nil, err
		}
		key := ""
		if bm != nil {
			key = bm.String()
		}
		i, ok := index[key]
		if !ok {
			p := patch
			p.BillingMonth = storage.NullableOf(bm)
			groups = append(groups, patchGroup{patch: p})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].ids = append(groups[i].ids, e.ID)
	}
	return groups, nil
}

func groupPatchFor(groups []patchGroup, id string) storage.ExpensePatch {
	for _, g := range groups {
		for _, gid := range g.ids {
			if gid == id {
				return g.patch
			}
		}
	}
	return storage.ExpensePatch{}
}

func (m *BulkLedgerMutator) invalidate(ctx context.Context, userID string, entries *cache.EntrySet) {
	if m.invalidator == nil || entries.Len() == 0 {
		return
	}
	m.invalidator.Invalidate(ctx, userID, entries.Entries())
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
