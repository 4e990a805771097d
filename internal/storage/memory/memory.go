// Package memory is an in-process storage.Store used by tests and by the
// memory data backend.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"gastos/internal/core"
	"gastos/internal/storage"
)

type data struct {
	expenses map[string]core.Expense
	origins  map[string]core.Origin
}

func (d *data) clone() *data {
	return &data{expenses: maps.Clone(d.expenses), origins: maps.Clone(d.origins)}
}

type shared struct {
	// txMu serialises writers; a transaction holds it for its whole run.
	txMu sync.Mutex
	mu   sync.Mutex
	d    *data
	now  func() time.Time
}

// Store keeps every record in maps guarded by a mutex. Transactions
// snapshot the maps and restore them on failure.
type Store struct {
	s    *shared
	inTx bool
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{s: &shared{
		d:   &data{expenses: map[string]core.Expense{}, origins: map[string]core.Origin{}},
		now: func() time.Time { return time.Now().UTC() },
	}}
}

func (st *Store) read(fn func(d *data)) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	fn(st.s.d)
}

func (st *Store) write(fn func(d *data, now time.Time) error) error {
	if !st.inTx {
		st.s.txMu.Lock()
		defer st.s.txMu.Unlock()
	}
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return fn(st.s.d, st.s.now())
}

func (st *Store) RunInTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if st.inTx {
		return fn(st)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st.s.txMu.Lock()
	defer st.s.txMu.Unlock()

	st.s.mu.Lock()
	snapshot := st.s.d.clone()
	st.s.mu.Unlock()

	if err := fn(&Store{s: st.s, inTx: true}); err != nil {
		st.s.mu.Lock()
		st.s.d = snapshot
		st.s.mu.Unlock()
		return err
	}
	return nil
}

func (st *Store) FindExpenses(_ context.Context, f storage.ExpenseFilter) ([]core.Expense, error) {
	var out []core.Expense
	st.read(func(d *data) {
		for _, e := range d.expenses {
			if f.Matches(e) {
				out = append(out, e)
			}
		}
	})
	sortExpenses(out, f.Order)
	return page(out, f.Limit, f.Offset), nil
}

func (st *Store) CountExpenses(_ context.Context, f storage.ExpenseFilter) (int, error) {
	n := 0
	st.read(func(d *data) {
		for _, e := range d.expenses {
			if f.Matches(e) {
				n++
			}
		}
	})
	return n, nil
}

func (st *Store) GetExpense(_ context.Context, userID, id string) (core.Expense, error) {
	var (
		e  core.Expense
		ok bool
	)
	st.read(func(d *data) { e, ok = d.expenses[id] })
	if !ok || e.UserID != userID {
		return core.Expense{}, &core.NotFoundError{Resource: "expense", ID: id}
	}
	return e, nil
}

func (st *Store) CreateExpenses(_ context.Context, expenses []core.Expense) error {
	return st.write(func(d *data, now time.Time) error {
		for _, e := range expenses {
			if _, exists := d.expenses[e.ID]; exists {
				return fmt.Errorf("insert expense %s: duplicate id", e.ID)
			}
		}
		for _, e := range expenses {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			if e.UpdatedAt.IsZero() {
				e.UpdatedAt = e.CreatedAt
			}
			d.expenses[e.ID] = e
		}
		return nil
	})
}

func (st *Store) UpdateExpense(_ context.Context, e core.Expense) error {
	return st.write(func(d *data, now time.Time) error {
		cur, ok := d.expenses[e.ID]
		if !ok || cur.UserID != e.UserID {
			return &core.NotFoundError{Resource: "expense", ID: e.ID}
		}
		e.CreatedAt = cur.CreatedAt
		e.LastReplicatedAt = cur.LastReplicatedAt
		e.SourceID = cur.SourceID
		e.UpdatedAt = now
		d.expenses[e.ID] = e
		return nil
	})
}

func (st *Store) UpdateExpenses(_ context.Context, userID string, ids []string, patch storage.ExpensePatch) (int64, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return 0, nil
	}
	var n int64
	err := st.write(func(d *data, now time.Time) error {
		for _, id := range ids {
			e, ok := d.expenses[id]
			if !ok || e.UserID != userID {
				continue
			}
			patch.Apply(&e)
			e.UpdatedAt = now
			d.expenses[id] = e
			n++
		}
		return nil
	})
	return n, err
}

func (st *Store) DeleteExpenses(_ context.Context, userID string, ids []string) (int64, error) {
	var n int64
	err := st.write(func(d *data, _ time.Time) error {
		for _, id := range ids {
			if e, ok := d.expenses[id]; ok && e.UserID == userID {
				delete(d.expenses, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (st *Store) SetLastReplicatedAt(_ context.Context, userID, id string, at time.Time) error {
	return st.write(func(d *data, now time.Time) error {
		e, ok := d.expenses[id]
		if !ok || e.UserID != userID {
			return &core.NotFoundError{Resource: "expense", ID: id}
		}
		at := at.UTC()
		e.LastReplicatedAt = &at
		e.UpdatedAt = now
		d.expenses[id] = e
		return nil
	})
}

func (st *Store) FingerprintExists(_ context.Context, userID, fingerprint string) (bool, error) {
	found := false
	st.read(func(d *data) {
		for _, e := range d.expenses {
			if e.UserID == userID && e.Fingerprint == fingerprint {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (st *Store) RecurringTenants(_ context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	sources := storage.ExpenseFilter{RecurringSources: true}
	st.read(func(d *data) {
		for _, e := range d.expenses {
			if sources.Matches(e) {
				seen[e.UserID] = struct{}{}
			}
		}
	})
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (st *Store) GetOrigin(_ context.Context, userID, id string) (core.Origin, error) {
	var (
		o  core.Origin
		ok bool
	)
	st.read(func(d *data) { o, ok = d.origins[id] })
	if !ok || o.UserID != userID {
		return core.Origin{}, &core.NotFoundError{Resource: "origin", ID: id}
	}
	return o, nil
}

func (st *Store) CreateOrigin(_ context.Context, o core.Origin) error {
	if err := o.Validate(); err != nil {
		return err
	}
	o.RolloverPolicy = o.RolloverPolicy.OrDefault()
	return st.write(func(d *data, _ time.Time) error {
		if _, exists := d.origins[o.ID]; exists {
			return fmt.Errorf("insert origin %s: duplicate id", o.ID)
		}
		d.origins[o.ID] = o
		return nil
	})
}

func (st *Store) Close() error { return nil }

func sortExpenses(es []core.Expense, order storage.Order) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if order == storage.OrderDateDesc {
			a, b = b, a
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
}

func page(es []core.Expense, limit, offset int) []core.Expense {
	if limit <= 0 {
		return es
	}
	if offset >= len(es) {
		return nil
	}
	end := offset + limit
	if end > len(es) {
		end = len(es)
	}
	return es[offset:end]
}
