package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/storage"
)

type invalidation struct {
	userID  string
	entries []cache.Entry
}

// recordingInvalidator remembers every call instead of touching a cache.
type recordingInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string, entries []cache.Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invalidation{userID: userID, entries: append([]cache.Entry(nil), entries...)})
	return len(entries)
}

func (r *recordingInvalidator) callsFor(userID string) []invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []invalidation
	for _, c := range r.calls {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

// has reports whether any call for userID covered month in mode.
func (r *recordingInvalidator) has(userID, month string, mode core.ViewMode) bool {
	for _, c := range r.callsFor(userID) {
		for _, e := range c.entries {
			if e.Month.String() == month && e.Mode == mode {
				return true
			}
		}
	}
	return false
}

func (r *recordingInvalidator) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func mk(s string) core.MonthKey {
	m, err := core.ParseMonthKey(s)
	if err != nil {
		panic(err)
	}
	return m
}

func newExpense(id, user, description, amount string, d time.Time) core.Expense {
	e := core.Expense{
		ID:          id,
		UserID:      user,
		Description: description,
		Category:    "general",
		Amount:      core.MustMoney(amount),
		Date:        d,
	}
	e.Fingerprint = FingerprintOf(e)
	return e
}

func mustCreate(t *testing.T, st storage.Store, es ...core.Expense) {
	t.Helper()
	if err := st.CreateExpenses(context.Background(), es); err != nil {
		t.Fatalf("CreateExpenses: %v", err)
	}
}

func mustOrigin(t *testing.T, st storage.Store, o core.Origin) {
	t.Helper()
	if err := st.CreateOrigin(context.Background(), o); err != nil {
		t.Fatalf("CreateOrigin: %v", err)
	}
}

func countFor(t *testing.T, st storage.Store, userID string) int {
	t.Helper()
	n, err := st.CountExpenses(context.Background(), storage.ExpenseFilter{UserID: userID})
	if err != nil {
		t.Fatalf("CountExpenses: %v", err)
	}
	return n
}

func idSet(es []core.Expense) map[string]bool {
	out := make(map[string]bool, len(es))
	for _, e := range es {
		out[e.ID] = true
	}
	return out
}
