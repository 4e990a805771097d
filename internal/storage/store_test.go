package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gastos/internal/core"
	"gastos/internal/storage"
	"gastos/internal/storage/memory"
)

// stores returns every backend the contract tests run against.
func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	sqlite, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]storage.Store{
		"memory": memory.New(),
		"sqlite": sqlite,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func expense(id, user string, date time.Time, amount string) core.Expense {
	return core.Expense{
		ID:          id,
		UserID:      user,
		Description: "item " + id,
		Category:    "general",
		Amount:      core.MustMoney(amount),
		Date:        date,
		Fingerprint: "fp-" + id,
	}
}

func ids(es []core.Expense) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func equalIDs(got []core.Expense, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bill := core.NewMonthKey(2025, time.April)
			shared := core.MustMoney("10.00")
			rt := core.Monthly
			e := expense("e1", "u1", day(2025, 3, 15), "25.50")
			e.OriginID = core.StringPtr("card")
			e.SharedAmount = &shared
			e.Installments = core.IntPtr(3)
			e.Parcela = "1/3"
			e.Recurring = true
			e.RecurrenceType = &rt
			e.BillingMonth = &bill
			e.InstallmentGroupID = core.StringPtr("g1")

			if err := s.CreateExpenses(ctx, []core.Expense{e}); err != nil {
				t.Fatalf("CreateExpenses: %v", err)
			}

			got, err := s.GetExpense(ctx, "u1", "e1")
			if err != nil {
				t.Fatalf("GetExpense: %v", err)
			}
			if !got.Amount.Equal(e.Amount) || !got.Date.Equal(e.Date) {
				t.Errorf("amount/date mismatch: %+v", got)
			}
			if got.BillingMonth == nil || *got.BillingMonth != bill {
				t.Errorf("BillingMonth = %v, want %v", got.BillingMonth, bill)
			}
			if got.SharedAmount == nil || got.SharedAmount.String() != "10.00" {
				t.Errorf("SharedAmount = %v", got.SharedAmount)
			}
			if got.RecurrenceType == nil || *got.RecurrenceType != core.Monthly || !got.Recurring {
				t.Errorf("recurrence not preserved: %+v", got)
			}
			if got.Installments == nil || *got.Installments != 3 || got.Parcela != "1/3" {
				t.Errorf("installments not preserved: %+v", got)
			}
			if got.CreatedAt.IsZero() {
				t.Error("CreatedAt should be set")
			}

			if _, err := s.GetExpense(ctx, "u2", "e1"); !core.IsNotFound(err) {
				t.Errorf("other user's expense: err = %v, want not found", err)
			}
			if _, err := s.GetExpense(ctx, "u1", "missing"); !core.IsNotFound(err) {
				t.Errorf("missing expense: err = %v, want not found", err)
			}
		})
	}
}

func TestStoreFindFilters(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			april := core.NewMonthKey(2025, time.April)

			a := expense("a", "u1", day(2025, 3, 1), "10.00")
			a.OriginID = core.StringPtr("card")
			a.BillingMonth = &april
			a.Parcela = "1/2"
			a.Installments = core.IntPtr(2)

			b := expense("b", "u1", day(2025, 3, 20), "10.00")
			b.Parcela = "2/2"
			b.Installments = core.IntPtr(2)

			c := expense("c", "u1", day(2025, 4, 5), "30.00")
			c.Fixed = true

			d := expense("d", "u2", day(2025, 3, 2), "10.00")

			clone := expense("e", "u1", day(2025, 4, 1), "30.00")
			clone.Fixed = true
			clone.SourceID = core.StringPtr("c")

			if err := s.CreateExpenses(ctx, []core.Expense{a, b, c, d, clone}); err != nil {
				t.Fatalf("CreateExpenses: %v", err)
			}

			amount := core.MustMoney("10")
			tests := []struct {
				name   string
				filter storage.ExpenseFilter
				want   []string
			}{
				{"by user", storage.ExpenseFilter{UserID: "u1"}, []string{"a", "b", "e", "c"}},
				{"by ids", storage.ExpenseFilter{UserID: "u1", IDs: []string{"c", "a", "d"}}, []string{"a", "c"}},
				{"empty ids match nothing", storage.ExpenseFilter{UserID: "u1", IDs: []string{}}, nil},
				{"parcela suffix", storage.ExpenseFilter{UserID: "u1", ParcelaSuffix: "/2"}, []string{"a", "b"}},
				{"amount", storage.ExpenseFilter{UserID: "u1", Amount: &amount}, []string{"a", "b"}},
				{"null origin", storage.ExpenseFilter{UserID: "u1", OriginID: storage.Null[string]()}, []string{"b", "e", "c"}},
				{"origin", storage.ExpenseFilter{UserID: "u1", OriginID: storage.NullableOf(core.StringPtr("card"))}, []string{"a"}},
				{"recurring sources", storage.ExpenseFilter{RecurringSources: true}, []string{"c"}},
				{"calendar march", storage.ExpenseFilter{UserID: "u1", Period: &storage.Period{Month: core.NewMonthKey(2025, time.March), Mode: core.CalendarView}}, []string{"a", "b"}},
				{"billing march", storage.ExpenseFilter{UserID: "u1", Period: &storage.Period{Month: core.NewMonthKey(2025, time.March), Mode: core.BillingView}}, []string{"b"}},
				{"billing april", storage.ExpenseFilter{UserID: "u1", Period: &storage.Period{Month: april, Mode: core.BillingView}}, []string{"a", "e", "c"}},
				{"desc with paging", storage.ExpenseFilter{UserID: "u1", Order: storage.OrderDateDesc, Limit: 2, Offset: 1}, []string{"e", "b"}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.FindExpenses(ctx, tt.filter)
					if err != nil {
						t.Fatalf("FindExpenses: %v", err)
					}
					if !equalIDs(got, tt.want...) {
						t.Errorf("got %v, want %v", ids(got), tt.want)
					}
				})
			}

			n, err := s.CountExpenses(ctx, storage.ExpenseFilter{UserID: "u1", ParcelaSuffix: "/2"})
			if err != nil || n != 2 {
				t.Errorf("CountExpenses = %d, %v; want 2", n, err)
			}
		})
	}
}

func TestStoreParcelaSuffixIsLiteral(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := expense("a", "u", day(2025, 1, 1), "1.00")
			a.Parcela = "1_2"
			b := expense("b", "u", day(2025, 1, 2), "1.00")
			b.Parcela = "1x2"
			if err := s.CreateExpenses(ctx, []core.Expense{a, b}); err != nil {
				t.Fatal(err)
			}
			got, err := s.FindExpenses(ctx, storage.ExpenseFilter{UserID: "u", ParcelaSuffix: "_2"})
			if err != nil {
				t.Fatal(err)
			}
			if !equalIDs(got, "a") {
				t.Errorf("got %v, want [a]", ids(got))
			}
		})
	}
}

func TestStoreUpdates(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rt := core.Monthly
			a := expense("a", "u1", day(2025, 5, 1), "5.00")
			a.Recurring = true
			a.RecurrenceType = &rt
			b := expense("b", "u1", day(2025, 5, 2), "6.00")
			other := expense("x", "u2", day(2025, 5, 2), "6.00")
			if err := s.CreateExpenses(ctx, []core.Expense{a, b, other}); err != nil {
				t.Fatal(err)
			}

			june := core.NewMonthKey(2025, time.June)
			patch := storage.ExpensePatch{
				Category:       core.StringPtr("travel"),
				BillingMonth:   storage.NullableOf(&june),
				Recurring:      new(bool),
				RecurrenceType: storage.Null[core.RecurrenceType](),
			}
			n, err := s.UpdateExpenses(ctx, "u1", []string{"a", "b", "x"}, patch)
			if err != nil {
				t.Fatalf("UpdateExpenses: %v", err)
			}
			if n != 2 {
				t.Errorf("UpdateExpenses affected %d rows, want 2", n)
			}
			got, _ := s.GetExpense(ctx, "u1", "a")
			if got.Category != "travel" || got.Recurring || got.RecurrenceType != nil {
				t.Errorf("patch not applied: %+v", got)
			}
			if got.BillingMonth == nil || *got.BillingMonth != june {
				t.Errorf("BillingMonth = %v", got.BillingMonth)
			}
			untouched, _ := s.GetExpense(ctx, "u2", "x")
			if untouched.Category != "general" {
				t.Error("another user's expense was updated")
			}

			got.Description = "renamed"
			if err := s.UpdateExpense(ctx, got); err != nil {
				t.Fatalf("UpdateExpense: %v", err)
			}
			again, _ := s.GetExpense(ctx, "u1", "a")
			if again.Description != "renamed" {
				t.Errorf("Description = %q", again.Description)
			}

			missing := expense("nope", "u1", day(2025, 5, 1), "1.00")
			if err := s.UpdateExpense(ctx, missing); !core.IsNotFound(err) {
				t.Errorf("UpdateExpense(missing) = %v, want not found", err)
			}

			at := day(2025, 6, 1)
			if err := s.SetLastReplicatedAt(ctx, "u1", "b", at); err != nil {
				t.Fatalf("SetLastReplicatedAt: %v", err)
			}
			b2, _ := s.GetExpense(ctx, "u1", "b")
			if b2.LastReplicatedAt == nil || !b2.LastReplicatedAt.Equal(at) {
				t.Errorf("LastReplicatedAt = %v", b2.LastReplicatedAt)
			}
			if err := s.SetLastReplicatedAt(ctx, "u2", "b", at); !core.IsNotFound(err) {
				t.Errorf("SetLastReplicatedAt for wrong user = %v, want not found", err)
			}
		})
	}
}

func TestStoreDeleteAndFingerprint(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := expense("a", "u1", day(2025, 5, 1), "5.00")
			b := expense("b", "u2", day(2025, 5, 1), "5.00")
			if err := s.CreateExpenses(ctx, []core.Expense{a, b}); err != nil {
				t.Fatal(err)
			}

			ok, err := s.FingerprintExists(ctx, "u1", "fp-a")
			if err != nil || !ok {
				t.Errorf("FingerprintExists(u1, fp-a) = %v, %v", ok, err)
			}
			if ok, _ := s.FingerprintExists(ctx, "u1", "fp-b"); ok {
				t.Error("fingerprints must be scoped per user")
			}

			n, err := s.DeleteExpenses(ctx, "u1", []string{"a", "b"})
			if err != nil || n != 1 {
				t.Errorf("DeleteExpenses = %d, %v; want 1", n, err)
			}
			if _, err := s.GetExpense(ctx, "u2", "b"); err != nil {
				t.Errorf("another user's expense was deleted: %v", err)
			}
			if n, _ := s.DeleteExpenses(ctx, "u1", nil); n != 0 {
				t.Errorf("DeleteExpenses(nil) = %d", n)
			}
		})
	}
}

func TestStoreRecurringTenants(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rt := core.Monthly
			a := expense("a", "zed", day(2025, 1, 1), "1.00")
			a.Fixed = true
			b := expense("b", "amy", day(2025, 1, 1), "1.00")
			b.Recurring = true
			b.RecurrenceType = &rt
			c := expense("c", "bob", day(2025, 1, 1), "1.00")
			clone := expense("d", "carl", day(2025, 1, 1), "1.00")
			clone.Fixed = true
			clone.SourceID = core.StringPtr("x")
			if err := s.CreateExpenses(ctx, []core.Expense{a, b, c, clone}); err != nil {
				t.Fatal(err)
			}

			got, err := s.RecurringTenants(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0] != "amy" || got[1] != "zed" {
				t.Errorf("RecurringTenants() = %v, want [amy zed]", got)
			}
		})
	}
}

func TestStoreRunInTx(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")

			err := s.RunInTx(ctx, func(tx storage.Store) error {
				if err := tx.CreateExpenses(ctx, []core.Expense{expense("a", "u", day(2025, 1, 1), "1.00")}); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("RunInTx = %v, want boom", err)
			}
			if _, err := s.GetExpense(ctx, "u", "a"); !core.IsNotFound(err) {
				t.Error("rolled back insert is visible")
			}

			err = s.RunInTx(ctx, func(tx storage.Store) error {
				if err := tx.CreateExpenses(ctx, []core.Expense{expense("b", "u", day(2025, 1, 1), "1.00")}); err != nil {
					return err
				}
				// nested calls join the outer transaction
				return tx.RunInTx(ctx, func(inner storage.Store) error {
					_, err := inner.GetExpense(ctx, "u", "b")
					return err
				})
			})
			if err != nil {
				t.Fatalf("RunInTx: %v", err)
			}
			if _, err := s.GetExpense(ctx, "u", "b"); err != nil {
				t.Errorf("committed insert missing: %v", err)
			}
		})
	}
}

func TestStoreOrigins(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := core.Origin{ID: "o1", UserID: "u1", Name: "Visa", Type: "Cartão", ClosingDay: core.IntPtr(9)}
			if err := s.CreateOrigin(ctx, o); err != nil {
				t.Fatalf("CreateOrigin: %v", err)
			}
			got, err := s.GetOrigin(ctx, "u1", "o1")
			if err != nil {
				t.Fatalf("GetOrigin: %v", err)
			}
			if got.ClosingDay == nil || *got.ClosingDay != 9 || got.RolloverPolicy != core.PreviousBusinessDay {
				t.Errorf("unexpected origin %+v", got)
			}
			if _, err := s.GetOrigin(ctx, "u2", "o1"); !core.IsNotFound(err) {
				t.Errorf("GetOrigin(other user) = %v, want not found", err)
			}
			bad := core.Origin{ID: "o2", UserID: "u1", Type: "card", ClosingDay: core.IntPtr(32)}
			if err := s.CreateOrigin(ctx, bad); !core.IsValidation(err) {
				t.Errorf("CreateOrigin(closing day 32) = %v, want validation error", err)
			}
		})
	}
}
