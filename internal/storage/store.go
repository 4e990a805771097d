package storage

import (
	"context"
	"slices"
	"strings"
	"time"

	"gastos/internal/core"
)

// Store is the record store the ledger needs: filtered reads, batch writes
// and transactional grouping. Every expense operation is scoped by user id
// except the tenant listing used by replication.
type Store interface {
	FindExpenses(ctx context.Context, f ExpenseFilter) ([]core.Expense, error)
	CountExpenses(ctx context.Context, f ExpenseFilter) (int, error)
	// GetExpense returns a *core.NotFoundError when the expense does not
	// exist or belongs to another user.
	GetExpense(ctx context.Context, userID, id string) (core.Expense, error)
	CreateExpenses(ctx context.Context, expenses []core.Expense) error
	UpdateExpense(ctx context.Context, e core.Expense) error
	UpdateExpenses(ctx context.Context, userID string, ids []string, patch ExpensePatch) (int64, error)
	DeleteExpenses(ctx context.Context, userID string, ids []string) (int64, error)
	SetLastReplicatedAt(ctx context.Context, userID, id string, at time.Time) error
	FingerprintExists(ctx context.Context, userID, fingerprint string) (bool, error)
	// RecurringTenants lists the users owning at least one replication
	// source, sorted.
	RecurringTenants(ctx context.Context) ([]string, error)

	GetOrigin(ctx context.Context, userID, id string) (core.Origin, error)
	CreateOrigin(ctx context.Context, o core.Origin) error

	// RunInTx runs fn against a Store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Calling RunInTx on the transactional Store runs fn in the same
	// transaction.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// Nullable carries a value that may be SQL NULL. In a filter it matches
// rows whose column equals Value, or IS NULL when Value is nil; in a patch
// it sets the column.
type Nullable[T any] struct {
	Value *T
}

// NullableOf wraps p, which may be nil.
func NullableOf[T any](p *T) *Nullable[T] {
	return &Nullable[T]{Value: p}
}

// Null is an explicit NULL.
func Null[T any]() *Nullable[T] {
	return &Nullable[T]{}
}

type Order int

const (
	OrderDateAsc Order = iota
	OrderDateDesc
)

// Period selects the expenses shown in one month view.
type Period struct {
	Month core.MonthKey
	Mode  core.ViewMode
}

// ExpenseFilter is a conjunction of the non-zero fields.
type ExpenseFilter struct {
	UserID string
	// IDs restricts to the listed ids; a non-nil empty slice matches
	// nothing.
	IDs []string
	// ParcelaSuffix matches parcela values ending with the suffix.
	ParcelaSuffix      string
	Amount             *core.Money
	Installments       *int
	OriginID           *Nullable[string]
	DebtorID           *Nullable[string]
	InstallmentGroupID *string
	// RecurringSources selects recurring or fixed expenses that are not
	// themselves replicated occurrences.
	RecurringSources bool
	Period           *Period

	Order  Order
	Limit  int
	Offset int
}

// ExpensePatch lists the columns a bulk update may change.
type ExpensePatch struct {
	Category       *string
	OriginID       *Nullable[string]
	BillingMonth   *Nullable[core.MonthKey]
	Fixed          *bool
	Recurring      *bool
	RecurrenceType *Nullable[core.RecurrenceType]
}

func (p ExpensePatch) IsEmpty() bool {
	return p.Category == nil && p.OriginID == nil && p.BillingMonth == nil &&
		p.Fixed == nil && p.Recurring == nil && p.RecurrenceType == nil
}

// Matches evaluates the filter against one expense. Ordering and paging
// are not part of matching.
func (f ExpenseFilter) Matches(e core.Expense) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.IDs != nil && !slices.Contains(f.IDs, e.ID) {
		return false
	}
	if f.ParcelaSuffix != "" && !strings.HasSuffix(e.Parcela, f.ParcelaSuffix) {
		return false
	}
	if f.Amount != nil && !e.Amount.Equal(*f.Amount) {
		return false
	}
	if f.Installments != nil && (e.Installments == nil || *e.Installments != *f.Installments) {
		return false
	}
	if f.OriginID != nil && !core.SameRef(e.OriginID, f.OriginID.Value) {
		return false
	}
	if f.DebtorID != nil && !core.SameRef(e.DebtorID, f.DebtorID.Value) {
		return false
	}
	if f.InstallmentGroupID != nil && !core.SameRef(e.InstallmentGroupID, f.InstallmentGroupID) {
		return false
	}
	if f.RecurringSources && (!(e.Recurring || e.Fixed) || e.SourceID != nil) {
		return false
	}
	if f.Period != nil && !f.Period.Contains(e) {
		return false
	}
	return true
}

// Contains reports whether e is listed in the month view. The billing view
// uses the billing month and falls back to the calendar month for expenses
// without one.
func (p Period) Contains(e core.Expense) bool {
	if p.Mode == core.BillingView && e.BillingMonth != nil {
		return *e.BillingMonth == p.Month
	}
	return e.CalendarMonth() == p.Month
}

// Apply copies the patched fields onto e.
func (p ExpensePatch) Apply(e *core.Expense) {
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.OriginID != nil {
		e.OriginID = clonePtr(p.OriginID.Value)
	}
	if p.BillingMonth != nil {
		e.BillingMonth = clonePtr(p.BillingMonth.Value)
	}
	if p.Fixed != nil {
		e.Fixed = *p.Fixed
	}
	if p.Recurring != nil {
		e.Recurring = *p.Recurring
	}
	if p.RecurrenceType != nil {
		e.RecurrenceType = clonePtr(p.RecurrenceType.Value)
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
