package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/storage"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
	MaxInstallments  = 120
)

// ExpenseChanges lists the fields UpdateExpense may change. Nil fields are
// left alone; a Nullable with a nil Value clears the column.
type ExpenseChanges struct {
	Description    *string
	Category       *string
	Amount         *core.Money
	Date           *time.Time
	OriginID       *storage.Nullable[string]
	DebtorID       *storage.Nullable[string]
	SharedAmount   *storage.Nullable[core.Money]
	Recurring      *bool
	RecurrenceType *storage.Nullable[core.RecurrenceType]
	Fixed          *bool
}

// ExpenseService is the owner-scoped mutation and read surface over the
// record store. Every mutation derives billing months before writing and
// evicts exactly the month views it touched after commit.
type ExpenseService struct {
	storage     storage.Store
	pages       *cache.Coordinator
	invalidator cache.Invalidator
	origins     *OriginResolver
	grouper     *InstallmentGrouper
	newID       func() string
}

// NewExpenseService wires the service. pages serves the read-through month
// view and may be nil; invalidator defaults to pages.
func NewExpenseService(store storage.Store, pages *cache.Coordinator, invalidator cache.Invalidator, origins *OriginResolver) *ExpenseService {
	if invalidator == nil && pages != nil {
		invalidator = pages
	}
	if origins == nil {
		origins = NewOriginResolver(0, nil)
	}
	return &ExpenseService{
		storage:     store,
		pages:       pages,
		invalidator: invalidator,
		origins:     origins,
		grouper:     NewInstallmentGrouper(store),
		newID:       uuid.NewString,
	}
}

// CreateExpense validates e, derives its billing month and fingerprint and
// stores it for userID.
func (s *ExpenseService) CreateExpense(ctx context.Context, userID string, e core.Expense) (core.Expense, error) {
	e.UserID = userID
	e.Date = e.Date.UTC()
	if e.ID == "" {
		e.ID = s.newID()
	}
	e.SourceID = nil
	e.LastReplicatedAt = nil
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	bm, err := s.origins.BillingMonth(ctx, s.storage, userID, e.OriginID, e.Date)
	if err != nil {
		return core.Expense{}, err
	}
	e.BillingMonth = bm
	e.Fingerprint = FingerprintOf(e)

	if err := s.storage.CreateExpenses(ctx, []core.Expense{e}); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense created",
		"id", e.ID,
		"user_id", userID,
		"amount", e.Amount.String(),
		"billing_month", monthAttr(e.BillingMonth))

	s.invalidate(ctx, userID, cache.EntriesFor(e))
	return e, nil
}

// CreateInstallments stores count records for one purchase paid in equal
// installments of base.Amount. Record k is dated k-1 months after base.Date,
// labelled "k/count" and described "<description> (k/count)". All records
// share one installment group id.
func (s *ExpenseService) CreateInstallments(ctx context.Context, userID string, base core.Expense, count int) ([]core.Expense, error) {
	if count < 1 || count > MaxInstallments {
		return nil, core.NewValidationError("installments", fmt.Sprintf("must be between 1 and %d", MaxInstallments))
	}
	if base.Recurring || base.Fixed {
		return nil, core.NewValidationError("installments", "installment purchases cannot be recurring or fixed")
	}

	base.UserID = userID
	base.Date = base.Date.UTC()
	base.Description = BaseDescription(base.Description)
	if err := base.Validate(); err != nil {
		return nil, err
	}

	origin, err := s.origins.Resolve(ctx, s.storage, userID, base.OriginID)
	if err != nil {
		return nil, err
	}

	groupID := uuid.NewString()
	anchorDay := base.Date.Day()
	date := base.Date
	records := make([]core.Expense, 0, count)
	for k := 1; k <= count; k++ {
		if k > 1 {
			date = core.AddMonthClamped(date, anchorDay)
		}
		label := strconv.Itoa(k) + "/" + strconv.Itoa(count)

		e := base
		e.ID = s.newID()
		e.Date = date
		e.Parcela = label
		e.Installments = core.IntPtr(count)
		e.InstallmentGroupID = core.StringPtr(groupID)
		e.Description = base.Description + " (" + label + ")"
		e.SourceID = nil
		e.LastReplicatedAt = nil

		bm, err := s.origins.calc.ForOrigin(origin, date)
		if err != nil {
			return nil, err
		}
		e.BillingMonth = bm
		e.Fingerprint = FingerprintOf(e)
		records = append(records, e)
	}

	if err := s.storage.CreateExpenses(ctx, records); err != nil {
		return nil, fmt.Errorf("save installments: %w", err)
	}

	slog.InfoContext(ctx, "Installments created",
		"user_id", userID,
		"group_id", groupID,
		"count", count,
		"amount", base.Amount.String())

	s.invalidate(ctx, userID, cache.EntriesFor(records...))
	return records, nil
}

// UpdateExpense applies changes to one record of userID. A date or origin
// change recomputes the billing month; both the old and the new month views
// are evicted.
func (s *ExpenseService) UpdateExpense(ctx context.Context, userID, id string, changes ExpenseChanges) (core.Expense, error) {
	var before, after core.Expense
	err := s.storage.RunInTx(ctx, func(tx storage.Store) error {
		cur, err := tx.GetExpense(ctx, userID, id)
		if err != nil {
			return err
		}
		before = cur

		next := applyChanges(cur, changes)
		if err := next.Validate(); err != nil {
			return err
		}
		if changes.Date != nil || changes.OriginID != nil {
			bm, err := s.origins.BillingMonth(ctx, tx, userID, next.OriginID, next.Date)
			if err != nil {
				return err
			}
			next.BillingMonth = bm
		}
		next.Fingerprint = FingerprintOf(next)

		if err := tx.UpdateExpense(ctx, next); err != nil {
			return err
		}
		after = next
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense updated",
		"id", id,
		"user_id", userID,
		"billing_month", monthAttr(after.BillingMonth))

	s.invalidate(ctx, userID, cache.EntriesFor(before, after))
	return after, nil
}

func applyChanges(e core.Expense, c ExpenseChanges) core.Expense {
	if c.Description != nil {
		e.Description = *c.Description
	}
	if c.Category != nil {
		e.Category = *c.Category
	}
	if c.Amount != nil {
		e.Amount = *c.Amount
	}
	if c.Date != nil {
		e.Date = c.Date.UTC()
	}
	if c.OriginID != nil {
		e.OriginID = c.OriginID.Value
	}
	if c.DebtorID != nil {
		e.DebtorID = c.DebtorID.Value
	}
	if c.SharedAmount != nil {
		e.SharedAmount = c.SharedAmount.Value
	}
	if c.Fixed != nil {
		e.Fixed = *c.Fixed
	}
	if c.Recurring != nil {
		e.Recurring = *c.Recurring
		if !e.Recurring {
			e.RecurrenceType = nil
		}
	}
	if c.RecurrenceType != nil {
		e.RecurrenceType = c.RecurrenceType.Value
	}
	return e
}

// DeleteExpense deletes the record and, when it is an installment, the rest
// of its group. It returns every deleted record.
func (s *ExpenseService) DeleteExpense(ctx context.Context, userID, id string) ([]core.Expense, error) {
	e, err := s.storage.GetExpense(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	deleted, err := s.grouper.DeleteCascade(ctx, userID, e)
	if err != nil {
		return nil, fmt.Errorf("delete expense %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Expense deleted",
		"id", id,
		"user_id", userID,
		"deleted", len(deleted))

	s.invalidate(ctx, userID, cache.EntriesFor(deleted...))
	return deleted, nil
}

func (s *ExpenseService) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	return s.storage.GetExpense(ctx, userID, id)
}

// ListMonth returns one page of a month view, newest first, served from the
// cache when possible. page starts at 1; limit defaults to DefaultPageLimit.
func (s *ExpenseService) ListMonth(ctx context.Context, userID string, month core.MonthKey, mode core.ViewMode, page, limit int) (core.MonthPage, error) {
	if strings.TrimSpace(userID) == "" {
		return core.MonthPage{}, core.NewValidationError("userId", "cannot be empty")
	}
	if !mode.IsValid() {
		return core.MonthPage{}, core.NewValidationError("mode", "must be calendar or billing")
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var key string
	if s.pages != nil {
		key = s.pages.Key(userID, month, mode, page, limit)
		if cached, ok := s.pages.GetPage(ctx, key); ok {
			return cached, nil
		}
	}

	rows, err := s.storage.FindExpenses(ctx, storage.ExpenseFilter{
		UserID: userID,
		Period: &storage.Period{Month: month, Mode: mode},
		Order:  storage.OrderDateDesc,
	})
	if err != nil {
		return core.MonthPage{}, fmt.Errorf("list month %s: %w", month, err)
	}

	out := core.MonthPage{
		UserID:   userID,
		Month:    month,
		Mode:     mode,
		Page:     page,
		Limit:    limit,
		Total:    core.Money{},
		Count:    len(rows),
		Expenses: []core.PageExpense{},
	}
	for _, e := range rows {
		out.Total = out.Total.Add(e.Amount)
	}
	start := (page - 1) * limit
	for i := start; i < len(rows) && i < start+limit; i++ {
		out.Expenses = append(out.Expenses, core.NewPageExpense(rows[i]))
	}

	if s.pages != nil {
		s.pages.SetPage(ctx, key, out)
	}
	return out, nil
}

// Close closes the record store
func (s *ExpenseService) Close() error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Close(); err != nil {
		return fmt.Errorf("close expense service: %w", err)
	}
	return nil
}

func (s *ExpenseService) invalidate(ctx context.Context, userID string, entries []cache.Entry) {
	if s.invalidator == nil || len(entries) == 0 {
		return
	}
	s.invalidator.Invalidate(ctx, userID, entries)
}

func monthAttr(m *core.MonthKey) string {
	if m == nil {
		return ""
	}
	return m.String()
}
