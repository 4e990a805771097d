package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"gastos/internal/core"
	"gastos/internal/storage"
)

var (
	parcelaPattern = regexp.MustCompile(`^(\d+)/(\d+)$`)
	// installmentSuffix is the "(k/n)" label appended to installment
	// descriptions.
	installmentSuffix = regexp.MustCompile(`(?i)\s*\(\s*\d+\s*/\s*\d+\s*\)\s*$`)
)

// InstallmentGrouper finds the records of one installment purchase and
// deletes them together.
type InstallmentGrouper struct {
	store storage.Store
}

func NewInstallmentGrouper(store storage.Store) *InstallmentGrouper {
	return &InstallmentGrouper{store: store}
}

// ParseParcela extracts k and n from a "k/n" label.
func ParseParcela(parcela string) (k, n int, ok bool) {
	m := parcelaPattern.FindStringSubmatch(strings.TrimSpace(parcela))
	if m == nil {
		return 0, 0, false
	}
	k, err1 := strconv.Atoi(m[1])
	n, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return k, n, true
}

// BaseDescription strips a trailing "(k/n)" label.
func BaseDescription(description string) string {
	return strings.TrimSpace(installmentSuffix.ReplaceAllString(description, ""))
}

// FindGroup returns the records that form the same installment purchase as
// e, always including e itself. Records created as a batch carry an
// installment group id; older records are matched on parcela, amount,
// installments, origin, debtor and base description. Anything that cannot be
// verified is treated as a single record.
func (g *InstallmentGrouper) FindGroup(ctx context.Context, st storage.Store, userID string, e core.Expense) ([]core.Expense, error) {
	if e.InstallmentGroupID != nil {
		members, err := st.FindExpenses(ctx, storage.ExpenseFilter{
			UserID:             userID,
			InstallmentGroupID: e.InstallmentGroupID,
		})
		if err != nil {
			return nil, fmt.Errorf("find installment group %s: %w", *e.InstallmentGroupID, err)
		}
		return withTrigger(members, e), nil
	}

	_, total, ok := ParseParcela(e.Parcela)
	if !ok || total <= 1 {
		return []core.Expense{e}, nil
	}

	filter := storage.ExpenseFilter{
		UserID:        userID,
		ParcelaSuffix: "/" + strconv.Itoa(total),
		Amount:        &e.Amount,
		OriginID:      storage.NullableOf(e.OriginID),
		DebtorID:      storage.NullableOf(e.DebtorID),
	}
	if e.Installments != nil && *e.Installments > 1 {
		filter.Installments = e.Installments
	}
	candidates, err := st.FindExpenses(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find installment candidates: %w", err)
	}

	base := BaseDescription(e.Description)
	sibling, err := regexp.Compile(`(?i)^` + regexp.QuoteMeta(base) + `\s*\(\s*\d+\s*/\s*` + strconv.Itoa(total) + `\s*\)\s*$`)
	if err != nil {
		return nil, fmt.Errorf("compile sibling pattern: %w", err)
	}

	var (
		matched        []core.Expense
		triggerMatched bool
	)
	for _, c := range candidates {
		// rows with a group id belong to their own group
		if c.InstallmentGroupID != nil {
			continue
		}
		if sibling.MatchString(c.Description) {
			matched = append(matched, c)
			if c.ID == e.ID {
				triggerMatched = true
			}
		}
	}

	// The trigger must verify against its own pattern, otherwise nothing
	// ties it to the siblings and only the trigger goes.
	if !triggerMatched || len(matched) < 2 {
		return []core.Expense{e}, nil
	}
	return matched, nil
}

// DeleteCascade deletes e together with the rest of its installment group
// and returns the records actually deleted.
func (g *InstallmentGrouper) DeleteCascade(ctx context.Context, userID string, e core.Expense) ([]core.Expense, error) {
	if e.UserID != userID {
		return nil, &core.NotFoundError{Resource: "expense", ID: e.ID}
	}

	var deleted []core.Expense
	err := g.store.RunInTx(ctx, func(tx storage.Store) error {
		group, err := g.FindGroup(ctx, tx, userID, e)
		if err != nil {
			return err
		}

		ids := make([]string, len(group))
		for i, m := range group {
			ids[i] = m.ID
		}
		n, err := tx.DeleteExpenses(ctx, userID, ids)
		if err != nil {
			return err
		}
		if n == 0 {
			return &core.NotFoundError{Resource: "expense", ID: e.ID}
		}
		deleted = group
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(deleted) > 1 {
		slog.InfoContext(ctx, "Installment group deleted",
			"user_id", userID,
			"trigger_id", e.ID,
			"deleted", len(deleted))
	}
	return deleted, nil
}

func withTrigger(group []core.Expense, e core.Expense) []core.Expense {
	for _, m := range group {
		if m.ID == e.ID {
			return group
		}
	}
	return append(group, e)
}
