package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db      DBTX
	dialect Dialect
}

func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

const expenseColumns = `id, user_id, description, category, amount, date, origin_id, debtor_id,
	shared_amount, parcela, installments, recurring, recurrence_type, fixed, billing_month,
	fingerprint, last_replicated_at, installment_group_id, source_id, created_at, updated_at`

const originColumns = `id, user_id, name, type, closing_day, billing_rollover_policy`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e                                    core.Expense
		amount                               string
		date, lastReplicated, created, upd   dbTime
		originID, debtorID, shared           sql.NullString
		recurrenceType, billingMonth         sql.NullString
		groupID, sourceID                    sql.NullString
		installments                         sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.Description, &e.Category, &amount, &date, &originID, &debtorID,
		&shared, &e.Parcela, &installments, &e.Recurring, &recurrenceType, &e.Fixed, &billingMonth,
		&e.Fingerprint, &lastReplicated, &groupID, &sourceID, &created, &upd,
	)
	if err != nil {
		return core.Expense{}, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse amount %q of expense %s: %w", amount, e.ID, err)
	}
	e.Amount = core.Money{Decimal: d}
	if shared.Valid {
		sd, err := decimal.NewFromString(shared.String)
		if err != nil {
			return core.Expense{}, fmt.Errorf("parse shared amount of expense %s: %w", e.ID, err)
		}
		e.SharedAmount = &core.Money{Decimal: sd}
	}
	if billingMonth.Valid {
		m, err := core.ParseMonthKey(billingMonth.String)
		if err != nil {
			return core.Expense{}, fmt.Errorf("parse billing month of expense %s: %w", e.ID, err)
		}
		e.BillingMonth = &m
	}
	if recurrenceType.Valid {
		rt := core.RecurrenceType(recurrenceType.String)
		e.RecurrenceType = &rt
	}
	if installments.Valid {
		n := int(installments.Int64)
		e.Installments = &n
	}

	e.Date = date.Time
	e.OriginID = nullStringPtr(originID)
	e.DebtorID = nullStringPtr(debtorID)
	e.InstallmentGroupID = nullStringPtr(groupID)
	e.SourceID = nullStringPtr(sourceID)
	e.LastReplicatedAt = lastReplicated.Ptr()
	e.CreatedAt = created.Time
	e.UpdatedAt = upd.Time
	return e, nil
}

func (q *Queries) FindExpenses(ctx context.Context, f ExpenseFilter) ([]core.Expense, error) {
	where, args := q.where(f)
	query := "SELECT " + expenseColumns + " FROM expenses" + where + orderClause(f.Order)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.db.QueryContext(ctx, q.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) CountExpenses(ctx context.Context, f ExpenseFilter) (int, error) {
	where, args := q.where(f)
	var n int
	err := q.db.QueryRowContext(ctx, q.dialect.rebind("SELECT COUNT(*) FROM expenses"+where), args...).Scan(&n)
	return n, err
}

func (q *Queries) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses WHERE id = ? AND user_id = ?"
	e, err := scanExpense(q.db.QueryRowContext(ctx, q.dialect.rebind(query), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, &core.NotFoundError{Resource: "expense", ID: id}
	}
	return e, err
}

func (q *Queries) InsertExpense(ctx context.Context, e core.Expense) error {
	query := "INSERT INTO expenses (" + expenseColumns + ") VALUES (" + placeholders(21) + ")"
	_, err := q.db.ExecContext(ctx, q.dialect.rebind(query),
		e.ID, e.UserID, e.Description, e.Category, e.Amount.String(), q.dialect.timeArg(e.Date),
		strArg(e.OriginID), strArg(e.DebtorID), moneyArg(e.SharedAmount), e.Parcela, intArg(e.Installments),
		e.Recurring, recurrenceArg(e.RecurrenceType), e.Fixed, monthArg(e.BillingMonth),
		e.Fingerprint, q.dialect.nullTimeArg(e.LastReplicatedAt), strArg(e.InstallmentGroupID), strArg(e.SourceID),
		q.dialect.timeArg(e.CreatedAt), q.dialect.timeArg(e.UpdatedAt),
	)
	return err
}

func (q *Queries) UpdateExpense(ctx context.Context, e core.Expense) (int64, error) {
	query := `UPDATE expenses SET description = ?, category = ?, amount = ?, date = ?, origin_id = ?,
		debtor_id = ?, shared_amount = ?, parcela = ?, installments = ?, recurring = ?, recurrence_type = ?,
		fixed = ?, billing_month = ?, fingerprint = ?, installment_group_id = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`
	res, err := q.db.ExecContext(ctx, q.dialect.rebind(query),
		e.Description, e.Category, e.Amount.String(), q.dialect.timeArg(e.Date), strArg(e.OriginID),
		strArg(e.DebtorID), moneyArg(e.SharedAmount), e.Parcela, intArg(e.Installments), e.Recurring,
		recurrenceArg(e.RecurrenceType), e.Fixed, monthArg(e.BillingMonth), e.Fingerprint,
		strArg(e.InstallmentGroupID), q.dialect.timeArg(e.UpdatedAt),
		e.ID, e.UserID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) UpdateExpenses(ctx context.Context, userID string, ids []string, patch ExpensePatch, now time.Time) (int64, error) {
	var (
		sets []string
		args []any
	)
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *patch.Category)
	}
	if patch.OriginID != nil {
		sets = append(sets, "origin_id = ?")
		args = append(args, strArg(patch.OriginID.Value))
	}
	if patch.BillingMonth != nil {
		sets = append(sets, "billing_month = ?")
		args = append(args, monthArg(patch.BillingMonth.Value))
	}
	if patch.Fixed != nil {
		sets = append(sets, "fixed = ?")
		args = append(args, *patch.Fixed)
	}
	if patch.Recurring != nil {
		sets = append(sets, "recurring = ?")
		args = append(args, *patch.Recurring)
	}
	if patch.RecurrenceType != nil {
		sets = append(sets, "recurrence_type = ?")
		args = append(args, recurrenceArg(patch.RecurrenceType.Value))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, q.dialect.timeArg(now))

	query := "UPDATE expenses SET " + strings.Join(sets, ", ") +
		" WHERE user_id = ? AND id IN (" + placeholders(len(ids)) + ")"
	args = append(args, userID)
	args = append(args, stringArgs(ids)...)

	res, err := q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteExpenses(ctx context.Context, userID string, ids []string) (int64, error) {
	query := "DELETE FROM expenses WHERE user_id = ? AND id IN (" + placeholders(len(ids)) + ")"
	args := append([]any{userID}, stringArgs(ids)...)
	res, err := q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) SetLastReplicatedAt(ctx context.Context, userID, id string, at, now time.Time) (int64, error) {
	query := "UPDATE expenses SET last_replicated_at = ?, updated_at = ? WHERE id = ? AND user_id = ?"
	res, err := q.db.ExecContext(ctx, q.dialect.rebind(query), q.dialect.timeArg(at), q.dialect.timeArg(now), id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) FingerprintExists(ctx context.Context, userID, fingerprint string) (bool, error) {
	var n int
	query := "SELECT COUNT(*) FROM expenses WHERE user_id = ? AND fingerprint = ?"
	if err := q.db.QueryRowContext(ctx, q.dialect.rebind(query), userID, fingerprint).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *Queries) RecurringTenants(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM expenses
		WHERE (recurring = ? OR fixed = ?) AND source_id IS NULL
		ORDER BY user_id`
	rows, err := q.db.QueryContext(ctx, q.dialect.rebind(query), true, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (q *Queries) GetOrigin(ctx context.Context, userID, id string) (core.Origin, error) {
	var (
		o          core.Origin
		closingDay sql.NullInt64
		policy     string
	)
	query := "SELECT " + originColumns + " FROM origins WHERE id = ? AND user_id = ?"
	err := q.db.QueryRowContext(ctx, q.dialect.rebind(query), id, userID).
		Scan(&o.ID, &o.UserID, &o.Name, &o.Type, &closingDay, &policy)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Origin{}, &core.NotFoundError{Resource: "origin", ID: id}
	}
	if err != nil {
		return core.Origin{}, err
	}
	if closingDay.Valid {
		d := int(closingDay.Int64)
		o.ClosingDay = &d
	}
	o.RolloverPolicy = core.RolloverPolicy(policy)
	return o, nil
}

func (q *Queries) InsertOrigin(ctx context.Context, o core.Origin, now time.Time) error {
	query := "INSERT INTO origins (" + originColumns + ", created_at) VALUES (" + placeholders(7) + ")"
	_, err := q.db.ExecContext(ctx, q.dialect.rebind(query),
		o.ID, o.UserID, o.Name, o.Type, intArg(o.ClosingDay), string(o.RolloverPolicy.OrDefault()), q.dialect.timeArg(now))
	return err
}

func (q *Queries) where(f ExpenseFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			conds = append(conds, "1 = 0")
		} else {
			conds = append(conds, "id IN ("+placeholders(len(f.IDs))+")")
			args = append(args, stringArgs(f.IDs)...)
		}
	}
	if f.ParcelaSuffix != "" {
		conds = append(conds, `parcela LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.ParcelaSuffix))
	}
	if f.Amount != nil {
		conds = append(conds, "amount = ?")
		args = append(args, f.Amount.String())
	}
	if f.Installments != nil {
		conds = append(conds, "installments = ?")
		args = append(args, *f.Installments)
	}
	conds, args = nullableCond(conds, args, "origin_id", f.OriginID)
	conds, args = nullableCond(conds, args, "debtor_id", f.DebtorID)
	if f.InstallmentGroupID != nil {
		conds = append(conds, "installment_group_id = ?")
		args = append(args, *f.InstallmentGroupID)
	}
	if f.RecurringSources {
		conds = append(conds, "(recurring = ? OR fixed = ?) AND source_id IS NULL")
		args = append(args, true, true)
	}
	if f.Period != nil {
		start := q.dialect.timeArg(f.Period.Month.Start())
		end := q.dialect.timeArg(f.Period.Month.Next().Start())
		if f.Period.Mode == core.BillingView {
			conds = append(conds, "(billing_month = ? OR (billing_month IS NULL AND date >= ? AND date < ?))")
			args = append(args, f.Period.Month.String(), start, end)
		} else {
			conds = append(conds, "date >= ? AND date < ?")
			args = append(args, start, end)
		}
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullableCond(conds []string, args []any, column string, n *Nullable[string]) ([]string, []any) {
	if n == nil {
		return conds, args
	}
	if n.Value == nil {
		return append(conds, column+" IS NULL"), args
	}
	return append(conds, column+" = ?"), append(args, *n.Value)
}

func orderClause(o Order) string {
	if o == OrderDateDesc {
		return " ORDER BY date DESC, id DESC"
	}
	return " ORDER BY date ASC, id ASC"
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func strArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func moneyArg(p *core.Money) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func monthArg(p *core.MonthKey) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func recurrenceArg(p *core.RecurrenceType) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
