package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gastos/internal/core"
	applog "gastos/internal/log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLRepository implements Store on top of database/sql. The same code
// serves SQLite and PostgreSQL; Dialect covers the differences.
type SQLRepository struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect Dialect
	queries *Queries
	now     func() time.Time
}

// sqliteDSN enables WAL and a busy timeout so the worker and the CLI can
// share one database file.
func sqliteDSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open(SQLite.driverName(), sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY inside transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(SQLite, sqliteDSN(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	applog.ForComponent(applog.ComponentStorage).Info("SQLite store ready", "path", dbPath)
	return newSQLRepository(db, SQLite), nil
}

func NewPostgresRepository(ctx context.Context, url string) (*SQLRepository, error) {
	if url == "" {
		return nil, errors.New("postgres url is empty")
	}

	db, err := sql.Open(Postgres.driverName(), url)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(Postgres, url); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	applog.ForComponent(applog.ComponentStorage).InfoContext(ctx, "PostgreSQL store ready")
	return newSQLRepository(db, Postgres), nil
}

func newSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{
		db:      db,
		dialect: dialect,
		queries: New(db, dialect),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *SQLRepository) Close() error {
	if r.tx != nil {
		return nil
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLRepository) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &SQLRepository{
		db:      r.db,
		tx:      tx,
		dialect: r.dialect,
		queries: r.queries.WithTx(tx),
		now:     r.now,
	}

	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLRepository) FindExpenses(ctx context.Context, f ExpenseFilter) ([]core.Expense, error) {
	if f.IDs != nil && len(f.IDs) == 0 {
		return nil, nil
	}
	out, err := r.queries.FindExpenses(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("find expenses: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) CountExpenses(ctx context.Context, f ExpenseFilter) (int, error) {
	n, err := r.queries.CountExpenses(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count expenses: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	e, err := r.queries.GetExpense(ctx, userID, id)
	if err != nil {
		if core.IsNotFound(err) {
			return core.Expense{}, err
		}
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, err)
	}
	return e, nil
}

// CreateExpenses inserts all expenses or none.
func (r *SQLRepository) CreateExpenses(ctx context.Context, expenses []core.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	now := r.now()
	return r.RunInTx(ctx, func(tx Store) error {
		q := tx.(*SQLRepository).queries
		for _, e := range expenses {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			if e.UpdatedAt.IsZero() {
				e.UpdatedAt = e.CreatedAt
			}
			if err := q.InsertExpense(ctx, e); err != nil {
				return fmt.Errorf("insert expense %s: %w", e.ID, err)
			}
		}
		slog.DebugContext(ctx, "Expenses inserted", "count", len(expenses))
		return nil
	})
}

func (r *SQLRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	e.UpdatedAt = r.now()
	n, err := r.queries.UpdateExpense(ctx, e)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: "expense", ID: e.ID}
	}
	return nil
}

func (r *SQLRepository) UpdateExpenses(ctx context.Context, userID string, ids []string, patch ExpensePatch) (int64, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return 0, nil
	}
	n, err := r.queries.UpdateExpenses(ctx, userID, ids, patch, r.now())
	if err != nil {
		return 0, fmt.Errorf("update expenses: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) DeleteExpenses(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.queries.DeleteExpenses(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete expenses: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) SetLastReplicatedAt(ctx context.Context, userID, id string, at time.Time) error {
	n, err := r.queries.SetLastReplicatedAt(ctx, userID, id, at, r.now())
	if err != nil {
		return fmt.Errorf("set last replicated at for %s: %w", id, err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: "expense", ID: id}
	}
	return nil
}

func (r *SQLRepository) FingerprintExists(ctx context.Context, userID, fingerprint string) (bool, error) {
	ok, err := r.queries.FingerprintExists(ctx, userID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return ok, nil
}

func (r *SQLRepository) RecurringTenants(ctx context.Context) ([]string, error) {
	users, err := r.queries.RecurringTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recurring tenants: %w", err)
	}
	return users, nil
}

func (r *SQLRepository) GetOrigin(ctx context.Context, userID, id string) (core.Origin, error) {
	o, err := r.queries.GetOrigin(ctx, userID, id)
	if err != nil {
		if core.IsNotFound(err) {
			return core.Origin{}, err
		}
		return core.Origin{}, fmt.Errorf("get origin %s: %w", id, err)
	}
	return o, nil
}

func (r *SQLRepository) CreateOrigin(ctx context.Context, o core.Origin) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if err := r.queries.InsertOrigin(ctx, o, r.now()); err != nil {
		return fmt.Errorf("insert origin %s: %w", o.ID, err)
	}
	slog.InfoContext(ctx, "Origin created", "id", o.ID, "user_id", o.UserID, "type", o.Type)
	return nil
}
