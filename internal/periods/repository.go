package periods

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Pool is the connection pool the repository opens transactions on.
type Pool interface {
	db.Beginner
	db.DBTX
}

// Repository persists period_locks rows. Query methods run on the connection
// or transaction handed in by the caller.
type Repository struct {
	pool     Pool
	attempts int
}

// NewRepository constructs the repository.
func NewRepository(pool Pool, attempts int) *Repository {
	return &Repository{pool: pool, attempts: attempts}
}

// DB exposes the pool for reads outside a transaction.
func (r *Repository) DB() db.DBTX {
	return r.pool
}

// WithTx runs fn in a retried transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(q db.DBTX) error) error {
	return db.WithTx(ctx, r.pool, r.attempts, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// ShareLockState reads the lock version row FOR SHARE. Under RepeatableRead
// this fails with 40001 when a lock change committed after the transaction's
// snapshot, and it blocks a lock change that has not committed yet.
func (r *Repository) ShareLockState(ctx context.Context, q db.DBTX) error {
	var version int64
	err := q.QueryRow(ctx, `SELECT version FROM period_lock_state WHERE id = 1 FOR SHARE`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.New("periods: period_lock_state row missing")
	}
	return err
}

// BumpLockState increments the lock version. It waits for every transaction
// holding the row FOR SHARE.
func (r *Repository) BumpLockState(ctx context.Context, q db.DBTX) error {
	tag, err := q.Exec(ctx, `UPDATE period_lock_state SET version = version + 1 WHERE id = 1`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("periods: period_lock_state row missing")
	}
	return nil
}

// ListLocked returns every locked period.
func (r *Repository) ListLocked(ctx context.Context, q db.DBTX) ([]Lock, error) {
	return r.query(ctx, q, `SELECT fiscal_year, period, is_locked, locked_at, COALESCE(locked_by, ''), updated_at
FROM period_locks WHERE is_locked ORDER BY fiscal_year, period`)
}

// List returns every known period row.
func (r *Repository) List(ctx context.Context, q db.DBTX) ([]Lock, error) {
	return r.query(ctx, q, `SELECT fiscal_year, period, is_locked, locked_at, COALESCE(locked_by, ''), updated_at
FROM period_locks ORDER BY fiscal_year, period`)
}

// Get returns one period row. Missing rows are reported as unlocked.
func (r *Repository) Get(ctx context.Context, q db.DBTX, fiscalYear, period int) (Lock, error) {
	var l Lock
	err := q.QueryRow(ctx, `SELECT fiscal_year, period, is_locked, locked_at, COALESCE(locked_by, ''), updated_at
FROM period_locks WHERE fiscal_year = $1 AND period = $2 FOR UPDATE`, fiscalYear, period).
		Scan(&l.FiscalYear, &l.Period, &l.IsLocked, &l.LockedAt, &l.LockedBy, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lock{FiscalYear: fiscalYear, Period: period}, nil
	}
	return l, err
}

// Upsert writes the lock flag and returns the stored row.
func (r *Repository) Upsert(ctx context.Context, q db.DBTX, l Lock) (Lock, error) {
	var out Lock
	err := q.QueryRow(ctx, `INSERT INTO period_locks (fiscal_year, period, is_locked, locked_at, locked_by, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
ON CONFLICT (fiscal_year, period) DO UPDATE
SET is_locked = EXCLUDED.is_locked, locked_at = EXCLUDED.locked_at, locked_by = EXCLUDED.locked_by, updated_at = NOW()
RETURNING fiscal_year, period, is_locked, locked_at, COALESCE(locked_by, ''), updated_at`,
		l.FiscalYear, l.Period, l.IsLocked, l.LockedAt, l.LockedBy).
		Scan(&out.FiscalYear, &out.Period, &out.IsLocked, &out.LockedAt, &out.LockedBy, &out.UpdatedAt)
	return out, err
}

func (r *Repository) query(ctx context.Context, q db.DBTX, sql string) ([]Lock, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.FiscalYear, &l.Period, &l.IsLocked, &l.LockedAt, &l.LockedBy, &l.UpdatedAt); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}
