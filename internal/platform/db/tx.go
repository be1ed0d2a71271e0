package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTxAttempts bounds how often a serialization failure is retried.
const DefaultTxAttempts = 5

// ErrRetryLimit is returned when every attempt hit a serialization failure.
var ErrRetryLimit = errors.New("platform/db: transaction retry limit exceeded")

// Beginner starts transactions; *pgxpool.Pool implements it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Beginner = (*pgxpool.Pool)(nil)

// WithTx executes fn within a RepeatableRead transaction. Serialization and
// deadlock failures are retried up to attempts times with a short backoff so a
// losing writer re-reads committed state before deciding.
func WithTx(ctx context.Context, pool Beginner, attempts int, fn func(pgx.Tx) error) error {
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := runTx(ctx, pool, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts {
			if IsRetryable(err) {
				return fmt.Errorf("%w: %w", ErrRetryLimit, err)
			}
			return err
		}
		if err := sleepWithBackoff(ctx, attempt); err != nil {
			return err
		}
	}
	return ErrRetryLimit
}

func runTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryable reports serialization_failure and deadlock_detected errors.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func sleepWithBackoff(ctx context.Context, attempt int) error {
	base := 20 * time.Millisecond
	backoff := time.Duration(attempt*attempt)*base + time.Duration(rand.Int64N(int64(10*time.Millisecond)))
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
