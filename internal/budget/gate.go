// Package budget reserves fund allocations for vouchers that spend against
// them. Every call runs on the caller's transaction so a reservation commits
// or rolls back together with the voucher write.
package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

var (
	// ErrInsufficientBudget wraps every rejection for lack of funds.
	ErrInsufficientBudget = errors.New("budget: insufficient budget")
	// ErrUnknownFund indicates the fund reference has no allocation.
	ErrUnknownFund = errors.New("budget: unknown fund")
	// ErrNoReservation indicates Confirm found nothing to spend.
	ErrNoReservation = errors.New("budget: no open reservation")
)

// Reservation statuses.
const (
	StatusReserved = "RESERVED"
	StatusSpent    = "SPENT"
	StatusReleased = "RELEASED"
)

// Request asks to hold Amount of FundRef for one voucher.
type Request struct {
	FundRef   string
	VoucherID int64
	Amount    decimal.Decimal
}

// Decision is the outcome of a reservation attempt.
type Decision struct {
	Allowed   bool
	Allocated decimal.Decimal
	Used      decimal.Decimal
	Remaining decimal.Decimal
}

// InsufficientError details a rejected reservation.
type InsufficientError struct {
	FundRef   string
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("budget: fund %s has %s remaining, %s requested", e.FundRef, e.Remaining.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientError) Is(target error) bool {
	return target == ErrInsufficientBudget
}

// Decide compares a request against the allocation and what other vouchers
// already hold.
func Decide(allocated, used, requested decimal.Decimal) Decision {
	remaining := allocated.Sub(used)
	if requested.GreaterThan(remaining) {
		return Decision{Allowed: false, Allocated: allocated, Used: used, Remaining: remaining}
	}
	return Decision{Allowed: true, Allocated: allocated, Used: used.Add(requested), Remaining: remaining.Sub(requested)}
}

// Gate is the Postgres implementation of the budget check.
type Gate struct{}

// NewGate constructs the gate.
func NewGate() *Gate {
	return &Gate{}
}

// CheckAndReserve releases whatever this voucher already holds and then
// claims the request against fund_allocations.reserved with one conditional
// UPDATE. The update is the serialisation point: a concurrent reservation on
// the same fund either waits for this one or fails with 40001 and is retried
// by db.WithTx on a fresh snapshot, so two holds can never both fit into the
// same remaining amount.
func (g *Gate) CheckAndReserve(ctx context.Context, q db.DBTX, req Request) (Decision, error) {
	if err := g.release(ctx, q, req.VoucherID); err != nil {
		return Decision{}, fmt.Errorf("budget: release previous hold: %w", err)
	}

	var allocated, reserved decimal.Decimal
	err := q.QueryRow(ctx, `UPDATE fund_allocations SET reserved = reserved + $2
WHERE fund_ref = $1 AND amount - reserved >= $2
RETURNING amount, reserved`, req.FundRef, req.Amount).Scan(&allocated, &reserved)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return g.reject(ctx, q, req)
	case err != nil:
		return Decision{}, fmt.Errorf("budget: claim fund: %w", err)
	}

	_, err = q.Exec(ctx, `INSERT INTO budget_reservations (voucher_id, fund_ref, amount, status, updated_at)
VALUES ($1, $2, $3, 'RESERVED', NOW())
ON CONFLICT (voucher_id) DO UPDATE
SET fund_ref = EXCLUDED.fund_ref, amount = EXCLUDED.amount, status = 'RESERVED', updated_at = NOW()`,
		req.VoucherID, req.FundRef, req.Amount)
	if err != nil {
		return Decision{}, fmt.Errorf("budget: reserve: %w", err)
	}
	return Decision{
		Allowed:   true,
		Allocated: allocated,
		Used:      reserved,
		Remaining: allocated.Sub(reserved),
	}, nil
}

// reject explains why the conditional claim matched no row.
func (g *Gate) reject(ctx context.Context, q db.DBTX, req Request) (Decision, error) {
	var allocated, reserved decimal.Decimal
	err := q.QueryRow(ctx, `SELECT amount, reserved FROM fund_allocations WHERE fund_ref = $1`, req.FundRef).
		Scan(&allocated, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownFund, req.FundRef)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("budget: load fund: %w", err)
	}
	return Decide(allocated, reserved, req.Amount), nil
}

// Confirm turns the voucher's reservation into spending. Spent amounts stay
// counted in fund_allocations.reserved.
func (g *Gate) Confirm(ctx context.Context, q db.DBTX, voucherID int64) error {
	tag, err := q.Exec(ctx, `UPDATE budget_reservations SET status = 'SPENT', updated_at = NOW()
WHERE voucher_id = $1 AND status = 'RESERVED'`, voucherID)
	if err != nil {
		return fmt.Errorf("budget: confirm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoReservation
	}
	return nil
}

// Release frees whatever the voucher holds. Releasing nothing is not an error.
func (g *Gate) Release(ctx context.Context, q db.DBTX, voucherID int64) error {
	if err := g.release(ctx, q, voucherID); err != nil {
		return fmt.Errorf("budget: release: %w", err)
	}
	return nil
}

func (g *Gate) release(ctx context.Context, q db.DBTX, voucherID int64) error {
	var (
		fundRef string
		amount  decimal.Decimal
	)
	err := q.QueryRow(ctx, `UPDATE budget_reservations SET status = 'RELEASED', updated_at = NOW()
WHERE voucher_id = $1 AND status IN ('RESERVED', 'SPENT')
RETURNING fund_ref, amount`, voucherID).Scan(&fundRef, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE fund_allocations SET reserved = reserved - $2 WHERE fund_ref = $1`, fundRef, amount)
	return err
}
