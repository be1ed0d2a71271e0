package periods

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Guard answers period lock questions inside the caller's transaction.
type Guard struct {
	repo Store
}

// NewGuard wires a guard over the lock store.
func NewGuard(repo Store) *Guard {
	return &Guard{repo: repo}
}

// CheckLock reads the lock state through q. The shared row lock taken first
// conflicts with SetLock: a period cannot close underneath a transaction that
// passed the check, and a close committed after the transaction's snapshot
// surfaces as a serialization failure that db.WithTx retries.
func (g *Guard) CheckLock(ctx context.Context, q db.DBTX, date time.Time) (LockStatus, error) {
	if err := g.repo.ShareLockState(ctx, q); err != nil {
		return LockStatus{}, err
	}
	locks, err := g.repo.ListLocked(ctx, q)
	if err != nil {
		return LockStatus{}, err
	}
	return Evaluate(locks, date), nil
}

// Ensure returns a *LockedError when date is locked.
func (g *Guard) Ensure(ctx context.Context, q db.DBTX, date time.Time) error {
	status, err := g.CheckLock(ctx, q, date)
	if err != nil {
		return err
	}
	if status.Locked {
		return &LockedError{Date: date, LockedUntil: *status.LockedUntil}
	}
	return nil
}
