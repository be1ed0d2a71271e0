package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Store abstracts lock persistence for the service.
type Store interface {
	DB() db.DBTX
	WithTx(ctx context.Context, fn func(q db.DBTX) error) error
	BumpLockState(ctx context.Context, q db.DBTX) error
	ShareLockState(ctx context.Context, q db.DBTX) error
	ListLocked(ctx context.Context, q db.DBTX) ([]Lock, error)
	List(ctx context.Context, q db.DBTX) ([]Lock, error)
	Get(ctx context.Context, q db.DBTX, fiscalYear, period int) (Lock, error)
	Upsert(ctx context.Context, q db.DBTX, l Lock) (Lock, error)
}

// AuditPort records committed lock changes.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service administers period locks.
type Service struct {
	store Store
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the lock administration service.
func NewService(store Store, auditor AuditPort) *Service {
	return &Service{store: store, audit: auditor, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns every known period.
func (s *Service) List(ctx context.Context) ([]Lock, error) {
	return s.store.List(ctx, s.store.DB())
}

// Check evaluates the lock state for date outside any transaction.
func (s *Service) Check(ctx context.Context, date time.Time) (LockStatus, error) {
	locks, err := s.store.ListLocked(ctx, s.store.DB())
	if err != nil {
		return LockStatus{}, err
	}
	return Evaluate(locks, date), nil
}

// SetLock locks or unlocks one period. Bumping the lock version waits for
// every in-flight transaction that already checked the lock state and aborts
// any that checks it after this change commits.
func (s *Service) SetLock(ctx context.Context, fiscalYear, period int, locked bool, actor string) (Lock, error) {
	target := Lock{FiscalYear: fiscalYear, Period: period, IsLocked: locked}
	if err := target.Validate(); err != nil {
		return Lock{}, err
	}
	if locked {
		at := s.now().UTC()
		target.LockedAt = &at
		target.LockedBy = actor
	}

	var before, after Lock
	err := s.store.WithTx(ctx, func(q db.DBTX) error {
		if err := s.store.BumpLockState(ctx, q); err != nil {
			return err
		}
		current, err := s.store.Get(ctx, q, fiscalYear, period)
		if err != nil {
			return err
		}
		before = current
		after, err = s.store.Upsert(ctx, q, target)
		return err
	})
	if err != nil {
		return Lock{}, fmt.Errorf("periods: set lock %d-%02d: %w", fiscalYear, period, err)
	}

	action := audit.ActionPeriodUnlock
	if locked {
		action = audit.ActionPeriodLock
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			EntityType: "period_lock",
			EntityID:   fmt.Sprintf("%d-%02d", fiscalYear, period),
			Action:     action,
			Actor:      actor,
			OldValues:  snapshot(before),
			NewValues:  snapshot(after),
		})
	}
	return after, nil
}

func snapshot(l Lock) map[string]any {
	values := map[string]any{
		"fiscal_year": l.FiscalYear,
		"period":      l.Period,
		"is_locked":   l.IsLocked,
	}
	if l.LockedAt != nil {
		values["locked_at"] = l.LockedAt.UTC().Format(time.RFC3339)
	}
	if l.LockedBy != "" {
		values["locked_by"] = l.LockedBy
	}
	return values
}
