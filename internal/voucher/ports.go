package voucher

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/budget"
	"github.com/odyssey-erp/odyssey-ledger/internal/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository provides read access and transactional write access.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Get(ctx context.Context, id int64) (Voucher, error)
	List(ctx context.Context, filter ListFilter) ([]Voucher, int, error)
	LedgerEntries(ctx context.Context, voucherID int64) ([]LedgerEntry, error)
}

// TxRepository exposes the mutations available inside a transaction.
type TxRepository interface {
	// DB is the transaction handle collaborators join.
	DB() db.DBTX
	NextDocSequence(ctx context.Context, t Type, fiscalYear int) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Voucher, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	UpdateDraft(ctx context.Context, v Voucher) (bool, error)
	ReplaceLines(ctx context.Context, voucherID int64, lines []Line) error
	DeleteDraft(ctx context.Context, id int64) (bool, error)
	TransitionStatus(ctx context.Context, id int64, from, to Status, actor string, at time.Time) (bool, error)
	InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error
	DeleteLedgerEntries(ctx context.Context, voucherID int64) (int64, error)
}

// PeriodGuard answers lock questions on the caller's transaction.
type PeriodGuard interface {
	CheckLock(ctx context.Context, q db.DBTX, date time.Time) (periods.LockStatus, error)
}

// BudgetGate reserves fund allocations on the caller's transaction.
type BudgetGate interface {
	CheckAndReserve(ctx context.Context, q db.DBTX, req budget.Request) (budget.Decision, error)
	Confirm(ctx context.Context, q db.DBTX, voucherID int64) error
	Release(ctx context.Context, q db.DBTX, voucherID int64) error
}

// AuditPort receives entries after commit. It must not block or fail.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Observer is told about every committed transition.
type Observer interface {
	VoucherAction(action string)
}
