package voucher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/budget"
	"github.com/odyssey-erp/odyssey-ledger/internal/periods"
)

var fixedNow = time.Date(2025, 3, 20, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store    *memStore
	guard    *stubGuard
	budget   *stubBudget
	audit    *recordingAudit
	observer *countingObserver
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		guard:    &stubGuard{},
		budget:   &stubBudget{allocated: map[string]string{"F-OPS": "1000000"}},
		audit:    &recordingAudit{},
		observer: &countingObserver{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.store, f.guard, f.budget, f.audit, logger)
	f.svc.WithNow(func() time.Time { return fixedNow })
	f.svc.WithObserver(f.observer)
	return f
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cashReceipt() Input {
	return Input{
		DocDate: day(2025, 3, 15),
		Type:    TypeCashReceipt,
		Actor:   "alice",
		Lines: []LineInput{
			{DebitAcc: "1111", CreditAcc: "511", Amount: decimalOf("10000000"), Description: "March sales"},
		},
	}
}

func lockedThrough(year, month int) []periods.Lock {
	return []periods.Lock{{FiscalYear: year, Period: month, IsLocked: true}}
}

func TestCreateAllocatesDocNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	assert.Equal(t, "CR202500001", first.DocNo)
	assert.Equal(t, "CR202500002", second.DocNo)
	assert.Equal(t, StatusDraft, first.Status)
	assert.Equal(t, "alice", first.CreatedBy)
	assert.Equal(t, BaseCurrency, first.Currency)
	assert.True(t, first.FXRate.Equal(decimalOf("1")))
	assert.Equal(t, day(2025, 3, 15), first.PostDate, "post date defaults to doc date")
	assert.True(t, first.TotalAmount.Equal(decimalOf("10000000")))
	require.Len(t, first.Lines, 1)
	assert.Equal(t, 1, first.Lines[0].LineNo)
	assert.Equal(t, first.ID, first.Lines[0].VoucherID)

	assert.Equal(t, []audit.Action{audit.ActionCreate, audit.ActionCreate}, f.audit.actions())
	assert.Equal(t, 2, f.observer.counts["CREATE"])
}

func TestCreateSequencesArePerTypeAndYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := cashReceipt()
	in.Type = TypeGeneral
	jv, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	in.DocDate = day(2026, 1, 2)
	nextYear, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	cr, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	assert.Equal(t, "JV202500001", jv.DocNo)
	assert.Equal(t, "JV202600001", nextYear.DocNo)
	assert.Equal(t, "CR202500001", cr.DocNo)
}

func TestCreateKeepsExplicitDocNoAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := cashReceipt()
	in.DocNo = " MANUAL-1 "
	v, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "MANUAL-1", v.DocNo)

	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrDocNoConflict)
	assert.Equal(t, 1, f.store.count())
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
	}{
		{"missing doc date", func(in *Input) { in.DocDate = time.Time{} }, "doc_date"},
		{"unknown type", func(in *Input) { in.Type = "XX" }, "type"},
		{"foreign currency without rate", func(in *Input) { in.Currency = "usd" }, "fx_rate"},
		{"negative rate", func(in *Input) { in.FXRate = decimalOf("-1") }, "fx_rate"},
		{"long doc no", func(in *Input) { in.DocNo = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456" }, "doc_no"},
		{"negative amount", func(in *Input) { in.Lines[0].Amount = decimalOf("-5") }, "lines[0].amount"},
		{"sub-cent amount", func(in *Input) { in.Lines[0].Amount = decimalOf("0.004") }, "lines[0].amount"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := cashReceipt()
			tc.mutate(&in)

			_, err := f.svc.Create(context.Background(), in)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Zero(t, f.store.count())
		})
	}
}

func TestCreateForeignCurrencyWithRate(t *testing.T) {
	f := newFixture(t)
	in := cashReceipt()
	in.Currency = "usd"
	in.FXRate = decimalOf("16250.5")

	v, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "USD", v.Currency)
	assert.True(t, v.FXRate.Equal(decimalOf("16250.5")))
}

func TestCreateRejectsLinesThatCannotPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := cashReceipt()
	in.Lines = []LineInput{{DebitAcc: "111", Amount: decimalOf("1000000")}}
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrUnbalanced)
	var berr *BalanceError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, BalanceIncomplete, berr.Report.Status)

	in.Lines = nil
	_, err = f.svc.Create(ctx, in)
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, BalanceEmpty, berr.Report.Status)

	assert.Zero(t, f.store.count())
	assert.Empty(t, f.audit.actions())
}

func TestCreateDropsSkippedLines(t *testing.T) {
	f := newFixture(t)
	in := cashReceipt()
	in.Lines = append(in.Lines, LineInput{Description: "  "}, LineInput{CreditAcc: "004", Amount: decimalOf("250")})

	v, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, v.Lines, 2)
	assert.Equal(t, "004", v.Lines[1].CreditAcc)
	assert.Equal(t, 2, v.Lines[1].LineNo)
}

func TestCreateAcceptsTrailingZeroDecimals(t *testing.T) {
	f := newFixture(t)
	in := cashReceipt()
	in.Lines[0].Amount = decimalOf("10.500")

	v, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, v.TotalAmount.Equal(decimalOf("10.5")))
}

func TestMemoLinesSurviveEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := cashReceipt()
	in.Lines = append(in.Lines, LineInput{Description: "see attached receipt"})

	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Len(t, created.Lines, 2)
	assert.Equal(t, "see attached receipt", created.Lines[1].Description)
	assert.Equal(t, 2, created.Lines[1].LineNo)
	assert.True(t, created.TotalAmount.Equal(decimalOf("10000000")))

	in.Description = "edited"
	in.Lines = []LineInput{
		{Description: "header memo"},
		{DebitAcc: "1111", CreditAcc: "511", Amount: decimalOf("500")},
	}
	updated, err := f.svc.Update(ctx, created.ID, in)
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	assert.Equal(t, "header memo", updated.Lines[0].Description)

	dup, err := f.svc.Duplicate(ctx, created.ID, "", "dave")
	require.NoError(t, err)
	require.Len(t, dup.Lines, 2)
	assert.Equal(t, "header memo", dup.Lines[0].Description)

	posted, err := f.svc.Post(ctx, dup.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, posted.Entries, 2, "memo lines write no ledger rows")
}

func TestCreateInLockedPeriod(t *testing.T) {
	f := newFixture(t)
	f.guard.locks = lockedThrough(2025, 3)

	_, err := f.svc.Create(context.Background(), cashReceipt())
	require.ErrorIs(t, err, periods.ErrPeriodLocked)
	var lerr *periods.LockedError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, day(2025, 3, 31), lerr.LockedUntil)
	assert.Zero(t, f.store.count())
}

func TestCreateGuardFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.guard.err = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), cashReceipt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check period lock")
	assert.Zero(t, f.store.count())
}

func TestPostWritesBalancedLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	result, err := f.svc.Post(ctx, draft.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, StatusPosted, result.Voucher.Status)
	require.NotNil(t, result.Voucher.PostedBy)
	assert.Equal(t, "bob", *result.Voucher.PostedBy)
	assert.Equal(t, BalanceBalanced, result.Report.Status)

	entries, err := f.svc.LedgerEntries(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1111", entries[0].AccountCode)
	assert.Equal(t, "511", entries[0].ReciprocalAcc)
	assert.True(t, entries[0].Debit.Equal(decimalOf("10000000")))
	assert.Equal(t, "511", entries[1].AccountCode)
	assert.True(t, entries[1].Credit.Equal(decimalOf("10000000")))
	assert.Equal(t, "March sales", entries[0].Description)

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, stored.Status)

	last := f.audit.last()
	assert.Equal(t, audit.ActionPost, last.Action)
	assert.Equal(t, "DRAFT", last.OldValues["status"])
	assert.Equal(t, "POSTED", last.NewValues["status"])
	assert.Equal(t, "10000000.00", last.Amount)
}

func TestPostOffBalanceOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := cashReceipt()
	in.Lines = []LineInput{{DebitAcc: "007", Amount: decimalOf("500000")}}
	draft, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	result, err := f.svc.Post(ctx, draft.ID, "bob")
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "007", result.Entries[0].AccountCode)
	assert.Empty(t, result.Entries[0].ReciprocalAcc)
	assert.True(t, result.Report.HasOffBalanceItems)
}

func TestPostRejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.ErrorIs(t, err, ErrStateConflict)

	_, err = f.svc.Void(ctx, draft.ID, "bob", "")
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.ErrorIs(t, err, ErrVoided)

	_, err = f.svc.Post(ctx, 999, "bob")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostReevaluatesStoredLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := f.store.seed(Voucher{
		DocNo:    "JV-LEGACY",
		DocDate:  day(2025, 3, 1),
		PostDate: day(2025, 3, 1),
		Type:     TypeGeneral,
		Status:   StatusDraft,
		Lines:    []Line{{DebitAcc: "642", Amount: decimalOf("75")}},
	})

	_, err := f.svc.Post(ctx, bad.ID, "bob")
	require.ErrorIs(t, err, ErrUnbalanced)
	assert.Empty(t, f.store.ledgerSnapshot())

	stored, err := f.svc.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
}

func TestPostInLockedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	f.guard.locks = lockedThrough(2025, 3)
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.ErrorIs(t, err, periods.ErrPeriodLocked)

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Empty(t, f.store.ledgerSnapshot())
}

func TestPostRollsBackWhenLedgerWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	f.store.failLedger = errors.New("disk full")
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write ledger")

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Empty(t, f.store.ledgerSnapshot())
	assert.Equal(t, []audit.Action{audit.ActionCreate}, f.audit.actions())
}

func TestConcurrentPostHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := f.svc.Post(ctx, draft.ID, "bob")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyPosted):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 7, conflicts.Load())
	assert.Len(t, f.store.ledgerSnapshot(), 2)
}

func TestPostConditionalTransitionCatchesStaleRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.NoError(t, err)

	f.store.staleReads = true
	_, err = f.svc.Post(ctx, draft.ID, "carol")
	require.ErrorIs(t, err, ErrAlreadyPosted)
	assert.Len(t, f.store.ledgerSnapshot(), 2)
}

func TestVoidRemovesLedgerRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	target, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	for _, id := range []int64{keep.ID, target.ID} {
		_, err := f.svc.Post(ctx, id, "bob")
		require.NoError(t, err)
	}

	voided, err := f.svc.Void(ctx, target.ID, "carol", "entered twice")
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, voided.Status)
	require.NotNil(t, voided.VoidedBy)
	assert.Equal(t, "carol", *voided.VoidedBy)

	rows := f.store.ledgerSnapshot()
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, keep.ID, row.VoucherID)
	}

	_, err = f.svc.Void(ctx, target.ID, "carol", "")
	require.ErrorIs(t, err, ErrVoided)
	assert.Equal(t, audit.ActionVoid, f.audit.last().Action)
}

func TestVoidRequiresPosted(t *testing.T) {
	f := newFixture(t)
	draft, err := f.svc.Create(context.Background(), cashReceipt())
	require.NoError(t, err)

	_, err = f.svc.Void(context.Background(), draft.ID, "carol", "")
	require.ErrorIs(t, err, ErrNotPosted)
}

func TestVoidInLockedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.NoError(t, err)

	f.guard.locks = lockedThrough(2025, 4)
	_, err = f.svc.Void(ctx, draft.ID, "carol", "")
	require.ErrorIs(t, err, periods.ErrPeriodLocked)
	assert.Len(t, f.store.ledgerSnapshot(), 2)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	posted, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, posted.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, draft.ID, "alice"))
	_, err = f.svc.Get(ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, audit.ActionDelete, f.audit.last().Action)
	assert.NotNil(t, f.audit.last().OldValues)

	require.ErrorIs(t, f.svc.Delete(ctx, posted.ID, "alice"), ErrDeletePosted)
	_, err = f.svc.Void(ctx, posted.ID, "alice", "")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(ctx, posted.ID, "alice"), ErrVoided)
	require.ErrorIs(t, f.svc.Delete(ctx, 404, "alice"), ErrNotFound)
}

func TestUpdateReplacesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)

	in := cashReceipt()
	in.Description = "corrected"
	in.Lines = []LineInput{
		{DebitAcc: "1111", CreditAcc: "511", Amount: decimalOf("4000000")},
		{DebitAcc: "1111", CreditAcc: "3331", Amount: decimalOf("400000")},
	}
	updated, err := f.svc.Update(ctx, draft.ID, in)
	require.NoError(t, err)

	assert.Equal(t, draft.DocNo, updated.DocNo, "blank doc no keeps the current one")
	assert.Equal(t, "corrected", updated.Description)
	assert.True(t, updated.TotalAmount.Equal(decimalOf("4400000")))
	assert.Equal(t, draft.CreatedBy, updated.CreatedBy)

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	assert.Equal(t, "3331", stored.Lines[1].CreditAcc)

	last := f.audit.last()
	assert.Equal(t, audit.ActionUpdate, last.Action)
	assert.Equal(t, "10000000.00", last.OldValues["total_amount"])
	assert.Equal(t, "4400000.00", last.NewValues["total_amount"])
}

func TestUpdateRejectsPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, draft.ID, "bob")
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, draft.ID, cashReceipt())
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestUpdateIntoLockedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := cashReceipt()
	in.DocDate = day(2025, 5, 2)
	draft, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	f.guard.locks = lockedThrough(2025, 3)
	moved := cashReceipt()
	_, err = f.svc.Update(ctx, draft.ID, moved)
	require.ErrorIs(t, err, periods.ErrPeriodLocked)

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 5, 2), stored.PostDate)
}

func TestDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, err := f.svc.Create(ctx, cashReceipt())
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, src.ID, "bob")
	require.NoError(t, err)

	dup, err := f.svc.Duplicate(ctx, src.ID, "", "dave")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "CR202500002", dup.DocNo)
	assert.Equal(t, StatusDraft, dup.Status)
	assert.Equal(t, "dave", dup.CreatedBy)
	require.Len(t, dup.Lines, 1)
	assert.Equal(t, dup.ID, dup.Lines[0].VoucherID)
	assert.Equal(t, "March sales", dup.Lines[0].Description)

	named, err := f.svc.Duplicate(ctx, src.ID, "CR-COPY", "dave")
	require.NoError(t, err)
	assert.Equal(t, "CR-COPY", named.DocNo)

	_, err = f.svc.Duplicate(ctx, src.ID, "CR-COPY", "dave")
	require.ErrorIs(t, err, ErrDocNoConflict)
	assert.Equal(t, audit.ActionDuplicate, f.audit.last().Action)
}

func cashPayment(fund string, amount string) Input {
	return Input{
		DocDate: day(2025, 3, 10),
		Type:    TypeCashPayment,
		FundRef: fund,
		Actor:   "alice",
		Lines:   []LineInput{{DebitAcc: "642", CreditAcc: "1111", Amount: decimalOf(amount)}},
	}
}

func TestBudgetLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.Create(ctx, cashPayment("F-OPS", "250000"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, v.ID, "bob")
	require.NoError(t, err)
	_, err = f.svc.Void(ctx, v.ID, "bob", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"reserve", "reserve", "confirm", "release"}, f.budget.ops())
}

func TestBudgetRejectsOverspend(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), cashPayment("F-OPS", "1500000"))
	require.ErrorIs(t, err, budget.ErrInsufficientBudget)
	var ierr *budget.InsufficientError
	require.ErrorAs(t, err, &ierr)
	assert.True(t, ierr.Remaining.Equal(decimalOf("1000000")))
	assert.Zero(t, f.store.count())

	_, err = f.svc.Create(context.Background(), cashPayment("F-NONE", "10"))
	require.ErrorIs(t, err, budget.ErrUnknownFund)
}

func TestBudgetSkippedForNonDrawingTypes(t *testing.T) {
	f := newFixture(t)
	in := cashReceipt()
	in.FundRef = "F-OPS"

	v, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Post(context.Background(), v.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, f.budget.ops())
}

func TestBudgetReleasedWhenUpdateDropsFund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Create(ctx, cashPayment("F-OPS", "1000"))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, v.ID, cashPayment("", "1000"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, v.ID, "alice"))

	assert.Equal(t, []string{"reserve", "release"}, f.budget.ops())
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, cashReceipt())
		require.NoError(t, err)
	}
	_, err := f.svc.Create(ctx, cashPayment("F-OPS", "10"))
	require.NoError(t, err)

	page, err := f.svc.List(ctx, ListFilter{Type: TypeCashReceipt, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Page)

	page, err = f.svc.List(ctx, ListFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.PageSize)
	assert.Len(t, page.Items, 4)

	from, to := day(2025, 3, 12), day(2025, 3, 1)
	_, err = f.svc.List(ctx, ListFilter{FromDate: &from, ToDate: &to})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.List(ctx, ListFilter{Status: "ARCHIVED"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestEvaluateBalanceNormalizes(t *testing.T) {
	f := newFixture(t)
	report := f.svc.EvaluateBalance([]LineInput{{DebitAcc: " 1111 ", CreditAcc: " ", Amount: decimalOf("10")}})
	assert.Equal(t, BalanceIncomplete, report.Status)
}

func TestPostedLedgerBalancesAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amounts := []string{"125000.50", "99.99", "7000000", "0.01", "333333.33"}
	var ids []int64
	for _, amt := range amounts {
		in := cashReceipt()
		in.Lines = []LineInput{
			{DebitAcc: "1111", CreditAcc: "511", Amount: decimalOf(amt)},
			{DebitAcc: "007", Amount: decimalOf("10")},
		}
		v, err := f.svc.Create(ctx, in)
		require.NoError(t, err)
		_, err = f.svc.Post(ctx, v.ID, "bob")
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	_, err := f.svc.Void(ctx, ids[1], "bob", "")
	require.NoError(t, err)

	debit, credit := SumLedger(f.store.ledgerSnapshot())
	assert.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
	assert.True(t, debit.Equal(decimalOf("7458333.84")))
}
