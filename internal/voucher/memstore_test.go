package voucher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/budget"
	"github.com/odyssey-erp/odyssey-ledger/internal/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// memStore is a single-writer transactional store: WithTx holds the store
// lock and commits the working copy only when fn succeeds.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	nextLedger int64
	vouchers   map[int64]Voucher
	ledger     []LedgerEntry
	seqs       map[string]int64

	failLedger error
	staleReads bool
}

func newMemStore() *memStore {
	return &memStore{vouchers: map[int64]Voucher{}, seqs: map[string]int64{}}
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		store:      m,
		nextID:     m.nextID,
		nextLedger: m.nextLedger,
		vouchers:   make(map[int64]Voucher, len(m.vouchers)),
		ledger:     append([]LedgerEntry(nil), m.ledger...),
		seqs:       make(map[string]int64, len(m.seqs)),
	}
	for k, v := range m.vouchers {
		tx.vouchers[k] = cloneVoucher(v)
	}
	for k, v := range m.seqs {
		tx.seqs[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.nextID = tx.nextID
	m.nextLedger = tx.nextLedger
	m.vouchers = tx.vouchers
	m.ledger = tx.ledger
	m.seqs = tx.seqs
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	return cloneVoucher(v), nil
}

func (m *memStore) List(_ context.Context, filter ListFilter) ([]Voucher, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Voucher
	for _, v := range m.vouchers {
		if filter.Type != "" && v.Type != filter.Type {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.FromDate != nil && v.DocDate.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && v.DocDate.After(*filter.ToDate) {
			continue
		}
		header := v
		header.Lines = nil
		matched = append(matched, header)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memStore) LedgerEntries(_ context.Context, voucherID int64) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.ledger {
		if e.VoucherID == voucherID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ledgerSnapshot() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerEntry(nil), m.ledger...)
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vouchers)
}

// seed stores v directly, bypassing validation.
func (m *memStore) seed(v Voucher) Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	v.ID = m.nextID
	for i := range v.Lines {
		v.Lines[i].VoucherID = v.ID
		v.Lines[i].LineNo = i + 1
	}
	m.vouchers[v.ID] = cloneVoucher(v)
	return v
}

func cloneVoucher(v Voucher) Voucher {
	v.Lines = append([]Line(nil), v.Lines...)
	return v
}

type memTx struct {
	store      *memStore
	nextID     int64
	nextLedger int64
	vouchers   map[int64]Voucher
	ledger     []LedgerEntry
	seqs       map[string]int64
}

func (t *memTx) DB() db.DBTX { return nil }

func (t *memTx) NextDocSequence(_ context.Context, typ Type, year int) (int64, error) {
	key := fmt.Sprintf("%s/%d", typ, year)
	t.seqs[key]++
	return t.seqs[key], nil
}

func (t *memTx) GetForUpdate(_ context.Context, id int64) (Voucher, error) {
	v, ok := t.vouchers[id]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	v = cloneVoucher(v)
	if t.store.staleReads {
		v.Status = StatusDraft
	}
	return v, nil
}

func (t *memTx) InsertVoucher(_ context.Context, v Voucher) (Voucher, error) {
	for _, existing := range t.vouchers {
		if existing.DocNo == v.DocNo {
			return Voucher{}, fmt.Errorf("%w: %s", ErrDocNoConflict, v.DocNo)
		}
	}
	t.nextID++
	v.ID = t.nextID
	v.Lines = nil
	t.vouchers[v.ID] = v
	return v, nil
}

func (t *memTx) UpdateDraft(_ context.Context, v Voucher) (bool, error) {
	current, ok := t.vouchers[v.ID]
	if !ok || current.Status != StatusDraft {
		return false, nil
	}
	for id, existing := range t.vouchers {
		if id != v.ID && existing.DocNo == v.DocNo {
			return false, fmt.Errorf("%w: %s", ErrDocNoConflict, v.DocNo)
		}
	}
	v.Lines = current.Lines
	t.vouchers[v.ID] = v
	return true, nil
}

func (t *memTx) ReplaceLines(_ context.Context, voucherID int64, lines []Line) error {
	v := t.vouchers[voucherID]
	v.Lines = make([]Line, len(lines))
	for i, line := range lines {
		line.ID = voucherID*1000 + int64(i) + 1
		v.Lines[i] = line
	}
	t.vouchers[voucherID] = v
	return nil
}

func (t *memTx) DeleteDraft(_ context.Context, id int64) (bool, error) {
	v, ok := t.vouchers[id]
	if !ok || v.Status != StatusDraft {
		return false, nil
	}
	delete(t.vouchers, id)
	return true, nil
}

func (t *memTx) TransitionStatus(_ context.Context, id int64, from, to Status, actor string, at time.Time) (bool, error) {
	v, ok := t.vouchers[id]
	if !ok || v.Status != from {
		return false, nil
	}
	v.Status = to
	switch to {
	case StatusPosted:
		v.PostedAt, v.PostedBy = &at, &actor
	case StatusVoided:
		v.VoidedAt, v.VoidedBy = &at, &actor
	}
	t.vouchers[id] = v
	return true, nil
}

func (t *memTx) InsertLedgerEntries(_ context.Context, entries []LedgerEntry) error {
	if t.store.failLedger != nil {
		return t.store.failLedger
	}
	for _, e := range entries {
		t.nextLedger++
		e.ID = t.nextLedger
		t.ledger = append(t.ledger, e)
	}
	return nil
}

func (t *memTx) DeleteLedgerEntries(_ context.Context, voucherID int64) (int64, error) {
	kept := t.ledger[:0:0]
	var removed int64
	for _, e := range t.ledger {
		if e.VoucherID == voucherID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.ledger = kept
	return removed, nil
}

type stubGuard struct {
	locks []periods.Lock
	err   error
}

func (g *stubGuard) CheckLock(_ context.Context, _ db.DBTX, date time.Time) (periods.LockStatus, error) {
	if g.err != nil {
		return periods.LockStatus{}, g.err
	}
	return periods.Evaluate(g.locks, date), nil
}

type budgetCall struct {
	op        string
	voucherID int64
	amount    string
}

type stubBudget struct {
	mu        sync.Mutex
	allocated map[string]string
	calls     []budgetCall
}

func (b *stubBudget) CheckAndReserve(_ context.Context, _ db.DBTX, req budget.Request) (budget.Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, budgetCall{op: "reserve", voucherID: req.VoucherID, amount: req.Amount.String()})
	raw, ok := b.allocated[req.FundRef]
	if !ok {
		return budget.Decision{}, budget.ErrUnknownFund
	}
	return budget.Decide(decimalOf(raw), decimalOf("0"), req.Amount), nil
}

func (b *stubBudget) Confirm(_ context.Context, _ db.DBTX, voucherID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, budgetCall{op: "confirm", voucherID: voucherID})
	return nil
}

func (b *stubBudget) Release(_ context.Context, _ db.DBTX, voucherID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, budgetCall{op: "release", voucherID: voucherID})
	return nil
}

func (b *stubBudget) ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.op)
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingAudit) last() audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) VoucherAction(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[action]++
}
