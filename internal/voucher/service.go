package voucher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/budget"
	"github.com/odyssey-erp/odyssey-ledger/internal/periods"
)

// BaseCurrency is assumed when a voucher names no currency.
const BaseCurrency = "IDR"

const (
	defaultPageSize = 20
	maxPageSize     = 100
	entityType      = "voucher"
)

// Service orchestrates voucher CRUD and lifecycle transitions.
type Service struct {
	repo      Repository
	guard     PeriodGuard
	budget    BudgetGate
	audit     AuditPort
	observer  Observer
	validator Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the lifecycle manager. budget, auditor and observer may be
// nil.
func NewService(repo Repository, guard PeriodGuard, gate BudgetGate, auditor AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		guard:     guard,
		budget:    gate,
		audit:     auditor,
		validator: NewValidator(DefaultTolerance),
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTolerance overrides the balance tolerance.
func (s *Service) WithTolerance(tolerance decimal.Decimal) {
	s.validator = NewValidator(tolerance)
}

// WithObserver registers a metrics observer.
func (s *Service) WithObserver(observer Observer) {
	s.observer = observer
}

// EvaluateBalance runs the balance validator without touching storage.
func (s *Service) EvaluateBalance(lines []LineInput) BalanceReport {
	return s.validator.Evaluate(normalizeLines(lines))
}

// Get returns one voucher with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered page of vouchers.
func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return Page{}, invalid("type", "is not a known voucher type")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, invalid("status", "is not a known status")
	}
	if filter.FromDate != nil && filter.ToDate != nil && filter.FromDate.After(*filter.ToDate) {
		return Page{}, invalid("from_date", "must not be after to_date")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// LedgerEntries returns the general-ledger rows of a voucher.
func (s *Service) LedgerEntries(ctx context.Context, id int64) ([]LedgerEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.LedgerEntries(ctx, id)
}

// Create stores a new DRAFT voucher. The document number is allocated from
// the per-type sequence when the input leaves it blank.
func (s *Service) Create(ctx context.Context, in Input) (Voucher, error) {
	draft, err := s.prepare(in)
	if err != nil {
		return Voucher{}, err
	}
	draft.Status = StatusDraft
	draft.CreatedBy = in.Actor

	var created Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ensureUnlocked(ctx, tx, draft.PostDate); err != nil {
			return err
		}
		v, err := s.insert(ctx, tx, draft)
		if err != nil {
			return err
		}
		if err := s.reserve(ctx, tx, v); err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.afterCommit(ctx, audit.ActionCreate, in.Actor, nil, &created)
	return created, nil
}

// Update replaces header and lines of a DRAFT voucher wholesale.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Voucher, error) {
	next, err := s.prepare(in)
	if err != nil {
		return Voucher{}, err
	}

	var before, after Voucher
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return ErrNotEditable
		}
		if err := s.ensureUnlocked(ctx, tx, current.PostDate); err != nil {
			return err
		}
		if err := s.ensureUnlocked(ctx, tx, next.PostDate); err != nil {
			return err
		}

		next.ID = current.ID
		next.Status = StatusDraft
		next.CreatedAt = current.CreatedAt
		next.CreatedBy = current.CreatedBy
		next.UpdatedAt = s.now().UTC()
		if next.DocNo == "" {
			next.DocNo = current.DocNo
		}
		ok, err := tx.UpdateDraft(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotEditable
		}
		next.Lines = numberLines(next.ID, next.Lines)
		if err := tx.ReplaceLines(ctx, next.ID, next.Lines); err != nil {
			return err
		}

		if next.NeedsBudget() {
			if err := s.reserve(ctx, tx, next); err != nil {
				return err
			}
		} else if current.NeedsBudget() && s.budget != nil {
			if err := s.budget.Release(ctx, tx.DB(), current.ID); err != nil {
				return err
			}
		}
		before, after = current, next
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.afterCommit(ctx, audit.ActionUpdate, in.Actor, &before, &after)
	return after, nil
}

// Delete removes a DRAFT voucher outright. Posted vouchers must be voided
// first and voided vouchers are kept for the record.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	var removed Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusPosted:
			return ErrDeletePosted
		case StatusVoided:
			return ErrVoided
		}
		if err := s.ensureUnlocked(ctx, tx, current.PostDate); err != nil {
			return err
		}
		if current.NeedsBudget() && s.budget != nil {
			if err := s.budget.Release(ctx, tx.DB(), current.ID); err != nil {
				return err
			}
		}
		ok, err := tx.DeleteDraft(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotEditable
		}
		removed = current
		return nil
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, audit.ActionDelete, actor, &removed, nil)
	return nil
}

// prepare normalises and validates input and rejects line sets the balance
// validator would not post.
func (s *Service) prepare(in Input) (Voucher, error) {
	v := Voucher{
		DocNo:       strings.TrimSpace(in.DocNo),
		DocDate:     dateOnly(in.DocDate),
		PostDate:    dateOnly(in.PostDate),
		Description: strings.TrimSpace(in.Description),
		Type:        Type(strings.ToUpper(strings.TrimSpace(string(in.Type)))),
		Currency:    strings.ToUpper(strings.TrimSpace(in.Currency)),
		FXRate:      in.FXRate,
		FundRef:     strings.TrimSpace(in.FundRef),
	}
	if in.DocDate.IsZero() {
		return Voucher{}, invalid("doc_date", "is required")
	}
	if in.PostDate.IsZero() {
		v.PostDate = v.DocDate
	}
	if v.Type == "" {
		v.Type = TypeGeneral
	}
	if !v.Type.Valid() {
		return Voucher{}, invalid("type", "is not a known voucher type")
	}
	if v.Currency == "" {
		v.Currency = BaseCurrency
	}
	if v.FXRate.IsZero() {
		if v.Currency != BaseCurrency {
			return Voucher{}, invalid("fx_rate", "is required for foreign currency vouchers")
		}
		v.FXRate = decimal.NewFromInt(1)
	}
	if v.FXRate.IsNegative() {
		return Voucher{}, invalid("fx_rate", "must be positive")
	}
	if len(v.DocNo) > 32 {
		return Voucher{}, invalid("doc_no", "must be at most 32 characters")
	}

	lines := normalizeLines(in.Lines)
	for i, line := range lines {
		if line.Amount.IsNegative() {
			return Voucher{}, invalid("lines["+strconv.Itoa(i)+"].amount", "must not be negative")
		}
		if !line.Amount.Equal(line.Amount.Round(2)) {
			return Voucher{}, invalid("lines["+strconv.Itoa(i)+"].amount", "must have at most 2 decimals")
		}
	}
	report := s.validator.Evaluate(lines)
	if !report.Postable() {
		return Voucher{}, &BalanceError{Report: report}
	}

	total := decimal.Zero
	kept := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.DebitAcc == "" && line.CreditAcc == "" && !line.Amount.IsPositive() && line.Description == "" {
			continue
		}
		total = total.Add(line.Amount)
		kept = append(kept, Line{
			Description: line.Description,
			DebitAcc:    line.DebitAcc,
			CreditAcc:   line.CreditAcc,
			Amount:      line.Amount,
			PartnerCode: line.PartnerCode,
			Dimensions:  line.Dimensions,
		})
	}
	v.TotalAmount = total
	v.Lines = kept
	return v, nil
}

func normalizeLines(lines []LineInput) []LineInput {
	out := make([]LineInput, len(lines))
	for i, line := range lines {
		out[i] = LineInput{
			Description: strings.TrimSpace(line.Description),
			DebitAcc:    strings.TrimSpace(line.DebitAcc),
			CreditAcc:   strings.TrimSpace(line.CreditAcc),
			Amount:      line.Amount,
			PartnerCode: strings.TrimSpace(line.PartnerCode),
			Dimensions: Dimensions{
				Department: strings.TrimSpace(line.Dimensions.Department),
				CostCenter: strings.TrimSpace(line.Dimensions.CostCenter),
				Project:    strings.TrimSpace(line.Dimensions.Project),
			},
		}
	}
	return out
}

func numberLines(voucherID int64, lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, line := range lines {
		line.VoucherID = voucherID
		line.LineNo = i + 1
		out[i] = line
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// insert allocates a document number when needed and writes header and lines.
func (s *Service) insert(ctx context.Context, tx TxRepository, v Voucher) (Voucher, error) {
	if v.DocNo == "" {
		year := v.DocDate.Year()
		seq, err := tx.NextDocSequence(ctx, v.Type, year)
		if err != nil {
			return Voucher{}, fmt.Errorf("voucher: allocate doc no: %w", err)
		}
		v.DocNo = FormatDocNo(v.Type, year, seq)
	}
	now := s.now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	created, err := tx.InsertVoucher(ctx, v)
	if err != nil {
		return Voucher{}, err
	}
	created.Lines = numberLines(created.ID, v.Lines)
	if err := tx.ReplaceLines(ctx, created.ID, created.Lines); err != nil {
		return Voucher{}, err
	}
	return created, nil
}

func (s *Service) ensureUnlocked(ctx context.Context, tx TxRepository, date time.Time) error {
	if s.guard == nil {
		return nil
	}
	status, err := s.guard.CheckLock(ctx, tx.DB(), date)
	if err != nil {
		return fmt.Errorf("voucher: check period lock: %w", err)
	}
	if status.Locked {
		return &periods.LockedError{Date: date, LockedUntil: *status.LockedUntil}
	}
	return nil
}

func (s *Service) reserve(ctx context.Context, tx TxRepository, v Voucher) error {
	if s.budget == nil || !v.NeedsBudget() {
		return nil
	}
	decision, err := s.budget.CheckAndReserve(ctx, tx.DB(), budget.Request{FundRef: v.FundRef, VoucherID: v.ID, Amount: v.TotalAmount})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &budget.InsufficientError{FundRef: v.FundRef, Requested: v.TotalAmount, Remaining: decision.Remaining}
	}
	return nil
}

// afterCommit emits the audit entry and metrics for a committed mutation.
// Failures downstream are the dispatcher's concern and never reach callers.
func (s *Service) afterCommit(ctx context.Context, action audit.Action, actor string, before, after *Voucher) {
	if s.observer != nil {
		s.observer.VoucherAction(string(action))
	}
	if s.audit == nil {
		return
	}
	ref := after
	if ref == nil {
		ref = before
	}
	entry := audit.Entry{
		EntityType: entityType,
		EntityID:   strconv.FormatInt(ref.ID, 10),
		Action:     action,
		Actor:      actor,
		DocNo:      ref.DocNo,
		Amount:     ref.TotalAmount.StringFixed(2),
		Timestamp:  s.now(),
	}
	if before != nil {
		entry.OldValues = Snapshot(*before)
	}
	if after != nil {
		entry.NewValues = Snapshot(*after)
	}
	s.audit.Record(context.WithoutCancel(ctx), entry)
	s.logger.Info("voucher "+strings.ToLower(string(action)),
		slog.Int64("voucher_id", ref.ID),
		slog.String("doc_no", ref.DocNo),
		slog.String("actor", actor),
	)
}

// Snapshot renders a voucher as audit values.
func Snapshot(v Voucher) map[string]any {
	lines := make([]any, 0, len(v.Lines))
	for _, line := range v.Lines {
		item := map[string]any{
			"line_no":    line.LineNo,
			"debit_acc":  line.DebitAcc,
			"credit_acc": line.CreditAcc,
			"amount":     line.Amount.StringFixed(2),
		}
		if line.Description != "" {
			item["description"] = line.Description
		}
		if line.PartnerCode != "" {
			item["partner_code"] = line.PartnerCode
		}
		lines = append(lines, item)
	}
	values := map[string]any{
		"id":           v.ID,
		"doc_no":       v.DocNo,
		"doc_date":     v.DocDate.Format("2006-01-02"),
		"post_date":    v.PostDate.Format("2006-01-02"),
		"description":  v.Description,
		"type":         string(v.Type),
		"currency":     v.Currency,
		"fx_rate":      v.FXRate.String(),
		"total_amount": v.TotalAmount.StringFixed(2),
		"status":       string(v.Status),
		"lines":        lines,
	}
	if v.FundRef != "" {
		values["fund_ref"] = v.FundRef
	}
	return values
}
