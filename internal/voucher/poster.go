package voucher

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
)

// PostResult reports a committed posting.
type PostResult struct {
	Voucher Voucher
	Entries []LedgerEntry
	Report  BalanceReport
}

// Post moves a DRAFT voucher to POSTED and writes its ledger rows in the same
// transaction. Balance is re-evaluated from the stored lines; whatever the
// client reported is ignored. Exactly one of several concurrent callers wins;
// the others observe ErrAlreadyPosted.
func (s *Service) Post(ctx context.Context, id int64, actor string) (PostResult, error) {
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusPosted:
			return ErrAlreadyPosted
		case StatusVoided:
			return ErrVoided
		}

		report := s.validator.Evaluate(current.LineInputs())
		if !report.Postable() {
			return &BalanceError{Report: report}
		}
		if err := s.ensureUnlocked(ctx, tx, current.PostDate); err != nil {
			return err
		}
		if current.NeedsBudget() && s.budget != nil {
			if err := s.reserve(ctx, tx, current); err != nil {
				return err
			}
			if err := s.budget.Confirm(ctx, tx.DB(), current.ID); err != nil {
				return err
			}
		}

		postedAt := s.now().UTC()
		ok, err := tx.TransitionStatus(ctx, current.ID, StatusDraft, StatusPosted, actor, postedAt)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyPosted
		}
		entries := FanOut(current, postedAt)
		if err := tx.InsertLedgerEntries(ctx, entries); err != nil {
			return fmt.Errorf("voucher: write ledger: %w", err)
		}

		current.Status = StatusPosted
		current.PostedAt = &postedAt
		current.PostedBy = &actor
		result = PostResult{Voucher: current, Entries: entries, Report: report}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}

	before := result.Voucher
	before.Status = StatusDraft
	s.afterCommit(ctx, audit.ActionPost, actor, &before, &result.Voucher)
	return result, nil
}

// Void reverses a POSTED voucher by removing its ledger rows. VOIDED is
// terminal.
func (s *Service) Void(ctx context.Context, id int64, actor, reason string) (Voucher, error) {
	var before, after Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusDraft:
			return ErrNotPosted
		case StatusVoided:
			return ErrVoided
		}
		if err := s.ensureUnlocked(ctx, tx, current.PostDate); err != nil {
			return err
		}

		voidedAt := s.now().UTC()
		ok, err := tx.TransitionStatus(ctx, current.ID, StatusPosted, StatusVoided, actor, voidedAt)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPosted
		}
		if _, err := tx.DeleteLedgerEntries(ctx, current.ID); err != nil {
			return fmt.Errorf("voucher: remove ledger rows: %w", err)
		}
		if current.NeedsBudget() && s.budget != nil {
			if err := s.budget.Release(ctx, tx.DB(), current.ID); err != nil {
				return err
			}
		}

		before = current
		after = current
		after.Status = StatusVoided
		after.VoidedAt = &voidedAt
		after.VoidedBy = &actor
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}

	s.afterCommit(ctx, audit.ActionVoid, actor, &before, &after)
	if reason = strings.TrimSpace(reason); reason != "" {
		s.logger.Info("voucher void reason", "voucher_id", after.ID, "reason", reason)
	}
	return after, nil
}

// Duplicate copies a voucher's header and lines into a new DRAFT. A blank
// newDocNo allocates the next number in the source type's sequence.
func (s *Service) Duplicate(ctx context.Context, id int64, newDocNo, actor string) (Voucher, error) {
	newDocNo = strings.TrimSpace(newDocNo)
	if len(newDocNo) > 32 {
		return Voucher{}, invalid("doc_no", "must be at most 32 characters")
	}

	var created Voucher
	var source Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		source = src
		copyOf := Voucher{
			DocNo:       newDocNo,
			DocDate:     src.DocDate,
			PostDate:    src.PostDate,
			Description: src.Description,
			Type:        src.Type,
			Currency:    src.Currency,
			FXRate:      src.FXRate,
			FundRef:     src.FundRef,
			TotalAmount: src.TotalAmount,
			Status:      StatusDraft,
			CreatedBy:   actor,
			Lines:       make([]Line, len(src.Lines)),
		}
		for i, line := range src.Lines {
			line.ID = 0
			copyOf.Lines[i] = line
		}
		if err := s.ensureUnlocked(ctx, tx, copyOf.PostDate); err != nil {
			return err
		}
		v, err := s.insert(ctx, tx, copyOf)
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

	s.afterCommit(ctx, audit.ActionDuplicate, actor, nil, &created)
	s.logger.Debug("voucher duplicated", "source_id", source.ID, "source_doc_no", source.DocNo, "doc_no", created.DocNo)
	return created, nil
}
