package voucher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FanOut expands the voucher lines into general-ledger rows. An on-balance
// line yields a debit row and a credit row that reference each other. An
// off-balance line yields one row on its off-balance side with no reciprocal.
func FanOut(v Voucher, postedAt time.Time) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(v.Lines)*2)
	for _, line := range v.Lines {
		if !line.Amount.IsPositive() {
			continue
		}
		base := LedgerEntry{
			VoucherID:   v.ID,
			LineNo:      line.LineNo,
			TrxDate:     v.PostDate,
			PostedAt:    postedAt,
			DocNo:       v.DocNo,
			Description: lineDescription(v, line),
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
			PartnerCode: line.PartnerCode,
			Dimensions:  line.Dimensions,
		}

		if line.Input().IsOffBalance() {
			entry := base
			if IsOffBalanceAccount(line.DebitAcc) {
				entry.AccountCode = line.DebitAcc
				entry.Debit = line.Amount
			} else {
				entry.AccountCode = line.CreditAcc
				entry.Credit = line.Amount
			}
			entries = append(entries, entry)
			continue
		}

		if line.DebitAcc != "" {
			debit := base
			debit.AccountCode = line.DebitAcc
			debit.ReciprocalAcc = line.CreditAcc
			debit.Debit = line.Amount
			entries = append(entries, debit)
		}
		if line.CreditAcc != "" {
			credit := base
			credit.AccountCode = line.CreditAcc
			credit.ReciprocalAcc = line.DebitAcc
			credit.Credit = line.Amount
			entries = append(entries, credit)
		}
	}
	return entries
}

func lineDescription(v Voucher, line Line) string {
	if line.Description != "" {
		return line.Description
	}
	return v.Description
}

// FormatDocNo renders the document number for a type, fiscal year and
// sequence value.
func FormatDocNo(t Type, fiscalYear int, seq int64) string {
	return fmt.Sprintf("%s%d%05d", t.Prefix(), fiscalYear, seq)
}

// SumLedger totals the on-balance debit and credit columns of entries.
func SumLedger(entries []LedgerEntry) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, e := range entries {
		if IsOffBalanceAccount(e.AccountCode) {
			continue
		}
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}
