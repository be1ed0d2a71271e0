package voucher

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BalanceStatus summarises whether a line set may be posted.
type BalanceStatus string

const (
	BalanceEmpty      BalanceStatus = "empty"
	BalanceIncomplete BalanceStatus = "incomplete"
	BalanceUnbalanced BalanceStatus = "unbalanced"
	BalanceBalanced   BalanceStatus = "balanced"
)

// DefaultTolerance is the largest debit/credit difference still treated as
// balanced.
var DefaultTolerance = decimal.New(1, -2)

// BalanceReport is the outcome of evaluating a set of voucher lines.
type BalanceReport struct {
	Status             BalanceStatus
	TotalDebit         decimal.Decimal
	TotalCredit        decimal.Decimal
	Difference         decimal.Decimal
	OnBalanceLines     int
	OffBalanceLines    int
	SkippedLines       int
	IncompleteLines    []int
	HasOffBalanceItems bool
	Message            string
}

// Postable reports whether the report allows posting.
func (r BalanceReport) Postable() bool {
	return r.Status == BalanceBalanced
}

// Validator evaluates double-entry balance with a fixed tolerance.
type Validator struct {
	Tolerance decimal.Decimal
}

// NewValidator builds a validator. A non-positive tolerance falls back to
// DefaultTolerance.
func NewValidator(tolerance decimal.Decimal) Validator {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return Validator{Tolerance: tolerance}
}

// Evaluate applies the default validator to lines.
func Evaluate(lines []LineInput) BalanceReport {
	return NewValidator(DefaultTolerance).Evaluate(lines)
}

// Evaluate partitions lines into off-balance and on-balance sets and derives
// the balance status. Lines without accounts, amount or description are
// skipped. A memo line carrying only a description is kept and counts as
// on-balance with nothing to add. Off-balance lines never contribute to the
// totals.
func (v Validator) Evaluate(lines []LineInput) BalanceReport {
	report := BalanceReport{
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	for idx, line := range lines {
		hasDebit := line.DebitAcc != ""
		hasCredit := line.CreditAcc != ""
		positive := line.Amount.IsPositive()

		if !hasDebit && !hasCredit && !positive && line.Description == "" {
			report.SkippedLines++
			continue
		}
		if line.IsOffBalance() {
			report.OffBalanceLines++
			report.HasOffBalanceItems = true
			continue
		}

		report.OnBalanceLines++
		if hasDebit {
			report.TotalDebit = report.TotalDebit.Add(line.Amount)
		}
		if hasCredit {
			report.TotalCredit = report.TotalCredit.Add(line.Amount)
		}
		if positive && (!hasDebit || !hasCredit) {
			report.IncompleteLines = append(report.IncompleteLines, idx)
		}
	}

	report.Difference = report.TotalDebit.Sub(report.TotalCredit).Abs()
	report.Status = v.classify(report.OnBalanceLines+report.OffBalanceLines, len(report.IncompleteLines), report.Difference)
	report.Message = describe(report)
	return report
}

// classify applies the status precedence: empty, then incomplete, then the
// tolerance comparison. A difference equal to the tolerance still balances.
func (v Validator) classify(qualifying, incomplete int, difference decimal.Decimal) BalanceStatus {
	switch {
	case qualifying == 0:
		return BalanceEmpty
	case incomplete > 0:
		return BalanceIncomplete
	case difference.GreaterThan(v.Tolerance):
		return BalanceUnbalanced
	default:
		return BalanceBalanced
	}
}

var printer = message.NewPrinter(language.English)

func formatAmount(d decimal.Decimal) string {
	return printer.Sprintf("%.2f", d.InexactFloat64())
}

func describe(r BalanceReport) string {
	switch r.Status {
	case BalanceEmpty:
		return "voucher has no lines to post"
	case BalanceIncomplete:
		nums := make([]string, 0, len(r.IncompleteLines))
		for _, idx := range r.IncompleteLines {
			nums = append(nums, strconv.Itoa(idx+1))
		}
		return "lines " + strings.Join(nums, ", ") + " need both a debit and a credit account"
	case BalanceUnbalanced:
		return printer.Sprintf("out of balance by %s (debit %s, credit %s)",
			formatAmount(r.Difference), formatAmount(r.TotalDebit), formatAmount(r.TotalCredit))
	}
	if r.OnBalanceLines == 0 {
		return "balanced (off-balance-sheet items only)"
	}
	return printer.Sprintf("balanced: debit %s = credit %s", formatAmount(r.TotalDebit), formatAmount(r.TotalCredit))
}
