package voucher

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates voucher lifecycle values.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
	StatusVoided Status = "VOIDED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPosted, StatusVoided:
		return true
	}
	return false
}

// Type enumerates accounting document kinds. Each kind owns its own document
// number sequence per fiscal year.
type Type string

const (
	TypeGeneral     Type = "GENERAL"
	TypeCashReceipt Type = "CASH_RECEIPT"
	TypeCashPayment Type = "CASH_PAYMENT"
	TypeBankReceipt Type = "BANK_RECEIPT"
	TypeBankPayment Type = "BANK_PAYMENT"
	TypeSales       Type = "SALES"
	TypePurchase    Type = "PURCHASE"
)

var typePrefixes = map[Type]string{
	TypeGeneral:     "JV",
	TypeCashReceipt: "CR",
	TypeCashPayment: "CP",
	TypeBankReceipt: "BR",
	TypeBankPayment: "BP",
	TypeSales:       "SI",
	TypePurchase:    "PI",
}

// Valid reports whether t is a known voucher type.
func (t Type) Valid() bool {
	_, ok := typePrefixes[t]
	return ok
}

// Prefix returns the document number prefix for t.
func (t Type) Prefix() string {
	return typePrefixes[t]
}

// DrawsFunds reports whether vouchers of this type spend against a fund
// allocation and therefore pass through the budget gate.
func (t Type) DrawsFunds() bool {
	switch t {
	case TypeCashPayment, TypeBankPayment, TypePurchase:
		return true
	}
	return false
}

// Dimensions carries optional analytical codes copied onto ledger rows.
type Dimensions struct {
	Department string `json:"department,omitempty"`
	CostCenter string `json:"cost_center,omitempty"`
	Project    string `json:"project,omitempty"`
}

// Voucher is one accounting document. It exclusively owns its lines.
type Voucher struct {
	ID          int64
	DocNo       string
	DocDate     time.Time
	PostDate    time.Time
	Description string
	Type        Type
	Currency    string
	FXRate      decimal.Decimal
	FundRef     string
	TotalAmount decimal.Decimal
	Status      Status
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   time.Time
	PostedAt    *time.Time
	PostedBy    *string
	VoidedAt    *time.Time
	VoidedBy    *string
	Lines       []Line
}

// NeedsBudget reports whether the voucher must reserve against its fund.
func (v Voucher) NeedsBudget() bool {
	return v.FundRef != "" && v.Type.DrawsFunds()
}

// LineInputs returns the voucher lines in their canonical input shape.
func (v Voucher) LineInputs() []LineInput {
	out := make([]LineInput, 0, len(v.Lines))
	for _, line := range v.Lines {
		out = append(out, line.Input())
	}
	return out
}

// Line is one journal pair or a single off-balance-sheet posting.
type Line struct {
	ID          int64
	VoucherID   int64
	LineNo      int
	Description string
	DebitAcc    string
	CreditAcc   string
	Amount      decimal.Decimal
	PartnerCode string
	Dimensions  Dimensions
}

// Input strips persistence identifiers from the line.
func (l Line) Input() LineInput {
	return LineInput{
		Description: l.Description,
		DebitAcc:    l.DebitAcc,
		CreditAcc:   l.CreditAcc,
		Amount:      l.Amount,
		PartnerCode: l.PartnerCode,
		Dimensions:  l.Dimensions,
	}
}

// LineInput is the canonical line schema every component consumes.
type LineInput struct {
	Description string
	DebitAcc    string
	CreditAcc   string
	Amount      decimal.Decimal
	PartnerCode string
	Dimensions  Dimensions
}

// IsOffBalance reports whether the line touches an off-balance-sheet account.
func (l LineInput) IsOffBalance() bool {
	return IsOffBalanceAccount(l.DebitAcc) || IsOffBalanceAccount(l.CreditAcc)
}

// IsOffBalanceAccount reports whether code is an off-balance-sheet account.
func IsOffBalanceAccount(code string) bool {
	return strings.HasPrefix(code, "0")
}

// LedgerEntry is one immutable general-ledger row created by posting.
type LedgerEntry struct {
	ID            int64
	VoucherID     int64
	LineNo        int
	TrxDate       time.Time
	PostedAt      time.Time
	DocNo         string
	Description   string
	AccountCode   string
	ReciprocalAcc string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	PartnerCode   string
	Dimensions    Dimensions
}

// Input groups the fields accepted on create and full update.
type Input struct {
	DocNo       string
	DocDate     time.Time
	PostDate    time.Time
	Description string
	Type        Type
	Currency    string
	FXRate      decimal.Decimal
	FundRef     string
	Actor       string
	Lines       []LineInput
}

// ListFilter narrows voucher listings.
type ListFilter struct {
	Type     Type
	Status   Status
	FromDate *time.Time
	ToDate   *time.Time
	Page     int
	PageSize int
}

// Page is a slice of vouchers with paging metadata.
type Page struct {
	Items    []Voucher
	Total    int
	Page     int
	PageSize int
}

// IntegrityRow summarises the ledger footprint of one voucher.
type IntegrityRow struct {
	VoucherID   int64
	DocNo       string
	Status      Status
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Rows        int
}
