package voucher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// voucherRequest is the body of create and full update.
type voucherRequest struct {
	ID          *int64          `json:"id,omitempty" validate:"omitempty,gt=0"`
	DocNo       string          `json:"doc_no" validate:"max=32"`
	DocDate     string          `json:"doc_date" validate:"required,datetime=2006-01-02"`
	PostDate    string          `json:"post_date" validate:"omitempty,datetime=2006-01-02"`
	Description string          `json:"description" validate:"max=1000"`
	Type        string          `json:"type" validate:"omitempty,max=16"`
	Currency    string          `json:"currency" validate:"omitempty,len=3,alpha"`
	FXRate      decimal.Decimal `json:"fx_rate"`
	FundRef     string          `json:"fund_ref" validate:"max=64"`
	Lines       []lineRequest   `json:"lines" validate:"max=500,dive"`
}

// lineRequest accepts every historical spelling of the line fields and is
// normalised into LineInput before reaching the service.
type lineRequest struct {
	Description string `validate:"max=500"`
	DebitAcc    string `validate:"max=32"`
	CreditAcc   string `validate:"max=32"`
	Amount      decimal.Decimal
	PartnerCode string `validate:"max=32"`
	Department  string `validate:"max=32"`
	CostCenter  string `validate:"max=32"`
	Project     string `validate:"max=32"`
}

var lineAliases = struct {
	description, debit, credit, amount, partner, department, costCenter, project []string
}{
	description: []string{"description", "desc", "memo"},
	debit:       []string{"debit_acc", "debitAccount", "debit_account", "debit"},
	credit:      []string{"credit_acc", "creditAccount", "credit_account", "credit"},
	amount:      []string{"amount", "value"},
	partner:     []string{"partner_code", "partnerCode", "partner"},
	department:  []string{"department", "dept"},
	costCenter:  []string{"cost_center", "costCenter"},
	project:     []string{"project", "project_code", "projectCode"},
}

func (l *lineRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if l.Description, err = pickString(raw, lineAliases.description); err != nil {
		return err
	}
	if l.DebitAcc, err = pickString(raw, lineAliases.debit); err != nil {
		return err
	}
	if l.CreditAcc, err = pickString(raw, lineAliases.credit); err != nil {
		return err
	}
	if l.PartnerCode, err = pickString(raw, lineAliases.partner); err != nil {
		return err
	}
	if l.Department, err = pickString(raw, lineAliases.department); err != nil {
		return err
	}
	if l.CostCenter, err = pickString(raw, lineAliases.costCenter); err != nil {
		return err
	}
	if l.Project, err = pickString(raw, lineAliases.project); err != nil {
		return err
	}
	l.Amount = decimal.Zero
	for _, key := range lineAliases.amount {
		value, ok := raw[key]
		if !ok || string(value) == "null" {
			continue
		}
		if err := json.Unmarshal(value, &l.Amount); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		break
	}
	return nil
}

// pickString returns the first alias present. Account codes sent as JSON
// numbers are accepted as their literal text.
func pickString(raw map[string]json.RawMessage, keys []string) (string, error) {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || string(value) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			return strings.TrimSpace(s), nil
		}
		var n json.Number
		if err := json.Unmarshal(value, &n); err == nil {
			return n.String(), nil
		}
		return "", fmt.Errorf("%s: expected string", key)
	}
	return "", nil
}

func (l lineRequest) toInput() LineInput {
	return LineInput{
		Description: l.Description,
		DebitAcc:    l.DebitAcc,
		CreditAcc:   l.CreditAcc,
		Amount:      l.Amount,
		PartnerCode: l.PartnerCode,
		Dimensions: Dimensions{
			Department: l.Department,
			CostCenter: l.CostCenter,
			Project:    l.Project,
		},
	}
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, len(lines))
	for i, line := range lines {
		out[i] = line.toInput()
	}
	return out
}

func (r voucherRequest) toInput(actor string) (Input, error) {
	docDate, err := time.Parse("2006-01-02", r.DocDate)
	if err != nil {
		return Input{}, invalid("doc_date", "must be YYYY-MM-DD")
	}
	var postDate time.Time
	if r.PostDate != "" {
		if postDate, err = time.Parse("2006-01-02", r.PostDate); err != nil {
			return Input{}, invalid("post_date", "must be YYYY-MM-DD")
		}
	}
	return Input{
		DocNo:       r.DocNo,
		DocDate:     docDate,
		PostDate:    postDate,
		Description: r.Description,
		Type:        Type(r.Type),
		Currency:    r.Currency,
		FXRate:      r.FXRate,
		FundRef:     r.FundRef,
		Actor:       actor,
		Lines:       toLineInputs(r.Lines),
	}, nil
}

type balanceRequest struct {
	Lines []lineRequest `json:"lines" validate:"max=500,dive"`
}

type duplicateRequest struct {
	DocNo string `json:"doc_no" validate:"max=32"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type lineResponse struct {
	LineNo      int        `json:"line_no"`
	Description string     `json:"description,omitempty"`
	DebitAcc    string     `json:"debit_acc,omitempty"`
	CreditAcc   string     `json:"credit_acc,omitempty"`
	Amount      string     `json:"amount"`
	PartnerCode string     `json:"partner_code,omitempty"`
	Dimensions  Dimensions `json:"dimensions"`
}

type voucherResponse struct {
	ID          int64          `json:"id"`
	DocNo       string         `json:"doc_no"`
	DocDate     string         `json:"doc_date"`
	PostDate    string         `json:"post_date"`
	Description string         `json:"description"`
	Type        Type           `json:"type"`
	Currency    string         `json:"currency"`
	FXRate      string         `json:"fx_rate"`
	FundRef     string         `json:"fund_ref,omitempty"`
	TotalAmount string         `json:"total_amount"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	PostedBy    *string        `json:"posted_by,omitempty"`
	VoidedAt    *time.Time     `json:"voided_at,omitempty"`
	VoidedBy    *string        `json:"voided_by,omitempty"`
	Lines       []lineResponse `json:"lines,omitempty"`
}

func toVoucherResponse(v Voucher) voucherResponse {
	resp := voucherResponse{
		ID:          v.ID,
		DocNo:       v.DocNo,
		DocDate:     v.DocDate.Format("2006-01-02"),
		PostDate:    v.PostDate.Format("2006-01-02"),
		Description: v.Description,
		Type:        v.Type,
		Currency:    v.Currency,
		FXRate:      v.FXRate.String(),
		FundRef:     v.FundRef,
		TotalAmount: v.TotalAmount.StringFixed(2),
		Status:      v.Status,
		CreatedAt:   v.CreatedAt,
		CreatedBy:   v.CreatedBy,
		UpdatedAt:   v.UpdatedAt,
		PostedAt:    v.PostedAt,
		PostedBy:    v.PostedBy,
		VoidedAt:    v.VoidedAt,
		VoidedBy:    v.VoidedBy,
	}
	for _, line := range v.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			LineNo:      line.LineNo,
			Description: line.Description,
			DebitAcc:    line.DebitAcc,
			CreditAcc:   line.CreditAcc,
			Amount:      line.Amount.StringFixed(2),
			PartnerCode: line.PartnerCode,
			Dimensions:  line.Dimensions,
		})
	}
	return resp
}

type balanceResponse struct {
	Status             BalanceStatus `json:"status"`
	Postable           bool          `json:"postable"`
	TotalDebit         string        `json:"total_debit"`
	TotalCredit        string        `json:"total_credit"`
	Difference         string        `json:"difference"`
	OnBalanceLines     int           `json:"on_balance_lines"`
	OffBalanceLines    int           `json:"off_balance_lines"`
	SkippedLines       int           `json:"skipped_lines"`
	IncompleteLines    []int         `json:"incomplete_lines"`
	HasOffBalanceItems bool          `json:"has_off_balance_items"`
	Message            string        `json:"message"`
}

func toBalanceResponse(r BalanceReport) balanceResponse {
	incomplete := r.IncompleteLines
	if incomplete == nil {
		incomplete = []int{}
	}
	return balanceResponse{
		Status:             r.Status,
		Postable:           r.Postable(),
		TotalDebit:         r.TotalDebit.StringFixed(2),
		TotalCredit:        r.TotalCredit.StringFixed(2),
		Difference:         r.Difference.StringFixed(3),
		OnBalanceLines:     r.OnBalanceLines,
		OffBalanceLines:    r.OffBalanceLines,
		SkippedLines:       r.SkippedLines,
		IncompleteLines:    incomplete,
		HasOffBalanceItems: r.HasOffBalanceItems,
		Message:            r.Message,
	}
}

type ledgerEntryResponse struct {
	ID            int64      `json:"id"`
	LineNo        int        `json:"line_no"`
	TrxDate       string     `json:"trx_date"`
	PostedAt      time.Time  `json:"posted_at"`
	DocNo         string     `json:"doc_no"`
	Description   string     `json:"description"`
	AccountCode   string     `json:"account_code"`
	ReciprocalAcc string     `json:"reciprocal_acc,omitempty"`
	Debit         string     `json:"debit_amount"`
	Credit        string     `json:"credit_amount"`
	PartnerCode   string     `json:"partner_code,omitempty"`
	Dimensions    Dimensions `json:"dimensions"`
}

func toLedgerResponse(entries []LedgerEntry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:            e.ID,
			LineNo:        e.LineNo,
			TrxDate:       e.TrxDate.Format("2006-01-02"),
			PostedAt:      e.PostedAt,
			DocNo:         e.DocNo,
			Description:   e.Description,
			AccountCode:   e.AccountCode,
			ReciprocalAcc: e.ReciprocalAcc,
			Debit:         e.Debit.StringFixed(2),
			Credit:        e.Credit.StringFixed(2),
			PartnerCode:   e.PartnerCode,
			Dimensions:    e.Dimensions,
		})
	}
	return out
}

type listResponse struct {
	Data []voucherResponse `json:"data"`
	shared.Pagination
}
