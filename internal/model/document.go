package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherType is the ledger document type.
type VoucherType string

// Voucher types supported by the external ledger.
const (
	VoucherReceipt  VoucherType = "Receipt"
	VoucherPayment  VoucherType = "Payment"
	VoucherSales    VoucherType = "Sales"
	VoucherPurchase VoucherType = "Purchase"
)

// Valid reports whether t is a known voucher type.
func (t VoucherType) Valid() bool {
	switch t {
	case VoucherReceipt, VoucherPayment, VoucherSales, VoucherPurchase:
		return true
	default:
		return false
	}
}

// Inflow reports whether money comes in for this voucher type.
func (t VoucherType) Inflow() bool {
	return t == VoucherReceipt || t == VoucherSales
}

// Entry is one ledger line of a voucher. Exactly one of Debit or Credit is non-zero.
type Entry struct {
	Ledger string          `json:"ledger"`
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

// Document is the structured voucher previewed to the operator and written to the ledger.
type Document struct {
	Date         time.Time        `json:"date"`
	GSTRate      *decimal.Decimal `json:"gst_rate,omitempty"`
	TDSRate      *decimal.Decimal `json:"tds_rate,omitempty"`
	Reference    string           `json:"reference"`
	VoucherType  VoucherType      `json:"voucher_type"`
	Counterparty string           `json:"counterparty"`
	Mode         string           `json:"mode,omitempty"`
	Narration    string           `json:"narration"`
	Amount       decimal.Decimal  `json:"amount"`
	Entries      []Entry          `json:"entries"`
}

// Validate checks the document against the voucher schema and returns every violation.
func (d *Document) Validate() []string {
	var problems []string

	if !d.VoucherType.Valid() {
		problems = append(problems, fmt.Sprintf("voucher_type %q is not one of Receipt, Payment, Sales, Purchase", d.VoucherType))
	}
	if d.Date.IsZero() {
		problems = append(problems, "date is required")
	}
	if strings.TrimSpace(d.Counterparty) == "" {
		problems = append(problems, "counterparty is required")
	}
	if !d.Amount.IsPositive() {
		problems = append(problems, "amount must be greater than zero")
	}
	if strings.TrimSpace(d.Narration) == "" {
		problems = append(problems, "narration is required")
	}
	if len(d.Entries) < 2 {
		problems = append(problems, "entries must contain at least one debit and one credit line")
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, e := range d.Entries {
		if strings.TrimSpace(e.Ledger) == "" {
			problems = append(problems, fmt.Sprintf("entries[%d].ledger is required", i))
		}
		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			problems = append(problems, fmt.Sprintf("entries[%d] has a negative amount", i))
		}
		if e.Debit.IsZero() == e.Credit.IsZero() {
			problems = append(problems, fmt.Sprintf("entries[%d] must have exactly one of debit or credit", i))
		}
		debits = debits.Add(e.Debit)
		credits = credits.Add(e.Credit)
	}
	if len(d.Entries) > 0 && !debits.Equal(credits) {
		problems = append(problems, fmt.Sprintf("entries are unbalanced: debits %s != credits %s", debits.StringFixed(2), credits.StringFixed(2)))
	}

	return problems
}

// Matches reports whether two documents describe the same ledger write.
func (d *Document) Matches(other *Document) bool {
	if d == nil || other == nil {
		return false
	}
	return d.Reference == other.Reference &&
		d.VoucherType == other.VoucherType &&
		strings.EqualFold(d.Counterparty, other.Counterparty) &&
		d.Amount.Equal(other.Amount) &&
		d.Date.Format(time.DateOnly) == other.Date.Format(time.DateOnly)
}
