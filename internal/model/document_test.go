package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validReceipt() Document {
	amount := decimal.NewFromInt(50000)
	return Document{
		Reference:    "txn-1",
		VoucherType:  VoucherReceipt,
		Date:         time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
		Counterparty: "HDFC Bank A/c 123",
		Amount:       amount,
		Narration:    "Received from HDFC Bank A/c 123",
		Entries: []Entry{
			{Ledger: "Bank", Debit: amount},
			{Ledger: "HDFC Bank A/c 123", Credit: amount},
		},
	}
}

func TestDocumentValidate(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		doc := validReceipt()
		assert.Empty(t, doc.Validate())
	})

	t.Run("unbalanced entries", func(t *testing.T) {
		doc := validReceipt()
		doc.Entries[1].Credit = decimal.NewFromInt(40000)
		problems := doc.Validate()
		assert.Len(t, problems, 1)
		assert.Contains(t, problems[0], "unbalanced")
	})

	t.Run("collects every problem", func(t *testing.T) {
		doc := Document{VoucherType: "Journal"}
		problems := doc.Validate()
		assert.GreaterOrEqual(t, len(problems), 5)
	})

	t.Run("entry with both sides", func(t *testing.T) {
		doc := validReceipt()
		doc.Entries[0].Credit = decimal.NewFromInt(1)
		assert.NotEmpty(t, doc.Validate())
	})
}

func TestDocumentMatches(t *testing.T) {
	a := validReceipt()
	b := validReceipt()
	assert.True(t, a.Matches(&b))

	b.Amount = decimal.NewFromInt(5000)
	assert.False(t, a.Matches(&b))
	assert.False(t, a.Matches(nil))
}

func TestParameterSet(t *testing.T) {
	params := NewParameterSet(IntentCreateReceipt, FieldAmount, FieldCounterparty)
	params.Set(&ExtractedField{Name: FieldAmount, Raw: "5L", Value: decimal.NewFromInt(500000), Confidence: 0.95})

	assert.False(t, params.IsValid())
	assert.Equal(t, []string{FieldCounterparty}, params.Missing())

	params.Set(&ExtractedField{Name: FieldCounterparty, Raw: "acme", Value: "Acme Traders", Confidence: 0.9})
	assert.True(t, params.IsValid())
	assert.InDelta(t, 0.9, params.Confidence(), 0.0001)

	clone := params.Clone()
	clone.Get(FieldAmount).Issues = append(clone.Get(FieldAmount).Issues, ValidationIssue{RuleID: "x", Severity: SeverityBlock})
	assert.True(t, params.IsValid())
	assert.False(t, clone.IsValid())

	amount, ok := params.Amount()
	assert.True(t, ok)
	assert.True(t, amount.Equal(decimal.NewFromInt(500000)))
}

func TestValidationResult(t *testing.T) {
	result := ValidationResult{Issues: []ValidationIssue{
		{RuleID: "b", Severity: SeverityInfo},
		{RuleID: "a", Severity: SeverityBlock},
		{RuleID: "c", Severity: SeverityWarn},
	}}
	assert.True(t, result.HasBlockingErrors())
	assert.Len(t, result.Warnings(), 1)

	SortIssues(result.Issues)
	assert.Equal(t, SeverityBlock, result.Issues[0].Severity)
	assert.Equal(t, SeverityWarn, result.Issues[1].Severity)
	assert.Equal(t, SeverityInfo, result.Issues[2].Severity)

	assert.False(t, ValidationResult{}.HasBlockingErrors())
}
