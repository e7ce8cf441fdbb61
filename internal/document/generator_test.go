package document

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

type scriptedModel struct {
	err      error
	replies  []string
	requests []llm.GenerateRequest
}

func (m *scriptedModel) Generate(_ context.Context, req llm.GenerateRequest) (json.RawMessage, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return nil, errors.New("no reply scripted")
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return json.RawMessage(reply), nil
}

func receiptParams() *model.ParameterSet {
	params := model.NewParameterSet(model.IntentCreateReceipt, model.FieldAmount, model.FieldCounterparty)
	params.Set(&model.ExtractedField{Name: model.FieldAmount, Value: decimal.NewFromInt(50000), Confidence: 1})
	params.Set(&model.ExtractedField{Name: model.FieldCounterparty, Value: "HDFC Bank", Confidence: 1})
	params.Set(&model.ExtractedField{Name: model.FieldDate, Value: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), Confidence: 1})
	params.Set(&model.ExtractedField{Name: model.FieldMode, Value: "bank", Confidence: 1})
	return params
}

const validReceipt = `{
  "voucher_type": "Receipt",
  "date": "2025-03-15",
  "counterparty": "HDFC Bank",
  "amount": "50000.00",
  "mode": "bank",
  "gst_rate": null,
  "tds_rate": null,
  "narration": "Being amount received from HDFC Bank",
  "entries": [
    {"ledger": "Bank Account", "debit": "50000.00", "credit": "0"},
    {"ledger": "HDFC Bank", "debit": "0", "credit": "50000.00"}
  ]
}`

func TestGenerateValidDocument(t *testing.T) {
	m := &scriptedModel{replies: []string{validReceipt}}
	g := NewGenerator(m, DefaultConfig(), nil)

	doc, err := g.Generate(context.Background(), receiptParams(), model.IntentCreateReceipt)
	require.NoError(t, err)

	assert.Equal(t, model.VoucherReceipt, doc.VoucherType)
	assert.Equal(t, "HDFC Bank", doc.Counterparty)
	assert.True(t, doc.Amount.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, "2025-03-15", doc.Date.Format(time.DateOnly))
	assert.Len(t, doc.Entries, 2)
	assert.Nil(t, doc.GSTRate)

	require.Len(t, m.requests, 1)
	req := m.requests[0]
	assert.Contains(t, req.Prompt, "Amount: 50000.00")
	assert.Contains(t, req.Prompt, "Counterparty: HDFC Bank")
	assert.Contains(t, req.Prompt, "Date: 2025-03-15")
	assert.NotEmpty(t, req.Schema)
	assert.NotContains(t, req.Prompt, "previous reply")
}

func TestGenerateRetriesWithFeedback(t *testing.T) {
	wrongAmount := `{
  "voucher_type": "Receipt", "date": "2025-03-15", "counterparty": "HDFC Bank",
  "amount": "5000.00", "mode": "bank", "narration": "Being amount received",
  "entries": [
    {"ledger": "Bank Account", "debit": "5000.00", "credit": "0"},
    {"ledger": "HDFC Bank", "debit": "0", "credit": "5000.00"}
  ]
}`
	m := &scriptedModel{replies: []string{wrongAmount, validReceipt}}
	g := NewGenerator(m, DefaultConfig(), nil)

	doc, err := g.Generate(context.Background(), receiptParams(), model.IntentCreateReceipt)
	require.NoError(t, err)
	assert.True(t, doc.Amount.Equal(decimal.NewFromInt(50000)))

	require.Len(t, m.requests, 2)
	assert.Contains(t, m.requests[1].Prompt, "Your previous reply was invalid")
	assert.Contains(t, m.requests[1].Prompt, "amount must be 50000.00")
}

func TestGenerateRejectsUnknownFields(t *testing.T) {
	extra := `{"voucher_type": "Receipt", "date": "2025-03-15", "counterparty": "HDFC Bank",
  "amount": "50000.00", "narration": "x", "entries": [], "approved_by": "me"}`
	m := &scriptedModel{replies: []string{extra, validReceipt}}
	g := NewGenerator(m, DefaultConfig(), nil)

	_, err := g.Generate(context.Background(), receiptParams(), model.IntentCreateReceipt)
	require.NoError(t, err)
	require.Len(t, m.requests, 2)
	assert.Contains(t, m.requests[1].Prompt, "does not match the schema")
}

func TestGenerateFailsAfterFeedbackRound(t *testing.T) {
	unbalanced := `{
  "voucher_type": "Receipt", "date": "2025-03-15", "counterparty": "HDFC Bank",
  "amount": "50000.00", "mode": "bank", "narration": "Being amount received",
  "entries": [
    {"ledger": "Bank Account", "debit": "50000.00", "credit": "0"},
    {"ledger": "HDFC Bank", "debit": "0", "credit": "40000.00"}
  ]
}`
	m := &scriptedModel{replies: []string{unbalanced}}
	g := NewGenerator(m, DefaultConfig(), nil)

	doc, err := g.Generate(context.Background(), receiptParams(), model.IntentCreateReceipt)
	require.Error(t, err)
	assert.Nil(t, doc)
	assert.Equal(t, CodeGenerationFailed, common.CodeOf(err))
	assert.Equal(t, common.KindSystem, common.KindOf(err))
	assert.Len(t, m.requests, 2)
}

func TestGenerateConsistencyChecks(t *testing.T) {
	params := model.NewParameterSet(model.IntentCreateSalesInvoice, model.FieldAmount, model.FieldCounterparty)
	params.Set(&model.ExtractedField{Name: model.FieldAmount, Value: decimal.NewFromInt(118000), Confidence: 1})
	params.Set(&model.ExtractedField{Name: model.FieldCounterparty, Value: "Acme Traders", Confidence: 1})
	params.Set(&model.ExtractedField{Name: model.FieldGSTRate, Value: decimal.NewFromInt(18), Confidence: 1})

	eighteen := decimal.NewFromInt(18)
	twelve := decimal.NewFromInt(12)
	base := func() *model.Document {
		return &model.Document{
			VoucherType:  model.VoucherSales,
			Date:         time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
			Counterparty: "acme traders",
			Amount:       decimal.NewFromInt(118000),
			GSTRate:      &eighteen,
			Narration:    "Being goods sold",
			Entries: []model.Entry{
				{Ledger: "Acme Traders", Debit: decimal.NewFromInt(118000)},
				{Ledger: "Sales", Credit: decimal.NewFromInt(100000)},
				{Ledger: "Output GST", Credit: decimal.NewFromInt(18000)},
			},
		}
	}

	tests := []struct {
		mutate func(*model.Document)
		name   string
		want   string
	}{
		{name: "consistent", mutate: func(*model.Document) {}},
		{name: "wrong voucher type", mutate: func(d *model.Document) { d.VoucherType = model.VoucherPurchase }, want: "voucher_type must be Sales"},
		{name: "wrong party", mutate: func(d *model.Document) { d.Counterparty = "Other Co" }, want: "counterparty must be"},
		{name: "missing gst", mutate: func(d *model.Document) { d.GSTRate = nil }, want: "gst_rate must be 18"},
		{name: "different gst", mutate: func(d *model.Document) { d.GSTRate = &twelve }, want: "gst_rate must be 18, got 12"},
		{name: "invented tds", mutate: func(d *model.Document) { d.TDSRate = &twelve }, want: "tds_rate was not given"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := base()
			tt.mutate(doc)
			problems := consistency(doc, params, model.IntentCreateSalesInvoice)
			if tt.want == "" {
				assert.Empty(t, problems)
				return
			}
			require.NotEmpty(t, problems)
			assert.Contains(t, problems[0], tt.want)
		})
	}
}

func TestGeneratePassesThroughModelFailure(t *testing.T) {
	unavailable := common.NewSystemError("LLM_UNAVAILABLE", "language model unavailable", nil)
	m := &scriptedModel{err: unavailable}
	g := NewGenerator(m, DefaultConfig(), nil)

	_, err := g.Generate(context.Background(), receiptParams(), model.IntentCreateReceipt)
	require.Error(t, err)
	assert.Equal(t, "LLM_UNAVAILABLE", common.CodeOf(err))
	assert.Len(t, m.requests, 1)
}

func TestGenerateRejectsNonVoucherIntent(t *testing.T) {
	m := &scriptedModel{replies: []string{validReceipt}}
	g := NewGenerator(m, DefaultConfig(), nil)

	_, err := g.Generate(context.Background(), receiptParams(), model.IntentQueryBalance)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
	assert.Empty(t, m.requests)
}
