package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/response"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, r response.Response) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r))
	return buf.String()
}

func samplePreview() *response.Preview {
	amount := decimal.NewFromInt(50000)
	return &response.Preview{
		TransactionID:        "tx-1",
		RiskLevel:            model.RiskMedium,
		RequiredConfirmation: model.ConfirmAcknowledge,
		ExpiresAt:            time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC),
		Document: model.Document{
			VoucherType:  model.VoucherReceipt,
			Date:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			Counterparty: "Acme Corp",
			Mode:         "bank",
			Narration:    "Invoice 42",
			Amount:       amount,
			Entries: []model.Entry{
				{Ledger: "Bank", Debit: amount},
				{Ledger: "Acme Corp", Credit: amount},
			},
		},
		Warnings: []response.Issue{{RuleID: "unusual_amount", Message: "Amount is 4x the usual", SuggestedAction: "Double-check the figure"}},
		Notices:  []response.Issue{{RuleID: "tds_applicable", Message: "TDS may apply"}},
	}
}

func TestRenderPreview(t *testing.T) {
	out := render(t, response.Response{Type: response.TypePreview, Preview: samplePreview()})

	assert.Contains(t, out, "Receipt")
	assert.Contains(t, out, "Acme Corp")
	assert.Contains(t, out, "50000.00")
	assert.Contains(t, out, "Bank")
	assert.Contains(t, out, "[unusual_amount] Amount is 4x the usual")
	assert.Contains(t, out, "Double-check the figure")
	assert.Contains(t, out, "[tds_applicable]")
	assert.Contains(t, out, "confirmation acknowledge_warnings")
	assert.Contains(t, out, "id tx-1")
}

func TestRenderClarification(t *testing.T) {
	out := render(t, response.Response{
		Type: response.TypeClarification,
		Clarification: &response.Clarification{
			Question: "Which one did you mean: Acme Corp, Acme Traders?",
			Candidates: map[string][]model.Candidate{
				model.FieldCounterparty: {{Name: "Acme Corp", Score: 0.91}, {Name: "Acme Traders", Score: 0.88}},
			},
		},
	})

	assert.Contains(t, out, "Which one did you mean")
	assert.Contains(t, out, "[1] Acme Corp")
	assert.Contains(t, out, "[2] Acme Traders")
	assert.Contains(t, out, "(91%)")
}

func TestRenderError(t *testing.T) {
	out := render(t, response.Response{
		Type: response.TypeError,
		Error: &response.ErrorBody{
			Code:        "COMPLIANCE_BLOCKED",
			Message:     "This voucher breaks a compliance rule.",
			Issues:      []response.Issue{{RuleID: "cash_receipt_limit", Message: "Cash receipts above ₹2,00,000 are not allowed"}},
			Suggestions: []string{"Receive the amount by bank transfer"},
		},
	})

	assert.Contains(t, out, "COMPLIANCE_BLOCKED")
	assert.Contains(t, out, "[cash_receipt_limit]")
	assert.Contains(t, out, "→ Receive the amount by bank transfer")
}

func TestRenderTextAndTransaction(t *testing.T) {
	out := render(t, response.Response{
		Type:        response.TypeText,
		Text:        "Recorded: Receipt of ₹500.00 from Acme Corp",
		Transaction: &response.Transaction{ID: "tx-1", Status: model.StatusCommitted, ExternalRef: "V-7"},
	})
	assert.Contains(t, out, SuccessIcon)
	assert.Contains(t, out, "ledger ref V-7")

	out = render(t, response.Text("Nothing to do."))
	assert.Equal(t, "Nothing to do.\n", out)
}

func TestRenderNavigation(t *testing.T) {
	out := render(t, response.Navigate("reports/gst", map[string]string{"report": "gst", "as_of": "2024-03-31"}, "Opening the GST report"))
	assert.Contains(t, out, "reports/gst")
	assert.Contains(t, out, "as_of=2024-03-31 report=gst")
}
