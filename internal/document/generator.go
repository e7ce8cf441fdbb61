// Package document turns validated parameters into a ledger voucher using the language model.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// CodeGenerationFailed is returned when no valid document could be produced.
const CodeGenerationFailed = "GENERATION_FAILED"

// Model produces structured JSON replies.
type Model interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (json.RawMessage, error)
}

// Config tunes generation.
type Config struct {
	Temperature     float64       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	FeedbackRetries int           `mapstructure:"feedback_retries"`
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:     0.1,
		Timeout:         20 * time.Second,
		MaxAttempts:     3,
		FeedbackRetries: 1,
	}
}

// Generator builds documents.
type Generator struct {
	model  Model
	logger *slog.Logger
	cfg    Config
}

// NewGenerator creates a generator.
func NewGenerator(m Model, cfg Config, logger *slog.Logger) *Generator {
	if cfg.FeedbackRetries < 0 {
		cfg.FeedbackRetries = 0
	}
	return &Generator{model: m, cfg: cfg, logger: common.OrDefault(logger)}
}

const systemPrompt = `You are a bookkeeping assistant for an Indian business using double-entry accounting.
Produce exactly one voucher as a JSON object. Use only the facts given; never invent amounts, dates or parties.
Rules:
- "amount" is the total value of the voucher including any tax.
- Entries must balance: the sum of debits equals the sum of credits equals "amount".
- Each entry has exactly one of debit or credit greater than zero; use "0" for the other.
- When a GST rate is given, split the tax into a separate "Output GST" (sales) or "Input GST" (purchase) entry.
- When a TDS rate is given, credit "TDS Payable" with the withheld amount.
- Amounts are strings with two decimals. Dates are YYYY-MM-DD.
- Write a short narration starting with "Being".`

var schema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["voucher_type", "date", "counterparty", "amount", "narration", "entries"],
  "properties": {
    "voucher_type": {"enum": ["Receipt", "Payment", "Sales", "Purchase"]},
    "date": {"type": "string", "format": "date"},
    "counterparty": {"type": "string"},
    "amount": {"type": "string"},
    "mode": {"type": "string"},
    "gst_rate": {"type": ["string", "null"]},
    "tds_rate": {"type": ["string", "null"]},
    "narration": {"type": "string"},
    "entries": {
      "type": "array",
      "minItems": 2,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["ledger", "debit", "credit"],
        "properties": {
          "ledger": {"type": "string"},
          "debit": {"type": "string"},
          "credit": {"type": "string"}
        }
      }
    }
  }
}`)

// wireDocument is the reply format. Unknown fields are rejected.
type wireDocument struct {
	GSTRate      *decimal.Decimal `json:"gst_rate"`
	TDSRate      *decimal.Decimal `json:"tds_rate"`
	VoucherType  string           `json:"voucher_type"`
	Date         string           `json:"date"`
	Counterparty string           `json:"counterparty"`
	Mode         string           `json:"mode"`
	Narration    string           `json:"narration"`
	Amount       decimal.Decimal  `json:"amount"`
	Entries      []model.Entry    `json:"entries"`
}

// Generate asks the model for a voucher matching params. A reply that fails
// validation is sent back once with the problems listed.
func (g *Generator) Generate(ctx context.Context, params *model.ParameterSet, intent model.Intent) (*model.Document, error) {
	if !intent.CreatesVoucher() {
		return nil, common.NewValidationError("NOT_A_VOUCHER", fmt.Sprintf("%s does not produce a document", intent), nil)
	}

	prompt := buildPrompt(params, intent)
	var problems []string

	for round := 0; round <= g.cfg.FeedbackRetries; round++ {
		req := llm.GenerateRequest{
			Prompt:      withFeedback(prompt, problems),
			System:      systemPrompt,
			Schema:      schema,
			Temperature: g.cfg.Temperature,
			MaxAttempts: g.cfg.MaxAttempts,
			Timeout:     g.cfg.Timeout,
		}

		raw, err := g.model.Generate(ctx, req)
		if err != nil {
			return nil, err
		}

		doc, decodeErr := decode(raw)
		if decodeErr != nil {
			problems = []string{decodeErr.Error()}
		} else {
			problems = append(doc.Validate(), consistency(doc, params, intent)...)
		}
		if len(problems) == 0 {
			return doc, nil
		}

		g.logger.Warn("generated document rejected",
			"intent", intent.String(),
			"round", round+1,
			"problems", strings.Join(problems, "; "))
	}

	return nil, common.NewSystemError(CodeGenerationFailed,
		"could not produce a valid voucher for this command",
		fmt.Errorf("last problems: %s", strings.Join(problems, "; "))).
		WithSuggestions("try again, or rephrase the command with the amount, party and date")
}

func decode(raw json.RawMessage) (*model.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var wire wireDocument
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("reply does not match the schema: %w", err)
	}

	date, err := time.Parse(time.DateOnly, wire.Date)
	if err != nil {
		return nil, fmt.Errorf("date %q is not YYYY-MM-DD", wire.Date)
	}

	return &model.Document{
		VoucherType:  model.VoucherType(wire.VoucherType),
		Date:         date,
		Counterparty: strings.TrimSpace(wire.Counterparty),
		Amount:       wire.Amount,
		Mode:         wire.Mode,
		GSTRate:      wire.GSTRate,
		TDSRate:      wire.TDSRate,
		Narration:    strings.TrimSpace(wire.Narration),
		Entries:      wire.Entries,
	}, nil
}

// consistency checks the document against what the operator actually said.
func consistency(doc *model.Document, params *model.ParameterSet, intent model.Intent) []string {
	var problems []string

	if want := intent.VoucherType(); doc.VoucherType != want {
		problems = append(problems, fmt.Sprintf("voucher_type must be %s, got %s", want, doc.VoucherType))
	}
	if amount, ok := params.Amount(); ok && !doc.Amount.Equal(amount) {
		problems = append(problems, fmt.Sprintf("amount must be %s, got %s", amount.StringFixed(2), doc.Amount.StringFixed(2)))
	}
	if cp, ok := params.String(model.FieldCounterparty); ok && !strings.EqualFold(doc.Counterparty, cp) {
		problems = append(problems, fmt.Sprintf("counterparty must be %q, got %q", cp, doc.Counterparty))
	}
	if date, ok := params.Date(); ok && date.Format(time.DateOnly) != doc.Date.Format(time.DateOnly) {
		problems = append(problems, fmt.Sprintf("date must be %s, got %s", date.Format(time.DateOnly), doc.Date.Format(time.DateOnly)))
	}
	if mode, ok := params.String(model.FieldMode); ok && !strings.EqualFold(doc.Mode, mode) {
		problems = append(problems, fmt.Sprintf("mode must be %s, got %q", mode, doc.Mode))
	}
	problems = append(problems, rateMatches("gst_rate", params, model.FieldGSTRate, doc.GSTRate)...)
	problems = append(problems, rateMatches("tds_rate", params, model.FieldTDSRate, doc.TDSRate)...)

	debits := decimal.Zero
	for _, e := range doc.Entries {
		debits = debits.Add(e.Debit)
	}
	if len(doc.Entries) > 0 && !debits.Equal(doc.Amount) {
		problems = append(problems, fmt.Sprintf("entries total %s but amount is %s", debits.StringFixed(2), doc.Amount.StringFixed(2)))
	}
	return problems
}

func rateMatches(name string, params *model.ParameterSet, field string, got *decimal.Decimal) []string {
	want, ok := params.Decimal(field)
	switch {
	case !ok && got == nil:
		return nil
	case !ok:
		return []string{fmt.Sprintf("%s was not given; leave it null", name)}
	case got == nil:
		return []string{fmt.Sprintf("%s must be %s", name, want.String())}
	case !got.Equal(want):
		return []string{fmt.Sprintf("%s must be %s, got %s", name, want.String(), got.String())}
	}
	return nil
}

func buildPrompt(params *model.ParameterSet, intent model.Intent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s voucher.\n", intent.VoucherType())
	if amount, ok := params.Amount(); ok {
		fmt.Fprintf(&b, "Amount: %s\n", amount.StringFixed(2))
	}
	if date, ok := params.Date(); ok {
		fmt.Fprintf(&b, "Date: %s\n", date.Format(time.DateOnly))
	}
	if cp, ok := params.String(model.FieldCounterparty); ok {
		fmt.Fprintf(&b, "Counterparty: %s\n", cp)
	}
	if mode, ok := params.String(model.FieldMode); ok {
		fmt.Fprintf(&b, "Mode: %s\n", mode)
	}
	if rate, ok := params.Decimal(model.FieldGSTRate); ok {
		fmt.Fprintf(&b, "GST rate: %s%%\n", rate.String())
	}
	if rate, ok := params.Decimal(model.FieldTDSRate); ok {
		fmt.Fprintf(&b, "TDS rate: %s%%\n", rate.String())
	}
	if narration, ok := params.String(model.FieldNarration); ok {
		fmt.Fprintf(&b, "Purpose: %s\n", narration)
	}
	return b.String()
}

func withFeedback(prompt string, problems []string) string {
	if len(problems) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\nYour previous reply was invalid:\n")
	for _, p := range problems {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("Return a corrected voucher.\n")
	return b.String()
}
