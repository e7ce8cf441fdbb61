package compliance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

var today = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

type params struct {
	amount  int64
	date    time.Time
	mode    string
	cp      string
	gstRate *int64
	tdsRate *int64
}

func build(intent model.Intent, p params) *model.ParameterSet {
	set := model.NewParameterSet(intent)
	set.Set(&model.ExtractedField{Name: model.FieldAmount, Value: decimal.NewFromInt(p.amount), Confidence: 1})
	date := p.date
	if date.IsZero() {
		date = today
	}
	set.Set(&model.ExtractedField{Name: model.FieldDate, Value: date, Confidence: 1})
	if p.mode != "" {
		set.Set(&model.ExtractedField{Name: model.FieldMode, Value: p.mode, Confidence: 1})
	}
	cp := p.cp
	if cp == "" {
		cp = "HDFC Bank"
	}
	set.Set(&model.ExtractedField{Name: model.FieldCounterparty, Value: cp, Confidence: 1})
	if p.gstRate != nil {
		set.Set(&model.ExtractedField{Name: model.FieldGSTRate, Value: decimal.NewFromInt(*p.gstRate), Confidence: 1})
	}
	if p.tdsRate != nil {
		set.Set(&model.ExtractedField{Name: model.FieldTDSRate, Value: decimal.NewFromInt(*p.tdsRate), Confidence: 1})
	}
	return set
}

func ptr(v int64) *int64 { return &v }

func ruleIDs(result model.ValidationResult) []string {
	ids := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		ids = append(ids, issue.RuleID)
	}
	return ids
}

func TestValidator_Rules(t *testing.T) {
	lockDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	contractor := &model.Entity{Name: "Ravi Builders", Type: model.EntityContractor}

	tests := []struct {
		name     string
		intent   model.Intent
		params   params
		facts    Facts
		cfg      func(*Config)
		wantRule string
		severity model.IssueSeverity
		absent   bool
	}{
		{
			name:     "zero amount blocks",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 0},
			wantRule: RuleAmountPositive,
			severity: model.SeverityBlock,
		},
		{
			name:     "gst rate outside set blocks",
			intent:   model.IntentCreateSalesInvoice,
			params:   params{amount: 1000, gstRate: ptr(15)},
			cfg:      func(c *Config) { c.GSTRegistered = true },
			wantRule: RuleGSTRateAllowed,
			severity: model.SeverityBlock,
		},
		{
			name:     "gst 18 passes",
			intent:   model.IntentCreateSalesInvoice,
			params:   params{amount: 1000, gstRate: ptr(18)},
			cfg:      func(c *Config) { c.GSTRegistered = true },
			wantRule: RuleGSTRateAllowed,
			absent:   true,
		},
		{
			name:     "unregistered business crossing threshold blocks",
			intent:   model.IntentCreateSalesInvoice,
			params:   params{amount: 1_00_000},
			facts:    Facts{TurnoverToDate: decimal.NewFromInt(39_50_000)},
			wantRule: RuleGSTRegistration,
			severity: model.SeverityBlock,
		},
		{
			name:     "registered business is not blocked",
			intent:   model.IntentCreateSalesInvoice,
			params:   params{amount: 1_00_000},
			facts:    Facts{TurnoverToDate: decimal.NewFromInt(39_50_000)},
			cfg:      func(c *Config) { c.GSTRegistered = true },
			wantRule: RuleGSTRegistration,
			absent:   true,
		},
		{
			name:     "contractor payment over threshold without tds blocks",
			intent:   model.IntentCreatePayment,
			params:   params{amount: 50_000, cp: "Ravi Builders"},
			facts:    Facts{Entity: contractor},
			wantRule: RuleTDSWithholding,
			severity: model.SeverityBlock,
		},
		{
			name:     "contractor payment with tds passes",
			intent:   model.IntentCreatePayment,
			params:   params{amount: 50_000, cp: "Ravi Builders", tdsRate: ptr(2)},
			facts:    Facts{Entity: contractor},
			wantRule: RuleTDSWithholding,
			absent:   true,
		},
		{
			name:     "supplier payment needs no tds",
			intent:   model.IntentCreatePayment,
			params:   params{amount: 50_000},
			facts:    Facts{Entity: &model.Entity{Name: "HDFC Bank", Type: model.EntitySupplier}},
			wantRule: RuleTDSWithholding,
			absent:   true,
		},
		{
			name:     "cash receipt at limit blocks",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 2_00_000, mode: "cash"},
			wantRule: RuleCashReceiptLimit,
			severity: model.SeverityBlock,
		},
		{
			name:     "cash receipt below limit passes",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 1_99_999, mode: "cash"},
			wantRule: RuleCashReceiptLimit,
			absent:   true,
		},
		{
			name:     "bank receipt over limit passes",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 5_00_000, mode: "bank"},
			wantRule: RuleCashReceiptLimit,
			absent:   true,
		},
		{
			name:     "cash payment over limit warns",
			intent:   model.IntentCreatePayment,
			params:   params{amount: 10_001, mode: "cash"},
			wantRule: RuleCashPaymentLimit,
			severity: model.SeverityWarn,
		},
		{
			name:     "cash payment at limit passes",
			intent:   model.IntentCreatePayment,
			params:   params{amount: 10_000, mode: "cash"},
			wantRule: RuleCashPaymentLimit,
			absent:   true,
		},
		{
			name:   "opposite voucher same day warns",
			intent: model.IntentCreatePayment,
			params: params{amount: 5000},
			facts: Facts{CounterpartyVouchers: []model.Voucher{{
				Document: model.Document{VoucherType: model.VoucherReceipt, Counterparty: "HDFC Bank", Date: today, Amount: decimal.NewFromInt(5000)},
			}}},
			wantRule: RuleRoundTripping,
			severity: model.SeverityWarn,
		},
		{
			name:   "same direction voucher does not warn",
			intent: model.IntentCreateReceipt,
			params: params{amount: 5000},
			facts: Facts{CounterpartyVouchers: []model.Voucher{{
				Document: model.Document{VoucherType: model.VoucherReceipt, Counterparty: "HDFC Bank", Date: today},
			}}},
			wantRule: RuleRoundTripping,
			absent:   true,
		},
		{
			name:     "future date warns",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 5000, date: today.AddDate(0, 0, 3)},
			wantRule: RuleFutureDate,
			severity: model.SeverityWarn,
		},
		{
			name:     "today is not future",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 5000, date: today.Add(15 * time.Hour)},
			wantRule: RuleFutureDate,
			absent:   true,
		},
		{
			name:     "date before lock warns",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 5000, date: time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)},
			cfg:      func(c *Config) { c.BooksLockDate = &lockDate },
			wantRule: RuleBackdatedEntry,
			severity: model.SeverityWarn,
		},
		{
			name:     "high value is informational",
			intent:   model.IntentCreateReceipt,
			params:   params{amount: 12_00_000, mode: "bank"},
			wantRule: RuleHighValue,
			severity: model.SeverityInfo,
		},
		{
			name:     "queries are never checked",
			intent:   model.IntentQueryBalance,
			params:   params{amount: 0},
			wantRule: RuleAmountPositive,
			absent:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			facts := tt.facts
			facts.Today = today

			result := NewValidator(cfg).Validate(build(tt.intent, tt.params), tt.intent, facts)

			var found *model.ValidationIssue
			for i := range result.Issues {
				if result.Issues[i].RuleID == tt.wantRule {
					found = &result.Issues[i]
				}
			}
			if tt.absent {
				assert.Nil(t, found, "unexpected %s in %v", tt.wantRule, ruleIDs(result))
				return
			}
			require.NotNil(t, found, "missing %s in %v", tt.wantRule, ruleIDs(result))
			assert.Equal(t, tt.severity, found.Severity)
			assert.NotEmpty(t, found.Message)
		})
	}
}

func TestValidator_SkipsRateAlreadyBlockedByExtraction(t *testing.T) {
	set := build(model.IntentCreateSalesInvoice, params{amount: 1000})
	set.Set(&model.ExtractedField{
		Name:  model.FieldGSTRate,
		Value: decimal.NewFromInt(15),
		Issues: []model.ValidationIssue{{
			RuleID: "gst_rate_invalid", Severity: model.SeverityBlock, Field: model.FieldGSTRate,
		}},
	})

	cfg := DefaultConfig()
	cfg.GSTRegistered = true
	result := NewValidator(cfg).Validate(set, model.IntentCreateSalesInvoice, Facts{Today: today})

	assert.NotContains(t, ruleIDs(result), RuleGSTRateAllowed)
}

func TestValidator_GSTSuggestionUsesConfiguredRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GSTRegistered = true
	cfg.AllowedGSTRates = []decimal.Decimal{decimal.NewFromInt(5), decimal.NewFromInt(18)}

	set := build(model.IntentCreateSalesInvoice, params{amount: 1000, gstRate: ptr(12)})
	result := NewValidator(cfg).Validate(set, model.IntentCreateSalesInvoice, Facts{Today: today})

	require.Len(t, result.Blocking(), 1)
	assert.Equal(t, RuleGSTRateAllowed, result.Blocking()[0].RuleID)
	assert.Equal(t, "use 5% or 18%", result.Blocking()[0].SuggestedAction)
}

func TestRateChoices(t *testing.T) {
	assert.Equal(t, "18%", rateChoices([]decimal.Decimal{decimal.NewFromInt(18)}))
	assert.Equal(t, "0%, 5%, 12%, 18% or 28%", rateChoices(DefaultConfig().AllowedGSTRates))
}

func TestValidator_Deterministic(t *testing.T) {
	lockDate := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.BooksLockDate = &lockDate
	v := NewValidator(cfg)

	set := build(model.IntentCreatePayment, params{amount: 15_00_000, mode: "cash", cp: "Ravi Builders"})
	facts := Facts{
		Today:  today,
		Entity: &model.Entity{Name: "Ravi Builders", Type: model.EntityProfessional},
		CounterpartyVouchers: []model.Voucher{{
			Document: model.Document{VoucherType: model.VoucherSales, Counterparty: "Ravi Builders", Date: today},
		}},
	}

	first := v.Validate(set, model.IntentCreatePayment, facts)
	second := v.Validate(set.Clone(), model.IntentCreatePayment, facts)

	assert.Equal(t, first, second)
	assert.True(t, first.HasBlockingErrors())
	assert.Equal(t, model.SeverityBlock, first.Issues[0].Severity)
	assert.Equal(t, model.SeverityInfo, first.Issues[len(first.Issues)-1].Severity)
	assert.ElementsMatch(t,
		[]string{RuleTDSWithholding, RuleCashPaymentLimit, RuleRoundTripping, RuleBackdatedEntry, RuleHighValue},
		ruleIDs(first))
}

func TestValidator_CustomRules(t *testing.T) {
	calls := 0
	rule := Rule{
		ID:      "always",
		Applies: func(model.Intent) bool { return true },
		Check: func(*model.ParameterSet, model.Intent, Facts, Config) []model.ValidationIssue {
			calls++
			return []model.ValidationIssue{{RuleID: "always", Severity: model.SeverityWarn, Message: "checked"}}
		},
	}

	result := NewValidator(Config{}, rule).Validate(build(model.IntentHelp, params{}), model.IntentHelp, Facts{})

	assert.Equal(t, 1, calls)
	require.Len(t, result.Issues, 1)
	assert.False(t, result.HasBlockingErrors())
}

func TestNewValidator_FillsDefaults(t *testing.T) {
	cfg := NewValidator(Config{}).Config()
	def := DefaultConfig()

	assert.True(t, def.CashReceiptLimit.Equal(cfg.CashReceiptLimit))
	assert.Len(t, cfg.AllowedGSTRates, 5)
	assert.Equal(t, time.April, cfg.FiscalYearStartMonth)
}

func TestFormatIndian(t *testing.T) {
	tests := map[string]string{
		"0":         "0",
		"999":       "999",
		"1000":      "1,000",
		"200000":    "2,00,000",
		"4000000":   "40,00,000",
		"123456789": "12,34,56,789",
		"1500.5":    "1,500.50",
		"-250000":   "-2,50,000",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, formatIndian(decimal.RequireFromString(in)))
		})
	}
}

func TestConfig_FiscalYearStart(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), cfg.FiscalYearStart(today))
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		cfg.FiscalYearStart(time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)))
}
