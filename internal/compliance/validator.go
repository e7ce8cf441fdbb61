// Package compliance applies statutory and business rules to extracted parameters.
package compliance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Facts is everything rules may consult besides the parameters. It is loaded
// before validation so rules stay pure.
type Facts struct {
	Today                time.Time
	Entity               *model.Entity
	TurnoverToDate       decimal.Decimal
	CounterpartyVouchers []model.Voucher
}

// Validator runs the rule table.
type Validator struct {
	rules []Rule
	cfg   Config
}

// NewValidator uses rules, or DefaultRules when none are given.
func NewValidator(cfg Config, rules ...Rule) *Validator {
	def := DefaultConfig()
	if len(cfg.AllowedGSTRates) == 0 {
		cfg.AllowedGSTRates = def.AllowedGSTRates
	}
	if cfg.CashReceiptLimit.IsZero() {
		cfg.CashReceiptLimit = def.CashReceiptLimit
	}
	if cfg.CashPaymentLimit.IsZero() {
		cfg.CashPaymentLimit = def.CashPaymentLimit
	}
	if cfg.TDSThreshold.IsZero() {
		cfg.TDSThreshold = def.TDSThreshold
	}
	if cfg.GSTRegistrationLimit.IsZero() {
		cfg.GSTRegistrationLimit = def.GSTRegistrationLimit
	}
	if cfg.HighValueThreshold.IsZero() {
		cfg.HighValueThreshold = def.HighValueThreshold
	}
	if cfg.FiscalYearStartMonth == 0 {
		cfg.FiscalYearStartMonth = def.FiscalYearStartMonth
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Validator{rules: rules, cfg: cfg}
}

// Config returns the effective thresholds.
func (v *Validator) Config() Config { return v.cfg }

// Validate runs every applicable rule. The result is sorted, so equal inputs
// always produce equal results.
func (v *Validator) Validate(params *model.ParameterSet, intent model.Intent, facts Facts) model.ValidationResult {
	var issues []model.ValidationIssue
	for _, rule := range v.rules {
		if rule.Applies != nil && !rule.Applies(intent) {
			continue
		}
		issues = append(issues, rule.Check(params, intent, facts, v.cfg)...)
	}
	model.SortIssues(issues)
	return model.ValidationResult{Issues: issues}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
